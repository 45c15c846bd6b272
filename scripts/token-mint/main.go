// Command token-mint issues credentials for local development:
//
//	token-mint -workspace <id> -secret <access secret>             HS256 access token
//	token-mint -workspace <id> -key key.pem -issuer https://idp     RS256 OIDC-style token
//	token-mint -workspace <id> -file-secret <secret> -file a/b.pdf  signed file URL path
package main

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"flag"
	"fmt"
	"os"
	"os/user"
	"strings"
	"time"

	"crm-graphql/internal/files"
	"crm-graphql/internal/token"

	"github.com/golang-jwt/jwt/v5"
)

func main() {
	currentUser, err := user.Current()
	if err != nil {
		currentUser = &user.User{Username: "user-1"}
	}

	workspace := flag.String("workspace", "", "Workspace id (required)")
	subject := flag.String("subject", currentUser.Username, "User id placed in the sub claim")
	expires := flag.Duration("expires", time.Hour, "Token lifetime (e.g. 1h)")
	secret := flag.String("secret", os.Getenv("CRMGQL_SERVER_AUTH_ACCESS_TOKEN_SECRET"), "Access token secret (HS256 mode)")

	privateKeyPath := flag.String("key", "", "RSA private key (PEM); switches to RS256 OIDC mode")
	issuer := flag.String("issuer", "https://localhost:9000", "JWT issuer (OIDC mode)")
	audience := flag.String("audience", "crm-graphql", "JWT audience, comma-separated (OIDC mode)")
	workspaceClaim := flag.String("workspace-claim", "workspace_id", "Claim carrying the workspace (OIDC mode)")
	kid := flag.String("kid", "local-key", "JWT key ID (OIDC mode)")

	fileSecret := flag.String("file-secret", os.Getenv("CRMGQL_SERVER_AUTH_FILE_TOKEN_SECRET"), "File token secret (file mode)")
	filePath := flag.String("file", "", "folder/filename to sign; switches to file mode")
	flag.Parse()

	if *workspace == "" {
		exitErr(fmt.Errorf("-workspace is required"))
	}

	var out string
	switch {
	case *filePath != "":
		out, err = signFilePath(*fileSecret, *workspace, *filePath, *expires)
	case *privateKeyPath != "":
		out, err = mintOIDC(*privateKeyPath, *issuer, *audience, *kid, *workspaceClaim, *subject, *workspace, *expires)
	default:
		out, err = token.NewService("", *secret).SignAccessToken(*subject, *workspace, *expires)
	}
	if err != nil {
		exitErr(err)
	}
	fmt.Println(out)
}

func signFilePath(secret, workspace, path string, ttl time.Duration) (string, error) {
	folder, filename, ok := strings.Cut(strings.Trim(path, "/"), "/")
	if !ok || folder == "" || filename == "" {
		return "", fmt.Errorf("-file must look like folder/filename")
	}
	signed, err := token.NewService(secret, "").EncodePayload(map[string]any{
		files.ClaimExpirationDate: time.Now().Add(ttl).UTC().Format(time.RFC3339),
		files.ClaimWorkspaceID:    workspace,
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("/files/%s/%s?token=%s", folder, filename, signed), nil
}

func mintOIDC(keyPath, issuer, audience, kid, workspaceClaim, subject, workspace string, ttl time.Duration) (string, error) {
	privateKey, err := loadPrivateKey(keyPath)
	if err != nil {
		return "", err
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":          issuer,
		"sub":          subject,
		"aud":          splitList(audience),
		"iat":          now.Unix(),
		"exp":          now.Add(ttl).Unix(),
		"nbf":          now.Add(-1 * time.Minute).Unix(),
		workspaceClaim: workspace,
	}
	t := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	t.Header["kid"] = kid
	return t.SignedString(privateKey)
}

func loadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode private key pem")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	rsaKey, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("unsupported private key type")
	}
	return rsaKey, nil
}

func exitErr(err error) {
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
