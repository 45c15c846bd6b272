package middleware

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"crm-graphql/internal/logging"
	"crm-graphql/internal/observability"
	"crm-graphql/internal/token"

	"github.com/coreos/go-oidc/v3/oidc"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
)

type authContextKey struct{}

// AuthContext is the authenticated caller of a request.
type AuthContext struct {
	WorkspaceID string
	UserID      string
	Issuer      string
	Audience    []string
	Claims      map[string]interface{}
}

// AuthFromContext returns the auth context from a request context.
func AuthFromContext(ctx context.Context) (AuthContext, bool) {
	auth, ok := ctx.Value(authContextKey{}).(AuthContext)
	return auth, ok
}

// WithAuth stores auth in ctx.
func WithAuth(ctx context.Context, auth AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// WorkspaceFromContext returns the workspace of the authenticated caller.
func WorkspaceFromContext(ctx context.Context) (string, bool) {
	auth, ok := AuthFromContext(ctx)
	if !ok || auth.WorkspaceID == "" {
		return "", false
	}
	return auth.WorkspaceID, true
}

// UserIDFromContext returns the authenticated user id, or "".
func UserIDFromContext(ctx context.Context) string {
	auth, _ := AuthFromContext(ctx)
	return auth.UserID
}

// authFailure is a rejected credential with the labels used for metrics.
type authFailure struct {
	reason    string // metric label
	errorType string // token validation error label, empty when not a token error
	message   string // client-facing
	err       error
}

// authenticator turns a bearer token into an AuthContext.
type authenticator func(ctx context.Context, bearer string) (AuthContext, *authFailure)

func authMiddleware(name string, authenticate authenticator, metrics *observability.SecurityMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			endpoint := r.URL.Path
			if metrics != nil {
				metrics.RecordAuthAttempt(ctx, endpoint)
			}

			fail := func(f *authFailure) {
				if metrics != nil {
					metrics.RecordAuthFailure(ctx, endpoint, f.reason)
					metrics.RecordUnauthorizedAttempt(ctx, endpoint, f.reason)
					if f.errorType != "" {
						metrics.RecordTokenValidationError(ctx, f.errorType)
					}
				}
				attrs := []any{
					slog.String("auth", name),
					slog.String("reason", f.reason),
					slog.String("endpoint", endpoint),
					slog.String("remote_addr", r.RemoteAddr),
				}
				if f.err != nil {
					attrs = append(attrs, slog.String("error", f.err.Error()))
				}
				logging.FromContext(ctx).Warn("authentication failed", attrs...)
				writeUnauthorized(w, f.message)
			}

			bearer := bearerToken(r.Header.Get("Authorization"))
			if bearer == "" {
				fail(&authFailure{reason: "missing_token", message: "missing bearer token"})
				return
			}
			auth, failure := authenticate(ctx, bearer)
			if failure != nil {
				fail(failure)
				return
			}

			if metrics != nil {
				metrics.RecordAuthSuccess(ctx, endpoint, auth.Issuer)
			}
			logging.FromContext(ctx).Debug("authentication successful",
				slog.String("auth", name),
				slog.String("user_id", auth.UserID),
				slog.String("workspace_id", auth.WorkspaceID),
			)
			if span := trace.SpanFromContext(ctx); span.IsRecording() {
				span.SetAttributes(
					attribute.String("auth.subject", auth.UserID),
					attribute.String("crm.workspace_id", auth.WorkspaceID),
					attribute.Bool("auth.authenticated", true),
				)
			}

			next.ServeHTTP(w, r.WithContext(WithAuth(ctx, auth)))
		})
	}
}

// AccessTokenValidator verifies workspace access tokens.
type AccessTokenValidator interface {
	ValidateAccessToken(tokenString string) (token.AccessClaims, error)
}

// AccessTokenAuthMiddleware authenticates HS256 workspace access tokens.
func AccessTokenAuthMiddleware(validator AccessTokenValidator, metrics *observability.SecurityMetrics) (func(http.Handler) http.Handler, error) {
	if validator == nil {
		return nil, errors.New("access token auth requires a validator")
	}
	return authMiddleware("access_token", func(_ context.Context, bearer string) (AuthContext, *authFailure) {
		claims, err := validator.ValidateAccessToken(bearer)
		if err != nil {
			return AuthContext{}, &authFailure{
				reason:    "invalid_token",
				errorType: "verification_failed",
				message:   "invalid token",
				err:       err,
			}
		}
		return AuthContext{
			WorkspaceID: claims.WorkspaceID,
			UserID:      claims.UserID(),
			Issuer:      claims.Issuer,
			Audience:    claims.Audience,
		}, nil
	}, metrics), nil
}

// OIDCAuthConfig controls OIDC/JWKS validation behavior.
type OIDCAuthConfig struct {
	Enabled        bool
	IssuerURL      string
	Audience       string
	ClockSkew      time.Duration
	SkipTLSVerify  bool
	CAFile         string
	WorkspaceClaim string
}

// OIDCAuthMiddleware validates identity provider tokens. The workspace is
// read from cfg.WorkspaceClaim.
func OIDCAuthMiddleware(cfg OIDCAuthConfig, logger *logging.Logger, metrics *observability.SecurityMetrics) (func(http.Handler) http.Handler, error) {
	if cfg.IssuerURL == "" || cfg.Audience == "" {
		return nil, errors.New("oidc auth enabled but issuer/audience not configured")
	}
	if cfg.ClockSkew == 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	if cfg.WorkspaceClaim == "" {
		cfg.WorkspaceClaim = "workspace_id"
	}

	issuerURL, err := url.Parse(cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid oidc issuer url: %w", err)
	}
	if issuerURL.Scheme != "https" {
		return nil, errors.New("oidc issuer url must use https")
	}
	if logger != nil && cfg.SkipTLSVerify {
		logger.Warn("oidc tls verification is disabled; enable only for local development",
			slog.String("issuer", cfg.IssuerURL),
		)
	}

	httpClient, err := newOIDCHTTPClient(cfg)
	if err != nil {
		return nil, err
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)
	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize oidc provider: %w", err)
	}
	verifier := provider.Verifier(&oidc.Config{ClientID: cfg.Audience})

	return authMiddleware("oidc", func(ctx context.Context, bearer string) (AuthContext, *authFailure) {
		idToken, err := verifier.Verify(ctx, bearer)
		if err != nil {
			return AuthContext{}, &authFailure{reason: "invalid_token", errorType: "verification_failed", message: "invalid token", err: err}
		}
		claims := map[string]interface{}{}
		if err := idToken.Claims(&claims); err != nil {
			return AuthContext{}, &authFailure{reason: "claims_parse_failed", errorType: "claims_parse_failed", message: "invalid token claims", err: err}
		}
		return oidcAuthContext(claims, cfg, time.Now())
	}, metrics), nil
}

// oidcAuthContext checks the time claims and extracts the workspace.
func oidcAuthContext(claims map[string]interface{}, cfg OIDCAuthConfig, now time.Time) (AuthContext, *authFailure) {
	if err := validateTimeClaims(claims, cfg.ClockSkew, now); err != nil {
		return AuthContext{}, &authFailure{reason: "time_validation_failed", errorType: "time_validation_failed", message: "invalid token", err: err}
	}
	workspaceID, _ := claims[cfg.WorkspaceClaim].(string)
	if workspaceID == "" {
		return AuthContext{}, &authFailure{reason: "missing_workspace", message: "token has no workspace"}
	}
	subject, _ := claims["sub"].(string)
	return AuthContext{
		WorkspaceID: workspaceID,
		UserID:      subject,
		Issuer:      cfg.IssuerURL,
		Audience:    extractAudience(claims),
		Claims:      claims,
	}, nil
}

func newOIDCHTTPClient(cfg OIDCAuthConfig) (*http.Client, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: cfg.SkipTLSVerify}
	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read oidc CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("failed to parse oidc CA file %s", cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}
	return &http.Client{
		Transport: &http.Transport{TLSClientConfig: tlsConfig},
		Timeout:   10 * time.Second,
	}, nil
}

func bearerToken(value string) string {
	scheme, rest, ok := strings.Cut(value, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(rest)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func validateTimeClaims(claims map[string]interface{}, skew time.Duration, now time.Time) error {
	if exp, ok := numericDate(claims["exp"]); ok && now.After(exp.Add(skew)) {
		return errors.New("token expired")
	}
	if nbf, ok := numericDate(claims["nbf"]); ok && now.Add(skew).Before(nbf) {
		return errors.New("token not valid yet")
	}
	return nil
}

func numericDate(value interface{}) (time.Time, bool) {
	switch v := value.(type) {
	case float64:
		return time.Unix(int64(v), 0), true
	case int64:
		return time.Unix(v, 0), true
	case int:
		return time.Unix(int64(v), 0), true
	case json.Number:
		parsed, err := v.Int64()
		if err != nil {
			return time.Time{}, false
		}
		return time.Unix(parsed, 0), true
	case string:
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return time.Time{}, false
		}
		return time.Unix(parsed, 0), true
	default:
		return time.Time{}, false
	}
}

func extractAudience(claims map[string]interface{}) []string {
	switch val := claims["aud"].(type) {
	case string:
		return []string{val}
	case []string:
		return val
	case []interface{}:
		result := make([]string, 0, len(val))
		for _, item := range val {
			if str, ok := item.(string); ok {
				result = append(result, str)
			}
		}
		return result
	default:
		return nil
	}
}
