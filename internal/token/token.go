// Package token signs and verifies the HS256 tokens used for file URLs and
// workspace access.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoSecret is returned when a token is requested but no secret is configured.
var ErrNoSecret = errors.New("token secret is not configured")

// AccessClaims are the claims of a workspace access token.
type AccessClaims struct {
	WorkspaceID string `json:"workspaceId"`
	jwt.RegisteredClaims
}

// UserID returns the token subject.
func (c AccessClaims) UserID() string {
	return c.Subject
}

// Service signs and verifies tokens.
type Service struct {
	fileSecret   []byte
	accessSecret []byte
	leeway       time.Duration
}

// NewService creates a token service. Either secret may be empty, in which
// case the matching operations fail with ErrNoSecret.
func NewService(fileSecret, accessSecret string) *Service {
	return &Service{
		fileSecret:   []byte(fileSecret),
		accessSecret: []byte(accessSecret),
		leeway:       30 * time.Second,
	}
}

// EncodePayload signs claims with the file token secret.
func (s *Service) EncodePayload(claims map[string]any) (string, error) {
	if len(s.fileSecret) == 0 {
		return "", ErrNoSecret
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims(claims)).SignedString(s.fileSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign payload: %w", err)
	}
	return signed, nil
}

// DecodePayload verifies a token produced by EncodePayload and returns its claims.
func (s *Service) DecodePayload(tokenString string) (map[string]any, error) {
	if len(s.fileSecret) == 0 {
		return nil, ErrNoSecret
	}
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, keyFunc(s.fileSecret),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(s.leeway),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	return claims, nil
}

// ValidateAccessToken verifies a workspace access token. The token must
// carry a subject and a workspace id.
func (s *Service) ValidateAccessToken(tokenString string) (AccessClaims, error) {
	if len(s.accessSecret) == 0 {
		return AccessClaims{}, ErrNoSecret
	}
	var claims AccessClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, keyFunc(s.accessSecret),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(s.leeway),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return AccessClaims{}, fmt.Errorf("invalid access token: %w", err)
	}
	if claims.Subject == "" || claims.WorkspaceID == "" {
		return AccessClaims{}, errors.New("invalid access token: missing sub or workspaceId")
	}
	return claims, nil
}

// SignAccessToken issues an access token. Used by tooling and tests.
func (s *Service) SignAccessToken(userID, workspaceID string, ttl time.Duration) (string, error) {
	if len(s.accessSecret) == 0 {
		return "", ErrNoSecret
	}
	now := time.Now()
	claims := AccessClaims{
		WorkspaceID: workspaceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.accessSecret)
}

func keyFunc(secret []byte) jwt.Keyfunc {
	return func(t *jwt.Token) (any, error) {
		return secret, nil
	}
}
