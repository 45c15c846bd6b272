package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodePayload(t *testing.T) {
	svc := NewService("file-secret", "access-secret")

	signed, err := svc.EncodePayload(map[string]any{"expiration_date": "2026-01-02T03:04:05.000Z"})
	require.NoError(t, err)

	claims, err := svc.DecodePayload(signed)
	require.NoError(t, err)
	assert.Equal(t, "2026-01-02T03:04:05.000Z", claims["expiration_date"])
}

func TestDecodePayload_RejectsOtherSecret(t *testing.T) {
	signed, err := NewService("one", "").EncodePayload(map[string]any{"a": "b"})
	require.NoError(t, err)

	_, err = NewService("two", "").DecodePayload(signed)
	require.Error(t, err)
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)
}

func TestDecodePayload_RejectsNoneAlg(t *testing.T) {
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"a": "b"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewService("secret", "").DecodePayload(unsigned)
	require.Error(t, err)
}

func TestMissingSecret(t *testing.T) {
	svc := NewService("", "")

	_, err := svc.EncodePayload(map[string]any{})
	assert.ErrorIs(t, err, ErrNoSecret)
	_, err = svc.DecodePayload("x")
	assert.ErrorIs(t, err, ErrNoSecret)
	_, err = svc.ValidateAccessToken("x")
	assert.ErrorIs(t, err, ErrNoSecret)
}

func TestAccessToken(t *testing.T) {
	svc := NewService("", "access-secret")

	signed, err := svc.SignAccessToken("user-1", "ws-1", time.Hour)
	require.NoError(t, err)

	claims, err := svc.ValidateAccessToken(signed)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID())
	assert.Equal(t, "ws-1", claims.WorkspaceID)
}

func TestAccessToken_Expired(t *testing.T) {
	svc := NewService("", "access-secret")

	signed, err := svc.SignAccessToken("user-1", "ws-1", -time.Hour)
	require.NoError(t, err)

	_, err = svc.ValidateAccessToken(signed)
	require.Error(t, err)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestAccessToken_RequiresWorkspace(t *testing.T) {
	secret := []byte("access-secret")
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(secret)
	require.NoError(t, err)

	_, err = NewService("", string(secret)).ValidateAccessToken(signed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing sub or workspaceId")
}

func TestAccessToken_FileTokenIsNotAccepted(t *testing.T) {
	svc := NewService("file-secret", "access-secret")
	signed, err := svc.EncodePayload(map[string]any{"sub": "user-1", "workspaceId": "ws-1"})
	require.NoError(t, err)

	_, err = svc.ValidateAccessToken(signed)
	require.Error(t, err)
}
