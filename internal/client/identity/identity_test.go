package identity

import (
	"testing"
	"time"

	"streamcast/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mintToken(t *testing.T, name, role string) string {
	t.Helper()
	claims := &Claims{
		DisplayName: name,
		Role:        role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("portal-secret"))
	require.NoError(t, err)
	return token
}

func TestFromTokenDecodesIdentity(t *testing.T) {
	id, err := FromToken(mintToken(t, "alice", "streamer"))
	require.NoError(t, err)
	assert.Equal(t, "alice", id.DisplayName)
	assert.Equal(t, domain.RoleStreamer, id.Role)
}

func TestFromTokenDefaultsToViewer(t *testing.T) {
	id, err := FromToken(mintToken(t, "bob", ""))
	require.NoError(t, err)
	assert.Equal(t, domain.RoleViewer, id.Role)
}

func TestFromTokenRejectsGarbage(t *testing.T) {
	_, err := FromToken("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestFromTokenRejectsMissingName(t *testing.T) {
	_, err := FromToken(mintToken(t, "", "viewer"))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestFromTokenRejectsUnknownRole(t *testing.T) {
	_, err := FromToken(mintToken(t, "carol", "admin"))
	assert.ErrorIs(t, err, ErrInvalidToken)
}
