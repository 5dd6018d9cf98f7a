package jwttoken

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "verigate/pkg/domain-errors"
)

var service = NewService("test-signing-key", "test-issuer", "verigate")

func TestIssueAndValidate(t *testing.T) {
	token, err := service.IssueToken("user-1", "org-1", time.Hour)
	require.NoError(t, err)

	claims, err := service.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "org-1", claims.OrganizationID)
	assert.NotEmpty(t, claims.JTI)
}

func TestValidateToken_Expired(t *testing.T) {
	token, err := service.IssueToken("user-1", "org-1", -time.Hour)
	require.NoError(t, err)

	_, err = service.ValidateToken(token)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	assert.Contains(t, err.Error(), "token has expired")
}

func TestValidateToken_Rejects(t *testing.T) {
	t.Run("garbage", func(t *testing.T) {
		_, err := service.ValidateToken("invalid-token-string")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("wrong key", func(t *testing.T) {
		token, err := NewService("other-key", "test-issuer", "verigate").IssueToken("u", "o", time.Hour)
		require.NoError(t, err)
		_, err = service.ValidateToken(token)
		assert.Error(t, err)
	})

	t.Run("wrong audience", func(t *testing.T) {
		token, err := NewService("test-signing-key", "test-issuer", "elsewhere").IssueToken("u", "o", time.Hour)
		require.NoError(t, err)
		_, err = service.ValidateToken(token)
		assert.Error(t, err)
	})

	t.Run("unexpected algorithm", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{UserID: "u", OrganizationID: "o"}).
			SignedString([]byte("test-signing-key"))
		require.NoError(t, err)
		_, err = service.ValidateToken(token)
		assert.Error(t, err)
	})
}
