package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidateToken(t *testing.T) {
	manager := NewJWTManager("test-secret", time.Hour)

	token, err := manager.GenerateToken("user-1", "admin@example.com", "admin")
	require.NoError(t, err)

	claims, err := manager.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "admin@example.com", claims.Email)
	assert.Equal(t, "admin", claims.Role)
	assert.False(t, claims.Impersonated)
}

func TestImpersonationTokenIsClientScoped(t *testing.T) {
	manager := NewJWTManager("test-secret", time.Hour)

	token, err := manager.GenerateImpersonationToken("client-1", "client@example.com", "admin-9")
	require.NoError(t, err)

	claims, err := manager.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "client", claims.Role, "borrowed token must never carry the admin role")
	assert.True(t, claims.Impersonated)
	assert.Equal(t, "admin-9", claims.ImpersonatorID)
}

func TestValidateRejectsForeignSecret(t *testing.T) {
	token, err := NewJWTManager("secret-a", time.Hour).GenerateToken("u", "e@example.com", "client")
	require.NoError(t, err)

	_, err = NewJWTManager("secret-b", time.Hour).ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	manager := NewJWTManager("test-secret", -time.Minute)

	token, err := manager.GenerateToken("u", "e@example.com", "client")
	require.NoError(t, err)

	_, err = manager.ValidateToken(token)
	assert.Error(t, err)
}
