package service_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/boddenberg/lead-router-go/internal/domain"
	"github.com/boddenberg/lead-router-go/internal/infra/cache"
	"github.com/boddenberg/lead-router-go/internal/service"
)

const secret = "test-secret-test-secret-test-secret"

func TestAuthService_IssueAndValidate(t *testing.T) {
	auth := service.NewAuthService(secret, time.Minute, nil, nil, zap.NewNop())

	token, err := auth.IssueToken("ops@example.com", "ws-1", "admin")
	require.NoError(t, err)

	claims, err := auth.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", claims.Sub)
	assert.Equal(t, "ws-1", claims.WorkspaceID)
	assert.Equal(t, "admin", claims.Role)
}

func TestAuthService_RejectsForeignAndExpiredTokens(t *testing.T) {
	auth := service.NewAuthService(secret, time.Minute, nil, nil, zap.NewNop())
	other := service.NewAuthService("another-secret-another-secret-xx", time.Minute, nil, nil, zap.NewNop())
	expired := service.NewAuthService(secret, -time.Minute, nil, nil, zap.NewNop())

	foreign, err := other.IssueToken("x", "", "admin")
	require.NoError(t, err)
	old, err := expired.IssueToken("x", "", "admin")
	require.NoError(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "x", "type": "access", "iss": "lead-router"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for _, tok := range []string{foreign, old, unsigned, "garbage"} {
		_, err := auth.ValidateAccessToken(tok)
		var uerr *domain.ErrUnauthorized
		assert.ErrorAs(t, err, &uerr)
	}
}

func TestAuthService_APIKeys(t *testing.T) {
	key, hash, err := service.GenerateAPIKey()
	require.NoError(t, err)
	assert.Contains(t, key, "lr_")

	auth := service.NewAuthService(secret, time.Minute, []string{hash}, cache.New[bool](time.Minute), zap.NewNop())

	require.NoError(t, auth.ValidateAPIKey(key))
	// Second call is served from the cache.
	require.NoError(t, auth.ValidateAPIKey(key))

	var uerr *domain.ErrUnauthorized
	assert.ErrorAs(t, auth.ValidateAPIKey("lr_wrong"), &uerr)
	assert.ErrorAs(t, auth.ValidateAPIKey(""), &uerr)
}
