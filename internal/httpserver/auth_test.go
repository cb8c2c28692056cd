package httpserver

import (
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/ronappleton/lmnp-workflow/internal/config"
	"github.com/ronappleton/lmnp-workflow/internal/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret, subject string, expires time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(expires),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func authConfig() config.Config {
	cfg := config.Default()
	cfg.Auth.JWTSecret = testSecret
	return cfg
}

func TestActorMiddlewareRequiresToken(t *testing.T) {
	ts := setupTestServer(t, authConfig(), nil)

	rec := ts.do(t, http.MethodGet, "/v1/steps", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/steps", nil, "Authorization", "Bearer not-a-token")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	wrongKey := signToken(t, "other", "user-1", time.Now().Add(time.Hour))
	rec = ts.do(t, http.MethodGet, "/v1/steps", nil, "Authorization", "Bearer "+wrongKey)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	expired := signToken(t, testSecret, "user-1", time.Now().Add(-time.Hour))
	rec = ts.do(t, http.MethodGet, "/v1/steps", nil, "Authorization", "Bearer "+expired)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestActorMiddlewareUsesTokenSubject(t *testing.T) {
	ts := setupTestServer(t, authConfig(), nil)
	auth := "Bearer " + signToken(t, testSecret, "conseiller-9", time.Now().Add(time.Hour))

	rec := ts.do(t, http.MethodPost, "/v1/lots/L1/workflow", map[string]string{"workflow_type": "vendeur"}, "Authorization", auth)
	require.Equal(t, http.StatusOK, rec.Code)

	// the X-Actor header is ignored once tokens are required
	rec = ts.do(t, http.MethodPost, "/v1/lots/L1/steps/mandat_vente/skip", nil, "Authorization", auth, "X-Actor", "spoofed")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/v1/lots/L1/steps/documents_vendeur/complete", nil, "Authorization", auth)
	require.Equal(t, http.StatusOK, rec.Code)
	var progress workflow.ProgressRecord
	decodeBody(t, rec, &progress)
	assert.Equal(t, "conseiller-9", progress.CompletedBy)
}
