package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "k9Vq2mZr7LwX4pTn8JbY3cHf6GdS1aEu"

func newAuthAPI(t *testing.T) *API {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cure-pass"), bcrypt.MinCost)
	require.NoError(t, err)

	cfg := testAPIConfig()
	cfg.Auth.Enabled = true
	cfg.Auth.JWTSecret = testSecret
	cfg.Auth.Username = "analyst"
	cfg.Auth.HashedPassword = string(hash)
	cfg.Auth.TokenTTL = time.Hour
	return newTestAPI(t, cfg)
}

func loginToken(t *testing.T, a *API) string {
	t.Helper()
	rec := do(t, a, http.MethodPost, "/api/auth/login", loginRequest{Username: "analyst", Password: "s3cure-pass"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeBody[loginResponse](t, rec)
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func TestAuth_LoginAndAccess(t *testing.T) {
	a := newAuthAPI(t)

	rec := do(t, a, http.MethodGet, "/api/catalog", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")

	token := loginToken(t, a)
	rec = do(t, a, http.MethodGet, "/api/catalog", nil, "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, a, http.MethodGet, "/api/catalog", nil, "Authorization", "Bearer "+token+"x")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, a, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "health stays public")
}

func TestAuth_ValidateJWT(t *testing.T) {
	a := newAuthAPI(t)
	token, _, err := a.generateJWT("analyst")
	require.NoError(t, err)

	claims, err := a.validateJWT(token)
	require.NoError(t, err)
	assert.Equal(t, "analyst", claims.Username)
	assert.NotEmpty(t, claims.ID)

	a.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = a.validateJWT(token)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
	a.now = time.Now

	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		Username: "analyst",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := forged.SignedString([]byte("another-secret-another-secret-xx"))
	require.NoError(t, err)
	_, err = a.validateJWT(signed)
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{Username: "analyst"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = a.validateJWT(unsigned)
	assert.Error(t, err)
}

func TestAuth_LockoutAfterFailures(t *testing.T) {
	a := newAuthAPI(t)

	for i := 0; i < maxAuthFailures; i++ {
		rec := do(t, a, http.MethodPost, "/api/auth/login", loginRequest{Username: "analyst", Password: "wrong"})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec := do(t, a, http.MethodPost, "/api/auth/login", loginRequest{Username: "analyst", Password: "s3cure-pass"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	a.pruneClients(time.Now().Add(authLockout + time.Minute))
	loginToken(t, a)
}

func TestAuth_LoginDisabled(t *testing.T) {
	a := newTestAPI(t, testAPIConfig())
	rec := do(t, a, http.MethodPost, "/api/auth/login", loginRequest{Username: "a", Password: "b"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
