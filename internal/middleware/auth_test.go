package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayushsreejith06/MAX-sub002/internal/crypto"
)

const testSecret = "unit-test-signing-secret"

func authRouter(t *testing.T, auth *Auth) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(auth.RequireAuth())
	router.GET("/protected", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"subject": c.GetString(SubjectKey)})
	})
	return router
}

func mintToken(t *testing.T, secret string, method jwt.SigningMethod, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestAuthDisabledPassesThrough(t *testing.T) {
	router := authRouter(t, NewAuth(false, "", nil))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/protected", nil))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthRejectsMissingToken(t *testing.T) {
	router := authRouter(t, NewAuth(true, testSecret, nil))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/protected", nil))

	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NotEmpty(t, w.Header().Get("WWW-Authenticate"))

	env := decodeErrorEnvelope(t, w.Body.Bytes())
	assert.Equal(t, "error", env.Status)
	assert.Equal(t, "unauthorized", env.Error.Kind)
}

func TestAuthAcceptsValidToken(t *testing.T) {
	router := authRouter(t, NewAuth(true, testSecret, nil))

	token := mintToken(t, testSecret, jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "ops",
		"exp": jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"subject":"ops"`)
}

func TestAuthRejectsExpiredToken(t *testing.T) {
	router := authRouter(t, NewAuth(true, testSecret, nil))

	token := mintToken(t, testSecret, jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "ops",
		"exp": jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthRejectsWrongSecret(t *testing.T) {
	router := authRouter(t, NewAuth(true, testSecret, nil))

	token := mintToken(t, "a different secret", jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "ops",
		"exp": jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthRejectsUnexpectedAlgorithm(t *testing.T) {
	router := authRouter(t, NewAuth(true, testSecret, nil))

	// Signed with the right secret but HS512, outside the allow list.
	token := mintToken(t, testSecret, jwt.SigningMethodHS512, jwt.MapClaims{
		"sub": "ops",
		"exp": jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func operatorRouter(t *testing.T, storedHash string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.DELETE("/destructive", RequireOperatorToken(storedHash), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "success"})
	})
	return router
}

func TestOperatorTokenOpenWhenUnconfigured(t *testing.T) {
	router := operatorRouter(t, "")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/destructive", nil))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestOperatorTokenGate(t *testing.T) {
	storedHash, err := crypto.HashOperatorToken("wipe-it-all")
	require.NoError(t, err)

	router := operatorRouter(t, storedHash)

	t.Run("correct token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodDelete, "/destructive", nil)
		req.Header.Set(OperatorTokenHeader, "wipe-it-all")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("wrong token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodDelete, "/destructive", nil)
		req.Header.Set(OperatorTokenHeader, "wipe-it-some")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusForbidden, w.Code)
		env := decodeErrorEnvelope(t, w.Body.Bytes())
		assert.Equal(t, "forbidden", env.Error.Kind)
	})

	t.Run("missing token", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/destructive", nil))
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{name: "plain", header: "Bearer abc.def.ghi", want: "abc.def.ghi"},
		{name: "case insensitive scheme", header: "bearer abc.def.ghi", want: "abc.def.ghi"},
		{name: "empty", header: "", want: ""},
		{name: "wrong scheme", header: "Basic dXNlcjpwYXNz", want: ""},
		{name: "scheme only", header: "Bearer ", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, bearerToken(tt.header))
		})
	}
}
