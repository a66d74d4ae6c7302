package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	fbauth "firebase.google.com/go/v4/auth"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubVerifier struct {
	uid string
	err error
}

func (s *stubVerifier) VerifyIDToken(ctx context.Context, idToken string) (*fbauth.Token, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &fbauth.Token{UID: s.uid}, nil
}

func newTestRouter(mw gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/protected", mw, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": UserID(c)})
	})
	return r
}

func TestAuthMiddlewareAcceptsValidBearerToken(t *testing.T) {
	r := newTestRouter(AuthMiddleware(&stubVerifier{uid: "alice"}, AuthConfig{}))

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "alice")
}

func TestAuthMiddlewareRejectsMissingTokenWhenBypassDisallowed(t *testing.T) {
	r := newTestRouter(AuthMiddleware(&stubVerifier{uid: "alice"}, AuthConfig{}))

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddlewareSubstitutesDevUserWhenBypassAllowed(t *testing.T) {
	cfg := AuthConfig{DisableAuth: true, Environment: "development"}
	r := newTestRouter(AuthMiddleware(&stubVerifier{uid: "alice"}, cfg))

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), DevUserID)
}

func TestAuthMiddlewareForbidsBypassInProduction(t *testing.T) {
	cfg := AuthConfig{DisableAuth: true, Environment: "production"}
	r := newTestRouter(AuthMiddleware(&stubVerifier{uid: "alice"}, cfg))

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddlewareRejectsInvalidToken(t *testing.T) {
	r := newTestRouter(AuthMiddleware(&stubVerifier{err: errVerifyFailed}, AuthConfig{}))

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer bad-token")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

var errVerifyFailed = errTokenVerification{}

type errTokenVerification struct{}

func (errTokenVerification) Error() string { return "token verification failed" }
