package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"library-desk/internal/auth"
	"library-desk/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupAuthMiddlewareTestRouter(jwtManager *auth.JWTManager) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(ErrorHandler(zap.NewNop()))

	protected := router.Group("/api")
	protected.Use(AuthMiddleware(jwtManager, zap.NewNop()))
	{
		protected.GET("/me", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"user_id": GetUserID(c), "role": GetRole(c)})
		})
		protected.POST("/books", RequireRoles(models.RoleAdmin, models.RoleLibrarian), func(c *gin.Context) {
			c.Status(http.StatusCreated)
		})
	}

	return router
}

func newJWTManager() *auth.JWTManager {
	return auth.NewJWTManager("test-secret-key-min-32-chars-for-testing", time.Hour, zap.NewNop())
}

func tokenFor(t *testing.T, m *auth.JWTManager, role models.Role) string {
	t.Helper()
	token, _, err := m.GenerateToken(models.User{ID: 7, Role: role})
	require.NoError(t, err)
	return token
}

func TestAuthMiddleware_Cookie(t *testing.T) {
	m := newJWTManager()
	router := setupAuthMiddlewareTestRouter(m)

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: tokenFor(t, m, models.RoleCustomer)})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":7,"role":"customer"}`, w.Body.String())
}

func TestAuthMiddleware_BearerHeader(t *testing.T) {
	m := newJWTManager()
	router := setupAuthMiddlewareTestRouter(m)

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+tokenFor(t, m, models.RoleAdmin))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	router := setupAuthMiddlewareTestRouter(newJWTManager())

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"Unauthorized"`)
}

func TestAuthMiddleware_InvalidFormat(t *testing.T) {
	router := setupAuthMiddlewareTestRouter(newJWTManager())

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Token abc")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireRoles(t *testing.T) {
	m := newJWTManager()
	router := setupAuthMiddlewareTestRouter(m)

	tests := []struct {
		role models.Role
		want int
	}{
		{models.RoleAdmin, http.StatusCreated},
		{models.RoleLibrarian, http.StatusCreated},
		{models.RoleCustomer, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/books", nil)
			req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: tokenFor(t, m, tt.role)})
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}
