package auth

import (
	"context"
	stderrors "errors"
	"net/http"
	"strings"

	"library-desk/internal/models"
	"library-desk/internal/repository"
	"library-desk/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	// CookieName is the session cookie set on login
	CookieName = "token"
	// ContextUserID and ContextRole are the gin context keys set by the auth middleware
	ContextUserID = "user_id"
	ContextRole   = "role"
)

// UserStore is the part of the user repository the auth handler needs
type UserStore interface {
	GetUser(ctx context.Context, id int64) (models.User, error)
	FindUserByEmail(ctx context.Context, email string) (models.User, string, error)
}

// AuthHandler handles authentication requests
type AuthHandler struct {
	users         UserStore
	jwtManager    *JWTManager
	secureCookies bool
	logger        *zap.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(users UserStore, jwtManager *JWTManager, secureCookies bool, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		users:         users,
		jwtManager:    jwtManager,
		secureCookies: secureCookies,
		logger:        logger,
	}
}

// LoginRequest represents the login request
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// UserResponse wraps a user the way every auth endpoint answers
type UserResponse struct {
	User models.User `json:"user"`
}

// Login handles POST /auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid login request", zap.Error(err))
		c.Error(errors.NewValidationError("email and password are required", "email or password"))
		c.Abort()
		return
	}

	user, hash, err := h.users.FindUserByEmail(c.Request.Context(), req.Email)
	if err != nil && !stderrors.Is(err, repository.ErrUserNotFound) {
		h.logger.Error("Failed to look up user", zap.Error(err))
		c.Error(errors.NewDatabaseError("find user", err))
		c.Abort()
		return
	}
	if err != nil || !CheckPassword(hash, req.Password) {
		h.logger.Warn("Invalid credentials", zap.String("email", strings.ToLower(req.Email)))
		c.Error(errors.NewUnauthorized("invalid email or password", ""))
		c.Abort()
		return
	}

	token, expiresAt, err := h.jwtManager.GenerateToken(user)
	if err != nil {
		c.Error(errors.NewInternalError("failed to generate token", err))
		c.Abort()
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CookieName, token, int(h.jwtManager.TTL().Seconds()), "/", "", h.secureCookies, true)

	h.logger.Info("User logged in",
		zap.Int64("user_id", user.ID),
		zap.String("role", string(user.Role)),
		zap.Time("expires_at", expiresAt),
	)

	c.JSON(http.StatusOK, UserResponse{User: user})
}

// Logout handles POST /auth/logout. It succeeds with or without a session.
func (h *AuthHandler) Logout(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CookieName, "", -1, "/", "", h.secureCookies, true)
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// Me handles GET /auth/me. Requires the auth middleware.
func (h *AuthHandler) Me(c *gin.Context) {
	userID := c.GetInt64(ContextUserID)

	user, err := h.users.GetUser(c.Request.Context(), userID)
	if err != nil {
		if stderrors.Is(err, repository.ErrUserNotFound) {
			c.Error(errors.NewUnauthorized("session user no longer exists", ""))
		} else {
			c.Error(errors.NewDatabaseError("get user", err))
		}
		c.Abort()
		return
	}

	c.JSON(http.StatusOK, UserResponse{User: user})
}
