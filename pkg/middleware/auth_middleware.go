package middleware

import (
	"strings"

	"library-desk/internal/auth"
	"library-desk/internal/models"
	"library-desk/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AuthMiddleware validates the session token from the "token" cookie or a Bearer header
func AuthMiddleware(jwtManager *auth.JWTManager, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := c.Cookie(auth.CookieName)
		if err != nil || tokenString == "" {
			authHeader := c.GetHeader("Authorization")
			if authHeader == "" {
				logger.Debug("Missing session",
					zap.String("path", c.Request.URL.Path),
					zap.String("method", c.Request.Method),
				)
				c.Error(errors.NewUnauthorized("not logged in", "Cookie: token or Header: Authorization"))
				c.Abort()
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				c.Error(errors.NewUnauthorized("invalid authorization header format", "Expected: Bearer <token>"))
				c.Abort()
				return
			}
			tokenString = parts[1]
		}

		claims, err := jwtManager.ValidateToken(tokenString)
		if err != nil {
			if err == auth.ErrExpiredToken {
				c.Error(errors.NewUnauthorized("session expired", "Token has expired, please login again"))
			} else {
				c.Error(errors.NewUnauthorized("invalid session", err.Error()))
			}
			logger.Warn("Rejected session token",
				zap.String("path", c.Request.URL.Path),
				zap.String("method", c.Request.Method),
				zap.Error(err),
			)
			c.Abort()
			return
		}

		c.Set(auth.ContextUserID, claims.UserID)
		c.Set(auth.ContextRole, claims.Role)

		c.Next()
	}
}

// RequireRoles rejects sessions whose role is not listed. Must run after AuthMiddleware.
func RequireRoles(roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := GetRole(c)
		for _, allowed := range roles {
			if role == allowed {
				c.Next()
				return
			}
		}
		c.Error(errors.NewForbidden("your role is not allowed to perform this action"))
		c.Abort()
	}
}

// GetRole returns the session role set by AuthMiddleware
func GetRole(c *gin.Context) models.Role {
	if v, ok := c.Get(auth.ContextRole); ok {
		if role, ok := v.(models.Role); ok {
			return role
		}
	}
	return ""
}

// GetUserID returns the session user id set by AuthMiddleware
func GetUserID(c *gin.Context) int64 {
	return c.GetInt64(auth.ContextUserID)
}
