package handlers

import (
	stderrors "errors"
	"net/http"
	"strings"

	"library-desk/internal/auth"
	"library-desk/internal/models"
	"library-desk/internal/repository"
	"library-desk/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// UserHandler serves account administration
type UserHandler struct {
	logger *zap.Logger
	users  repository.UserRepository
}

func NewUserHandler(logger *zap.Logger, users repository.UserRepository) *UserHandler {
	return &UserHandler{logger: logger, users: users}
}

// AddUser handles POST /users/add. Role defaults to customer.
func (h *UserHandler) AddUser(c *gin.Context) {
	var req AddUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewValidationError("name, a valid email and a password of at least 6 characters are required", "name, email, password"))
		return
	}

	role := models.Role(strings.ToLower(strings.TrimSpace(req.Role)))
	if role == "" {
		role = models.RoleCustomer
	}
	if !role.Valid() {
		c.Error(errors.NewValidationError("role must be admin, librarian or customer", "role"))
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		c.Error(errors.NewInternalError("failed to hash password", err))
		return
	}

	user, err := h.users.CreateUser(c.Request.Context(), models.UserDraft{
		Name:  req.Name,
		Email: req.Email,
		Role:  role,
	}, hash)
	if err != nil {
		if stderrors.Is(err, repository.ErrDuplicateEmail) {
			c.Error(errors.NewDuplicateEmail(req.Email))
			return
		}
		h.logger.Error("Failed to create user", zap.Error(err))
		c.Error(errors.NewDatabaseError("create user", err))
		return
	}

	h.logger.Info("User created", zap.Int64("user_id", user.ID), zap.String("role", string(user.Role)))
	c.JSON(http.StatusCreated, auth.UserResponse{User: user})
}
