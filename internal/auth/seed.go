package auth

import (
	"context"
	"fmt"

	"library-desk/internal/models"
	"library-desk/internal/repository"

	"go.uber.org/zap"
)

// SeedAdmin creates the first administrator when there are no accounts yet
func SeedAdmin(ctx context.Context, users repository.UserRepository, name, email, password string, logger *zap.Logger) error {
	n, err := users.CountUsers(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	hash, err := HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	user, err := users.CreateUser(ctx, models.UserDraft{
		Name:  name,
		Email: email,
		Role:  models.RoleAdmin,
	}, hash)
	if err != nil {
		return err
	}

	logger.Info("Seeded administrator account",
		zap.Int64("user_id", user.ID),
		zap.String("email", user.Email),
	)
	return nil
}
