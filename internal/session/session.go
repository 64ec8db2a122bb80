// Package session keeps the desk logged in across CLI runs and carries the
// current user through context.Context.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"library-desk/internal/apiclient"
	"library-desk/internal/models"

	"go.uber.org/zap"
)

// ErrNotLoggedIn is returned when there is no valid session
var ErrNotLoggedIn = errors.New("not logged in")

type contextKey struct{}

// WithUser returns a copy of ctx carrying user
func WithUser(ctx context.Context, user models.User) context.Context {
	return context.WithValue(ctx, contextKey{}, user)
}

// UserFrom returns the user stored by WithUser
func UserFrom(ctx context.Context) (models.User, bool) {
	user, ok := ctx.Value(contextKey{}).(models.User)
	return user, ok
}

// Manager logs in and out through the API client and stores the session
// token in a file readable only by the current user
type Manager struct {
	api    *apiclient.Client
	path   string
	logger *zap.Logger
}

func NewManager(api *apiclient.Client, path string, logger *zap.Logger) *Manager {
	return &Manager{api: api, path: path, logger: logger}
}

// Login opens a session and persists its token
func (m *Manager) Login(ctx context.Context, email, password string) (models.User, error) {
	user, err := m.api.Login(ctx, strings.TrimSpace(email), password)
	if err != nil {
		return models.User{}, err
	}

	if err := m.save(m.api.Token()); err != nil {
		m.logger.Warn("Failed to persist session", zap.String("path", m.path), zap.Error(err))
	}

	m.logger.Info("Logged in", zap.Int64("user_id", user.ID), zap.String("role", string(user.Role)))
	return user, nil
}

// Current restores the saved token and asks the API who it belongs to.
// An expired or missing session yields ErrNotLoggedIn.
func (m *Manager) Current(ctx context.Context) (models.User, error) {
	if m.api.Token() == "" {
		token, err := m.load()
		if err != nil || token == "" {
			return models.User{}, ErrNotLoggedIn
		}
		m.api.SetToken(token)
	}

	user, err := m.api.Me(ctx)
	if err != nil {
		if apiclient.KindOf(err) == apiclient.KindAuth {
			m.clear()
			return models.User{}, ErrNotLoggedIn
		}
		return models.User{}, err
	}
	return user, nil
}

// Logout ends the session on the server and forgets the token locally
func (m *Manager) Logout(ctx context.Context) error {
	if m.api.Token() == "" {
		if token, err := m.load(); err == nil {
			m.api.SetToken(token)
		}
	}
	err := m.api.Logout(ctx)
	m.clear()
	return err
}

func (m *Manager) save(token string) error {
	if m.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	return os.WriteFile(m.path, []byte(token), 0o600)
}

func (m *Manager) load() (string, error) {
	if m.path == "" {
		return "", os.ErrNotExist
	}
	data, err := os.ReadFile(m.path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (m *Manager) clear() {
	m.api.SetToken("")
	if m.path == "" {
		return
	}
	if err := os.Remove(m.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		m.logger.Warn("Failed to remove session file", zap.String("path", m.path), zap.Error(err))
	}
}
