// Package lendingtest boots the lending API in-process on a temporary SQLite
// database so client packages can be tested against the real HTTP contract.
package lendingtest

import (
	"context"
	"fmt"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"library-desk/internal/auth"
	"library-desk/internal/cache"
	"library-desk/internal/events"
	"library-desk/internal/handlers"
	"library-desk/internal/models"
	"library-desk/internal/repository"
	"library-desk/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// Password is the password of every seeded account
const Password = "secret123"

// Server is a running lending API with three seeded accounts
type Server struct {
	*httptest.Server
	Store     *repository.SQLiteStore
	Events    *events.InMemoryEventPublisher
	Cache     *cache.InMemoryCache
	Admin     models.User
	Librarian models.User
	Customer  models.User
}

// New starts a server that is closed when the test ends
func New(t testing.TB) *Server {
	t.Helper()
	return NewWithStore(t, nil)
}

// NewWithStore is New with the handlers reading and writing through
// wrap(store), so a test can intercept persistence calls. A nil wrap uses the
// store as is.
func NewWithStore(t testing.TB, wrap func(handlers.Store) handlers.Store) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := repository.NewSQLiteStore(filepath.Join(t.TempDir(), "library.db"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	logger := zap.NewNop()
	eventBus := events.NewInMemoryEventPublisher(logger)
	cacheClient := cache.NewInMemoryCache(logger)

	var routed handlers.Store = store
	if wrap != nil {
		routed = wrap(store)
	}

	router := handlers.NewRouter(handlers.RouterDeps{
		Logger:         logger,
		Store:          routed,
		JWTManager:     auth.NewJWTManager("lendingtest-secret-key-min-32-chars!!", time.Hour, logger),
		Cache:          cacheClient,
		CacheTTL:       time.Minute,
		EventBus:       eventBus,
		RequestIDStore: middleware.NewInMemoryRequestIDStore(ctx),
		CORSOrigin:     "*",
	})

	s := &Server{
		Server: httptest.NewServer(router),
		Store:  store,
		Events: eventBus,
		Cache:  cacheClient,
	}
	t.Cleanup(func() {
		s.Close()
		cancel()
		store.Close()
	})

	s.Admin = s.SeedUser(t, "Ada Admin", "admin@example.com", models.RoleAdmin)
	s.Librarian = s.SeedUser(t, "Lee Librarian", "librarian@example.com", models.RoleLibrarian)
	s.Customer = s.SeedUser(t, "Cam Customer", "customer@example.com", models.RoleCustomer)
	return s
}

// SeedUser creates an account with Password
func (s *Server) SeedUser(t testing.TB, name, email string, role models.Role) models.User {
	t.Helper()
	hash, err := auth.HashPassword(Password)
	require.NoError(t, err)
	user, err := s.Store.CreateUser(context.Background(), models.UserDraft{Name: name, Email: email, Role: role}, hash)
	require.NoError(t, err)
	return user
}

// SeedBook inserts a book directly into the store
func (s *Server) SeedBook(t testing.TB, title, isbn string, quantity int) models.Book {
	t.Helper()
	book, err := s.Store.CreateBook(context.Background(), models.BookDraft{
		Title:    title,
		Author:   "Author of " + title,
		ISBN:     isbn,
		Quantity: quantity,
	})
	require.NoError(t, err)
	require.NoError(t, cache.InvalidateCatalog(context.Background(), s.Cache))
	return book
}

// SeedBooks inserts n books titled "Book 01".."Book n"
func (s *Server) SeedBooks(t testing.TB, n, quantity int) []models.Book {
	t.Helper()
	books := make([]models.Book, 0, n)
	for i := 1; i <= n; i++ {
		books = append(books, s.SeedBook(t, bookTitle(i), "isbn-"+bookTitle(i), quantity))
	}
	return books
}

func bookTitle(i int) string {
	return fmt.Sprintf("Book %02d", i)
}

// Book reads the stored state of a book
func (s *Server) Book(t testing.TB, id int64) models.Book {
	t.Helper()
	book, err := s.Store.GetBook(context.Background(), id)
	require.NoError(t, err)
	return book
}
