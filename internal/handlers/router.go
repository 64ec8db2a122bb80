package handlers

import (
	"net/http"
	"time"

	"library-desk/internal/auth"
	"library-desk/internal/cache"
	"library-desk/internal/events"
	"library-desk/internal/models"
	"library-desk/internal/repository"
	"library-desk/pkg/logger"
	"library-desk/pkg/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Store is everything the lending API persists
type Store interface {
	repository.BookRepository
	repository.LoanRepository
	repository.UserRepository
}

// RouterDeps wires the lending API
type RouterDeps struct {
	Logger         *zap.Logger
	Store          Store
	JWTManager     *auth.JWTManager
	Cache          cache.Cache // nil disables catalog caching
	CacheTTL       time.Duration
	EventBus       events.EventPublisher
	RequestIDStore middleware.RequestIDStore
	IdempotencyTTL time.Duration
	CORSOrigin     string
	SecureCookies  bool
}

// NewRouter builds the gin engine with every lending API route
func NewRouter(deps RouterDeps) *gin.Engine {
	if deps.EventBus == nil {
		deps.EventBus = events.NewInMemoryEventPublisher(deps.Logger)
	}
	if deps.IdempotencyTTL == 0 {
		deps.IdempotencyTTL = 5 * time.Minute
	}

	router := gin.New()

	// CORS first so preflight requests short-circuit
	router.Use(middleware.CORSMiddleware(deps.CORSOrigin))
	router.Use(middleware.RecoveryHandler(deps.Logger))
	router.Use(middleware.RequestIDMiddleware(deps.Logger))
	router.Use(logger.GinMiddleware(deps.Logger))
	router.Use(middleware.ErrorHandler(deps.Logger))

	bookHandler := NewBookHandler(deps.Logger, deps.Store, deps.Cache, deps.CacheTTL, deps.EventBus)
	loanHandler := NewLoanHandler(deps.Logger, deps.Store, deps.Cache, deps.EventBus)
	userHandler := NewUserHandler(deps.Logger, deps.Store)
	authHandler := auth.NewAuthHandler(deps.Store, deps.JWTManager, deps.SecureCookies, deps.Logger)

	requireSession := middleware.AuthMiddleware(deps.JWTManager, deps.Logger)
	staffOnly := middleware.RequireRoles(models.RoleAdmin, models.RoleLibrarian)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/logout", authHandler.Logout)
		authGroup.GET("/me", requireSession, authHandler.Me)
	}

	books := router.Group("/api/books", requireSession)
	{
		books.GET("", bookHandler.ListBooks)
		books.GET("/:id", bookHandler.GetBook)
		books.POST("", staffOnly, bookHandler.CreateBook)
		books.PUT("/:id", staffOnly, bookHandler.UpdateBook)
		books.DELETE("/:id", staffOnly, bookHandler.DeleteBook)

		books.GET("/fetchissued", staffOnly, loanHandler.FetchIssued)
		books.GET("/issuedbooks/:id", loanHandler.IssuedBooksForUser)

		loanWrites := books.Group("", staffOnly)
		if deps.RequestIDStore != nil {
			loanWrites.Use(middleware.IdempotencyMiddleware(deps.RequestIDStore, deps.Logger, deps.IdempotencyTTL))
		}
		loanWrites.POST("/issue", loanHandler.IssueBook)
		loanWrites.POST("/return", loanHandler.ReturnBook)
	}

	users := router.Group("/users", requireSession, middleware.RequireRoles(models.RoleAdmin))
	{
		users.POST("/add", userHandler.AddUser)
	}

	return router
}
