package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"library-desk/internal/auth"
	"library-desk/internal/cache"
	"library-desk/internal/config"
	"library-desk/internal/events"
	"library-desk/internal/handlers"
	"library-desk/internal/repository"
	"library-desk/pkg/logger"
	"library-desk/pkg/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	appLogger := logger.New(cfg.Environment)
	defer appLogger.Sync()

	appLogger.Info("🚀 Starting Lending API",
		zap.String("environment", cfg.Environment),
		zap.String("port", cfg.Port),
	)

	appLogger.Info("💾 SQLite Configuration", zap.String("path", cfg.SQLitePath))
	appLogger.Info("🔐 Session Configuration",
		zap.Int("secret_length", len(cfg.JWTSecret)),
		zap.Duration("ttl", cfg.SessionTTL),
		zap.Bool("secure_cookies", cfg.SecureCookies),
	)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appLogger.Info("🔧 Opening database...")
	store, err := repository.NewSQLiteStore(cfg.SQLitePath)
	if err != nil {
		appLogger.Fatal("Failed to open database", zap.Error(err))
	}
	defer store.Close()
	appLogger.Info("✅ Database ready")

	if err := auth.SeedAdmin(ctx, store, cfg.SeedAdminName, cfg.SeedAdminEmail, cfg.SeedAdminPassword, appLogger); err != nil {
		appLogger.Fatal("Failed to seed administrator", zap.Error(err))
	}

	var cacheClient cache.Cache
	if cfg.UseCache {
		appLogger.Info("🔧 Initializing cache (Redis)...",
			zap.String("redis_host", cfg.RedisHost),
			zap.String("redis_port", cfg.RedisPort),
			zap.Int("cache_ttl", cfg.CacheTTL),
		)
		cacheClient = cache.NewCache(cfg, appLogger)
		appLogger.Info("✅ Cache initialized successfully")
	} else {
		appLogger.Info("⏭️  Skipping cache initialization (USE_CACHE=false)")
	}

	var eventBus events.EventPublisher
	if cfg.UseKafka {
		appLogger.Info("🔧 Initializing Kafka publisher...",
			zap.Strings("brokers", cfg.KafkaBrokers),
			zap.String("topic_books", cfg.KafkaTopicBooks),
			zap.String("topic_loans", cfg.KafkaTopicLoans),
		)
		kafkaPublisher, err := events.NewKafkaEventPublisher(cfg, appLogger)
		if err != nil {
			appLogger.Warn("Failed to initialize Kafka publisher, using in-memory fallback", zap.Error(err))
			eventBus = events.NewInMemoryEventPublisher(appLogger)
		} else {
			defer kafkaPublisher.Close()
			eventBus = kafkaPublisher
			appLogger.Info("✅ Kafka publisher initialized successfully")
		}
	} else {
		appLogger.Info("⏭️  Skipping Kafka publisher (USE_KAFKA=false)")
		eventBus = events.NewInMemoryEventPublisher(appLogger)
	}

	if cfg.UseKafka && cacheClient != nil {
		invalidator, err := events.NewCatalogInvalidator(cfg, cacheClient, appLogger)
		if err != nil {
			appLogger.Warn("Failed to initialize Kafka consumer, cached pages expire by TTL only", zap.Error(err))
		} else {
			defer invalidator.Close()
			go func() {
				if err := invalidator.Start(ctx); err != nil {
					appLogger.Error("Kafka consumer stopped", zap.Error(err))
				}
			}()
		}
	}

	router := handlers.NewRouter(handlers.RouterDeps{
		Logger:         appLogger,
		Store:          store,
		JWTManager:     auth.NewJWTManager(cfg.JWTSecret, cfg.SessionTTL, appLogger),
		Cache:          cacheClient,
		CacheTTL:       cache.TTL(cfg.CacheTTL),
		EventBus:       eventBus,
		RequestIDStore: middleware.NewInMemoryRequestIDStore(ctx),
		CORSOrigin:     cfg.CORSOrigin,
		SecureCookies:  cfg.SecureCookies,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		appLogger.Info("🌐 Starting HTTP server", zap.String("address", ":"+cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown", zap.Error(err))
	}

	appLogger.Info("Server exited")
}
