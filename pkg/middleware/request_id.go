package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"library-desk/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// RequestIDHeader is the HTTP header name for request ID
	RequestIDHeader = "X-Request-ID"
	// RequestIDContextKey is the context key for request ID
	RequestIDContextKey = "request_id"
)

// StoredResponse is a completed write kept for replay. Status is 0 while the
// write is still running.
type StoredResponse struct {
	Status int
	Body   []byte
}

// Done reports whether the write has completed
func (r StoredResponse) Done() bool {
	return r.Status != 0
}

// RequestIDStore stores processed request IDs so a resubmitted issue or return
// is answered from the first outcome instead of being applied twice
type RequestIDStore interface {
	// Reserve claims requestID for a new write. When the ID is already claimed it
	// returns false and the entry found, which is not Done while that write runs.
	Reserve(ctx context.Context, requestID string, ttl time.Duration) (StoredResponse, bool, error)
	// Release drops a claim whose write did not succeed so it can be retried
	Release(ctx context.Context, requestID string) error
	Store(ctx context.Context, requestID string, response StoredResponse, ttl time.Duration) error
	Get(ctx context.Context, requestID string) (StoredResponse, bool, error)
}

// InMemoryRequestIDStore is an in-memory implementation of RequestIDStore
type InMemoryRequestIDStore struct {
	mu    sync.Mutex
	store map[string]requestIDEntry
}

type requestIDEntry struct {
	response  StoredResponse
	expiresAt time.Time
}

// NewInMemoryRequestIDStore creates a new in-memory request ID store.
// Expired entries are swept every minute until ctx is done.
func NewInMemoryRequestIDStore(ctx context.Context) *InMemoryRequestIDStore {
	store := &InMemoryRequestIDStore{
		store: make(map[string]requestIDEntry),
	}
	go store.cleanupExpired(ctx, time.Minute)
	return store
}

func (s *InMemoryRequestIDStore) Reserve(ctx context.Context, requestID string, ttl time.Duration) (StoredResponse, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, exists := s.store[requestID]; exists && time.Now().Before(entry.expiresAt) {
		return entry.response, false, nil
	}
	s.store[requestID] = requestIDEntry{expiresAt: time.Now().Add(ttl)}
	return StoredResponse{}, true, nil
}

func (s *InMemoryRequestIDStore) Release(ctx context.Context, requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, exists := s.store[requestID]; exists && !entry.response.Done() {
		delete(s.store, requestID)
	}
	return nil
}

func (s *InMemoryRequestIDStore) Store(ctx context.Context, requestID string, response StoredResponse, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.store[requestID] = requestIDEntry{
		response:  response,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

func (s *InMemoryRequestIDStore) Get(ctx context.Context, requestID string) (StoredResponse, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.store[requestID]
	if !exists {
		return StoredResponse{}, false, nil
	}
	if time.Now().After(entry.expiresAt) {
		delete(s.store, requestID)
		return StoredResponse{}, false, nil
	}
	return entry.response, true, nil
}

func (s *InMemoryRequestIDStore) cleanupExpired(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			now := time.Now()
			for id, entry := range s.store {
				if now.After(entry.expiresAt) {
					delete(s.store, id)
				}
			}
			s.mu.Unlock()
		}
	}
}

// RequestIDMiddleware extracts or generates X-Request-ID header
func RequestIDMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
			logger.Debug("Generated new request ID",
				zap.String("request_id", requestID),
				zap.String("path", c.Request.URL.Path),
				zap.String("method", c.Request.Method),
			)
		}

		c.Set(RequestIDContextKey, requestID)
		c.Header(RequestIDHeader, requestID)

		c.Next()
	}
}

// GetRequestID retrieves the request ID from the Gin context
func GetRequestID(c *gin.Context) string {
	if requestID, exists := c.Get(RequestIDContextKey); exists {
		if id, ok := requestID.(string); ok {
			return id
		}
	}
	return ""
}

// IdempotencyMiddleware replays the stored outcome of a write whose X-Request-ID
// was already processed, and stores successful outcomes of new ones. The ID is
// claimed before the handler runs, so a duplicate arriving meanwhile gets a 409
// instead of a second execution.
func IdempotencyMiddleware(store RequestIDStore, logger *zap.Logger, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead || c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		// Only client-supplied IDs identify a resubmission
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			c.Next()
			return
		}
		key := c.Request.Method + " " + c.Request.URL.Path + " " + requestID
		ctx := c.Request.Context()

		existing, reserved, err := store.Reserve(ctx, key, ttl)
		if err != nil {
			// Fail open
			logger.Warn("Error reserving request ID", zap.String("request_id", requestID), zap.Error(err))
			c.Next()
			return
		}
		if !reserved {
			if !existing.Done() {
				logger.Info("Duplicate request while the first is in flight",
					zap.String("request_id", requestID),
					zap.String("path", c.Request.URL.Path),
				)
				stdErr := errors.NewRequestInProgress(requestID)
				c.AbortWithStatusJSON(stdErr.HTTPStatus(), stdErr)
				return
			}
			logger.Info("Duplicate request detected, returning stored response",
				zap.String("request_id", requestID),
				zap.String("path", c.Request.URL.Path),
				zap.String("method", c.Request.Method),
			)
			c.Data(existing.Status, "application/json; charset=utf-8", existing.Body)
			c.Abort()
			return
		}

		stored := false
		// Runs on panics too, so a crashed write does not hold its ID
		defer func() {
			if stored {
				return
			}
			if err := store.Release(ctx, key); err != nil {
				logger.Warn("Failed to release request ID", zap.String("request_id", requestID), zap.Error(err))
			}
		}()

		writer := &responseWriter{ResponseWriter: c.Writer}
		c.Writer = writer

		c.Next()

		status := writer.Status()
		if status >= 200 && status < 300 && len(writer.body) > 0 {
			if err := store.Store(ctx, key, StoredResponse{Status: status, Body: writer.body}, ttl); err != nil {
				logger.Warn("Failed to store response for idempotency",
					zap.String("request_id", requestID),
					zap.Error(err),
				)
				return
			}
			stored = true
		}
	}
}

// responseWriter captures the response body
type responseWriter struct {
	gin.ResponseWriter
	body []byte
}

func (w *responseWriter) Write(b []byte) (int, error) {
	w.body = append(w.body, b...)
	return w.ResponseWriter.Write(b)
}

func (w *responseWriter) WriteString(s string) (int, error) {
	w.body = append(w.body, s...)
	return w.ResponseWriter.WriteString(s)
}
