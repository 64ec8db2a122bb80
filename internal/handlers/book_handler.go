package handlers

import (
	stderrors "errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"library-desk/internal/cache"
	"library-desk/internal/events"
	"library-desk/internal/models"
	"library-desk/internal/repository"
	"library-desk/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultPageLimit = 10
	maxPageLimit     = 100
)

// BookHandler serves the catalog endpoints
type BookHandler struct {
	logger   *zap.Logger
	books    repository.BookRepository
	cache    cache.Cache
	cacheTTL time.Duration
	eventBus events.EventPublisher
}

func NewBookHandler(logger *zap.Logger, books repository.BookRepository, cacheClient cache.Cache, cacheTTL time.Duration, eventBus events.EventPublisher) *BookHandler {
	return &BookHandler{
		logger:   logger,
		books:    books,
		cache:    cacheClient,
		cacheTTL: cacheTTL,
		eventBus: eventBus,
	}
}

// ListBooks handles GET /api/books?page=&limit=&search=
func (h *BookHandler) ListBooks(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageLimit)))
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if page < 1 {
		page = 1
	}
	search := strings.TrimSpace(c.Query("search"))

	ctx := c.Request.Context()

	// key stays empty when the page must not be cached
	var key string
	if h.cache != nil {
		generation, err := cache.CatalogGeneration(ctx, h.cache)
		if err != nil {
			h.logger.Warn("Failed to read catalog generation, bypassing cache", zap.Error(err))
		} else {
			key = cache.CatalogKey(generation, page, limit, search)
			var cached models.CatalogPage
			if err := cache.GetJSON(ctx, h.cache, key, &cached); err == nil {
				h.logger.Debug("Catalog page served from cache", zap.String("key", key))
				c.JSON(http.StatusOK, cached)
				return
			}
		}
	}

	result, err := h.books.ListBooks(ctx, repository.BookQuery{Page: page, Limit: limit, Search: search})
	if err != nil {
		h.logger.Error("Failed to list books", zap.Error(err))
		c.Error(errors.NewDatabaseError("list books", err))
		return
	}

	if key != "" {
		if err := cache.SetJSON(ctx, h.cache, key, result, h.cacheTTL); err != nil {
			h.logger.Warn("Failed to cache catalog page", zap.String("key", key), zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, result)
}

// GetBook handles GET /api/books/:id
func (h *BookHandler) GetBook(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	book, err := h.books.GetBook(c.Request.Context(), id)
	if err != nil {
		c.Error(toStandardError(err, id, "get book"))
		return
	}
	c.JSON(http.StatusOK, book)
}

// CreateBook handles POST /api/books
func (h *BookHandler) CreateBook(c *gin.Context) {
	var req CreateBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidRequest("invalid request body", err.Error()))
		return
	}

	draft := models.BookDraft{Title: req.Title, Author: req.Author, ISBN: req.ISBN}.Normalize()
	if req.Quantity != nil {
		draft.Quantity = *req.Quantity
	}
	if stdErr := validateDraft(draft, req.Quantity != nil); stdErr != nil {
		c.Error(stdErr)
		return
	}

	book, err := h.books.CreateBook(c.Request.Context(), draft)
	if err != nil {
		if stderrors.Is(err, repository.ErrDuplicateISBN) {
			c.Error(errors.NewDuplicateISBN(draft.ISBN))
			return
		}
		h.logger.Error("Failed to create book", zap.Error(err))
		c.Error(errors.NewDatabaseError("create book", err))
		return
	}

	h.afterCatalogChange(c, events.BookCreatedEvent{
		BookID:     book.ID,
		Title:      book.Title,
		ISBN:       book.ISBN,
		Quantity:   book.Quantity,
		OccurredAt: time.Now().UTC(),
	})

	h.logger.Info("Book created", zap.Int64("book_id", book.ID), zap.String("isbn", book.ISBN))
	c.JSON(http.StatusCreated, book)
}

// UpdateBook handles PUT /api/books/:id
func (h *BookHandler) UpdateBook(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req UpdateBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidRequest("invalid request body", err.Error()))
		return
	}

	patch := models.BookPatch{Title: req.Title, Author: req.Author, ISBN: req.ISBN, Quantity: req.Quantity}
	if patch.Empty() {
		c.Error(errors.NewValidationError("nothing to update", "title, author, isbn or quantity"))
		return
	}
	if stdErr := validatePatch(patch); stdErr != nil {
		c.Error(stdErr)
		return
	}

	book, err := h.books.UpdateBook(c.Request.Context(), id, patch)
	if err != nil {
		if stderrors.Is(err, repository.ErrDuplicateISBN) {
			c.Error(errors.NewDuplicateISBN(strings.TrimSpace(*patch.ISBN)))
			return
		}
		c.Error(toStandardError(err, id, "update book"))
		return
	}

	h.afterCatalogChange(c, events.BookUpdatedEvent{
		BookID:     book.ID,
		Title:      book.Title,
		ISBN:       book.ISBN,
		Quantity:   book.Quantity,
		OccurredAt: time.Now().UTC(),
	})

	h.logger.Info("Book updated", zap.Int64("book_id", book.ID))
	c.JSON(http.StatusOK, book)
}

// DeleteBook handles DELETE /api/books/:id
func (h *BookHandler) DeleteBook(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if err := h.books.DeleteBook(ctx, id); err != nil {
		if stderrors.Is(err, repository.ErrBookHasActiveLoans) {
			active, _ := h.books.CountActiveLoans(ctx, id)
			c.Error(errors.NewBookHasActiveLoans(id, active))
			return
		}
		c.Error(toStandardError(err, id, "delete book"))
		return
	}

	h.afterCatalogChange(c, events.BookDeletedEvent{BookID: id, OccurredAt: time.Now().UTC()})

	h.logger.Info("Book deleted", zap.Int64("book_id", id))
	c.JSON(http.StatusOK, SuccessResponse{Message: "book deleted successfully"})
}

// afterCatalogChange drops cached pages and publishes the event. Neither failure
// undoes the committed change.
func (h *BookHandler) afterCatalogChange(c *gin.Context, event interface{}) {
	invalidateCatalog(c, h.cache, h.logger)
	if err := h.eventBus.Publish(c.Request.Context(), event); err != nil {
		h.logger.Error("Failed to publish event", zap.String("event-type", events.EventType(event)), zap.Error(err))
	}
}

func invalidateCatalog(c *gin.Context, cacheClient cache.Cache, logger *zap.Logger) {
	if cacheClient == nil {
		return
	}
	if err := cache.InvalidateCatalog(c.Request.Context(), cacheClient); err != nil {
		logger.Warn("Failed to invalidate catalog cache", zap.Error(err))
	}
}

func validateDraft(d models.BookDraft, hasQuantity bool) *errors.StandardError {
	switch {
	case d.Title == "":
		return errors.NewValidationError("title is required", "title")
	case d.Author == "":
		return errors.NewValidationError("author is required", "author")
	case d.ISBN == "":
		return errors.NewValidationError("isbn is required", "isbn")
	case !hasQuantity:
		return errors.NewValidationError("quantity is required", "quantity")
	case d.Quantity < 1:
		return errors.NewValidationError("quantity must be at least 1", "quantity")
	}
	return nil
}

func validatePatch(p models.BookPatch) *errors.StandardError {
	switch {
	case p.Title != nil && strings.TrimSpace(*p.Title) == "":
		return errors.NewValidationError("title must not be empty", "title")
	case p.Author != nil && strings.TrimSpace(*p.Author) == "":
		return errors.NewValidationError("author must not be empty", "author")
	case p.ISBN != nil && strings.TrimSpace(*p.ISBN) == "":
		return errors.NewValidationError("isbn must not be empty", "isbn")
	case p.Quantity != nil && *p.Quantity < 0:
		return errors.NewValidationError("quantity must not be negative", "quantity")
	}
	return nil
}

func parseID(c *gin.Context, param string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(param), 10, 64)
	if err != nil || id < 1 {
		c.Error(errors.NewInvalidRequest("invalid id", param+": "+c.Param(param)))
		return 0, false
	}
	return id, true
}
