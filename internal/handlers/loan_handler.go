package handlers

import (
	stderrors "errors"
	"net/http"
	"time"

	"library-desk/internal/cache"
	"library-desk/internal/events"
	"library-desk/internal/models"
	"library-desk/internal/repository"
	"library-desk/pkg/errors"
	"library-desk/pkg/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// LoanHandler serves issue, return and loan listings
type LoanHandler struct {
	logger   *zap.Logger
	loans    repository.LoanRepository
	cache    cache.Cache
	eventBus events.EventPublisher
}

func NewLoanHandler(logger *zap.Logger, loans repository.LoanRepository, cacheClient cache.Cache, eventBus events.EventPublisher) *LoanHandler {
	return &LoanHandler{
		logger:   logger,
		loans:    loans,
		cache:    cacheClient,
		eventBus: eventBus,
	}
}

// IssueBook handles POST /api/books/issue
func (h *LoanHandler) IssueBook(c *gin.Context) {
	var req IssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewValidationError("book_id and user_id are required", "book_id, user_id"))
		return
	}

	loan, err := h.loans.IssueBook(c.Request.Context(), req.BookID, req.UserID)
	if err != nil {
		if stderrors.Is(err, repository.ErrUserNotFound) {
			c.Error(errors.NewUserNotFound(req.UserID))
			return
		}
		if !stderrors.Is(err, repository.ErrNoCopiesAvailable) && !stderrors.Is(err, repository.ErrBookNotFound) {
			h.logger.Error("Failed to issue book", zap.Error(err))
		}
		c.Error(toStandardError(err, req.BookID, "issue book"))
		return
	}

	invalidateCatalog(c, h.cache, h.logger)
	h.publish(c, events.BookIssuedEvent{
		LoanID:     loan.ID,
		BookID:     loan.BookID,
		UserID:     loan.UserID,
		OccurredAt: loan.IssuedAt,
	})

	h.logger.Info("Book issued",
		zap.Int64("issue_id", loan.ID),
		zap.Int64("book_id", loan.BookID),
		zap.Int64("borrower_id", loan.UserID),
	)
	c.JSON(http.StatusCreated, loan)
}

// ReturnBook handles POST /api/books/return
func (h *LoanHandler) ReturnBook(c *gin.Context) {
	var req ReturnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewValidationError("issue_id is required", "issue_id"))
		return
	}

	loan, err := h.loans.ReturnLoan(c.Request.Context(), req.IssueID)
	if err != nil {
		c.Error(toStandardError(err, req.IssueID, "return book"))
		return
	}

	invalidateCatalog(c, h.cache, h.logger)
	h.publish(c, events.BookReturnedEvent{
		LoanID:     loan.ID,
		BookID:     loan.BookID,
		UserID:     loan.UserID,
		OccurredAt: time.Now().UTC(),
	})

	h.logger.Info("Book returned", zap.Int64("issue_id", loan.ID), zap.Int64("book_id", loan.BookID))
	c.JSON(http.StatusOK, loan)
}

// FetchIssued handles GET /api/books/fetchissued
func (h *LoanHandler) FetchIssued(c *gin.Context) {
	loans, err := h.loans.ListLoans(c.Request.Context())
	if err != nil {
		c.Error(errors.NewDatabaseError("list issues", err))
		return
	}
	c.JSON(http.StatusOK, loans)
}

// IssuedBooksForUser handles GET /api/books/issuedbooks/:id.
// Customers may only read their own loans.
func (h *LoanHandler) IssuedBooksForUser(c *gin.Context) {
	userID, ok := parseID(c, "id")
	if !ok {
		return
	}

	if middleware.GetRole(c) == models.RoleCustomer && middleware.GetUserID(c) != userID {
		c.Error(errors.NewForbidden("customers can only view their own issued books"))
		return
	}

	loans, err := h.loans.ListLoansByUser(c.Request.Context(), userID)
	if err != nil {
		c.Error(errors.NewDatabaseError("list issues", err))
		return
	}
	c.JSON(http.StatusOK, loans)
}

func (h *LoanHandler) publish(c *gin.Context, event interface{}) {
	if err := h.eventBus.Publish(c.Request.Context(), event); err != nil {
		h.logger.Error("Failed to publish event", zap.String("event-type", events.EventType(event)), zap.Error(err))
	}
}
