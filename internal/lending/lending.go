// Package lending drives the loan lifecycle from the desk: a loan is issued
// only while copies remain and is returned at most once.
package lending

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"library-desk/internal/apiclient"
	"library-desk/internal/models"

	"go.uber.org/zap"
)

var (
	// ErrAlreadyReturned is reported for a second return of the same loan,
	// whether the client or the server noticed it
	ErrAlreadyReturned = errors.New("this book has already been returned")

	// ErrInFlight rejects a submission identical to one still awaiting its answer
	ErrInFlight = errors.New("the same request is already in progress")
)

// Kind classifies a failed issue or return
type Kind string

const (
	KindValidation Kind = "validation"
	KindConflict   Kind = "conflict"
	KindNetwork    Kind = "network"
	KindAuth       Kind = "auth"
)

// IssueError is returned when a loan could not be created
type IssueError struct {
	Kind    Kind
	BookID  int64
	Message string
	Err     error
}

func (e *IssueError) Error() string { return e.Message }

func (e *IssueError) Unwrap() error { return e.Err }

// ReturnError is returned when a loan could not be closed for a reason other
// than it being closed already
type ReturnError struct {
	Kind    Kind
	LoanID  int64
	Message string
	Err     error
}

func (e *ReturnError) Error() string { return e.Message }

func (e *ReturnError) Unwrap() error { return e.Err }

// KindOf returns the Kind of an *IssueError or *ReturnError, "" otherwise
func KindOf(err error) Kind {
	var issueErr *IssueError
	if errors.As(err, &issueErr) {
		return issueErr.Kind
	}
	var returnErr *ReturnError
	if errors.As(err, &returnErr) {
		return returnErr.Kind
	}
	return ""
}

// API is the part of the lending service the controller calls
type API interface {
	GetBook(ctx context.Context, id int64) (models.Book, error)
	IssueBook(ctx context.Context, bookID, userID int64) (models.Loan, error)
	ReturnBook(ctx context.Context, loanID int64) (models.Loan, error)
	IssuedLoans(ctx context.Context) ([]models.Loan, error)
	BorrowerLoans(ctx context.Context, userID int64) ([]models.Loan, error)
}

// Controller issues and returns loans. It keeps no loan state of its own;
// callers re-fetch lists after each confirmed transition.
type Controller struct {
	api    API
	logger *zap.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

func NewController(api API, logger *zap.Logger) *Controller {
	return &Controller{
		api:      api,
		logger:   logger,
		inFlight: make(map[string]struct{}),
	}
}

// Issue lends one copy of bookID to borrowerID. The book is re-read first so a
// stale catalog row cannot issue a copy that is gone.
func (c *Controller) Issue(ctx context.Context, bookID, borrowerID int64) (models.Loan, error) {
	if bookID < 1 || borrowerID < 1 {
		return models.Loan{}, &IssueError{Kind: KindValidation, BookID: bookID, Message: "select a book and a borrower"}
	}

	key := fmt.Sprintf("issue:%d:%d", bookID, borrowerID)
	if !c.acquire(key) {
		return models.Loan{}, ErrInFlight
	}
	defer c.release(key)

	book, err := c.api.GetBook(ctx, bookID)
	if err != nil {
		return models.Loan{}, c.issueError(bookID, err)
	}
	if book.Quantity < 1 {
		c.logger.Info("Issue refused, no copies left", zap.Int64("book_id", bookID))
		return models.Loan{}, &IssueError{
			Kind:    KindConflict,
			BookID:  bookID,
			Message: fmt.Sprintf("no copies of %q are available", book.Title),
		}
	}

	loan, err := c.api.IssueBook(ctx, bookID, borrowerID)
	if err != nil {
		return models.Loan{}, c.issueError(bookID, err)
	}

	c.logger.Info("Book issued",
		zap.Int64("loan_id", loan.ID),
		zap.Int64("book_id", bookID),
		zap.Int64("user_id", borrowerID),
	)
	return loan, nil
}

// Return closes an ACTIVE loan. A loan that is already RETURNED is refused
// locally and never reaches the server.
func (c *Controller) Return(ctx context.Context, loan models.Loan) (models.Loan, error) {
	if !loan.Active() {
		return models.Loan{}, ErrAlreadyReturned
	}

	key := fmt.Sprintf("return:%d", loan.ID)
	if !c.acquire(key) {
		return models.Loan{}, ErrInFlight
	}
	defer c.release(key)

	returned, err := c.api.ReturnBook(ctx, loan.ID)
	if err != nil {
		if apiclient.CodeOf(err) == "AlreadyReturned" {
			c.logger.Info("Loan was already returned", zap.Int64("loan_id", loan.ID))
			return models.Loan{}, ErrAlreadyReturned
		}
		kind, message := classify(err)
		if apiclient.KindOf(err) == apiclient.KindNotFound {
			message = "this loan no longer exists"
		}
		c.logger.Warn("Return failed", zap.Int64("loan_id", loan.ID), zap.Error(err))
		return models.Loan{}, &ReturnError{Kind: kind, LoanID: loan.ID, Message: message, Err: err}
	}

	c.logger.Info("Book returned", zap.Int64("loan_id", returned.ID), zap.Int64("book_id", returned.BookID))
	return returned, nil
}

// Loans lists every loan, newest first
func (c *Controller) Loans(ctx context.Context) ([]models.Loan, error) {
	return c.api.IssuedLoans(ctx)
}

// BorrowerLoans lists the loans of one borrower, newest first
func (c *Controller) BorrowerLoans(ctx context.Context, userID int64) ([]models.Loan, error) {
	return c.api.BorrowerLoans(ctx, userID)
}

func (c *Controller) acquire(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, busy := c.inFlight[key]; busy {
		return false
	}
	c.inFlight[key] = struct{}{}
	return true
}

func (c *Controller) release(key string) {
	c.mu.Lock()
	delete(c.inFlight, key)
	c.mu.Unlock()
}

func (c *Controller) issueError(bookID int64, err error) error {
	kind, message := classify(err)
	if apiclient.KindOf(err) == apiclient.KindNotFound {
		message = "the book or borrower no longer exists"
	}
	c.logger.Warn("Issue failed", zap.Int64("book_id", bookID), zap.Error(err))
	return &IssueError{Kind: kind, BookID: bookID, Message: message, Err: err}
}

// classify maps transport failures onto the lending taxonomy
func classify(err error) (Kind, string) {
	switch apiclient.KindOf(err) {
	case apiclient.KindValidation:
		return KindValidation, err.Error()
	case apiclient.KindConflict, apiclient.KindNotFound:
		return KindConflict, err.Error()
	case apiclient.KindAuth:
		return KindAuth, err.Error()
	default:
		return KindNetwork, err.Error()
	}
}
