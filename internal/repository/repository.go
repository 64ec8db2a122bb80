package repository

import (
	"context"
	"errors"

	"library-desk/internal/models"
)

var (
	ErrBookNotFound       = errors.New("book not found")
	ErrLoanNotFound       = errors.New("issue record not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrDuplicateISBN      = errors.New("duplicate isbn")
	ErrDuplicateEmail     = errors.New("duplicate email")
	ErrNoCopiesAvailable  = errors.New("no copies available")
	ErrBookHasActiveLoans = errors.New("book has active loans")
	ErrAlreadyReturned    = errors.New("loan already returned")
)

// BookQuery selects one page of the catalog
type BookQuery struct {
	Page   int
	Limit  int
	Search string
}

// BookRepository defines catalog persistence
type BookRepository interface {
	ListBooks(ctx context.Context, q BookQuery) (models.CatalogPage, error)
	GetBook(ctx context.Context, id int64) (models.Book, error)
	CreateBook(ctx context.Context, draft models.BookDraft) (models.Book, error)
	UpdateBook(ctx context.Context, id int64, patch models.BookPatch) (models.Book, error)
	DeleteBook(ctx context.Context, id int64) error
	CountActiveLoans(ctx context.Context, bookID int64) (int, error)
}

// LoanRepository defines loan persistence. IssueBook and ReturnLoan change the
// book quantity in the same transaction as the loan row.
type LoanRepository interface {
	IssueBook(ctx context.Context, bookID, userID int64) (models.Loan, error)
	ReturnLoan(ctx context.Context, loanID int64) (models.Loan, error)
	ListLoans(ctx context.Context) ([]models.Loan, error)
	ListLoansByUser(ctx context.Context, userID int64) ([]models.Loan, error)
}

// UserRepository defines account persistence
type UserRepository interface {
	CreateUser(ctx context.Context, draft models.UserDraft, passwordHash string) (models.User, error)
	GetUser(ctx context.Context, id int64) (models.User, error)
	// FindUserByEmail returns the user and its password hash
	FindUserByEmail(ctx context.Context, email string) (models.User, string, error)
	CountUsers(ctx context.Context) (int, error)
}
