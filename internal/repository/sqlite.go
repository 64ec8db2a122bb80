package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"library-desk/internal/models"

	"github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	name          TEXT NOT NULL,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	role          TEXT NOT NULL DEFAULT 'customer',
	created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS books (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	title      TEXT NOT NULL,
	author     TEXT NOT NULL,
	isbn       TEXT NOT NULL UNIQUE,
	quantity   INTEGER NOT NULL DEFAULT 0 CHECK (quantity >= 0),
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS issues (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	book_id     INTEGER NOT NULL REFERENCES books(id) ON DELETE CASCADE,
	user_id     INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	issued_at   TEXT NOT NULL,
	returned_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_issues_book ON issues(book_id);
CREATE INDEX IF NOT EXISTS idx_issues_user ON issues(user_id);
`

// SQLiteStore is the lending API's storage. It implements BookRepository,
// LoanRepository and UserRepository over one database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath and applies the schema
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1&_journal_mode=WAL", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer; issue and return serialize on this connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping checks the database connection
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

// ListBooks returns one page of books filtered by a case-insensitive match on
// title, author or isbn. The requested page is clamped to [1, max(1, totalPages)].
func (s *SQLiteStore) ListBooks(ctx context.Context, q BookQuery) (models.CatalogPage, error) {
	where := ""
	args := []interface{}{}
	search := strings.TrimSpace(q.Search)
	if search != "" {
		like := "%" + search + "%"
		where = "WHERE title LIKE ? OR author LIKE ? OR isbn LIKE ?"
		args = append(args, like, like, like)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM books "+where, args...).Scan(&total); err != nil {
		return models.CatalogPage{}, fmt.Errorf("failed to count books: %w", err)
	}

	totalPages := models.TotalPagesFor(total, q.Limit)
	page := models.ClampPage(q.Page, totalPages)
	offset := (page - 1) * q.Limit

	query := "SELECT id, title, author, isbn, quantity FROM books " + where + " ORDER BY id ASC LIMIT ? OFFSET ?"
	rows, err := s.db.QueryContext(ctx, query, append(args, q.Limit, offset)...)
	if err != nil {
		return models.CatalogPage{}, fmt.Errorf("failed to list books: %w", err)
	}
	defer rows.Close()

	books := make([]models.Book, 0, q.Limit)
	for rows.Next() {
		var b models.Book
		if err := rows.Scan(&b.ID, &b.Title, &b.Author, &b.ISBN, &b.Quantity); err != nil {
			return models.CatalogPage{}, fmt.Errorf("failed to scan book: %w", err)
		}
		books = append(books, b)
	}
	if err := rows.Err(); err != nil {
		return models.CatalogPage{}, fmt.Errorf("error iterating books: %w", err)
	}

	return models.CatalogPage{
		Books:       books,
		CurrentPage: page,
		TotalPages:  totalPages,
		Search:      search,
	}, nil
}

// GetBook finds a book by ID
func (s *SQLiteStore) GetBook(ctx context.Context, id int64) (models.Book, error) {
	return getBook(ctx, s.db, id)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func getBook(ctx context.Context, q queryRower, id int64) (models.Book, error) {
	var b models.Book
	err := q.QueryRowContext(ctx,
		"SELECT id, title, author, isbn, quantity FROM books WHERE id = ?", id,
	).Scan(&b.ID, &b.Title, &b.Author, &b.ISBN, &b.Quantity)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Book{}, ErrBookNotFound
		}
		return models.Book{}, fmt.Errorf("failed to find book: %w", err)
	}
	return b, nil
}

// CreateBook inserts a new book
func (s *SQLiteStore) CreateBook(ctx context.Context, draft models.BookDraft) (models.Book, error) {
	ts := now()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO books (title, author, isbn, quantity, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
		draft.Title, draft.Author, draft.ISBN, draft.Quantity, ts, ts,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return models.Book{}, ErrDuplicateISBN
		}
		return models.Book{}, fmt.Errorf("failed to insert book: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return models.Book{}, fmt.Errorf("failed to read book id: %w", err)
	}

	return models.Book{
		ID:       id,
		Title:    draft.Title,
		Author:   draft.Author,
		ISBN:     draft.ISBN,
		Quantity: draft.Quantity,
	}, nil
}

// UpdateBook applies a partial update
func (s *SQLiteStore) UpdateBook(ctx context.Context, id int64, patch models.BookPatch) (models.Book, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Book{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := getBook(ctx, tx, id)
	if err != nil {
		return models.Book{}, err
	}
	updated := patch.Apply(current)

	_, err = tx.ExecContext(ctx,
		"UPDATE books SET title = ?, author = ?, isbn = ?, quantity = ?, updated_at = ? WHERE id = ?",
		updated.Title, updated.Author, updated.ISBN, updated.Quantity, now(), id,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return models.Book{}, ErrDuplicateISBN
		}
		return models.Book{}, fmt.Errorf("failed to update book: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return models.Book{}, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return updated, nil
}

// DeleteBook removes a book and its returned issue history.
// A book with ACTIVE loans cannot be deleted.
func (s *SQLiteStore) DeleteBook(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := getBook(ctx, tx, id); err != nil {
		return err
	}

	var active int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM issues WHERE book_id = ? AND returned_at IS NULL", id,
	).Scan(&active); err != nil {
		return fmt.Errorf("failed to count active issues: %w", err)
	}
	if active > 0 {
		return ErrBookHasActiveLoans
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM books WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete book: %w", err)
	}
	return tx.Commit()
}

// CountActiveLoans returns the number of unreturned issues of a book
func (s *SQLiteStore) CountActiveLoans(ctx context.Context, bookID int64) (int, error) {
	var active int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM issues WHERE book_id = ? AND returned_at IS NULL", bookID,
	).Scan(&active)
	if err != nil {
		return 0, fmt.Errorf("failed to count active issues: %w", err)
	}
	return active, nil
}

// IssueBook creates an ACTIVE loan and takes one copy off the shelf
func (s *SQLiteStore) IssueBook(ctx context.Context, bookID, userID int64) (models.Loan, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Loan{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := getBook(ctx, tx, bookID); err != nil {
		return models.Loan{}, err
	}
	if _, err := getUser(ctx, tx, userID); err != nil {
		return models.Loan{}, err
	}

	res, err := tx.ExecContext(ctx,
		"UPDATE books SET quantity = quantity - 1, updated_at = ? WHERE id = ? AND quantity > 0",
		now(), bookID,
	)
	if err != nil {
		return models.Loan{}, fmt.Errorf("failed to decrement quantity: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.Loan{}, ErrNoCopiesAvailable
	}

	issuedAt := time.Now().UTC()
	res, err = tx.ExecContext(ctx,
		"INSERT INTO issues (book_id, user_id, issued_at) VALUES (?, ?, ?)",
		bookID, userID, issuedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return models.Loan{}, fmt.Errorf("failed to insert issue: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.Loan{}, fmt.Errorf("failed to read issue id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return models.Loan{}, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return models.Loan{ID: id, BookID: bookID, UserID: userID, IssuedAt: issuedAt}, nil
}

// ReturnLoan marks an ACTIVE loan RETURNED and puts the copy back.
// The transition happens once; a second return yields ErrAlreadyReturned.
func (s *SQLiteStore) ReturnLoan(ctx context.Context, loanID int64) (models.Loan, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Loan{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	loan, err := getLoan(ctx, tx, loanID)
	if err != nil {
		return models.Loan{}, err
	}
	if !loan.Active() {
		return models.Loan{}, ErrAlreadyReturned
	}

	returnedAt := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		"UPDATE issues SET returned_at = ? WHERE id = ? AND returned_at IS NULL",
		returnedAt.Format(time.RFC3339Nano), loanID,
	)
	if err != nil {
		return models.Loan{}, fmt.Errorf("failed to mark issue returned: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.Loan{}, ErrAlreadyReturned
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE books SET quantity = quantity + 1, updated_at = ? WHERE id = ?",
		now(), loan.BookID,
	); err != nil {
		return models.Loan{}, fmt.Errorf("failed to increment quantity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return models.Loan{}, fmt.Errorf("failed to commit transaction: %w", err)
	}

	loan.ReturnedAt = &returnedAt
	return loan, nil
}

const loanColumns = "SELECT id, book_id, user_id, issued_at, returned_at FROM issues"

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanLoan(row scanner) (models.Loan, error) {
	var l models.Loan
	var issuedAt string
	var returnedAt sql.NullString
	if err := row.Scan(&l.ID, &l.BookID, &l.UserID, &issuedAt, &returnedAt); err != nil {
		return models.Loan{}, err
	}
	if t, err := time.Parse(time.RFC3339Nano, issuedAt); err == nil {
		l.IssuedAt = t
	}
	if returnedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, returnedAt.String); err == nil {
			l.ReturnedAt = &t
		}
	}
	return l, nil
}

func getLoan(ctx context.Context, q queryRower, id int64) (models.Loan, error) {
	l, err := scanLoan(q.QueryRowContext(ctx, loanColumns+" WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Loan{}, ErrLoanNotFound
		}
		return models.Loan{}, fmt.Errorf("failed to find issue: %w", err)
	}
	return l, nil
}

// ListLoans returns every issue, newest first
func (s *SQLiteStore) ListLoans(ctx context.Context) ([]models.Loan, error) {
	return s.listLoans(ctx, loanColumns+" ORDER BY id DESC")
}

// ListLoansByUser returns the issues of one borrower, newest first
func (s *SQLiteStore) ListLoansByUser(ctx context.Context, userID int64) ([]models.Loan, error) {
	return s.listLoans(ctx, loanColumns+" WHERE user_id = ? ORDER BY id DESC", userID)
}

func (s *SQLiteStore) listLoans(ctx context.Context, query string, args ...interface{}) ([]models.Loan, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list issues: %w", err)
	}
	defer rows.Close()

	loans := make([]models.Loan, 0)
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan issue: %w", err)
		}
		loans = append(loans, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating issues: %w", err)
	}
	return loans, nil
}

// CreateUser inserts an account with an already hashed password
func (s *SQLiteStore) CreateUser(ctx context.Context, draft models.UserDraft, passwordHash string) (models.User, error) {
	email := strings.ToLower(strings.TrimSpace(draft.Email))
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO users (name, email, password_hash, role, created_at) VALUES (?, ?, ?, ?, ?)",
		strings.TrimSpace(draft.Name), email, passwordHash, string(draft.Role), now(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return models.User{}, ErrDuplicateEmail
		}
		return models.User{}, fmt.Errorf("failed to insert user: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return models.User{}, fmt.Errorf("failed to read user id: %w", err)
	}
	return models.User{ID: id, Name: strings.TrimSpace(draft.Name), Email: email, Role: draft.Role}, nil
}

// GetUser finds a user by ID
func (s *SQLiteStore) GetUser(ctx context.Context, id int64) (models.User, error) {
	return getUser(ctx, s.db, id)
}

func getUser(ctx context.Context, q queryRower, id int64) (models.User, error) {
	var u models.User
	var role string
	err := q.QueryRowContext(ctx, "SELECT id, name, email, role FROM users WHERE id = ?", id).
		Scan(&u.ID, &u.Name, &u.Email, &role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, ErrUserNotFound
		}
		return models.User{}, fmt.Errorf("failed to find user: %w", err)
	}
	u.Role = models.Role(role)
	return u, nil
}

// FindUserByEmail returns the user with the given email and its password hash
func (s *SQLiteStore) FindUserByEmail(ctx context.Context, email string) (models.User, string, error) {
	var u models.User
	var role, hash string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, email, role, password_hash FROM users WHERE email = ?",
		strings.ToLower(strings.TrimSpace(email)),
	).Scan(&u.ID, &u.Name, &u.Email, &role, &hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, "", ErrUserNotFound
		}
		return models.User{}, "", fmt.Errorf("failed to find user: %w", err)
	}
	u.Role = models.Role(role)
	return u, hash, nil
}

// CountUsers returns the number of accounts
func (s *SQLiteStore) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}
