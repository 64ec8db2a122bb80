package models

import (
	"strings"
	"time"
)

// Role identifies which dashboard a user is routed to after login
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleLibrarian Role = "librarian"
	RoleCustomer  Role = "customer"
)

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleLibrarian, RoleCustomer:
		return true
	}
	return false
}

// CanManageCatalog reports whether the role may add, edit, delete, issue and return books
func (r Role) CanManageCatalog() bool {
	return r == RoleAdmin || r == RoleLibrarian
}

// Book is a catalog entry. Quantity counts copies available for new issues.
type Book struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	Author   string `json:"author"`
	ISBN     string `json:"isbn"`
	Quantity int    `json:"quantity"`
}

// BookDraft is the payload for creating a book
type BookDraft struct {
	Title    string `json:"title"`
	Author   string `json:"author"`
	ISBN     string `json:"isbn"`
	Quantity int    `json:"quantity"`
}

// Normalize trims surrounding whitespace from the text fields
func (d BookDraft) Normalize() BookDraft {
	d.Title = strings.TrimSpace(d.Title)
	d.Author = strings.TrimSpace(d.Author)
	d.ISBN = strings.TrimSpace(d.ISBN)
	return d
}

// BookPatch carries a partial update; nil fields are left untouched
type BookPatch struct {
	Title    *string `json:"title,omitempty"`
	Author   *string `json:"author,omitempty"`
	ISBN     *string `json:"isbn,omitempty"`
	Quantity *int    `json:"quantity,omitempty"`
}

// Empty reports whether the patch changes nothing
func (p BookPatch) Empty() bool {
	return p.Title == nil && p.Author == nil && p.ISBN == nil && p.Quantity == nil
}

// Apply returns b with the patch applied
func (p BookPatch) Apply(b Book) Book {
	if p.Title != nil {
		b.Title = strings.TrimSpace(*p.Title)
	}
	if p.Author != nil {
		b.Author = strings.TrimSpace(*p.Author)
	}
	if p.ISBN != nil {
		b.ISBN = strings.TrimSpace(*p.ISBN)
	}
	if p.Quantity != nil {
		b.Quantity = *p.Quantity
	}
	return b
}

// LoanStatus is derived from ReturnedAt
type LoanStatus string

const (
	LoanActive   LoanStatus = "ACTIVE"
	LoanReturned LoanStatus = "RETURNED"
)

// Loan links one borrower to one book copy. It is ACTIVE until ReturnedAt is set,
// and the transition to RETURNED happens at most once.
type Loan struct {
	ID         int64      `json:"id"`
	BookID     int64      `json:"book_id"`
	UserID     int64      `json:"user_id"`
	IssuedAt   time.Time  `json:"issued_at"`
	ReturnedAt *time.Time `json:"returned_at"`
}

// Status returns ACTIVE or RETURNED
func (l Loan) Status() LoanStatus {
	if l.ReturnedAt != nil {
		return LoanReturned
	}
	return LoanActive
}

// Active is shorthand for Status() == LoanActive
func (l Loan) Active() bool { return l.ReturnedAt == nil }

// User is an account of the lending service. The password hash never leaves the server.
type User struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// UserDraft is the payload of the admin "add user" form
type UserDraft struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     Role   `json:"role"`
}

// CatalogPage is one page of the book list as returned by the lending API.
// It is a view artifact: always replaced as a whole, never merged.
type CatalogPage struct {
	Books       []Book `json:"books"`
	CurrentPage int    `json:"currentPage"`
	TotalPages  int    `json:"totalPages"`
	Search      string `json:"-"`
}

// TotalPagesFor returns ceil(total/size), zero when there is nothing to show
func TotalPagesFor(total, size int) int {
	if size <= 0 || total <= 0 {
		return 0
	}
	return (total + size - 1) / size
}

// ClampPage keeps page within [1, max(1, totalPages)]
func ClampPage(page, totalPages int) int {
	upper := totalPages
	if upper < 1 {
		upper = 1
	}
	if page < 1 {
		return 1
	}
	if page > upper {
		return upper
	}
	return page
}
