package view

import (
	"library-desk/internal/catalog"
	"library-desk/internal/models"
)

// Modal identifies the single dialog a dashboard may show
type Modal int

const (
	ModalNone Modal = iota
	ModalAddBook
	ModalEditBook
	ModalAddUser
	ModalIssue
	ModalReturn
	ModalConfirmDelete
)

func (m Modal) String() string {
	switch m {
	case ModalAddBook:
		return "add book"
	case ModalEditBook:
		return "edit book"
	case ModalAddUser:
		return "add user"
	case ModalIssue:
		return "issue"
	case ModalReturn:
		return "return"
	case ModalConfirmDelete:
		return "confirm delete"
	default:
		return "none"
	}
}

// State is one snapshot of a dashboard. It is replaced as a whole on every
// change; slices and pointers in a published State are never written again.
type State struct {
	User models.User

	CurrentPage         int
	TotalPages          int
	SearchTerm          string
	DebouncedSearchTerm string
	Books               []models.Book

	Loans     []models.Loan
	LoansPage int

	Modal        Modal
	SelectedBook *models.Book
	SelectedLoan *models.Loan

	Submitting bool
	Loading    bool
	Err        string
	Notice     string
}

// LastPage is the highest page navigation may reach
func (s State) LastPage() int {
	if s.TotalPages < 1 {
		return 1
	}
	return s.TotalPages
}

// LoansTotalPages is the number of client-side pages of Loans
func (s State) LoansTotalPages() int {
	return models.TotalPagesFor(len(s.Loans), catalog.PageSize)
}

// LoansOnPage returns the loans shown on client-side page n, clamped
func (s State) LoansOnPage(n int) []models.Loan {
	n = models.ClampPage(n, s.LoansTotalPages())
	start := (n - 1) * catalog.PageSize
	if start >= len(s.Loans) {
		return nil
	}
	end := start + catalog.PageSize
	if end > len(s.Loans) {
		end = len(s.Loans)
	}
	return s.Loans[start:end]
}

// ActiveLoans counts loans without a return date
func (s State) ActiveLoans() int {
	n := 0
	for _, l := range s.Loans {
		if l.Active() {
			n++
		}
	}
	return n
}
