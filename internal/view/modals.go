package view

import (
	"context"
	"net/mail"
	"strings"

	"library-desk/internal/models"

	"go.uber.org/zap"
)

// OpenAddBook shows the add book form
func (c *Coordinator) OpenAddBook() error {
	return c.open(ModalAddBook, nil, nil)
}

// OpenEditBook shows the edit form for book
func (c *Coordinator) OpenEditBook(book models.Book) error {
	return c.open(ModalEditBook, &book, nil)
}

// OpenConfirmDelete asks for confirmation before deleting book
func (c *Coordinator) OpenConfirmDelete(book models.Book) error {
	return c.open(ModalConfirmDelete, &book, nil)
}

// OpenIssue shows the issue form for book
func (c *Coordinator) OpenIssue(book models.Book) error {
	return c.open(ModalIssue, &book, nil)
}

// OpenReturn asks for confirmation before returning loan
func (c *Coordinator) OpenReturn(loan models.Loan) error {
	return c.open(ModalReturn, nil, &loan)
}

// OpenAddUser shows the add user form
func (c *Coordinator) OpenAddUser() error {
	return c.open(ModalAddUser, nil, nil)
}

// CloseModal hides the open modal and clears the selection
func (c *Coordinator) CloseModal() error {
	return c.open(ModalNone, nil, nil)
}

func (c *Coordinator) open(modal Modal, book *models.Book, loan *models.Loan) error {
	var err error
	c.update(func(s *State) bool {
		if s.Submitting {
			err = ErrSubmitInProgress
			return false
		}
		s.Modal = modal
		s.SelectedBook = book
		s.SelectedLoan = loan
		s.Err = ""
		return true
	})
	return err
}

// AddBook submits the add book form
func (c *Coordinator) AddBook(ctx context.Context, draft models.BookDraft) error {
	if _, err := c.beginSubmit(); err != nil {
		return err
	}
	book, err := c.inventory.Create(ctx, draft)
	if err != nil {
		return c.endSubmit(err)
	}
	c.succeed(ctx, "Added \""+book.Title+"\"", false)
	return nil
}

// EditBook submits the edit form for the selected book
func (c *Coordinator) EditBook(ctx context.Context, patch models.BookPatch) error {
	s, err := c.beginSubmit()
	if err != nil {
		return err
	}
	if s.SelectedBook == nil {
		return c.endSubmit(ErrNoSelection)
	}
	book, err := c.inventory.Update(ctx, s.SelectedBook.ID, patch)
	if err != nil {
		return c.endSubmit(err)
	}
	c.succeed(ctx, "Updated \""+book.Title+"\"", false)
	return nil
}

// DeleteBook deletes the selected book. Removing the only book on the last
// page moves the cursor back one page before reloading.
func (c *Coordinator) DeleteBook(ctx context.Context) error {
	s, err := c.beginSubmit()
	if err != nil {
		return err
	}
	if s.SelectedBook == nil {
		return c.endSubmit(ErrNoSelection)
	}
	book := *s.SelectedBook
	if err := c.inventory.Delete(ctx, book.ID); err != nil {
		return c.endSubmit(err)
	}

	emptiesLastPage := len(s.Books) == 1 && s.Books[0].ID == book.ID && s.CurrentPage >= s.TotalPages
	if emptiesLastPage {
		c.update(func(s *State) bool {
			s.CurrentPage = max(1, s.TotalPages-1)
			return true
		})
	}
	c.succeed(ctx, "Deleted \""+book.Title+"\"", false)
	return nil
}

// IssueBook lends the selected book to borrowerID
func (c *Coordinator) IssueBook(ctx context.Context, borrowerID int64) error {
	s, err := c.beginSubmit()
	if err != nil {
		return err
	}
	if s.SelectedBook == nil {
		return c.endSubmit(ErrNoSelection)
	}
	if _, err := c.lending.Issue(ctx, s.SelectedBook.ID, borrowerID); err != nil {
		return c.endSubmit(err)
	}
	c.succeed(ctx, "Issued \""+s.SelectedBook.Title+"\"", true)
	return nil
}

// ReturnLoan closes the selected loan
func (c *Coordinator) ReturnLoan(ctx context.Context) error {
	s, err := c.beginSubmit()
	if err != nil {
		return err
	}
	if s.SelectedLoan == nil {
		return c.endSubmit(ErrNoSelection)
	}
	if _, err := c.lending.Return(ctx, *s.SelectedLoan); err != nil {
		return c.endSubmit(err)
	}
	c.succeed(ctx, "Book returned", true)
	return nil
}

// AddUser submits the add user form. The role defaults to customer.
func (c *Coordinator) AddUser(ctx context.Context, draft models.UserDraft) error {
	if _, err := c.beginSubmit(); err != nil {
		return err
	}
	draft.Name = strings.TrimSpace(draft.Name)
	draft.Email = strings.TrimSpace(draft.Email)
	if draft.Role == "" {
		draft.Role = models.RoleCustomer
	}
	if err := validateUser(draft); err != nil {
		return c.endSubmit(err)
	}

	user, err := c.accounts.AddUser(ctx, draft)
	if err != nil {
		return c.endSubmit(err)
	}
	c.update(func(s *State) bool {
		s.Submitting = false
		s.Modal = ModalNone
		s.SelectedBook, s.SelectedLoan = nil, nil
		s.Notice = "Created account for " + user.Email
		return true
	})
	c.logger.Info("User added", zap.Int64("user_id", user.ID), zap.String("role", string(user.Role)))
	return nil
}

type formError string

func (e formError) Error() string { return string(e) }

func validateUser(d models.UserDraft) error {
	switch {
	case d.Name == "":
		return formError("name is required")
	case d.Email == "":
		return formError("email is required")
	case len(d.Password) < 6:
		return formError("password must be at least 6 characters")
	case !d.Role.Valid():
		return formError("unknown role " + string(d.Role))
	}
	if _, err := mail.ParseAddress(d.Email); err != nil {
		return formError("email is not valid")
	}
	return nil
}

// beginSubmit claims the submitting flag and returns the state it was claimed in
func (c *Coordinator) beginSubmit() (State, error) {
	var (
		claimed State
		err     error
	)
	c.update(func(s *State) bool {
		if s.Submitting {
			err = ErrSubmitInProgress
			return false
		}
		s.Submitting = true
		s.Err, s.Notice = "", ""
		claimed = *s
		return true
	})
	return claimed, err
}

// endSubmit records a failed submission. The modal stays open and nothing
// already on screen changes.
func (c *Coordinator) endSubmit(err error) error {
	c.update(func(s *State) bool {
		s.Submitting = false
		s.Err = err.Error()
		return true
	})
	c.logger.Debug("Submission failed", zap.Error(err))
	return err
}

// succeed closes the modal and reloads what the mutation may have changed
func (c *Coordinator) succeed(ctx context.Context, notice string, loansChanged bool) {
	c.update(func(s *State) bool {
		s.Submitting = false
		s.Modal = ModalNone
		s.SelectedBook, s.SelectedLoan = nil, nil
		s.Notice = notice
		return true
	})

	// reload failures are shown as Err; the mutation itself stands
	_ = c.Load(ctx)
	if loansChanged || len(c.State().Loans) > 0 {
		_ = c.reloadLoans(ctx)
	}
}
