// Package inventory adds, edits and deletes catalog entries. It never changes
// local state; callers re-query the catalog after a confirmed mutation.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"library-desk/internal/apiclient"
	"library-desk/internal/models"

	"go.uber.org/zap"
)

// Kind classifies a failed mutation
type Kind string

const (
	KindValidation Kind = "validation"
	KindConflict   Kind = "conflict"
	KindNetwork    Kind = "network"
	KindAuth       Kind = "auth"
)

// MutationError is returned by every Client method
type MutationError struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *MutationError) Error() string {
	return e.Message
}

func (e *MutationError) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, or "" when err is not a *MutationError
func KindOf(err error) Kind {
	var mErr *MutationError
	if errors.As(err, &mErr) {
		return mErr.Kind
	}
	return ""
}

// BookWriter is the part of the lending API the inventory client calls
type BookWriter interface {
	CreateBook(ctx context.Context, draft models.BookDraft) (models.Book, error)
	UpdateBook(ctx context.Context, id int64, patch models.BookPatch) (models.Book, error)
	DeleteBook(ctx context.Context, id int64) error
}

type Client struct {
	api    BookWriter
	logger *zap.Logger
}

func NewClient(api BookWriter, logger *zap.Logger) *Client {
	return &Client{api: api, logger: logger}
}

// Create adds a book and returns it as stored by the server
func (c *Client) Create(ctx context.Context, draft models.BookDraft) (models.Book, error) {
	draft = draft.Normalize()
	if err := ValidateDraft(draft); err != nil {
		return models.Book{}, err
	}

	book, err := c.api.CreateBook(ctx, draft)
	if err != nil {
		return models.Book{}, c.wrap("create", err)
	}
	c.logger.Info("Book added", zap.Int64("book_id", book.ID), zap.String("isbn", book.ISBN))
	return book, nil
}

// Update applies a partial change
func (c *Client) Update(ctx context.Context, id int64, patch models.BookPatch) (models.Book, error) {
	if err := ValidatePatch(patch); err != nil {
		return models.Book{}, err
	}

	book, err := c.api.UpdateBook(ctx, id, patch)
	if err != nil {
		return models.Book{}, c.wrap("update", err)
	}
	c.logger.Info("Book updated", zap.Int64("book_id", book.ID))
	return book, nil
}

// Delete removes a book. A book with active loans yields a Conflict.
func (c *Client) Delete(ctx context.Context, id int64) error {
	if err := c.api.DeleteBook(ctx, id); err != nil {
		return c.wrap("delete", err)
	}
	c.logger.Info("Book deleted", zap.Int64("book_id", id))
	return nil
}

// ValidateDraft checks a new book before anything is sent
func ValidateDraft(d models.BookDraft) error {
	switch {
	case d.Title == "":
		return validation("title is required")
	case d.Author == "":
		return validation("author is required")
	case d.ISBN == "":
		return validation("isbn is required")
	case d.Quantity < 1:
		return validation("quantity must be at least 1")
	}
	return nil
}

// ValidatePatch checks an edit before anything is sent
func ValidatePatch(p models.BookPatch) error {
	switch {
	case p.Empty():
		return validation("nothing to update")
	case p.Title != nil && strings.TrimSpace(*p.Title) == "":
		return validation("title must not be empty")
	case p.Author != nil && strings.TrimSpace(*p.Author) == "":
		return validation("author must not be empty")
	case p.ISBN != nil && strings.TrimSpace(*p.ISBN) == "":
		return validation("isbn must not be empty")
	case p.Quantity != nil && *p.Quantity < 0:
		return validation("quantity must not be negative")
	}
	return nil
}

func validation(msg string) *MutationError {
	return &MutationError{Kind: KindValidation, Op: "validate", Message: msg}
}

// wrap maps transport failures onto the mutation taxonomy. A missing book
// is a conflict: someone else changed the catalog first.
func (c *Client) wrap(op string, err error) error {
	kind := KindNetwork
	message := err.Error()
	switch apiclient.KindOf(err) {
	case apiclient.KindValidation:
		kind = KindValidation
	case apiclient.KindConflict:
		kind = KindConflict
	case apiclient.KindNotFound:
		kind = KindConflict
		message = "the book no longer exists"
	case apiclient.KindAuth:
		kind = KindAuth
	case apiclient.KindServer:
		message = fmt.Sprintf("the lending service failed: %s", message)
	}

	c.logger.Warn("Book mutation failed", zap.String("op", op), zap.String("kind", string(kind)), zap.Error(err))
	return &MutationError{Kind: kind, Op: op, Message: message, Err: err}
}
