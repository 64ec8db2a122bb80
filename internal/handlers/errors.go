package handlers

import (
	stderrors "errors"

	"library-desk/internal/repository"
	"library-desk/pkg/errors"
)

// toStandardError maps repository failures onto the API error codes
func toStandardError(err error, id int64, operation string) *errors.StandardError {
	switch {
	case stderrors.Is(err, repository.ErrBookNotFound):
		return errors.NewBookNotFound(id)
	case stderrors.Is(err, repository.ErrLoanNotFound):
		return errors.NewLoanNotFound(id)
	case stderrors.Is(err, repository.ErrUserNotFound):
		return errors.NewUserNotFound(id)
	case stderrors.Is(err, repository.ErrNoCopiesAvailable):
		return errors.NewNoCopiesAvailable(id)
	case stderrors.Is(err, repository.ErrAlreadyReturned):
		return errors.NewAlreadyReturned(id)
	default:
		return errors.NewDatabaseError(operation, err)
	}
}
