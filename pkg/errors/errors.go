package errors

import (
	"fmt"
	"net/http"
)

// Error codes shared by the lending API and its clients
const (
	CodeInvalidRequest  = "InvalidRequest"
	CodeValidation      = "ValidationError"
	CodeUnauthorized    = "Unauthorized"
	CodeForbidden       = "Forbidden"
	CodeBookNotFound    = "BookNotFound"
	CodeLoanNotFound    = "LoanNotFound"
	CodeUserNotFound    = "UserNotFound"
	CodeDuplicateISBN   = "DuplicateISBN"
	CodeDuplicateEmail  = "DuplicateEmail"
	CodeConflict        = "Conflict"
	CodeNoCopies        = "NoCopiesAvailable"
	CodeActiveLoans     = "BookHasActiveLoans"
	CodeAlreadyReturned = "AlreadyReturned"
	CodeInProgress      = "RequestInProgress"
	CodeDatabase        = "DatabaseError"
	CodeInternal        = "InternalError"
)

// StandardError represents a standardized error response.
// Message is serialized under "error" so any client reading that field gets a readable text.
type StandardError struct {
	Code    string `json:"code"`              // Error code/type (e.g., "InvalidRequest", "BookNotFound")
	Message string `json:"error"`             // Human-readable error message
	Details string `json:"details,omitempty"` // Additional details (field name, ids, etc.)
}

// Error implements the error interface
func (e *StandardError) Error() string {
	return e.Message
}

// HTTPStatus returns the appropriate HTTP status code for the error
func (e *StandardError) HTTPStatus() int {
	switch e.Code {
	case CodeInvalidRequest, CodeValidation:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeBookNotFound, CodeLoanNotFound, CodeUserNotFound:
		return http.StatusNotFound
	case CodeDuplicateISBN, CodeDuplicateEmail, CodeConflict, CodeNoCopies, CodeActiveLoans, CodeAlreadyReturned, CodeInProgress:
		return http.StatusConflict
	case CodeDatabase, CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// NewStandardError creates a new StandardError
func NewStandardError(errorCode, message, details string) *StandardError {
	return &StandardError{
		Code:    errorCode,
		Message: message,
		Details: details,
	}
}

// Common error constructors
func NewInvalidRequest(message, details string) *StandardError {
	return NewStandardError(CodeInvalidRequest, message, details)
}

func NewValidationError(message, field string) *StandardError {
	return NewStandardError(CodeValidation, message, fmt.Sprintf("Field: %s", field))
}

func NewUnauthorized(message, details string) *StandardError {
	return NewStandardError(CodeUnauthorized, message, details)
}

func NewForbidden(message string) *StandardError {
	return NewStandardError(CodeForbidden, message, "")
}

func NewBookNotFound(bookID int64) *StandardError {
	return NewStandardError(CodeBookNotFound, "book not found", fmt.Sprintf("Book ID: %d", bookID))
}

func NewLoanNotFound(loanID int64) *StandardError {
	return NewStandardError(CodeLoanNotFound, "issue record not found", fmt.Sprintf("Issue ID: %d", loanID))
}

func NewUserNotFound(userID int64) *StandardError {
	return NewStandardError(CodeUserNotFound, "user not found", fmt.Sprintf("User ID: %d", userID))
}

func NewDuplicateISBN(isbn string) *StandardError {
	return NewStandardError(CodeDuplicateISBN, "a book with this ISBN already exists", fmt.Sprintf("ISBN: %s", isbn))
}

func NewDuplicateEmail(email string) *StandardError {
	return NewStandardError(CodeDuplicateEmail, "a user with this email already exists", fmt.Sprintf("Email: %s", email))
}

func NewNoCopiesAvailable(bookID int64) *StandardError {
	return NewStandardError(CodeNoCopies, "book is not available for issue", fmt.Sprintf("Book ID: %d, Quantity: 0", bookID))
}

func NewBookHasActiveLoans(bookID int64, active int) *StandardError {
	return NewStandardError(CodeActiveLoans, "cannot delete a book that is currently issued",
		fmt.Sprintf("Book ID: %d, Active issues: %d", bookID, active))
}

func NewAlreadyReturned(loanID int64) *StandardError {
	return NewStandardError(CodeAlreadyReturned, "book already returned", fmt.Sprintf("Issue ID: %d", loanID))
}

func NewRequestInProgress(requestID string) *StandardError {
	return NewStandardError(CodeInProgress, "a request with this id is still being processed", fmt.Sprintf("Request ID: %s", requestID))
}

func NewDatabaseError(operation string, err error) *StandardError {
	return NewStandardError(CodeDatabase, fmt.Sprintf("database operation failed: %s", operation), err.Error())
}

func NewInternalError(message string, err error) *StandardError {
	details := ""
	if err != nil {
		details = err.Error()
	}
	return NewStandardError(CodeInternal, message, details)
}
