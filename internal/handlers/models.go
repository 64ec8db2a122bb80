package handlers

// ErrorResponse documents the error body written by the error middleware
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

// SuccessResponse is returned by endpoints without a resource to show
type SuccessResponse struct {
	Message string `json:"message"`
}

// CreateBookRequest is the body of POST /api/books
type CreateBookRequest struct {
	Title    string `json:"title"`
	Author   string `json:"author"`
	ISBN     string `json:"isbn"`
	Quantity *int   `json:"quantity"`
}

// UpdateBookRequest is the body of PUT /api/books/:id. Absent fields are kept.
type UpdateBookRequest struct {
	Title    *string `json:"title"`
	Author   *string `json:"author"`
	ISBN     *string `json:"isbn"`
	Quantity *int    `json:"quantity"`
}

// IssueRequest is the body of POST /api/books/issue
type IssueRequest struct {
	BookID int64 `json:"book_id" binding:"required,min=1"`
	UserID int64 `json:"user_id" binding:"required,min=1"`
}

// ReturnRequest is the body of POST /api/books/return
type ReturnRequest struct {
	IssueID int64 `json:"issue_id" binding:"required,min=1"`
}

// AddUserRequest is the body of POST /users/add
type AddUserRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
	Role     string `json:"role"`
}
