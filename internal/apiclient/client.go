package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"library-desk/internal/models"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const (
	requestIDHeader = "X-Request-ID"
	sessionCookie   = "token"

	// breakerTrips is the number of consecutive transport or 5xx failures
	// after which calls fail fast for breakerCooldown
	breakerTrips    = 5
	breakerCooldown = 30 * time.Second
)

var errServerStatus = errors.New("server error status")

// Client is a credentialed HTTP client of the lending API.
// The session cookie set on login is kept in the client's cookie jar and
// mirrored as a bearer token so it can be persisted between CLI runs.
type Client struct {
	logger  *zap.Logger
	conn    *resty.Client
	breaker *gobreaker.CircuitBreaker

	mu    sync.RWMutex
	token string
}

// New creates a client for the API at baseURL
func New(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	conn := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	conn.OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
		if r.Header.Get(requestIDHeader) == "" {
			r.SetHeader(requestIDHeader, uuid.New().String())
		}
		return nil
	})

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "lending-api",
		MaxRequests: 1,
		Timeout:     breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerTrips
		},
		// Superseded queries are cancelled on purpose
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &Client{logger: logger, conn: conn, breaker: breaker}
}

// Token returns the current session token, empty when logged out
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SetToken restores a session token saved by a previous run
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.conn.SetAuthToken(token)
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// do executes one request. result may be nil.
func (c *Client) do(ctx context.Context, method, path string, query map[string]string, body, result interface{}) (*resty.Response, error) {
	req := c.conn.R().SetContext(ctx)
	if query != nil {
		req.SetQueryParams(query)
	}
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := req.Execute(method, path)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode() >= http.StatusInternalServerError {
			return resp, errServerStatus
		}
		return resp, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &Error{Kind: KindNetwork, Message: "too many recent failures, try again shortly", Err: err}
	}
	if err != nil && !errors.Is(err, errServerStatus) {
		c.logger.Debug("Request failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return nil, &Error{Kind: KindNetwork, Message: err.Error(), Err: err}
	}
	resp := out.(*resty.Response)

	status := resp.StatusCode()
	if status < 200 || status > 299 {
		apiErr := &Error{Kind: kindForStatus(status), Status: status}
		var eb errorBody
		if json.Unmarshal(resp.Body(), &eb) == nil {
			apiErr.Code = eb.Code
			apiErr.Message = eb.Error
			if apiErr.Message == "" {
				apiErr.Message = eb.Message
			}
		}
		if apiErr.Message == "" {
			apiErr.Message = strings.ToLower(http.StatusText(status))
		}
		c.logger.Debug("Request rejected",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.String("code", apiErr.Code),
		)
		return resp, apiErr
	}

	if result != nil {
		if err := json.Unmarshal(resp.Body(), result); err != nil {
			return resp, &Error{Kind: KindServer, Status: status, Message: "malformed response from the lending service", Err: err}
		}
	}
	return resp, nil
}

// ListBooks fetches one catalog page
func (c *Client) ListBooks(ctx context.Context, page, limit int, search string) (models.CatalogPage, error) {
	query := map[string]string{
		"page":  strconv.Itoa(page),
		"limit": strconv.Itoa(limit),
	}
	if search != "" {
		query["search"] = search
	}

	var out models.CatalogPage
	if _, err := c.do(ctx, http.MethodGet, "/api/books", query, nil, &out); err != nil {
		return models.CatalogPage{}, err
	}
	if out.Books == nil {
		out.Books = []models.Book{}
	}
	out.Search = search
	return out, nil
}

// GetBook fetches a single book
func (c *Client) GetBook(ctx context.Context, id int64) (models.Book, error) {
	var out models.Book
	_, err := c.do(ctx, http.MethodGet, bookPath(id), nil, nil, &out)
	return out, err
}

// CreateBook adds a book to the catalog
func (c *Client) CreateBook(ctx context.Context, draft models.BookDraft) (models.Book, error) {
	var out models.Book
	_, err := c.do(ctx, http.MethodPost, "/api/books", nil, draft, &out)
	return out, err
}

// UpdateBook applies a partial update
func (c *Client) UpdateBook(ctx context.Context, id int64, patch models.BookPatch) (models.Book, error) {
	var out models.Book
	_, err := c.do(ctx, http.MethodPut, bookPath(id), nil, patch, &out)
	return out, err
}

// DeleteBook removes a book
func (c *Client) DeleteBook(ctx context.Context, id int64) error {
	_, err := c.do(ctx, http.MethodDelete, bookPath(id), nil, nil, nil)
	return err
}

// IssueBook lends one copy of a book to a borrower
func (c *Client) IssueBook(ctx context.Context, bookID, userID int64) (models.Loan, error) {
	var out models.Loan
	body := map[string]int64{"book_id": bookID, "user_id": userID}
	_, err := c.do(ctx, http.MethodPost, "/api/books/issue", nil, body, &out)
	return out, err
}

// ReturnBook closes a loan
func (c *Client) ReturnBook(ctx context.Context, loanID int64) (models.Loan, error) {
	var out models.Loan
	body := map[string]int64{"issue_id": loanID}
	_, err := c.do(ctx, http.MethodPost, "/api/books/return", nil, body, &out)
	return out, err
}

// IssuedLoans lists every loan
func (c *Client) IssuedLoans(ctx context.Context) ([]models.Loan, error) {
	out := []models.Loan{}
	_, err := c.do(ctx, http.MethodGet, "/api/books/fetchissued", nil, nil, &out)
	return out, err
}

// BorrowerLoans lists the loans of one borrower
func (c *Client) BorrowerLoans(ctx context.Context, userID int64) ([]models.Loan, error) {
	out := []models.Loan{}
	_, err := c.do(ctx, http.MethodGet, "/api/books/issuedbooks/"+strconv.FormatInt(userID, 10), nil, nil, &out)
	return out, err
}

type userEnvelope struct {
	User models.User `json:"user"`
}

// Login opens a session and returns the logged-in user
func (c *Client) Login(ctx context.Context, email, password string) (models.User, error) {
	var out userEnvelope
	resp, err := c.do(ctx, http.MethodPost, "/auth/login", nil, map[string]string{"email": email, "password": password}, &out)
	if err != nil {
		return models.User{}, err
	}

	for _, cookie := range resp.Cookies() {
		if cookie.Name == sessionCookie {
			c.SetToken(cookie.Value)
		}
	}
	return out.User, nil
}

// Me returns the user of the current session
func (c *Client) Me(ctx context.Context) (models.User, error) {
	var out userEnvelope
	if _, err := c.do(ctx, http.MethodGet, "/auth/me", nil, nil, &out); err != nil {
		return models.User{}, err
	}
	return out.User, nil
}

// Logout ends the session. The local token is dropped even if the call fails.
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/auth/logout", nil, nil, nil)
	c.SetToken("")
	return err
}

// AddUser creates an account (admin only)
func (c *Client) AddUser(ctx context.Context, draft models.UserDraft) (models.User, error) {
	var out userEnvelope
	if _, err := c.do(ctx, http.MethodPost, "/users/add", nil, draft, &out); err != nil {
		return models.User{}, err
	}
	return out.User, nil
}

func bookPath(id int64) string {
	return fmt.Sprintf("/api/books/%d", id)
}
