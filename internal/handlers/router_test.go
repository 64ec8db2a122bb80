package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"context"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"library-desk/internal/events"
	"library-desk/internal/handlers"
	"library-desk/internal/repository"
	"library-desk/internal/models"
	"library-desk/internal/testutil/lendingtest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type session struct {
	t      *testing.T
	base   string
	client *http.Client
}

func loginAs(t *testing.T, srv *lendingtest.Server, email string) *session {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	s := &session{t: t, base: srv.URL, client: &http.Client{Jar: jar}}

	resp := s.do(http.MethodPost, "/auth/login", map[string]string{"email": email, "password": lendingtest.Password}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return s
}

func (s *session) do(method, path string, body interface{}, out interface{}) *http.Response {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.base+path, &buf)
	require.NoError(s.t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	require.NoError(s.t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(s.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }

func TestBooks_RequireSession(t *testing.T) {
	srv := lendingtest.New(t)

	resp, err := http.Get(srv.URL + "/api/books")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestListBooks_PaginationAndSearch(t *testing.T) {
	srv := lendingtest.New(t)
	srv.SeedBooks(t, 12, 1)
	s := loginAs(t, srv, srv.Librarian.Email)

	var page models.CatalogPage
	resp := s.do(http.MethodGet, "/api/books?page=2&limit=10", nil, &page)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, page.CurrentPage)
	assert.Equal(t, 2, page.TotalPages)
	assert.Len(t, page.Books, 2)

	s.do(http.MethodGet, "/api/books?page=50", nil, &page)
	assert.Equal(t, 2, page.CurrentPage)

	s.do(http.MethodGet, "/api/books?search=Book%2007", nil, &page)
	require.Len(t, page.Books, 1)
	assert.Equal(t, "Book 07", page.Books[0].Title)
}

func TestCreateBook_InvalidatesCachedPages(t *testing.T) {
	srv := lendingtest.New(t)
	s := loginAs(t, srv, srv.Admin.Email)

	var page models.CatalogPage
	s.do(http.MethodGet, "/api/books", nil, &page)
	assert.Empty(t, page.Books)

	var created models.Book
	resp := s.do(http.MethodPost, "/api/books", map[string]interface{}{
		"title": "Dune", "author": "Frank Herbert", "isbn": "978-0441013593", "quantity": 2,
	}, &created)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	s.do(http.MethodGet, "/api/books", nil, &page)
	require.Len(t, page.Books, 1)
	assert.Equal(t, created.ID, page.Books[0].ID)

	require.Len(t, srv.Events.Events(), 1)
	assert.Equal(t, "BookCreated", events.EventType(srv.Events.Events()[0]))
}

// pausingStore holds one ListBooks call after it has read the database
type pausingStore struct {
	handlers.Store
	armed  atomic.Bool
	read   chan struct{}
	resume chan struct{}
}

func (p *pausingStore) ListBooks(ctx context.Context, q repository.BookQuery) (models.CatalogPage, error) {
	page, err := p.Store.ListBooks(ctx, q)
	if p.armed.CompareAndSwap(true, false) {
		close(p.read)
		<-p.resume
	}
	return page, err
}

func TestListBooks_PageReadBeforeIssueIsNotServedAfterIt(t *testing.T) {
	paused := &pausingStore{read: make(chan struct{}), resume: make(chan struct{})}
	srv := lendingtest.NewWithStore(t, func(store handlers.Store) handlers.Store {
		paused.Store = store
		return paused
	})
	book := srv.SeedBook(t, "Dune", "978-9", 1)
	s := loginAs(t, srv, srv.Librarian.Email)

	paused.armed.Store(true)
	done := make(chan int, 1)
	go func() {
		resp, err := s.client.Get(srv.URL + "/api/books")
		if err != nil {
			done <- 0
			return
		}
		resp.Body.Close()
		done <- resp.StatusCode
	}()

	select {
	case <-paused.read:
	case <-time.After(5 * time.Second):
		t.Fatal("list request never reached the store")
	}
	resp := s.do(http.MethodPost, "/api/books/issue", map[string]int64{"book_id": book.ID, "user_id": srv.Customer.ID}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	close(paused.resume)
	assert.Equal(t, http.StatusOK, <-done)

	var page models.CatalogPage
	s.do(http.MethodGet, "/api/books", nil, &page)
	require.Len(t, page.Books, 1)
	assert.Equal(t, 0, page.Books[0].Quantity)
	assert.Equal(t, 0, srv.Book(t, book.ID).Quantity)
}

func TestCreateBook_Validation(t *testing.T) {
	srv := lendingtest.New(t)
	s := loginAs(t, srv, srv.Admin.Email)

	var body map[string]string
	resp := s.do(http.MethodPost, "/api/books", map[string]interface{}{"title": "No author", "isbn": "1", "quantity": 1}, &body)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "author is required", body["error"])
	assert.Equal(t, "ValidationError", body["code"])

	resp = s.do(http.MethodPost, "/api/books", map[string]interface{}{"title": "Empty", "author": "A", "isbn": "2", "quantity": 0}, &body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "quantity must be at least 1", body["error"])
}

func TestCreateBook_DuplicateISBN(t *testing.T) {
	srv := lendingtest.New(t)
	srv.SeedBook(t, "Existing", "978-1", 1)
	s := loginAs(t, srv, srv.Librarian.Email)

	resp := s.do(http.MethodPost, "/api/books", map[string]interface{}{
		"title": "Copy", "author": "A", "isbn": "978-1", "quantity": 1,
	}, nil)

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCustomer_CannotMutateCatalog(t *testing.T) {
	srv := lendingtest.New(t)
	book := srv.SeedBook(t, "Dune", "978-2", 1)
	s := loginAs(t, srv, srv.Customer.Email)

	resp := s.do(http.MethodDelete, "/api/books/"+itoa(book.ID), nil, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = s.do(http.MethodPost, "/api/books/issue", map[string]int64{"book_id": book.ID, "user_id": srv.Customer.ID}, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestUpdateBook_Patch(t *testing.T) {
	srv := lendingtest.New(t)
	book := srv.SeedBook(t, "Dune", "978-3", 4)
	s := loginAs(t, srv, srv.Librarian.Email)

	var updated models.Book
	resp := s.do(http.MethodPut, "/api/books/"+itoa(book.ID), map[string]interface{}{"title": "Dune Messiah"}, &updated)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Dune Messiah", updated.Title)
	assert.Equal(t, 4, updated.Quantity)

	resp = s.do(http.MethodPut, "/api/books/9999", map[string]interface{}{"title": "x"}, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestIssueReturnLifecycle(t *testing.T) {
	srv := lendingtest.New(t)
	book := srv.SeedBook(t, "Dune", "978-4", 1)
	s := loginAs(t, srv, srv.Librarian.Email)

	var loan models.Loan
	resp := s.do(http.MethodPost, "/api/books/issue", map[string]int64{"book_id": book.ID, "user_id": srv.Customer.ID}, &loan)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.True(t, loan.Active())
	assert.Equal(t, 0, srv.Book(t, book.ID).Quantity)

	var body map[string]string
	resp = s.do(http.MethodPost, "/api/books/issue", map[string]int64{"book_id": book.ID, "user_id": srv.Customer.ID}, &body)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "NoCopiesAvailable", body["code"])

	resp = s.do(http.MethodDelete, "/api/books/"+itoa(book.ID), nil, &body)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "BookHasActiveLoans", body["code"])

	var returned models.Loan
	resp = s.do(http.MethodPost, "/api/books/return", map[string]int64{"issue_id": loan.ID}, &returned)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotNil(t, returned.ReturnedAt)
	assert.Equal(t, 1, srv.Book(t, book.ID).Quantity)

	resp = s.do(http.MethodPost, "/api/books/return", map[string]int64{"issue_id": loan.ID}, &body)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "AlreadyReturned", body["code"])
	assert.Equal(t, 1, srv.Book(t, book.ID).Quantity)

	resp = s.do(http.MethodDelete, "/api/books/"+itoa(book.ID), nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLoanListings(t *testing.T) {
	srv := lendingtest.New(t)
	book := srv.SeedBook(t, "Dune", "978-5", 3)
	other := srv.SeedUser(t, "Other", "other@example.com", models.RoleCustomer)

	staff := loginAs(t, srv, srv.Librarian.Email)
	staff.do(http.MethodPost, "/api/books/issue", map[string]int64{"book_id": book.ID, "user_id": srv.Customer.ID}, nil)
	staff.do(http.MethodPost, "/api/books/issue", map[string]int64{"book_id": book.ID, "user_id": other.ID}, nil)

	var all []models.Loan
	staff.do(http.MethodGet, "/api/books/fetchissued", nil, &all)
	assert.Len(t, all, 2)

	customer := loginAs(t, srv, srv.Customer.Email)
	var mine []models.Loan
	resp := customer.do(http.MethodGet, "/api/books/issuedbooks/"+itoa(srv.Customer.ID), nil, &mine)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, mine, 1)
	assert.Equal(t, srv.Customer.ID, mine[0].UserID)

	resp = customer.do(http.MethodGet, "/api/books/issuedbooks/"+itoa(other.ID), nil, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = customer.do(http.MethodGet, "/api/books/fetchissued", nil, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAddUser(t *testing.T) {
	srv := lendingtest.New(t)
	admin := loginAs(t, srv, srv.Admin.Email)

	var created struct {
		User models.User `json:"user"`
	}
	resp := admin.do(http.MethodPost, "/users/add", map[string]string{
		"name": "New Reader", "email": "new@example.com", "password": "hunter22",
	}, &created)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, models.RoleCustomer, created.User.Role)

	resp = admin.do(http.MethodPost, "/users/add", map[string]string{
		"name": "Again", "email": "new@example.com", "password": "hunter22",
	}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	librarian := loginAs(t, srv, srv.Librarian.Email)
	resp = librarian.do(http.MethodPost, "/users/add", map[string]string{
		"name": "Nope", "email": "nope@example.com", "password": "hunter22",
	}, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestMeAndLogout(t *testing.T) {
	srv := lendingtest.New(t)
	s := loginAs(t, srv, srv.Customer.Email)

	var me struct {
		User models.User `json:"user"`
	}
	resp := s.do(http.MethodGet, "/auth/me", nil, &me)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, srv.Customer.ID, me.User.ID)

	resp = s.do(http.MethodPost, "/auth/logout", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = s.do(http.MethodGet, "/auth/me", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
