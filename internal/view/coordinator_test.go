package view

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"library-desk/internal/apiclient"
	"library-desk/internal/catalog"
	"library-desk/internal/inventory"
	"library-desk/internal/lending"
	"library-desk/internal/models"
	"library-desk/internal/testutil/lendingtest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newDesk(t *testing.T, srv *lendingtest.Server, user models.User) *Coordinator {
	t.Helper()
	logger := zap.NewNop()
	api := apiclient.New(srv.URL, 5*time.Second, logger)
	_, err := api.Login(context.Background(), user.Email, lendingtest.Password)
	require.NoError(t, err)

	desk := New(context.Background(), Deps{
		Catalog:   catalog.NewClient(api, logger),
		Inventory: inventory.NewClient(api, logger),
		Lending:   lending.NewController(api, logger),
		Accounts:  api,
		Logger:    logger,
		User:      user,
		Debounce:  50 * time.Millisecond,
	})
	t.Cleanup(desk.Close)
	return desk
}

type MockCatalog struct {
	mock.Mock
}

func (m *MockCatalog) Query(ctx context.Context, page int, search string) (models.CatalogPage, error) {
	args := m.Called(ctx, page, search)
	return args.Get(0).(models.CatalogPage), args.Error(1)
}

type MockInventory struct {
	mock.Mock
}

func (m *MockInventory) Create(ctx context.Context, draft models.BookDraft) (models.Book, error) {
	args := m.Called(ctx, draft)
	return args.Get(0).(models.Book), args.Error(1)
}

func (m *MockInventory) Update(ctx context.Context, id int64, patch models.BookPatch) (models.Book, error) {
	args := m.Called(ctx, id, patch)
	return args.Get(0).(models.Book), args.Error(1)
}

func (m *MockInventory) Delete(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

func pageOf(page, total int, titles ...string) models.CatalogPage {
	books := make([]models.Book, len(titles))
	for i, title := range titles {
		books[i] = models.Book{ID: int64(page*100 + i), Title: title, Quantity: 1}
	}
	return models.CatalogPage{Books: books, CurrentPage: page, TotalPages: total}
}

func TestIssueReturnScenario(t *testing.T) {
	srv := lendingtest.New(t)
	srv.SeedBook(t, "Dune", "978-0", 1)
	desk := newDesk(t, srv, srv.Librarian)
	ctx := context.Background()

	require.NoError(t, desk.Refresh(ctx))
	s := desk.State()
	require.Len(t, s.Books, 1)
	assert.Equal(t, 1, s.Books[0].Quantity)

	require.NoError(t, desk.OpenIssue(s.Books[0]))
	require.NoError(t, desk.IssueBook(ctx, srv.Customer.ID))

	s = desk.State()
	assert.Equal(t, ModalNone, s.Modal)
	assert.Nil(t, s.SelectedBook)
	assert.Equal(t, 0, s.Books[0].Quantity)
	require.Len(t, s.Loans, 1)
	assert.True(t, s.Loans[0].Active())
	assert.Equal(t, `Issued "Dune"`, s.Notice)

	// No copies left: the modal stays open and the count stays 0
	require.NoError(t, desk.OpenIssue(s.Books[0]))
	err := desk.IssueBook(ctx, srv.Admin.ID)
	assert.Equal(t, lending.KindConflict, lending.KindOf(err))
	s = desk.State()
	assert.Equal(t, ModalIssue, s.Modal)
	assert.NotEmpty(t, s.Err)
	assert.False(t, s.Submitting)
	assert.Equal(t, 0, s.Books[0].Quantity)
	require.NoError(t, desk.CloseModal())

	loan := s.Loans[0]
	require.NoError(t, desk.OpenReturn(loan))
	require.NoError(t, desk.ReturnLoan(ctx))
	s = desk.State()
	assert.Equal(t, 1, s.Books[0].Quantity)
	assert.False(t, s.Loans[0].Active())

	// Returning the stale ACTIVE row again does not add a copy
	require.NoError(t, desk.OpenReturn(loan))
	err = desk.ReturnLoan(ctx)
	assert.ErrorIs(t, err, lending.ErrAlreadyReturned)
	assert.Equal(t, 1, srv.Book(t, loan.BookID).Quantity)
}

func TestDeleteBook_WithActiveLoan(t *testing.T) {
	srv := lendingtest.New(t)
	book := srv.SeedBook(t, "Dune", "978-1", 2)
	_, err := srv.Store.IssueBook(context.Background(), book.ID, srv.Customer.ID)
	require.NoError(t, err)
	desk := newDesk(t, srv, srv.Admin)
	ctx := context.Background()

	require.NoError(t, desk.Load(ctx))
	require.NoError(t, desk.OpenConfirmDelete(desk.State().Books[0]))

	err = desk.DeleteBook(ctx)
	assert.Equal(t, inventory.KindConflict, inventory.KindOf(err))

	s := desk.State()
	assert.Equal(t, ModalConfirmDelete, s.Modal)
	assert.Equal(t, "cannot delete a book that is currently issued", s.Err)
	assert.Len(t, s.Books, 1)
	assert.Equal(t, book.ID, srv.Book(t, book.ID).ID)
}

func TestDeleteBook_EmptyingLastPageStepsBack(t *testing.T) {
	srv := lendingtest.New(t)
	srv.SeedBooks(t, 11, 1)
	desk := newDesk(t, srv, srv.Librarian)
	ctx := context.Background()

	require.NoError(t, desk.Load(ctx))
	require.NoError(t, desk.GoToPage(ctx, 2))
	s := desk.State()
	require.Equal(t, 2, s.CurrentPage)
	require.Len(t, s.Books, 1)

	require.NoError(t, desk.OpenConfirmDelete(s.Books[0]))
	require.NoError(t, desk.DeleteBook(ctx))

	s = desk.State()
	assert.Equal(t, 1, s.CurrentPage)
	assert.Equal(t, 1, s.TotalPages)
	assert.Len(t, s.Books, 10)
	assert.Equal(t, ModalNone, s.Modal)
}

func TestNavigation_StaysInRange(t *testing.T) {
	srv := lendingtest.New(t)
	srv.SeedBooks(t, 12, 1)
	desk := newDesk(t, srv, srv.Librarian)
	ctx := context.Background()

	require.NoError(t, desk.Load(ctx))
	require.NoError(t, desk.PrevPage(ctx))
	assert.Equal(t, 1, desk.State().CurrentPage)

	require.NoError(t, desk.GoToPage(ctx, 5))
	assert.Equal(t, 1, desk.State().CurrentPage)

	require.NoError(t, desk.NextPage(ctx))
	assert.Equal(t, 2, desk.State().CurrentPage)
	assert.Len(t, desk.State().Books, 2)

	require.NoError(t, desk.NextPage(ctx))
	assert.Equal(t, 2, desk.State().CurrentPage)

	require.NoError(t, desk.GoToPage(ctx, 0))
	assert.Equal(t, 2, desk.State().CurrentPage)
}

func TestSearch_DebouncedBurstQueriesOnceFromFirstPage(t *testing.T) {
	cat := new(MockCatalog)
	cat.On("Query", mock.Anything, 1, "").Return(pageOf(1, 5, "a"), nil).Once()
	cat.On("Query", mock.Anything, 3, "").Return(pageOf(3, 5, "c"), nil).Once()
	cat.On("Query", mock.Anything, 1, "dune").Return(pageOf(1, 1, "Dune"), nil).Once()

	desk := New(context.Background(), Deps{Catalog: cat, Logger: zap.NewNop(), Debounce: 50 * time.Millisecond})
	defer desk.Close()
	ctx := context.Background()

	require.NoError(t, desk.Load(ctx))
	require.NoError(t, desk.GoToPage(ctx, 3))

	for _, term := range []string{"d", "du", "dun", "dune"} {
		desk.SetSearchTerm(term)
	}
	assert.Equal(t, "dune", desk.State().SearchTerm)
	assert.Equal(t, "", desk.State().DebouncedSearchTerm)

	require.Eventually(t, func() bool {
		s := desk.State()
		return len(s.Books) == 1 && s.Books[0].Title == "Dune"
	}, time.Second, 10*time.Millisecond)

	s := desk.State()
	assert.Equal(t, "dune", s.DebouncedSearchTerm)
	assert.Equal(t, 1, s.CurrentPage)
	cat.AssertExpectations(t)
	cat.AssertNumberOfCalls(t, "Query", 3)
}

func TestQuery_StaleResponseIsDropped(t *testing.T) {
	cat := new(MockCatalog)
	started := make(chan struct{})
	release := make(chan struct{})
	cat.On("Query", mock.Anything, 1, "").Return(pageOf(1, 5, "one"), nil).Once()
	cat.On("Query", mock.Anything, 2, "").
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).
		Return(pageOf(2, 5, "two"), nil).Once()
	cat.On("Query", mock.Anything, 3, "").Return(pageOf(3, 5, "three"), nil).Once()

	desk := New(context.Background(), Deps{Catalog: cat, Logger: zap.NewNop()})
	defer desk.Close()
	ctx := context.Background()
	require.NoError(t, desk.Load(ctx))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = desk.GoToPage(ctx, 2)
	}()
	<-started

	require.NoError(t, desk.GoToPage(ctx, 3))
	close(release)
	wg.Wait()

	s := desk.State()
	assert.Equal(t, 3, s.CurrentPage)
	assert.Equal(t, "three", s.Books[0].Title)
	assert.False(t, s.Loading)
}

func TestQuery_FailureKeepsDisplayedBooks(t *testing.T) {
	cat := new(MockCatalog)
	cat.On("Query", mock.Anything, 1, "").Return(pageOf(1, 2, "kept"), nil).Once()
	cat.On("Query", mock.Anything, 2, "").Return(models.CatalogPage{}, &catalog.FetchError{Page: 2, Err: errors.New("boom")}).Once()

	desk := New(context.Background(), Deps{Catalog: cat, Logger: zap.NewNop()})
	defer desk.Close()
	ctx := context.Background()
	require.NoError(t, desk.Load(ctx))

	assert.Error(t, desk.GoToPage(ctx, 2))

	s := desk.State()
	assert.Equal(t, 1, s.CurrentPage)
	require.Len(t, s.Books, 1)
	assert.Equal(t, "kept", s.Books[0].Title)
	assert.Equal(t, "could not load books: boom", s.Err)
}

func TestSearch_FailureKeepsCursorOnDisplayedPage(t *testing.T) {
	cat := new(MockCatalog)
	cat.On("Query", mock.Anything, 1, "").Return(pageOf(1, 5, "a"), nil).Once()
	cat.On("Query", mock.Anything, 3, "").Return(pageOf(3, 5, "c"), nil).Once()
	cat.On("Query", mock.Anything, 1, "dune").Return(models.CatalogPage{}, &catalog.FetchError{Page: 1, Err: errors.New("boom")}).Once()

	desk := New(context.Background(), Deps{Catalog: cat, Logger: zap.NewNop(), Debounce: 10 * time.Millisecond})
	defer desk.Close()
	ctx := context.Background()
	require.NoError(t, desk.Load(ctx))
	require.NoError(t, desk.GoToPage(ctx, 3))

	desk.SetSearchTerm("dune")
	desk.FlushSearch()
	require.Eventually(t, func() bool { return desk.State().Err != "" }, time.Second, 5*time.Millisecond)

	s := desk.State()
	assert.Equal(t, "dune", s.SearchTerm)
	assert.Equal(t, "", s.DebouncedSearchTerm)
	assert.Equal(t, 3, s.CurrentPage)
	assert.Equal(t, 5, s.TotalPages)
	require.Len(t, s.Books, 1)
	assert.Equal(t, "c", s.Books[0].Title)

	// Paging continues over the result set still on screen
	cat.On("Query", mock.Anything, 4, "").Return(pageOf(4, 5, "d"), nil).Once()
	require.NoError(t, desk.NextPage(ctx))
	assert.Equal(t, 4, desk.State().CurrentPage)
	cat.AssertExpectations(t)
}

type MockLending struct {
	mock.Mock
}

func (m *MockLending) Issue(ctx context.Context, bookID, borrowerID int64) (models.Loan, error) {
	args := m.Called(ctx, bookID, borrowerID)
	return args.Get(0).(models.Loan), args.Error(1)
}

func (m *MockLending) Return(ctx context.Context, loan models.Loan) (models.Loan, error) {
	args := m.Called(ctx, loan)
	return args.Get(0).(models.Loan), args.Error(1)
}

func (m *MockLending) Loans(ctx context.Context) ([]models.Loan, error) {
	args := m.Called(ctx)
	return args.Get(0).([]models.Loan), args.Error(1)
}

func (m *MockLending) BorrowerLoans(ctx context.Context, userID int64) ([]models.Loan, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).([]models.Loan), args.Error(1)
}

func TestIssueBook_CatalogReloadFailureStillReloadsLoans(t *testing.T) {
	cat := new(MockCatalog)
	cat.On("Query", mock.Anything, 1, "").Return(pageOf(1, 1, "Dune"), nil).Once()
	cat.On("Query", mock.Anything, 1, "").Return(models.CatalogPage{}, &catalog.FetchError{Page: 1, Err: errors.New("boom")}).Once()

	issued := models.Loan{ID: 7, BookID: 100, UserID: 3, IssuedAt: time.Now()}
	lend := new(MockLending)
	lend.On("Issue", mock.Anything, int64(100), int64(3)).Return(issued, nil).Once()
	lend.On("Loans", mock.Anything).Return([]models.Loan{issued}, nil).Once()

	desk := New(context.Background(), Deps{
		Catalog: cat,
		Lending: lend,
		Logger:  zap.NewNop(),
		User:    models.User{ID: 2, Role: models.RoleLibrarian},
	})
	defer desk.Close()
	ctx := context.Background()
	require.NoError(t, desk.Load(ctx))

	require.NoError(t, desk.OpenIssue(desk.State().Books[0]))
	require.NoError(t, desk.IssueBook(ctx, 3))

	s := desk.State()
	assert.Equal(t, ModalNone, s.Modal)
	assert.Equal(t, "could not load books: boom", s.Err)
	require.Len(t, s.Loans, 1)
	assert.Equal(t, int64(7), s.Loans[0].ID)
	cat.AssertExpectations(t)
	lend.AssertExpectations(t)
}

func TestSubmit_OverlappingRejected(t *testing.T) {
	cat := new(MockCatalog)
	cat.On("Query", mock.Anything, 1, "").Return(pageOf(1, 1, "Dune"), nil)
	inv := new(MockInventory)
	started := make(chan struct{})
	release := make(chan struct{})
	inv.On("Create", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).
		Return(models.Book{ID: 1, Title: "Dune"}, nil).Once()

	desk := New(context.Background(), Deps{Catalog: cat, Inventory: inv, Logger: zap.NewNop()})
	defer desk.Close()
	ctx := context.Background()
	require.NoError(t, desk.OpenAddBook())

	done := make(chan error, 1)
	go func() {
		done <- desk.AddBook(ctx, models.BookDraft{Title: "Dune", Author: "F", ISBN: "1", Quantity: 1})
	}()
	<-started

	assert.True(t, desk.State().Submitting)
	assert.ErrorIs(t, desk.AddBook(ctx, models.BookDraft{Title: "Dune", Author: "F", ISBN: "1", Quantity: 1}), ErrSubmitInProgress)
	assert.ErrorIs(t, desk.CloseModal(), ErrSubmitInProgress)

	close(release)
	require.NoError(t, <-done)
	s := desk.State()
	assert.False(t, s.Submitting)
	assert.Equal(t, ModalNone, s.Modal)
	assert.Equal(t, `Added "Dune"`, s.Notice)
	inv.AssertNumberOfCalls(t, "Create", 1)
}

func TestEditBook_RequiresSelection(t *testing.T) {
	inv := new(MockInventory)
	desk := New(context.Background(), Deps{Inventory: inv, Logger: zap.NewNop()})
	defer desk.Close()

	err := desk.EditBook(context.Background(), models.BookPatch{})

	assert.ErrorIs(t, err, ErrNoSelection)
	assert.False(t, desk.State().Submitting)
	inv.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
}

func TestSubscribe_ReceivesEveryChange(t *testing.T) {
	desk := New(context.Background(), Deps{Logger: zap.NewNop()})
	defer desk.Close()

	var got []Modal
	unsubscribe := desk.Subscribe(func(s State) { got = append(got, s.Modal) })
	require.NoError(t, desk.OpenAddUser())
	require.NoError(t, desk.CloseModal())
	unsubscribe()
	require.NoError(t, desk.OpenAddBook())

	assert.Equal(t, []Modal{ModalAddUser, ModalNone}, got)
}

func TestCustomer_MyLoansPaginateLocally(t *testing.T) {
	srv := lendingtest.New(t)
	book := srv.SeedBook(t, "Dune", "978-2", 12)
	for i := 0; i < 12; i++ {
		_, err := srv.Store.IssueBook(context.Background(), book.ID, srv.Customer.ID)
		require.NoError(t, err)
	}
	desk := newDesk(t, srv, srv.Customer)

	require.NoError(t, desk.LoadMyLoans(context.Background()))
	s := desk.State()
	assert.Len(t, s.Loans, 12)
	assert.Equal(t, 2, s.LoansTotalPages())
	assert.Len(t, desk.MyLoansPage(1), 10)

	assert.Len(t, desk.MyLoansPage(2), 2)
	assert.Equal(t, 2, desk.State().LoansPage)

	assert.Len(t, desk.MyLoansPage(3), 2)
	assert.Equal(t, 2, desk.State().LoansPage)
}

func TestAdmin_AddUser(t *testing.T) {
	srv := lendingtest.New(t)
	desk := newDesk(t, srv, srv.Admin)
	ctx := context.Background()

	require.NoError(t, desk.OpenAddUser())
	err := desk.AddUser(ctx, models.UserDraft{Name: "New", Email: "not-an-email", Password: "hunter22"})
	assert.EqualError(t, err, "email is not valid")
	assert.Equal(t, ModalAddUser, desk.State().Modal)

	require.NoError(t, desk.AddUser(ctx, models.UserDraft{Name: "New", Email: "new@example.com", Password: "hunter22"}))
	s := desk.State()
	assert.Equal(t, ModalNone, s.Modal)
	assert.Equal(t, "Created account for new@example.com", s.Notice)

	_, hash, err := srv.Store.FindUserByEmail(ctx, "new@example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, hash)
}
