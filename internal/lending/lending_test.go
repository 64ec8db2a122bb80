package lending

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"library-desk/internal/apiclient"
	"library-desk/internal/models"
	"library-desk/internal/testutil/lendingtest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockAPI struct {
	mock.Mock
}

func (m *MockAPI) GetBook(ctx context.Context, id int64) (models.Book, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(models.Book), args.Error(1)
}

func (m *MockAPI) IssueBook(ctx context.Context, bookID, userID int64) (models.Loan, error) {
	args := m.Called(ctx, bookID, userID)
	return args.Get(0).(models.Loan), args.Error(1)
}

func (m *MockAPI) ReturnBook(ctx context.Context, loanID int64) (models.Loan, error) {
	args := m.Called(ctx, loanID)
	return args.Get(0).(models.Loan), args.Error(1)
}

func (m *MockAPI) IssuedLoans(ctx context.Context) ([]models.Loan, error) {
	args := m.Called(ctx)
	return args.Get(0).([]models.Loan), args.Error(1)
}

func (m *MockAPI) BorrowerLoans(ctx context.Context, userID int64) ([]models.Loan, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).([]models.Loan), args.Error(1)
}

func staffClient(t *testing.T, srv *lendingtest.Server) *apiclient.Client {
	t.Helper()
	api := apiclient.New(srv.URL, 5*time.Second, zap.NewNop())
	_, err := api.Login(context.Background(), srv.Librarian.Email, lendingtest.Password)
	require.NoError(t, err)
	return api
}

func TestIssue_ZeroQuantityNeverPosts(t *testing.T) {
	api := new(MockAPI)
	api.On("GetBook", mock.Anything, int64(7)).Return(models.Book{ID: 7, Title: "Dune", Quantity: 0}, nil)

	_, err := NewController(api, zap.NewNop()).Issue(context.Background(), 7, 3)

	var issueErr *IssueError
	require.ErrorAs(t, err, &issueErr)
	assert.Equal(t, KindConflict, issueErr.Kind)
	assert.Equal(t, `no copies of "Dune" are available`, issueErr.Message)
	api.AssertNotCalled(t, "IssueBook", mock.Anything, mock.Anything, mock.Anything)
}

func TestIssue_RequiresSelection(t *testing.T) {
	api := new(MockAPI)

	_, err := NewController(api, zap.NewNop()).Issue(context.Background(), 7, 0)

	assert.Equal(t, KindValidation, KindOf(err))
	api.AssertNotCalled(t, "GetBook", mock.Anything, mock.Anything)
}

func TestReturn_AlreadyReturnedLocally(t *testing.T) {
	api := new(MockAPI)
	now := time.Now()

	_, err := NewController(api, zap.NewNop()).Return(context.Background(), models.Loan{ID: 1, ReturnedAt: &now})

	assert.ErrorIs(t, err, ErrAlreadyReturned)
	api.AssertNotCalled(t, "ReturnBook", mock.Anything, mock.Anything)
}

func TestIssue_DuplicateWhileInFlight(t *testing.T) {
	api := new(MockAPI)
	release := make(chan struct{})
	api.On("GetBook", mock.Anything, int64(1)).
		Run(func(mock.Arguments) { <-release }).
		Return(models.Book{ID: 1, Quantity: 2}, nil).Once()
	api.On("IssueBook", mock.Anything, int64(1), int64(2)).Return(models.Loan{ID: 10, BookID: 1, UserID: 2}, nil).Once()
	controller := NewController(api, zap.NewNop())

	done := make(chan error, 1)
	go func() {
		_, err := controller.Issue(context.Background(), 1, 2)
		done <- err
	}()

	require.Eventually(t, func() bool {
		controller.mu.Lock()
		defer controller.mu.Unlock()
		return len(controller.inFlight) == 1
	}, time.Second, 5*time.Millisecond)

	_, err := controller.Issue(context.Background(), 1, 2)
	assert.ErrorIs(t, err, ErrInFlight)

	close(release)
	assert.NoError(t, <-done)
	api.AssertExpectations(t)
}

func TestIssueReturnScenario(t *testing.T) {
	srv := lendingtest.New(t)
	book := srv.SeedBook(t, "Dune", "978-0", 1)
	controller := NewController(staffClient(t, srv), zap.NewNop())
	ctx := context.Background()

	loan, err := controller.Issue(ctx, book.ID, srv.Customer.ID)
	require.NoError(t, err)
	assert.True(t, loan.Active())
	assert.Equal(t, 0, srv.Book(t, book.ID).Quantity)

	// A second copy does not exist
	_, err = controller.Issue(ctx, book.ID, srv.Customer.ID)
	assert.Equal(t, KindConflict, KindOf(err))
	assert.Equal(t, 0, srv.Book(t, book.ID).Quantity)

	returned, err := controller.Return(ctx, loan)
	require.NoError(t, err)
	assert.Equal(t, models.LoanReturned, returned.Status())
	assert.Equal(t, 1, srv.Book(t, book.ID).Quantity)

	// The stale ACTIVE copy of the loan is rejected by the server and maps to the same error
	_, err = controller.Return(ctx, loan)
	assert.ErrorIs(t, err, ErrAlreadyReturned)
	assert.Equal(t, 1, srv.Book(t, book.ID).Quantity)

	loans, err := controller.BorrowerLoans(ctx, srv.Customer.ID)
	require.NoError(t, err)
	require.Len(t, loans, 1)
	assert.False(t, loans[0].Active())
}

func TestIssue_StaleCatalogRowMeetsServerRule(t *testing.T) {
	srv := lendingtest.New(t)
	book := srv.SeedBook(t, "Dune", "978-1", 1)
	ctx := context.Background()

	first := NewController(staffClient(t, srv), zap.NewNop())
	second := NewController(staffClient(t, srv), zap.NewNop())

	_, err := first.Issue(ctx, book.ID, srv.Customer.ID)
	require.NoError(t, err)

	_, err = second.Issue(ctx, book.ID, srv.Admin.ID)
	assert.Equal(t, KindConflict, KindOf(err))

	loans, err := second.Loans(ctx)
	require.NoError(t, err)
	assert.Len(t, loans, 1)
}

func TestIssue_ConcurrentDesksNeverExceedStock(t *testing.T) {
	srv := lendingtest.New(t)
	const stock = 2
	book := srv.SeedBook(t, "Dune", "978-2", stock)
	ctx := context.Background()

	const desks = 6
	borrowers := make([]models.User, desks)
	controllers := make([]*Controller, desks)
	for i := range borrowers {
		borrowers[i] = srv.SeedUser(t, fmt.Sprintf("Reader %d", i), fmt.Sprintf("reader%d@example.com", i), models.RoleCustomer)
		controllers[i] = NewController(staffClient(t, srv), zap.NewNop())
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	issued, conflicts := 0, 0
	for i := 0; i < desks; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := controllers[i].Issue(ctx, book.ID, borrowers[i].ID)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				issued++
			} else if KindOf(err) == KindConflict {
				conflicts++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, stock, issued)
	assert.Equal(t, desks-stock, conflicts)
	assert.Equal(t, 0, srv.Book(t, book.ID).Quantity)
}

func TestReturn_ConcurrentDoubleReturnIncrementsOnce(t *testing.T) {
	srv := lendingtest.New(t)
	book := srv.SeedBook(t, "Dune", "978-3", 1)
	ctx := context.Background()

	loan, err := NewController(staffClient(t, srv), zap.NewNop()).Issue(ctx, book.ID, srv.Customer.ID)
	require.NoError(t, err)

	desks := []*Controller{
		NewController(staffClient(t, srv), zap.NewNop()),
		NewController(staffClient(t, srv), zap.NewNop()),
	}
	var wg sync.WaitGroup
	results := make([]error, len(desks))
	for i := range desks {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = desks[i].Return(ctx, loan)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrAlreadyReturned)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, srv.Book(t, book.ID).Quantity)
}
