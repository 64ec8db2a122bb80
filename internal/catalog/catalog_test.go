package catalog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"library-desk/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockBookLister struct {
	mock.Mock
}

func (m *MockBookLister) ListBooks(ctx context.Context, page, limit int, search string) (models.CatalogPage, error) {
	args := m.Called(ctx, page, limit, search)
	return args.Get(0).(models.CatalogPage), args.Error(1)
}

func TestQuery_SendsOneRequestWithFixedPageSize(t *testing.T) {
	api := new(MockBookLister)
	api.On("ListBooks", mock.Anything, 2, PageSize, "dune").
		Return(models.CatalogPage{Books: []models.Book{{ID: 1}}, CurrentPage: 2, TotalPages: 3}, nil).Once()

	page, err := NewClient(api, zap.NewNop()).Query(context.Background(), 2, "  dune ")

	require.NoError(t, err)
	assert.Equal(t, "dune", page.Search)
	assert.Equal(t, 2, page.CurrentPage)
	api.AssertNumberOfCalls(t, "ListBooks", 1)
}

func TestQuery_ClampsPageBelowOne(t *testing.T) {
	api := new(MockBookLister)
	api.On("ListBooks", mock.Anything, 1, PageSize, "").
		Return(models.CatalogPage{CurrentPage: 1}, nil)

	_, err := NewClient(api, zap.NewNop()).Query(context.Background(), -4, "")

	require.NoError(t, err)
	api.AssertExpectations(t)
}

func TestQuery_FetchError(t *testing.T) {
	api := new(MockBookLister)
	api.On("ListBooks", mock.Anything, 1, PageSize, "").
		Return(models.CatalogPage{}, errors.New("service unavailable"))

	_, err := NewClient(api, zap.NewNop()).Query(context.Background(), 1, "")

	var fetchErr *FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, "could not load books: service unavailable", fetchErr.Error())
	assert.False(t, fetchErr.IsCanceled())
}

type recorder struct {
	mu    sync.Mutex
	terms []string
}

func (r *recorder) fire(term string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.terms = append(r.terms, term)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.terms...)
}

func TestDebouncer_BurstDeliversFinalTermOnce(t *testing.T) {
	rec := &recorder{}
	d := NewDebouncer(150*time.Millisecond, rec.fire)

	for _, term := range []string{"d", "du", "dun", "dune"} {
		d.Trigger(term)
		time.Sleep(10 * time.Millisecond)
	}

	assert.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 10*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, []string{"dune"}, rec.snapshot())
}

func TestDebouncer_SeparatedBurstsEachDeliver(t *testing.T) {
	rec := &recorder{}
	d := NewDebouncer(20*time.Millisecond, rec.fire)

	d.Trigger("tolkien")
	assert.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	d.Trigger("")
	assert.Eventually(t, func() bool { return len(rec.snapshot()) == 2 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"tolkien", ""}, rec.snapshot())
}

func TestDebouncer_FlushAndStop(t *testing.T) {
	rec := &recorder{}
	d := NewDebouncer(time.Hour, rec.fire)

	d.Trigger("asimov")
	d.Flush()
	assert.Equal(t, []string{"asimov"}, rec.snapshot())

	// Nothing pending, nothing delivered
	d.Flush()
	assert.Len(t, rec.snapshot(), 1)

	d.Trigger("herbert")
	d.Stop()
	d.Flush()
	d.Trigger("le guin")
	assert.Len(t, rec.snapshot(), 1)
}

func TestSequencer_OnlyLatestIsCurrent(t *testing.T) {
	var s Sequencer

	ctx1, seq1 := s.Begin(context.Background())
	ctx2, seq2 := s.Begin(context.Background())

	assert.False(t, s.IsCurrent(seq1))
	assert.True(t, s.IsCurrent(seq2))
	assert.ErrorIs(t, ctx1.Err(), context.Canceled)
	assert.NoError(t, ctx2.Err())

	s.End(seq1)
	assert.NoError(t, ctx2.Err())
	s.End(seq2)
	assert.ErrorIs(t, ctx2.Err(), context.Canceled)
	assert.True(t, s.IsCurrent(seq2))
}

func TestSequencer_OutOfOrderResponses(t *testing.T) {
	var s Sequencer
	applied := ""

	_, slow := s.Begin(context.Background())
	_, fast := s.Begin(context.Background())

	// The newer response arrives first, then the stale one
	for _, r := range []struct {
		seq  uint64
		term string
	}{{fast, "dune"}, {slow, "du"}} {
		if s.IsCurrent(r.seq) {
			applied = r.term
		}
	}

	assert.Equal(t, "dune", applied)
}
