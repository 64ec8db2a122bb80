// Package view holds the dashboard state shared by every role: the catalog
// cursor, the open modal and the outcome of the last action. Components never
// mutate it directly; they call the Coordinator and render what it publishes.
package view

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"library-desk/internal/catalog"
	"library-desk/internal/models"

	"go.uber.org/zap"
)

var (
	// ErrSubmitInProgress rejects a submission while another one is pending
	ErrSubmitInProgress = errors.New("please wait for the current request to finish")

	// ErrNoSelection is returned when a modal action has nothing to act on
	ErrNoSelection = errors.New("nothing is selected")
)

// Catalog runs catalog queries
type Catalog interface {
	Query(ctx context.Context, page int, search string) (models.CatalogPage, error)
}

// Inventory changes catalog entries
type Inventory interface {
	Create(ctx context.Context, draft models.BookDraft) (models.Book, error)
	Update(ctx context.Context, id int64, patch models.BookPatch) (models.Book, error)
	Delete(ctx context.Context, id int64) error
}

// Lending issues and returns loans
type Lending interface {
	Issue(ctx context.Context, bookID, borrowerID int64) (models.Loan, error)
	Return(ctx context.Context, loan models.Loan) (models.Loan, error)
	Loans(ctx context.Context) ([]models.Loan, error)
	BorrowerLoans(ctx context.Context, userID int64) ([]models.Loan, error)
}

// Accounts creates user accounts
type Accounts interface {
	AddUser(ctx context.Context, draft models.UserDraft) (models.User, error)
}

// Deps wires a Coordinator
type Deps struct {
	Catalog   Catalog
	Inventory Inventory
	Lending   Lending
	Accounts  Accounts
	Logger    *zap.Logger
	User      models.User
	Debounce  time.Duration
}

// Coordinator owns the State of one dashboard. It is safe for concurrent use;
// only the latest catalog query may change the displayed page.
type Coordinator struct {
	catalog   Catalog
	inventory Inventory
	lending   Lending
	accounts  Accounts
	logger    *zap.Logger

	ctx       context.Context
	sequencer catalog.Sequencer
	debouncer *catalog.Debouncer

	mu          sync.Mutex
	state       State
	subscribers map[int]func(State)
	nextSub     int
}

// New creates a Coordinator. Debounced searches run on ctx.
func New(ctx context.Context, deps Deps) *Coordinator {
	c := &Coordinator{
		catalog:     deps.Catalog,
		inventory:   deps.Inventory,
		lending:     deps.Lending,
		accounts:    deps.Accounts,
		logger:      deps.Logger,
		ctx:         ctx,
		state:       State{User: deps.User, CurrentPage: 1, LoansPage: 1},
		subscribers: make(map[int]func(State)),
	}
	c.debouncer = catalog.NewDebouncer(deps.Debounce, c.searchSettled)
	return c
}

// Close stops pending debounced searches
func (c *Coordinator) Close() {
	c.debouncer.Stop()
}

// State returns the current snapshot
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe registers fn to receive every new State. The returned func
// removes the subscription.
func (c *Coordinator) Subscribe(fn func(State)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSub
	c.nextSub++
	c.subscribers[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.subscribers, id)
		c.mu.Unlock()
	}
}

// update applies change to a copy of the state and publishes the copy.
// change returns false to leave the state untouched.
func (c *Coordinator) update(change func(s *State) bool) {
	c.mu.Lock()
	next := c.state
	if !change(&next) {
		c.mu.Unlock()
		return
	}
	c.state = next
	subs := make([]func(State), 0, len(c.subscribers))
	for _, fn := range c.subscribers {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(next)
	}
}

// Load queries the displayed page with the settled search term
func (c *Coordinator) Load(ctx context.Context) error {
	s := c.State()
	return c.query(ctx, s.CurrentPage, s.DebouncedSearchTerm)
}

// Refresh reloads the catalog and the loans visible to the session user
func (c *Coordinator) Refresh(ctx context.Context) error {
	if err := c.Load(ctx); err != nil {
		return err
	}
	return c.reloadLoans(ctx)
}

// query fetches one catalog page. A response that is no longer the latest
// is dropped; a failure keeps the books already on screen.
func (c *Coordinator) query(ctx context.Context, page int, search string) error {
	qctx, seq := c.sequencer.Begin(ctx)
	defer c.sequencer.End(seq)

	c.update(func(s *State) bool {
		s.Loading = true
		return true
	})

	result, err := c.catalog.Query(qctx, page, search)

	var applied bool
	c.update(func(s *State) bool {
		if !c.sequencer.IsCurrent(seq) {
			return false
		}
		applied = true
		s.Loading = false
		if err != nil {
			s.Err = err.Error()
			return true
		}
		s.Books = result.Books
		s.TotalPages = result.TotalPages
		s.CurrentPage = models.ClampPage(result.CurrentPage, result.TotalPages)
		s.DebouncedSearchTerm = search
		return true
	})

	if !applied {
		c.logger.Debug("Dropped stale catalog response", zap.Uint64("seq", seq), zap.Int("page", page))
		return nil
	}
	if err != nil {
		c.logger.Warn("Catalog query failed", zap.Int("page", page), zap.String("search", search), zap.Error(err))
		return err
	}
	return nil
}

// SetSearchTerm records raw input. The catalog is queried, from page 1, once
// the input has been stable for the debounce window.
func (c *Coordinator) SetSearchTerm(term string) {
	c.update(func(s *State) bool {
		s.SearchTerm = term
		return true
	})
	c.debouncer.Trigger(strings.TrimSpace(term))
}

// FlushSearch applies pending search input immediately
func (c *Coordinator) FlushSearch() {
	c.debouncer.Flush()
}

// searchSettled queries page 1 of term. The cursor and settled term move
// only when the page arrives, so a failed search leaves them describing the
// books still on screen.
func (c *Coordinator) searchSettled(term string) {
	if err := c.query(c.ctx, 1, term); err != nil {
		c.logger.Debug("Search query failed", zap.String("search", term), zap.Error(err))
	}
}

// GoToPage moves the cursor. Pages outside [1, LastPage] and the current
// page are no-ops.
func (c *Coordinator) GoToPage(ctx context.Context, page int) error {
	s := c.State()
	if page < 1 || page > s.LastPage() || page == s.CurrentPage {
		return nil
	}
	return c.query(ctx, page, s.DebouncedSearchTerm)
}

func (c *Coordinator) NextPage(ctx context.Context) error {
	return c.GoToPage(ctx, c.State().CurrentPage+1)
}

func (c *Coordinator) PrevPage(ctx context.Context) error {
	return c.GoToPage(ctx, c.State().CurrentPage-1)
}

// MyLoansPage moves the client-side cursor over the session user's loans
// and returns the loans shown there. Out-of-range pages leave it unchanged.
func (c *Coordinator) MyLoansPage(n int) []models.Loan {
	c.update(func(s *State) bool {
		if n < 1 || n > max(1, s.LoansTotalPages()) || n == s.LoansPage {
			return false
		}
		s.LoansPage = n
		return true
	})
	s := c.State()
	return s.LoansOnPage(s.LoansPage)
}

// LoadMyLoans fetches the loans of the session user
func (c *Coordinator) LoadMyLoans(ctx context.Context) error {
	user := c.State().User
	loans, err := c.lending.BorrowerLoans(ctx, user.ID)
	if err != nil {
		c.fail(err)
		return err
	}
	c.update(func(s *State) bool {
		s.Loans = loans
		s.LoansPage = models.ClampPage(s.LoansPage, s.LoansTotalPages())
		return true
	})
	return nil
}

// LoadLoans fetches every loan, for staff dashboards
func (c *Coordinator) LoadLoans(ctx context.Context) error {
	loans, err := c.lending.Loans(ctx)
	if err != nil {
		c.fail(err)
		return err
	}
	c.update(func(s *State) bool {
		s.Loans = loans
		s.LoansPage = models.ClampPage(s.LoansPage, s.LoansTotalPages())
		return true
	})
	return nil
}

func (c *Coordinator) reloadLoans(ctx context.Context) error {
	if c.State().User.Role.CanManageCatalog() {
		return c.LoadLoans(ctx)
	}
	return c.LoadMyLoans(ctx)
}

// DismissMessages clears the error and notice lines
func (c *Coordinator) DismissMessages() {
	c.update(func(s *State) bool {
		if s.Err == "" && s.Notice == "" {
			return false
		}
		s.Err, s.Notice = "", ""
		return true
	})
}

func (c *Coordinator) fail(err error) {
	c.update(func(s *State) bool {
		s.Err = err.Error()
		s.Notice = ""
		return true
	})
}
