// Package catalog fetches pages of the book list and keeps rapid search
// input from producing stale or redundant queries.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"library-desk/internal/models"

	"go.uber.org/zap"
)

// PageSize is the fixed number of books per catalog page
const PageSize = 10

// BookLister is the lending API call the catalog depends on
type BookLister interface {
	ListBooks(ctx context.Context, page, limit int, search string) (models.CatalogPage, error)
}

// FetchError reports a failed catalog query. The caller keeps showing the
// previously displayed page.
type FetchError struct {
	Page   int
	Search string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("could not load books: %v", e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsCanceled reports whether the query was aborted by a newer one
func (e *FetchError) IsCanceled() bool {
	return errors.Is(e.Err, context.Canceled)
}

// Client issues paginated, search-filtered catalog queries
type Client struct {
	api    BookLister
	logger *zap.Logger
}

func NewClient(api BookLister, logger *zap.Logger) *Client {
	return &Client{api: api, logger: logger}
}

// Query fetches one page. Exactly one request is sent per call; an empty
// search means no filter.
func (c *Client) Query(ctx context.Context, page int, search string) (models.CatalogPage, error) {
	if page < 1 {
		page = 1
	}
	search = strings.TrimSpace(search)

	result, err := c.api.ListBooks(ctx, page, PageSize, search)
	if err != nil {
		fetchErr := &FetchError{Page: page, Search: search, Err: err}
		if !fetchErr.IsCanceled() {
			c.logger.Warn("Catalog query failed",
				zap.Int("page", page),
				zap.String("search", search),
				zap.Error(err),
			)
		}
		return models.CatalogPage{}, fetchErr
	}

	result.Search = search
	result.CurrentPage = models.ClampPage(result.CurrentPage, result.TotalPages)
	c.logger.Debug("Catalog page loaded",
		zap.Int("page", result.CurrentPage),
		zap.Int("total_pages", result.TotalPages),
		zap.Int("books", len(result.Books)),
	)
	return result, nil
}
