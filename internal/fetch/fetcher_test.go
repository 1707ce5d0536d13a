package fetch_test

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"skindiff/internal/domain"
	"skindiff/internal/fetch"
	"skindiff/internal/metrics"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// stubClient serves scripted pages. A nil page slice entry simulates a page
// that failed after all retries.
type stubClient struct {
	marketplace domain.Marketplace
	pages       [][]domain.Item
	totalPages  int // advertised by page 1; 0 means not advertised
	fetched     []int
}

func (s *stubClient) Marketplace() domain.Marketplace { return s.marketplace }

func (s *stubClient) FetchPage(ctx context.Context, page, pageSize int) (domain.CatalogPage, error) {
	if err := ctx.Err(); err != nil {
		return domain.CatalogPage{}, fmt.Errorf("%w: %v", domain.ErrCancelled, err)
	}
	s.fetched = append(s.fetched, page)
	if page > len(s.pages) {
		return domain.CatalogPage{TotalPages: s.totalPages}, nil
	}
	if s.pages[page-1] == nil {
		return domain.CatalogPage{}, fmt.Errorf("stub: page %d failed", page)
	}
	return domain.CatalogPage{Items: s.pages[page-1], TotalPages: s.totalPages}, nil
}

func item(key string, price float64) domain.Item {
	return domain.Item{HashKey: key, DisplayName: key, Price: price}
}

func TestFetchAllHonoursAdvertisedTotal(t *testing.T) {
	rq := require.New(t)
	client := &stubClient{
		marketplace: domain.MarketplaceBuff,
		pages: [][]domain.Item{
			{item("K1", 1), item("K2", 2)},
			{item("K3", 3)},
			{item("K4", 4)},
		},
		totalPages: 2,
	}

	f := fetch.New(client, metrics.New(), testLogger())
	items, stats, err := f.FetchAll(context.Background(), 10, 80, nil)
	rq.NoError(err)

	// Advertised total of 2 wins over the configured bound of 10.
	rq.Equal([]int{1, 2}, client.fetched)
	rq.Len(items, 3)
	rq.Equal(2, stats.SuccessfulPages)
	rq.Zero(stats.FailedPages)
}

func TestFetchAllMaxPagesBound(t *testing.T) {
	rq := require.New(t)
	client := &stubClient{
		marketplace: domain.MarketplaceBuff,
		pages: [][]domain.Item{
			{item("K1", 1)}, {item("K2", 2)}, {item("K3", 3)},
		},
		totalPages: 100,
	}

	f := fetch.New(client, metrics.New(), testLogger())
	items, _, err := f.FetchAll(context.Background(), 2, 80, nil)
	rq.NoError(err)
	rq.Equal([]int{1, 2}, client.fetched)
	rq.Len(items, 2)
}

func TestFetchAllEmptyPageEndsUnadvertisedStream(t *testing.T) {
	rq := require.New(t)
	client := &stubClient{
		marketplace: domain.MarketplaceYoupin,
		pages: [][]domain.Item{
			{item("K1", 1)},
			{item("K2", 2)},
			{}, // end of stream
			{item("K9", 9)},
		},
	}

	f := fetch.New(client, metrics.New(), testLogger())
	items, stats, err := f.FetchAll(context.Background(), 10, 100, nil)
	rq.NoError(err)
	rq.Equal([]int{1, 2, 3}, client.fetched)
	rq.Len(items, 2)
	rq.Equal(2, stats.SuccessfulPages)
}

func TestFetchAllFailedPageIsSkipped(t *testing.T) {
	rq := require.New(t)
	client := &stubClient{
		marketplace: domain.MarketplaceBuff,
		pages: [][]domain.Item{
			{item("K1", 1)},
			nil, // fails
			{item("K3", 3)},
		},
		totalPages: 3,
	}

	f := fetch.New(client, metrics.New(), testLogger())
	items, stats, err := f.FetchAll(context.Background(), 10, 80, nil)
	rq.NoError(err)
	rq.Len(items, 2)
	rq.Equal(2, stats.SuccessfulPages)
	rq.Equal(1, stats.FailedPages)
}

func TestFetchAllCancelledReturnsCollected(t *testing.T) {
	rq := require.New(t)
	ctx, cancel := context.WithCancel(context.Background())

	client := &cancellingClient{cancel: cancel, cancelAfter: 2}
	f := fetch.New(client, metrics.New(), testLogger())

	items, _, err := f.FetchAll(ctx, 10, 80, nil)
	rq.ErrorIs(err, domain.ErrCancelled)
	rq.Len(items, 2)
}

// cancellingClient cancels the context after serving cancelAfter pages.
type cancellingClient struct {
	cancel      context.CancelFunc
	cancelAfter int
	served      int
}

func (c *cancellingClient) Marketplace() domain.Marketplace { return domain.MarketplaceBuff }

func (c *cancellingClient) FetchPage(ctx context.Context, page, pageSize int) (domain.CatalogPage, error) {
	if err := ctx.Err(); err != nil {
		return domain.CatalogPage{}, fmt.Errorf("%w: %v", domain.ErrCancelled, err)
	}
	c.served++
	if c.served == c.cancelAfter {
		c.cancel()
	}
	return domain.CatalogPage{
		Items:      []domain.Item{item(fmt.Sprintf("K%d", page), float64(page))},
		TotalPages: 10,
	}, nil
}
