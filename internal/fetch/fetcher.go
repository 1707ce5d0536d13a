// Package fetch drives a platform client across its paginated catalogue and
// aggregates the rows. Pages are fetched sequentially on purpose: request
// concurrency lives behind the client's pacing clock, and interleaving pages
// here would only fight that clock.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"skindiff/internal/domain"
	"skindiff/internal/metrics"
)

// pageDeadline bounds one page's total wall-clock including every retry.
const pageDeadline = 2 * time.Minute

// Client is the slice of a platform client the fetcher needs.
type Client interface {
	FetchPage(ctx context.Context, page, pageSize int) (domain.CatalogPage, error)
	Marketplace() domain.Marketplace
}

// ProgressFunc receives (pagesDone, pagesTotal) after every page.
// pagesTotal may shrink when the venue advertises fewer pages than the
// configured bound.
type ProgressFunc func(done, total int)

// Fetcher walks one marketplace's catalogue.
type Fetcher struct {
	client  Client
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a Fetcher for the given client.
func New(client Client, m *metrics.Metrics, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		client:  client,
		metrics: m,
		logger: logger.With(
			slog.String("component", "fetcher"),
			slog.String("marketplace", string(client.Marketplace())),
		),
	}
}

// FetchAll reads up to maxPages catalogue pages and returns the flattened
// item list plus page counters.
//
// Stop rules: cancellation returns immediately with whatever was collected
// and ErrCancelled; a page with zero items is end-of-stream when the venue
// does not advertise a page count; a later page that fails after all retries
// is counted and skipped — unless it failed with ErrAuthFailed, which aborts
// the walk since every later page would fail the same way. A failed first
// page is counted and ends the walk with an error.
func (f *Fetcher) FetchAll(ctx context.Context, maxPages, pageSize int, progress ProgressFunc) ([]domain.Item, domain.FetchStats, error) {
	var (
		items []domain.Item
		stats domain.FetchStats
	)

	report := func(done, total int) {
		if progress != nil {
			progress(done, total)
		}
	}

	first, err := f.fetchPage(ctx, 1, pageSize)
	if err != nil {
		if errors.Is(err, domain.ErrCancelled) {
			return items, stats, err
		}
		if errors.Is(err, domain.ErrAuthFailed) {
			return items, stats, err
		}
		f.metrics.PagesFailed.WithLabelValues(string(f.client.Marketplace())).Inc()
		stats.FailedPages++
		return items, stats, fmt.Errorf("fetch: first page: %w", err)
	}

	items = append(items, first.Items...)
	stats.SuccessfulPages++
	stats.TotalItems = len(items)

	pages := maxPages
	if first.TotalPages > 0 && first.TotalPages < pages {
		pages = first.TotalPages
	}
	report(1, pages)

	f.logger.Info("first page fetched",
		slog.Int("items", len(first.Items)),
		slog.Int("pages_planned", pages),
	)

	if len(first.Items) == 0 {
		// Nothing listed at all; walking further pages is pointless on
		// either venue.
		return items, stats, nil
	}

	for page := 2; page <= pages; page++ {
		if err := ctx.Err(); err != nil {
			return items, stats, fmt.Errorf("%w: %v", domain.ErrCancelled, err)
		}

		result, err := f.fetchPage(ctx, page, pageSize)
		if err != nil {
			if errors.Is(err, domain.ErrCancelled) {
				return items, stats, err
			}
			if errors.Is(err, domain.ErrAuthFailed) {
				return items, stats, err
			}
			f.metrics.PagesFailed.WithLabelValues(string(f.client.Marketplace())).Inc()
			stats.FailedPages++
			f.logger.Warn("page failed after retries",
				slog.Int("page", page),
				slog.String("error", err.Error()),
			)
			report(page, pages)
			continue
		}

		if len(result.Items) == 0 && first.TotalPages == 0 {
			// End-of-stream on venues without an advertised page count.
			f.logger.Info("empty page, end of stream", slog.Int("page", page))
			report(page, page)
			break
		}

		items = append(items, result.Items...)
		stats.SuccessfulPages++
		stats.TotalItems = len(items)
		report(page, pages)
	}

	f.logger.Info("catalogue fetched",
		slog.Int("successful_pages", stats.SuccessfulPages),
		slog.Int("failed_pages", stats.FailedPages),
		slog.Int("total_items", stats.TotalItems),
	)

	return items, stats, nil
}

// fetchPage wraps one client call in the per-page deadline. A deadline hit
// while the refresh itself is still alive reads as a plain page failure so
// the walk continues.
func (f *Fetcher) fetchPage(ctx context.Context, page, pageSize int) (domain.CatalogPage, error) {
	pageCtx, cancel := context.WithTimeout(ctx, pageDeadline)
	defer cancel()

	result, err := f.client.FetchPage(pageCtx, page, pageSize)
	if err != nil && errors.Is(err, domain.ErrCancelled) && ctx.Err() == nil {
		return result, fmt.Errorf("page %d deadline exceeded: %v", page, err)
	}
	return result, err
}
