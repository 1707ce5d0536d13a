// Package youpin is the REST client for the YouPin marketplace catalogue.
// The query endpoint is a POST with a JSON body; authentication is a set of
// device headers read fresh from the token store on every request.
package youpin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"time"

	"skindiff/internal/domain"
	"skindiff/internal/metrics"
	"skindiff/internal/pacing"
	"skindiff/internal/token"
)

const (
	queryPath = "/api/homepage/pc/goods/market/querySaleTemplate"

	retryBaseDelay = 1 * time.Second
	retryMaxDelay  = 10 * time.Second
)

// Client fetches paginated catalogue reads from YouPin.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     *token.Store
	pacer      *pacing.Pacer
	maxRetries int
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// Config holds the transport parameters for a Client.
type Config struct {
	BaseURL         string
	RequestTimeout  time.Duration
	MaxConnsPerHost int
	MaxRetries      int
}

// NewClient creates a YouPin catalogue client.
func NewClient(cfg Config, tokens *token.Store, pacer *pacing.Pacer, m *metrics.Metrics, logger *slog.Logger) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		MaxIdleConnsPerHost:   cfg.MaxConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: 20 * time.Second,
	}

	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.RequestTimeout,
		},
		tokens:     tokens,
		pacer:      pacer,
		maxRetries: cfg.MaxRetries,
		metrics:    m,
		logger:     logger.With(slog.String("component", "youpin_client")),
	}
}

// Marketplace identifies this client's venue.
func (c *Client) Marketplace() domain.Marketplace {
	return domain.MarketplaceYoupin
}

// FetchPage returns one catalogue page. Page numbering is 1-based. YouPin
// advertises no total page count; the fetcher detects end-of-stream from an
// empty page.
func (c *Client) FetchPage(ctx context.Context, page, pageSize int) (domain.CatalogPage, error) {
	if err := c.pacer.Wait(ctx); err != nil {
		return domain.CatalogPage{}, fmt.Errorf("%w: %v", domain.ErrCancelled, err)
	}

	c.metrics.Requests.WithLabelValues(string(domain.MarketplaceYoupin)).Inc()

	payload := queryRequest{
		ListSortType: 0,
		SortType:     0,
		PageSize:     pageSize,
		PageIndex:    page,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.CatalogPage{}, fmt.Errorf("youpin: marshal query: %w", err)
	}

	respBody, err := c.doWithRetry(ctx, body)
	if err != nil {
		return domain.CatalogPage{}, err
	}

	var resp queryResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return domain.CatalogPage{}, fmt.Errorf("youpin: decode page %d: %w", page, err)
	}

	now := time.Now().UTC()
	items := make([]domain.Item, 0, len(resp.Data))
	for i := range resp.Data {
		if it, ok := resp.Data[i].toDomain(now); ok {
			items = append(items, it)
		}
	}

	return domain.CatalogPage{Items: items}, nil
}

// doWithRetry issues the POST with the shared retry policy: up to maxRetries
// attempts, backoff min(base·2^(attempt−1)·U(1,2), max), 429 and transport
// errors retried, 403 retried once.
func (c *Client) doWithRetry(ctx context.Context, payload []byte) ([]byte, error) {
	var lastErr error
	authAttempts := 0

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if attempt > 1 {
			c.metrics.Retries.WithLabelValues(string(domain.MarketplaceYoupin)).Inc()
			if err := sleepBackoff(ctx, attempt); err != nil {
				return nil, fmt.Errorf("%w: %v", domain.ErrCancelled, err)
			}
		}

		body, status, err := c.doOnce(ctx, payload)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %v", domain.ErrCancelled, ctx.Err())
			}
			lastErr = err
			c.logger.Warn("request failed",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			continue
		}

		switch {
		case status >= 200 && status < 300:
			return body, nil

		case status == http.StatusTooManyRequests:
			c.metrics.RateLimited.WithLabelValues(string(domain.MarketplaceYoupin)).Inc()
			lastErr = domain.ErrRateLimited
			c.logger.Warn("rate limited",
				slog.Int("attempt", attempt),
				slog.String("body", truncate(body, 200)),
			)

		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			authAttempts++
			lastErr = fmt.Errorf("%w: http %d", domain.ErrAuthFailed, status)
			if authAttempts > 1 {
				c.metrics.AuthFailures.WithLabelValues(string(domain.MarketplaceYoupin)).Inc()
				return nil, lastErr
			}
			c.logger.Warn("auth rejected, retrying once", slog.Int("status", status))

		default:
			lastErr = fmt.Errorf("youpin: http %d: %s", status, truncate(body, 200))
			c.logger.Warn("unexpected status",
				slog.Int("status", status),
				slog.Int("attempt", attempt),
			)
		}
	}

	if errors.Is(lastErr, domain.ErrAuthFailed) {
		c.metrics.AuthFailures.WithLabelValues(string(domain.MarketplaceYoupin)).Inc()
	}
	return nil, fmt.Errorf("youpin: all %d attempts failed: %w", c.maxRetries, lastErr)
}

// doOnce issues a single POST with the current credential snapshot.
func (c *Client) doOnce(ctx context.Context, payload []byte) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+queryPath, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}

	creds := c.tokens.Youpin()
	for k, v := range creds.Headers {
		req.Header.Set(k, v)
	}
	if creds.B3 != "" {
		if tp := token.TraceParentFromB3(creds.B3); tp != "" {
			req.Header.Set("traceparent", tp)
		}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read response: %w", err)
	}

	return body, resp.StatusCode, nil
}

// sleepBackoff waits before attempt (2 or later) for
// min(base·2^(attempt−2)·U(1,2), max), so the first retry waits 1–2 s,
// honouring ctx.
func sleepBackoff(ctx context.Context, attempt int) error {
	d := retryBaseDelay << (attempt - 2)
	d = time.Duration(float64(d) * (1 + rand.Float64()))
	if d > retryMaxDelay {
		d = retryMaxDelay
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n])
}
