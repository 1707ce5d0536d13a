package refresh_test

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"skindiff/internal/domain"
	"skindiff/internal/fetch"
	"skindiff/internal/keycache"
	"skindiff/internal/match"
	"skindiff/internal/metrics"
	"skindiff/internal/notify"
	"skindiff/internal/refresh"
	"skindiff/internal/settings"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// scriptedClient serves the same page set on every walk.
type scriptedClient struct {
	mu          sync.Mutex
	marketplace domain.Marketplace
	items       []domain.Item
	blockPage   int           // 0 disables blocking
	entered     chan struct{} // closed when blockPage is reached
}

func (c *scriptedClient) Marketplace() domain.Marketplace { return c.marketplace }

func (c *scriptedClient) setItems(items []domain.Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = items
}

func (c *scriptedClient) FetchPage(ctx context.Context, page, pageSize int) (domain.CatalogPage, error) {
	if err := ctx.Err(); err != nil {
		return domain.CatalogPage{}, fmt.Errorf("%w: %v", domain.ErrCancelled, err)
	}

	if c.blockPage > 0 && page == c.blockPage {
		if c.entered != nil {
			close(c.entered)
			c.entered = nil
		}
		<-ctx.Done()
		return domain.CatalogPage{}, fmt.Errorf("%w: %v", domain.ErrCancelled, ctx.Err())
	}

	c.mu.Lock()
	items := c.items
	c.mu.Unlock()

	if page == 1 {
		return domain.CatalogPage{Items: items, TotalPages: 1}, nil
	}
	return domain.CatalogPage{TotalPages: 1}, nil
}

type fixture struct {
	orch   *refresh.Orchestrator
	store  *settings.Store
	keys   *keycache.Cache
	buff   *scriptedClient
	youpin *scriptedClient
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := settings.NewStore(settings.Settings{
		DiffMin:         3,
		DiffMax:         5,
		MaxOutput:       10,
		BuffMaxPages:    10,
		YoupinMaxPages:  10,
		BuffPageSize:    80,
		YoupinPageSize:  100,
		FullIntervalSec: 3600,
		IncrIntervalSec: 300,
	})

	keys, err := keycache.Open(filepath.Join(t.TempDir(), "keys.json"), testLogger())
	require.NoError(t, err)
	store.OnFilterChange(keys.Clear)

	buffClient := &scriptedClient{marketplace: domain.MarketplaceBuff}
	youpinClient := &scriptedClient{marketplace: domain.MarketplaceYoupin}

	m := metrics.New()
	orch := refresh.NewOrchestrator(
		fetch.New(buffClient, m, testLogger()),
		fetch.New(youpinClient, m, testLogger()),
		match.New(testLogger()),
		store,
		keys,
		m,
		notify.NewNotifier(nil, nil, testLogger()),
		testLogger(),
	)

	return &fixture{orch: orch, store: store, keys: keys, buff: buffClient, youpin: youpinClient}
}

func buffItem(key string, price float64) domain.Item {
	return domain.Item{
		HashKey: key, DisplayName: key, Price: price,
		SourceLink: "https://buff.163.com/goods/1", Marketplace: domain.MarketplaceBuff,
	}
}

func youpinItem(key string, price float64) domain.Item {
	return domain.Item{
		HashKey: key, DisplayName: key, Price: price,
		Marketplace: domain.MarketplaceYoupin,
	}
}

func TestFullRefreshHappyPath(t *testing.T) {
	rq := require.New(t)
	f := newFixture(t)

	f.buff.setItems([]domain.Item{buffItem("K1", 100), buffItem("K2", 50)})
	f.youpin.setItems([]domain.Item{youpinItem("K1", 104), youpinItem("K2", 60)})

	rq.NoError(f.orch.Run(context.Background(), refresh.ModeFull))

	rs := f.orch.Current()
	rq.Equal(1, rs.Len())
	rq.Equal("K1", rs.Pairs[0].HashKey)
	rq.InDelta(4.0, rs.Pairs[0].Diff, 1e-9)

	// The interesting-key set now holds exactly the result keys.
	rq.Equal(1, f.keys.Len())
	rq.Contains(f.keys.Keys(), "K1")

	st := f.orch.Status()
	rq.Equal(domain.PhaseIdle, st.Phase)
	rq.Empty(st.LastError)
	rq.NotNil(st.LastFullAt)
}

func TestConsecutiveFullRefreshesAreIdentical(t *testing.T) {
	rq := require.New(t)
	f := newFixture(t)

	f.buff.setItems([]domain.Item{buffItem("K1", 100), buffItem("K2", 80)})
	f.youpin.setItems([]domain.Item{youpinItem("K1", 104), youpinItem("K2", 84)})

	rq.NoError(f.orch.Run(context.Background(), refresh.ModeFull))
	first := f.orch.Current()

	rq.NoError(f.orch.Run(context.Background(), refresh.ModeFull))
	second := f.orch.Current()

	rq.Equal(first.Len(), second.Len())
	for i := range first.Pairs {
		a, b := first.Pairs[i], second.Pairs[i]
		rq.Equal(a.HashKey, b.HashKey)
		rq.Equal(a.Diff, b.Diff)
		rq.Equal(a.Margin, b.Margin)
		rq.Equal(a.MatchedBy, b.MatchedBy)
	}
}

func TestBothSidesEmptyKeepsPriorResults(t *testing.T) {
	rq := require.New(t)
	f := newFixture(t)

	f.buff.setItems([]domain.Item{buffItem("K1", 100)})
	f.youpin.setItems([]domain.Item{youpinItem("K1", 104)})
	rq.NoError(f.orch.Run(context.Background(), refresh.ModeFull))
	prior := f.orch.Current()
	rq.Equal(1, prior.Len())

	f.buff.setItems(nil)
	f.youpin.setItems(nil)
	err := f.orch.Run(context.Background(), refresh.ModeFull)
	rq.ErrorIs(err, domain.ErrUpstreamUnavailable)

	rq.Same(prior, f.orch.Current())
	rq.Contains(f.orch.Status().LastError, "upstream unavailable")
}

func TestOneSidedEmptyYieldsEmptySet(t *testing.T) {
	rq := require.New(t)
	f := newFixture(t)

	f.buff.setItems([]domain.Item{buffItem("K1", 100)})
	f.youpin.setItems(nil)

	rq.NoError(f.orch.Run(context.Background(), refresh.ModeFull))
	rq.Zero(f.orch.Current().Len())
	rq.Empty(f.orch.Status().LastError)
}

func TestIncrementalRestrictsToInterestingKeys(t *testing.T) {
	rq := require.New(t)
	f := newFixture(t)

	f.buff.setItems([]domain.Item{buffItem("K1", 100)})
	f.youpin.setItems([]domain.Item{youpinItem("K1", 104)})
	rq.NoError(f.orch.Run(context.Background(), refresh.ModeFull))
	rq.Equal(1, f.keys.Len())

	// K3 appears upstream with a valid diff, but it is not interesting.
	f.buff.setItems([]domain.Item{buffItem("K1", 100), buffItem("K3", 200)})
	f.youpin.setItems([]domain.Item{youpinItem("K1", 103), youpinItem("K3", 204)})

	rq.NoError(f.orch.Run(context.Background(), refresh.ModeIncremental))

	rs := f.orch.Current()
	rq.Equal(1, rs.Len())
	rq.Equal("K1", rs.Pairs[0].HashKey)
	rq.InDelta(3.0, rs.Pairs[0].Diff, 1e-9)

	// An incremental run must not rebuild the interesting-key set.
	rq.Equal(1, f.keys.Len())
}

func TestIncrementalRetainsStaleInterestingPairs(t *testing.T) {
	rq := require.New(t)
	f := newFixture(t)

	f.buff.setItems([]domain.Item{buffItem("K1", 100), buffItem("K2", 50)})
	f.youpin.setItems([]domain.Item{youpinItem("K1", 104), youpinItem("K2", 54)})
	rq.NoError(f.orch.Run(context.Background(), refresh.ModeFull))
	rq.Equal(2, f.orch.Current().Len())

	// K2 vanishes from the new scan; its key is still interesting, so the
	// prior pair survives the merge.
	f.buff.setItems([]domain.Item{buffItem("K1", 100)})
	rq.NoError(f.orch.Run(context.Background(), refresh.ModeIncremental))

	rs := f.orch.Current()
	rq.Equal(2, rs.Len())
	keys := []string{rs.Pairs[0].HashKey, rs.Pairs[1].HashKey}
	rq.ElementsMatch([]string{"K1", "K2"}, keys)
}

func TestFilterChangeForcesFullRefresh(t *testing.T) {
	rq := require.New(t)
	f := newFixture(t)

	f.buff.setItems([]domain.Item{buffItem("K1", 100)})
	f.youpin.setItems([]domain.Item{youpinItem("K1", 104)})
	rq.NoError(f.orch.Run(context.Background(), refresh.ModeFull))
	rq.Equal(1, f.keys.Len())

	// Changing the diff band invalidates the key set...
	_, err := f.store.SetDiffBand(10, 20)
	rq.NoError(err)
	rq.Zero(f.keys.Len())

	// ...so the next incremental degrades to full and sees keys outside the
	// old interesting set.
	f.buff.setItems([]domain.Item{buffItem("K1", 100), buffItem("K9", 100)})
	f.youpin.setItems([]domain.Item{youpinItem("K1", 104), youpinItem("K9", 115)})

	rq.NoError(f.orch.Run(context.Background(), refresh.ModeIncremental))

	rs := f.orch.Current()
	rq.Equal(1, rs.Len())
	rq.Equal("K9", rs.Pairs[0].HashKey)
	// A degraded run is a full run: it rebuilds the key set.
	rq.Equal(1, f.keys.Len())
}

func TestCancellationLeavesResultsUntouched(t *testing.T) {
	rq := require.New(t)
	f := newFixture(t)

	f.buff.setItems([]domain.Item{buffItem("K1", 100)})
	f.youpin.setItems([]domain.Item{youpinItem("K1", 104)})
	rq.NoError(f.orch.Run(context.Background(), refresh.ModeFull))
	prior := f.orch.Current()

	entered := make(chan struct{})
	f.buff.blockPage = 1
	f.buff.entered = entered

	done := make(chan error, 1)
	go func() {
		done <- f.orch.Run(context.Background(), refresh.ModeFull)
	}()

	<-entered
	f.orch.Cancel()

	select {
	case err := <-done:
		rq.ErrorIs(err, domain.ErrCancelled)
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled refresh did not unwind")
	}

	rq.Same(prior, f.orch.Current())
	rq.False(f.orch.Running())

	// The lock was released: a new refresh runs normally.
	f.buff.blockPage = 0
	rq.NoError(f.orch.Run(context.Background(), refresh.ModeFull))
}

func TestConcurrentRefreshIsRejected(t *testing.T) {
	rq := require.New(t)
	f := newFixture(t)

	entered := make(chan struct{})
	f.buff.blockPage = 1
	f.buff.entered = entered
	f.youpin.setItems([]domain.Item{youpinItem("K1", 104)})

	done := make(chan error, 1)
	go func() {
		done <- f.orch.Run(context.Background(), refresh.ModeFull)
	}()

	<-entered
	rq.True(f.orch.Running())
	rq.ErrorIs(f.orch.Run(context.Background(), refresh.ModeFull), domain.ErrAlreadyRunning)

	f.orch.Cancel()
	<-done
}
