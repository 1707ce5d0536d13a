// Package refresh contains the update pipeline: the orchestrator that runs
// full and incremental refresh cycles, and the scheduler that triggers them
// on their cadences. A cycle fetches both catalogues in parallel, matches
// them, and publishes the new result set through an atomic pointer swap so
// readers never observe a half-built set.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"skindiff/internal/domain"
	"skindiff/internal/fetch"
	"skindiff/internal/keycache"
	"skindiff/internal/match"
	"skindiff/internal/metrics"
	"skindiff/internal/notify"
	"skindiff/internal/settings"
)

// Mode selects a refresh variant.
type Mode string

const (
	ModeFull        Mode = "full"
	ModeIncremental Mode = "incremental"
)

// Status is the orchestrator state exposed through the query surface.
type Status struct {
	Phase      domain.RefreshPhase                      `json:"phase"`
	Progress   domain.Progress                          `json:"progress"`
	LastError  string                                   `json:"last_error,omitempty"`
	LastFullAt *time.Time                               `json:"last_full_at,omitempty"`
	FetchStats map[domain.Marketplace]domain.FetchStats `json:"fetch_stats,omitempty"`
}

// Orchestrator serializes refresh cycles and owns the current ResultSet.
type Orchestrator struct {
	buff     *fetch.Fetcher
	youpin   *fetch.Fetcher
	matcher  *match.Matcher
	settings *settings.Store
	keys     *keycache.Cache
	metrics  *metrics.Metrics
	notifier *notify.Notifier
	logger   *slog.Logger

	current atomic.Pointer[domain.ResultSet]

	mu         sync.Mutex
	phase      domain.RefreshPhase
	cancelRun  context.CancelFunc
	progress   domain.Progress
	lastError  string
	lastFullAt *time.Time
	lastStats  map[domain.Marketplace]domain.FetchStats

	onProgress func(domain.Progress)
}

// NewOrchestrator wires the refresh pipeline.
func NewOrchestrator(
	buff, youpin *fetch.Fetcher,
	matcher *match.Matcher,
	st *settings.Store,
	keys *keycache.Cache,
	m *metrics.Metrics,
	notifier *notify.Notifier,
	logger *slog.Logger,
) *Orchestrator {
	o := &Orchestrator{
		buff:     buff,
		youpin:   youpin,
		matcher:  matcher,
		settings: st,
		keys:     keys,
		metrics:  m,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "orchestrator")),
		phase:    domain.PhaseIdle,
	}
	o.current.Store(&domain.ResultSet{})
	return o
}

// OnProgress registers a hook invoked with every progress update (the
// WebSocket hub). Must be called before the first refresh starts.
func (o *Orchestrator) OnProgress(fn func(domain.Progress)) {
	o.onProgress = fn
}

// Current returns the live ResultSet. Never nil, never blocks.
func (o *Orchestrator) Current() *domain.ResultSet {
	return o.current.Load()
}

// Status returns a snapshot of the orchestrator state.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	stats := make(map[domain.Marketplace]domain.FetchStats, len(o.lastStats))
	for k, v := range o.lastStats {
		stats[k] = v
	}
	return Status{
		Phase:      o.phase,
		Progress:   o.progress,
		LastError:  o.lastError,
		LastFullAt: o.lastFullAt,
		FetchStats: stats,
	}
}

// Running reports whether a refresh cycle is in flight.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase != domain.PhaseIdle
}

// Cancel aborts the in-flight refresh, if any. The current ResultSet is
// left untouched.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	cancel := o.cancelRun
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Run executes one refresh cycle in the given mode. It fails fast with
// ErrAlreadyRunning when a cycle is in flight. An incremental run degrades
// to full when the interesting-key set is empty.
func (o *Orchestrator) Run(ctx context.Context, mode Mode) error {
	if mode == ModeIncremental && o.keys.Len() == 0 {
		o.logger.Info("interesting-key set empty, degrading to full refresh")
		mode = ModeFull
	}

	runCtx, err := o.begin(ctx, mode)
	if err != nil {
		return err
	}

	runErr := o.execute(runCtx, mode)
	o.finish(mode, runErr)
	return runErr
}

// begin transitions IDLE -> RUNNING_*, guarded by the exclusion lock.
func (o *Orchestrator) begin(ctx context.Context, mode Mode) (context.Context, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.phase != domain.PhaseIdle {
		return nil, domain.ErrAlreadyRunning
	}

	phase := domain.PhaseRunningFull
	if mode == ModeIncremental {
		phase = domain.PhaseRunningIncr
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.phase = phase
	o.cancelRun = cancel
	o.progress = domain.Progress{
		RefreshID: uuid.NewString(),
		Phase:     phase,
		StartedAt: time.Now().UTC(),
	}
	return runCtx, nil
}

// finish records the outcome and returns to IDLE.
func (o *Orchestrator) finish(mode Mode, runErr error) {
	outcome := "success"
	switch {
	case runErr == nil:
	case errors.Is(runErr, domain.ErrCancelled):
		outcome = "cancelled"
	case errors.Is(runErr, domain.ErrUpstreamUnavailable):
		outcome = "upstream_unavailable"
	case errors.Is(runErr, domain.ErrAuthFailed):
		outcome = "auth_failed"
	default:
		outcome = "error"
	}
	o.metrics.Refreshes.WithLabelValues(string(mode), outcome).Inc()

	o.mu.Lock()
	if o.cancelRun != nil {
		o.cancelRun()
		o.cancelRun = nil
	}
	o.phase = domain.PhaseIdle
	o.progress.Phase = domain.PhaseIdle
	switch {
	case runErr == nil, errors.Is(runErr, domain.ErrCancelled):
		// Cancellation is operator-driven, not a failure.
		o.lastError = ""
		if errors.Is(runErr, domain.ErrCancelled) {
			o.lastError = domain.ErrCancelled.Error()
		}
	default:
		o.lastError = runErr.Error()
	}
	o.mu.Unlock()

	if runErr != nil && !errors.Is(runErr, domain.ErrCancelled) {
		o.logger.Error("refresh failed",
			slog.String("mode", string(mode)),
			slog.String("error", runErr.Error()),
		)
		event := notify.EventRefreshFailed
		if errors.Is(runErr, domain.ErrAuthFailed) {
			event = notify.EventAuthFailed
		}
		_ = o.notifier.Notify(context.Background(), event,
			"Refresh failed",
			fmt.Sprintf("mode=%s error=%v", mode, runErr))
	}
}

// execute runs the fetch/match/publish pipeline under the run context.
func (o *Orchestrator) execute(ctx context.Context, mode Mode) error {
	snap := o.settings.Snapshot()
	started := time.Now()

	o.logger.Info("refresh starting",
		slog.String("mode", string(mode)),
		slog.Float64("diff_min", snap.DiffMin),
		slog.Float64("diff_max", snap.DiffMax),
	)

	buffItems, youpinItems, stats, err := o.fetchBoth(ctx, snap)
	if err != nil {
		return err
	}

	o.mu.Lock()
	o.lastStats = stats
	o.mu.Unlock()

	if len(buffItems) == 0 && len(youpinItems) == 0 {
		return fmt.Errorf("%w: both catalogues returned zero items", domain.ErrUpstreamUnavailable)
	}

	var rs *domain.ResultSet
	if mode == ModeIncremental {
		rs = o.buildIncremental(buffItems, youpinItems, snap)
	} else {
		rs = o.buildFull(buffItems, youpinItems, snap)
	}

	prevTop := topKey(o.current.Load())
	o.current.Store(rs)

	if mode == ModeFull {
		keys := make([]string, 0, len(rs.Pairs))
		for i := range rs.Pairs {
			keys = append(keys, rs.Pairs[i].HashKey)
		}
		if err := o.keys.Replace(keys); err != nil {
			o.logger.Warn("could not persist interesting keys", slog.String("error", err.Error()))
		}
		now := time.Now().UTC()
		o.mu.Lock()
		o.lastFullAt = &now
		o.mu.Unlock()
	}

	o.setMatches(len(rs.Pairs))

	if top := topKey(rs); top != "" && top != prevTop {
		_ = o.notifier.Notify(ctx, notify.EventTopPair,
			"New top spread",
			fmt.Sprintf("%s  diff=%.2f margin=%.1f%%", top, rs.Pairs[0].Diff, rs.Pairs[0].Margin*100))
	}

	o.logger.Info("refresh complete",
		slog.String("mode", string(mode)),
		slog.Int("pairs", len(rs.Pairs)),
		slog.Duration("elapsed", time.Since(started)),
	)
	return nil
}

// fetchBoth drives the two catalogue fetches in parallel. A side failing
// with a transient error contributes zero items; cancellation or an auth
// failure aborts both sides.
func (o *Orchestrator) fetchBoth(ctx context.Context, snap settings.Settings) ([]domain.Item, []domain.Item, map[domain.Marketplace]domain.FetchStats, error) {
	var (
		buffItems, youpinItems []domain.Item
		buffStats, youpinStats domain.FetchStats
		buffTotal, youpinTotal = snap.BuffMaxPages, snap.YoupinMaxPages
		buffDone, youpinDone   int
		progressMu             sync.Mutex
	)

	report := func() {
		progressMu.Lock()
		done, total := buffDone+youpinDone, buffTotal+youpinTotal
		progressMu.Unlock()
		o.setPages(done, total)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		buffItems, buffStats, err = o.buff.FetchAll(gctx, snap.BuffMaxPages, snap.BuffPageSize, func(done, total int) {
			progressMu.Lock()
			buffDone, buffTotal = done, total
			progressMu.Unlock()
			report()
		})
		return fatalOnly(err)
	})
	g.Go(func() error {
		var err error
		youpinItems, youpinStats, err = o.youpin.FetchAll(gctx, snap.YoupinMaxPages, snap.YoupinPageSize, func(done, total int) {
			progressMu.Lock()
			youpinDone, youpinTotal = done, total
			progressMu.Unlock()
			report()
		})
		return fatalOnly(err)
	})

	if err := g.Wait(); err != nil {
		return nil, nil, nil, err
	}

	stats := map[domain.Marketplace]domain.FetchStats{
		domain.MarketplaceBuff:   buffStats,
		domain.MarketplaceYoupin: youpinStats,
	}
	return buffItems, youpinItems, stats, nil
}

// fatalOnly passes through the errors that must abort the whole cycle and
// swallows the rest — a one-sided transient failure just means that side
// contributed fewer items.
func fatalOnly(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrCancelled) || errors.Is(err, domain.ErrAuthFailed) {
		return err
	}
	return nil
}

// buildFull matches the complete catalogues.
func (o *Orchestrator) buildFull(buffItems, youpinItems []domain.Item, snap settings.Settings) *domain.ResultSet {
	res := o.matcher.Match(buffItems, youpinItems, snap)
	return &domain.ResultSet{
		Pairs:       res.Pairs,
		BuiltAt:     time.Now().UTC(),
		KeyMatches:  res.KeyMatches,
		NameMatches: res.NameMatches,
	}
}

// buildIncremental restricts the buy side to the interesting keys, matches,
// and merges the partial result over the prior set: new entries replace old
// ones, and old entries missing from this scan survive only while their
// keys remain interesting.
func (o *Orchestrator) buildIncremental(buffItems, youpinItems []domain.Item, snap settings.Settings) *domain.ResultSet {
	interesting := o.keys.Keys()

	scoped := make([]domain.Item, 0, len(interesting))
	for i := range buffItems {
		if _, ok := interesting[buffItems[i].HashKey]; ok {
			scoped = append(scoped, buffItems[i])
		}
	}

	res := o.matcher.Match(scoped, youpinItems, snap)

	fresh := make(map[string]struct{}, len(res.Pairs))
	for i := range res.Pairs {
		fresh[res.Pairs[i].HashKey] = struct{}{}
	}

	merged := res.Pairs
	keyMatches, nameMatches := res.KeyMatches, res.NameMatches
	if prior := o.current.Load(); prior != nil {
		for i := range prior.Pairs {
			p := prior.Pairs[i]
			if _, ok := fresh[p.HashKey]; ok {
				continue
			}
			if _, ok := interesting[p.HashKey]; !ok {
				continue
			}
			merged = append(merged, p)
			switch p.MatchedBy {
			case domain.MatchKeyExact:
				keyMatches++
			case domain.MatchNameExact:
				nameMatches++
			}
		}
	}

	match.SortPairs(merged)
	if len(merged) > snap.MaxOutput {
		merged = merged[:snap.MaxOutput]
	}

	return &domain.ResultSet{
		Pairs:       merged,
		BuiltAt:     time.Now().UTC(),
		KeyMatches:  keyMatches,
		NameMatches: nameMatches,
	}
}

func (o *Orchestrator) setPages(done, total int) {
	o.mu.Lock()
	o.progress.PagesDone = done
	o.progress.PagesTotal = total
	p := o.progress
	o.mu.Unlock()
	if o.onProgress != nil {
		o.onProgress(p)
	}
}

func (o *Orchestrator) setMatches(n int) {
	o.mu.Lock()
	o.progress.MatchesSoFar = n
	p := o.progress
	o.mu.Unlock()
	if o.onProgress != nil {
		o.onProgress(p)
	}
}

func topKey(rs *domain.ResultSet) string {
	if rs == nil || len(rs.Pairs) == 0 {
		return ""
	}
	return rs.Pairs[0].HashKey
}
