package refresh

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"skindiff/internal/domain"
)

// Scheduler triggers refresh cycles on two cadences: heavy (full) and light
// (incremental). Ticks that land while a cycle is running are skipped, not
// queued. Cadence changes rebuild the cron runner in place.
type Scheduler struct {
	orch   *Orchestrator
	logger *slog.Logger

	mu     sync.Mutex
	ctx    context.Context
	runner *cron.Cron
	full   time.Duration
	incr   time.Duration
}

// NewScheduler creates a Scheduler over the orchestrator with the given
// initial cadences. Call Start to begin ticking.
func NewScheduler(orch *Orchestrator, full, incr time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		orch:   orch,
		logger: logger.With(slog.String("component", "scheduler")),
		full:   full,
		incr:   incr,
	}
}

// Start begins the periodic driver. It returns immediately; ticks run on
// the cron goroutine until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.rebuildLocked()
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		if s.runner != nil {
			s.runner.Stop()
			s.runner = nil
		}
		s.mu.Unlock()
	}()

	s.logger.Info("scheduler started",
		slog.Duration("full_interval", s.full),
		slog.Duration("incremental_interval", s.incr),
	)
}

// SetCadences updates both intervals and rebuilds the runner. A refresh
// already in flight is unaffected.
func (s *Scheduler) SetCadences(full, incr time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.full = full
	s.incr = incr
	if s.ctx != nil && s.ctx.Err() == nil {
		s.rebuildLocked()
	}
	s.logger.Info("cadences updated",
		slog.Duration("full_interval", full),
		slog.Duration("incremental_interval", incr),
	)
}

// NextFullTick returns when the next heavy tick fires, or nil before Start.
func (s *Scheduler) NextFullTick() *time.Time {
	return s.nextTick(ModeFull)
}

// NextIncrementalTick returns when the next light tick fires, or nil before
// Start.
func (s *Scheduler) NextIncrementalTick() *time.Time {
	return s.nextTick(ModeIncremental)
}

func (s *Scheduler) nextTick(mode Mode) *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runner == nil {
		return nil
	}
	interval := s.full
	if mode == ModeIncremental {
		interval = s.incr
	}
	// cron's entry list is small (two entries); find the one matching the
	// interval by schedule.
	for _, e := range s.runner.Entries() {
		if sched, ok := e.Schedule.(cron.ConstantDelaySchedule); ok && sched.Delay == interval {
			t := e.Next
			return &t
		}
	}
	return nil
}

// rebuildLocked replaces the cron runner with fresh @every entries. Caller
// holds s.mu.
func (s *Scheduler) rebuildLocked() {
	if s.runner != nil {
		s.runner.Stop()
	}

	runner := cron.New()
	runner.Schedule(cron.Every(s.full), cron.FuncJob(func() { s.tick(ModeFull) }))
	runner.Schedule(cron.Every(s.incr), cron.FuncJob(func() { s.tick(ModeIncremental) }))
	runner.Start()
	s.runner = runner
}

// tick launches one refresh unless the orchestrator's lock is held.
func (s *Scheduler) tick(mode Mode) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	if s.orch.Running() {
		s.logger.Info("tick skipped, refresh in flight", slog.String("mode", string(mode)))
		return
	}

	if err := s.orch.Run(ctx, mode); err != nil {
		if errors.Is(err, domain.ErrAlreadyRunning) {
			s.logger.Info("tick lost the lock race", slog.String("mode", string(mode)))
			return
		}
		// The orchestrator already recorded and notified; the scheduler
		// never propagates.
		s.logger.Warn("scheduled refresh ended with error",
			slog.String("mode", string(mode)),
			slog.String("error", err.Error()),
		)
	}
}
