// Package query provides read-only projections over the current result set.
// Every call operates on the atomically published snapshot and never blocks
// on a running refresh.
package query

import (
	"slices"
	"time"

	"github.com/samber/lo"

	"skindiff/internal/domain"
	"skindiff/internal/keycache"
	"skindiff/internal/refresh"
)

// SortBy selects the ordering of a listing projection.
type SortBy string

const (
	SortByMargin SortBy = "margin"
	SortByDiff   SortBy = "diff"
)

// Service serves listing, statistics, and status reads.
type Service struct {
	orch  *refresh.Orchestrator
	sched *refresh.Scheduler
	keys  *keycache.Cache
}

// New creates a query Service.
func New(orch *refresh.Orchestrator, sched *refresh.Scheduler, keys *keycache.Cache) *Service {
	return &Service{orch: orch, sched: sched, keys: keys}
}

// List returns pairs with diff >= minDiff, ordered by sortBy (margin
// default), truncated to limit (0 means no extra truncation beyond the
// set's own cap).
func (s *Service) List(minDiff float64, sortBy SortBy, limit int) []domain.Pair {
	rs := s.orch.Current()

	pairs := lo.Filter(rs.Pairs, func(p domain.Pair, _ int) bool {
		return p.Diff >= minDiff
	})

	if sortBy == SortByDiff {
		// The published set is margin-ordered; re-rank a copy by diff.
		slices.SortFunc(pairs, func(a, b domain.Pair) int {
			switch {
			case a.Diff > b.Diff:
				return -1
			case a.Diff < b.Diff:
				return 1
			case a.Margin > b.Margin:
				return -1
			case a.Margin < b.Margin:
				return 1
			}
			return 0
		})
	}

	if limit > 0 && len(pairs) > limit {
		pairs = pairs[:limit]
	}
	return pairs
}

// Stats aggregates the current result set.
type Stats struct {
	Count       int        `json:"count"`
	KeyMatches  int        `json:"key_matches"`
	NameMatches int        `json:"name_matches"`
	DiffMean    float64    `json:"diff_mean"`
	DiffMin     float64    `json:"diff_min"`
	DiffMax     float64    `json:"diff_max"`
	MarginMean  float64    `json:"margin_mean"`
	MarginMin   float64    `json:"margin_min"`
	MarginMax   float64    `json:"margin_max"`
	BuiltAt     *time.Time `json:"built_at,omitempty"`
}

// Statistics computes aggregates over the current result set.
func (s *Service) Statistics() Stats {
	rs := s.orch.Current()

	out := Stats{
		Count:       rs.Len(),
		KeyMatches:  rs.KeyMatches,
		NameMatches: rs.NameMatches,
	}
	if rs.Len() == 0 {
		return out
	}

	built := rs.BuiltAt
	out.BuiltAt = &built

	diffs := lo.Map(rs.Pairs, func(p domain.Pair, _ int) float64 { return p.Diff })
	margins := lo.Map(rs.Pairs, func(p domain.Pair, _ int) float64 { return p.Margin })

	out.DiffMean = lo.Sum(diffs) / float64(len(diffs))
	out.DiffMin = lo.Min(diffs)
	out.DiffMax = lo.Max(diffs)
	out.MarginMean = lo.Sum(margins) / float64(len(margins))
	out.MarginMin = lo.Min(margins)
	out.MarginMax = lo.Max(margins)
	return out
}

// ServiceStatus combines orchestrator, scheduler, and key-cache state for
// the status endpoint.
type ServiceStatus struct {
	Refresh         refresh.Status `json:"refresh"`
	ResultCount     int            `json:"result_count"`
	InterestingKeys int            `json:"interesting_keys"`
	KeysBuiltAt     *time.Time     `json:"keys_built_at,omitempty"`
	NextFullTick    *time.Time     `json:"next_full_tick,omitempty"`
	NextIncrTick    *time.Time     `json:"next_incremental_tick,omitempty"`
}

// Status reports the service's operational state.
func (s *Service) Status() ServiceStatus {
	return ServiceStatus{
		Refresh:         s.orch.Status(),
		ResultCount:     s.orch.Current().Len(),
		InterestingKeys: s.keys.Len(),
		KeysBuiltAt:     s.keys.LastBuiltAt(),
		NextFullTick:    s.sched.NextFullTick(),
		NextIncrTick:    s.sched.NextIncrementalTick(),
	}
}
