// Package match joins the two marketplace catalogues into ranked
// price-differential pairs. The join is strict: the canonical hash key
// first, the localized display name as a narrow fallback, nothing fuzzy.
package match

import (
	"log/slog"
	"slices"
	"strings"
	"time"

	"skindiff/internal/domain"
	"skindiff/internal/settings"
)

// Result is the matcher's output: the ranked, capped pair list plus bucket
// counters for the statistics endpoint.
type Result struct {
	Pairs       []domain.Pair
	KeyMatches  int
	NameMatches int
}

// Matcher computes one refresh's pair set.
type Matcher struct {
	logger *slog.Logger
}

// New creates a Matcher.
func New(logger *slog.Logger) *Matcher {
	return &Matcher{logger: logger.With(slog.String("component", "matcher"))}
}

// Match joins buffItems against youpinItems under the given settings
// snapshot and returns pairs ordered by margin desc, diff desc, key asc,
// truncated to the output cap. Both band bounds are inclusive.
func (m *Matcher) Match(buffItems, youpinItems []domain.Item, s settings.Settings) Result {
	byKey := make(map[string]float64, len(youpinItems))
	byName := make(map[string]float64, len(youpinItems))
	for i := range youpinItems {
		it := &youpinItems[i]
		if it.Price <= 0 {
			continue
		}
		if it.HashKey != "" {
			if prev, ok := byKey[it.HashKey]; !ok || it.Price < prev {
				byKey[it.HashKey] = it.Price
			}
		}
		if it.DisplayName != "" {
			if prev, ok := byName[it.DisplayName]; !ok || it.Price < prev {
				byName[it.DisplayName] = it.Price
			}
		}
	}

	// Within one refresh the hash key must be unique per marketplace and
	// carry the lowest asking price, so collapse the buy side first.
	buySide := dedupeLowest(buffItems)

	now := time.Now().UTC()
	result := Result{}
	for i := range buySide {
		a := &buySide[i]
		if a.Price <= 0 || !s.BuffPriceInBand(a.Price) {
			continue
		}

		var (
			youpinPrice float64
			matchedBy   domain.MatchKind
		)
		if p, ok := byKey[a.HashKey]; ok && a.HashKey != "" {
			youpinPrice = p
			matchedBy = domain.MatchKeyExact
		} else if p, ok := byName[a.DisplayName]; ok && a.DisplayName != "" {
			youpinPrice = p
			matchedBy = domain.MatchNameExact
		} else {
			continue
		}

		diff := youpinPrice - a.Price
		if !s.DiffInBand(diff) {
			continue
		}

		result.Pairs = append(result.Pairs, domain.Pair{
			HashKey:     a.HashKey,
			DisplayName: a.DisplayName,
			BuffPrice:   a.Price,
			YoupinPrice: youpinPrice,
			Diff:        diff,
			Margin:      diff / a.Price,
			BuyLink:     a.SourceLink,
			MatchedBy:   matchedBy,
			ObservedAt:  now,
		})
		switch matchedBy {
		case domain.MatchKeyExact:
			result.KeyMatches++
		case domain.MatchNameExact:
			result.NameMatches++
		}
	}

	SortPairs(result.Pairs)
	if len(result.Pairs) > s.MaxOutput {
		result.Pairs = result.Pairs[:s.MaxOutput]
	}

	m.logger.Info("catalogues matched",
		slog.Int("buff_items", len(buySide)),
		slog.Int("youpin_keys", len(byKey)),
		slog.Int("pairs", len(result.Pairs)),
		slog.Int("key_matches", result.KeyMatches),
		slog.Int("name_matches", result.NameMatches),
	)

	return result
}

// SortPairs orders pairs by margin desc, diff desc, key asc. The key
// tiebreak keeps the ordering stable across refreshes over identical data.
func SortPairs(pairs []domain.Pair) {
	slices.SortFunc(pairs, func(a, b domain.Pair) int {
		switch {
		case a.Margin > b.Margin:
			return -1
		case a.Margin < b.Margin:
			return 1
		}
		switch {
		case a.Diff > b.Diff:
			return -1
		case a.Diff < b.Diff:
			return 1
		}
		return strings.Compare(a.HashKey, b.HashKey)
	})
}

// dedupeLowest collapses buy-side items to one entry per hash key, keeping
// the lowest-priced listing. Items without a key pass through untouched so
// the name fallback can still see them.
func dedupeLowest(items []domain.Item) []domain.Item {
	best := make(map[string]int, len(items))
	out := make([]domain.Item, 0, len(items))
	for i := range items {
		it := items[i]
		if it.HashKey == "" {
			out = append(out, it)
			continue
		}
		if j, ok := best[it.HashKey]; ok {
			if it.Price > 0 && (out[j].Price <= 0 || it.Price < out[j].Price) {
				out[j] = it
			}
			continue
		}
		best[it.HashKey] = len(out)
		out = append(out, it)
	}
	return out
}
