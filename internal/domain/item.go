// Package domain defines the core data model shared by every component:
// marketplace items, matched price-differential pairs, result sets, and the
// error taxonomy.
package domain

import "time"

// Marketplace identifies one of the two upstream venues.
type Marketplace string

const (
	MarketplaceBuff   Marketplace = "buff"
	MarketplaceYoupin Marketplace = "youpin"
)

// MatchKind records how the two sides of a Pair were joined.
type MatchKind string

const (
	// MatchKeyExact means both sides carried the same canonical hash key.
	MatchKeyExact MatchKind = "key_exact"
	// MatchNameExact means the join fell back to the localized display name.
	MatchNameExact MatchKind = "name_exact"
)

// Item is one listing observed on a single marketplace during a refresh.
// HashKey is the platform-wide identifier of the form
// "AWP | Chromatic Aberration (Minimal Wear)" and is the canonical join
// column across venues. Price is the lowest asking price observed for the
// key; zero means the item is not on sale.
type Item struct {
	HashKey     string      `json:"hash_key"`
	DisplayName string      `json:"display_name"`
	Price       float64     `json:"price"`
	SellCount   int         `json:"sell_count,omitempty"`
	SourceLink  string      `json:"source_link"`
	Marketplace Marketplace `json:"marketplace"`
	FetchedAt   time.Time   `json:"fetched_at"`
}

// Pair is one matched cross-market record with its computed differential.
// Diff is youpin price minus buff price; Margin is Diff over the buff price.
type Pair struct {
	HashKey     string    `json:"hash_key"`
	DisplayName string    `json:"display_name"`
	BuffPrice   float64   `json:"buff_price"`
	YoupinPrice float64   `json:"youpin_price"`
	Diff        float64   `json:"diff"`
	Margin      float64   `json:"margin"`
	BuyLink     string    `json:"buy_link"`
	MatchedBy   MatchKind `json:"matched_by"`
	ObservedAt  time.Time `json:"observed_at"`
}

// ResultSet is the ordered output of one refresh: pairs sorted by margin
// desc, diff desc, key asc, truncated to the configured output cap. It is
// immutable once published; readers receive it through an atomic swap.
type ResultSet struct {
	Pairs       []Pair    `json:"pairs"`
	BuiltAt     time.Time `json:"built_at"`
	KeyMatches  int       `json:"key_matches"`
	NameMatches int       `json:"name_matches"`
}

// Len reports the number of pairs in the set. Safe on a nil set.
func (rs *ResultSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.Pairs)
}

// RefreshPhase is the orchestrator's externally visible state.
type RefreshPhase string

const (
	PhaseIdle        RefreshPhase = "idle"
	PhaseRunningFull RefreshPhase = "running_full"
	PhaseRunningIncr RefreshPhase = "running_incremental"
)

// Progress is a point-in-time snapshot of a running refresh, published to
// the status endpoint and the WebSocket hub.
type Progress struct {
	RefreshID    string       `json:"refresh_id"`
	Phase        RefreshPhase `json:"phase"`
	PagesDone    int          `json:"pages_done"`
	PagesTotal   int          `json:"pages_total"`
	MatchesSoFar int          `json:"matches_so_far"`
	StartedAt    time.Time    `json:"started_at,omitempty"`
}

// FetchStats counts page outcomes for one marketplace within one refresh.
type FetchStats struct {
	SuccessfulPages int `json:"successful_pages"`
	FailedPages     int `json:"failed_pages"`
	TotalItems      int `json:"total_items"`
}
