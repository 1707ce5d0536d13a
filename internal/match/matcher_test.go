package match_test

import (
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"skindiff/internal/domain"
	"skindiff/internal/match"
	"skindiff/internal/settings"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func baseSettings() settings.Settings {
	return settings.Settings{
		DiffMin:         3,
		DiffMax:         5,
		BuffPriceMin:    0,
		BuffPriceMax:    0,
		MaxOutput:       10,
		BuffMaxPages:    10,
		YoupinMaxPages:  10,
		BuffPageSize:    80,
		YoupinPageSize:  100,
		FullIntervalSec: 3600,
		IncrIntervalSec: 300,
	}
}

func buffItem(key, name string, price float64) domain.Item {
	return domain.Item{
		HashKey:     key,
		DisplayName: name,
		Price:       price,
		SourceLink:  "https://buff.163.com/goods/1",
		Marketplace: domain.MarketplaceBuff,
	}
}

func youpinItem(key, name string, price float64) domain.Item {
	return domain.Item{
		HashKey:     key,
		DisplayName: name,
		Price:       price,
		Marketplace: domain.MarketplaceYoupin,
	}
}

func TestMatchKeyExactInsideBand(t *testing.T) {
	rq := require.New(t)
	m := match.New(testLogger())

	res := m.Match(
		[]domain.Item{
			buffItem("K1", "Item One", 100),
			buffItem("K2", "Item Two", 50),
		},
		[]domain.Item{
			youpinItem("K1", "Item One", 104),
			youpinItem("K2", "Item Two", 60),
		},
		baseSettings(),
	)

	// K2's diff of 10 falls outside [3,5].
	rq.Len(res.Pairs, 1)
	p := res.Pairs[0]
	rq.Equal("K1", p.HashKey)
	rq.InDelta(4.0, p.Diff, 1e-9)
	rq.InDelta(0.04, p.Margin, 1e-9)
	rq.Equal(domain.MatchKeyExact, p.MatchedBy)
	rq.Equal(1, res.KeyMatches)
	rq.Equal(0, res.NameMatches)
}

func TestMatchNameFallback(t *testing.T) {
	rq := require.New(t)
	m := match.New(testLogger())

	res := m.Match(
		[]domain.Item{buffItem("K1", "Foo", 10)},
		[]domain.Item{youpinItem("", "Foo", 14)},
		baseSettings(),
	)

	rq.Len(res.Pairs, 1)
	rq.Equal(domain.MatchNameExact, res.Pairs[0].MatchedBy)
	rq.InDelta(4.0, res.Pairs[0].Diff, 1e-9)
	rq.Equal(1, res.NameMatches)
}

func TestMatchBuffPriceBand(t *testing.T) {
	rq := require.New(t)
	m := match.New(testLogger())

	s := baseSettings()
	s.BuffPriceMin = 5
	s.BuffPriceMax = 20

	res := m.Match(
		[]domain.Item{
			buffItem("K1", "One", 3),
			buffItem("K2", "Two", 10),
		},
		[]domain.Item{
			youpinItem("K1", "One", 7),
			youpinItem("K2", "Two", 14),
		},
		s,
	)

	rq.Len(res.Pairs, 1)
	rq.Equal("K2", res.Pairs[0].HashKey)
}

func TestMatchBandBoundsInclusive(t *testing.T) {
	rq := require.New(t)
	m := match.New(testLogger())

	res := m.Match(
		[]domain.Item{
			buffItem("LO", "Lo", 100),
			buffItem("HI", "Hi", 100),
			buffItem("OUT", "Out", 100),
		},
		[]domain.Item{
			youpinItem("LO", "Lo", 103), // diff exactly d_lo
			youpinItem("HI", "Hi", 105), // diff exactly d_hi
			youpinItem("OUT", "Out", 105.5),
		},
		baseSettings(),
	)

	keys := make([]string, 0, len(res.Pairs))
	for _, p := range res.Pairs {
		keys = append(keys, p.HashKey)
	}
	rq.ElementsMatch([]string{"LO", "HI"}, keys)
}

func TestMatchOrderingAndCap(t *testing.T) {
	rq := require.New(t)
	m := match.New(testLogger())

	s := baseSettings()
	s.MaxOutput = 2

	// Margins: KA 4/80=0.05, KB 4/100=0.04, KC 5/100=0.05 (same margin as
	// KA but larger diff), so order is KC, KA, KB before the cap.
	res := m.Match(
		[]domain.Item{
			buffItem("KA", "A", 80),
			buffItem("KB", "B", 100),
			buffItem("KC", "C", 100),
		},
		[]domain.Item{
			youpinItem("KA", "A", 84),
			youpinItem("KB", "B", 104),
			youpinItem("KC", "C", 105),
		},
		s,
	)

	rq.Len(res.Pairs, 2)
	rq.Equal("KC", res.Pairs[0].HashKey)
	rq.Equal("KA", res.Pairs[1].HashKey)

	for i := 1; i < len(res.Pairs); i++ {
		prev, cur := res.Pairs[i-1], res.Pairs[i]
		rq.GreaterOrEqual(prev.Margin, cur.Margin)
	}
}

func TestMatchKeyTiebreakStable(t *testing.T) {
	rq := require.New(t)
	m := match.New(testLogger())

	// Identical margin and diff; key ascending decides.
	res := m.Match(
		[]domain.Item{
			buffItem("KB", "B", 100),
			buffItem("KA", "A", 100),
		},
		[]domain.Item{
			youpinItem("KB", "B", 104),
			youpinItem("KA", "A", 104),
		},
		baseSettings(),
	)

	rq.Len(res.Pairs, 2)
	rq.Equal("KA", res.Pairs[0].HashKey)
	rq.Equal("KB", res.Pairs[1].HashKey)
}

func TestMatchNoDuplicateKeys(t *testing.T) {
	rq := require.New(t)
	m := match.New(testLogger())

	// Two buy-side listings for the same key; the cheaper one wins and only
	// one pair comes out.
	res := m.Match(
		[]domain.Item{
			buffItem("K1", "One", 101),
			buffItem("K1", "One", 100),
		},
		[]domain.Item{youpinItem("K1", "One", 104)},
		baseSettings(),
	)

	rq.Len(res.Pairs, 1)
	rq.InDelta(100.0, res.Pairs[0].BuffPrice, 1e-9)
}

func TestMatchYoupinCollisionKeepsLowest(t *testing.T) {
	rq := require.New(t)
	m := match.New(testLogger())

	res := m.Match(
		[]domain.Item{buffItem("K1", "One", 100)},
		[]domain.Item{
			youpinItem("K1", "One", 110),
			youpinItem("K1", "One", 104),
		},
		baseSettings(),
	)

	rq.Len(res.Pairs, 1)
	rq.InDelta(104.0, res.Pairs[0].YoupinPrice, 1e-9)
}

func TestMatchSkipsUnpricedBuyItems(t *testing.T) {
	rq := require.New(t)
	m := match.New(testLogger())

	res := m.Match(
		[]domain.Item{buffItem("K1", "One", 0)},
		[]domain.Item{youpinItem("K1", "One", 4)},
		baseSettings(),
	)

	rq.Empty(res.Pairs)
}
