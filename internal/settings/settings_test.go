package settings_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"skindiff/internal/domain"
	"skindiff/internal/settings"
)

func seed() settings.Settings {
	return settings.Settings{
		DiffMin:           3,
		DiffMax:           5,
		MaxOutput:         300,
		BuffMaxPages:      100,
		YoupinMaxPages:    50,
		BuffPageSize:      80,
		YoupinPageSize:    100,
		BuffMinDelaySec:   1,
		YoupinMinDelaySec: 3,
		FullIntervalSec:   3600,
		IncrIntervalSec:   300,
	}
}

func TestUpdateMergesPatch(t *testing.T) {
	rq := require.New(t)
	store := settings.NewStore(seed())

	min, max := 2.0, 8.0
	limit := 50
	updated, err := store.Update(settings.Patch{
		DiffMin:   &min,
		DiffMax:   &max,
		MaxOutput: &limit,
	})
	rq.NoError(err)
	rq.Equal(2.0, updated.DiffMin)
	rq.Equal(8.0, updated.DiffMax)
	rq.Equal(50, updated.MaxOutput)

	// Untouched fields survive.
	rq.Equal(80, updated.BuffPageSize)
	rq.Equal(updated, store.Snapshot())
}

func TestUpdateRejectsInvalidState(t *testing.T) {
	rq := require.New(t)
	store := settings.NewStore(seed())
	before := store.Snapshot()

	bad := -1.0
	_, err := store.Update(settings.Patch{DiffMin: &bad})
	rq.ErrorIs(err, domain.ErrValidation)

	inverted := 1.0
	_, err = store.SetDiffBand(5, inverted)
	rq.ErrorIs(err, domain.ErrValidation)

	hugeCap := 20000
	_, err = store.Update(settings.Patch{MaxOutput: &hugeCap})
	rq.ErrorIs(err, domain.ErrValidation)

	shortCadence := 5
	_, err = store.Update(settings.Patch{FullIntervalSec: &shortCadence})
	rq.ErrorIs(err, domain.ErrValidation)

	// Nothing leaked through.
	rq.Equal(before, store.Snapshot())
}

func TestPriceBandUnboundedSemantics(t *testing.T) {
	rq := require.New(t)
	store := settings.NewStore(seed())

	s, err := store.SetBuffPriceBand(10, 0)
	rq.NoError(err)
	rq.True(s.BuffPriceInBand(10))
	rq.True(s.BuffPriceInBand(1e9))
	rq.False(s.BuffPriceInBand(9.99))

	s, err = store.SetBuffPriceBand(5, 20)
	rq.NoError(err)
	rq.True(s.BuffPriceInBand(5))
	rq.True(s.BuffPriceInBand(20))
	rq.False(s.BuffPriceInBand(20.01))

	_, err = store.SetBuffPriceBand(30, 20)
	rq.ErrorIs(err, domain.ErrValidation)
}

func TestFilterChangeHookFires(t *testing.T) {
	rq := require.New(t)
	store := settings.NewStore(seed())

	fired := 0
	store.OnFilterChange(func() { fired++ })

	_, err := store.SetDiffBand(10, 20)
	rq.NoError(err)
	rq.Equal(1, fired)

	_, err = store.SetBuffPriceBand(1, 100)
	rq.NoError(err)
	rq.Equal(2, fired)

	outCap := 100
	_, err = store.Update(settings.Patch{MaxOutput: &outCap})
	rq.NoError(err)
	rq.Equal(3, fired)

	// Non-filter mutations must not invalidate.
	pages := 10
	_, err = store.Update(settings.Patch{BuffMaxPages: &pages})
	rq.NoError(err)
	rq.Equal(3, fired)

	// Identical values are a no-op.
	_, err = store.SetDiffBand(10, 20)
	rq.NoError(err)
	rq.Equal(3, fired)
}

func TestDelayAndCadenceHooks(t *testing.T) {
	rq := require.New(t)
	store := settings.NewStore(seed())

	var gotBuff, gotYoupin time.Duration
	store.OnDelayChange(func(b, y time.Duration) { gotBuff, gotYoupin = b, y })

	var gotFull, gotIncr time.Duration
	store.OnCadenceChange(func(f, i time.Duration) { gotFull, gotIncr = f, i })

	d := 2.5
	_, err := store.Update(settings.Patch{BuffMinDelaySec: &d})
	rq.NoError(err)
	rq.Equal(2500*time.Millisecond, gotBuff)
	rq.Equal(3*time.Second, gotYoupin)

	cad := 120
	_, err = store.Update(settings.Patch{IncrIntervalSec: &cad})
	rq.NoError(err)
	rq.Equal(time.Hour, gotFull)
	rq.Equal(2*time.Minute, gotIncr)
}
