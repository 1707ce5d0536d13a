// Package settings holds the runtime-mutable analysis parameters: filter
// bands, output cap, page bounds, pacing delays, and refresh cadences. All
// mutations pass through Store.Update, which validates the candidate state
// as a whole and fires change hooks so dependents (interesting-key cache,
// pacers, scheduler) react without a restart.
package settings

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"skindiff/internal/domain"
)

// Settings is one consistent snapshot of every runtime parameter. Durations
// are expressed in seconds over the API; BuffPriceMax <= 0 means the buy-side
// price band has no upper bound.
type Settings struct {
	DiffMin      float64 `json:"diff_min" validate:"gte=0"`
	DiffMax      float64 `json:"diff_max" validate:"gtefield=DiffMin"`
	BuffPriceMin float64 `json:"buff_price_min" validate:"gte=0"`
	BuffPriceMax float64 `json:"buff_price_max"`

	MaxOutput int `json:"max_output" validate:"gte=1,lte=10000"`

	BuffMaxPages   int `json:"buff_max_pages" validate:"gte=1"`
	YoupinMaxPages int `json:"youpin_max_pages" validate:"gte=1"`
	BuffPageSize   int `json:"buff_page_size" validate:"gte=1,lte=200"`
	YoupinPageSize int `json:"youpin_page_size" validate:"gte=1,lte=200"`

	BuffMinDelaySec   float64 `json:"buff_min_delay_sec" validate:"gte=0"`
	YoupinMinDelaySec float64 `json:"youpin_min_delay_sec" validate:"gte=0"`

	FullIntervalSec int `json:"full_interval_sec" validate:"gte=30"`
	IncrIntervalSec int `json:"incremental_interval_sec" validate:"gte=30"`
}

// BuffMinDelay returns the buff pacing interval as a duration.
func (s Settings) BuffMinDelay() time.Duration {
	return time.Duration(s.BuffMinDelaySec * float64(time.Second))
}

// YoupinMinDelay returns the youpin pacing interval as a duration.
func (s Settings) YoupinMinDelay() time.Duration {
	return time.Duration(s.YoupinMinDelaySec * float64(time.Second))
}

// FullInterval returns the heavy (full refresh) cadence.
func (s Settings) FullInterval() time.Duration {
	return time.Duration(s.FullIntervalSec) * time.Second
}

// IncrInterval returns the light (incremental refresh) cadence.
func (s Settings) IncrInterval() time.Duration {
	return time.Duration(s.IncrIntervalSec) * time.Second
}

// BuffPriceInBand reports whether a buy-side price passes the price band.
func (s Settings) BuffPriceInBand(price float64) bool {
	if price < s.BuffPriceMin {
		return false
	}
	if s.BuffPriceMax > 0 && price > s.BuffPriceMax {
		return false
	}
	return true
}

// DiffInBand reports whether a differential passes the diff band. Both
// bounds are inclusive.
func (s Settings) DiffInBand(diff float64) bool {
	return diff >= s.DiffMin && diff <= s.DiffMax
}

// Patch carries a partial update; nil fields are left unchanged.
type Patch struct {
	DiffMin      *float64 `json:"diff_min"`
	DiffMax      *float64 `json:"diff_max"`
	BuffPriceMin *float64 `json:"buff_price_min"`
	BuffPriceMax *float64 `json:"buff_price_max"`

	MaxOutput *int `json:"max_output"`

	BuffMaxPages   *int `json:"buff_max_pages"`
	YoupinMaxPages *int `json:"youpin_max_pages"`
	BuffPageSize   *int `json:"buff_page_size"`
	YoupinPageSize *int `json:"youpin_page_size"`

	BuffMinDelaySec   *float64 `json:"buff_min_delay_sec"`
	YoupinMinDelaySec *float64 `json:"youpin_min_delay_sec"`

	FullIntervalSec *int `json:"full_interval_sec"`
	IncrIntervalSec *int `json:"incremental_interval_sec"`
}

// Store is the process-wide settings singleton. Reads return value
// snapshots; writes are serialized and validated before they become
// visible.
type Store struct {
	mu       sync.RWMutex
	current  Settings
	validate *validator.Validate

	onFilterChange  []func()
	onDelayChange   []func(buff, youpin time.Duration)
	onCadenceChange []func(full, incr time.Duration)
}

// NewStore creates a Store seeded with initial. The seed must already be
// valid; NewStore panics otherwise since it only ever receives compiled-in
// or config-validated defaults.
func NewStore(initial Settings) *Store {
	v := validator.New()
	if err := validateSettings(v, initial); err != nil {
		panic(fmt.Sprintf("settings: invalid seed: %v", err))
	}
	return &Store{current: initial, validate: v}
}

// OnFilterChange registers a hook fired whenever a filter parameter (diff
// band, price band, output cap) mutates. The interesting-key cache uses
// this to invalidate itself.
func (s *Store) OnFilterChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFilterChange = append(s.onFilterChange, fn)
}

// OnDelayChange registers a hook fired whenever either pacing delay mutates.
func (s *Store) OnDelayChange(fn func(buff, youpin time.Duration)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDelayChange = append(s.onDelayChange, fn)
}

// OnCadenceChange registers a hook fired whenever either refresh cadence
// mutates.
func (s *Store) OnCadenceChange(fn func(full, incr time.Duration)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCadenceChange = append(s.onCadenceChange, fn)
}

// Snapshot returns the current settings by value.
func (s *Store) Snapshot() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Update merges patch into the current settings, validates the result, and
// publishes it. Hooks fire after the new state is visible, outside the
// write lock, and only for the parameter groups that actually changed.
func (s *Store) Update(patch Patch) (Settings, error) {
	s.mu.Lock()
	next := s.current
	applyPatch(&next, patch)

	if err := validateSettings(s.validate, next); err != nil {
		s.mu.Unlock()
		return Settings{}, err
	}

	prev := s.current
	s.current = next

	filterChanged := next.DiffMin != prev.DiffMin || next.DiffMax != prev.DiffMax ||
		next.BuffPriceMin != prev.BuffPriceMin || next.BuffPriceMax != prev.BuffPriceMax ||
		next.MaxOutput != prev.MaxOutput
	delayChanged := next.BuffMinDelaySec != prev.BuffMinDelaySec ||
		next.YoupinMinDelaySec != prev.YoupinMinDelaySec
	cadenceChanged := next.FullIntervalSec != prev.FullIntervalSec ||
		next.IncrIntervalSec != prev.IncrIntervalSec

	filterHooks := s.onFilterChange
	delayHooks := s.onDelayChange
	cadenceHooks := s.onCadenceChange
	s.mu.Unlock()

	if filterChanged {
		for _, fn := range filterHooks {
			fn()
		}
	}
	if delayChanged {
		for _, fn := range delayHooks {
			fn(next.BuffMinDelay(), next.YoupinMinDelay())
		}
	}
	if cadenceChanged {
		for _, fn := range cadenceHooks {
			fn(next.FullInterval(), next.IncrInterval())
		}
	}

	return next, nil
}

// SetDiffBand is a convenience wrapper around Update for the diff band.
func (s *Store) SetDiffBand(min, max float64) (Settings, error) {
	return s.Update(Patch{DiffMin: &min, DiffMax: &max})
}

// SetBuffPriceBand is a convenience wrapper around Update for the buy-side
// price band.
func (s *Store) SetBuffPriceBand(min, max float64) (Settings, error) {
	return s.Update(Patch{BuffPriceMin: &min, BuffPriceMax: &max})
}

func applyPatch(dst *Settings, p Patch) {
	if p.DiffMin != nil {
		dst.DiffMin = *p.DiffMin
	}
	if p.DiffMax != nil {
		dst.DiffMax = *p.DiffMax
	}
	if p.BuffPriceMin != nil {
		dst.BuffPriceMin = *p.BuffPriceMin
	}
	if p.BuffPriceMax != nil {
		dst.BuffPriceMax = *p.BuffPriceMax
	}
	if p.MaxOutput != nil {
		dst.MaxOutput = *p.MaxOutput
	}
	if p.BuffMaxPages != nil {
		dst.BuffMaxPages = *p.BuffMaxPages
	}
	if p.YoupinMaxPages != nil {
		dst.YoupinMaxPages = *p.YoupinMaxPages
	}
	if p.BuffPageSize != nil {
		dst.BuffPageSize = *p.BuffPageSize
	}
	if p.YoupinPageSize != nil {
		dst.YoupinPageSize = *p.YoupinPageSize
	}
	if p.BuffMinDelaySec != nil {
		dst.BuffMinDelaySec = *p.BuffMinDelaySec
	}
	if p.YoupinMinDelaySec != nil {
		dst.YoupinMinDelaySec = *p.YoupinMinDelaySec
	}
	if p.FullIntervalSec != nil {
		dst.FullIntervalSec = *p.FullIntervalSec
	}
	if p.IncrIntervalSec != nil {
		dst.IncrIntervalSec = *p.IncrIntervalSec
	}
}

func validateSettings(v *validator.Validate, s Settings) error {
	if err := v.Struct(s); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	// validator cannot express the conditional upper bound, so check the
	// price band by hand: max <= 0 means unbounded.
	if s.BuffPriceMax > 0 && s.BuffPriceMin > s.BuffPriceMax {
		return fmt.Errorf("%w: buff_price_min must not exceed buff_price_max", domain.ErrValidation)
	}
	return nil
}
