// Package feed maintains a rolling window of reference-asset price
// observations streamed from a CEX, and answers point-in-time lookback
// queries for the momentum engine.
package feed

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultRetention bounds the observation window. Fifteen-minute markets only
// need a few window lengths of history.
const DefaultRetention = 20 * time.Minute

// Observation is a single price tick. Immutable once recorded.
type Observation struct {
	Price float64
	At    time.Time
}

// Feed holds the bounded, time-ordered price window. Safe for concurrent use:
// the stream goroutine appends while the scan loop reads.
type Feed struct {
	mu        sync.Mutex
	window    []Observation
	current   float64
	updatedAt time.Time

	windowStartPrice float64
	windowStartAt    time.Time

	retention time.Duration
	now       func() time.Time
	log       zerolog.Logger
}

func New(retention time.Duration, log zerolog.Logger) *Feed {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Feed{
		retention: retention,
		now:       time.Now,
		log:       log.With().Str("component", "feed").Logger(),
	}
}

// RecordPrice appends an observation and evicts entries older than the
// retention horizon. Insertion is time-ordered, so eviction is FIFO.
func (f *Feed) RecordPrice(price float64) {
	if price <= 0 {
		return
	}
	now := f.now()

	f.mu.Lock()
	defer f.mu.Unlock()

	f.current = price
	f.updatedAt = now
	f.window = append(f.window, Observation{Price: price, At: now})

	cutoff := now.Add(-f.retention)
	i := 0
	for i < len(f.window) && f.window[i].At.Before(cutoff) {
		i++
	}
	if i > 0 {
		f.window = append(f.window[:0], f.window[i:]...)
	}
}

// Current returns the latest known price, or false if no tick has arrived.
func (f *Feed) Current() (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current, f.current > 0
}

// LastUpdate returns the timestamp of the most recent tick.
func (f *Feed) LastUpdate() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updatedAt
}

// Count returns the number of retained observations.
func (f *Feed) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.window)
}

// PriceAt returns the price of the oldest retained observation no older than
// lookback, or false when the window is empty or every entry predates the
// lookback horizon.
func (f *Feed) PriceAt(lookback time.Duration) (float64, bool) {
	now := f.now()
	cutoff := now.Add(-lookback)

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, obs := range f.window {
		if !obs.At.Before(cutoff) {
			return obs.Price, true
		}
	}
	return 0, false
}

// MarkWindowStart pins the reference price for since-window-start momentum.
// A zero price pins the latest known price. Called once per market epoch.
func (f *Feed) MarkWindowStart(price float64) {
	f.mu.Lock()
	if price <= 0 {
		price = f.current
	}
	f.windowStartPrice = price
	f.windowStartAt = f.now()
	f.mu.Unlock()

	if price > 0 {
		f.log.Info().Float64("price", price).Msg("window start price pinned")
	}
}

// WindowStart returns the pinned reference price and time, or false when no
// window has been marked (or it was marked before any tick arrived).
func (f *Feed) WindowStart() (float64, time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.windowStartPrice <= 0 {
		return 0, time.Time{}, false
	}
	return f.windowStartPrice, f.windowStartAt, true
}
