// Package momentum turns the price feed's window into directional confidence
// signals and fuses multiple timeframes into a single trade trigger.
package momentum

import (
	"time"

	"github.com/rs/zerolog"
)

type Direction string

const (
	DirectionUp   Direction = "UP"
	DirectionDown Direction = "DOWN"
)

// Opposite returns the other side of a binary market.
func (d Direction) Opposite() Direction {
	if d == DirectionUp {
		return DirectionDown
	}
	return DirectionUp
}

// Signal is one directional confidence reading. Produced fresh per
// evaluation, never mutated.
type Signal struct {
	Direction      Direction
	Confidence     float64 // [0,1]
	ChangePct      float64
	CurrentPrice   float64
	ReferencePrice float64
	WindowSeconds  int
	At             time.Time
}

// PriceSource is the slice of the feed the engine reads.
type PriceSource interface {
	Current() (float64, bool)
	PriceAt(lookback time.Duration) (float64, bool)
	WindowStart() (float64, time.Time, bool)
}

// Noise floors: moves below these percentages produce no signal at all.
// The window-start reference is trusted further into the noise.
const (
	lookbackNoisePct = 0.01
	windowNoisePct   = 0.005
)

// windowWeight is the fixed dominant weight of the window-start signal in
// fusion, overriding its positional weight.
const windowWeight = 3.0

// fuseLookbacks are the short timeframes combined by Fuse, shortest first.
var fuseLookbacks = []time.Duration{15 * time.Second, 30 * time.Second, 60 * time.Second}

type Engine struct {
	src PriceSource
	now func() time.Time
	log zerolog.Logger
}

func NewEngine(src PriceSource, log zerolog.Logger) *Engine {
	return &Engine{
		src: src,
		now: time.Now,
		log: log.With().Str("component", "momentum").Logger(),
	}
}

// Momentum measures price change over the given lookback. It returns false
// when no observation covers the lookback or the move is inside the noise
// floor.
func (e *Engine) Momentum(lookback time.Duration) (Signal, bool) {
	current, ok := e.src.Current()
	if !ok {
		return Signal{}, false
	}
	reference, ok := e.src.PriceAt(lookback)
	if !ok || reference == 0 {
		return Signal{}, false
	}
	return e.build(current, reference, int(lookback/time.Second), lookbackNoisePct, lookbackConfidence)
}

// WindowMomentum measures price change against the pinned window-start
// reference, the most reliable long-horizon baseline.
func (e *Engine) WindowMomentum() (Signal, bool) {
	current, ok := e.src.Current()
	if !ok {
		return Signal{}, false
	}
	reference, startedAt, ok := e.src.WindowStart()
	if !ok || reference == 0 {
		return Signal{}, false
	}
	elapsed := int(e.now().Sub(startedAt) / time.Second)
	return e.build(current, reference, elapsed, windowNoisePct, windowConfidence)
}

func (e *Engine) build(current, reference float64, windowSeconds int, noisePct float64, confidence func(float64) float64) (Signal, bool) {
	changePct := (current - reference) / reference * 100

	abs := changePct
	if abs < 0 {
		abs = -abs
	}
	if abs < noisePct {
		return Signal{}, false
	}

	dir := DirectionUp
	if changePct < 0 {
		dir = DirectionDown
	}

	return Signal{
		Direction:      dir,
		Confidence:     confidence(abs),
		ChangePct:      changePct,
		CurrentPrice:   current,
		ReferencePrice: reference,
		WindowSeconds:  windowSeconds,
		At:             e.now(),
	}, true
}

// lookbackConfidence maps |changePct| to confidence for short lookbacks.
// Calibrated for 15-minute BTC markets.
func lookbackConfidence(absChangePct float64) float64 {
	switch {
	case absChangePct >= 0.50:
		return 0.95
	case absChangePct >= 0.30:
		return 0.85
	case absChangePct >= 0.15:
		return 0.75
	case absChangePct >= 0.08:
		return 0.65
	case absChangePct >= 0.05:
		return 0.55
	default:
		return 0.45
	}
}

// windowConfidence is the finer-grained table for the window-start signal.
func windowConfidence(absChangePct float64) float64 {
	switch {
	case absChangePct >= 0.40:
		return 0.95
	case absChangePct >= 0.25:
		return 0.90
	case absChangePct >= 0.15:
		return 0.80
	case absChangePct >= 0.10:
		return 0.70
	case absChangePct >= 0.05:
		return 0.60
	default:
		return 0.50
	}
}

// Fuse evaluates the fixed short lookbacks plus the window-start signal and
// combines them. Every present signal must agree on direction; any
// disagreement yields no signal. Confidence is a weighted average where
// longer lookbacks weigh more (1.0, 1.5, 2.0, ...) and the window signal,
// tracked in its own slot, always weighs windowWeight. Price fields come from
// the window signal when present, otherwise from the most recent lookback
// signal.
func (e *Engine) Fuse() (Signal, bool) {
	var sigs []Signal
	for _, lb := range fuseLookbacks {
		if sig, ok := e.Momentum(lb); ok {
			sigs = append(sigs, sig)
		}
	}

	windowSig, haveWindow := e.WindowMomentum()

	if len(sigs) == 0 && !haveWindow {
		return Signal{}, false
	}

	dir := windowSig.Direction
	if len(sigs) > 0 {
		dir = sigs[0].Direction
	}
	for _, sig := range sigs {
		if sig.Direction != dir {
			return Signal{}, false
		}
	}
	if haveWindow && windowSig.Direction != dir {
		return Signal{}, false
	}

	var weighted, total float64
	for i, sig := range sigs {
		w := 1.0 + float64(i)*0.5
		weighted += sig.Confidence * w
		total += w
	}
	if haveWindow {
		weighted += windowSig.Confidence * windowWeight
		total += windowWeight
	}

	base := windowSig
	if !haveWindow {
		base = sigs[len(sigs)-1]
	}

	fused := Signal{
		Direction:      dir,
		Confidence:     weighted / total,
		ChangePct:      base.ChangePct,
		CurrentPrice:   base.CurrentPrice,
		ReferencePrice: base.ReferencePrice,
		WindowSeconds:  base.WindowSeconds,
		At:             e.now(),
	}
	e.log.Debug().
		Str("direction", string(fused.Direction)).
		Float64("confidence", fused.Confidence).
		Float64("change_pct", fused.ChangePct).
		Msg("fused momentum signal")
	return fused, true
}
