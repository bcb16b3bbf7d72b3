// Package risk is the stateful trade authorizer: it tracks exposure and
// realized daily P&L, enforces the loss/position/bet limits, and owns the
// persistent halted state.
package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"polyarb/internal/book"
	"polyarb/internal/detect"
)

type TradeStatus string

const (
	TradeOpen TradeStatus = "open"
	TradeWon  TradeStatus = "won"
	TradeLost TradeStatus = "lost"
)

// TradeRecord is created when the gate authorizes a trade and settles to
// won/lost later (immediately for pure arbitrage, at market close for
// temporal).
type TradeRecord struct {
	Timestamp            time.Time       `json:"ts"`
	Strategy             detect.Strategy `json:"strategy"`
	Direction            string          `json:"direction"` // BOTH, UP or DOWN
	SizeMicros           uint64          `json:"size_micros"`
	CostMicros           uint64          `json:"cost_micros"`
	ExpectedPayoutMicros uint64          `json:"expected_payout_micros"`
	ExpectedProfitMicros uint64          `json:"expected_profit_micros"`
	MarketID             string          `json:"market_id"`
	Status               TradeStatus     `json:"status"`
	RealizedPnlMicros    int64           `json:"realized_pnl_micros"`
}

// Decision is the structured authorization outcome. Denials are reported, not
// raised.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision { return Decision{Allowed: true} }
func deny(reason string) Decision { return Decision{Reason: reason} }

// Limits are all in micros of collateral.
type Limits struct {
	MaxDailyLossMicros uint64
	MaxSingleBetMicros uint64
	MaxPositionMicros  uint64
}

type dailyStats struct {
	Trades         int    `json:"trades"`
	Wins           int    `json:"wins"`
	Losses         int    `json:"losses"`
	InvestedMicros uint64 `json:"invested_micros"`
	PureCount      int    `json:"pure_count"`
	TemporalCount  int    `json:"temporal_count"`
}

// Gate is safe for concurrent use; every logical operation holds the mutex
// end to end so no observation is read mid-update.
type Gate struct {
	mu sync.Mutex

	limits Limits

	exposureMicros  uint64
	dailyPnlMicros  int64
	dailyDate       string
	stats           dailyStats
	halted          bool
	haltReason      string
	trades          []TradeRecord

	now func() time.Time
	log zerolog.Logger
}

func NewGate(limits Limits, log zerolog.Logger) *Gate {
	return &Gate{
		limits: limits,
		now:    time.Now,
		log:    log.With().Str("component", "risk").Logger(),
	}
}

// rolloverLocked resets the daily figures on first access each local day.
// Halted state does not clear at rollover.
func (g *Gate) rolloverLocked() {
	today := g.now().Format(time.DateOnly)
	if g.dailyDate == today {
		return
	}
	g.dailyDate = today
	g.dailyPnlMicros = 0
	g.stats = dailyStats{}
}

// Authorize decides whether a trade of the given cost may proceed. The
// daily-loss check runs first so an already-breached day halts on the next
// evaluation even with no new trade. Authorize mutates no state other than
// the loss-limit halt transition; re-evaluating with the same state yields
// the same decision.
func (g *Gate) Authorize(costMicros uint64) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.halted {
		return deny(fmt.Sprintf("trading halted: %s", g.haltReason))
	}

	g.rolloverLocked()

	if g.dailyPnlMicros <= -int64(g.limits.MaxDailyLossMicros) {
		g.halted = true
		g.haltReason = fmt.Sprintf("daily loss limit reached: %s", book.FormatSignedMicros(g.dailyPnlMicros))
		g.log.Warn().Str("daily_pnl", book.FormatSignedMicros(g.dailyPnlMicros)).Msg("halting: daily loss limit")
		return deny(g.haltReason)
	}

	if costMicros > g.limits.MaxSingleBetMicros {
		return deny(fmt.Sprintf(
			"trade cost %s exceeds max single bet %s",
			book.FormatMicros(costMicros), book.FormatMicros(g.limits.MaxSingleBetMicros),
		))
	}

	if g.exposureMicros+costMicros > g.limits.MaxPositionMicros {
		return deny(fmt.Sprintf(
			"would exceed max position: current %s + new %s > limit %s",
			book.FormatMicros(g.exposureMicros), book.FormatMicros(costMicros), book.FormatMicros(g.limits.MaxPositionMicros),
		))
	}

	return allow()
}

// RecordOpen adds an authorized trade's cost to cumulative exposure. This is
// the only path by which exposure increases.
func (g *Gate) RecordOpen(trade TradeRecord) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rolloverLocked()

	trade.Status = TradeOpen
	g.trades = append(g.trades, trade)
	if len(g.trades) > keepTrades {
		g.trades = g.trades[len(g.trades)-keepTrades:]
	}
	g.exposureMicros += trade.CostMicros

	g.stats.Trades++
	g.stats.InvestedMicros += trade.CostMicros
	if trade.Strategy == detect.StrategyPure {
		g.stats.PureCount++
	} else {
		g.stats.TemporalCount++
	}

	g.log.Info().
		Str("strategy", string(trade.Strategy)).
		Str("direction", trade.Direction).
		Str("cost", book.FormatMicros(trade.CostMicros)).
		Str("exposure", book.FormatMicros(g.exposureMicros)).
		Msg("trade recorded")
}

// RecordSettlement releases the trade's exposure (floored at zero), folds the
// realized pnl into the daily figure and transitions the trade to won or lost.
// The settled copy is returned for the sinks; the matching stored record is
// updated as well so snapshots carry the final status.
func (g *Gate) RecordSettlement(trade TradeRecord, won bool, pnlMicros int64) TradeRecord {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rolloverLocked()

	status := TradeLost
	if won {
		status = TradeWon
	}
	trade.Status = status
	trade.RealizedPnlMicros = pnlMicros
	for i := len(g.trades) - 1; i >= 0; i-- {
		stored := &g.trades[i]
		if stored.Status == TradeOpen &&
			stored.Strategy == trade.Strategy &&
			stored.Direction == trade.Direction &&
			stored.MarketID == trade.MarketID &&
			stored.Timestamp.Equal(trade.Timestamp) {
			stored.Status = status
			stored.RealizedPnlMicros = pnlMicros
			break
		}
	}

	if g.exposureMicros > trade.CostMicros {
		g.exposureMicros -= trade.CostMicros
	} else {
		g.exposureMicros = 0
	}
	g.dailyPnlMicros += pnlMicros
	if won {
		g.stats.Wins++
	} else {
		g.stats.Losses++
	}

	g.log.Info().
		Bool("won", won).
		Str("pnl", book.FormatSignedMicros(pnlMicros)).
		Str("daily_pnl", book.FormatSignedMicros(g.dailyPnlMicros)).
		Msg("settlement recorded")
	return trade
}

// Halted reports the standing halt condition and its reason.
func (g *Gate) Halted() (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.halted, g.haltReason
}

// Reset clears the halted state. Manual only; rollover never calls this.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.halted = false
	g.haltReason = ""
	g.log.Info().Msg("halt cleared")
}

// Exposure returns the current cumulative exposure in micros.
func (g *Gate) Exposure() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.exposureMicros
}

// DailyPnl returns today's realized pnl in micros, applying the lazy
// rollover.
func (g *Gate) DailyPnl() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked()
	return g.dailyPnlMicros
}

// Summary is a point-in-time view for logs and the /risk endpoint.
type Summary struct {
	Halted         bool    `json:"halted"`
	HaltReason     string  `json:"halt_reason,omitempty"`
	ExposureMicros uint64  `json:"exposure_micros"`
	DailyPnlMicros int64   `json:"daily_pnl_micros"`
	DailyTrades    int     `json:"daily_trades"`
	DailyWins      int     `json:"daily_wins"`
	DailyLosses    int     `json:"daily_losses"`
	WinRatePct     float64 `json:"win_rate_pct"`
	InvestedMicros uint64  `json:"invested_today_micros"`
	PureCount      int     `json:"pure_count"`
	TemporalCount  int     `json:"temporal_count"`
}

func (g *Gate) Summary() Summary {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked()

	winRate := 0.0
	if settled := g.stats.Wins + g.stats.Losses; settled > 0 {
		winRate = float64(g.stats.Wins) / float64(settled) * 100
	}
	return Summary{
		Halted:         g.halted,
		HaltReason:     g.haltReason,
		ExposureMicros: g.exposureMicros,
		DailyPnlMicros: g.dailyPnlMicros,
		DailyTrades:    g.stats.Trades,
		DailyWins:      g.stats.Wins,
		DailyLosses:    g.stats.Losses,
		WinRatePct:     winRate,
		InvestedMicros: g.stats.InvestedMicros,
		PureCount:      g.stats.PureCount,
		TemporalCount:  g.stats.TemporalCount,
	}
}
