// Package detect evaluates each scan cycle's order books for the two
// strategies: riskless pure arbitrage across both outcomes, and
// momentum-driven temporal arbitrage on a single outcome.
package detect

import (
	"github.com/rs/zerolog"

	"polyarb/internal/book"
	"polyarb/internal/momentum"
)

type Strategy string

const (
	StrategyPure     Strategy = "pure_arb"
	StrategyTemporal Strategy = "temporal_arb"
)

// PureOpportunity is a dual-sided buy whose combined limit cost is below the
// guaranteed $1.00 payout.
type PureOpportunity struct {
	PriceUpMicros        uint64 // worst (limit) price on the UP ask book
	PriceDownMicros      uint64
	PairCostMicros       uint64 // PriceUp + PriceDown
	ProfitPerShareMicros uint64 // 1.00 - pair cost
	SizeMicros           uint64 // shares per side
	InvestmentMicros     uint64 // pair cost x size
	PayoutMicros         uint64 // 1.00 x size, guaranteed
	ProfitMicros         uint64
	VWAPUpMicros         uint64
	VWAPDownMicros       uint64
}

// TemporalOpportunity is a single-sided buy of the outcome a fused momentum
// signal favors, taken while the market still quotes a discount.
type TemporalOpportunity struct {
	Direction        momentum.Direction
	TokenID          string
	LimitPriceMicros uint64 // worst price of the fill
	VWAPMicros       uint64
	SizeMicros       uint64
	InvestmentMicros uint64 // exact fill cost
	PayoutMicros     uint64 // 1.00 x size if the outcome wins
	ProfitMicros     uint64 // expected, not guaranteed
	Confidence       float64
	ChangePct        float64
	BTCPrice         float64
}

type Config struct {
	PairCostMaxMicros uint64 // pure-arb threshold, < 1.00
	PureSizeMicros    uint64 // shares per side

	TemporalEnabled        bool
	TemporalSizeMicros     uint64
	TemporalConfidenceMin  float64
	TemporalPriceCapMicros uint64 // reject if best ask already above this
}

type Detector struct {
	cfg Config
	log zerolog.Logger
}

func New(cfg Config, log zerolog.Logger) *Detector {
	return &Detector{cfg: cfg, log: log.With().Str("component", "detect").Logger()}
}

// PureArbitrage fires iff both ask books can fill the configured size and the
// sum of the two worst fill prices is at or below the pair-cost threshold.
func (d *Detector) PureArbitrage(up, down book.Book) (PureOpportunity, bool) {
	fillUp, ok := book.EstimateBuy(up.Asks, d.cfg.PureSizeMicros)
	if !ok {
		return PureOpportunity{}, false
	}
	fillDown, ok := book.EstimateBuy(down.Asks, d.cfg.PureSizeMicros)
	if !ok {
		return PureOpportunity{}, false
	}

	pairCost := fillUp.WorstMicros + fillDown.WorstMicros
	if pairCost > d.cfg.PairCostMaxMicros {
		return PureOpportunity{}, false
	}

	size := d.cfg.PureSizeMicros
	investment := book.CostMicros(size, pairCost)
	payout := size // $1.00 per share
	opp := PureOpportunity{
		PriceUpMicros:        fillUp.WorstMicros,
		PriceDownMicros:      fillDown.WorstMicros,
		PairCostMicros:       pairCost,
		ProfitPerShareMicros: book.MicrosScale - pairCost,
		SizeMicros:           size,
		InvestmentMicros:     investment,
		PayoutMicros:         payout,
		ProfitMicros:         payout - investment,
		VWAPUpMicros:         fillUp.VWAPMicros,
		VWAPDownMicros:       fillDown.VWAPMicros,
	}
	d.log.Info().
		Str("up", book.FormatMicros(opp.PriceUpMicros)).
		Str("down", book.FormatMicros(opp.PriceDownMicros)).
		Str("pair_cost", book.FormatMicros(opp.PairCostMicros)).
		Str("profit_per_share", book.FormatMicros(opp.ProfitPerShareMicros)).
		Msg("pure arbitrage opportunity")
	return opp, true
}

// TemporalArbitrage fires when a fused momentum signal is confident enough
// and the favored side still quotes below the price cap. The cap is the core
// economic test: a best ask above it means the market has already repriced
// and there is no discount left.
func (d *Detector) TemporalArbitrage(up, down book.Book, sig *momentum.Signal) (TemporalOpportunity, bool) {
	if !d.cfg.TemporalEnabled || sig == nil {
		return TemporalOpportunity{}, false
	}
	if sig.Confidence < d.cfg.TemporalConfidenceMin {
		return TemporalOpportunity{}, false
	}

	target := up
	if sig.Direction == momentum.DirectionDown {
		target = down
	}

	best, ok := target.BestAsk()
	if !ok {
		return TemporalOpportunity{}, false
	}
	if best.PriceMicros > d.cfg.TemporalPriceCapMicros {
		return TemporalOpportunity{}, false // already repriced
	}

	fill, ok := book.EstimateBuy(target.Asks, d.cfg.TemporalSizeMicros)
	if !ok {
		return TemporalOpportunity{}, false
	}

	size := d.cfg.TemporalSizeMicros
	payout := size
	if fill.CostMicros >= payout {
		return TemporalOpportunity{}, false // no edge even if the call is right
	}
	opp := TemporalOpportunity{
		Direction:        sig.Direction,
		TokenID:          target.TokenID,
		LimitPriceMicros: fill.WorstMicros,
		VWAPMicros:       fill.VWAPMicros,
		SizeMicros:       size,
		InvestmentMicros: fill.CostMicros,
		PayoutMicros:     payout,
		ProfitMicros:     payout - fill.CostMicros,
		Confidence:       sig.Confidence,
		ChangePct:        sig.ChangePct,
		BTCPrice:         sig.CurrentPrice,
	}
	d.log.Info().
		Str("direction", string(opp.Direction)).
		Str("price", book.FormatMicros(opp.LimitPriceMicros)).
		Float64("confidence", opp.Confidence).
		Float64("change_pct", opp.ChangePct).
		Msg("temporal arbitrage opportunity")
	return opp, true
}
