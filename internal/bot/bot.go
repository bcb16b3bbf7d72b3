// Package bot runs the dual-strategy scan loop over the active BTC
// 15-minute market. Detected opportunities pass through the risk gate
// before the execution engine places orders.
package bot

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"polyarb/internal/book"
	"polyarb/internal/config"
	"polyarb/internal/detect"
	"polyarb/internal/execution"
	"polyarb/internal/feed"
	"polyarb/internal/gamma"
	"polyarb/internal/momentum"
	"polyarb/internal/obs"
	"polyarb/internal/risk"
	"polyarb/internal/sink"
)

// Deps wires the bot together. Metrics, Store, Notifier and Sim are
// optional; Momentum may be nil when temporal arbitrage is disabled.
type Deps struct {
	Cfg      config.Settings
	Feed     *feed.Feed
	Momentum *momentum.Engine
	Detector *detect.Detector
	Gate     *risk.Gate
	Engine   *execution.Engine
	Books    execution.BookSource
	Finder   MarketFinder
	Gamma    *gamma.Client
	Sinks    sink.Fanout
	Metrics  *obs.Metrics
	Store    risk.Store
	Notifier DailyNotifier
	Sim      *execution.SimRouter
	Log      zerolog.Logger
}

// DailyNotifier receives the end-of-session summary.
type DailyNotifier interface {
	DailySummary(s risk.Summary)
}

// MarketFinder locates the active 15-minute window.
type MarketFinder interface {
	ActiveSlug(ctx context.Context) (string, error)
	TimeRemaining(slug string) string
}

type Bot struct {
	cfg      config.Settings
	feed     *feed.Feed
	momentum *momentum.Engine
	detector *detect.Detector
	gate     *risk.Gate
	engine   *execution.Engine
	books    execution.BookSource
	finder   MarketFinder
	gamma    *gamma.Client
	sinks    sink.Fanout
	metrics  *obs.Metrics
	store    risk.Store
	notifier DailyNotifier
	sim      *execution.SimRouter
	log      zerolog.Logger

	market      gamma.Market
	lastTradeNS atomic.Int64
	alertedHalt bool

	openTemporal []risk.TradeRecord

	totalScans    int
	tradesDone    int
	pureCount     int
	temporalCount int

	now func() time.Time

	// loop pacing, shortened in tests
	transitionRetries int
	transitionDelay   time.Duration
	haltPause         time.Duration
	notFoundPause     time.Duration
}

func New(d Deps) *Bot {
	return &Bot{
		cfg:      d.Cfg,
		feed:     d.Feed,
		momentum: d.Momentum,
		detector: d.Detector,
		gate:     d.Gate,
		engine:   d.Engine,
		books:    d.Books,
		finder:   d.Finder,
		gamma:    d.Gamma,
		sinks:    d.Sinks,
		metrics:  d.Metrics,
		store:    d.Store,
		notifier: d.Notifier,
		sim:      d.Sim,
		log:      d.Log.With().Str("component", "bot").Logger(),

		now: time.Now,

		transitionRetries: 12,
		transitionDelay:   5 * time.Second,
		haltPause:         60 * time.Second,
		notFoundPause:     10 * time.Second,
	}
}

// Run drives the bot until ctx is canceled.
func (b *Bot) Run(ctx context.Context) error {
	b.logStartup()

	if b.cfg.TemporalArbEnabled && b.cfg.BinanceEnabled {
		streamURL := b.cfg.BinanceStreamURL
		if streamURL == "" {
			streamURL = feed.DefaultStreamURL
		}
		go b.feed.Run(ctx, streamURL)
		b.awaitFirstPrice(ctx)
	}

	if err := b.findInitialMarket(ctx); err != nil {
		return err
	}
	if price, ok := b.feed.Current(); ok {
		b.feed.MarkWindowStart(price)
	}

	ticker := time.NewTicker(b.cfg.ScanInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.shutdown()
			return nil
		case <-ticker.C:
		}

		if b.marketClosed() {
			if !b.handleTransition(ctx) {
				if !sleepCtx(ctx, b.notFoundPause) {
					b.shutdown()
					return nil
				}
			}
			continue
		}

		if halted, reason := b.gate.Halted(); halted {
			b.log.Warn().Str("reason", reason).Msg("trading halted")
			if !sleepCtx(ctx, b.haltPause) {
				b.shutdown()
				return nil
			}
			continue
		}

		b.scanOnce(ctx)
	}
}

func (b *Bot) logStartup() {
	mode := "LIVE TRADING"
	if b.cfg.DryRun {
		mode = "SIMULATION"
	}
	b.log.Info().Str("mode", mode).Msg("polymarket BTC 15-min dual-strategy arbitrage bot")
	b.log.Info().
		Str("pair_cost_max", book.FormatMicros(b.cfg.TargetPairCostMicros())).
		Str("order_size", book.FormatMicros(b.cfg.PureArbOrderSizeMicros())).
		Msg("pure arbitrage")
	if b.cfg.TemporalArbEnabled {
		b.log.Info().
			Float64("confidence_min", b.cfg.TemporalArbConfidenceMin()).
			Str("price_cap", book.FormatMicros(b.cfg.TemporalArbPriceCapMicros())).
			Str("order_size", book.FormatMicros(b.cfg.TemporalArbOrderSizeMicros())).
			Msg("temporal arbitrage")
	} else {
		b.log.Info().Msg("temporal arbitrage disabled")
	}
	b.log.Info().
		Str("max_daily_loss", book.FormatMicros(b.cfg.MaxDailyLossMicros())).
		Str("max_single_bet", book.FormatMicros(b.cfg.MaxSingleBetMicros())).
		Str("max_position", book.FormatMicros(b.cfg.MaxPositionSizeMicros())).
		Msg("risk limits")
	if b.sim != nil {
		b.log.Info().Str("balance", book.FormatMicros(b.sim.Balance())).Msg("simulation balance")
	}
}

// awaitFirstPrice waits briefly for the stream, then falls back to REST.
func (b *Bot) awaitFirstPrice(ctx context.Context) {
	for i := 0; i < 50; i++ {
		if _, ok := b.feed.Current(); ok {
			break
		}
		if !sleepCtx(ctx, 200*time.Millisecond) {
			return
		}
	}

	if price, ok := b.feed.Current(); ok {
		b.log.Info().Float64("price", price).Msg("BTC price feed active")
		return
	}

	b.log.Info().Msg("websocket not ready, fetching BTC price via REST")
	price, err := b.feed.FetchOnce(ctx, feed.DefaultRESTURL)
	if err != nil {
		b.log.Warn().Err(err).Msg("could not get BTC price; temporal arb will be limited")
		return
	}
	b.log.Info().Float64("price", price).Msg("BTC price via REST")
}

func (b *Bot) findInitialMarket(ctx context.Context) error {
	for {
		slug := b.cfg.MarketSlug
		var err error
		if slug == "" {
			slug, err = b.finder.ActiveSlug(ctx)
		}
		if err == nil {
			if err = b.loadMarket(ctx, slug); err == nil {
				return nil
			}
		}
		b.log.Error().Err(err).Msg("could not find initial market, retrying in 30s")
		if !sleepCtx(ctx, 30*time.Second) {
			return ctx.Err()
		}
	}
}

func (b *Bot) loadMarket(ctx context.Context, slug string) error {
	m, err := b.gamma.FetchMarket(ctx, slug)
	if err != nil {
		return err
	}
	b.market = m
	_, end, _ := gamma.SlugWindow(slug)
	b.log.Info().
		Str("slug", slug).
		Str("market_id", m.ID).
		Time("closes_at", time.Unix(end, 0)).
		Msg("loaded market")
	return nil
}

func (b *Bot) marketClosed() bool {
	if b.market.Slug == "" {
		return true
	}
	_, end, ok := gamma.SlugWindow(b.market.Slug)
	if !ok {
		return false
	}
	return b.now().Unix() >= end
}

// scanOnce fetches both books and runs the two detectors independently. A
// pure and a temporal trade may both fire in the same cycle, subject to the
// shared cooldown.
func (b *Bot) scanOnce(ctx context.Context) {
	b.totalScans++
	if b.metrics != nil {
		b.metrics.ScansTotal.Inc()
		b.metrics.ObserveRisk(b.gate.Summary())
		if price, ok := b.feed.Current(); ok {
			b.metrics.BTCPrice.Set(price)
		}
		if b.sim != nil {
			b.metrics.SimBalance.Set(float64(b.sim.Balance()) / float64(book.MicrosScale))
		}
	}

	upBook, err := b.books.FetchBook(ctx, b.market.UpTokenID)
	if err != nil {
		b.log.Warn().Err(err).Msg("up book fetch failed")
		return
	}
	downBook, err := b.books.FetchBook(ctx, b.market.DownTokenID)
	if err != nil {
		b.log.Warn().Err(err).Msg("down book fetch failed")
		return
	}

	// One fused signal per cycle: the logged reading is the one traded on.
	var sig *momentum.Signal
	if b.momentum != nil {
		if s, ok := b.momentum.Fuse(); ok {
			sig = &s
		}
	}

	b.logScanStatus(upBook, downBook, sig)

	if opp, ok := b.detector.PureArbitrage(upBook, downBook); ok {
		if b.metrics != nil {
			b.metrics.OpportunitiesTotal.WithLabelValues(string(detect.StrategyPure)).Inc()
		}
		b.executePure(ctx, opp)
	}

	if b.cfg.TemporalArbEnabled {
		if opp, ok := b.detector.TemporalArbitrage(upBook, downBook, sig); ok {
			if b.metrics != nil {
				b.metrics.OpportunitiesTotal.WithLabelValues(string(detect.StrategyTemporal)).Inc()
			}
			b.executeTemporal(ctx, opp)
		}
	}
}

func (b *Bot) logScanStatus(upBook, downBook book.Book, sig *momentum.Signal) {
	upAsk, upOk := upBook.BestAsk()
	downAsk, downOk := downBook.BestAsk()
	if !upOk || !downOk {
		return
	}
	ev := b.log.Info().
		Int("scan", b.totalScans).
		Str("up_ask", book.FormatMicros(upAsk.PriceMicros)).
		Str("down_ask", book.FormatMicros(downAsk.PriceMicros)).
		Str("pair", book.FormatMicros(upAsk.PriceMicros+downAsk.PriceMicros)).
		Str("remaining", b.finder.TimeRemaining(b.market.Slug))
	if sig != nil {
		ev = ev.
			Str("btc_direction", string(sig.Direction)).
			Float64("btc_change_pct", sig.ChangePct).
			Float64("btc_confidence", sig.Confidence)
	}
	ev.Msg("scan")
}

// tryCooldown atomically claims the right to trade. The timestamp advances
// only when the claim succeeds, so a denied trade does not push the window.
func (b *Bot) tryCooldown() bool {
	cooldown := b.cfg.Cooldown()
	for {
		last := b.lastTradeNS.Load()
		nowNS := b.now().UnixNano()
		if nowNS-last < int64(cooldown) {
			return false
		}
		if b.lastTradeNS.CompareAndSwap(last, nowNS) {
			return true
		}
	}
}

func (b *Bot) authorize(costMicros uint64) bool {
	decision := b.gate.Authorize(costMicros)
	if decision.Allowed {
		return true
	}
	b.log.Warn().Str("reason", decision.Reason).Msg("risk check failed")
	if b.metrics != nil {
		b.metrics.RiskDenialsTotal.WithLabelValues(decision.Reason).Inc()
	}
	if halted, reason := b.gate.Halted(); halted && !b.alertedHalt {
		b.alertedHalt = true
		b.sinks.RiskAlert(reason)
	}
	return false
}

func (b *Bot) orderTIF() execution.TimeInForce {
	switch b.cfg.OrderType {
	case "GTC":
		return execution.TIFGoodTillCanceled
	case "FAK":
		return execution.TIFFillAndKill
	default:
		return execution.TIFFillOrKill
	}
}

func (b *Bot) executePure(ctx context.Context, opp detect.PureOpportunity) {
	if !b.tryCooldown() {
		b.log.Debug().Msg("cooldown active, skipping")
		return
	}
	if !b.authorize(opp.InvestmentMicros) {
		return
	}

	b.log.Info().
		Str("up_price", book.FormatMicros(opp.PriceUpMicros)).
		Str("down_price", book.FormatMicros(opp.PriceDownMicros)).
		Str("pair_cost", book.FormatMicros(opp.PairCostMicros)).
		Str("profit_per_share", book.FormatMicros(opp.ProfitPerShareMicros)).
		Str("investment", book.FormatMicros(opp.InvestmentMicros)).
		Str("expected_profit", book.FormatMicros(opp.ProfitMicros)).
		Msg("pure arbitrage opportunity")

	tif := b.orderTIF()
	res := b.engine.ExecutePair(ctx,
		execution.SubmitRequest{
			Side:        execution.SideBuy,
			TokenID:     b.market.UpTokenID,
			PriceMicros: opp.PriceUpMicros,
			SizeMicros:  opp.SizeMicros,
			TIF:         tif,
		},
		execution.SubmitRequest{
			Side:        execution.SideBuy,
			TokenID:     b.market.DownTokenID,
			PriceMicros: opp.PriceDownMicros,
			SizeMicros:  opp.SizeMicros,
			TIF:         tif,
		},
	)

	if !res.Completed {
		b.log.Warn().
			Str("up_status", string(res.Up.Status)).
			Str("down_status", string(res.Down.Status)).
			Int("unwound", len(res.Unwound)).
			Msg("pure arbitrage incomplete")
		if b.metrics != nil && len(res.Unwound) > 0 {
			b.metrics.UnwindsTotal.Inc()
		}
		return
	}

	trade := risk.TradeRecord{
		Timestamp:            b.now(),
		Strategy:             detect.StrategyPure,
		Direction:            "BOTH",
		SizeMicros:           opp.SizeMicros,
		CostMicros:           opp.InvestmentMicros,
		ExpectedPayoutMicros: opp.PayoutMicros,
		ExpectedProfitMicros: opp.ProfitMicros,
		MarketID:             b.market.Slug,
	}
	b.gate.RecordOpen(trade)
	b.sinks.TradeOpened(trade)
	b.tradesDone++
	b.pureCount++

	if b.sim != nil {
		// Both sides held to settlement pay out exactly 1.00 per share.
		b.sim.Credit(opp.PayoutMicros)
		trade = b.gate.RecordSettlement(trade, true, int64(opp.ProfitMicros))
		b.sinks.TradeSettled(trade)
		b.persistRisk()
		b.log.Info().
			Str("balance", book.FormatMicros(b.sim.Balance())).
			Str("profit", book.FormatMicros(opp.ProfitMicros)).
			Msg("pure arbitrage settled")
	}
}

func (b *Bot) executeTemporal(ctx context.Context, opp detect.TemporalOpportunity) {
	if !b.tryCooldown() {
		b.log.Debug().Msg("cooldown active, skipping")
		return
	}
	if !b.authorize(opp.InvestmentMicros) {
		return
	}

	b.log.Info().
		Str("direction", string(opp.Direction)).
		Float64("btc_change_pct", opp.ChangePct).
		Float64("confidence", opp.Confidence).
		Str("limit_price", book.FormatMicros(opp.LimitPriceMicros)).
		Str("investment", book.FormatMicros(opp.InvestmentMicros)).
		Str("expected_profit", book.FormatMicros(opp.ProfitMicros)).
		Msg("temporal arbitrage opportunity")

	state, err := b.engine.ExecuteLeg(ctx, execution.SubmitRequest{
		Side:        execution.SideBuy,
		TokenID:     opp.TokenID,
		PriceMicros: opp.LimitPriceMicros,
		SizeMicros:  opp.SizeMicros,
		TIF:         b.orderTIF(),
	})
	if err != nil {
		b.log.Error().Err(err).Msg("temporal arbitrage submit failed")
		return
	}
	if !state.Filled() {
		b.log.Warn().Str("status", string(state.Status)).Msg("temporal order not filled")
		return
	}

	trade := risk.TradeRecord{
		Timestamp:            b.now(),
		Strategy:             detect.StrategyTemporal,
		Direction:            string(opp.Direction),
		SizeMicros:           opp.SizeMicros,
		CostMicros:           opp.InvestmentMicros,
		ExpectedPayoutMicros: opp.PayoutMicros,
		ExpectedProfitMicros: opp.ProfitMicros,
		MarketID:             b.market.Slug,
	}
	b.gate.RecordOpen(trade)
	b.sinks.TradeOpened(trade)
	b.tradesDone++
	b.temporalCount++
	b.openTemporal = append(b.openTemporal, trade)
}

// settleWindowTrades resolves open temporal positions at window close. In
// simulation the outcome comes from the CEX feed: the window resolves Up
// only when the close is above the pinned window-start price.
func (b *Bot) settleWindowTrades() {
	if len(b.openTemporal) == 0 {
		return
	}
	trades := b.openTemporal
	b.openTemporal = nil

	if b.sim == nil {
		// Live positions pay out on-chain; nothing to simulate.
		return
	}

	start, _, startOk := b.feed.WindowStart()
	current, curOk := b.feed.Current()
	if !startOk || !curOk {
		b.log.Warn().Msg("cannot settle window trades without feed prices")
		return
	}

	winner := momentum.DirectionDown
	if current > start {
		winner = momentum.DirectionUp
	}

	for _, t := range trades {
		won := t.Direction == string(winner)
		pnl := -int64(t.CostMicros)
		if won {
			b.sim.Credit(t.ExpectedPayoutMicros)
			pnl = int64(t.ExpectedProfitMicros)
		}
		t = b.gate.RecordSettlement(t, won, pnl)
		b.sinks.TradeSettled(t)
		b.log.Info().
			Str("direction", t.Direction).
			Str("winner", string(winner)).
			Str("pnl", book.FormatSignedMicros(t.RealizedPnlMicros)).
			Msg("temporal trade settled")
	}
	b.persistRisk()
}

// handleTransition settles the closed window and searches for the next one.
func (b *Bot) handleTransition(ctx context.Context) bool {
	b.log.Info().Str("slug", b.market.Slug).Msg("market closed, searching for next market")
	b.settleWindowTrades()
	b.logMarketSummary()

	for attempt := 0; attempt < b.transitionRetries; attempt++ {
		slug, err := b.finder.ActiveSlug(ctx)
		if err == nil && slug != b.market.Slug {
			if err := b.loadMarket(ctx, slug); err == nil {
				if price, ok := b.feed.Current(); ok {
					b.feed.MarkWindowStart(price)
				}
				return true
			}
		}
		if err != nil {
			b.log.Debug().Err(err).Int("attempt", attempt+1).Msg("market search failed")
		}
		if !sleepCtx(ctx, b.transitionDelay) {
			return false
		}
	}
	b.log.Warn().Msg("could not find next market, retrying")
	return false
}

func (b *Bot) logMarketSummary() {
	summary := b.gate.Summary()
	ev := b.log.Info().
		Str("slug", b.market.Slug).
		Int("total_scans", b.totalScans).
		Int("pure_trades", b.pureCount).
		Int("temporal_trades", b.temporalCount).
		Int("total_trades", b.tradesDone).
		Str("daily_pnl", book.FormatSignedMicros(summary.DailyPnlMicros))
	if b.sim != nil {
		ev = ev.Str("sim_balance", book.FormatMicros(b.sim.Balance()))
	}
	ev.Msg("market summary")
}

// persistRisk snapshots the gate. Called after every settlement and on
// shutdown so a restart cannot re-risk past the daily limit.
func (b *Bot) persistRisk() {
	if b.store == nil {
		return
	}
	if err := b.gate.SaveTo(b.store); err != nil {
		b.log.Error().Err(err).Msg("risk state save failed")
	}
}

func (b *Bot) shutdown() {
	b.log.Info().Msg("bot stopped")
	b.logMarketSummary()

	b.persistRisk()
	if b.notifier != nil {
		b.notifier.DailySummary(b.gate.Summary())
	}
}

// sleepCtx waits d or until ctx is canceled; false means canceled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
