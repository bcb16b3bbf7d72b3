package bot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"polyarb/internal/book"
	"polyarb/internal/config"
	"polyarb/internal/detect"
	"polyarb/internal/execution"
	"polyarb/internal/feed"
	"polyarb/internal/gamma"
	"polyarb/internal/momentum"
	"polyarb/internal/risk"
	"polyarb/internal/sink"
)

type captureSink struct {
	opened  []risk.TradeRecord
	settled []risk.TradeRecord
	alerts  []string
}

func (c *captureSink) TradeOpened(t risk.TradeRecord)  { c.opened = append(c.opened, t) }
func (c *captureSink) TradeSettled(t risk.TradeRecord) { c.settled = append(c.settled, t) }
func (c *captureSink) RiskAlert(reason string)         { c.alerts = append(c.alerts, reason) }
func (c *captureSink) Close() error                    { return nil }

type stubFinder struct {
	slug string
	err  error
}

func (s *stubFinder) ActiveSlug(context.Context) (string, error) { return s.slug, s.err }
func (s *stubFinder) TimeRemaining(string) string                { return "1m 0s" }

type stubStore struct {
	saves int
	last  risk.Snapshot
}

func (s *stubStore) Load() (risk.Snapshot, bool, error) { return risk.Snapshot{}, false, nil }
func (s *stubStore) Save(snap risk.Snapshot) error {
	s.saves++
	s.last = snap
	return nil
}

type fakeBooks struct {
	books map[string]book.Book
}

func (f *fakeBooks) FetchBook(_ context.Context, tokenID string) (book.Book, error) {
	return f.books[tokenID], nil
}

func testSettings(t *testing.T) config.Settings {
	t.Helper()
	s, err := config.Load("")
	require.NoError(t, err)
	return s
}

func newSimBot(t *testing.T, cfg config.Settings, books execution.BookSource) (*Bot, *execution.SimRouter, *captureSink) {
	t.Helper()
	log := zerolog.Nop()

	sim := execution.NewSimRouter(cfg.SimBalanceMicros())
	engine := execution.NewEngine(sim, books, execution.Config{
		PollTimeout:  100 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
	}, log)

	gate := risk.NewGate(risk.Limits{
		MaxDailyLossMicros: cfg.MaxDailyLossMicros(),
		MaxSingleBetMicros: cfg.MaxSingleBetMicros(),
		MaxPositionMicros:  cfg.MaxPositionSizeMicros(),
	}, log)

	cs := &captureSink{}
	f := feed.New(feed.DefaultRetention, log)

	b := New(Deps{
		Cfg:      cfg,
		Feed:     f,
		Momentum: momentum.NewEngine(f, log),
		Detector: detect.New(detect.Config{
			PairCostMaxMicros:      cfg.TargetPairCostMicros(),
			PureSizeMicros:         cfg.PureArbOrderSizeMicros(),
			TemporalEnabled:        cfg.TemporalArbEnabled,
			TemporalSizeMicros:     cfg.TemporalArbOrderSizeMicros(),
			TemporalConfidenceMin:  cfg.TemporalArbConfidenceMin(),
			TemporalPriceCapMicros: cfg.TemporalArbPriceCapMicros(),
		}, log),
		Gate:   gate,
		Engine: engine,
		Books:  books,
		Finder: &stubFinder{},
		Sinks:  sink.Fanout{cs},
		Sim:    sim,
		Log:    log,
	})
	b.market = gamma.Market{
		Slug:        "btc-updown-15m-1765791900",
		UpTokenID:   "tok-up",
		DownTokenID: "tok-down",
	}
	return b, sim, cs
}

func TestExecutePureSimSettlesImmediately(t *testing.T) {
	cfg := testSettings(t)
	b, sim, cs := newSimBot(t, cfg, &fakeBooks{})

	opp := detect.PureOpportunity{
		PriceUpMicros:        495_000,
		PriceDownMicros:      494_000,
		PairCostMicros:       989_000,
		ProfitPerShareMicros: 11_000,
		SizeMicros:           50_000_000,
		InvestmentMicros:     49_450_000,
		PayoutMicros:         50_000_000,
		ProfitMicros:         550_000,
	}
	b.executePure(context.Background(), opp)

	// 1000 - 49.45 + 50.00
	require.Equal(t, uint64(1_000_550_000), sim.Balance())
	require.Len(t, cs.opened, 1)
	require.Len(t, cs.settled, 1)
	require.Equal(t, int64(550_000), cs.settled[0].RealizedPnlMicros)
	require.Equal(t, int64(550_000), b.gate.DailyPnl())
	require.Equal(t, 1, b.pureCount)
}

func TestExecuteTemporalSettlesAtWindowClose(t *testing.T) {
	cfg := testSettings(t)
	b, sim, cs := newSimBot(t, cfg, &fakeBooks{})

	b.feed.RecordPrice(100_000)
	b.feed.MarkWindowStart(0)
	b.cfg.CooldownSeconds = 0

	winning := detect.TemporalOpportunity{
		Direction:        momentum.DirectionUp,
		TokenID:          "tok-up",
		LimitPriceMicros: 480_000,
		SizeMicros:       100_000_000,
		InvestmentMicros: 48_000_000,
		PayoutMicros:     100_000_000,
		ProfitMicros:     52_000_000,
		Confidence:       0.85,
	}
	losing := winning
	losing.Direction = momentum.DirectionDown
	losing.TokenID = "tok-down"

	b.executeTemporal(context.Background(), winning)
	b.executeTemporal(context.Background(), losing)
	require.Len(t, b.openTemporal, 2)
	require.Equal(t, uint64(1_000_000_000-96_000_000), sim.Balance())

	// BTC closed above the window start, so UP resolves the winner.
	b.feed.RecordPrice(100_150)
	b.settleWindowTrades()

	require.Empty(t, b.openTemporal)
	require.Len(t, cs.settled, 2)
	require.Equal(t, int64(52_000_000), cs.settled[0].RealizedPnlMicros)
	require.Equal(t, int64(-48_000_000), cs.settled[1].RealizedPnlMicros)
	// winner pays out 100.00
	require.Equal(t, uint64(1_000_000_000-96_000_000+100_000_000), sim.Balance())
	require.Equal(t, int64(4_000_000), b.gate.DailyPnl())
}

func TestPureSettlementPersistsRiskState(t *testing.T) {
	cfg := testSettings(t)
	b, _, cs := newSimBot(t, cfg, &fakeBooks{})
	store := &stubStore{}
	b.store = store

	opp := detect.PureOpportunity{
		PriceUpMicros:    495_000,
		PriceDownMicros:  494_000,
		SizeMicros:       50_000_000,
		InvestmentMicros: 49_450_000,
		PayoutMicros:     50_000_000,
		ProfitMicros:     550_000,
	}
	b.executePure(context.Background(), opp)

	require.Equal(t, 1, store.saves)
	require.Equal(t, int64(550_000), store.last.DailyPnlMicros)
	require.Len(t, store.last.Trades, 1)
	require.Equal(t, risk.TradeWon, store.last.Trades[0].Status)

	require.Len(t, cs.settled, 1)
	require.Equal(t, risk.TradeWon, cs.settled[0].Status)
}

func TestWindowSettlementPersistsRiskState(t *testing.T) {
	cfg := testSettings(t)
	b, _, cs := newSimBot(t, cfg, &fakeBooks{})
	store := &stubStore{}
	b.store = store

	b.feed.RecordPrice(100_000)
	b.feed.MarkWindowStart(0)
	b.cfg.CooldownSeconds = 0

	winning := detect.TemporalOpportunity{
		Direction:        momentum.DirectionUp,
		TokenID:          "tok-up",
		LimitPriceMicros: 480_000,
		SizeMicros:       100_000_000,
		InvestmentMicros: 48_000_000,
		PayoutMicros:     100_000_000,
		ProfitMicros:     52_000_000,
		Confidence:       0.85,
	}
	losing := winning
	losing.Direction = momentum.DirectionDown
	losing.TokenID = "tok-down"

	b.executeTemporal(context.Background(), winning)
	b.executeTemporal(context.Background(), losing)
	require.Zero(t, store.saves, "open trades alone do not snapshot")

	b.feed.RecordPrice(100_150)
	b.settleWindowTrades()

	require.Equal(t, 1, store.saves)
	require.Len(t, store.last.Trades, 2)
	require.Equal(t, risk.TradeWon, store.last.Trades[0].Status)
	require.Equal(t, risk.TradeLost, store.last.Trades[1].Status)
	require.Equal(t, int64(4_000_000), store.last.DailyPnlMicros)

	require.Len(t, cs.settled, 2)
	require.Equal(t, risk.TradeWon, cs.settled[0].Status)
	require.Equal(t, risk.TradeLost, cs.settled[1].Status)
}

func TestCooldownBlocksBackToBackTrades(t *testing.T) {
	cfg := testSettings(t)
	b, _, cs := newSimBot(t, cfg, &fakeBooks{})

	fixed := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return fixed }

	opp := detect.PureOpportunity{
		PriceUpMicros:    495_000,
		PriceDownMicros:  494_000,
		SizeMicros:       50_000_000,
		InvestmentMicros: 49_450_000,
		PayoutMicros:     50_000_000,
		ProfitMicros:     550_000,
	}
	b.executePure(context.Background(), opp)
	b.executePure(context.Background(), opp)
	require.Len(t, cs.opened, 1)

	// Past the cooldown the next trade goes through.
	b.now = func() time.Time { return fixed.Add(6 * time.Second) }
	b.executePure(context.Background(), opp)
	require.Len(t, cs.opened, 2)
}

func TestRiskDenialSkipsTradeAndAlertsOnHalt(t *testing.T) {
	cfg := testSettings(t)
	b, sim, cs := newSimBot(t, cfg, &fakeBooks{})
	b.cfg.CooldownSeconds = 0

	tooBig := detect.PureOpportunity{
		SizeMicros:       600_000_000,
		InvestmentMicros: 600_000_000,
	}
	b.executePure(context.Background(), tooBig)
	require.Empty(t, cs.opened)
	require.Empty(t, cs.alerts, "single-bet denial is not a halt")
	require.Equal(t, cfg.SimBalanceMicros(), sim.Balance())

	// Drive the gate to the daily loss limit; the next denial raises one alert.
	b.gate.RecordOpen(risk.TradeRecord{CostMicros: 500_000_000})
	b.gate.RecordSettlement(risk.TradeRecord{CostMicros: 500_000_000}, false, -500_000_000)

	small := detect.PureOpportunity{SizeMicros: 10_000_000, InvestmentMicros: 10_000_000}
	b.executePure(context.Background(), small)
	b.executePure(context.Background(), small)
	require.Empty(t, cs.opened)
	require.Len(t, cs.alerts, 1)
}

func TestScanOnceExecutesPureFromBooks(t *testing.T) {
	cfg := testSettings(t)
	books := &fakeBooks{books: map[string]book.Book{
		"tok-up": {TokenID: "tok-up", Asks: []book.Level{
			{PriceMicros: 495_000, SharesMicros: 200_000_000},
		}},
		"tok-down": {TokenID: "tok-down", Asks: []book.Level{
			{PriceMicros: 494_000, SharesMicros: 200_000_000},
		}},
	}}
	b, sim, cs := newSimBot(t, cfg, books)

	b.scanOnce(context.Background())

	require.Len(t, cs.opened, 1)
	require.Equal(t, detect.StrategyPure, cs.opened[0].Strategy)
	require.Equal(t, uint64(1_000_550_000), sim.Balance())
	require.Equal(t, 1, b.totalScans)
}

func TestScanOnceNoOpportunity(t *testing.T) {
	cfg := testSettings(t)
	books := &fakeBooks{books: map[string]book.Book{
		"tok-up": {TokenID: "tok-up", Asks: []book.Level{
			{PriceMicros: 520_000, SharesMicros: 200_000_000},
		}},
		"tok-down": {TokenID: "tok-down", Asks: []book.Level{
			{PriceMicros: 510_000, SharesMicros: 200_000_000},
		}},
	}}
	b, sim, cs := newSimBot(t, cfg, books)

	b.scanOnce(context.Background())
	require.Empty(t, cs.opened)
	require.Equal(t, cfg.SimBalanceMicros(), sim.Balance())
}

type countingSource struct {
	windowStartCalls int
}

func (c *countingSource) Current() (float64, bool)              { return 100_150, true }
func (c *countingSource) PriceAt(time.Duration) (float64, bool) { return 100_000, true }
func (c *countingSource) WindowStart() (float64, time.Time, bool) {
	c.windowStartCalls++
	return 100_000, time.Now().Add(-time.Minute), true
}

func TestScanOnceFusesMomentumOnce(t *testing.T) {
	cfg := testSettings(t)
	books := &fakeBooks{books: map[string]book.Book{
		"tok-up": {TokenID: "tok-up", Asks: []book.Level{
			{PriceMicros: 560_000, SharesMicros: 200_000_000},
		}},
		"tok-down": {TokenID: "tok-down", Asks: []book.Level{
			{PriceMicros: 555_000, SharesMicros: 200_000_000},
		}},
	}}
	b, _, _ := newSimBot(t, cfg, books)

	src := &countingSource{}
	b.momentum = momentum.NewEngine(src, zerolog.Nop())

	b.scanOnce(context.Background())

	// Fuse hits the window-start reference exactly once per evaluation, so a
	// second call here would mean the scan fused twice.
	require.Equal(t, 1, src.windowStartCalls)
}

func TestHandleTransitionLoadsNextMarket(t *testing.T) {
	nowTS := int64(1765792800 + 30) // 30s into the window after 1765791900

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slug := r.URL.Query().Get("slug")
		w.Header().Set("Content-Type", "application/json")
		if slug != "btc-updown-15m-1765792800" {
			_, _ = w.Write([]byte(`[]`))
			return
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{{
			"slug": slug,
			"markets": []map[string]any{{
				"id":           "mkt-2",
				"slug":         slug,
				"outcomes":     []string{"Up", "Down"},
				"clobTokenIds": []string{"new-up", "new-down"},
			}},
		}})
	}))
	defer srv.Close()

	client, err := gamma.NewClient(srv.URL)
	require.NoError(t, err)

	cfg := testSettings(t)
	b, _, _ := newSimBot(t, cfg, &fakeBooks{})
	b.gamma = client
	b.finder = &stubFinder{slug: "btc-updown-15m-1765792800"}
	b.transitionDelay = time.Millisecond
	b.now = func() time.Time { return time.Unix(nowTS, 0) }

	require.True(t, b.marketClosed(), "old window must read as closed")
	require.True(t, b.handleTransition(context.Background()))
	require.Equal(t, "btc-updown-15m-1765792800", b.market.Slug)
	require.Equal(t, "new-up", b.market.UpTokenID)
	require.False(t, b.marketClosed())
}

func TestHandleTransitionGivesUpAfterRetries(t *testing.T) {
	cfg := testSettings(t)
	b, _, _ := newSimBot(t, cfg, &fakeBooks{})
	b.finder = &stubFinder{err: context.DeadlineExceeded}
	b.transitionRetries = 2
	b.transitionDelay = time.Millisecond

	require.False(t, b.handleTransition(context.Background()))
}
