package risk

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"polyarb/internal/detect"
)

func testLimits() Limits {
	return Limits{
		MaxDailyLossMicros: 500_000_000,   // $500
		MaxSingleBetMicros: 500_000_000,   // $500
		MaxPositionMicros:  5_000_000_000, // $5000
	}
}

func newTestGate() (*Gate, *time.Time) {
	g := NewGate(testLimits(), zerolog.Nop())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }
	return g, &now
}

func trade(costMicros uint64) TradeRecord {
	return TradeRecord{
		Timestamp:  time.Now(),
		Strategy:   detect.StrategyPure,
		Direction:  "BOTH",
		CostMicros: costMicros,
	}
}

func TestAuthorize_Allows(t *testing.T) {
	g, _ := newTestGate()
	dec := g.Authorize(100_000_000)
	require.True(t, dec.Allowed)
	require.Empty(t, dec.Reason)
}

func TestAuthorize_SingleBetLimit(t *testing.T) {
	g, _ := newTestGate()
	dec := g.Authorize(600_000_000) // $600 > $500
	require.False(t, dec.Allowed)
	require.Contains(t, dec.Reason, "max single bet")
	// State unchanged.
	require.Equal(t, uint64(0), g.Exposure())
	halted, _ := g.Halted()
	require.False(t, halted)
}

func TestAuthorize_PositionLimit(t *testing.T) {
	g, _ := newTestGate()
	g.RecordOpen(trade(4_800_000_000)) // $4800 exposure

	dec := g.Authorize(300_000_000) // 4800 + 300 > 5000
	require.False(t, dec.Allowed)
	require.Contains(t, dec.Reason, "max position")

	dec = g.Authorize(200_000_000) // exactly at the limit is fine
	require.True(t, dec.Allowed)
}

func TestAuthorize_Idempotent(t *testing.T) {
	g, _ := newTestGate()
	first := g.Authorize(300_000_000)
	second := g.Authorize(300_000_000)
	require.Equal(t, first, second)
}

func TestAuthorize_DailyLossHaltsFirst(t *testing.T) {
	g, _ := newTestGate()
	tr := trade(100_000_000)
	g.RecordOpen(tr)
	g.RecordSettlement(tr, false, -500_000_000) // exactly -maxDailyLoss

	// The loss check runs before everything else and halts.
	dec := g.Authorize(1)
	require.False(t, dec.Allowed)
	require.Contains(t, dec.Reason, "daily loss limit")

	halted, reason := g.Halted()
	require.True(t, halted)
	require.Contains(t, reason, "daily loss limit")

	// Halted rejects regardless of later positive pnl.
	g.RecordSettlement(trade(0), true, 900_000_000)
	dec = g.Authorize(1)
	require.False(t, dec.Allowed)
	require.Contains(t, dec.Reason, "trading halted")
}

func TestHalt_SurvivesRollover_ManualResetOnly(t *testing.T) {
	g, now := newTestGate()
	tr := trade(100_000_000)
	g.RecordOpen(tr)
	g.RecordSettlement(tr, false, -600_000_000)
	require.False(t, g.Authorize(1).Allowed)

	*now = now.Add(24 * time.Hour) // next local day
	require.Equal(t, int64(0), g.DailyPnl())
	dec := g.Authorize(1)
	require.False(t, dec.Allowed, "halt must not clear at day rollover")

	g.Reset()
	require.True(t, g.Authorize(1).Allowed)
}

func TestDailyPnl_LazyRollover(t *testing.T) {
	g, now := newTestGate()
	tr := trade(50_000_000)
	g.RecordOpen(tr)
	g.RecordSettlement(tr, true, 10_000_000)
	require.Equal(t, int64(10_000_000), g.DailyPnl())

	*now = now.Add(24 * time.Hour)
	require.Equal(t, int64(0), g.DailyPnl())
}

func TestSettlement_MarksTradeWonOrLost(t *testing.T) {
	g, _ := newTestGate()

	win := trade(100_000_000)
	g.RecordOpen(win)
	require.Equal(t, TradeOpen, g.trades[0].Status)

	settled := g.RecordSettlement(win, true, 5_000_000)
	require.Equal(t, TradeWon, settled.Status)
	require.Equal(t, int64(5_000_000), settled.RealizedPnlMicros)
	require.Equal(t, TradeWon, g.trades[0].Status)
	require.Equal(t, int64(5_000_000), g.trades[0].RealizedPnlMicros)

	lose := TradeRecord{
		Timestamp:  time.Now(),
		Strategy:   detect.StrategyTemporal,
		Direction:  "UP",
		CostMicros: 50_000_000,
	}
	g.RecordOpen(lose)
	settled = g.RecordSettlement(lose, false, -50_000_000)
	require.Equal(t, TradeLost, settled.Status)
	require.Equal(t, TradeLost, g.trades[1].Status)
	require.Equal(t, int64(-50_000_000), g.trades[1].RealizedPnlMicros)
}

func TestSettlement_ExposureFlooredAtZero(t *testing.T) {
	g, _ := newTestGate()
	tr := trade(100_000_000)
	g.RecordOpen(tr)
	require.Equal(t, uint64(100_000_000), g.Exposure())

	g.RecordSettlement(tr, true, 5_000_000)
	require.Equal(t, uint64(0), g.Exposure())

	// Settling again must not underflow.
	g.RecordSettlement(tr, true, 0)
	require.Equal(t, uint64(0), g.Exposure())
}

func TestSummary(t *testing.T) {
	g, _ := newTestGate()
	pure := trade(100_000_000)
	g.RecordOpen(pure)
	g.RecordSettlement(pure, true, 2_000_000)

	temporal := TradeRecord{Strategy: detect.StrategyTemporal, Direction: "UP", CostMicros: 50_000_000}
	g.RecordOpen(temporal)
	g.RecordSettlement(temporal, false, -50_000_000)

	s := g.Summary()
	require.Equal(t, 2, s.DailyTrades)
	require.Equal(t, 1, s.DailyWins)
	require.Equal(t, 1, s.DailyLosses)
	require.Equal(t, 50.0, s.WinRatePct)
	require.Equal(t, 1, s.PureCount)
	require.Equal(t, 1, s.TemporalCount)
	require.Equal(t, int64(-48_000_000), s.DailyPnlMicros)
}

func TestFileStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "risk_state.json")
	store := NewFileStore(path)

	_, found, err := store.Load()
	require.NoError(t, err)
	require.False(t, found)

	g, _ := newTestGate()
	tr := trade(100_000_000)
	g.RecordOpen(tr)
	g.RecordSettlement(tr, false, -600_000_000)
	require.False(t, g.Authorize(1).Allowed) // trip the halt
	require.NoError(t, g.SaveTo(store))

	restored := NewGate(testLimits(), zerolog.Nop())
	restored.now = g.now
	require.NoError(t, restored.LoadFrom(store))

	halted, reason := restored.Halted()
	require.True(t, halted)
	require.Contains(t, reason, "daily loss limit")
	require.Equal(t, int64(-600_000_000), restored.DailyPnl())
	require.False(t, restored.Authorize(1).Allowed)

	require.Len(t, restored.trades, 1)
	require.Equal(t, TradeLost, restored.trades[0].Status)
}

func TestFileStore_CorruptSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "risk_state.json")
	require.NoError(t, NewFileStore(path).Save(Snapshot{}))

	store := NewFileStore(path)
	_, found, err := store.Load()
	require.NoError(t, err)
	require.True(t, found)
}
