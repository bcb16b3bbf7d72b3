// Package obs exposes Prometheus metrics and the operational HTTP endpoints.
package obs

import (
	"github.com/prometheus/client_golang/prometheus"

	"polyarb/internal/book"
	"polyarb/internal/risk"
)

// Metrics holds every collector the bot publishes. Register once per
// process; tests build their own registry.
type Metrics struct {
	ScansTotal         prometheus.Counter
	OpportunitiesTotal *prometheus.CounterVec
	TradesTotal        *prometheus.CounterVec
	RiskDenialsTotal   *prometheus.CounterVec
	UnwindsTotal       prometheus.Counter
	BTCPrice           prometheus.Gauge
	DailyPnl           prometheus.Gauge
	Exposure           prometheus.Gauge
	Halted             prometheus.Gauge
	SimBalance         prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ScansTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "polyarb_scans_total",
			Help: "Completed scan cycles.",
		}),
		OpportunitiesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "polyarb_opportunities_total",
			Help: "Detected opportunities by strategy.",
		}, []string{"strategy"}),
		TradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "polyarb_trades_total",
			Help: "Trades by strategy and lifecycle event.",
		}, []string{"strategy", "event"}),
		RiskDenialsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "polyarb_risk_denials_total",
			Help: "Risk gate denials by reason.",
		}, []string{"reason"}),
		UnwindsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "polyarb_unwinds_total",
			Help: "Partial-fill unwind attempts.",
		}),
		BTCPrice: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "polyarb_btc_price",
			Help: "Latest BTC spot price from the CEX feed.",
		}),
		DailyPnl: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "polyarb_daily_pnl",
			Help: "Realized profit and loss for the current local day.",
		}),
		Exposure: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "polyarb_exposure",
			Help: "Open position exposure.",
		}),
		Halted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "polyarb_halted",
			Help: "1 while trading is halted by the daily loss limit.",
		}),
		SimBalance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "polyarb_sim_balance",
			Help: "Virtual balance in simulation mode.",
		}),
	}
	reg.MustRegister(
		m.ScansTotal,
		m.OpportunitiesTotal,
		m.TradesTotal,
		m.RiskDenialsTotal,
		m.UnwindsTotal,
		m.BTCPrice,
		m.DailyPnl,
		m.Exposure,
		m.Halted,
		m.SimBalance,
	)
	return m
}

// ObserveRisk refreshes the risk gauges from a gate summary.
func (m *Metrics) ObserveRisk(s risk.Summary) {
	m.DailyPnl.Set(microsToFloat(s.DailyPnlMicros))
	m.Exposure.Set(float64(s.ExposureMicros) / float64(book.MicrosScale))
	if s.Halted {
		m.Halted.Set(1)
	} else {
		m.Halted.Set(0)
	}
}

func microsToFloat(m int64) float64 {
	return float64(m) / float64(book.MicrosScale)
}

// TradeOpened, TradeSettled and RiskAlert let Metrics sit in the sink fanout.

func (m *Metrics) TradeOpened(t risk.TradeRecord) {
	m.TradesTotal.WithLabelValues(string(t.Strategy), "opened").Inc()
}

func (m *Metrics) TradeSettled(t risk.TradeRecord) {
	event := "settled_won"
	if t.Status == risk.TradeLost {
		event = "settled_lost"
	}
	m.TradesTotal.WithLabelValues(string(t.Strategy), event).Inc()
}

func (m *Metrics) RiskAlert(string) {
	m.Halted.Set(1)
}

func (m *Metrics) Close() error { return nil }
