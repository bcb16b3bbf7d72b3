// Package sink fans trade lifecycle events out to the configured reporters:
// a JSONL trade log, Telegram notifications, and Prometheus counters.
package sink

import (
	"polyarb/internal/risk"
)

// Sink receives trade lifecycle events. Implementations must not block the
// scan loop; slow transports buffer or drop internally.
type Sink interface {
	TradeOpened(t risk.TradeRecord)
	TradeSettled(t risk.TradeRecord)
	RiskAlert(reason string)
	Close() error
}

// Fanout dispatches each event to every sink in order.
type Fanout []Sink

func (f Fanout) TradeOpened(t risk.TradeRecord) {
	for _, s := range f {
		s.TradeOpened(t)
	}
}

func (f Fanout) TradeSettled(t risk.TradeRecord) {
	for _, s := range f {
		s.TradeSettled(t)
	}
}

func (f Fanout) RiskAlert(reason string) {
	for _, s := range f {
		s.RiskAlert(reason)
	}
}

func (f Fanout) Close() error {
	var firstErr error
	for _, s := range f {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
