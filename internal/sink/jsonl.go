package sink

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"polyarb/internal/book"
	"polyarb/internal/risk"
)

// tradeEvent is one line of the trade log. Monetary fields are duplicated as
// decimal strings so the log is readable without a micros conversion.
type tradeEvent struct {
	Timestamp time.Time         `json:"ts"`
	Event     string            `json:"event"`
	Trade     *risk.TradeRecord `json:"trade,omitempty"`
	Cost      string            `json:"cost,omitempty"`
	Pnl       string            `json:"pnl,omitempty"`
	Reason    string            `json:"reason,omitempty"`
}

// TradeLog appends newline-delimited JSON events to a file. Safe for
// concurrent use.
type TradeLog struct {
	mu   sync.Mutex
	path string
	file *os.File
	w    *bufio.Writer
	now  func() time.Time
}

// NewTradeLog returns a trade log appending to path, or nil for a blank
// path. A nil *TradeLog discards events.
func NewTradeLog(path string) *TradeLog {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	return &TradeLog{path: path, now: time.Now}
}

func (l *TradeLog) TradeOpened(t risk.TradeRecord) {
	_ = l.append(tradeEvent{
		Event: "trade_opened",
		Trade: &t,
		Cost:  book.FormatMicros(t.CostMicros),
	})
}

func (l *TradeLog) TradeSettled(t risk.TradeRecord) {
	_ = l.append(tradeEvent{
		Event: "trade_settled",
		Trade: &t,
		Pnl:   book.FormatSignedMicros(t.RealizedPnlMicros),
	})
}

func (l *TradeLog) RiskAlert(reason string) {
	_ = l.append(tradeEvent{Event: "risk_alert", Reason: reason})
}

func (l *TradeLog) append(ev tradeEvent) error {
	if l == nil {
		return nil
	}
	ev.Timestamp = l.now()

	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.ensureOpenLocked(); err != nil {
		return err
	}
	if _, err := l.w.Write(b); err != nil {
		return err
	}
	if err := l.w.WriteByte('\n'); err != nil {
		return err
	}
	// Flush so tailers see the record immediately.
	return l.w.Flush()
}

func (l *TradeLog) ensureOpenLocked() error {
	if l.file != nil {
		return nil
	}
	dir := filepath.Dir(l.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	l.file = f
	l.w = bufio.NewWriterSize(f, 64*1024)
	return nil
}

// Close flushes buffered data and closes the file.
func (l *TradeLog) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var firstErr error
	if l.w != nil {
		if err := l.w.Flush(); err != nil {
			firstErr = err
		}
	}
	if l.file != nil {
		if err := l.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	l.w = nil
	l.file = nil

	if firstErr != nil && errors.Is(firstErr, os.ErrClosed) {
		return nil
	}
	return firstErr
}

var _ Sink = (*TradeLog)(nil)
