// Package notify sends trade and risk notifications through the Telegram
// bot API. Delivery is best effort; failures are logged and dropped.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"polyarb/internal/book"
	"polyarb/internal/detect"
	"polyarb/internal/risk"
)

const defaultAPIBase = "https://api.telegram.org"

type Telegram struct {
	apiBase    string
	botToken   string
	chatID     string
	enabled    bool
	httpClient *http.Client
	log        zerolog.Logger
}

func NewTelegram(botToken, chatID string, enabled bool, log zerolog.Logger) *Telegram {
	botToken = strings.TrimSpace(botToken)
	chatID = strings.TrimSpace(chatID)
	return &Telegram{
		apiBase:    defaultAPIBase,
		botToken:   botToken,
		chatID:     chatID,
		enabled:    enabled && botToken != "" && chatID != "",
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        log.With().Str("component", "telegram").Logger(),
	}
}

// Enabled reports whether messages will actually be sent.
func (t *Telegram) Enabled() bool { return t.enabled }

func (t *Telegram) send(text string) {
	if !t.enabled {
		return
	}
	payload, err := json.Marshal(map[string]string{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "HTML",
	})
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		t.log.Warn().Err(err).Msg("telegram request build failed")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		t.log.Warn().Err(err).Msg("telegram send failed")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		t.log.Warn().Int("status", resp.StatusCode).Msg("telegram send rejected")
	}
}

func (t *Telegram) TradeOpened(tr risk.TradeRecord) {
	emoji := "⚡"
	if tr.Strategy == detect.StrategyPure {
		emoji = "\U0001f3af"
	}
	t.send(fmt.Sprintf(
		"%s <b>New Trade</b>\nStrategy: %s\nDirection: %s\nSize: %s shares\nCost: $%s\nExpected Profit: $%s\nMarket: %s",
		emoji,
		tr.Strategy,
		tr.Direction,
		book.FormatMicros(tr.SizeMicros),
		book.FormatMicros(tr.CostMicros),
		book.FormatMicros(tr.ExpectedProfitMicros),
		tr.MarketID,
	))
}

func (t *Telegram) TradeSettled(tr risk.TradeRecord) {
	emoji, result := "✅", "WON"
	if tr.Status == risk.TradeLost {
		emoji, result = "❌", "LOST"
	}
	t.send(fmt.Sprintf(
		"%s <b>Settlement</b>\nResult: %s\nPnL: $%s\nMarket: %s",
		emoji, result, book.FormatSignedMicros(tr.RealizedPnlMicros), tr.MarketID,
	))
}

func (t *Telegram) RiskAlert(reason string) {
	t.send(fmt.Sprintf("⚠️ <b>Risk Alert</b>\n%s", reason))
}

// DailySummary reports the day's aggregates, typically at shutdown.
func (t *Telegram) DailySummary(s risk.Summary) {
	t.send(fmt.Sprintf(
		"\U0001f4ca <b>Daily Summary</b>\nTrades: %d\nWins: %d | Losses: %d\nWin Rate: %.1f%%\nDaily PnL: $%s\nTotal Invested: $%s\nPure Arb: %d | Temporal: %d",
		s.DailyTrades,
		s.DailyWins,
		s.DailyLosses,
		s.WinRatePct,
		book.FormatSignedMicros(s.DailyPnlMicros),
		book.FormatMicros(s.InvestedMicros),
		s.PureCount,
		s.TemporalCount,
	))
}

func (t *Telegram) Close() error { return nil }
