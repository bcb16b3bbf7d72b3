package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// DefaultStreamURL is the Binance BTC/USDT trade stream.
	DefaultStreamURL = "wss://stream.binance.com:9443/ws/btcusdt@trade"
	// DefaultRESTURL is the point-in-time price endpoint used before the
	// stream has produced its first tick.
	DefaultRESTURL = "https://api.binance.com/api/v3/ticker/price?symbol=BTCUSDT"

	// reconnectBackoff is the fixed wait between stream reconnect attempts.
	reconnectBackoff = 2 * time.Second

	readDeadline = 30 * time.Second
)

// tradeMessage is the subset of the Binance trade payload we consume.
type tradeMessage struct {
	Price string `json:"p"`
}

// Run owns the streaming ingestion loop: it dials the trade stream, records
// every tick, and on any connection or protocol error waits a fixed backoff
// and reconnects. Errors never propagate upward; the loop exits only when ctx
// is cancelled.
func (f *Feed) Run(ctx context.Context, url string) {
	if url == "" {
		url = DefaultStreamURL
	}
	f.log.Info().Str("url", url).Msg("starting price stream")

	for {
		if ctx.Err() != nil {
			return
		}
		if err := f.streamOnce(ctx, url); err != nil && ctx.Err() == nil {
			f.log.Warn().Err(err).Dur("backoff", reconnectBackoff).Msg("stream disconnected; reconnecting")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectBackoff):
		}
	}
}

func (f *Feed) streamOnce(ctx context.Context, url string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("feed dial: %w", err)
	}
	defer conn.Close()

	// Close the connection when the context is cancelled so ReadMessage
	// unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	f.log.Info().Msg("price stream connected")

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		typ, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("feed read: %w", err)
		}
		if typ != websocket.TextMessage || len(msg) == 0 {
			continue
		}

		var tm tradeMessage
		if err := json.Unmarshal(msg, &tm); err != nil {
			continue
		}
		price, err := strconv.ParseFloat(tm.Price, 64)
		if err != nil || price <= 0 {
			continue
		}
		f.RecordPrice(price)
	}
}

// FetchOnce fetches the current price over REST and records it. Used only as
// a fallback while the stream has not yet produced a tick.
func (f *Feed) FetchOnce(ctx context.Context, url string) (float64, error) {
	if url == "" {
		url = DefaultRESTURL
	}

	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("feed rest fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return 0, fmt.Errorf("feed rest read: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("feed rest status %d", resp.StatusCode)
	}

	var payload struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, fmt.Errorf("feed rest decode: %w", err)
	}
	price, err := strconv.ParseFloat(payload.Price, 64)
	if err != nil || price <= 0 {
		return 0, fmt.Errorf("feed rest price %q", payload.Price)
	}

	f.RecordPrice(price)
	return price, nil
}
