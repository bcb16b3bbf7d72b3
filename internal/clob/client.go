// Package clob is the HTTP client for the Polymarket CLOB: order book
// snapshots plus the opaque submit/poll/cancel order-routing capability.
// Signing and credential management live outside this process; the client
// only attaches API-key HMAC headers.
package clob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"polyarb/internal/book"
)

const DefaultHost = "https://clob.polymarket.com"

// ApiKeyCreds authenticate L2 (API-key) endpoints.
type ApiKeyCreds struct {
	Key        string
	Secret     string
	Passphrase string
	Address    string
}

func (c ApiKeyCreds) complete() bool {
	return c.Key != "" && c.Secret != "" && c.Passphrase != ""
}

type Client struct {
	host       string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	creds      ApiKeyCreds
	log        zerolog.Logger
}

func NewClient(host string, creds ApiKeyCreds, log zerolog.Logger) (*Client, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		host = DefaultHost
	}
	host = strings.TrimRight(host, "/")

	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("clob url parse %q: %w", host, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("clob url must be http(s), got %q", host)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "clob",
		MaxRequests: 2,
		Interval:    60 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Client{
		host:       host,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(10), 20),
		breaker:    breaker,
		creds:      creds,
		log:        log.With().Str("component", "clob").Logger(),
	}, nil
}

// HasCreds reports whether authenticated endpoints are usable.
func (c *Client) HasCreds() bool { return c.creds.complete() }

type bookSummary struct {
	Market  string         `json:"market"`
	AssetID string         `json:"asset_id"`
	Bids    []levelSummary `json:"bids"`
	Asks    []levelSummary `json:"asks"`
}

type levelSummary struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// FetchBook returns the normalized two-sided depth snapshot for a token.
func (c *Client) FetchBook(ctx context.Context, tokenID string) (book.Book, error) {
	tokenID = strings.TrimSpace(tokenID)
	if tokenID == "" {
		return book.Book{}, fmt.Errorf("token id required")
	}

	var summary bookSummary
	q := url.Values{"token_id": {tokenID}}
	if err := c.doJSON(ctx, http.MethodGet, "/book", q, nil, nil, &summary); err != nil {
		return book.Book{}, err
	}

	b := book.Book{
		TokenID: tokenID,
		Bids:    book.NormalizeBids(parseLevels(summary.Bids)),
		Asks:    book.NormalizeAsks(parseLevels(summary.Asks)),
	}
	return b, nil
}

func parseLevels(levels []levelSummary) []book.Level {
	out := make([]book.Level, 0, len(levels))
	for _, lvl := range levels {
		price, err := book.ParseMicros(lvl.Price)
		if err != nil {
			continue
		}
		size, err := book.ParseMicros(lvl.Size)
		if err != nil {
			continue
		}
		out = append(out, book.Level{PriceMicros: price, SharesMicros: size})
	}
	return out
}

// doJSON runs one request through the rate limiter and circuit breaker and
// decodes the JSON response into out (when non-nil).
func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, headers http.Header, body []byte, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.doOnce(ctx, method, path, query, headers, body, out)
	})
	return err
}

func (c *Client) doOnce(ctx context.Context, method, path string, query url.Values, headers http.Header, body []byte, out any) error {
	u := c.host + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("clob %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("clob %s %s read: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("clob %s %s: status %d: %s", method, path, resp.StatusCode, truncate(respBody, 256))
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("clob %s %s decode: %w", method, path, err)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
