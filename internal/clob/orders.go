package clob

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"polyarb/internal/book"
	"polyarb/internal/execution"
)

// Submit posts one order leg and returns the venue order id.
func (c *Client) Submit(ctx context.Context, req execution.SubmitRequest) (string, error) {
	payload := map[string]any{
		"tokenID":   req.TokenID,
		"side":      string(req.Side),
		"price":     book.FormatMicros(req.PriceMicros),
		"size":      book.FormatMicros(req.SizeMicros),
		"orderType": string(req.TIF),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	const path = "/order"
	headers, err := c.l2Headers(http.MethodPost, path, body)
	if err != nil {
		return "", err
	}

	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodPost, path, nil, headers, body, &raw); err != nil {
		return "", err
	}

	id := extractOrderID(raw)
	if id == "" {
		return "", fmt.Errorf("clob submit: no order id in response: %s", truncate(raw, 256))
	}
	c.log.Debug().Str("order_id", id).Str("token_id", req.TokenID).Str("side", string(req.Side)).Msg("order submitted")
	return id, nil
}

// Poll fetches order state and normalizes it into the engine's view.
func (c *Client) Poll(ctx context.Context, orderID string) (execution.PollResult, error) {
	path := "/data/order/" + orderID
	headers, err := c.l2Headers(http.MethodGet, path, nil)
	if err != nil {
		return execution.PollResult{}, err
	}

	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodGet, path, nil, headers, nil, &raw); err != nil {
		return execution.PollResult{}, err
	}
	return parsePollResult(raw)
}

// Cancel cancels the given orders in one call. Best effort per the Router
// contract; the caller logs failures and moves on.
func (c *Client) Cancel(ctx context.Context, orderIDs []string) error {
	if len(orderIDs) == 0 {
		return nil
	}
	body, err := json.Marshal(map[string]any{"orderIDs": orderIDs})
	if err != nil {
		return err
	}
	const path = "/orders"
	headers, err := c.l2Headers(http.MethodDelete, path, body)
	if err != nil {
		return err
	}
	return c.doJSON(ctx, http.MethodDelete, path, nil, headers, body, nil)
}

var _ execution.Router = (*Client)(nil)
var _ execution.BookSource = (*Client)(nil)

// Responses from the order endpoints vary in shape across API revisions:
// the order id, status, and filled size show up under different key names
// and are sometimes nested one level down. The helpers below accept every
// shape observed in the wild and normalize to one view.

var orderIDKeys = []string{"orderID", "orderId", "order_id", "id"}
var nestKeys = []string{"order", "data", "result"}
var statusKeys = []string{"status", "state"}
var filledKeys = []string{"filled_size", "filledSize", "size_matched", "matched_size"}

func extractOrderID(raw json.RawMessage) string {
	obj := decodeObject(raw)
	if obj == nil {
		return ""
	}
	if id := firstString(obj, orderIDKeys); id != "" {
		return id
	}
	for _, k := range nestKeys {
		if nested, ok := obj[k]; ok {
			if inner := decodeObject(nested); inner != nil {
				if id := firstString(inner, orderIDKeys); id != "" {
					return id
				}
			}
		}
	}
	return ""
}

func parsePollResult(raw json.RawMessage) (execution.PollResult, error) {
	obj := decodeObject(raw)
	if obj == nil {
		return execution.PollResult{}, fmt.Errorf("clob poll: non-object response: %s", truncate(raw, 256))
	}
	// Some revisions nest the order record.
	for _, k := range nestKeys {
		if nested, ok := obj[k]; ok {
			if inner := decodeObject(nested); inner != nil {
				obj = inner
				break
			}
		}
	}

	var res execution.PollResult
	res.Status = normalizeStatus(firstString(obj, statusKeys))

	for _, k := range filledKeys {
		v, ok := obj[k]
		if !ok {
			continue
		}
		filled, err := parseSizeField(v)
		if err != nil {
			return execution.PollResult{}, fmt.Errorf("clob poll: field %q: %w", k, err)
		}
		res.FilledSizeMicros = filled
		break
	}
	return res, nil
}

// normalizeStatus maps known venue spellings onto the engine's statuses and
// passes everything else through lowercased. The engine treats full reported
// size as authoritative regardless, so unknown statuses degrade safely.
func normalizeStatus(s string) execution.OrderStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "live", "open", "submitted":
		return execution.StatusSubmitted
	case "partially_filled", "partial":
		return execution.StatusPartiallyFilled
	case "filled", "complete", "completed":
		return execution.StatusFilled
	case "canceled", "cancelled":
		return execution.StatusCanceled
	case "rejected", "failed":
		return execution.StatusRejected
	case "expired":
		return execution.StatusExpired
	default:
		return execution.OrderStatus(strings.ToLower(strings.TrimSpace(s)))
	}
}

func decodeObject(v any) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		return t
	case json.RawMessage:
		var obj map[string]any
		if err := json.Unmarshal(t, &obj); err != nil {
			return nil
		}
		return obj
	}
	return nil
}

func firstString(obj map[string]any, keys []string) string {
	for _, k := range keys {
		if v, ok := obj[k]; ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

// parseSizeField accepts either a decimal string or a JSON number.
func parseSizeField(v any) (uint64, error) {
	switch t := v.(type) {
	case string:
		return book.ParseMicros(t)
	case float64:
		return book.ParseMicros(fmt.Sprintf("%v", t))
	case json.Number:
		return book.ParseMicros(t.String())
	}
	return 0, fmt.Errorf("unsupported size type %T", v)
}
