// Package execution turns authorized opportunities into orders, polls each
// leg to a terminal state within a bounded budget, and unwinds partially
// filled multi-leg trades.
package execution

import (
	"context"

	"polyarb/internal/book"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

type TimeInForce string

const (
	TIFGoodTillCanceled TimeInForce = "GTC"
	TIFFillOrKill       TimeInForce = "FOK"
	TIFFillAndKill      TimeInForce = "FAK" // immediate-or-cancel
)

type OrderStatus string

const (
	StatusSubmitted       OrderStatus = "submitted"
	StatusPartiallyFilled OrderStatus = "partially_filled"
	StatusFilled          OrderStatus = "filled"
	StatusCanceled        OrderStatus = "canceled"
	StatusRejected        OrderStatus = "rejected"
	StatusExpired         OrderStatus = "expired"

	// StatusTimedOut is assigned locally when no terminal status was observed
	// within the polling budget. It does not imply the exchange considers the
	// order closed.
	StatusTimedOut OrderStatus = "timed_out"
)

// Terminal reports whether no further fill is expected. TimedOut counts: the
// engine stops polling, even though the exchange-side truth is unknown.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired, StatusTimedOut:
		return true
	}
	return false
}

// SubmitRequest describes one order leg. Price and size are in micros.
type SubmitRequest struct {
	Side        Side
	TokenID     string
	PriceMicros uint64
	SizeMicros  uint64
	TIF         TimeInForce
}

// PollResult is the normalized view of one order-status poll.
type PollResult struct {
	Status           OrderStatus
	FilledSizeMicros uint64
}

// OrderState is the engine's record of one leg.
type OrderState struct {
	ID               string
	TokenID          string
	Side             Side
	RequestedMicros  uint64
	FilledSizeMicros uint64
	Status           OrderStatus
}

// Filled reports whether the leg is confirmed fully filled.
func (o OrderState) Filled() bool { return o.Status == StatusFilled }

// Router is the opaque order-routing capability. Implementations handle
// transport, credentials and signing; the engine never does.
type Router interface {
	Submit(ctx context.Context, req SubmitRequest) (orderID string, err error)
	Poll(ctx context.Context, orderID string) (PollResult, error)
	// Cancel is best effort; failures are logged, not retried.
	Cancel(ctx context.Context, orderIDs []string) error
}

// BookSource supplies depth snapshots; the engine uses it to price unwinds.
type BookSource interface {
	FetchBook(ctx context.Context, tokenID string) (book.Book, error)
}
