package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"polyarb/internal/book"
)

const (
	// DefaultPollTimeout bounds how long a leg is polled before its local
	// status becomes TimedOut.
	DefaultPollTimeout  = 3 * time.Second
	DefaultPollInterval = 250 * time.Millisecond
)

type Config struct {
	PollTimeout  time.Duration
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollTimeout <= 0 {
		c.PollTimeout = DefaultPollTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	return c
}

type Engine struct {
	router Router
	books  BookSource
	cfg    Config
	log    zerolog.Logger
}

func NewEngine(router Router, books BookSource, cfg Config, log zerolog.Logger) *Engine {
	return &Engine{
		router: router,
		books:  books,
		cfg:    cfg.withDefaults(),
		log:    log.With().Str("component", "execution").Logger(),
	}
}

// ExecuteLeg submits one order and polls it to a terminal state. A routing
// fault is caught at the leg boundary: the returned state carries Rejected
// and the error is reported, never raised past the caller.
func (e *Engine) ExecuteLeg(ctx context.Context, req SubmitRequest) (OrderState, error) {
	state := OrderState{
		TokenID:         req.TokenID,
		Side:            req.Side,
		RequestedMicros: req.SizeMicros,
		Status:          StatusSubmitted,
	}

	orderID, err := e.router.Submit(ctx, req)
	if err != nil {
		state.Status = StatusRejected
		e.log.Warn().Err(err).Str("token", req.TokenID).Str("side", string(req.Side)).Msg("order submit failed")
		return state, fmt.Errorf("submit %s %s: %w", req.Side, req.TokenID, err)
	}
	state.ID = orderID

	return e.awaitTerminal(ctx, state), nil
}

// awaitTerminal polls until a terminal status or the timeout budget elapses.
// A poll reporting the full requested size filled is authoritative even when
// the status string is not a recognized terminal one. Poll errors are
// "unknown, try later", never terminal.
func (e *Engine) awaitTerminal(ctx context.Context, state OrderState) OrderState {
	deadline := time.Now().Add(e.cfg.PollTimeout)

	for time.Now().Before(deadline) {
		res, err := e.router.Poll(ctx, state.ID)
		if err != nil {
			e.log.Debug().Err(err).Str("order", state.ID).Msg("order poll error")
		} else {
			if res.FilledSizeMicros > state.FilledSizeMicros {
				state.FilledSizeMicros = res.FilledSizeMicros
			}
			if state.RequestedMicros > 0 && state.FilledSizeMicros >= state.RequestedMicros {
				state.Status = StatusFilled
				return state
			}
			if res.Status.Terminal() {
				state.Status = res.Status
				return state
			}
			if res.Status != "" {
				state.Status = res.Status
			}
		}

		select {
		case <-ctx.Done():
			state.Status = StatusTimedOut
			return state
		case <-time.After(e.cfg.PollInterval):
		}
	}

	// Not confirmed either way within budget.
	state.Status = StatusTimedOut
	e.log.Warn().Str("order", state.ID).Str("token", state.TokenID).Msg("order not terminal within poll budget")
	return state
}

// PairResult is the outcome of a two-leg trade.
type PairResult struct {
	Up   OrderState
	Down OrderState
	// Completed is true only when both legs confirmed Filled.
	Completed bool
	// Unwound lists the opposite-side orders submitted to flatten filled legs
	// after a partial failure.
	Unwound []OrderState
}

// ExecutePair runs the dual-sided flow: submit both legs, poll both
// concurrently, and on partial failure cancel whatever is not confirmed
// filled and unwind whatever is.
func (e *Engine) ExecutePair(ctx context.Context, up, down SubmitRequest) PairResult {
	states := make([]OrderState, 2)
	reqs := []SubmitRequest{up, down}

	var wg sync.WaitGroup
	for i := range reqs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			st, err := e.ExecuteLeg(ctx, reqs[i])
			_ = err // already logged at the leg boundary
			states[i] = st
		}(i)
	}
	wg.Wait()

	res := PairResult{Up: states[0], Down: states[1]}
	if res.Up.Filled() && res.Down.Filled() {
		res.Completed = true
		return res
	}

	e.log.Warn().
		Str("up_status", string(res.Up.Status)).
		Str("down_status", string(res.Down.Status)).
		Msg("pair incomplete; cancelling and unwinding")

	// Cancel anything not confirmed filled. Best effort only.
	var cancelIDs []string
	for _, st := range states {
		if !st.Filled() && st.ID != "" {
			cancelIDs = append(cancelIDs, st.ID)
		}
	}
	if len(cancelIDs) > 0 {
		if err := e.router.Cancel(ctx, cancelIDs); err != nil {
			e.log.Warn().Err(err).Strs("orders", cancelIDs).Msg("cancel failed")
		}
	}

	// Unwind confirmed fills at the best available opposite price.
	for _, st := range states {
		if !st.Filled() {
			continue
		}
		unwound, err := e.unwindLeg(ctx, st)
		if err != nil {
			e.log.Error().Err(err).Str("token", st.TokenID).Msg("unwind failed; position left open")
			continue
		}
		res.Unwound = append(res.Unwound, unwound)
	}
	return res
}

// unwindLeg sells a filled buy leg back at the current best bid with an
// immediate-or-cancel order, accepting slippage to flatten risk rather than
// carry an unhedged position.
func (e *Engine) unwindLeg(ctx context.Context, leg OrderState) (OrderState, error) {
	b, err := e.books.FetchBook(ctx, leg.TokenID)
	if err != nil {
		return OrderState{}, fmt.Errorf("unwind book fetch: %w", err)
	}
	bid, ok := b.BestBid()
	if !ok {
		return OrderState{}, fmt.Errorf("unwind %s: no bids", leg.TokenID)
	}

	e.log.Info().
		Str("token", leg.TokenID).
		Str("price", book.FormatMicros(bid.PriceMicros)).
		Str("size", book.FormatMicros(leg.RequestedMicros)).
		Msg("unwinding filled leg")

	return e.submitUnwind(ctx, leg, bid.PriceMicros)
}

func (e *Engine) submitUnwind(ctx context.Context, leg OrderState, priceMicros uint64) (OrderState, error) {
	st, err := e.ExecuteLeg(ctx, SubmitRequest{
		Side:        SideSell,
		TokenID:     leg.TokenID,
		PriceMicros: priceMicros,
		SizeMicros:  leg.RequestedMicros,
		TIF:         TIFFillAndKill,
	})
	if err != nil {
		return st, err
	}
	return st, nil
}
