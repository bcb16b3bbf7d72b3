package execution

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"polyarb/internal/book"
)

// SimRouter models order routing deterministically for dry runs: every buy
// that the virtual balance can cover fills instantly and debits its cost,
// every sell credits its proceeds. It satisfies Router, so the engine and its
// callers are unchanged by the substitution.
type SimRouter struct {
	mu            sync.Mutex
	balanceMicros uint64
	orders        map[string]OrderState
}

func NewSimRouter(startingBalanceMicros uint64) *SimRouter {
	return &SimRouter{
		balanceMicros: startingBalanceMicros,
		orders:        make(map[string]OrderState),
	}
}

func (r *SimRouter) Submit(_ context.Context, req SubmitRequest) (string, error) {
	cost := book.CostMicros(req.SizeMicros, req.PriceMicros)

	r.mu.Lock()
	defer r.mu.Unlock()

	if req.Side == SideBuy {
		if cost > r.balanceMicros {
			return "", fmt.Errorf("sim: insufficient balance %s for cost %s",
				book.FormatMicros(r.balanceMicros), book.FormatMicros(cost))
		}
		r.balanceMicros -= cost
	} else {
		r.balanceMicros += cost
	}

	id := uuid.NewString()
	r.orders[id] = OrderState{
		ID:               id,
		TokenID:          req.TokenID,
		Side:             req.Side,
		RequestedMicros:  req.SizeMicros,
		FilledSizeMicros: req.SizeMicros,
		Status:           StatusFilled,
	}
	return id, nil
}

func (r *SimRouter) Poll(_ context.Context, orderID string) (PollResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.orders[orderID]
	if !ok {
		return PollResult{}, fmt.Errorf("sim: unknown order %s", orderID)
	}
	return PollResult{Status: st.Status, FilledSizeMicros: st.FilledSizeMicros}, nil
}

func (r *SimRouter) Cancel(_ context.Context, _ []string) error {
	return nil // simulated fills are instant; nothing to cancel
}

// Balance returns the current virtual balance in micros.
func (r *SimRouter) Balance() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.balanceMicros
}

// Credit adds settlement proceeds (e.g. the guaranteed $1.00 payout of a won
// trade) back to the virtual balance.
func (r *SimRouter) Credit(amountMicros uint64) {
	r.mu.Lock()
	r.balanceMicros += amountMicros
	r.mu.Unlock()
}
