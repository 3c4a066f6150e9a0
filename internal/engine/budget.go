package engine

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/cordelia-labs/tradewind/pkg/errors"
)

// Budget tracks the quote currency this instance may spend. Entries debit it
// by cost plus fees, exits credit it with proceeds minus fees, so over time
// the budget breathes with realized P&L instead of resetting to the
// configured allocation.
type Budget struct {
	mu        sync.Mutex
	available decimal.Decimal
}

// NewBudget creates a budget with the given starting allocation.
func NewBudget(allocated float64) *Budget {
	return &Budget{available: decimal.NewFromFloat(allocated)}
}

// Available returns the spendable quote amount.
func (b *Budget) Available() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	v, _ := b.available.Float64()

	return v
}

// Debit removes cost from the budget. Fails when the budget cannot cover it.
func (b *Budget) Debit(cost float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := decimal.NewFromFloat(cost)
	if c.GreaterThan(b.available) {
		avail, _ := b.available.Float64()

		return errors.Newf(errors.ErrCodeInsufficientBalance,
			"budget cannot cover %.2f, available %.2f", cost, avail)
	}

	b.available = b.available.Sub(c)

	return nil
}

// Credit adds proceeds to the budget.
func (b *Budget) Credit(proceeds float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.available = b.available.Add(decimal.NewFromFloat(proceeds))
}
