// Package strategy holds the signal sources the execution engine consumes.
// A strategy is a pure function of the price history it is handed plus its
// own belief about whether it holds a position; it never calls back into
// execution.
package strategy

import (
	"github.com/cordelia-labs/tradewind/internal/types"
	"github.com/cordelia-labs/tradewind/pkg/errors"
)

// Strategy produces an abstract buy/sell/hold opinion from recent price
// history and the current price.
type Strategy interface {
	// Name returns the registry name of the strategy.
	Name() string
	// Analyze returns a signal for the current price given the ordered
	// candle history. Implementations may track whether they believe they
	// hold a position but must not have any other side effects.
	Analyze(history []types.MarketData, currentPrice float64) types.Signal
}

// New creates a strategy by its registry name with default parameters.
func New(name string) (Strategy, error) {
	switch name {
	case "sma-cross":
		return NewSMACross(9, 21), nil
	case "rsi-reversion":
		return NewRSIReversion(14, 30, 70), nil
	default:
		return nil, errors.Newf(errors.ErrCodeUnknownStrategy, "unknown strategy: %s", name)
	}
}

// SupportedStrategies lists the registry names New accepts.
func SupportedStrategies() []string {
	return []string{"sma-cross", "rsi-reversion"}
}
