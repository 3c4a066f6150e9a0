package strategy

import (
	"fmt"
	"time"

	"github.com/moznion/go-optional"

	"github.com/cordelia-labs/tradewind/internal/indicator"
	"github.com/cordelia-labs/tradewind/internal/types"
)

// Stop and target distances as fractions of the entry price.
const (
	smaStopLossPct   = 0.02
	smaTakeProfitPct = 0.04
)

// SMACross enters when the fast moving average crosses above the slow one
// and exits on the opposite cross.
type SMACross struct {
	fastPeriod int
	slowPeriod int
	// inPosition is the strategy's own belief about holding a position; it
	// is never shared with the engine.
	inPosition bool
}

// NewSMACross creates an SMA crossover strategy with the given periods.
func NewSMACross(fastPeriod, slowPeriod int) *SMACross {
	return &SMACross{
		fastPeriod: fastPeriod,
		slowPeriod: slowPeriod,
		inPosition: false,
	}
}

// Name implements Strategy.
func (s *SMACross) Name() string {
	return "sma-cross"
}

// Analyze implements Strategy.
func (s *SMACross) Analyze(history []types.MarketData, currentPrice float64) types.Signal {
	now := signalTime(history)

	closes := indicator.Closes(history)
	closes = append(closes, currentPrice)

	fast, okFast := indicator.SMA(closes, s.fastPeriod)
	slow, okSlow := indicator.SMA(closes, s.slowPeriod)

	if !okFast || !okSlow {
		return types.Hold(now, currentPrice, "insufficient history")
	}

	if !s.inPosition && fast > slow {
		s.inPosition = true

		return types.Signal{
			Time:       now,
			Action:     types.SignalActionBuy,
			Price:      currentPrice,
			StopLoss:   optional.Some(currentPrice * (1 - smaStopLossPct)),
			TakeProfit: optional.Some(currentPrice * (1 + smaTakeProfitPct)),
			Reason:     fmt.Sprintf("fast SMA %.2f crossed above slow SMA %.2f", fast, slow),
		}
	}

	if s.inPosition && fast < slow {
		s.inPosition = false

		return types.Signal{
			Time:       now,
			Action:     types.SignalActionSell,
			Price:      currentPrice,
			StopLoss:   optional.None[float64](),
			TakeProfit: optional.None[float64](),
			Reason:     fmt.Sprintf("fast SMA %.2f crossed below slow SMA %.2f", fast, slow),
		}
	}

	return types.Hold(now, currentPrice, "no crossover")
}

// signalTime returns the last candle time, or the zero value when history is
// empty. Simulations rely on signals being timestamped from the series, not
// the wall clock, for deterministic replay.
func signalTime(history []types.MarketData) time.Time {
	if len(history) == 0 {
		return time.Time{}
	}

	return history[len(history)-1].Time
}
