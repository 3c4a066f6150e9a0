package strategy

import (
	"fmt"

	"github.com/moznion/go-optional"

	"github.com/cordelia-labs/tradewind/internal/indicator"
	"github.com/cordelia-labs/tradewind/internal/types"
)

const (
	rsiStopLossPct   = 0.03
	rsiTakeProfitPct = 0.05
)

// RSIReversion buys oversold conditions and exits overbought ones.
type RSIReversion struct {
	period     int
	oversold   float64
	overbought float64
	inPosition bool
}

// NewRSIReversion creates an RSI mean-reversion strategy.
func NewRSIReversion(period int, oversold, overbought float64) *RSIReversion {
	return &RSIReversion{
		period:     period,
		oversold:   oversold,
		overbought: overbought,
		inPosition: false,
	}
}

// Name implements Strategy.
func (s *RSIReversion) Name() string {
	return "rsi-reversion"
}

// Analyze implements Strategy.
func (s *RSIReversion) Analyze(history []types.MarketData, currentPrice float64) types.Signal {
	now := signalTime(history)

	closes := indicator.Closes(history)
	closes = append(closes, currentPrice)

	rsi, ok := indicator.RSI(closes, s.period)
	if !ok {
		return types.Hold(now, currentPrice, "insufficient history")
	}

	if !s.inPosition && rsi <= s.oversold {
		s.inPosition = true

		return types.Signal{
			Time:       now,
			Action:     types.SignalActionBuy,
			Price:      currentPrice,
			StopLoss:   optional.Some(currentPrice * (1 - rsiStopLossPct)),
			TakeProfit: optional.Some(currentPrice * (1 + rsiTakeProfitPct)),
			Reason:     fmt.Sprintf("RSI %.1f below oversold threshold %.1f", rsi, s.oversold),
		}
	}

	if s.inPosition && rsi >= s.overbought {
		s.inPosition = false

		return types.Signal{
			Time:       now,
			Action:     types.SignalActionClose,
			Price:      currentPrice,
			StopLoss:   optional.None[float64](),
			TakeProfit: optional.None[float64](),
			Reason:     fmt.Sprintf("RSI %.1f above overbought threshold %.1f", rsi, s.overbought),
		}
	}

	return types.Hold(now, currentPrice, "RSI in neutral band")
}
