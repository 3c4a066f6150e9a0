package types

import (
	"time"

	"github.com/moznion/go-optional"
)

type SignalAction string

const (
	// SignalActionBuy tells the engine to open a long position
	SignalActionBuy SignalAction = "buy"
	// SignalActionSell tells the engine to exit the open position
	SignalActionSell SignalAction = "sell"
	// SignalActionClose is equivalent to sell; emitted by strategies that
	// distinguish a profit-taking exit from a reversal
	SignalActionClose SignalAction = "close"
	// SignalActionHold tells the engine to take no action
	SignalActionHold SignalAction = "hold"
)

// Signal is the output of a strategy's Analyze call. It is a pure value;
// strategies never act on the engine directly.
type Signal struct {
	// Time is the time of the signal
	Time time.Time `yaml:"time" json:"time"`
	// Action is what the strategy wants the engine to do
	Action SignalAction `yaml:"action" json:"action"`
	// Price is the price the strategy observed when deciding
	Price float64 `yaml:"price" json:"price"`
	// StopLoss is the suggested protective stop price. Can be None.
	StopLoss optional.Option[float64] `yaml:"stop_loss" json:"stop_loss"`
	// TakeProfit is the suggested profit target price. Can be None.
	TakeProfit optional.Option[float64] `yaml:"take_profit" json:"take_profit"`
	// Reason is a human-readable explanation recorded in logs and trade records
	Reason string `yaml:"reason" json:"reason"`
}

// IsExit reports whether the signal asks the engine to leave the position.
func (s Signal) IsExit() bool {
	return s.Action == SignalActionSell || s.Action == SignalActionClose
}

// Hold returns a hold signal with the given reason.
func Hold(t time.Time, price float64, reason string) Signal {
	return Signal{
		Time:       t,
		Action:     SignalActionHold,
		Price:      price,
		StopLoss:   optional.None[float64](),
		TakeProfit: optional.None[float64](),
		Reason:     reason,
	}
}
