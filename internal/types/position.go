package types

import (
	"time"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
)

// CloseReason records why a position was exited.
type CloseReason string

const (
	CloseReasonStrategy    CloseReason = "strategy"
	CloseReasonStopLoss    CloseReason = "stop_loss"
	CloseReasonTakeProfit  CloseReason = "take_profit"
	CloseReasonMaxDrawdown CloseReason = "max drawdown exceeded"
	CloseReasonShutdown    CloseReason = "shutdown"
	CloseReasonEndOfData   CloseReason = "end_of_data"
)

// Position is an open long holding. At most one Position is alive per ledger
// at any time; it is destroyed on close.
type Position struct {
	Symbol string `yaml:"symbol" json:"symbol"`
	// EntryPrice is the actual fill price of the entry order
	EntryPrice float64 `yaml:"entry_price" json:"entry_price"`
	// ExpectedEntryPrice is the price the engine expected before submitting
	// the entry; the deviation from EntryPrice is the entry slippage
	ExpectedEntryPrice float64 `yaml:"expected_entry_price" json:"expected_entry_price"`
	// Amount is the base-asset quantity held
	Amount float64 `yaml:"amount" json:"amount"`
	// CurrentPrice is the last marked price
	CurrentPrice float64 `yaml:"current_price" json:"current_price"`
	// UnrealizedPnL is (CurrentPrice - EntryPrice) * Amount, updated on mark
	UnrealizedPnL float64 `yaml:"unrealized_pnl" json:"unrealized_pnl"`
	// StopLoss is the local stop price. Can be None.
	StopLoss optional.Option[float64] `yaml:"stop_loss" json:"stop_loss"`
	// TakeProfit is the local profit target. Can be None.
	TakeProfit optional.Option[float64] `yaml:"take_profit" json:"take_profit"`
	// ProtectiveOrderID is the id of the exchange-resident stop order, if one
	// was placed. Can be None.
	ProtectiveOrderID optional.Option[string] `yaml:"protective_order_id" json:"protective_order_id"`
	// Unprotected is set when a protective stop was requested but could not
	// be placed; the position is then monitored locally only
	Unprotected bool      `yaml:"unprotected" json:"unprotected"`
	OpenedAt    time.Time `yaml:"opened_at" json:"opened_at"`
}

// Value returns the position's notional value at the given price.
func (p *Position) Value(price float64) float64 {
	v, _ := decimal.NewFromFloat(p.Amount).Mul(decimal.NewFromFloat(price)).Float64()

	return v
}

// TradeRecord is the immutable summary of a closed round-trip. It is produced
// exactly once per position close and is the sole input to aggregate
// statistics.
type TradeRecord struct {
	Symbol string `yaml:"symbol" json:"symbol" csv:"symbol"`
	// EntryPrice and ExitPrice are the actual fill prices
	EntryPrice float64 `yaml:"entry_price" json:"entry_price" csv:"entry_price"`
	ExitPrice  float64 `yaml:"exit_price" json:"exit_price" csv:"exit_price"`
	// ExpectedEntryPrice and ExpectedExitPrice are the prices the engine
	// expected before submitting each order
	ExpectedEntryPrice float64 `yaml:"expected_entry_price" json:"expected_entry_price" csv:"expected_entry_price"`
	ExpectedExitPrice  float64 `yaml:"expected_exit_price" json:"expected_exit_price" csv:"expected_exit_price"`
	// EntrySlippage and ExitSlippage are relative deviations between expected
	// and actual fill prices
	EntrySlippage float64 `yaml:"entry_slippage" json:"entry_slippage" csv:"entry_slippage"`
	ExitSlippage  float64 `yaml:"exit_slippage" json:"exit_slippage" csv:"exit_slippage"`
	Amount        float64 `yaml:"amount" json:"amount" csv:"amount"`
	// GrossPnL is (exit - entry) * amount, before fees
	GrossPnL float64 `yaml:"gross_pnl" json:"gross_pnl" csv:"gross_pnl"`
	// Fees is the entry fee plus the exit fee
	Fees float64 `yaml:"fees" json:"fees" csv:"fees"`
	// NetPnL is GrossPnL - Fees
	NetPnL float64 `yaml:"net_pnl" json:"net_pnl" csv:"net_pnl"`
	// Win is true when NetPnL is positive
	Win      bool        `yaml:"win" json:"win" csv:"win"`
	Reason   CloseReason `yaml:"reason" json:"reason" csv:"reason"`
	OpenedAt time.Time   `yaml:"opened_at" json:"opened_at" csv:"opened_at"`
	ClosedAt time.Time   `yaml:"closed_at" json:"closed_at" csv:"closed_at"`
}

// ReturnPct is the net return of the round-trip relative to the entry
// notional, as a percentage.
func (t *TradeRecord) ReturnPct() float64 {
	notional := t.EntryPrice * t.Amount
	if notional == 0 {
		return 0
	}

	return t.NetPnL / notional * 100
}
