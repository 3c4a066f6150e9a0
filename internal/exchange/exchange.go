// Package exchange defines the execution port the engine trades through.
// Two implementations exist: a live Binance adapter and a deterministic,
// network-free simulation adapter.
package exchange

import (
	"context"

	"github.com/cordelia-labs/tradewind/internal/types"
)

// Exchange is the execution port consumed by the engine and risk controller.
// All calls take a context so a slow exchange blocks only the current tick.
type Exchange interface {
	// FetchBalance returns the available quote and base asset amounts.
	FetchBalance(ctx context.Context) (types.Balance, error)
	// FetchTicker returns the current price of the traded symbol.
	FetchTicker(ctx context.Context) (types.Ticker, error)
	// CreateMarketOrder submits a market order for the given base amount.
	// The returned order carries the immediate fill status; callers must
	// poll FetchOrder when the status is not yet closed.
	CreateMarketOrder(ctx context.Context, side types.OrderSide, amount float64) (types.Order, error)
	// PlaceProtectiveStop places an exchange-resident stop order that exits
	// the position when price crosses stopPrice. May fail on exchanges that
	// do not support the order type; callers must treat that as non-fatal.
	PlaceProtectiveStop(ctx context.Context, amount, stopPrice float64) (types.Order, error)
	// CancelOrder cancels an open order by id.
	CancelOrder(ctx context.Context, orderID string) error
	// FetchOpenOrders returns all resident orders that have not executed.
	FetchOpenOrders(ctx context.Context) ([]types.Order, error)
	// FetchOrder returns the current state of an order by id.
	FetchOrder(ctx context.Context, orderID string) (types.Order, error)
	// MinOrderNotional returns the exchange's minimum order size in quote
	// currency units.
	MinOrderNotional() float64
}
