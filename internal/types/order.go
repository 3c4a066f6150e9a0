package types

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/cordelia-labs/tradewind/pkg/errors"
)

type OrderSide string

type OrderStatus string

type OrderKind string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

const (
	OrderStatusOpen      OrderStatus = "OPEN"
	OrderStatusClosed    OrderStatus = "CLOSED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

const (
	OrderKindMarket OrderKind = "MARKET"
	// OrderKindStop is an exchange-resident protective stop
	OrderKindStop OrderKind = "STOP"
)

const (
	OrderReasonStrategy    string = "strategy"
	OrderReasonStopLoss    string = "stop_loss"
	OrderReasonTakeProfit  string = "take_profit"
	OrderReasonMaxDrawdown string = "max drawdown exceeded"
	OrderReasonShutdown    string = "shutdown"
	OrderReasonReconcile   string = "reconcile"
	OrderReasonEndOfData   string = "end_of_data"
)

// Order is a single exchange order. Orders are append-only: once created,
// nothing but Status ever changes.
type Order struct {
	ID     string      `yaml:"id" json:"id" validate:"required"`
	Symbol string      `yaml:"symbol" json:"symbol" validate:"required"`
	Side   OrderSide   `yaml:"side" json:"side" validate:"required,oneof=BUY SELL"`
	Kind   OrderKind   `yaml:"kind" json:"kind" validate:"required,oneof=MARKET STOP"`
	Status OrderStatus `yaml:"status" json:"status" validate:"required,oneof=OPEN CLOSED CANCELLED"`
	// Amount is the requested base-asset quantity
	Amount float64 `yaml:"amount" json:"amount" validate:"required,gt=0"`
	// Price is the requested price; for market orders this is the expected
	// price at submission time
	Price float64 `yaml:"price" json:"price" validate:"gte=0"`
	// FilledAmount is the executed base-asset quantity
	FilledAmount float64 `yaml:"filled_amount" json:"filled_amount" validate:"gte=0"`
	// AvgFillPrice is the volume-weighted fill price; zero until filled
	AvgFillPrice float64 `yaml:"avg_fill_price" json:"avg_fill_price" validate:"gte=0"`
	// StopPrice is set on protective stop orders only
	StopPrice float64 `yaml:"stop_price" json:"stop_price" validate:"gte=0"`
	// Reason records why the order was placed
	Reason    string    `yaml:"reason" json:"reason"`
	Timestamp time.Time `yaml:"timestamp" json:"timestamp"`
}

// IsFilled reports whether the order executed in full.
func (o *Order) IsFilled() bool {
	return o.Status == OrderStatusClosed && o.FilledAmount > 0
}

// Validate validates the Order struct.
func (o *Order) Validate() error {
	validate := validator.New()
	if err := validate.Struct(o); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidOrder, "invalid order", err)
	}

	return nil
}
