package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cordelia-labs/tradewind/internal/types"
	"github.com/cordelia-labs/tradewind/pkg/errors"
)

// SimExchange is a deterministic in-memory exchange. Orders fill instantly
// at the current price (optionally shifted by a slippage factor), balances
// are tracked locally, and no network is involved. The historical simulator
// uses it directly; engine tests use the failure knobs to exercise error
// paths.
type SimExchange struct {
	mu sync.Mutex

	symbol           string
	price            float64
	now              time.Time
	quote            float64
	base             float64
	feeRate          float64
	slippage         float64
	minOrderNotional float64

	openOrders map[string]types.Order
	allOrders  map[string]types.Order
	nextID     int

	// Failure and behavior knobs for tests.

	// RejectOrders, when set, fails every CreateMarketOrder call.
	RejectOrders error
	// StopPlacementErr, when set, fails PlaceProtectiveStop.
	StopPlacementErr error
	// PendingFills makes the next N market orders return with status OPEN
	// and zero filled amount; FetchOrder then reports them filled. This
	// models an exchange that acknowledges before executing.
	PendingFills int
	// NeverFill makes pending orders stay unfilled even on FetchOrder.
	NeverFill bool
	// BalanceErr, when set, fails FetchBalance.
	BalanceErr error
}

// SimConfig configures a simulated exchange.
type SimConfig struct {
	Symbol           string
	InitialQuote     float64
	InitialBase      float64
	FeeRate          float64
	Slippage         float64
	MinOrderNotional float64
}

// NewSimExchange creates a simulated exchange with the given balances.
func NewSimExchange(cfg SimConfig) *SimExchange {
	return &SimExchange{
		symbol:           cfg.Symbol,
		quote:            cfg.InitialQuote,
		base:             cfg.InitialBase,
		feeRate:          cfg.FeeRate,
		slippage:         cfg.Slippage,
		minOrderNotional: cfg.MinOrderNotional,
		openOrders:       make(map[string]types.Order),
		allOrders:        make(map[string]types.Order),
		nextID:           1,
	}
}

// SetPrice sets the current market price and simulation time. Resident stop
// orders whose trigger is crossed execute before the next call returns.
func (s *SimExchange) SetPrice(price float64, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.price = price
	s.now = now
	s.triggerStopsLocked()
}

// Price returns the current simulated price.
func (s *SimExchange) Price() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.price
}

// FetchBalance implements Exchange.
func (s *SimExchange) FetchBalance(_ context.Context) (types.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.BalanceErr != nil {
		return types.Balance{}, errors.Wrap(errors.ErrCodeBalanceFetchFailed, "simulated balance failure", s.BalanceErr)
	}

	return types.Balance{Quote: s.quote, Base: s.base}, nil
}

// FetchTicker implements Exchange.
func (s *SimExchange) FetchTicker(_ context.Context) (types.Ticker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.price <= 0 {
		return types.Ticker{}, errors.New(errors.ErrCodeTickerFetchFailed, "no price set on simulated exchange")
	}

	return types.Ticker{Symbol: s.symbol, Price: s.price, Time: s.now}, nil
}

// CreateMarketOrder implements Exchange. Buys fill at price*(1+slippage),
// sells at price*(1-slippage).
func (s *SimExchange) CreateMarketOrder(_ context.Context, side types.OrderSide, amount float64) (types.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.RejectOrders != nil {
		return types.Order{}, errors.Wrap(errors.ErrCodeOrderFailed, "simulated order rejection", s.RejectOrders)
	}

	if amount <= 0 {
		return types.Order{}, errors.New(errors.ErrCodeInvalidOrder, "order amount must be positive")
	}

	fillPrice := s.fillPriceLocked(side)

	order := types.Order{
		ID:        s.newIDLocked(),
		Symbol:    s.symbol,
		Side:      side,
		Kind:      types.OrderKindMarket,
		Amount:    amount,
		Price:     fillPrice,
		Reason:    types.OrderReasonStrategy,
		Timestamp: s.now,
	}

	if s.PendingFills > 0 {
		s.PendingFills--
		order.Status = types.OrderStatusOpen
		s.openOrders[order.ID] = order
		s.allOrders[order.ID] = order

		return order, nil
	}

	if err := s.settleLocked(&order, fillPrice); err != nil {
		return types.Order{}, err
	}

	s.allOrders[order.ID] = order

	return order, nil
}

// PlaceProtectiveStop implements Exchange. The stop rests on the book and
// fires when SetPrice crosses the trigger.
func (s *SimExchange) PlaceProtectiveStop(_ context.Context, amount, stopPrice float64) (types.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.StopPlacementErr != nil {
		return types.Order{}, errors.Wrap(errors.ErrCodeStopOrderUnsupported, "simulated stop placement failure", s.StopPlacementErr)
	}

	if amount <= 0 || stopPrice <= 0 {
		return types.Order{}, errors.New(errors.ErrCodeInvalidOrder, "protective stop requires positive amount and stop price")
	}

	order := types.Order{
		ID:        s.newIDLocked(),
		Symbol:    s.symbol,
		Side:      types.OrderSideSell,
		Kind:      types.OrderKindStop,
		Status:    types.OrderStatusOpen,
		Amount:    amount,
		StopPrice: stopPrice,
		Reason:    types.OrderReasonStopLoss,
		Timestamp: s.now,
	}

	s.openOrders[order.ID] = order
	s.allOrders[order.ID] = order

	return order, nil
}

// CancelOrder implements Exchange.
func (s *SimExchange) CancelOrder(_ context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.openOrders[orderID]
	if !ok {
		return errors.Newf(errors.ErrCodeOrderNotFound, "no open order with id %s", orderID)
	}

	delete(s.openOrders, orderID)
	order.Status = types.OrderStatusCancelled
	s.allOrders[orderID] = order

	return nil
}

// FetchOpenOrders implements Exchange.
func (s *SimExchange) FetchOpenOrders(_ context.Context) ([]types.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	orders := make([]types.Order, 0, len(s.openOrders))
	for _, order := range s.openOrders {
		orders = append(orders, order)
	}

	return orders, nil
}

// FetchOrder implements Exchange. A pending market order settles on first
// fetch unless NeverFill is set.
func (s *SimExchange) FetchOrder(_ context.Context, orderID string) (types.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.allOrders[orderID]
	if !ok {
		return types.Order{}, errors.Newf(errors.ErrCodeOrderNotFound, "no order with id %s", orderID)
	}

	if order.Kind == types.OrderKindMarket && order.Status == types.OrderStatusOpen && !s.NeverFill {
		if err := s.settleLocked(&order, order.Price); err != nil {
			return types.Order{}, err
		}

		delete(s.openOrders, orderID)
		s.allOrders[orderID] = order
	}

	return order, nil
}

// MinOrderNotional implements Exchange.
func (s *SimExchange) MinOrderNotional() float64 {
	return s.minOrderNotional
}

func (s *SimExchange) newIDLocked() string {
	id := fmt.Sprintf("sim-%d", s.nextID)
	s.nextID++

	return id
}

func (s *SimExchange) fillPriceLocked(side types.OrderSide) float64 {
	if side == types.OrderSideBuy {
		return s.price * (1 + s.slippage)
	}

	return s.price * (1 - s.slippage)
}

// settleLocked executes the order against the local balances.
func (s *SimExchange) settleLocked(order *types.Order, fillPrice float64) error {
	notional := order.Amount * fillPrice

	switch order.Side {
	case types.OrderSideBuy:
		cost := notional * (1 + s.feeRate)
		if cost > s.quote {
			return errors.Newf(errors.ErrCodeInsufficientBalance,
				"insufficient quote balance: need %.2f, have %.2f", cost, s.quote)
		}

		s.quote -= cost
		s.base += order.Amount
	case types.OrderSideSell:
		if order.Amount > s.base {
			return errors.Newf(errors.ErrCodeInsufficientBalance,
				"insufficient base balance: need %.8f, have %.8f", order.Amount, s.base)
		}

		s.base -= order.Amount
		s.quote += notional * (1 - s.feeRate)
	}

	order.Status = types.OrderStatusClosed
	order.FilledAmount = order.Amount
	order.AvgFillPrice = fillPrice
	order.Price = fillPrice

	return nil
}

// triggerStopsLocked fills resident stop orders whose trigger price has been
// crossed by the current price.
func (s *SimExchange) triggerStopsLocked() {
	for id, order := range s.openOrders {
		if order.Kind != types.OrderKindStop || s.price > order.StopPrice {
			continue
		}

		if err := s.settleLocked(&order, order.StopPrice); err != nil {
			continue
		}

		order.Timestamp = s.now
		delete(s.openOrders, id)
		s.allOrders[id] = order
	}
}

var _ Exchange = (*SimExchange)(nil)
