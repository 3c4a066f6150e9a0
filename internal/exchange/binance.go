package exchange

import (
	"context"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"

	"github.com/cordelia-labs/tradewind/internal/types"
	"github.com/cordelia-labs/tradewind/pkg/errors"
)

const (
	// binanceDecimalPrecision is a default quantity precision used as a
	// fallback. 8 decimals allows satoshi-level precision for BTC-like
	// assets. Production systems should use symbol-specific precision from
	// Binance exchange info (LOT_SIZE, PRICE_FILTER).
	binanceDecimalPrecision = 8
	// stopLimitOffset widens the limit price of a protective stop below the
	// stop trigger so the order fills through fast moves.
	stopLimitOffset = 0.002
)

// Service interfaces for mocking the Binance API.

// CreateOrderService interface for creating orders.
type CreateOrderService interface {
	Symbol(symbol string) CreateOrderService
	Side(side binance.SideType) CreateOrderService
	Type(orderType binance.OrderType) CreateOrderService
	Quantity(quantity string) CreateOrderService
	Price(price string) CreateOrderService
	StopPrice(price string) CreateOrderService
	TimeInForce(tif binance.TimeInForceType) CreateOrderService
	Do(ctx context.Context) (*binance.CreateOrderResponse, error)
}

// GetAccountService interface for getting account info.
type GetAccountService interface {
	Do(ctx context.Context) (*binance.Account, error)
}

// GetOrderService interface for querying a single order.
type GetOrderService interface {
	Symbol(symbol string) GetOrderService
	OrderID(orderID int64) GetOrderService
	Do(ctx context.Context) (*binance.Order, error)
}

// ListOpenOrdersService interface for listing open orders.
type ListOpenOrdersService interface {
	Symbol(symbol string) ListOpenOrdersService
	Do(ctx context.Context) ([]*binance.Order, error)
}

// CancelOrderService interface for canceling orders.
type CancelOrderService interface {
	Symbol(symbol string) CancelOrderService
	OrderID(orderID int64) CancelOrderService
	Do(ctx context.Context) (*binance.CancelOrderResponse, error)
}

// ListPricesService interface for fetching ticker prices.
type ListPricesService interface {
	Symbol(symbol string) ListPricesService
	Do(ctx context.Context) ([]*binance.SymbolPrice, error)
}

// BinanceClient abstracts the Binance client for testing.
type BinanceClient interface {
	NewCreateOrderService() CreateOrderService
	NewGetAccountService() GetAccountService
	NewGetOrderService() GetOrderService
	NewListOpenOrdersService() ListOpenOrdersService
	NewCancelOrderService() CancelOrderService
	NewListPricesService() ListPricesService
}

// realBinanceClient wraps the actual binance.Client.
type realBinanceClient struct {
	client *binance.Client
}

func (r *realBinanceClient) NewCreateOrderService() CreateOrderService {
	return &realCreateOrderService{service: r.client.NewCreateOrderService()}
}

func (r *realBinanceClient) NewGetAccountService() GetAccountService {
	return &realGetAccountService{service: r.client.NewGetAccountService()}
}

func (r *realBinanceClient) NewGetOrderService() GetOrderService {
	return &realGetOrderService{service: r.client.NewGetOrderService()}
}

func (r *realBinanceClient) NewListOpenOrdersService() ListOpenOrdersService {
	return &realListOpenOrdersService{service: r.client.NewListOpenOrdersService()}
}

func (r *realBinanceClient) NewCancelOrderService() CancelOrderService {
	return &realCancelOrderService{service: r.client.NewCancelOrderService()}
}

func (r *realBinanceClient) NewListPricesService() ListPricesService {
	return &realListPricesService{service: r.client.NewListPricesService()}
}

// Real service wrappers

type realCreateOrderService struct {
	service *binance.CreateOrderService
}

func (s *realCreateOrderService) Symbol(symbol string) CreateOrderService {
	s.service = s.service.Symbol(symbol)

	return s
}

func (s *realCreateOrderService) Side(side binance.SideType) CreateOrderService {
	s.service = s.service.Side(side)

	return s
}

func (s *realCreateOrderService) Type(orderType binance.OrderType) CreateOrderService {
	s.service = s.service.Type(orderType)

	return s
}

func (s *realCreateOrderService) Quantity(quantity string) CreateOrderService {
	s.service = s.service.Quantity(quantity)

	return s
}

func (s *realCreateOrderService) Price(price string) CreateOrderService {
	s.service = s.service.Price(price)

	return s
}

func (s *realCreateOrderService) StopPrice(price string) CreateOrderService {
	s.service = s.service.StopPrice(price)

	return s
}

func (s *realCreateOrderService) TimeInForce(tif binance.TimeInForceType) CreateOrderService {
	s.service = s.service.TimeInForce(tif)

	return s
}

func (s *realCreateOrderService) Do(ctx context.Context) (*binance.CreateOrderResponse, error) {
	return s.service.Do(ctx)
}

type realGetAccountService struct {
	service *binance.GetAccountService
}

func (s *realGetAccountService) Do(ctx context.Context) (*binance.Account, error) {
	return s.service.Do(ctx)
}

type realGetOrderService struct {
	service *binance.GetOrderService
}

func (s *realGetOrderService) Symbol(symbol string) GetOrderService {
	s.service = s.service.Symbol(symbol)

	return s
}

func (s *realGetOrderService) OrderID(orderID int64) GetOrderService {
	s.service = s.service.OrderID(orderID)

	return s
}

func (s *realGetOrderService) Do(ctx context.Context) (*binance.Order, error) {
	return s.service.Do(ctx)
}

type realListOpenOrdersService struct {
	service *binance.ListOpenOrdersService
}

func (s *realListOpenOrdersService) Symbol(symbol string) ListOpenOrdersService {
	s.service = s.service.Symbol(symbol)

	return s
}

func (s *realListOpenOrdersService) Do(ctx context.Context) ([]*binance.Order, error) {
	return s.service.Do(ctx)
}

type realCancelOrderService struct {
	service *binance.CancelOrderService
}

func (s *realCancelOrderService) Symbol(symbol string) CancelOrderService {
	s.service = s.service.Symbol(symbol)

	return s
}

func (s *realCancelOrderService) OrderID(orderID int64) CancelOrderService {
	s.service = s.service.OrderID(orderID)

	return s
}

func (s *realCancelOrderService) Do(ctx context.Context) (*binance.CancelOrderResponse, error) {
	return s.service.Do(ctx)
}

type realListPricesService struct {
	service *binance.ListPricesService
}

func (s *realListPricesService) Symbol(symbol string) ListPricesService {
	s.service = s.service.Symbol(symbol)

	return s
}

func (s *realListPricesService) Do(ctx context.Context) ([]*binance.SymbolPrice, error) {
	return s.service.Do(ctx)
}

// BinanceExchange implements Exchange against the Binance spot API. It is
// stateless: all data is fetched directly from the API.
type BinanceExchange struct {
	client           BinanceClient
	symbol           string
	baseAsset        string
	quoteAsset       string
	minOrderNotional float64
	decimalPrecision int
}

// NewBinanceExchange creates a live exchange adapter for one symbol.
// If cfg.Testnet is true, connects to the Binance testnet. If cfg.BaseURL is
// set, it takes precedence over Testnet.
func NewBinanceExchange(cfg types.ExchangeConfig, symbol, baseAsset, quoteAsset string, minOrderNotional float64) (*BinanceExchange, error) {
	if cfg.Testnet {
		binance.UseTestnet = true
	}

	client := binance.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.BaseURL != "" {
		client.BaseURL = cfg.BaseURL
	}

	return &BinanceExchange{
		client:           &realBinanceClient{client: client},
		symbol:           symbol,
		baseAsset:        baseAsset,
		quoteAsset:       quoteAsset,
		minOrderNotional: minOrderNotional,
		decimalPrecision: binanceDecimalPrecision,
	}, nil
}

// newBinanceExchangeWithClient creates an adapter with a custom client.
// Used for testing with mock clients.
func newBinanceExchangeWithClient(client BinanceClient, symbol, baseAsset, quoteAsset string, minOrderNotional float64) *BinanceExchange {
	return &BinanceExchange{
		client:           client,
		symbol:           symbol,
		baseAsset:        baseAsset,
		quoteAsset:       quoteAsset,
		minOrderNotional: minOrderNotional,
		decimalPrecision: binanceDecimalPrecision,
	}
}

// FetchBalance implements Exchange.
func (b *BinanceExchange) FetchBalance(ctx context.Context) (types.Balance, error) {
	account, err := b.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return types.Balance{}, errors.Wrap(errors.ErrCodeBalanceFetchFailed, "failed to get account info from Binance", err)
	}

	var balance types.Balance

	for _, asset := range account.Balances {
		free, _ := strconv.ParseFloat(asset.Free, 64)

		switch asset.Asset {
		case b.quoteAsset:
			balance.Quote = free
		case b.baseAsset:
			balance.Base = free
		}
	}

	return balance, nil
}

// FetchTicker implements Exchange.
func (b *BinanceExchange) FetchTicker(ctx context.Context) (types.Ticker, error) {
	prices, err := b.client.NewListPricesService().Symbol(b.symbol).Do(ctx)
	if err != nil {
		return types.Ticker{}, errors.Wrap(errors.ErrCodeTickerFetchFailed, "failed to fetch ticker from Binance", err)
	}

	if len(prices) == 0 {
		return types.Ticker{}, errors.Newf(errors.ErrCodeTickerFetchFailed, "no ticker returned for %s", b.symbol)
	}

	price, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil {
		return types.Ticker{}, errors.Wrap(errors.ErrCodeMarketDataParseFailed, "failed to parse ticker price", err)
	}

	return types.Ticker{
		Symbol: b.symbol,
		Price:  price,
		Time:   time.Now(),
	}, nil
}

// CreateMarketOrder implements Exchange.
func (b *BinanceExchange) CreateMarketOrder(ctx context.Context, side types.OrderSide, amount float64) (types.Order, error) {
	binanceSide, err := mapOrderSide(side)
	if err != nil {
		return types.Order{}, err
	}

	amount = roundToPrecision(amount, b.decimalPrecision)
	if amount <= 0 {
		return types.Order{}, errors.Newf(errors.ErrCodeInvalidOrder,
			"order amount is zero after rounding to %d decimal places", b.decimalPrecision)
	}

	resp, err := b.client.NewCreateOrderService().
		Symbol(b.symbol).
		Side(binanceSide).
		Type(binance.OrderTypeMarket).
		Quantity(strconv.FormatFloat(amount, 'f', b.decimalPrecision, 64)).
		Do(ctx)
	if err != nil {
		return types.Order{}, errors.Wrap(errors.ErrCodeOrderFailed, "failed to place market order on Binance", err)
	}

	return convertCreateOrderResponse(resp, side, amount), nil
}

// PlaceProtectiveStop implements Exchange. The stop is submitted as a
// STOP_LOSS_LIMIT sell with the limit price slightly below the trigger.
func (b *BinanceExchange) PlaceProtectiveStop(ctx context.Context, amount, stopPrice float64) (types.Order, error) {
	amount = roundToPrecision(amount, b.decimalPrecision)
	if amount <= 0 || stopPrice <= 0 {
		return types.Order{}, errors.New(errors.ErrCodeInvalidOrder, "protective stop requires positive amount and stop price")
	}

	limitPrice := stopPrice * (1 - stopLimitOffset)

	resp, err := b.client.NewCreateOrderService().
		Symbol(b.symbol).
		Side(binance.SideTypeSell).
		Type(binance.OrderTypeStopLossLimit).
		Quantity(strconv.FormatFloat(amount, 'f', b.decimalPrecision, 64)).
		Price(strconv.FormatFloat(limitPrice, 'f', -1, 64)).
		StopPrice(strconv.FormatFloat(stopPrice, 'f', -1, 64)).
		TimeInForce(binance.TimeInForceTypeGTC).
		Do(ctx)
	if err != nil {
		return types.Order{}, errors.Wrap(errors.ErrCodeStopOrderUnsupported, "failed to place protective stop on Binance", err)
	}

	order := convertCreateOrderResponse(resp, types.OrderSideSell, amount)
	order.Kind = types.OrderKindStop
	order.StopPrice = stopPrice
	order.Status = types.OrderStatusOpen
	order.Reason = types.OrderReasonStopLoss

	return order, nil
}

// CancelOrder implements Exchange.
func (b *BinanceExchange) CancelOrder(ctx context.Context, orderID string) error {
	binanceOrderID, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInvalidParameter, "invalid order ID format", err)
	}

	_, err = b.client.NewCancelOrderService().
		Symbol(b.symbol).
		OrderID(binanceOrderID).
		Do(ctx)
	if err != nil {
		return errors.Wrap(errors.ErrCodeOrderCancelFailed, "failed to cancel order on Binance", err)
	}

	return nil
}

// FetchOpenOrders implements Exchange.
func (b *BinanceExchange) FetchOpenOrders(ctx context.Context) ([]types.Order, error) {
	binanceOrders, err := b.client.NewListOpenOrdersService().Symbol(b.symbol).Do(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeExchangeUnavailable, "failed to list open orders on Binance", err)
	}

	orders := make([]types.Order, 0, len(binanceOrders))
	for _, bo := range binanceOrders {
		orders = append(orders, convertBinanceOrder(bo))
	}

	return orders, nil
}

// FetchOrder implements Exchange.
func (b *BinanceExchange) FetchOrder(ctx context.Context, orderID string) (types.Order, error) {
	binanceOrderID, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return types.Order{}, errors.Wrap(errors.ErrCodeInvalidParameter, "invalid order ID format", err)
	}

	bo, err := b.client.NewGetOrderService().
		Symbol(b.symbol).
		OrderID(binanceOrderID).
		Do(ctx)
	if err != nil {
		return types.Order{}, errors.Wrap(errors.ErrCodeOrderNotFound, "failed to fetch order from Binance", err)
	}

	return convertBinanceOrder(bo), nil
}

// MinOrderNotional implements Exchange.
func (b *BinanceExchange) MinOrderNotional() float64 {
	return b.minOrderNotional
}

// Helper functions

func mapOrderSide(side types.OrderSide) (binance.SideType, error) {
	switch side {
	case types.OrderSideBuy:
		return binance.SideTypeBuy, nil
	case types.OrderSideSell:
		return binance.SideTypeSell, nil
	default:
		return "", errors.Newf(errors.ErrCodeInvalidParameter, "unsupported order side: %s", side)
	}
}

func mapBinanceOrderStatus(status binance.OrderStatusType) types.OrderStatus {
	switch status {
	case binance.OrderStatusTypeFilled:
		return types.OrderStatusClosed
	case binance.OrderStatusTypeCanceled, binance.OrderStatusTypeRejected, binance.OrderStatusTypeExpired:
		return types.OrderStatusCancelled
	default:
		return types.OrderStatusOpen
	}
}

// convertCreateOrderResponse maps an immediate order response. The average
// fill price is volume-weighted over the reported fills.
func convertCreateOrderResponse(resp *binance.CreateOrderResponse, side types.OrderSide, requested float64) types.Order {
	executedQty, _ := strconv.ParseFloat(resp.ExecutedQuantity, 64)

	var notional, qty float64

	for _, fill := range resp.Fills {
		fillPrice, _ := strconv.ParseFloat(fill.Price, 64)
		fillQty, _ := strconv.ParseFloat(fill.Quantity, 64)
		notional += fillPrice * fillQty
		qty += fillQty
	}

	var avgPrice float64
	if qty > 0 {
		avgPrice = notional / qty
	}

	return types.Order{
		ID:           strconv.FormatInt(resp.OrderID, 10),
		Symbol:       resp.Symbol,
		Side:         side,
		Kind:         types.OrderKindMarket,
		Status:       mapBinanceOrderStatus(resp.Status),
		Amount:       requested,
		Price:        avgPrice,
		FilledAmount: executedQty,
		AvgFillPrice: avgPrice,
		StopPrice:    0,
		Reason:       types.OrderReasonStrategy,
		Timestamp:    time.UnixMilli(resp.TransactTime),
	}
}

func convertBinanceOrder(bo *binance.Order) types.Order {
	amount, _ := strconv.ParseFloat(bo.OrigQuantity, 64)
	price, _ := strconv.ParseFloat(bo.Price, 64)
	executedQty, _ := strconv.ParseFloat(bo.ExecutedQuantity, 64)
	stopPrice, _ := strconv.ParseFloat(bo.StopPrice, 64)
	cummulativeQuote, _ := strconv.ParseFloat(bo.CummulativeQuoteQuantity, 64)

	var side types.OrderSide
	if bo.Side == binance.SideTypeBuy {
		side = types.OrderSideBuy
	} else {
		side = types.OrderSideSell
	}

	kind := types.OrderKindMarket
	if bo.Type == binance.OrderTypeStopLossLimit || bo.Type == binance.OrderTypeStopLoss {
		kind = types.OrderKindStop
	}

	var avgPrice float64
	if executedQty > 0 {
		avgPrice = cummulativeQuote / executedQty
	}

	return types.Order{
		ID:           strconv.FormatInt(bo.OrderID, 10),
		Symbol:       bo.Symbol,
		Side:         side,
		Kind:         kind,
		Status:       mapBinanceOrderStatus(bo.Status),
		Amount:       amount,
		Price:        price,
		FilledAmount: executedQty,
		AvgFillPrice: avgPrice,
		StopPrice:    stopPrice,
		Reason:       types.OrderReasonStrategy,
		Timestamp:    time.UnixMilli(bo.Time),
	}
}

// roundToPrecision truncates a quantity to the given number of decimals.
func roundToPrecision(value float64, precision int) float64 {
	factor := 1.0
	for i := 0; i < precision; i++ {
		factor *= 10
	}

	return float64(int64(value*factor)) / factor
}

// Ensure BinanceExchange implements Exchange.
var _ Exchange = (*BinanceExchange)(nil)
