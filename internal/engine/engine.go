// Package engine drives the trade lifecycle for one symbol: it turns
// strategy signals into verified exchange orders, keeps the ledger, budget
// and risk controller consistent with every fill, and reconciles exchange
// state at startup.
package engine

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/moznion/go-optional"
	"go.uber.org/zap"

	"github.com/cordelia-labs/tradewind/internal/exchange"
	"github.com/cordelia-labs/tradewind/internal/ledger"
	"github.com/cordelia-labs/tradewind/internal/logger"
	"github.com/cordelia-labs/tradewind/internal/risk"
	"github.com/cordelia-labs/tradewind/internal/strategy"
	"github.com/cordelia-labs/tradewind/internal/types"
	"github.com/cordelia-labs/tradewind/pkg/errors"
)

// PriceFeed supplies the engine with the current price and recent candle
// history. The live implementation streams from the exchange; tests inject a
// fixed feed.
type PriceFeed interface {
	// Current returns the latest observed price.
	Current(ctx context.Context) (types.Ticker, error)
	// History returns up to limit most recent closed candles, oldest first.
	History(limit int) []types.MarketData
}

// Journal receives the engine's order and trade records. May be nil.
type Journal interface {
	AppendOrder(order types.Order) error
	UpdateOrder(order types.Order) error
	AppendTrade(t types.TradeRecord) error
}

// Deps bundles the collaborators an engine is constructed with.
type Deps struct {
	Exchange exchange.Exchange
	Feed     PriceFeed
	Strategy strategy.Strategy
	// Journal is optional; a nil journal disables persistence.
	Journal Journal
	Logger  *logger.Logger
}

// Engine is one trading instance: one symbol, one strategy, one budget. All
// trading decisions happen inside the tick loop, one tick at a time; a tick
// that runs long simply delays the next one.
type Engine struct {
	cfg   types.EngineConfig
	log   *logger.Logger
	exch  exchange.Exchange
	feed  PriceFeed
	strat strategy.Strategy
	jrnl  Journal

	book   *ledger.Ledger
	risk   *risk.Controller
	budget *Budget

	minNotional float64

	lastVerify time.Time

	mu       sync.Mutex
	running  bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates an engine instance from a validated config.
func New(cfg types.EngineConfig, deps Deps) (*Engine, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if deps.Exchange == nil || deps.Feed == nil || deps.Strategy == nil || deps.Logger == nil {
		return nil, errors.New(errors.ErrCodeInvalidParameter,
			"engine requires an exchange, a price feed, a strategy and a logger")
	}

	e := &Engine{
		cfg:         cfg,
		log:         deps.Logger.Named("engine").With(zap.String("instance", cfg.Name)),
		exch:        deps.Exchange,
		feed:        deps.Feed,
		strat:       deps.Strategy,
		jrnl:        deps.Journal,
		book:        ledger.New(),
		budget:      NewBudget(cfg.AllocatedBudget),
		minNotional: math.Max(cfg.MinOrderNotional, deps.Exchange.MinOrderNotional()),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}

	e.risk = risk.NewController(cfg, deps.Exchange, deps.Logger)
	e.risk.SetLiquidateFunc(e.forceExit)

	return e, nil
}

// Start establishes the risk baseline and reconciles exchange state. Must be
// called once before Run.
func (e *Engine) Start(ctx context.Context) error {
	ticker, err := e.exch.FetchTicker(ctx)
	if err != nil {
		return errors.Wrap(errors.ErrCodeTickerFetchFailed,
			"cannot start without an initial price", err)
	}

	if err := e.risk.Start(ctx, ticker.Price); err != nil {
		return err
	}

	if e.risk.Mode() == types.RiskModeExclusive {
		if err := e.Reconcile(ctx); err != nil {
			return err
		}
	}

	e.lastVerify = time.Now()

	e.log.Info("engine started",
		zap.String("symbol", e.cfg.Symbol),
		zap.String("strategy", e.strat.Name()),
		zap.String("mode", string(e.risk.Mode())),
		zap.Float64("budget", e.budget.Available()))

	return nil
}

// Run processes ticks until the context is cancelled, Stop is called, or the
// risk controller emergency-stops. The first tick runs immediately.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	e.running = true
	e.mu.Unlock()

	defer close(e.doneCh)

	if err := e.tick(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(e.cfg.TickInterval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.stopCh:
			return nil
		case <-ticker.C:
			if err := e.tick(ctx); err != nil {
				return err
			}
		}
	}
}

// Stop halts the tick loop, then flattens the position and cancels resident
// orders within the shutdown timeout.
func (e *Engine) Stop() error {
	e.mu.Lock()
	running := e.running
	e.mu.Unlock()

	e.stopOnce.Do(func() { close(e.stopCh) })

	if running {
		<-e.doneCh
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.ShutdownTimeout.Std())
	defer cancel()

	e.log.Info("shutting down, flattening position")

	if err := e.forceExit(ctx, types.CloseReasonShutdown); err != nil {
		e.log.Error("failed to flatten position on shutdown", zap.Error(err))

		return err
	}

	return nil
}

// tick runs one full decision cycle. Returns a non-nil error only when the
// engine must halt; transient failures are logged and skipped.
func (e *Engine) tick(ctx context.Context) error {
	ticker, err := e.feed.Current(ctx)
	if err != nil {
		e.log.Warn("no price this tick, skipping", zap.Error(err))

		return nil
	}

	e.book.MarkToMarket(ticker.Price)

	// No order leaves this tick unless the drawdown gate ran and passed.
	total, err := e.totalValue(ctx, ticker.Price)
	if err != nil {
		e.log.Warn("cannot compute total value, holding this tick", zap.Error(err))

		return nil
	}

	if err := e.risk.CheckDrawdown(ctx, total); err != nil {
		if errors.HasCode(err, errors.ErrCodeEmergencyStopped) {
			e.log.Error("risk controller halted the engine", zap.Error(err))

			return err
		}

		e.log.Warn("drawdown check failed, holding this tick", zap.Error(err))

		return nil
	}

	signal := e.strat.Analyze(e.feed.History(e.cfg.HistoryBars), ticker.Price)

	switch {
	case signal.Action == types.SignalActionBuy:
		e.handleBuy(ctx, signal, ticker.Price)
	case signal.IsExit():
		e.handleExit(ctx, types.CloseReasonStrategy, ticker.Price)
	}

	e.checkBackstop(ctx, ticker.Price)

	if time.Since(e.lastVerify) >= e.cfg.BalanceVerifyInterval.Std() {
		e.lastVerify = time.Now()

		if err := e.risk.VerifyBalance(ctx); err != nil {
			e.log.Warn("balance verification reported divergence", zap.Error(err))
		}
	}

	return nil
}

// checkBackstop enforces stop loss and take profit locally even when an
// exchange-resident stop exists. Returns true when it exited the position
// this tick.
func (e *Engine) checkBackstop(ctx context.Context, price float64) bool {
	pos, ok := e.book.Position()
	if !ok {
		return false
	}

	if stop, err := pos.StopLoss.Take(); err == nil && price <= stop {
		e.log.Info("local stop loss triggered",
			zap.Float64("price", price), zap.Float64("stop", stop))
		e.handleExit(ctx, types.CloseReasonStopLoss, price)

		return true
	}

	if target, err := pos.TakeProfit.Take(); err == nil && price >= target {
		e.log.Info("local take profit triggered",
			zap.Float64("price", price), zap.Float64("target", target))
		e.handleExit(ctx, types.CloseReasonTakeProfit, price)

		return true
	}

	return false
}

// handleBuy opens a position from a buy signal. A buy while a position is
// open is a no-op, so repeated signals can never stack exposure.
func (e *Engine) handleBuy(ctx context.Context, signal types.Signal, price float64) {
	if _, open := e.book.Position(); open {
		e.log.Debug("buy signal ignored, position already open")

		return
	}

	notional := e.budget.Available() * e.cfg.PositionFraction
	if notional < e.minNotional {
		e.log.Info("buy skipped, sized order below exchange minimum",
			zap.Float64("notional", notional),
			zap.Float64("min_notional", e.minNotional))

		return
	}

	amount := notional / price

	order, err := e.exch.CreateMarketOrder(ctx, types.OrderSideBuy, amount)
	if err != nil {
		e.log.Error("entry order failed", zap.Error(err))

		return
	}

	e.journalOrder(order)

	order, err = e.verifyFill(ctx, order)
	if err != nil {
		// Abort without touching budget or ledger; an unverified entry
		// must never become a phantom position.
		e.abandonOrder(ctx, order)
		e.log.Error("entry fill not verified, aborting entry", zap.Error(err))

		return
	}

	fillNotional := order.AvgFillPrice * order.FilledAmount
	fee := fillNotional * e.cfg.FeeRate

	if err := e.budget.Debit(fillNotional + fee); err != nil {
		e.log.Error("budget debit failed after verified fill", zap.Error(err))
	}

	e.risk.AdjustExpected(-(fillNotional + fee))
	e.observeSlippage(price, order.AvgFillPrice)

	protectiveID, unprotected := e.placeProtection(ctx, order.FilledAmount, signal.StopLoss)

	if _, err := e.book.Open(ledger.OpenParams{
		Symbol:            e.cfg.Symbol,
		Amount:            order.FilledAmount,
		FillPrice:         order.AvgFillPrice,
		ExpectedPrice:     price,
		Fee:               fee,
		StopLoss:          signal.StopLoss,
		TakeProfit:        signal.TakeProfit,
		ProtectiveOrderID: protectiveID,
		Unprotected:       unprotected,
		OpenedAt:          order.Timestamp,
	}); err != nil {
		e.log.Error("failed to record position", zap.Error(err))

		return
	}

	e.journalUpdate(order)

	e.log.Info("position opened",
		zap.Float64("amount", order.FilledAmount),
		zap.Float64("fill_price", order.AvgFillPrice),
		zap.Bool("unprotected", unprotected),
		zap.String("reason", signal.Reason))
}

// placeProtection submits the exchange-resident stop. Failure is non-fatal:
// the position stays open, flagged unprotected, and the local backstop
// remains the only guard.
func (e *Engine) placeProtection(ctx context.Context, amount float64, stopLoss optional.Option[float64]) (optional.Option[string], bool) {
	stopPrice, err := stopLoss.Take()
	if err != nil {
		return optional.None[string](), false
	}

	stopOrder, err := e.exch.PlaceProtectiveStop(ctx, amount, stopPrice)
	if err != nil {
		e.log.Warn("protective stop placement failed, position is unprotected",
			zap.Float64("stop_price", stopPrice), zap.Error(err))

		return optional.None[string](), true
	}

	e.journalOrder(stopOrder)

	return optional.Some(stopOrder.ID), false
}

// handleExit flattens the open position. The protective stop is cancelled
// first so the exchange cannot double-sell.
func (e *Engine) handleExit(ctx context.Context, reason types.CloseReason, price float64) {
	pos, ok := e.book.Position()
	if !ok {
		return
	}

	if id, err := pos.ProtectiveOrderID.Take(); err == nil {
		if err := e.exch.CancelOrder(ctx, id); err != nil {
			e.log.Warn("failed to cancel protective stop before exit",
				zap.String("order_id", id), zap.Error(err))
		}
	}

	order, err := e.exch.CreateMarketOrder(ctx, types.OrderSideSell, pos.Amount)
	if err != nil {
		e.log.Error("exit order failed, position remains open", zap.Error(err))

		return
	}

	e.journalOrder(order)

	order, err = e.verifyFill(ctx, order)
	if err != nil {
		e.abandonOrder(ctx, order)
		e.log.Error("exit fill not verified, position remains open", zap.Error(err))

		return
	}

	fillNotional := order.AvgFillPrice * order.FilledAmount
	fee := fillNotional * e.cfg.FeeRate

	e.budget.Credit(fillNotional - fee)
	e.risk.AdjustExpected(fillNotional - fee)
	e.observeSlippage(price, order.AvgFillPrice)

	record, err := e.book.Close(ledger.CloseParams{
		FillPrice:     order.AvgFillPrice,
		ExpectedPrice: price,
		Fee:           fee,
		Reason:        reason,
		ClosedAt:      order.Timestamp,
	})
	if err != nil {
		e.log.Error("failed to record trade", zap.Error(err))

		return
	}

	e.journalUpdate(order)
	e.journalTrade(record)

	e.log.Info("position closed",
		zap.Float64("net_pnl", record.NetPnL),
		zap.Float64("fill_price", order.AvgFillPrice),
		zap.String("reason", string(reason)))
}

// forceExit is the liquidation hook handed to the risk controller and used
// by Stop. Closing when flat is a no-op.
func (e *Engine) forceExit(ctx context.Context, reason types.CloseReason) error {
	pos, ok := e.book.Position()
	if !ok {
		return nil
	}

	price := pos.CurrentPrice
	if ticker, err := e.exch.FetchTicker(ctx); err == nil {
		price = ticker.Price
	}

	e.handleExit(ctx, reason, price)

	if _, stillOpen := e.book.Position(); stillOpen {
		return errors.New(errors.ErrCodeLiquidationFailed, "position still open after forced exit")
	}

	return nil
}

// verifyFill confirms an order executed. Orders that come back unfilled get
// exactly one delayed poll; anything still unfilled after that is treated as
// failed.
func (e *Engine) verifyFill(ctx context.Context, order types.Order) (types.Order, error) {
	if order.IsFilled() {
		return order, nil
	}

	select {
	case <-ctx.Done():
		return order, ctx.Err()
	case <-time.After(e.cfg.FillPollDelay.Std()):
	}

	polled, err := e.exch.FetchOrder(ctx, order.ID)
	if err != nil {
		return order, errors.Wrap(errors.ErrCodeOrderUnfilled, "fill poll failed", err)
	}

	if !polled.IsFilled() {
		return polled, errors.Newf(errors.ErrCodeOrderUnfilled,
			"order %s not filled after poll, status %s", polled.ID, polled.Status)
	}

	return polled, nil
}

// abandonOrder best-effort cancels an unverified order so it cannot fill
// later and create untracked exposure.
func (e *Engine) abandonOrder(ctx context.Context, order types.Order) {
	if order.ID == "" || order.Status != types.OrderStatusOpen {
		return
	}

	if err := e.exch.CancelOrder(ctx, order.ID); err != nil {
		e.log.Warn("failed to cancel unverified order",
			zap.String("order_id", order.ID), zap.Error(err))
	}

	order.Status = types.OrderStatusCancelled
	e.journalUpdate(order)
}

// observeSlippage records one fill deviation and warns when it crosses the
// configured threshold.
func (e *Engine) observeSlippage(expected, actual float64) {
	if expected == 0 {
		return
	}

	slip := math.Abs(actual-expected) / expected
	e.book.RecordSlippage(slip)

	if slip >= e.cfg.SlippageWarnThreshold {
		e.log.Warn("fill slippage above threshold",
			zap.Float64("expected", expected),
			zap.Float64("actual", actual),
			zap.Float64("slippage", slip))
	}
}

// totalValue computes the value the risk controller judges. Isolated mode
// only sees this instance's budget plus its position; exclusive mode sees
// the whole account.
func (e *Engine) totalValue(ctx context.Context, price float64) (float64, error) {
	if e.risk.Mode() == types.RiskModeIsolated {
		total := e.budget.Available()
		if pos, ok := e.book.Position(); ok {
			total += pos.Value(price)
		}

		return total, nil
	}

	balance, err := e.exch.FetchBalance(ctx)
	if err != nil {
		return 0, err
	}

	return balance.Quote + balance.Base*price, nil
}

// Reconcile rebuilds in-memory state from exchange truth at startup. A held
// base balance becomes a recovered position priced at the current market,
// since the true entry is unknowable; a resident stop matching its size
// supplies the recovered stop price. Resident orders that match no recovered
// position are orphans from a prior session and are cancelled. Only valid in
// exclusive mode, where this instance owns the account.
func (e *Engine) Reconcile(ctx context.Context) error {
	if e.risk.Mode() != types.RiskModeExclusive {
		return nil
	}

	if _, open := e.book.Position(); open {
		return nil
	}

	orders, err := e.exch.FetchOpenOrders(ctx)
	if err != nil {
		return errors.Wrap(errors.ErrCodeReconcileFailed, "failed to list resident orders", err)
	}

	balance, err := e.exch.FetchBalance(ctx)
	if err != nil {
		return errors.Wrap(errors.ErrCodeReconcileFailed, "failed to fetch balance", err)
	}

	ticker, err := e.exch.FetchTicker(ctx)
	if err != nil {
		return errors.Wrap(errors.ErrCodeReconcileFailed, "failed to fetch price", err)
	}

	var recoveredStopID string

	if balance.Base*ticker.Price >= e.minNotional {
		recoveredStopID, err = e.recoverPosition(orders, balance.Base, ticker)
		if err != nil {
			return err
		}
	}

	for _, order := range orders {
		if order.ID == recoveredStopID {
			continue
		}

		if err := e.exch.CancelOrder(ctx, order.ID); err != nil {
			return errors.Wrapf(errors.ErrCodeReconcileFailed, err,
				"failed to cancel orphan order %s", order.ID)
		}

		e.log.Info("cancelled orphan order",
			zap.String("order_id", order.ID),
			zap.String("kind", string(order.Kind)))
	}

	return nil
}

// recoverPosition synthesizes a ledger position for a base holding found at
// startup. Returns the id of the resident stop adopted as its protection, or
// the empty string when the holding runs unprotected.
func (e *Engine) recoverPosition(orders []types.Order, amount float64, ticker types.Ticker) (string, error) {
	stopLoss := optional.None[float64]()
	protectiveID := optional.None[string]()

	stop, matched := matchProtectiveStop(orders, amount)
	if matched {
		stopLoss = optional.Some(stop.StopPrice)
		protectiveID = optional.Some(stop.ID)
	}

	if _, err := e.book.Open(ledger.OpenParams{
		Symbol:            e.cfg.Symbol,
		Amount:            amount,
		FillPrice:         ticker.Price,
		ExpectedPrice:     ticker.Price,
		StopLoss:          stopLoss,
		ProtectiveOrderID: protectiveID,
		Unprotected:       !matched,
		OpenedAt:          ticker.Time,
	}); err != nil {
		return "", errors.Wrap(errors.ErrCodeReconcileFailed, "failed to record recovered position", err)
	}

	if matched {
		e.log.Info("recovered held position with its resident stop",
			zap.Float64("amount", amount),
			zap.Float64("entry_price", ticker.Price),
			zap.Float64("stop_price", stop.StopPrice),
			zap.String("stop_order_id", stop.ID))

		return stop.ID, nil
	}

	e.log.Error("recovered held position has no matching protective stop, running unprotected",
		zap.Float64("amount", amount),
		zap.Float64("entry_price", ticker.Price))

	return "", nil
}

// matchProtectiveStop finds a resident sell stop sized to the held amount,
// within a 1% tolerance for fee dust.
func matchProtectiveStop(orders []types.Order, amount float64) (types.Order, bool) {
	for _, order := range orders {
		if order.Kind != types.OrderKindStop || order.Side != types.OrderSideSell {
			continue
		}

		if math.Abs(order.Amount-amount) <= amount*0.01 {
			return order, true
		}
	}

	return types.Order{}, false
}

// Status surfaces for the manager and operators.

// Name returns the configured instance name.
func (e *Engine) Name() string {
	return e.cfg.Name
}

// Position returns a copy of the open position, if any.
func (e *Engine) Position() (types.Position, bool) {
	return e.book.Position()
}

// Statistics returns the aggregate over closed trades.
func (e *Engine) Statistics() types.Statistics {
	return e.book.Statistics()
}

// SlippageStats returns the rolling fill-quality window.
func (e *Engine) SlippageStats() types.SlippageStats {
	return e.book.SlippageStats()
}

// RiskState returns the risk controller's lifecycle state.
func (e *Engine) RiskState() types.RiskState {
	return e.risk.State()
}

// BudgetAvailable returns the spendable quote amount.
func (e *Engine) BudgetAvailable() float64 {
	return e.budget.Available()
}

func (e *Engine) journalOrder(order types.Order) {
	if e.jrnl == nil {
		return
	}

	if err := e.jrnl.AppendOrder(order); err != nil {
		e.log.Warn("journal order write failed", zap.Error(err))
	}
}

func (e *Engine) journalUpdate(order types.Order) {
	if e.jrnl == nil {
		return
	}

	if err := e.jrnl.UpdateOrder(order); err != nil {
		e.log.Warn("journal order update failed", zap.Error(err))
	}
}

func (e *Engine) journalTrade(record types.TradeRecord) {
	if e.jrnl == nil {
		return
	}

	if err := e.jrnl.AppendTrade(record); err != nil {
		e.log.Warn("journal trade write failed", zap.Error(err))
	}
}
