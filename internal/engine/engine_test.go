package engine

import (
	"context"
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/suite"

	"github.com/cordelia-labs/tradewind/internal/exchange"
	"github.com/cordelia-labs/tradewind/internal/logger"
	"github.com/cordelia-labs/tradewind/internal/types"
	"github.com/cordelia-labs/tradewind/pkg/errors"
)

// stubFeed hands the engine a scripted price.
type stubFeed struct {
	price   float64
	history []types.MarketData
	err     error
}

func (f *stubFeed) Current(_ context.Context) (types.Ticker, error) {
	if f.err != nil {
		return types.Ticker{}, f.err
	}

	return types.Ticker{Symbol: "BTCUSDT", Price: f.price, Time: time.Now()}, nil
}

func (f *stubFeed) History(_ int) []types.MarketData {
	return f.history
}

// scriptedStrategy replays a queue of signals, then holds.
type scriptedStrategy struct {
	signals []types.Signal
}

func (s *scriptedStrategy) Name() string { return "scripted" }

func (s *scriptedStrategy) Analyze(_ []types.MarketData, price float64) types.Signal {
	if len(s.signals) == 0 {
		return types.Hold(time.Now(), price, "script exhausted")
	}

	next := s.signals[0]
	s.signals = s.signals[1:]

	return next
}

func buySignal(price float64) types.Signal {
	return types.Signal{
		Action:     types.SignalActionBuy,
		Price:      price,
		StopLoss:   optional.Some(price * 0.98),
		TakeProfit: optional.Some(price * 1.04),
		Reason:     "scripted buy",
	}
}

func sellSignal(price float64) types.Signal {
	return types.Signal{
		Action:     types.SignalActionSell,
		Price:      price,
		StopLoss:   optional.None[float64](),
		TakeProfit: optional.None[float64](),
		Reason:     "scripted sell",
	}
}

type EngineTestSuite struct {
	suite.Suite
	ctx context.Context
}

func (s *EngineTestSuite) SetupTest() {
	s.ctx = context.Background()
}

func (s *EngineTestSuite) newEngine(signals []types.Signal, mode types.RiskMode, quote float64) (*Engine, *exchange.SimExchange, *stubFeed) {
	exch := exchange.NewSimExchange(exchange.SimConfig{
		Symbol:           "BTCUSDT",
		InitialQuote:     quote,
		FeeRate:          0,
		MinOrderNotional: 10,
	})
	exch.SetPrice(100, time.Now())

	feed := &stubFeed{price: 100}

	cfg := types.EngineConfig{
		Name:            "test",
		Symbol:          "BTCUSDT",
		BaseAsset:       "BTC",
		QuoteAsset:      "USDT",
		Strategy:        "scripted",
		AllocatedBudget: 1000,
		MaxDrawdown:     0.15,
		FeeRate:         0.001,
		Mode:            mode,
		FillPollDelay:   types.Duration(time.Millisecond),
	}

	eng, err := New(cfg, Deps{
		Exchange: exch,
		Feed:     feed,
		Strategy: &scriptedStrategy{signals: signals},
		Logger:   logger.NewNopLogger(),
	})
	s.Require().NoError(err)

	return eng, exch, feed
}

func (s *EngineTestSuite) TestBuyOpensPosition() {
	eng, exch, _ := s.newEngine([]types.Signal{buySignal(100)}, types.RiskModeIsolated, 10000)
	s.Require().NoError(eng.Start(s.ctx))

	s.Require().NoError(eng.tick(s.ctx))

	pos, ok := eng.Position()
	s.Require().True(ok)
	s.Equal(100.0, pos.EntryPrice)
	s.False(pos.Unprotected)
	s.True(pos.ProtectiveOrderID.IsSome())

	// Budget was debited by cost plus fee.
	cost := pos.Amount * pos.EntryPrice * (1 + 0.001)
	s.InDelta(1000-cost, eng.BudgetAvailable(), 1e-6)

	// The protective stop rests on the simulated book.
	orders, err := exch.FetchOpenOrders(s.ctx)
	s.Require().NoError(err)
	s.Len(orders, 1)
	s.Equal(types.OrderKindStop, orders[0].Kind)
}

func (s *EngineTestSuite) TestDuplicateBuyIsIdempotent() {
	eng, _, _ := s.newEngine([]types.Signal{buySignal(100), buySignal(100)}, types.RiskModeIsolated, 10000)
	s.Require().NoError(eng.Start(s.ctx))

	s.Require().NoError(eng.tick(s.ctx))

	pos1, ok := eng.Position()
	s.Require().True(ok)

	s.Require().NoError(eng.tick(s.ctx))

	pos2, ok := eng.Position()
	s.Require().True(ok)
	s.Equal(pos1.Amount, pos2.Amount)
	s.Equal(pos1.OpenedAt, pos2.OpenedAt)
}

func (s *EngineTestSuite) TestUnverifiedFillAbortsEntry() {
	eng, exch, _ := s.newEngine([]types.Signal{buySignal(100)}, types.RiskModeIsolated, 10000)
	s.Require().NoError(eng.Start(s.ctx))

	exch.PendingFills = 1
	exch.NeverFill = true

	budgetBefore := eng.BudgetAvailable()
	s.Require().NoError(eng.tick(s.ctx))

	_, ok := eng.Position()
	s.False(ok)
	s.Equal(budgetBefore, eng.BudgetAvailable())
}

func (s *EngineTestSuite) TestDelayedFillIsVerifiedByPoll() {
	eng, exch, _ := s.newEngine([]types.Signal{buySignal(100)}, types.RiskModeIsolated, 10000)
	s.Require().NoError(eng.Start(s.ctx))

	// The exchange acknowledges before executing; one delayed poll resolves
	// the fill.
	exch.PendingFills = 1

	s.Require().NoError(eng.tick(s.ctx))

	_, ok := eng.Position()
	s.True(ok)
}

func (s *EngineTestSuite) TestStopPlacementFailureFlagsUnprotected() {
	eng, exch, _ := s.newEngine([]types.Signal{buySignal(100)}, types.RiskModeIsolated, 10000)
	s.Require().NoError(eng.Start(s.ctx))

	exch.StopPlacementErr = errors.New(errors.ErrCodeStopOrderUnsupported, "not supported")

	s.Require().NoError(eng.tick(s.ctx))

	pos, ok := eng.Position()
	s.Require().True(ok)
	s.True(pos.Unprotected)
	s.True(pos.ProtectiveOrderID.IsNone())
}

func (s *EngineTestSuite) TestRoundTripUpdatesBudgetAndLedger() {
	eng, exch, feed := s.newEngine([]types.Signal{buySignal(100), sellSignal(110)}, types.RiskModeIsolated, 10000)
	s.Require().NoError(eng.Start(s.ctx))

	s.Require().NoError(eng.tick(s.ctx))

	// Price rises, strategy exits. Keep it below the take profit so the
	// exit comes from the signal, not the backstop.
	feed.price = 103
	exch.SetPrice(103, time.Now())

	s.Require().NoError(eng.tick(s.ctx))

	_, ok := eng.Position()
	s.False(ok)

	stats := eng.Statistics()
	s.Equal(1, stats.TotalTrades)
	s.Equal(1, stats.WinningTrades)
	s.Positive(stats.TotalNetPnL)

	// The realized profit grew the budget.
	s.Greater(eng.BudgetAvailable(), 1000.0)
}

func (s *EngineTestSuite) TestLocalStopLossBackstop() {
	eng, exch, feed := s.newEngine([]types.Signal{buySignal(100)}, types.RiskModeIsolated, 10000)
	s.Require().NoError(eng.Start(s.ctx))

	exch.StopPlacementErr = errors.New(errors.ErrCodeStopOrderUnsupported, "not supported")
	s.Require().NoError(eng.tick(s.ctx))

	// Price falls through the stop; the local backstop must fire even with
	// no exchange-resident order.
	feed.price = 97
	exch.SetPrice(97, time.Now())

	s.Require().NoError(eng.tick(s.ctx))

	_, ok := eng.Position()
	s.False(ok)

	trades := eng.book.Trades()
	s.Require().Len(trades, 1)
	s.Equal(types.CloseReasonStopLoss, trades[0].Reason)
}

func (s *EngineTestSuite) TestLocalTakeProfitBackstop() {
	eng, exch, feed := s.newEngine([]types.Signal{buySignal(100)}, types.RiskModeIsolated, 10000)
	s.Require().NoError(eng.Start(s.ctx))
	s.Require().NoError(eng.tick(s.ctx))

	feed.price = 105
	exch.SetPrice(105, time.Now())

	s.Require().NoError(eng.tick(s.ctx))

	trades := eng.book.Trades()
	s.Require().Len(trades, 1)
	s.Equal(types.CloseReasonTakeProfit, trades[0].Reason)
}

func (s *EngineTestSuite) TestEmergencyStopHaltsEngine() {
	eng, exch, feed := s.newEngine([]types.Signal{buySignal(100)}, types.RiskModeIsolated, 10000)
	s.Require().NoError(eng.Start(s.ctx))

	// No resident stop, so the crash below is the risk controller's problem
	// alone.
	exch.StopPlacementErr = errors.New(errors.ErrCodeStopOrderUnsupported, "not supported")
	s.Require().NoError(eng.tick(s.ctx))

	// Collapse the position value far past the 15% drawdown threshold. The
	// drawdown check runs before the backstop, so the risk controller
	// reacts first.
	feed.price = 80
	exch.SetPrice(80, time.Now())

	err := eng.tick(s.ctx)
	s.Require().Error(err)
	s.True(errors.HasCode(err, errors.ErrCodeEmergencyStopped))
	s.Equal(types.RiskStateEmergencyStopped, eng.RiskState())

	// The forced liquidation flattened the position.
	_, ok := eng.Position()
	s.False(ok)

	// Subsequent ticks stay halted.
	err = eng.tick(s.ctx)
	s.Require().Error(err)
	s.True(errors.HasCode(err, errors.ErrCodeEmergencyStopped))
}

func (s *EngineTestSuite) TestReconcileRecoversHeldPosition() {
	eng, exch, _ := s.newEngine(nil, types.RiskModeExclusive, 10000)

	// A previous session left a held balance, its protective stop, and a
	// stale half-size stop behind.
	_, err := exch.CreateMarketOrder(s.ctx, types.OrderSideBuy, 1)
	s.Require().NoError(err)

	stop, err := exch.PlaceProtectiveStop(s.ctx, 1, 90)
	s.Require().NoError(err)

	_, err = exch.PlaceProtectiveStop(s.ctx, 0.5, 85)
	s.Require().NoError(err)

	s.Require().NoError(eng.Start(s.ctx))

	// The holding came back as a position entered at the current price,
	// protected by the matching resident stop.
	pos, ok := eng.Position()
	s.Require().True(ok)
	s.Equal(1.0, pos.Amount)
	s.Equal(100.0, pos.EntryPrice)
	s.False(pos.Unprotected)

	stopPrice, err := pos.StopLoss.Take()
	s.Require().NoError(err)
	s.Equal(90.0, stopPrice)

	id, err := pos.ProtectiveOrderID.Take()
	s.Require().NoError(err)
	s.Equal(stop.ID, id)

	// The adopted stop stays resident; the stale one was cancelled.
	orders, err := exch.FetchOpenOrders(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(orders, 1)
	s.Equal(stop.ID, orders[0].ID)

	// The holding itself was not sold.
	balance, err := exch.FetchBalance(s.ctx)
	s.Require().NoError(err)
	s.Equal(1.0, balance.Base)
}

func (s *EngineTestSuite) TestReconcileFlagsHoldingWithoutStopUnprotected() {
	eng, exch, _ := s.newEngine(nil, types.RiskModeExclusive, 10000)

	_, err := exch.CreateMarketOrder(s.ctx, types.OrderSideBuy, 1)
	s.Require().NoError(err)

	s.Require().NoError(eng.Start(s.ctx))

	pos, ok := eng.Position()
	s.Require().True(ok)
	s.True(pos.Unprotected)
	s.True(pos.StopLoss.IsNone())
	s.True(pos.ProtectiveOrderID.IsNone())
}

func (s *EngineTestSuite) TestReconcileIdempotentAcrossRestarts() {
	eng, exch, _ := s.newEngine(nil, types.RiskModeExclusive, 10000)

	_, err := exch.CreateMarketOrder(s.ctx, types.OrderSideBuy, 1)
	s.Require().NoError(err)

	stop, err := exch.PlaceProtectiveStop(s.ctx, 1, 90)
	s.Require().NoError(err)

	s.Require().NoError(eng.Start(s.ctx))

	// A repeat pass in the same process finds the position already recovered.
	s.Require().NoError(eng.Reconcile(s.ctx))

	// A full restart against the same exchange recovers the same single
	// position again, stop intact.
	eng2, err := New(eng.cfg, Deps{
		Exchange: exch,
		Feed:     &stubFeed{price: 100},
		Strategy: &scriptedStrategy{},
		Logger:   logger.NewNopLogger(),
	})
	s.Require().NoError(err)
	s.Require().NoError(eng2.Start(s.ctx))

	pos, ok := eng2.Position()
	s.Require().True(ok)
	s.Equal(1.0, pos.Amount)

	id, err := pos.ProtectiveOrderID.Take()
	s.Require().NoError(err)
	s.Equal(stop.ID, id)

	orders, err := exch.FetchOpenOrders(s.ctx)
	s.Require().NoError(err)
	s.Len(orders, 1)

	balance, err := exch.FetchBalance(s.ctx)
	s.Require().NoError(err)
	s.Equal(1.0, balance.Base)
}

func (s *EngineTestSuite) TestReconcileCancelsOrphansWithoutHolding() {
	eng, exch, _ := s.newEngine(nil, types.RiskModeExclusive, 10000)

	// A stray stop with nothing held behind it is an orphan.
	_, err := exch.PlaceProtectiveStop(s.ctx, 0.5, 85)
	s.Require().NoError(err)

	s.Require().NoError(eng.Start(s.ctx))

	_, ok := eng.Position()
	s.False(ok)

	orders, err := exch.FetchOpenOrders(s.ctx)
	s.Require().NoError(err)
	s.Empty(orders)
}

func (s *EngineTestSuite) TestReconcileSkippedInIsolatedMode() {
	eng, exch, _ := s.newEngine(nil, types.RiskModeIsolated, 10000)

	_, err := exch.CreateMarketOrder(s.ctx, types.OrderSideBuy, 1)
	s.Require().NoError(err)

	s.Require().NoError(eng.Start(s.ctx))

	// Isolated instances must not touch holdings they do not own.
	balance, err := exch.FetchBalance(s.ctx)
	s.Require().NoError(err)
	s.Equal(1.0, balance.Base)
}

func (s *EngineTestSuite) TestSkipsTickWithoutPrice() {
	eng, _, feed := s.newEngine([]types.Signal{buySignal(100)}, types.RiskModeIsolated, 10000)
	s.Require().NoError(eng.Start(s.ctx))

	feed.err = errors.New(errors.ErrCodeMarketDataFetchFailed, "stream down")

	s.Require().NoError(eng.tick(s.ctx))

	_, ok := eng.Position()
	s.False(ok)
}

func (s *EngineTestSuite) TestHoldsTickWhenBalanceUnavailable() {
	eng, exch, _ := s.newEngine([]types.Signal{buySignal(100)}, types.RiskModeExclusive, 10000)
	s.Require().NoError(eng.Start(s.ctx))

	// Exclusive mode needs the account balance to run the drawdown gate;
	// without it the tick must not trade.
	exch.BalanceErr = errors.New(errors.ErrCodeBalanceFetchFailed, "api down")

	s.Require().NoError(eng.tick(s.ctx))

	_, ok := eng.Position()
	s.False(ok)

	// The deferred signal trades once the gate can run again.
	exch.BalanceErr = nil

	s.Require().NoError(eng.tick(s.ctx))

	_, ok = eng.Position()
	s.True(ok)
}

func (s *EngineTestSuite) TestStrategyExitDispatchedBeforeBackstop() {
	eng, exch, feed := s.newEngine([]types.Signal{buySignal(100), sellSignal(97)}, types.RiskModeIsolated, 10000)
	s.Require().NoError(eng.Start(s.ctx))

	exch.StopPlacementErr = errors.New(errors.ErrCodeStopOrderUnsupported, "not supported")
	s.Require().NoError(eng.tick(s.ctx))

	// The price crosses the stop on the same tick the strategy exits; the
	// signal runs first, so the trade closes as a strategy exit.
	feed.price = 97
	exch.SetPrice(97, time.Now())

	s.Require().NoError(eng.tick(s.ctx))

	trades := eng.book.Trades()
	s.Require().Len(trades, 1)
	s.Equal(types.CloseReasonStrategy, trades[0].Reason)
}

func (s *EngineTestSuite) TestBuySkippedBelowMinNotional() {
	exch := exchange.NewSimExchange(exchange.SimConfig{
		Symbol:           "BTCUSDT",
		InitialQuote:     10000,
		MinOrderNotional: 10,
	})
	exch.SetPrice(100, time.Now())

	cfg := types.EngineConfig{
		Name:             "test",
		Symbol:           "BTCUSDT",
		BaseAsset:        "BTC",
		QuoteAsset:       "USDT",
		Strategy:         "scripted",
		AllocatedBudget:  100,
		PositionFraction: 0.05,
		MaxDrawdown:      0.15,
		FeeRate:          0.001,
		Mode:             types.RiskModeIsolated,
		FillPollDelay:    types.Duration(time.Millisecond),
	}

	eng, err := New(cfg, Deps{
		Exchange: exch,
		Feed:     &stubFeed{price: 100},
		Strategy: &scriptedStrategy{signals: []types.Signal{buySignal(100)}},
		Logger:   logger.NewNopLogger(),
	})
	s.Require().NoError(err)
	s.Require().NoError(eng.Start(s.ctx))

	s.Require().NoError(eng.tick(s.ctx))

	// The sized order of 5 sits below the exchange minimum of 10.
	_, ok := eng.Position()
	s.False(ok)
	s.Equal(100.0, eng.BudgetAvailable())
}

func TestEngineTestSuite(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}
