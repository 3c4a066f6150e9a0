// Package backtest replays a strategy over historical candles through the
// same ledger and execution-port semantics the live engine uses. Replays are
// deterministic: the same series and configuration always produce the same
// result, bar for bar.
package backtest

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/cordelia-labs/tradewind/internal/exchange"
	"github.com/cordelia-labs/tradewind/internal/ledger"
	"github.com/cordelia-labs/tradewind/internal/logger"
	"github.com/cordelia-labs/tradewind/internal/strategy"
	"github.com/cordelia-labs/tradewind/internal/types"
	"github.com/cordelia-labs/tradewind/pkg/errors"
)

// Config parameterizes one simulation run.
type Config struct {
	Symbol string
	// InitialCapital is the simulated starting quote balance.
	InitialCapital float64
	// FeeRate is the fee per trade side as a fraction of notional.
	FeeRate float64
	// Slippage shifts every fill against the taker by this fraction.
	Slippage float64
	// PositionFraction is the fraction of available capital per entry.
	PositionFraction float64
	// WarmupBars feed the strategy history without trading.
	WarmupBars int
	// HistoryBars bounds the candle window strategies receive.
	HistoryBars int
	// MinOrderNotional skips entries sized below the exchange minimum.
	MinOrderNotional float64
}

// ApplyDefaults fills zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.InitialCapital == 0 {
		c.InitialCapital = 10000
	}

	if c.FeeRate == 0 {
		c.FeeRate = types.DefaultFeeRate
	}

	if c.PositionFraction == 0 {
		c.PositionFraction = types.DefaultPositionFraction
	}

	if c.HistoryBars == 0 {
		c.HistoryBars = types.DefaultHistoryBars
	}

	if c.MinOrderNotional == 0 {
		c.MinOrderNotional = types.DefaultMinOrderNotional
	}
}

// Simulator replays one strategy over one candle series.
type Simulator struct {
	cfg   Config
	strat strategy.Strategy
	log   *logger.Logger
}

// New creates a simulator.
func New(cfg Config, strat strategy.Strategy, log *logger.Logger) *Simulator {
	cfg.ApplyDefaults()

	return &Simulator{
		cfg:   cfg,
		strat: strat,
		log:   log.Named("backtest"),
	}
}

// Run replays the series. The series must be strictly ordered in time. Any
// position still open on the last bar is force-closed at that bar's close so
// the final capital is fully realized.
func (s *Simulator) Run(series []types.MarketData) (*types.SimulationResult, error) {
	if len(series) == 0 {
		return nil, errors.New(errors.ErrCodeEmptySeries, "cannot simulate an empty series")
	}

	for i := 1; i < len(series); i++ {
		if !series[i].Time.After(series[i-1].Time) {
			return nil, errors.Newf(errors.ErrCodeSeriesOutOfOrder,
				"series not strictly ordered at index %d (%s then %s)",
				i, series[i-1].Time, series[i].Time)
		}
	}

	exch := exchange.NewSimExchange(exchange.SimConfig{
		Symbol:           s.cfg.Symbol,
		InitialQuote:     s.cfg.InitialCapital,
		FeeRate:          s.cfg.FeeRate,
		Slippage:         s.cfg.Slippage,
		MinOrderNotional: s.cfg.MinOrderNotional,
	})

	run := &simRun{
		cfg:   s.cfg,
		log:   s.log,
		strat: s.strat,
		exch:  exch,
		book:  ledger.New(),
	}

	for i, bar := range series {
		exch.SetPrice(bar.Close, bar.Time)

		if i < s.cfg.WarmupBars {
			run.trackEquity(bar.Close)

			continue
		}

		run.processBar(series, i)
		run.trackEquity(bar.Close)
	}

	last := series[len(series)-1]
	if _, open := run.book.Position(); open {
		run.exitAt(last.Close, last, types.CloseReasonEndOfData)
		run.trackEquity(last.Close)
	}

	return run.result(s.strat.Name(), len(series)), nil
}

// simRun is the mutable state of one replay.
type simRun struct {
	cfg   Config
	log   *logger.Logger
	strat strategy.Strategy
	exch  *exchange.SimExchange
	book  *ledger.Ledger

	peakEquity     float64
	maxDrawdownAbs float64
	maxDrawdownPct float64
}

// processBar applies the protective backstop against the bar's range, then
// dispatches the strategy's signal at the bar close. When both the stop and
// the target fall inside one bar, the stop wins; assuming the worse outcome
// keeps results honest.
func (r *simRun) processBar(series []types.MarketData, i int) {
	bar := series[i]

	if pos, open := r.book.Position(); open {
		if stop, err := pos.StopLoss.Take(); err == nil && bar.Low <= stop {
			r.exitAt(stop, bar, types.CloseReasonStopLoss)

			return
		}

		if target, err := pos.TakeProfit.Take(); err == nil && bar.High >= target {
			r.exitAt(target, bar, types.CloseReasonTakeProfit)

			return
		}
	}

	start := 0
	if i > r.cfg.HistoryBars {
		start = i - r.cfg.HistoryBars
	}

	signal := r.strat.Analyze(series[start:i], bar.Close)

	switch {
	case signal.Action == types.SignalActionBuy:
		r.enter(signal, bar)
	case signal.IsExit():
		r.exitAt(bar.Close, bar, types.CloseReasonStrategy)
	}
}

func (r *simRun) enter(signal types.Signal, bar types.MarketData) {
	if _, open := r.book.Position(); open {
		return
	}

	balance, _ := r.exch.FetchBalance(context.Background())

	notional := balance.Quote * r.cfg.PositionFraction
	if notional < r.cfg.MinOrderNotional {
		return
	}

	amount := notional / bar.Close

	order, err := r.exch.CreateMarketOrder(context.Background(), types.OrderSideBuy, amount)
	if err != nil {
		r.log.Debug("simulated entry rejected", zap.Error(err))

		return
	}

	fillNotional := order.AvgFillPrice * order.FilledAmount
	fee := fillNotional * r.cfg.FeeRate

	if _, err := r.book.Open(ledger.OpenParams{
		Symbol:        r.cfg.Symbol,
		Amount:        order.FilledAmount,
		FillPrice:     order.AvgFillPrice,
		ExpectedPrice: bar.Close,
		Fee:           fee,
		StopLoss:      signal.StopLoss,
		TakeProfit:    signal.TakeProfit,
		OpenedAt:      bar.Time,
	}); err != nil {
		r.log.Error("simulated position open failed", zap.Error(err))
	}
}

func (r *simRun) exitAt(price float64, bar types.MarketData, reason types.CloseReason) {
	pos, open := r.book.Position()
	if !open {
		return
	}

	r.exch.SetPrice(price, bar.Time)

	order, err := r.exch.CreateMarketOrder(context.Background(), types.OrderSideSell, pos.Amount)
	if err != nil {
		r.log.Error("simulated exit rejected", zap.Error(err))

		return
	}

	fillNotional := order.AvgFillPrice * order.FilledAmount
	fee := fillNotional * r.cfg.FeeRate

	if _, err := r.book.Close(ledger.CloseParams{
		FillPrice:     order.AvgFillPrice,
		ExpectedPrice: price,
		Fee:           fee,
		Reason:        reason,
		ClosedAt:      bar.Time,
	}); err != nil {
		r.log.Error("simulated position close failed", zap.Error(err))
	}
}

// trackEquity marks the position and updates the peak-to-trough drawdown.
func (r *simRun) trackEquity(price float64) {
	r.book.MarkToMarket(price)

	balance, _ := r.exch.FetchBalance(context.Background())
	equity := balance.Quote + balance.Base*price

	if equity > r.peakEquity {
		r.peakEquity = equity
	}

	dd := r.peakEquity - equity
	if dd > r.maxDrawdownAbs {
		r.maxDrawdownAbs = dd
	}

	if r.peakEquity > 0 {
		if pct := dd / r.peakEquity; pct > r.maxDrawdownPct {
			r.maxDrawdownPct = pct
		}
	}
}

func (r *simRun) result(strategyName string, bars int) *types.SimulationResult {
	balance, _ := r.exch.FetchBalance(context.Background())
	trades := r.book.Trades()

	result := &types.SimulationResult{
		Symbol:         r.cfg.Symbol,
		Strategy:       strategyName,
		Stats:          ledger.ComputeStatistics(trades),
		InitialCapital: r.cfg.InitialCapital,
		FinalCapital:   balance.Quote,
		MaxDrawdownAbs: r.maxDrawdownAbs,
		MaxDrawdownPct: r.maxDrawdownPct,
		Bars:           bars,
		Trades:         trades,
	}

	if r.cfg.InitialCapital > 0 {
		result.TotalPnLPct = (result.FinalCapital - r.cfg.InitialCapital) / r.cfg.InitialCapital * 100
	}

	if math.IsNaN(result.TotalPnLPct) {
		result.TotalPnLPct = 0
	}

	return result
}
