// Package ledger is the book of record for a single trading instance. It
// tracks the at-most-one open position, produces an immutable trade record
// per closed round-trip, and aggregates statistics over those records. All
// money math goes through decimals so repeated P&L accumulation does not
// drift.
package ledger

import (
	"sync"
	"time"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"

	"github.com/cordelia-labs/tradewind/internal/types"
	"github.com/cordelia-labs/tradewind/pkg/errors"
)

// slippageWindowSize bounds the rolling slippage window so memory stays
// constant over unbounded runtimes.
const slippageWindowSize = 100

// OpenParams describes a verified entry fill.
type OpenParams struct {
	Symbol string
	// Amount is the filled base quantity.
	Amount float64
	// FillPrice is the actual average fill price.
	FillPrice float64
	// ExpectedPrice is the price the caller expected before submitting.
	ExpectedPrice float64
	// Fee is the entry fee in quote units, held until the close.
	Fee               float64
	StopLoss          optional.Option[float64]
	TakeProfit        optional.Option[float64]
	ProtectiveOrderID optional.Option[string]
	Unprotected       bool
	OpenedAt          time.Time
}

// CloseParams describes a verified exit fill.
type CloseParams struct {
	// FillPrice is the actual average exit fill price.
	FillPrice float64
	// ExpectedPrice is the price the caller expected before submitting.
	ExpectedPrice float64
	// Fee is the exit fee in quote units.
	Fee      float64
	Reason   types.CloseReason
	ClosedAt time.Time
}

// Ledger owns the position and trade history of one instance. It is safe for
// concurrent use; the engine mutates it from the tick loop while status
// surfaces read it.
type Ledger struct {
	mu sync.Mutex

	position *types.Position
	entryFee decimal.Decimal
	trades   []types.TradeRecord

	slippage []float64
	slipNext int
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		slippage: make([]float64, 0, slippageWindowSize),
	}
}

// Open records a new position from a verified entry fill. Fails when a
// position is already open, so a duplicate buy can never silently double the
// exposure.
func (l *Ledger) Open(p OpenParams) (types.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.position != nil {
		return types.Position{}, errors.Newf(errors.ErrCodePositionAlreadyOpen,
			"position already open for %s, cannot open another", l.position.Symbol)
	}

	if p.Amount <= 0 || p.FillPrice <= 0 {
		return types.Position{}, errors.New(errors.ErrCodeInvalidParameter,
			"position requires positive amount and fill price")
	}

	pos := types.Position{
		Symbol:             p.Symbol,
		EntryPrice:         p.FillPrice,
		ExpectedEntryPrice: p.ExpectedPrice,
		Amount:             p.Amount,
		CurrentPrice:       p.FillPrice,
		UnrealizedPnL:      0,
		StopLoss:           p.StopLoss,
		TakeProfit:         p.TakeProfit,
		ProtectiveOrderID:  p.ProtectiveOrderID,
		Unprotected:        p.Unprotected,
		OpenedAt:           p.OpenedAt,
	}

	l.position = &pos
	l.entryFee = decimal.NewFromFloat(p.Fee)

	return pos, nil
}

// Close destroys the open position and appends exactly one immutable trade
// record. Fails when no position is open.
func (l *Ledger) Close(p CloseParams) (types.TradeRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.position == nil {
		return types.TradeRecord{}, errors.New(errors.ErrCodeNoOpenPosition,
			"no open position to close")
	}

	pos := l.position

	entry := decimal.NewFromFloat(pos.EntryPrice)
	exit := decimal.NewFromFloat(p.FillPrice)
	amount := decimal.NewFromFloat(pos.Amount)

	gross := exit.Sub(entry).Mul(amount)
	fees := l.entryFee.Add(decimal.NewFromFloat(p.Fee))
	net := gross.Sub(fees)

	grossF, _ := gross.Float64()
	feesF, _ := fees.Float64()
	netF, _ := net.Float64()

	record := types.TradeRecord{
		Symbol:             pos.Symbol,
		EntryPrice:         pos.EntryPrice,
		ExitPrice:          p.FillPrice,
		ExpectedEntryPrice: pos.ExpectedEntryPrice,
		ExpectedExitPrice:  p.ExpectedPrice,
		EntrySlippage:      relativeSlippage(pos.ExpectedEntryPrice, pos.EntryPrice),
		ExitSlippage:       relativeSlippage(p.ExpectedPrice, p.FillPrice),
		Amount:             pos.Amount,
		GrossPnL:           grossF,
		Fees:               feesF,
		NetPnL:             netF,
		Win:                net.IsPositive(),
		Reason:             p.Reason,
		OpenedAt:           pos.OpenedAt,
		ClosedAt:           p.ClosedAt,
	}

	l.position = nil
	l.entryFee = decimal.Zero
	l.trades = append(l.trades, record)

	return record, nil
}

// MarkToMarket updates the open position's current price and unrealized pnl.
// Returns the updated position copy and false when no position is open.
func (l *Ledger) MarkToMarket(price float64) (types.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.position == nil {
		return types.Position{}, false
	}

	pnl := decimal.NewFromFloat(price).
		Sub(decimal.NewFromFloat(l.position.EntryPrice)).
		Mul(decimal.NewFromFloat(l.position.Amount))

	l.position.CurrentPrice = price
	l.position.UnrealizedPnL, _ = pnl.Float64()

	return *l.position, true
}

// SetProtection updates the protective-stop bookkeeping of the open position.
func (l *Ledger) SetProtection(orderID optional.Option[string], unprotected bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.position == nil {
		return errors.New(errors.ErrCodeNoOpenPosition, "no open position to protect")
	}

	l.position.ProtectiveOrderID = orderID
	l.position.Unprotected = unprotected

	return nil
}

// Position returns a copy of the open position, if any.
func (l *Ledger) Position() (types.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.position == nil {
		return types.Position{}, false
	}

	return *l.position, true
}

// Trades returns a copy of the closed trade records in close order.
func (l *Ledger) Trades() []types.TradeRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]types.TradeRecord, len(l.trades))
	copy(out, l.trades)

	return out
}

// RecordSlippage appends one observed relative fill deviation to the rolling
// window, evicting the oldest sample once the window is full.
func (l *Ledger) RecordSlippage(value float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.slippage) < slippageWindowSize {
		l.slippage = append(l.slippage, value)

		return
	}

	l.slippage[l.slipNext] = value
	l.slipNext = (l.slipNext + 1) % slippageWindowSize
}

// SlippageStats summarizes the rolling window.
func (l *Ledger) SlippageStats() types.SlippageStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	stats := types.SlippageStats{Samples: len(l.slippage)}
	if stats.Samples == 0 {
		return stats
	}

	sum := decimal.Zero

	for _, v := range l.slippage {
		sum = sum.Add(decimal.NewFromFloat(v))
		if v > stats.Max {
			stats.Max = v
		}
	}

	avg, _ := sum.Div(decimal.NewFromInt(int64(stats.Samples))).Float64()
	stats.Average = avg

	return stats
}

// Statistics aggregates the closed trade records.
func (l *Ledger) Statistics() types.Statistics {
	l.mu.Lock()
	defer l.mu.Unlock()

	return ComputeStatistics(l.trades)
}

// ComputeStatistics aggregates a slice of trade records. The simulator reuses
// it so live and replayed runs report the same shape.
func ComputeStatistics(trades []types.TradeRecord) types.Statistics {
	stats := types.Statistics{TotalTrades: len(trades)}
	if stats.TotalTrades == 0 {
		return stats
	}

	var (
		grossWins   = decimal.Zero
		grossLosses = decimal.Zero
		totalNet    = decimal.Zero
		totalFees   = decimal.Zero
		winPctSum   float64
		lossPctSum  float64
		peak        = decimal.Zero
		maxDrawdown = decimal.Zero
		equity      = decimal.Zero
	)

	for i := range trades {
		t := &trades[i]

		net := decimal.NewFromFloat(t.NetPnL)
		gross := decimal.NewFromFloat(t.GrossPnL)

		totalNet = totalNet.Add(net)
		totalFees = totalFees.Add(decimal.NewFromFloat(t.Fees))

		if t.Win {
			stats.WinningTrades++
			winPctSum += t.ReturnPct()
		} else {
			stats.LosingTrades++
			lossPctSum += t.ReturnPct()
		}

		if gross.IsPositive() {
			grossWins = grossWins.Add(gross)
		} else {
			grossLosses = grossLosses.Add(gross.Abs())
		}

		equity = equity.Add(net)
		if equity.GreaterThan(peak) {
			peak = equity
		}

		if dd := peak.Sub(equity); dd.GreaterThan(maxDrawdown) {
			maxDrawdown = dd
		}
	}

	stats.WinRate = float64(stats.WinningTrades) / float64(stats.TotalTrades)
	stats.TotalNetPnL, _ = totalNet.Float64()
	stats.TotalFees, _ = totalFees.Float64()
	stats.MaxDrawdown, _ = maxDrawdown.Float64()

	switch {
	case grossLosses.IsPositive():
		stats.ProfitFactor, _ = grossWins.Div(grossLosses).Float64()
	case grossWins.IsPositive():
		stats.ProfitFactor = types.ProfitFactorSentinel
	default:
		stats.ProfitFactor = 0
	}

	if stats.WinningTrades > 0 {
		stats.AvgWinPct = winPctSum / float64(stats.WinningTrades)
	}

	if stats.LosingTrades > 0 {
		stats.AvgLossPct = lossPctSum / float64(stats.LosingTrades)
	}

	return stats
}

// relativeSlippage returns |actual - expected| / expected, or 0 when no
// expectation was recorded.
func relativeSlippage(expected, actual float64) float64 {
	if expected == 0 {
		return 0
	}

	v, _ := decimal.NewFromFloat(actual).
		Sub(decimal.NewFromFloat(expected)).
		Abs().
		Div(decimal.NewFromFloat(expected)).
		Float64()

	return v
}
