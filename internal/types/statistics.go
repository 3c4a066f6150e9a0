package types

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ProfitFactorSentinel is reported when there are winning trades and no
// losing trades, where the true profit factor is undefined.
const ProfitFactorSentinel = 9999.0

// Statistics aggregates closed trade records.
type Statistics struct {
	// Count of all closed round-trips.
	TotalTrades int `yaml:"total_trades" json:"total_trades"`
	// Count of trades with positive net pnl.
	WinningTrades int `yaml:"winning_trades" json:"winning_trades"`
	// Count of trades with zero or negative net pnl.
	LosingTrades int `yaml:"losing_trades" json:"losing_trades"`
	// Win rate in [0, 1].
	WinRate float64 `yaml:"win_rate" json:"win_rate"`
	// Gross wins divided by absolute gross losses. ProfitFactorSentinel when
	// there are wins and no losses; 0 when there are no wins either.
	ProfitFactor float64 `yaml:"profit_factor" json:"profit_factor"`
	// Average winning return relative to entry notional, in percent.
	AvgWinPct float64 `yaml:"avg_win_pct" json:"avg_win_pct"`
	// Average losing return relative to entry notional, in percent (negative).
	AvgLossPct float64 `yaml:"avg_loss_pct" json:"avg_loss_pct"`
	// Largest peak-to-trough decline of cumulative net pnl.
	MaxDrawdown float64 `yaml:"max_drawdown" json:"max_drawdown"`
	// Sum of all net pnl.
	TotalNetPnL float64 `yaml:"total_net_pnl" json:"total_net_pnl"`
	// Sum of all fees paid.
	TotalFees float64 `yaml:"total_fees" json:"total_fees"`
}

// SlippageStats summarizes the bounded rolling window of observed fills.
type SlippageStats struct {
	// Count of fills currently in the window.
	Samples int `yaml:"samples" json:"samples"`
	// Average relative slippage over the window.
	Average float64 `yaml:"average" json:"average"`
	// Worst relative slippage over the window.
	Max float64 `yaml:"max" json:"max"`
}

// SimulationResult is the outcome of one historical replay.
type SimulationResult struct {
	Symbol   string `yaml:"symbol" json:"symbol"`
	Strategy string `yaml:"strategy" json:"strategy"`
	// Stats is the same aggregate shape the live ledger produces.
	Stats Statistics `yaml:"stats" json:"stats"`
	// InitialCapital is the simulated starting capital.
	InitialCapital float64 `yaml:"initial_capital" json:"initial_capital"`
	// FinalCapital is the capital after the forced close of the last bar.
	FinalCapital float64 `yaml:"final_capital" json:"final_capital"`
	// TotalPnLPct is the total return over the run, in percent.
	TotalPnLPct float64 `yaml:"total_pnl_pct" json:"total_pnl_pct"`
	// MaxDrawdownAbs is the largest peak-to-trough equity decline in currency units.
	MaxDrawdownAbs float64 `yaml:"max_drawdown_abs" json:"max_drawdown_abs"`
	// MaxDrawdownPct is the largest peak-to-trough equity decline relative to the peak.
	MaxDrawdownPct float64 `yaml:"max_drawdown_pct" json:"max_drawdown_pct"`
	// Bars is the number of bars replayed.
	Bars int `yaml:"bars" json:"bars"`
	// Trades is the ordered sequence of closed round-trips.
	Trades []TradeRecord `yaml:"trades" json:"trades"`
}

// WriteSummary writes the simulation result as YAML to the given path.
func (r *SimulationResult) WriteSummary(path string) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal simulation result to YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write simulation result to file: %w", err)
	}

	return nil
}
