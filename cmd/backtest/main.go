// Command backtest replays a strategy over a historical candle series and
// prints the resulting statistics.
package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/cordelia-labs/tradewind/internal/backtest"
	"github.com/cordelia-labs/tradewind/internal/journal"
	"github.com/cordelia-labs/tradewind/internal/logger"
	"github.com/cordelia-labs/tradewind/internal/marketdata"
	"github.com/cordelia-labs/tradewind/internal/strategy"
	"github.com/cordelia-labs/tradewind/internal/types"
)

func main() {
	csvPath := flag.String("csv", "", "path to the candle CSV file (time,open,high,low,close,volume)")
	symbol := flag.String("symbol", "BTCUSDT", "traded symbol")
	strategyName := flag.String("strategy", "sma-cross", "strategy to replay")
	capital := flag.Float64("capital", 10000, "initial capital in quote units")
	feeRate := flag.Float64("fee", 0.001, "fee rate per trade side")
	slippage := flag.Float64("slippage", 0, "simulated slippage per fill")
	warmup := flag.Int("warmup", 30, "bars fed to the strategy before trading starts")
	outPath := flag.String("out", "", "write the full result as YAML to this path")
	journalPath := flag.String("journal", "", "append the replayed trades to this DuckDB journal")
	flag.Parse()

	log, err := logger.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if *csvPath == "" {
		fmt.Fprintln(os.Stderr, "missing required -csv flag")
		flag.Usage()
		os.Exit(1)
	}

	if err := run(*csvPath, *symbol, *strategyName, *capital, *feeRate, *slippage, *warmup, *outPath, *journalPath, log); err != nil {
		log.Fatal("backtest failed", zap.Error(err))
	}
}

func run(csvPath, symbol, strategyName string, capital, feeRate, slippage float64, warmup int, outPath, journalPath string, log *logger.Logger) error {
	series, err := marketdata.LoadCSV(csvPath, symbol)
	if err != nil {
		return err
	}

	strat, err := strategy.New(strategyName)
	if err != nil {
		return err
	}

	sim := backtest.New(backtest.Config{
		Symbol:         symbol,
		InitialCapital: capital,
		FeeRate:        feeRate,
		Slippage:       slippage,
		WarmupBars:     warmup,
	}, strat, log)

	result, err := sim.Run(series)
	if err != nil {
		return err
	}

	fmt.Printf("Symbol:          %s\n", result.Symbol)
	fmt.Printf("Strategy:        %s\n", result.Strategy)
	fmt.Printf("Bars replayed:   %d\n", result.Bars)
	fmt.Printf("Trades:          %d (win rate %.1f%%)\n", result.Stats.TotalTrades, result.Stats.WinRate*100)
	fmt.Printf("Profit factor:   %.2f\n", result.Stats.ProfitFactor)
	fmt.Printf("Net P&L:         %.2f (%.2f%%)\n", result.Stats.TotalNetPnL, result.TotalPnLPct)
	fmt.Printf("Fees paid:       %.2f\n", result.Stats.TotalFees)
	fmt.Printf("Final capital:   %.2f\n", result.FinalCapital)
	fmt.Printf("Max drawdown:    %.2f (%.2f%%)\n", result.MaxDrawdownAbs, result.MaxDrawdownPct*100)

	if outPath != "" {
		if err := result.WriteSummary(outPath); err != nil {
			return err
		}

		log.Info("wrote result summary", zap.String("path", outPath))
	}

	if journalPath != "" {
		if err := journalTrades(journalPath, result, log); err != nil {
			return err
		}
	}

	return nil
}

func journalTrades(path string, result *types.SimulationResult, log *logger.Logger) error {
	store, err := journal.Open(path, log)
	if err != nil {
		return err
	}
	defer store.Close()

	for _, trade := range result.Trades {
		if err := store.AppendTrade(trade); err != nil {
			return err
		}
	}

	log.Info("journaled replayed trades",
		zap.String("path", path),
		zap.Int("trades", len(result.Trades)))

	return nil
}
