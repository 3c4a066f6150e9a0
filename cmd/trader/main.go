// Command trader runs live trading engine instances from a YAML config.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/cordelia-labs/tradewind/internal/engine"
	"github.com/cordelia-labs/tradewind/internal/exchange"
	"github.com/cordelia-labs/tradewind/internal/journal"
	"github.com/cordelia-labs/tradewind/internal/logger"
	"github.com/cordelia-labs/tradewind/internal/marketdata"
	"github.com/cordelia-labs/tradewind/internal/strategy"
	"github.com/cordelia-labs/tradewind/internal/types"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	journalPath := flag.String("journal", "", "path to the DuckDB journal file (empty disables journaling)")
	flag.Parse()

	log, err := logger.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(*configPath, *journalPath, log); err != nil {
		log.Fatal("trader exited with error", zap.Error(err))
	}
}

func run(configPath, journalPath string, log *logger.Logger) error {
	cfg, err := types.LoadAppConfig(configPath)
	if err != nil {
		return err
	}

	var jrnl engine.Journal

	if journalPath != "" {
		store, err := journal.Open(journalPath, log)
		if err != nil {
			return err
		}
		defer store.Close()

		jrnl = store
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager := engine.NewManager(log)
	history := marketdata.NewHistoryClient(cfg.Exchange)

	feeds := make([]*marketdata.Feed, 0, len(cfg.Engines))

	for _, engineCfg := range cfg.Engines {
		exch, err := exchange.NewBinanceExchange(cfg.Exchange, engineCfg.Symbol,
			engineCfg.BaseAsset, engineCfg.QuoteAsset, engineCfg.MinOrderNotional)
		if err != nil {
			return err
		}

		strat, err := strategy.New(engineCfg.Strategy)
		if err != nil {
			return err
		}

		interval := klineInterval(engineCfg.TickInterval.Std())

		feed := marketdata.NewFeed(marketdata.FeedConfig{
			Symbol:   engineCfg.Symbol,
			Interval: interval,
			MaxBars:  engineCfg.HistoryBars,
		}, log)

		candles, err := history.RecentKlines(ctx, engineCfg.Symbol, interval, engineCfg.HistoryBars)
		if err != nil {
			log.Warn("history prefill failed, strategies warm up from the stream",
				zap.String("symbol", engineCfg.Symbol), zap.Error(err))
		} else {
			feed.Prefill(candles)
		}

		feed.Start(ctx)
		feeds = append(feeds, feed)

		eng, err := engine.New(engineCfg, engine.Deps{
			Exchange: exch,
			Feed:     feed,
			Strategy: strat,
			Journal:  jrnl,
			Logger:   log,
		})
		if err != nil {
			return err
		}

		if err := manager.Register(eng); err != nil {
			return err
		}
	}

	if err := manager.StartAll(ctx); err != nil {
		return err
	}

	log.Info("trader running", zap.Strings("instances", manager.Names()))

	<-ctx.Done()

	log.Info("shutdown signal received")
	manager.StopAll()

	for _, feed := range feeds {
		feed.Stop()
	}

	return nil
}

// klineInterval maps a tick interval to the closest Binance kline interval.
func klineInterval(d time.Duration) string {
	switch {
	case d <= time.Minute:
		return "1m"
	case d <= 5*time.Minute:
		return "5m"
	case d <= 15*time.Minute:
		return "15m"
	case d <= time.Hour:
		return "1h"
	case d <= 4*time.Hour:
		return "4h"
	default:
		return "1d"
	}
}
