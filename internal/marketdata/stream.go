// Package marketdata supplies candles and live prices. The live feed
// maintains a websocket kline subscription with automatic reconnection; the
// history helpers pull candles over REST or from CSV files for replays.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cordelia-labs/tradewind/internal/logger"
	"github.com/cordelia-labs/tradewind/internal/types"
	"github.com/cordelia-labs/tradewind/pkg/errors"
)

const (
	// defaultStreamURL is the Binance combined-stream websocket endpoint.
	defaultStreamURL = "wss://stream.binance.com:9443/ws"
	// maxReconnectInterval caps the reconnect backoff.
	maxReconnectInterval = time.Minute
	// readTimeout forces a reconnect when the stream goes silent. Binance
	// sends a kline update at least every couple of seconds.
	readTimeout = 90 * time.Second
)

// klineEvent is the wire shape of a Binance kline stream message.
type klineEvent struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	Kline     struct {
		OpenTime  int64  `json:"t"`
		CloseTime int64  `json:"T"`
		Open      string `json:"o"`
		High      string `json:"h"`
		Low       string `json:"l"`
		Close     string `json:"c"`
		Volume    string `json:"v"`
		Final     bool   `json:"x"`
	} `json:"k"`
}

// Feed is a live price feed backed by a websocket kline stream. It keeps the
// latest price and a bounded window of closed candles in memory; consumers
// read snapshots, never the socket.
type Feed struct {
	mu sync.RWMutex

	symbol   string
	interval string
	url      string
	maxBars  int
	log      *logger.Logger

	latest  types.Ticker
	hasTick bool
	candles []types.MarketData

	stopCh chan struct{}
	doneCh chan struct{}
}

// FeedConfig configures a live feed.
type FeedConfig struct {
	// Symbol in exchange notation, e.g. BTCUSDT.
	Symbol string
	// Interval is the kline interval, e.g. "1m".
	Interval string
	// MaxBars bounds the in-memory candle window.
	MaxBars int
	// URL overrides the websocket endpoint. Empty means production.
	URL string
}

// NewFeed creates a feed. Call Prefill to seed history, then Start.
func NewFeed(cfg FeedConfig, log *logger.Logger) *Feed {
	url := cfg.URL
	if url == "" {
		url = defaultStreamURL
	}

	maxBars := cfg.MaxBars
	if maxBars == 0 {
		maxBars = types.DefaultHistoryBars
	}

	return &Feed{
		symbol:   cfg.Symbol,
		interval: cfg.Interval,
		url:      url,
		maxBars:  maxBars,
		log:      log.Named("marketdata"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Prefill seeds the candle window with historical data, oldest first.
func (f *Feed) Prefill(candles []types.MarketData) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, c := range candles {
		f.appendCandleLocked(c)
	}

	if len(candles) > 0 {
		last := candles[len(candles)-1]
		f.latest = types.Ticker{Symbol: f.symbol, Price: last.Close, Time: last.Time}
		f.hasTick = true
	}
}

// Start launches the stream loop. It reconnects with exponential backoff
// until Stop is called or the context is cancelled.
func (f *Feed) Start(ctx context.Context) {
	go f.run(ctx)
}

// Stop terminates the stream loop and waits for it to exit.
func (f *Feed) Stop() {
	close(f.stopCh)
	<-f.doneCh
}

// Current implements the engine's price feed contract.
func (f *Feed) Current(_ context.Context) (types.Ticker, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.hasTick {
		return types.Ticker{}, errors.New(errors.ErrCodeMarketDataFetchFailed,
			"no price received from stream yet")
	}

	return f.latest, nil
}

// History implements the engine's price feed contract. Returns up to limit
// closed candles, oldest first.
func (f *Feed) History(limit int) []types.MarketData {
	f.mu.RLock()
	defer f.mu.RUnlock()

	n := len(f.candles)
	if limit > 0 && limit < n {
		n = limit
	}

	out := make([]types.MarketData, n)
	copy(out, f.candles[len(f.candles)-n:])

	return out
}

func (f *Feed) streamURL() string {
	return fmt.Sprintf("%s/%s@kline_%s", f.url, strings.ToLower(f.symbol), f.interval)
}

func (f *Feed) run(ctx context.Context) {
	defer close(f.doneCh)

	policy := backoff.NewExponentialBackOff()
	policy.MaxInterval = maxReconnectInterval
	policy.MaxElapsedTime = 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-f.stopCh:
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.streamURL(), nil)
		if err != nil {
			wait := policy.NextBackOff()
			f.log.Warn("stream connect failed, retrying",
				zap.Error(err), zap.Duration("backoff", wait))

			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return
			case <-f.stopCh:
				return
			}

			continue
		}

		f.log.Info("market data stream connected", zap.String("url", f.streamURL()))
		policy.Reset()

		f.consume(ctx, conn)
		conn.Close()

		select {
		case <-ctx.Done():
			return
		case <-f.stopCh:
			return
		default:
			f.log.Warn("market data stream disconnected, reconnecting")
		}
	}
}

// consume reads messages until the connection breaks or shutdown begins.
func (f *Feed) consume(ctx context.Context, conn *websocket.Conn) {
	// Close the socket when shutdown is requested so the blocked read
	// returns.
	watchDone := make(chan struct{})
	defer close(watchDone)

	go func() {
		select {
		case <-ctx.Done():
		case <-f.stopCh:
		case <-watchDone:
			return
		}

		conn.Close()
	}()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return
		}

		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}

		if err := f.handleMessage(payload); err != nil {
			f.log.Warn("dropping malformed stream message", zap.Error(err))
		}
	}
}

func (f *Feed) handleMessage(payload []byte) error {
	var event klineEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return errors.Wrap(errors.ErrCodeMarketDataParseFailed, "failed to decode stream message", err)
	}

	if event.EventType != "kline" {
		return nil
	}

	closePrice, err := strconv.ParseFloat(event.Kline.Close, 64)
	if err != nil {
		return errors.Wrap(errors.ErrCodeMarketDataParseFailed, "failed to parse close price", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.latest = types.Ticker{
		Symbol: event.Symbol,
		Price:  closePrice,
		Time:   time.UnixMilli(event.Kline.CloseTime),
	}
	f.hasTick = true

	if !event.Kline.Final {
		return nil
	}

	candle, err := candleFromEvent(event)
	if err != nil {
		return err
	}

	f.appendCandleLocked(candle)

	return nil
}

func (f *Feed) appendCandleLocked(candle types.MarketData) {
	f.candles = append(f.candles, candle)
	if len(f.candles) > f.maxBars {
		f.candles = f.candles[len(f.candles)-f.maxBars:]
	}
}

func candleFromEvent(event klineEvent) (types.MarketData, error) {
	open, err1 := strconv.ParseFloat(event.Kline.Open, 64)
	high, err2 := strconv.ParseFloat(event.Kline.High, 64)
	low, err3 := strconv.ParseFloat(event.Kline.Low, 64)
	closeP, err4 := strconv.ParseFloat(event.Kline.Close, 64)
	volume, err5 := strconv.ParseFloat(event.Kline.Volume, 64)

	for _, err := range []error{err1, err2, err3, err4, err5} {
		if err != nil {
			return types.MarketData{}, errors.Wrap(errors.ErrCodeMarketDataParseFailed,
				"failed to parse kline fields", err)
		}
	}

	return types.MarketData{
		Symbol: event.Symbol,
		Time:   time.UnixMilli(event.Kline.OpenTime),
		Open:   open,
		High:   high,
		Low:    low,
		Close:  closeP,
		Volume: volume,
	}, nil
}
