package marketdata

import (
	"context"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"

	"github.com/cordelia-labs/tradewind/internal/types"
	"github.com/cordelia-labs/tradewind/pkg/errors"
)

// klinesPageLimit is the maximum candles per Binance klines request.
const klinesPageLimit = 1000

// HistoryClient fetches historical candles over REST. Used to prefill the
// live feed and to pull series for simulations.
type HistoryClient struct {
	client *binance.Client
}

// NewHistoryClient creates a history client. Credentials are not required
// for public kline data.
func NewHistoryClient(cfg types.ExchangeConfig) *HistoryClient {
	if cfg.Testnet {
		binance.UseTestnet = true
	}

	client := binance.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.BaseURL != "" {
		client.BaseURL = cfg.BaseURL
	}

	return &HistoryClient{client: client}
}

// RecentKlines fetches the latest `limit` closed candles for the symbol,
// oldest first, paging backwards as needed.
func (h *HistoryClient) RecentKlines(ctx context.Context, symbol, interval string, limit int) ([]types.MarketData, error) {
	var out []types.MarketData

	endTime := int64(0)

	for len(out) < limit {
		page := limit - len(out)
		if page > klinesPageLimit {
			page = klinesPageLimit
		}

		svc := h.client.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			Limit(page)
		if endTime > 0 {
			svc = svc.EndTime(endTime)
		}

		klines, err := svc.Do(ctx)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeMarketDataFetchFailed,
				"failed to fetch klines from Binance", err)
		}

		if len(klines) == 0 {
			break
		}

		batch := make([]types.MarketData, 0, len(klines))

		for _, k := range klines {
			candle, err := candleFromKline(symbol, k)
			if err != nil {
				return nil, err
			}

			batch = append(batch, candle)
		}

		out = append(batch, out...)
		endTime = klines[0].OpenTime - 1

		if len(klines) < page {
			break
		}
	}

	if len(out) > limit {
		out = out[len(out)-limit:]
	}

	return out, nil
}

// RangeKlines fetches all candles between start and end, oldest first.
func (h *HistoryClient) RangeKlines(ctx context.Context, symbol, interval string, start, end time.Time) ([]types.MarketData, error) {
	var out []types.MarketData

	cursor := start.UnixMilli()
	endMs := end.UnixMilli()

	for cursor < endMs {
		klines, err := h.client.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			StartTime(cursor).
			EndTime(endMs).
			Limit(klinesPageLimit).
			Do(ctx)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeMarketDataFetchFailed,
				"failed to fetch klines from Binance", err)
		}

		if len(klines) == 0 {
			break
		}

		for _, k := range klines {
			candle, err := candleFromKline(symbol, k)
			if err != nil {
				return nil, err
			}

			out = append(out, candle)
		}

		next := klines[len(klines)-1].CloseTime + 1
		if next <= cursor {
			break
		}

		cursor = next
	}

	return out, nil
}

func candleFromKline(symbol string, k *binance.Kline) (types.MarketData, error) {
	open, err1 := strconv.ParseFloat(k.Open, 64)
	high, err2 := strconv.ParseFloat(k.High, 64)
	low, err3 := strconv.ParseFloat(k.Low, 64)
	closeP, err4 := strconv.ParseFloat(k.Close, 64)
	volume, err5 := strconv.ParseFloat(k.Volume, 64)

	for _, err := range []error{err1, err2, err3, err4, err5} {
		if err != nil {
			return types.MarketData{}, errors.Wrap(errors.ErrCodeMarketDataParseFailed,
				"failed to parse kline fields", err)
		}
	}

	return types.MarketData{
		Symbol: symbol,
		Time:   time.UnixMilli(k.OpenTime),
		Open:   open,
		High:   high,
		Low:    low,
		Close:  closeP,
		Volume: volume,
	}, nil
}
