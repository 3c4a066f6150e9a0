package marketdata

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/cordelia-labs/tradewind/internal/types"
	"github.com/cordelia-labs/tradewind/pkg/errors"
)

// LoadCSV reads a candle series from a CSV file with the header
// time,open,high,low,close,volume. The time column accepts RFC3339 or unix
// milliseconds. Rows must be ordered oldest first.
func LoadCSV(path, symbol string) ([]types.MarketData, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeMarketDataFetchFailed, "failed to open CSV file", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = 6

	// header
	if _, err := reader.Read(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeMarketDataParseFailed, "failed to read CSV header", err)
	}

	var out []types.MarketData

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}

		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeMarketDataParseFailed, "failed to read CSV row", err)
		}

		candle, err := candleFromRow(row, symbol)
		if err != nil {
			return nil, err
		}

		out = append(out, candle)
	}

	if len(out) == 0 {
		return nil, errors.New(errors.ErrCodeEmptySeries, "CSV file contains no candles")
	}

	return out, nil
}

func candleFromRow(row []string, symbol string) (types.MarketData, error) {
	ts, err := parseTime(row[0])
	if err != nil {
		return types.MarketData{}, err
	}

	open, err1 := strconv.ParseFloat(row[1], 64)
	high, err2 := strconv.ParseFloat(row[2], 64)
	low, err3 := strconv.ParseFloat(row[3], 64)
	closeP, err4 := strconv.ParseFloat(row[4], 64)
	volume, err5 := strconv.ParseFloat(row[5], 64)

	for _, err := range []error{err1, err2, err3, err4, err5} {
		if err != nil {
			return types.MarketData{}, errors.Wrap(errors.ErrCodeMarketDataParseFailed,
				"failed to parse CSV price fields", err)
		}
	}

	return types.MarketData{
		Symbol: symbol,
		Time:   ts,
		Open:   open,
		High:   high,
		Low:    low,
		Close:  closeP,
		Volume: volume,
	}, nil
}

func parseTime(raw string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts, nil
	}

	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, errors.Newf(errors.ErrCodeMarketDataParseFailed,
			"unrecognized time format: %q", raw)
	}

	return time.UnixMilli(ms), nil
}
