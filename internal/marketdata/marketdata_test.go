package marketdata

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/cordelia-labs/tradewind/internal/logger"
	"github.com/cordelia-labs/tradewind/internal/types"
	"github.com/cordelia-labs/tradewind/pkg/errors"
)

type MarketDataTestSuite struct {
	suite.Suite
}

func (s *MarketDataTestSuite) newFeed(maxBars int) *Feed {
	return NewFeed(FeedConfig{
		Symbol:   "BTCUSDT",
		Interval: "1m",
		MaxBars:  maxBars,
	}, logger.NewNopLogger())
}

func (s *MarketDataTestSuite) TestHandleFinalKline() {
	feed := s.newFeed(10)

	payload := []byte(`{"e":"kline","s":"BTCUSDT","k":{"t":1700000000000,"T":1700000059999,"o":"100","h":"102","l":"99","c":"101","v":"12.5","x":true}}`)
	s.Require().NoError(feed.handleMessage(payload))

	ticker, err := feed.Current(nil)
	s.Require().NoError(err)
	s.Equal(101.0, ticker.Price)

	history := feed.History(10)
	s.Require().Len(history, 1)
	s.Equal(100.0, history[0].Open)
	s.Equal(102.0, history[0].High)
	s.Equal(99.0, history[0].Low)
	s.Equal(101.0, history[0].Close)
	s.Equal(12.5, history[0].Volume)
}

func (s *MarketDataTestSuite) TestNonFinalKlineUpdatesPriceOnly() {
	feed := s.newFeed(10)

	payload := []byte(`{"e":"kline","s":"BTCUSDT","k":{"t":1700000000000,"T":1700000059999,"o":"100","h":"102","l":"99","c":"100.5","v":"3","x":false}}`)
	s.Require().NoError(feed.handleMessage(payload))

	ticker, err := feed.Current(nil)
	s.Require().NoError(err)
	s.Equal(100.5, ticker.Price)
	s.Empty(feed.History(10))
}

func (s *MarketDataTestSuite) TestMalformedMessageRejected() {
	feed := s.newFeed(10)

	err := feed.handleMessage([]byte(`{not json`))
	s.Require().Error(err)
	s.True(errors.HasCode(err, errors.ErrCodeMarketDataParseFailed))
}

func (s *MarketDataTestSuite) TestNonKlineEventIgnored() {
	feed := s.newFeed(10)

	s.Require().NoError(feed.handleMessage([]byte(`{"e":"24hrTicker","s":"BTCUSDT"}`)))

	_, err := feed.Current(nil)
	s.Require().Error(err)
}

func (s *MarketDataTestSuite) TestHistoryWindowIsBounded() {
	feed := s.newFeed(3)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]types.MarketData, 5)

	for i := range candles {
		candles[i] = types.MarketData{
			Symbol: "BTCUSDT",
			Time:   start.Add(time.Duration(i) * time.Minute),
			Close:  float64(100 + i),
		}
	}

	feed.Prefill(candles)

	history := feed.History(10)
	s.Require().Len(history, 3)
	s.Equal(102.0, history[0].Close)
	s.Equal(104.0, history[2].Close)

	// A smaller limit trims from the old end.
	history = feed.History(2)
	s.Require().Len(history, 2)
	s.Equal(103.0, history[0].Close)
}

func (s *MarketDataTestSuite) TestPrefillSeedsCurrentPrice() {
	feed := s.newFeed(10)

	_, err := feed.Current(nil)
	s.Require().Error(err)
	s.True(errors.HasCode(err, errors.ErrCodeMarketDataFetchFailed))

	feed.Prefill([]types.MarketData{{Symbol: "BTCUSDT", Time: time.Now(), Close: 99.5}})

	ticker, err := feed.Current(nil)
	s.Require().NoError(err)
	s.Equal(99.5, ticker.Price)
}

func (s *MarketDataTestSuite) TestStreamURL() {
	feed := s.newFeed(10)
	s.Equal("wss://stream.binance.com:9443/ws/btcusdt@kline_1m", feed.streamURL())
}

func (s *MarketDataTestSuite) TestLoadCSV() {
	dir := s.T().TempDir()
	path := filepath.Join(dir, "candles.csv")

	content := "time,open,high,low,close,volume\n" +
		"2024-01-01T00:00:00Z,100,102,99,101,12.5\n" +
		"1704067260000,101,103,100,102,8\n"
	s.Require().NoError(os.WriteFile(path, []byte(content), 0644))

	candles, err := LoadCSV(path, "BTCUSDT")
	s.Require().NoError(err)
	s.Require().Len(candles, 2)
	s.Equal(101.0, candles[0].Close)
	s.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), candles[0].Time)
	s.Equal(102.0, candles[1].Close)
	s.Equal("BTCUSDT", candles[1].Symbol)
}

func (s *MarketDataTestSuite) TestLoadCSVEmpty() {
	dir := s.T().TempDir()
	path := filepath.Join(dir, "empty.csv")
	s.Require().NoError(os.WriteFile(path, []byte("time,open,high,low,close,volume\n"), 0644))

	_, err := LoadCSV(path, "BTCUSDT")
	s.Require().Error(err)
	s.True(errors.HasCode(err, errors.ErrCodeEmptySeries))
}

func (s *MarketDataTestSuite) TestLoadCSVBadTime() {
	dir := s.T().TempDir()
	path := filepath.Join(dir, "bad.csv")
	s.Require().NoError(os.WriteFile(path, []byte("time,open,high,low,close,volume\nyesterday,1,1,1,1,1\n"), 0644))

	_, err := LoadCSV(path, "BTCUSDT")
	s.Require().Error(err)
	s.True(errors.HasCode(err, errors.ErrCodeMarketDataParseFailed))
}

func TestMarketDataTestSuite(t *testing.T) {
	suite.Run(t, new(MarketDataTestSuite))
}
