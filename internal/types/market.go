package types

import "time"

// MarketData is a single OHLCV candle for a symbol.
type MarketData struct {
	Symbol string    `yaml:"symbol" json:"symbol" csv:"symbol"`
	Time   time.Time `yaml:"time" json:"time" csv:"time"`
	Open   float64   `yaml:"open" json:"open" csv:"open"`
	High   float64   `yaml:"high" json:"high" csv:"high"`
	Low    float64   `yaml:"low" json:"low" csv:"low"`
	Close  float64   `yaml:"close" json:"close" csv:"close"`
	Volume float64   `yaml:"volume" json:"volume" csv:"volume"`
}

// Ticker is a point-in-time price observation.
type Ticker struct {
	Symbol string    `yaml:"symbol" json:"symbol"`
	Price  float64   `yaml:"price" json:"price"`
	Time   time.Time `yaml:"time" json:"time"`
}

// Balance holds the available amounts of the quote and base assets.
type Balance struct {
	// Quote is the available quote-asset amount (e.g. USDT).
	Quote float64 `yaml:"quote" json:"quote"`
	// Base is the available base-asset amount (e.g. BTC).
	Base float64 `yaml:"base" json:"base"`
}
