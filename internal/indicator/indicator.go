// Package indicator provides the small set of pure price-series calculations
// the built-in strategies use. Each function returns ok=false when the series
// is shorter than the requested period.
package indicator

import "github.com/cordelia-labs/tradewind/internal/types"

// Closes extracts the close prices from a candle series.
func Closes(series []types.MarketData) []float64 {
	out := make([]float64, len(series))
	for i, c := range series {
		out[i] = c.Close
	}

	return out
}

// SMA returns the simple moving average of the last period values.
func SMA(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period {
		return 0, false
	}

	var sum float64
	for _, v := range values[len(values)-period:] {
		sum += v
	}

	return sum / float64(period), true
}

// EMA returns the exponential moving average over the whole series, seeded
// with the SMA of the first period values.
func EMA(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period {
		return 0, false
	}

	seed, _ := SMA(values[:period], period)
	multiplier := 2.0 / float64(period+1)
	ema := seed

	for _, v := range values[period:] {
		ema = (v-ema)*multiplier + ema
	}

	return ema, true
}

// RSI returns the relative strength index of the last period+1 values using
// Wilder's smoothing over the available history.
func RSI(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period+1 {
		return 0, false
	}

	var avgGain, avgLoss float64

	for i := 1; i <= period; i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}

	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period + 1; i < len(values); i++ {
		change := values[i] - values[i-1]

		var gain, loss float64
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}

		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100, true
	}

	rs := avgGain / avgLoss

	return 100 - 100/(1+rs), true
}
