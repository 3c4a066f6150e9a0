package indicator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cordelia-labs/tradewind/internal/types"
)

func TestCloses(t *testing.T) {
	series := []types.MarketData{
		{Time: time.Now(), Close: 100},
		{Time: time.Now(), Close: 101},
		{Time: time.Now(), Close: 102},
	}

	assert.Equal(t, []float64{100, 101, 102}, Closes(series))
	assert.Empty(t, Closes(nil))
}

func TestSMA(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}

	sma, ok := SMA(values, 3)
	require.True(t, ok)
	assert.InDelta(t, 4.0, sma, 1e-12)

	sma, ok = SMA(values, 5)
	require.True(t, ok)
	assert.InDelta(t, 3.0, sma, 1e-12)

	_, ok = SMA(values, 6)
	assert.False(t, ok)

	_, ok = SMA(values, 0)
	assert.False(t, ok)
}

func TestEMA(t *testing.T) {
	// Constant series: EMA equals the constant.
	constant := []float64{5, 5, 5, 5, 5, 5}

	ema, ok := EMA(constant, 3)
	require.True(t, ok)
	assert.InDelta(t, 5.0, ema, 1e-12)

	// Rising series: EMA sits between the seed SMA and the last value.
	rising := []float64{1, 2, 3, 4, 5, 6}

	ema, ok = EMA(rising, 3)
	require.True(t, ok)
	assert.Greater(t, ema, 2.0)
	assert.Less(t, ema, 6.0)

	_, ok = EMA([]float64{1, 2}, 3)
	assert.False(t, ok)
}

func TestRSI(t *testing.T) {
	// Straight rise: no losses, RSI pegged at 100.
	rising := []float64{1, 2, 3, 4, 5, 6, 7, 8}

	rsi, ok := RSI(rising, 5)
	require.True(t, ok)
	assert.Equal(t, 100.0, rsi)

	// Straight fall: no gains, RSI at 0.
	falling := []float64{8, 7, 6, 5, 4, 3, 2, 1}

	rsi, ok = RSI(falling, 5)
	require.True(t, ok)
	assert.InDelta(t, 0.0, rsi, 1e-12)

	// Alternating equal gains and losses settle near the midline.
	choppy := []float64{10, 11, 10, 11, 10, 11, 10, 11, 10, 11}

	rsi, ok = RSI(choppy, 4)
	require.True(t, ok)
	assert.Greater(t, rsi, 30.0)
	assert.Less(t, rsi, 70.0)

	_, ok = RSI([]float64{1, 2, 3}, 5)
	assert.False(t, ok)
}
