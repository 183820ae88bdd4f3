package market

import (
	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"gonum.org/v1/gonum/stat"

	"github.com/ayushsreejith06/MAX-sub002/internal/models"
)

// Closes extracts the close series from a candle window, oldest first.
func Closes(candles []models.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

func Sma(prices []float64, period int) []float64 {
	if len(prices) < period {
		return nil
	}
	c := helper.SliceToChan(prices)
	sma := trend.NewSmaWithPeriod[float64](period)
	return helper.ChanToSlice(sma.Compute(c))
}

func Rsi(prices []float64, period int) []float64 {
	if len(prices) < period+1 {
		return nil
	}
	c := helper.SliceToChan(prices)
	rsi := momentum.NewRsiWithPeriod[float64](period)
	return helper.ChanToSlice(rsi.Compute(c))
}

// LastRsi returns the newest RSI value, or 50 (neutral) when the window
// is too short to compute one.
func LastRsi(candles []models.Candle, period int) float64 {
	values := Rsi(Closes(candles), period)
	if len(values) == 0 {
		return 50
	}
	return values[len(values)-1]
}

// TrendPercent is the percent gap between the newest close and its
// period-bar moving average. Positive means price is above trend. Sectors
// without enough candle history report zero.
func TrendPercent(candles []models.Candle, period int) float64 {
	closes := Closes(candles)
	smaValues := Sma(closes, period)
	if len(smaValues) == 0 {
		return 0
	}
	avg := smaValues[len(smaValues)-1]
	if avg == 0 {
		return 0
	}
	latest := closes[len(closes)-1]
	return (latest - avg) / avg * 100
}

// Returns converts a price series into simple bar-to-bar returns.
func Returns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, (prices[i]-prices[i-1])/prices[i-1])
	}
	return out
}

// RealizedVolatility is the standard deviation of close-to-close returns
// over the candle window. Windows under three bars report zero.
func RealizedVolatility(candles []models.Candle) float64 {
	returns := Returns(Closes(candles))
	if len(returns) < 2 {
		return 0
	}
	return stat.StdDev(returns, nil)
}

// MeanVolume averages the traded volume across the candle window.
func MeanVolume(candles []models.Candle) float64 {
	if len(candles) == 0 {
		return 0
	}
	volumes := make([]float64, len(candles))
	for i, c := range candles {
		volumes[i] = c.Volume
	}
	return stat.Mean(volumes, nil)
}
