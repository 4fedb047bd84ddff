package signal

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/duskline/polybot/internal/types"
)

// closes extracts close prices as float64 for indicator math; money values
// stay decimal everywhere else, but indicator arithmetic is unitless.
func closes(candles []types.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = toFloat(c.Close)
	}
	return out
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// wilderRSI computes standard Wilder's RSI over period.
func wilderRSI(prices []float64, period int) float64 {
	if len(prices) < period+1 {
		return 50
	}
	gains := make([]float64, 0, len(prices)-1)
	losses := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			gains = append(gains, change)
			losses = append(losses, 0)
		} else {
			gains = append(gains, 0)
			losses = append(losses, -change)
		}
	}
	avgGain := mean(gains[:period])
	avgLoss := mean(losses[:period])
	for i := period; i < len(gains); i++ {
		avgGain = (avgGain*float64(period-1) + gains[i]) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + losses[i]) / float64(period)
	}
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// ema computes a simple exponential moving average seeded by the SMA of the
// first `period` values.
func ema(prices []float64, period int) float64 {
	if len(prices) == 0 {
		return 0
	}
	if len(prices) < period {
		return mean(prices)
	}
	multiplier := 2.0 / float64(period+1)
	e := mean(prices[:period])
	for i := period; i < len(prices); i++ {
		e = (prices[i]-e)*multiplier + e
	}
	return e
}

// emaSeries returns the EMA value at every index >= period-1, used to build
// a real MACD signal line instead of the teacher's simplified 0.9 multiplier.
func emaSeries(prices []float64, period int) []float64 {
	if len(prices) < period {
		return nil
	}
	out := make([]float64, 0, len(prices)-period+1)
	multiplier := 2.0 / float64(period+1)
	e := mean(prices[:period])
	out = append(out, e)
	for i := period; i < len(prices); i++ {
		e = (prices[i]-e)*multiplier + e
		out = append(out, e)
	}
	return out
}

// macd returns (macdLine, signalLine, histogram, prevHistogram).
func macd(prices []float64, fast, slow, signalPeriod int) (line, sig, hist, prevHist float64) {
	if len(prices) < slow+signalPeriod {
		return 0, 0, 0, 0
	}
	fastSeries := emaSeries(prices, fast)
	slowSeries := emaSeries(prices, slow)
	offset := len(fastSeries) - len(slowSeries)
	macdLine := make([]float64, len(slowSeries))
	for i := range slowSeries {
		macdLine[i] = fastSeries[i+offset] - slowSeries[i]
	}
	if len(macdLine) < signalPeriod {
		return macdLine[len(macdLine)-1], 0, 0, 0
	}
	signalSeries := emaSeries(macdLine, signalPeriod)
	n := len(signalSeries)
	line = macdLine[len(macdLine)-1]
	sig = signalSeries[n-1]
	hist = line - sig
	if n >= 2 {
		prevLine := macdLine[len(macdLine)-2]
		prevHist = prevLine - signalSeries[n-2]
	}
	return line, sig, hist, prevHist
}

// stdevReturns computes the standard deviation of close-to-close percent
// returns over the trailing window, expressed in percent.
func stdevReturns(prices []float64, window int) float64 {
	if len(prices) < window+1 {
		window = len(prices) - 1
	}
	if window < 2 {
		return 0
	}
	start := len(prices) - window - 1
	rets := make([]float64, 0, window)
	for i := start + 1; i < len(prices); i++ {
		if prices[i-1] == 0 {
			continue
		}
		rets = append(rets, (prices[i]-prices[i-1])/prices[i-1]*100)
	}
	return stdev(rets)
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stdev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var sumSq float64
	for _, x := range xs {
		sumSq += (x - m) * (x - m)
	}
	return math.Sqrt(sumSq / float64(len(xs)))
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
