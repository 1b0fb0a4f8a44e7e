package indicators

import "math"

// RSI is Wilder's relative strength index. The average gain and loss are
// seeded with the plain mean of the first n price changes, giving the first
// value at row n, and then smoothed as avg = (avg*(n-1) + current) / n.
func RSI(closes []float64, n int) []Value {
	out := make([]Value, len(closes))
	if n <= 0 || len(closes) <= n {
		return out
	}

	var gain, loss float64
	for i := 1; i <= n; i++ {
		g, l := split(closes[i] - closes[i-1])
		gain += g
		loss += l
	}
	nf := float64(n)
	gain /= nf
	loss /= nf
	out[n] = rsiValue(gain, loss)

	for i := n + 1; i < len(closes); i++ {
		g, l := split(closes[i] - closes[i-1])
		gain = (gain*(nf-1) + g) / nf
		loss = (loss*(nf-1) + l) / nf
		out[i] = rsiValue(gain, loss)
	}
	return out
}

func split(change float64) (gain, loss float64) {
	if change > 0 {
		return change, 0
	}
	return 0, -change
}

func rsiValue(gain, loss float64) Value {
	switch {
	case loss == 0 && gain == 0:
		return some(50)
	case loss == 0:
		return some(100)
	}
	rs := gain / loss
	return some(100 - 100/(1+rs))
}

// MACD returns EMA(fast) - EMA(slow), its EMA(signal) and the histogram
// macd - signal. The signal line is seeded with the mean of the first
// `signal` MACD values.
func MACD(closes []float64, fast, slow, signal int) (macd, sig, hist []Value) {
	ef := EMA(closes, fast)
	es := EMA(closes, slow)

	macd = make([]Value, len(closes))
	for i := range closes {
		if ef[i].OK && es[i].OK {
			macd[i] = some(ef[i].V - es[i].V)
		}
	}

	sig = emaValues(macd, signal)
	hist = make([]Value, len(closes))
	for i := range closes {
		if macd[i].OK && sig[i].OK {
			hist[i] = some(macd[i].V - sig[i].V)
		}
	}
	return macd, sig, hist
}

// Stochastic returns the slow %K (raw %K over n rows smoothed by an SMA of
// smoothK) and %D (SMA of slow %K over d). A window with no range yields an
// absent raw %K.
func Stochastic(highs, lows, closes []float64, n, smoothK, d int) (k, dline []Value) {
	raw := make([]Value, len(closes))
	if n > 0 {
		for i := n - 1; i < len(closes); i++ {
			hh, ll := math.Inf(-1), math.Inf(1)
			for j := i - n + 1; j <= i; j++ {
				hh = math.Max(hh, highs[j])
				ll = math.Min(ll, lows[j])
			}
			if hh == ll {
				continue
			}
			raw[i] = some(100 * (closes[i] - ll) / (hh - ll))
		}
	}
	k = smaValues(raw, smoothK)
	dline = smaValues(k, d)
	return k, dline
}
