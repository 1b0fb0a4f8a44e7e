package indicators

import "math"

// SMA is the simple moving average over a window of n values, absent for
// the first n-1 positions. Each window is summed directly so a row's value
// depends only on its own window.
func SMA(xs []float64, n int) []Value {
	out := make([]Value, len(xs))
	if n <= 0 {
		return out
	}
	for i := n - 1; i < len(xs); i++ {
		sum := 0.0
		for j := i - n + 1; j <= i; j++ {
			sum += xs[j]
		}
		out[i] = some(sum / float64(n))
	}
	return out
}

// EMA is the exponential moving average seeded with the simple average of
// the first n values, then smoothed with factor 2/(n+1).
func EMA(xs []float64, n int) []Value {
	vals := make([]Value, len(xs))
	for i, x := range xs {
		vals[i] = Value{V: x, OK: true}
	}
	return emaValues(vals, n)
}

// emaValues runs an EMA over the defined suffix of vals. The seed is the
// average of the first n defined values; a gap after the seed ends the run.
func emaValues(vals []Value, n int) []Value {
	out := make([]Value, len(vals))
	if n <= 0 {
		return out
	}

	start := -1
	for i, v := range vals {
		if v.OK {
			start = i
			break
		}
	}
	if start < 0 || start+n > len(vals) {
		return out
	}

	sum := 0.0
	for i := start; i < start+n; i++ {
		if !vals[i].OK {
			return out
		}
		sum += vals[i].V
	}

	k := 2.0 / float64(n+1)
	ema := sum / float64(n)
	out[start+n-1] = some(ema)
	for i := start + n; i < len(vals); i++ {
		if !vals[i].OK {
			break
		}
		ema = (vals[i].V-ema)*k + ema
		out[i] = some(ema)
	}
	return out
}

// smaValues is SMA over values that may be absent; a window containing an
// absent value is itself absent.
func smaValues(vals []Value, n int) []Value {
	out := make([]Value, len(vals))
	if n <= 0 {
		return out
	}
	for i := n - 1; i < len(vals); i++ {
		sum := 0.0
		ok := true
		for j := i - n + 1; j <= i; j++ {
			if !vals[j].OK {
				ok = false
				break
			}
			sum += vals[j].V
		}
		if ok {
			out[i] = some(sum / float64(n))
		}
	}
	return out
}

// RollingStdDev is the population standard deviation over windows of n
// values; windows containing an absent value are absent.
func RollingStdDev(vals []Value, n int) []Value {
	out := make([]Value, len(vals))
	if n <= 0 {
		return out
	}
	for i := n - 1; i < len(vals); i++ {
		sum := 0.0
		ok := true
		for j := i - n + 1; j <= i; j++ {
			if !vals[j].OK {
				ok = false
				break
			}
			sum += vals[j].V
		}
		if !ok {
			continue
		}
		mean := sum / float64(n)
		ss := 0.0
		for j := i - n + 1; j <= i; j++ {
			d := vals[j].V - mean
			ss += d * d
		}
		out[i] = some(math.Sqrt(ss / float64(n)))
	}
	return out
}

// Bollinger returns SMA(n) and the bands at ±width population standard
// deviations.
func Bollinger(closes []float64, n int, width float64) (mid, upper, lower []Value) {
	mid = SMA(closes, n)
	upper = make([]Value, len(closes))
	lower = make([]Value, len(closes))

	vals := make([]Value, len(closes))
	for i, c := range closes {
		vals[i] = Value{V: c, OK: true}
	}
	sd := RollingStdDev(vals, n)

	for i := range closes {
		if !mid[i].OK || !sd[i].OK {
			continue
		}
		upper[i] = some(mid[i].V + width*sd[i].V)
		lower[i] = some(mid[i].V - width*sd[i].V)
	}
	return mid, upper, lower
}

// Returns is the simple daily return (c[i]-c[i-1])/c[i-1], absent for the
// first row and after a zero close.
func Returns(closes []float64) []Value {
	out := make([]Value, len(closes))
	for i := 1; i < len(closes); i++ {
		prev := closes[i-1]
		if prev == 0 {
			continue
		}
		out[i] = some((closes[i] - prev) / prev)
	}
	return out
}
