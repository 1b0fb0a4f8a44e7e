// Package indicators computes technical indicators over a whole price
// series.
//
// Every function is a pure batch computation over a slice aligned with the
// series: position i of the output belongs to row i of the input. Rows that
// do not have enough history yet come back as absent values rather than
// zero, so callers can tell "not enough data" from "computed as zero".
// Given the same input the output is bit-identical, however often the series
// has been merged before.
package indicators

import (
	"math"
	"strings"

	"github.com/rustyeddy/marketsync/market"
)

// Value is one indicator output. OK is false when the value is absent.
type Value struct {
	V  float64
	OK bool
}

func some(v float64) Value {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Value{}
	}
	return Value{V: v, OK: true}
}

// Periods used by Compute.
const (
	RSIPeriod   = 14
	MACDFast    = 12
	MACDSlow    = 26
	MACDSignal  = 9
	BBPeriod    = 20
	BBWidth     = 2.0
	VolPeriod   = 20
	StochPeriod = 14
	StochSmooth = 3
	ADXPeriod   = 14
)

// Compute returns a copy of s with every derived column recomputed from
// the raw open/high/low/close fields. Stale derived values on the input are
// discarded first. A series where any row lacks a close gets no indicators.
func Compute(s market.Series) market.Series {
	out := make(market.Series, len(s))
	for i, r := range s {
		out[i] = r.Raw()
	}
	if len(out) == 0 {
		return out
	}

	closes, ok := out.Column(market.FieldClose)
	if !all(ok) {
		return out
	}
	highs, hok := out.Column(market.FieldHigh)
	lows, lok := out.Column(market.FieldLow)
	for i := range closes {
		// close-only series (index levels, some FX feeds) use close as range
		if !hok[i] {
			highs[i] = closes[i]
		}
		if !lok[i] {
			lows[i] = closes[i]
		}
	}

	set := func(name string, vals []Value) {
		for i, v := range vals {
			if v.OK {
				out[i].Set(name, v.V)
			}
		}
	}

	set(market.FieldSMA20, SMA(closes, 20))
	set(market.FieldSMA50, SMA(closes, 50))
	set(market.FieldSMA200, SMA(closes, 200))
	set(market.FieldEMA12, EMA(closes, MACDFast))
	set(market.FieldEMA26, EMA(closes, MACDSlow))
	set(market.FieldRSI14, RSI(closes, RSIPeriod))

	macd, signal, hist := MACD(closes, MACDFast, MACDSlow, MACDSignal)
	set(market.FieldMACD, macd)
	set(market.FieldMACDSignal, signal)
	set(market.FieldMACDHist, hist)

	mid, upper, lower := Bollinger(closes, BBPeriod, BBWidth)
	set(market.FieldBBMid, mid)
	set(market.FieldBBUpper, upper)
	set(market.FieldBBLower, lower)

	rets := Returns(closes)
	set(market.FieldReturn, rets)
	set(market.FieldVolatility20, RollingStdDev(rets, VolPeriod))

	k, d := Stochastic(highs, lows, closes, StochPeriod, StochSmooth, StochSmooth)
	set(market.FieldStochK, k)
	set(market.FieldStochD, d)

	set(market.FieldADX14, ADX(highs, lows, closes, ADXPeriod))

	return out
}

// MissingClose counts the rows without a close. Compute leaves a series with
// any such row without indicators.
func MissingClose(s market.Series) int {
	n := 0
	for _, r := range s {
		if _, ok := r.Get(market.FieldClose); !ok {
			n++
		}
	}
	return n
}

func all(ok []bool) bool {
	for _, b := range ok {
		if !b {
			return false
		}
	}
	return true
}

// Signal summarises the latest RSI and MACD histogram of a computed row,
// e.g. "RSI_OVERSOLD,MACD_BULLISH". It returns "NEUTRAL" when neither
// indicator is available.
func Signal(r market.Record) string {
	var sig []string
	if rsi, ok := r.Get(market.FieldRSI14); ok {
		switch {
		case rsi > 70:
			sig = append(sig, "RSI_OVERBOUGHT")
		case rsi < 30:
			sig = append(sig, "RSI_OVERSOLD")
		}
	}
	if h, ok := r.Get(market.FieldMACDHist); ok {
		if h > 0 {
			sig = append(sig, "MACD_BULLISH")
		} else {
			sig = append(sig, "MACD_BEARISH")
		}
	}
	if len(sig) == 0 {
		return "NEUTRAL"
	}
	return strings.Join(sig, ",")
}
