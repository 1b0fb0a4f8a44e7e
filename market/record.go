package market

import (
	"math"
	"slices"
	"strconv"
	"strings"
)

// Raw price fields carried by price categories.
const (
	FieldOpen   = "open"
	FieldHigh   = "high"
	FieldLow    = "low"
	FieldClose  = "close"
	FieldVolume = "volume"
)

// PriceColumns is the canonical column order of raw price fields.
var PriceColumns = []string{FieldOpen, FieldHigh, FieldLow, FieldClose, FieldVolume}

// Derived indicator columns, in file order. They are recomputed over the
// whole series after every merge and never taken from providers.
const (
	FieldSMA20        = "sma_20"
	FieldSMA50        = "sma_50"
	FieldSMA200       = "sma_200"
	FieldEMA12        = "ema_12"
	FieldEMA26        = "ema_26"
	FieldRSI14        = "rsi_14"
	FieldMACD         = "macd"
	FieldMACDSignal   = "macd_signal"
	FieldMACDHist     = "macd_hist"
	FieldBBMid        = "bb_mid"
	FieldBBUpper      = "bb_upper"
	FieldBBLower      = "bb_lower"
	FieldReturn       = "return"
	FieldVolatility20 = "volatility_20"
	FieldStochK       = "stoch_k"
	FieldStochD       = "stoch_d"
	FieldADX14        = "adx_14"
)

var DerivedColumns = []string{
	FieldSMA20, FieldSMA50, FieldSMA200,
	FieldEMA12, FieldEMA26,
	FieldRSI14,
	FieldMACD, FieldMACDSignal, FieldMACDHist,
	FieldBBMid, FieldBBUpper, FieldBBLower,
	FieldReturn, FieldVolatility20,
	FieldStochK, FieldStochD,
	FieldADX14,
}

// IsDerived reports whether name is an indicator column.
func IsDerived(name string) bool {
	return slices.Contains(DerivedColumns, name)
}

// Record is one keyed row of a series. A field that is not present in
// Fields is absent, which is different from a value of zero.
type Record struct {
	Key    Key
	Fields map[string]float64
}

func NewRecord(k Key) Record {
	return Record{Key: k, Fields: make(map[string]float64)}
}

// NewPriceRecord builds an OHLCV record.
func NewPriceRecord(k Key, open, high, low, close, volume float64) Record {
	return Record{Key: k, Fields: map[string]float64{
		FieldOpen:   open,
		FieldHigh:   high,
		FieldLow:    low,
		FieldClose:  close,
		FieldVolume: volume,
	}}
}

// Get returns the value and whether it is present.
func (r Record) Get(name string) (float64, bool) {
	v, ok := r.Fields[name]
	return v, ok
}

// Set stores v; non-finite values are treated as absent.
func (r *Record) Set(name string, v float64) {
	if r.Fields == nil {
		r.Fields = make(map[string]float64)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		delete(r.Fields, name)
		return
	}
	r.Fields[name] = v
}

func (r Record) Clone() Record {
	out := Record{Key: r.Key, Fields: make(map[string]float64, len(r.Fields))}
	for k, v := range r.Fields {
		out.Fields[k] = v
	}
	return out
}

// Raw returns a copy without derived indicator fields.
func (r Record) Raw() Record {
	out := Record{Key: r.Key, Fields: make(map[string]float64, len(r.Fields))}
	for k, v := range r.Fields {
		if !IsDerived(k) {
			out.Fields[k] = v
		}
	}
	return out
}

// Canonical renders the fields in sorted order. Two records with the same
// canonical form carry the same data.
func (r Record) Canonical() string {
	names := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		names = append(names, k)
	}
	slices.Sort(names)

	var b strings.Builder
	b.WriteString(r.Key.String())
	for _, n := range names {
		b.WriteByte('|')
		b.WriteString(n)
		b.WriteByte('=')
		b.WriteString(strconv.FormatFloat(r.Fields[n], 'g', -1, 64))
	}
	return b.String()
}

// Equal compares key and every field bit for bit.
func (r Record) Equal(o Record) bool {
	if r.Key.Compare(o.Key) != 0 || len(r.Fields) != len(o.Fields) {
		return false
	}
	for k, v := range r.Fields {
		ov, ok := o.Fields[k]
		if !ok || math.Float64bits(v) != math.Float64bits(ov) {
			return false
		}
	}
	return true
}
