package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/rustyeddy/marketsync/market"
)

// Bar is the parquet row of a price series. Absent values are null.
type Bar struct {
	Time   string   `parquet:"time"`
	Open   *float64 `parquet:"open,optional"`
	High   *float64 `parquet:"high,optional"`
	Low    *float64 `parquet:"low,optional"`
	Close  *float64 `parquet:"close,optional"`
	Volume *float64 `parquet:"volume,optional"`

	SMA20        *float64 `parquet:"sma_20,optional"`
	SMA50        *float64 `parquet:"sma_50,optional"`
	SMA200       *float64 `parquet:"sma_200,optional"`
	EMA12        *float64 `parquet:"ema_12,optional"`
	EMA26        *float64 `parquet:"ema_26,optional"`
	RSI14        *float64 `parquet:"rsi_14,optional"`
	MACD         *float64 `parquet:"macd,optional"`
	MACDSignal   *float64 `parquet:"macd_signal,optional"`
	MACDHist     *float64 `parquet:"macd_hist,optional"`
	BBMid        *float64 `parquet:"bb_mid,optional"`
	BBUpper      *float64 `parquet:"bb_upper,optional"`
	BBLower      *float64 `parquet:"bb_lower,optional"`
	Return       *float64 `parquet:"return,optional"`
	Volatility20 *float64 `parquet:"volatility_20,optional"`
	StochK       *float64 `parquet:"stoch_k,optional"`
	StochD       *float64 `parquet:"stoch_d,optional"`
	ADX14        *float64 `parquet:"adx_14,optional"`
}

func (b *Bar) fields() map[string]**float64 {
	return map[string]**float64{
		market.FieldOpen:         &b.Open,
		market.FieldHigh:         &b.High,
		market.FieldLow:          &b.Low,
		market.FieldClose:        &b.Close,
		market.FieldVolume:       &b.Volume,
		market.FieldSMA20:        &b.SMA20,
		market.FieldSMA50:        &b.SMA50,
		market.FieldSMA200:       &b.SMA200,
		market.FieldEMA12:        &b.EMA12,
		market.FieldEMA26:        &b.EMA26,
		market.FieldRSI14:        &b.RSI14,
		market.FieldMACD:         &b.MACD,
		market.FieldMACDSignal:   &b.MACDSignal,
		market.FieldMACDHist:     &b.MACDHist,
		market.FieldBBMid:        &b.BBMid,
		market.FieldBBUpper:      &b.BBUpper,
		market.FieldBBLower:      &b.BBLower,
		market.FieldReturn:       &b.Return,
		market.FieldVolatility20: &b.Volatility20,
		market.FieldStochK:       &b.StochK,
		market.FieldStochD:       &b.StochD,
		market.FieldADX14:        &b.ADX14,
	}
}

// ToBars converts a series; fields without a parquet column are dropped.
func ToBars(s market.Series) []Bar {
	out := make([]Bar, len(s))
	for i, r := range s {
		out[i].Time = r.Key.String()
		for name, dst := range out[i].fields() {
			if v, ok := r.Get(name); ok {
				v := v
				*dst = &v
			}
		}
	}
	return out
}

// FromBars converts parquet rows back into a series.
func FromBars(bars []Bar) (market.Series, error) {
	out := make(market.Series, 0, len(bars))
	for i := range bars {
		k, err := market.ParseKey(bars[i].Time)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		r := market.NewRecord(k)
		for name, src := range bars[i].fields() {
			if *src != nil {
				r.Set(name, **src)
			}
		}
		out = append(out, r)
	}
	return out, out.Validate()
}

// ParquetMirror writes <root>/<category>/<id>.parquet next to the CSV.
type ParquetMirror struct {
	Root string
}

var _ Mirror = (*ParquetMirror)(nil)

func (m *ParquetMirror) Path(e market.Entity) string {
	return PathFor(m.Root, e, ".parquet")
}

func (m *ParquetMirror) Write(ctx context.Context, e market.Entity, s market.Series) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := m.Path(e)
	bars := ToBars(s)
	err := atomicWrite(path, func(w io.Writer) error {
		return parquet.Write(w, bars)
	})
	if err != nil {
		return &StoreIOError{Op: "mirror", Path: path, Err: err}
	}
	return nil
}

// Read loads the mirrored series; a missing file is an empty series.
func (m *ParquetMirror) Read(e market.Entity) (market.Series, error) {
	path := m.Path(e)
	bars, err := parquet.ReadFile[Bar](path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &StoreIOError{Op: "load", Path: path, Err: err}
	}
	return FromBars(bars)
}
