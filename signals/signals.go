// Package signals builds the latest-row summary of every price series.
package signals

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/rustyeddy/marketsync/indicators"
	"github.com/rustyeddy/marketsync/market"
	"github.com/rustyeddy/marketsync/store"
)

// Row is one entity's most recent values. Values only holds the fields
// present on the row.
type Row struct {
	Entity market.Entity
	Key    market.Key
	Values map[string]float64
	Signal string
}

// Columns are the fields reported per row, in output order.
var Columns = []string{
	market.FieldClose,
	market.FieldRSI14,
	market.FieldMACDHist,
	market.FieldSMA20,
	market.FieldSMA50,
}

// Latest loads every price entity from st and summarises its last row.
// Non-price entities and empty series are skipped.
func Latest(ctx context.Context, st store.Store, entities []market.Entity) ([]Row, error) {
	var rows []Row
	for _, e := range entities {
		if !e.Category.IsPrice() {
			continue
		}
		s, err := st.Load(ctx, e)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Key(), err)
		}
		if len(s) == 0 {
			continue
		}
		last := s[len(s)-1]
		row := Row{Entity: e, Key: last.Key, Values: map[string]float64{}, Signal: indicators.Signal(last)}
		for _, c := range Columns {
			if v, ok := last.Get(c); ok {
				row.Values[c] = v
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// WriteCSV writes rows with a header; absent values are empty cells.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	header := append([]string{"entity", "category", "time"}, Columns...)
	header = append(header, "signal")
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range rows {
		rec := []string{r.Entity.ID, string(r.Entity.Category), r.Key.String()}
		for _, c := range Columns {
			rec = append(rec, Format(r, c))
		}
		rec = append(rec, r.Signal)
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Format renders one value of r, or "" when it is absent.
func Format(r Row, col string) string {
	v, ok := r.Values[col]
	if !ok {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
