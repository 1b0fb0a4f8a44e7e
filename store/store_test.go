package store

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/marketsync/market"
)

var aapl = market.Entity{ID: "AAPL", Category: market.Stock, Provider: "twelvedata"}

func sample() market.Series {
	a := market.NewPriceRecord(market.MustKey("2024-01-02"), 10, 11, 9, 10.5, 1000)
	b := market.NewPriceRecord(market.MustKey("2024-01-03"), 10.5, 12, 10, 11.25, 1200)
	b.Set(market.FieldReturn, 0.07142857142857142)
	return market.Series{a, b}
}

func TestCSVStore_RoundTrip(t *testing.T) {
	st := NewCSVStore(t.TempDir(), nil)
	ctx := context.Background()

	require.NoError(t, st.Save(ctx, aapl, sample()))

	got, err := st.Load(ctx, aapl)
	require.NoError(t, err)
	assert.True(t, sample().Equal(got))

	raw, err := os.ReadFile(st.Path(aapl))
	require.NoError(t, err)
	assert.Equal(t,
		"time,open,high,low,close,volume,return\n"+
			"2024-01-02,10,11,9,10.5,1000,\n"+
			"2024-01-03,10.5,12,10,11.25,1200,0.07142857142857142\n",
		string(raw))
}

func TestCSVStore_MissingFileIsEmpty(t *testing.T) {
	st := NewCSVStore(t.TempDir(), nil)
	got, err := st.Load(context.Background(), aapl)
	require.NoError(t, err)
	assert.Empty(t, got)

	info, err := st.Stat(aapl)
	require.NoError(t, err)
	assert.False(t, info.Exists)
}

func TestCSVStore_CorruptFileIsEmpty(t *testing.T) {
	tests := map[string]string{
		"bad header":    "when,open\n2024-01-01,1\n",
		"bad key":       "time,close\nyesterday,1\n",
		"bad number":    "time,close\n2024-01-01,abc\n",
		"out of order":  "time,close\n2024-01-02,1\n2024-01-01,2\n",
		"duplicate key": "time,close\n2024-01-01,1\n2024-01-01,2\n",
		"short row":     "time,open,close\n2024-01-01,1\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			st := NewCSVStore(t.TempDir(), nil)
			path := st.Path(aapl)
			require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

			got, err := st.Load(context.Background(), aapl)
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestReadCSV_BOMAndDateHeader(t *testing.T) {
	body := "\xEF\xBB\xBFdate,close,volume\n2024-01-01,1.5,\n2024-01-02,2,7\n"
	s, err := ReadCSV(strings.NewReader(body))
	require.NoError(t, err)
	require.Len(t, s, 2)

	_, ok := s[0].Get(market.FieldVolume)
	assert.False(t, ok, "empty cell is absent")
	v, _ := s[1].Get(market.FieldVolume)
	assert.Equal(t, 7.0, v)
}

func TestCSVStore_SaveIsAtomic(t *testing.T) {
	st := NewCSVStore(t.TempDir(), nil)
	ctx := context.Background()
	require.NoError(t, st.Save(ctx, aapl, sample()))
	before, err := os.ReadFile(st.Path(aapl))
	require.NoError(t, err)

	// a series that violates ordering is rejected before anything is written
	bad := market.Series{sample()[1], sample()[0]}
	err = st.Save(ctx, aapl, bad)
	var mie *market.MergeInvariantError
	assert.True(t, errors.As(err, &mie))

	after, err := os.ReadFile(st.Path(aapl))
	require.NoError(t, err)
	assert.Equal(t, before, after)

	_, err = os.Stat(st.Path(aapl) + ".part")
	assert.True(t, os.IsNotExist(err), "no temp file left behind")
}

func TestCSVStore_IOError(t *testing.T) {
	root := t.TempDir()
	// a regular file where the category directory should be
	require.NoError(t, os.WriteFile(filepath.Join(root, "stock"), nil, 0o644))

	st := NewCSVStore(root, nil)
	err := st.Save(context.Background(), aapl, sample())
	var ioErr *StoreIOError
	require.True(t, errors.As(err, &ioErr))
	assert.Equal(t, "save", ioErr.Op)
}

func TestCSVStore_CanceledContext(t *testing.T) {
	st := NewCSVStore(t.TempDir(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, st.Save(ctx, aapl, sample()), context.Canceled)

	_, err := os.Stat(st.Path(aapl))
	assert.True(t, os.IsNotExist(err))
}

func TestFileStem(t *testing.T) {
	assert.Equal(t, "BRK.B", FileStem("BRK.B"))
	assert.Equal(t, "EUR_USD", FileStem("EUR/USD"))
	assert.Equal(t, "_", FileStem(".."))
	assert.Equal(t, "^GSPC", FileStem("^GSPC"))
}

func TestSlotKey(t *testing.T) {
	a := market.Entity{ID: "BRK:B", Category: market.Stock}
	b := market.Entity{ID: "brk_b", Category: market.Stock}
	c := market.Entity{ID: "BRK_B", Category: market.Index}
	assert.Equal(t, SlotKey(a), SlotKey(b))
	assert.NotEqual(t, SlotKey(a), SlotKey(c))
	assert.Equal(t, "stock/brk_b", SlotKey(a))
}

type recordingMirror struct {
	got []market.Entity
	err error
}

func (m *recordingMirror) Write(_ context.Context, e market.Entity, _ market.Series) error {
	m.got = append(m.got, e)
	return m.err
}

func TestCSVStore_MirrorOnlyPriceSeries(t *testing.T) {
	m := &recordingMirror{err: errors.New("disk full")}
	st := NewCSVStore(t.TempDir(), nil)
	st.Mirror = m

	gdp := market.Entity{ID: "GDP", Category: market.Macro, Provider: "x"}
	require.NoError(t, st.Save(context.Background(), aapl, sample()), "mirror errors are not fatal")
	require.NoError(t, st.Save(context.Background(), gdp, nil))

	assert.Equal(t, []market.Entity{aapl}, m.got)
}

func TestParquetMirror_RoundTrip(t *testing.T) {
	root := t.TempDir()
	m := &ParquetMirror{Root: root}
	ctx := context.Background()

	empty, err := m.Read(aapl)
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, m.Write(ctx, aapl, sample()))
	got, err := m.Read(aapl)
	require.NoError(t, err)
	assert.True(t, sample().Equal(got))

	_, err = os.Stat(m.Path(aapl) + ".part")
	assert.True(t, os.IsNotExist(err))
}

func TestWriteCSV_Deterministic(t *testing.T) {
	var a, b bytes.Buffer
	require.NoError(t, WriteCSV(&a, sample()))
	require.NoError(t, WriteCSV(&b, sample().Clone()))
	assert.Equal(t, a.String(), b.String())
}
