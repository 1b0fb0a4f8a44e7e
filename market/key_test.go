package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKey(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"2024-01-02", "2024-01-02", false},
		{" 2024-01-02 ", "2024-01-02", false},
		{"2024-01-02T22:00:00.000000000Z", "2024-01-02", false},
		{"2024-01-02 15:04:05", "2024-01-02", false},
		{"2024-07", "2024-07", false},
		{"2024", "2024", false},
		{"2024-Q3", "2024-Q3", false},
		{"2024-q1", "2024-Q1", false},
		{"2024-Q5", "", true},
		{"", "", true},
		{"yesterday", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			k, err := ParseKey(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, k.String())
		})
	}
}

func TestKeyCompare(t *testing.T) {
	a := MustKey("2024-01-02")
	b := MustKey("2024-01-03")

	assert.Equal(t, -1, a.Compare(b))
	assert.Equal(t, 1, b.Compare(a))
	assert.Equal(t, 0, a.Compare(MustKey("2024-01-02T00:00:00Z")))
	assert.True(t, a.Before(b))
	assert.True(t, b.After(a))

	// A year and its first month share a start but are distinct keys.
	y := MustKey("2024")
	m := MustKey("2024-01")
	assert.NotEqual(t, 0, y.Compare(m))
	assert.True(t, MustKey("2024-Q2").After(MustKey("2024-03")))
}

func TestDateKey(t *testing.T) {
	ts := time.Date(2024, 3, 5, 23, 59, 0, 0, time.UTC)
	k := DateKey(ts)
	assert.Equal(t, "2024-03-05", k.String())
	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), k.Time())
}

func TestParseCategory(t *testing.T) {
	c, err := ParseCategory(" FX ")
	require.NoError(t, err)
	assert.Equal(t, FX, c)
	assert.True(t, c.IsPrice())
	assert.False(t, Macro.IsPrice())
	assert.True(t, Snapshot.IsSnapshot())

	_, err = ParseCategory("bonds")
	assert.Error(t, err)
}

func TestEntityValidate(t *testing.T) {
	assert.NoError(t, Entity{ID: "VNM", Category: Stock, Provider: "twelvedata"}.Validate())
	assert.Error(t, Entity{Category: Stock, Provider: "twelvedata"}.Validate())
	assert.Error(t, Entity{ID: "a/b", Category: Stock, Provider: "twelvedata"}.Validate())
	assert.Error(t, Entity{ID: "VNM", Category: "bonds", Provider: "twelvedata"}.Validate())
	assert.Error(t, Entity{ID: "VNM", Category: Stock}.Validate())
	assert.Equal(t, "stock/VNM", Entity{ID: "VNM", Category: Stock}.Key())
}
