package freshness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rustyeddy/marketsync/market"
)

func TestNeedsRefresh(t *testing.T) {
	now := time.Date(2024, 6, 10, 18, 0, 0, 0, time.UTC)
	p := NewPolicy()

	synced := func(ago time.Duration) *market.SyncState {
		return &market.SyncState{LastSync: now.Add(-ago)}
	}

	tests := []struct {
		name  string
		state *market.SyncState
		want  bool
	}{
		{"no state", nil, true},
		{"never succeeded", &market.SyncState{LastAttempt: now, LastError: "boom"}, true},
		{"19h59m", synced(19*time.Hour + 59*time.Minute), false},
		{"exactly 20h", synced(20 * time.Hour), false},
		{"20h01m", synced(20*time.Hour + time.Minute), true},
		{"a week", synced(7 * 24 * time.Hour), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.NeedsRefresh(tt.state, now, market.Stock))
		})
	}
}

func TestPerCategoryMaxAge(t *testing.T) {
	now := time.Date(2024, 6, 10, 18, 0, 0, 0, time.UTC)
	p := Policy{
		Default: 20 * time.Hour,
		MaxAge:  map[market.Category]time.Duration{market.Crypto: 6 * time.Hour},
	}
	st := &market.SyncState{LastSync: now.Add(-7 * time.Hour)}

	assert.True(t, p.NeedsRefresh(st, now, market.Crypto))
	assert.False(t, p.NeedsRefresh(st, now, market.Stock))
	assert.Equal(t, 6*time.Hour, p.For(market.Crypto))
	assert.Equal(t, DefaultMaxAge, Policy{}.For(market.FX))
}

func TestMode(t *testing.T) {
	p := NewPolicy()
	assert.Equal(t, ModeReplace, p.Mode(market.Snapshot))
	assert.Equal(t, ModeMerge, p.Mode(market.Macro))
	assert.Equal(t, ModeMerge, p.Mode(market.FX))
	assert.Equal(t, "replace", ModeReplace.String())
}

func TestAge(t *testing.T) {
	now := time.Now()
	assert.Equal(t, time.Duration(-1), Age(nil, now))
	assert.Equal(t, time.Hour, Age(&market.SyncState{LastSync: now.Add(-time.Hour)}, now))
}
