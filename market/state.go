package market

import "time"

// SyncState is the per-entity bookkeeping read by the freshness gate and
// written by the coordinator after every attempt.
//
// LastSync only moves on a successful persist; a failed attempt records
// LastAttempt and LastError and leaves LastSync where it was.
type SyncState struct {
	Entity      Entity
	LastSync    time.Time
	LastKey     Key
	LastAttempt time.Time
	LastError   string
	Records     int
}

// Succeeded reports whether the most recent attempt persisted data.
func (s *SyncState) Succeeded() bool {
	return s != nil && s.LastError == "" && !s.LastSync.IsZero()
}

// StateFromSeries stands in for a missing journal row: the series' last key
// is taken as the last sync. It returns nil for an empty series.
func StateFromSeries(e Entity, s Series) *SyncState {
	k, ok := s.LastKey()
	if !ok {
		return nil
	}
	return &SyncState{Entity: e, LastSync: k.Time(), LastKey: k, Records: len(s)}
}
