package market

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the textual format of daily keys in series files.
const DateLayout = "2006-01-02"

// Key identifies a record within a series: a calendar date for daily data
// or a period ("2024", "2024-07", "2024-Q3") for macro series.
//
// Keys order by period start, then by text so that a year and its first
// month never compare equal.
type Key struct {
	start int64 // period start, unix seconds UTC
	text  string
}

// DateKey truncates t to its UTC calendar day.
func DateKey(t time.Time) Key {
	t = t.UTC()
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return Key{start: d.Unix(), text: d.Format(DateLayout)}
}

// ParseKey accepts dates, RFC3339 / "2006-01-02 15:04:05" timestamps
// (truncated to the day), years, year-months and year-quarters.
func ParseKey(s string) (Key, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Key{}, fmt.Errorf("empty key")
	}

	if t, err := time.ParseInLocation(DateLayout, s, time.UTC); err == nil {
		return DateKey(t), nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return DateKey(t), nil
		}
	}
	if t, err := time.ParseInLocation("2006-01", s, time.UTC); err == nil {
		return Key{start: t.Unix(), text: t.Format("2006-01")}, nil
	}
	if len(s) == 4 {
		if y, err := strconv.Atoi(s); err == nil {
			t := time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC)
			return Key{start: t.Unix(), text: s}, nil
		}
	}
	if len(s) == 7 && (s[5] == 'Q' || s[5] == 'q') && s[4] == '-' {
		y, yerr := strconv.Atoi(s[:4])
		q, qerr := strconv.Atoi(s[6:])
		if yerr == nil && qerr == nil && q >= 1 && q <= 4 {
			t := time.Date(y, time.Month(3*(q-1)+1), 1, 0, 0, 0, 0, time.UTC)
			return Key{start: t.Unix(), text: fmt.Sprintf("%04d-Q%d", y, q)}, nil
		}
	}
	return Key{}, fmt.Errorf("unrecognised key %q", s)
}

// MustKey is ParseKey for literals; it panics on error.
func MustKey(s string) Key {
	k, err := ParseKey(s)
	if err != nil {
		panic(err)
	}
	return k
}

func (k Key) String() string { return k.text }
func (k Key) IsZero() bool   { return k.text == "" }

// Time returns the start of the period in UTC.
func (k Key) Time() time.Time { return time.Unix(k.start, 0).UTC() }

// Compare returns -1, 0 or +1.
func (k Key) Compare(o Key) int {
	switch {
	case k.start < o.start:
		return -1
	case k.start > o.start:
		return 1
	}
	return strings.Compare(k.text, o.text)
}

func (k Key) Before(o Key) bool { return k.Compare(o) < 0 }
func (k Key) After(o Key) bool  { return k.Compare(o) > 0 }
