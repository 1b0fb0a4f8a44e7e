package journal

import (
	"encoding/csv"
	"io"
	"strconv"
)

// WriteRunCSV writes one row per outcome.
func WriteRunCSV(w io.Writer, r Run) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"run_id", "entity", "status", "reason", "fetched", "records", "last_key", "attempts", "duration_ms"}); err != nil {
		return err
	}
	for _, o := range r.Outcomes {
		err := cw.Write([]string{
			r.ID,
			o.EntityKey,
			o.Status,
			o.Reason,
			strconv.Itoa(o.Fetched),
			strconv.Itoa(o.Records),
			o.LastKey,
			strconv.Itoa(o.Attempts),
			strconv.FormatInt(o.Duration.Milliseconds(), 10),
		})
		if err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
