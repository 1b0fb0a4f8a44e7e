package journal

import (
	"io"
	"text/template"
	"time"
)

var reportFuncs = template.FuncMap{
	"ms": func(d time.Duration) string { return d.Round(time.Millisecond).String() },
	"orDash": func(s string) string {
		if s == "" {
			return "-"
		}
		return s
	},
}

const reportTemplate = `* SYNC RUN {{.ID}}
:PROPERTIES:
:STARTED:   {{.Started.Format "2006-01-02 15:04:05"}}
:FINISHED:  {{.Finished.Format "2006-01-02 15:04:05"}}
:UPDATED:   {{.Count "updated"}}
:SKIPPED:   {{.Count "skipped_fresh"}}
:FAILED:    {{.Count "failed"}}
:END:

| Entity | Status | Fetched | Records | Last key | Attempts | Took | Reason |
|--------+--------+---------+---------+----------+----------+------+--------|
{{- range .Outcomes }}
| {{.EntityKey}} | {{.Status}} | {{.Fetched}} | {{.Records}} | {{orDash .LastKey}} | {{.Attempts}} | {{ms .Duration}} | {{orDash .Reason}} |
{{- end }}
`

var reportTmpl = template.Must(template.New("run").Funcs(reportFuncs).Parse(reportTemplate))

// WriteReport renders r as an org-mode block with a table of outcomes.
func WriteReport(w io.Writer, r Run) error {
	return reportTmpl.Execute(w, &r)
}
