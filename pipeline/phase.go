package pipeline

// Phase is where an entity is in its sync.
type Phase int

const (
	Pending Phase = iota
	Gate
	Fetching
	Merging
	Computing
	Persisting
	Done
	Failed
)

var phaseNames = [...]string{
	Pending:    "pending",
	Gate:       "gate",
	Fetching:   "fetch",
	Merging:    "merge",
	Computing:  "compute",
	Persisting: "persist",
	Done:       "done",
	Failed:     "failed",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}
