package heartbeat

import "context"

// SubJobResult is one maintenance check's outcome, the raw material
// the Manager grades (spec.md §4.7: "Payload generation: given user
// state, emit zero or more sub-jobs ... If all sub-jobs return 'no
// change', the task's final output is the sentinel HEARTBEAT_OK").
type SubJobResult struct {
	Name    string
	Changed bool
	Summary string
}

// SubJob is one periodic maintenance check a heartbeat tick runs for
// a user. The four named in spec.md §4.7 (RSS check, watchlist
// refresh, reminder sweep, memory compaction) have no further
// domain detail in the spec, so they are stubbed here as always
// reporting no change. New always installs DefaultSubJobs, and
// Dispatcher exposes no way to replace them.
type SubJob interface {
	Name() string
	Run(ctx context.Context, userID string) (SubJobResult, error)
}

type noopSubJob struct{ name string }

func (j noopSubJob) Name() string { return j.name }

func (j noopSubJob) Run(ctx context.Context, userID string) (SubJobResult, error) {
	return SubJobResult{Name: j.name, Changed: false, Summary: "no change"}, nil
}

// DefaultSubJobs returns the four stub sub-jobs spec.md §4.7 names.
func DefaultSubJobs() []SubJob {
	return []SubJob{
		noopSubJob{name: "rss_check"},
		noopSubJob{name: "watchlist_refresh"},
		noopSubJob{name: "reminder_sweep"},
		noopSubJob{name: "memory_compaction"},
	}
}
