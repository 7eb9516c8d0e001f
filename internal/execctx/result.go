package execctx

// Result is the terminal outcome recorded on a context, and on the root,
// the job's outcome.
type Result int

const (
	// Unfinished is the zero value; Complete has not run.
	Unfinished Result = iota
	// Succeeded: all work finished cleanly.
	Succeeded
	// SucceededWithIssues: finished, but warnings were raised.
	SucceededWithIssues
	// Failed: work errored or the host was shutting down.
	Failed
	// Canceled: a user-requested cancellation was observed.
	Canceled
	// Skipped: the step's condition evaluated false.
	Skipped
)

func (r Result) String() string {
	switch r {
	case Succeeded:
		return "succeeded"
	case SucceededWithIssues:
		return "succeededWithIssues"
	case Failed:
		return "failed"
	case Canceled:
		return "canceled"
	case Skipped:
		return "skipped"
	default:
		return "unfinished"
	}
}
