package job

// cleanupStack collects post-job steps during the single forward pass over
// the descriptor. Draining reverses registration order, so teardown runs
// opposite to acquisition: the last resource started is the first stopped.
type cleanupStack struct {
	steps []Step
}

// Push registers a cleanup step.
func (s *cleanupStack) Push(step Step) {
	s.steps = append(s.steps, step)
}

// Drain returns the stack's steps last-in first-out and empties it.
func (s *cleanupStack) Drain() []Step {
	out := make([]Step, 0, len(s.steps))
	for i := len(s.steps) - 1; i >= 0; i-- {
		out = append(out, s.steps[i])
	}
	s.steps = nil
	return out
}
