package session

// StepLog is the append-only record of everything that happened during an
// analysis. Entries are never reordered or rewritten.
type StepLog struct {
	steps []Step
}

func (l *StepLog) Append(s Step) {
	l.steps = append(l.steps, s)
}

// All returns a copy of the log.
func (l *StepLog) All() []Step {
	out := make([]Step, len(l.steps))
	copy(out, l.steps)
	return out
}

func (l *StepLog) Len() int { return len(l.steps) }

// Last returns the most recent step, or false when the log is empty.
func (l *StepLog) Last() (Step, bool) {
	if len(l.steps) == 0 {
		return Step{}, false
	}
	return l.steps[len(l.steps)-1], true
}
