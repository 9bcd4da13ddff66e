package engine

import "fmt"

// Transitions lists every status change the reducer may make. Staying in the
// same status is always allowed.
var Transitions = map[Status][]Status{
	StatusWaiting:         {StatusStarted},
	StatusStarted:         {StatusRoundInProgress},
	StatusRoundInProgress: {StatusEvaluating},
	StatusEvaluating:      {StatusRoundInProgress, StatusCompleted},
	StatusCompleted:       {},
}

func checkTransition(from, to Status) error {
	if from == to {
		return nil
	}
	for _, allowed := range Transitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrWrongState, from, to)
}

// moveTo changes the status along an edge of Transitions.
func (s *State) moveTo(to Status) error {
	if err := checkTransition(s.Status, to); err != nil {
		return err
	}
	s.Status = to
	return nil
}

// Terminal reports whether no further rounds or submissions are accepted.
func (s Status) Terminal() bool {
	return s == StatusCompleted
}
