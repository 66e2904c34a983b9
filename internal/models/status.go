package models

import "fmt"

// Status is the lifecycle state of a session. It only moves forward.
type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// transitions is the closed table of allowed status changes.
var transitions = map[Status][]Status{
	StatusWaiting:    {StatusInProgress},
	StatusInProgress: {StatusCompleted},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is allowed.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transition returns next, or an error when the change is not in the table.
func (s Status) Transition(next Status) (Status, error) {
	if !s.CanTransition(next) {
		return s, fmt.Errorf("illegal status transition %s -> %s", s, next)
	}
	return next, nil
}
