// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import "fmt"

// Status is the phase of a session.
type Status string

const (
	StatusIdle           Status = "idle"
	StatusRunning        Status = "running"
	StatusNeedsUserInput Status = "needs_user_input"
	StatusCompleted      Status = "completed"
	StatusError          Status = "error"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// transitions is the status graph:
//
//	idle             → running           : question submitted
//	running          → needs_user_input  : clarifying question asked
//	running          → completed         : final SQL executed
//	running          → error             : fatal failure
//	needs_user_input → running           : resumed with a user response
var transitions = map[Status][]Status{
	StatusIdle:           {StatusRunning},
	StatusRunning:        {StatusNeedsUserInput, StatusCompleted, StatusError},
	StatusNeedsUserInput: {StatusRunning},
	StatusCompleted:      nil,
	StatusError:          nil,
}

// CanTransition reports whether from → to is allowed.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ValidTransitionsFrom returns the statuses reachable from from.
func ValidTransitionsFrom(from Status) []Status {
	return append([]Status(nil), transitions[from]...)
}

// Transition moves the state to status to.
//
// # Outputs
//
//   - error: ErrInvalidTransition if the graph does not allow it.
func (s *State) Transition(to Status) error {
	if !CanTransition(s.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, to)
	}
	s.Status = to
	return nil
}
