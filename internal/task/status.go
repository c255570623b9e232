/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package task provides the sequential event engine that runs compiled plans:
// event states with their diagnostic logs, standby/active events and the
// sequence bundle that runs children one at a time.
package task

import "errors"

// ErrInvalidTransition indicates an invalid status transition was attempted.
var ErrInvalidTransition = errors.New("invalid status transition")

// Status is the lifecycle stage of an event.
type Status string

const (
	StatusStandby   Status = "standby"
	StatusUnderway  Status = "underway"
	StatusBlocked   Status = "blocked"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

var validTransitions = map[Status][]Status{
	StatusStandby: {
		StatusUnderway,
		StatusCanceled,
		StatusFailed,
	},
	StatusUnderway: {
		StatusBlocked,
		StatusCompleted,
		StatusFailed,
		StatusCanceled,
	},
	StatusBlocked: {
		StatusUnderway,
		StatusCompleted,
		StatusFailed,
		StatusCanceled,
	},
}

// Finished reports whether no further transitions are possible.
func (s Status) Finished() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCanceled
}

func isValidTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
