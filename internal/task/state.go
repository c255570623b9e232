/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package task

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// IDs hands out event ids that are unique within one task.
type IDs struct {
	next atomic.Uint64
}

// Assign returns the next id, starting at 1.
func (a *IDs) Assign() uint64 {
	return a.next.Add(1)
}

// State is the observable status of one event. Composite events list the
// states of their children as dependencies.
type State struct {
	mu     sync.RWMutex
	id     uint64
	name   string
	detail string
	status Status
	log    *Log
	deps   []*State
}

// NewState creates an event state in the standby status.
func NewState(id uint64, name, detail string) *State {
	return &State{
		id:     id,
		name:   name,
		detail: detail,
		status: StatusStandby,
		log:    NewLog(0),
	}
}

func (s *State) ID() uint64 { return s.id }

func (s *State) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

func (s *State) Detail() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.detail
}

func (s *State) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Log returns the diagnostic log of this event.
func (s *State) Log() *Log { return s.log }

// SetStatus moves the event to a new status, rejecting transitions out of a
// finished status.
func (s *State) SetStatus(status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !isValidTransition(s.status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.status, status)
	}
	s.status = status
	return nil
}

// Dependencies returns the child states.
func (s *State) Dependencies() []*State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*State(nil), s.deps...)
}

// SetDependencies replaces the child states.
func (s *State) SetDependencies(deps []*State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deps = append([]*State(nil), deps...)
}

// Names returns the names of the direct children, in order.
func (s *State) Names() []string {
	deps := s.Dependencies()
	out := make([]string, len(deps))
	for i, d := range deps {
		out[i] = d.Name()
	}
	return out
}
