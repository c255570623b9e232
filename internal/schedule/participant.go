/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package schedule is the robot's handle on the shared traffic schedule: it
// hands out plan ids and registers reserved itineraries under them.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/friendsincode/fleetplan/internal/models"
)

// ErrPlanRejected is returned by Set when the plan id is older than the one
// the schedule currently holds for the participant.
var ErrPlanRejected = errors.New("plan id rejected")

// Participant is one robot's view of the shared schedule.
type Participant interface {
	// AssignPlanID returns an id greater than every id handed out or
	// committed so far.
	AssignPlanID(ctx context.Context) (models.PlanID, error)
	CurrentPlanID(ctx context.Context) (models.PlanID, error)
	// Set replaces the reserved itinerary. It fails with ErrPlanRejected when
	// id is older than the current plan id.
	Set(ctx context.Context, id models.PlanID, itinerary models.Itinerary) error
	Itinerary(ctx context.Context) (models.Itinerary, error)
}

func rejected(id, current models.PlanID) error {
	return fmt.Errorf("%w: plan [%d] is older than current plan [%d]", ErrPlanRejected, id, current)
}

// MemoryParticipant keeps the schedule entry in process memory.
type MemoryParticipant struct {
	mu        sync.Mutex
	name      string
	next      models.PlanID
	current   models.PlanID
	itinerary models.Itinerary
}

// NewMemoryParticipant creates an entry with no committed plan.
func NewMemoryParticipant(name string) *MemoryParticipant {
	return &MemoryParticipant{name: name}
}

func (m *MemoryParticipant) Name() string { return m.name }

func (m *MemoryParticipant) AssignPlanID(context.Context) (models.PlanID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.next < m.current {
		m.next = m.current
	}
	m.next++
	return m.next, nil
}

func (m *MemoryParticipant) CurrentPlanID(context.Context) (models.PlanID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current, nil
}

func (m *MemoryParticipant) Set(_ context.Context, id models.PlanID, itinerary models.Itinerary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id < m.current {
		return rejected(id, m.current)
	}
	m.current = id
	if m.next < id {
		m.next = id
	}
	m.itinerary = itinerary.Clone()
	return nil
}

func (m *MemoryParticipant) Itinerary(context.Context) (models.Itinerary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.itinerary.Clone(), nil
}
