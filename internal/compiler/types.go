/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package compiler turns a timed navigation plan into the sequence of phases
// a robot executes: move segments, door and lift interactions, mutex zone
// locks and traffic waits. It also commits the plan's reserved itinerary to
// the shared schedule.
package compiler

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/fleetplan/internal/models"
	"github.com/friendsincode/fleetplan/internal/phases"
	"github.com/friendsincode/fleetplan/internal/schedule"
	"github.com/friendsincode/fleetplan/internal/task"
)

var (
	// ErrNoFinishTime is returned for a plan whose itinerary has no
	// trajectory points.
	ErrNoFinishTime = errors.New("plan has no finish time")

	// ErrCommitRejected is returned when the schedule kept rejecting the
	// plan id. The caller should request a new plan.
	ErrCommitRejected = errors.New("itinerary commit rejected")
)

// CommitError is returned when an itinerary could not be committed. Attempts
// counts the schedule Set calls made before giving up.
type CommitError struct {
	Attempts int
	Err      error
}

func (e *CommitError) Error() string {
	if errors.Is(e.Err, ErrCommitRejected) {
		return fmt.Sprintf("%v after %d attempts", e.Err, e.Attempts)
	}
	return e.Err.Error()
}

func (e *CommitError) Unwrap() error { return e.Err }

// Kind tags a pending action.
type Kind int

const (
	KindDependencyOnly Kind = iota
	KindMove
	KindDock
	KindDoorOpen
	KindDoorClose
	KindLiftRequest
	KindLiftSessionEnd
)

func (k Kind) String() string {
	switch k {
	case KindDependencyOnly:
		return "dependency_only"
	case KindMove:
		return "move"
	case KindDock:
		return "dock"
	case KindDoorOpen:
		return "door_open"
	case KindDoorClose:
		return "door_close"
	case KindLiftRequest:
		return "lift_request"
	case KindLiftSessionEnd:
		return "lift_session_end"
	default:
		return "unknown"
	}
}

// PendingAction is one step of the flat action list. Only the fields that
// belong to its Kind are set.
type PendingAction struct {
	Kind         Kind
	Time         time.Time
	Dependencies []models.Dependency
	MutexLock    *phases.MutexLock

	// Move
	Waypoints []models.Waypoint

	// Dock, door open and door close
	Name    string
	Expires time.Time

	// Lift request and session end
	Lift     string
	Floor    string
	Located  phases.Located
	Finish   time.Time
	Localize *phases.Destination
}

// EstimateDuration is the planned travel time of a move.
func (a PendingAction) EstimateDuration() time.Duration {
	if a.Kind != KindMove || len(a.Waypoints) == 0 {
		return 0
	}
	return a.Waypoints[len(a.Waypoints)-1].Time.Sub(a.Waypoints[0].Time)
}

// Graph answers the navigation graph queries the compiler needs.
type Graph interface {
	NodeMutexGroup(index int) string
	LaneMutexGroup(index int) string
	NodeMap(index int) string
}

// Robot bundles what the compiler knows about the robot it compiles for.
type Robot struct {
	Name          string
	Group         string
	Graph         Graph
	Itinerary     schedule.Participant
	Phases        phases.Factory
	CurrentTaskID func() string
}

func (r Robot) taskID() string {
	if r.CurrentTaskID == nil {
		return "<none>"
	}
	if id := r.CurrentTaskID(); id != "" {
		return id
	}
	return "<none>"
}

// Options tunes compilation limits.
type Options struct {
	// MaxCommitAttempts bounds the number of schedule Set calls.
	MaxCommitAttempts int
	// DoorGroupTravelLimit is the most travel a door transit may contain.
	DoorGroupTravelLimit time.Duration
	// LiftDriftTolerance is the displacement inside a lift that is still
	// treated as map misalignment.
	LiftDriftTolerance float64
}

// DefaultOptions returns the standard limits.
func DefaultOptions() Options {
	return Options{
		MaxCommitAttempts:    5,
		DoorGroupTravelLimit: time.Minute,
		LiftDriftTolerance:   0.5,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxCommitAttempts <= 0 {
		o.MaxCommitAttempts = d.MaxCommitAttempts
	}
	if o.DoorGroupTravelLimit <= 0 {
		o.DoorGroupTravelLimit = d.DoorGroupTravelLimit
	}
	if o.LiftDriftTolerance <= 0 {
		o.LiftDriftTolerance = d.LiftDriftTolerance
	}
	return o
}

// Request is the input of one compilation.
type Request struct {
	RecommendedPlanID models.PlanID
	Plan              models.Plan
	FullItinerary     models.Itinerary
	IDs               *task.IDs
	State             *task.State
	Update            task.UpdateFn
	Finished          func()
	// TailPeriod, when set, keeps the sequence running until the time of the
	// last action even if the robot arrives early.
	TailPeriod *time.Duration
}

// CompiledPlan is a committed plan and its running sequence.
type CompiledPlan struct {
	Plan           models.Plan
	PlanID         models.PlanID
	FinishTime     time.Time
	CommitAttempts int
	Actions        []PendingAction
	Sequence       task.Active
}

// Labels returns the names of the top-level events of the sequence.
func (p *CompiledPlan) Labels() []string {
	return p.Sequence.State().Names()
}

// Compiler compiles plans for one robot.
type Compiler struct {
	robot  Robot
	opts   Options
	logger zerolog.Logger
}

// New creates a compiler for robot.
func New(robot Robot, opts Options, logger zerolog.Logger) *Compiler {
	return &Compiler{
		robot: robot,
		opts:  opts.withDefaults(),
		logger: logger.With().
			Str("component", "plan_compiler").
			Str("robot", robot.Name).
			Str("group", robot.Group).
			Logger(),
	}
}
