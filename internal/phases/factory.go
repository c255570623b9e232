/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package phases builds the executable actions that a compiled plan is made
// of. The compiler only decides which phases run and in what order; how each
// one performs its work belongs to the Factory implementation.
package phases

import (
	"time"

	"github.com/friendsincode/fleetplan/internal/models"
	"github.com/friendsincode/fleetplan/internal/task"
)

// Located says where the robot is relative to the lift cabin when it issues a
// lift request.
type Located string

const (
	Outside Located = "outside"
	Inside  Located = "inside"
)

// MoveRequest drives the robot through a run of waypoints.
type MoveRequest struct {
	Waypoints []models.Waypoint
	PlanID    *models.PlanID
	Tail      *time.Duration
}

// Destination is where the robot should localize after a lift ride.
type Destination struct {
	Map        string
	Position   models.Position
	GraphIndex *int
}

// LiftRequest summons a lift or asks it to carry the robot.
type LiftRequest struct {
	Lift     string
	Floor    string
	Finish   time.Time
	Located  Located
	PlanID   *models.PlanID
	Localize *Destination
}

// MutexLock describes the exclusive zone a run of actions needs and what to
// reserve once the zone is granted. Itinerary is shared with the compiler,
// which may shorten it when a later zone is entered.
type MutexLock struct {
	Group        string
	HoldMap      string
	HoldPosition models.Position
	HoldTime     time.Time
	PlanID       *models.PlanID
	Itinerary    *models.Itinerary
}

// Factory creates standby phases. Every method allocates event ids from ids
// and reports state changes through update.
type Factory interface {
	Move(req MoveRequest, ids *task.IDs, update task.UpdateFn) task.Standby
	Dock(dock string, ids *task.IDs, update task.UpdateFn) task.Standby
	DoorOpen(door, requester string, expires time.Time, ids *task.IDs, update task.UpdateFn) task.Standby
	DoorClose(door, requester string, ids *task.IDs, update task.UpdateFn) task.Standby
	RequestLift(req LiftRequest, ids *task.IDs, update task.UpdateFn) task.Standby
	EndLiftSession(lift, floor string, ids *task.IDs, update task.UpdateFn) task.Standby
	LockMutexGroup(lock MutexLock, ids *task.IDs, update task.UpdateFn) task.Standby
	WaitForTraffic(deps []models.Dependency, at time.Time, planID *models.PlanID, ids *task.IDs, update task.UpdateFn) task.Standby
	WaitUntil(at time.Time, ids *task.IDs, update task.UpdateFn) task.Standby
}

// Labels used for phase states.

func DockName(dock string) string { return "Dock into [dock:" + dock + "]" }

func DoorOpenName(door string) string { return "Open [door:" + door + "]" }

func DoorCloseName(door string) string { return "Close [door:" + door + "]" }

func LiftRequestName(lift, floor string, located Located) string {
	if located == Inside {
		return "Ride [lift:" + lift + "] to [floor:" + floor + "]"
	}
	return "Call [lift:" + lift + "] to [floor:" + floor + "]"
}

func EndLiftSessionName(lift string) string { return "End session with [lift:" + lift + "]" }

func LockMutexGroupName(group string) string { return "Lock mutex group [" + group + "]" }

const (
	MoveName           = "Move"
	WaitForTrafficName = "Wait for traffic"
	WaitUntilName      = "Wait until finish time"
)
