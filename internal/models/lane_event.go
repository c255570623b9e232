/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"fmt"
	"time"
)

// LaneEventKind enumerates the symbolic events a graph lane can carry.
type LaneEventKind string

const (
	LaneEventDock             LaneEventKind = "dock"
	LaneEventDoorOpen         LaneEventKind = "door_open"
	LaneEventDoorClose        LaneEventKind = "door_close"
	LaneEventLiftSessionBegin LaneEventKind = "lift_session_begin"
	LaneEventLiftMove         LaneEventKind = "lift_move"
	LaneEventLiftDoorOpen     LaneEventKind = "lift_door_open"
	LaneEventLiftSessionEnd   LaneEventKind = "lift_session_end"
	LaneEventWait             LaneEventKind = "wait"
)

// LaneEvent is attached to at most one waypoint. Name holds the dock or door
// name; Lift and Floor are used by the lift kinds.
type LaneEvent struct {
	Kind     LaneEventKind `json:"kind" yaml:"kind"`
	Name     string        `json:"name,omitempty" yaml:"name,omitempty"`
	Lift     string        `json:"lift,omitempty" yaml:"lift,omitempty"`
	Floor    string        `json:"floor,omitempty" yaml:"floor,omitempty"`
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`
}

func DockEvent(dock string, duration time.Duration) *LaneEvent {
	return &LaneEvent{Kind: LaneEventDock, Name: dock, Duration: duration}
}

func DoorOpenEvent(door string, duration time.Duration) *LaneEvent {
	return &LaneEvent{Kind: LaneEventDoorOpen, Name: door, Duration: duration}
}

func DoorCloseEvent(door string, duration time.Duration) *LaneEvent {
	return &LaneEvent{Kind: LaneEventDoorClose, Name: door, Duration: duration}
}

func LiftSessionBeginEvent(lift, floor string, duration time.Duration) *LaneEvent {
	return &LaneEvent{Kind: LaneEventLiftSessionBegin, Lift: lift, Floor: floor, Duration: duration}
}

func LiftMoveEvent(lift, floor string, duration time.Duration) *LaneEvent {
	return &LaneEvent{Kind: LaneEventLiftMove, Lift: lift, Floor: floor, Duration: duration}
}

func LiftDoorOpenEvent(lift, floor string, duration time.Duration) *LaneEvent {
	return &LaneEvent{Kind: LaneEventLiftDoorOpen, Lift: lift, Floor: floor, Duration: duration}
}

func LiftSessionEndEvent(lift, floor string, duration time.Duration) *LaneEvent {
	return &LaneEvent{Kind: LaneEventLiftSessionEnd, Lift: lift, Floor: floor, Duration: duration}
}

func WaitEvent(duration time.Duration) *LaneEvent {
	return &LaneEvent{Kind: LaneEventWait, Duration: duration}
}

// Validate checks that the fields required by the event kind are present.
func (e LaneEvent) Validate() error {
	switch e.Kind {
	case LaneEventDock, LaneEventDoorOpen, LaneEventDoorClose:
		if e.Name == "" {
			return fmt.Errorf("%s event requires a name", e.Kind)
		}
	case LaneEventLiftSessionBegin, LaneEventLiftMove, LaneEventLiftDoorOpen, LaneEventLiftSessionEnd:
		if e.Lift == "" {
			return fmt.Errorf("%s event requires a lift", e.Kind)
		}
	case LaneEventWait:
	default:
		return fmt.Errorf("unknown lane event kind %q", e.Kind)
	}
	if e.Duration < 0 {
		return fmt.Errorf("%s event has negative duration", e.Kind)
	}
	return nil
}
