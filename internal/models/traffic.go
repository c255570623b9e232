/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"math"
	"time"
)

// PlanID identifies one itinerary revision of a schedule participant.
type PlanID uint64

// Position is a planar pose on a map.
type Position struct {
	X   float64 `json:"x" yaml:"x"`
	Y   float64 `json:"y" yaml:"y"`
	Yaw float64 `json:"yaw" yaml:"yaw"`
}

// DistanceXY returns the planar distance to other, ignoring yaw.
func (p Position) DistanceXY(other Position) float64 {
	return math.Hypot(p.X-other.X, p.Y-other.Y)
}

// Dependency refers to a reserved segment of another participant's plan that
// must be reached before this robot may continue.
type Dependency struct {
	Participant string `json:"participant" yaml:"participant"`
	Plan        PlanID `json:"plan" yaml:"plan"`
	Route       int    `json:"route" yaml:"route"`
	Checkpoint  int    `json:"checkpoint" yaml:"checkpoint"`
}

// Checkpoint marks how far along a reserved route the robot commits to travel
// when it arrives at a waypoint.
type Checkpoint struct {
	Route int `json:"route" yaml:"route"`
	Index int `json:"index" yaml:"index"`
}

// Waypoint is one timed sample of a navigation plan.
type Waypoint struct {
	Position           Position     `json:"position"`
	Time               time.Time    `json:"time"`
	GraphIndex         *int         `json:"graph_index,omitempty"`
	ApproachLanes      []int        `json:"approach_lanes,omitempty"`
	Event              *LaneEvent   `json:"event,omitempty"`
	Dependencies       []Dependency `json:"dependencies,omitempty"`
	ArrivalCheckpoints []Checkpoint `json:"arrival_checkpoints,omitempty"`
}

// TrajectoryPoint is one timed pose of a reserved route.
type TrajectoryPoint struct {
	Time     time.Time `json:"time"`
	Position Position  `json:"position"`
}

// Route is a trajectory reserved on a single map.
type Route struct {
	Map        string            `json:"map"`
	Trajectory []TrajectoryPoint `json:"trajectory"`
}

// Finish returns the time of the last trajectory point.
func (r Route) Finish() (time.Time, bool) {
	if len(r.Trajectory) == 0 {
		return time.Time{}, false
	}
	return r.Trajectory[len(r.Trajectory)-1].Time, true
}

// Itinerary is the set of routes backing one plan.
type Itinerary []Route

// Clone returns a deep copy so that truncating the copy leaves it intact.
func (it Itinerary) Clone() Itinerary {
	if it == nil {
		return nil
	}
	out := make(Itinerary, len(it))
	for i, r := range it {
		out[i] = Route{
			Map:        r.Map,
			Trajectory: append([]TrajectoryPoint(nil), r.Trajectory...),
		}
	}
	return out
}

// Plan is the output of the path planner for one robot.
type Plan struct {
	Waypoints []Waypoint `json:"waypoints"`
	Itinerary Itinerary  `json:"itinerary"`
}

// FinishTime returns the latest end time across all routes of the plan.
func (p Plan) FinishTime() (time.Time, bool) {
	var finish time.Time
	found := false
	for _, r := range p.Itinerary {
		t, ok := r.Finish()
		if !ok {
			continue
		}
		if !found || t.After(finish) {
			finish = t
			found = true
		}
	}
	return finish, found
}
