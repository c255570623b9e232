/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package planfile reads planner output from YAML or JSON files. Times are
// given as second offsets from a start time so the same file can be replayed.
package planfile

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/friendsincode/fleetplan/internal/models"
)

// ErrNoWaypoints is returned for a file without waypoints.
var ErrNoWaypoints = errors.New("plan file has no waypoints")

// File is the on-disk plan format.
type File struct {
	Robot             string     `yaml:"robot"`
	Start             *time.Time `yaml:"start"`
	RecommendedPlanID uint64     `yaml:"recommended_plan_id"`
	Map               string     `yaml:"map"`
	Waypoints         []Waypoint `yaml:"waypoints"`
	Itinerary         []Route    `yaml:"itinerary"`
	Tail              string     `yaml:"tail"`
}

// Waypoint is one planner sample.
type Waypoint struct {
	At           float64             `yaml:"at"`
	X            float64             `yaml:"x"`
	Y            float64             `yaml:"y"`
	Yaw          float64             `yaml:"yaw"`
	Node         *int                `yaml:"node"`
	Lanes        []int               `yaml:"lanes"`
	Event        *Event              `yaml:"event"`
	Dependencies []models.Dependency `yaml:"dependencies"`
	Checkpoints  []models.Checkpoint `yaml:"checkpoints"`
}

// Event is a lane event with a Go duration string.
type Event struct {
	Kind     models.LaneEventKind `yaml:"kind"`
	Name     string               `yaml:"name"`
	Lift     string               `yaml:"lift"`
	Floor    string               `yaml:"floor"`
	Duration string               `yaml:"duration"`
}

// Route is one reserved trajectory.
type Route struct {
	Map        string  `yaml:"map"`
	Trajectory []Point `yaml:"trajectory"`
}

// Point is a timed pose of a route.
type Point struct {
	At  float64 `yaml:"at"`
	X   float64 `yaml:"x"`
	Y   float64 `yaml:"y"`
	Yaw float64 `yaml:"yaw"`
}

// Parse decodes a plan file. JSON input is accepted because it is valid YAML.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse plan file: %w", err)
	}
	if len(f.Waypoints) == 0 {
		return nil, ErrNoWaypoints
	}
	return &f, nil
}

// Load reads and parses the plan file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan file: %w", err)
	}
	return Parse(data)
}

// StartTime returns the file's start time, or now when it has none.
func (f *File) StartTime(now time.Time) time.Time {
	if f.Start != nil {
		return *f.Start
	}
	return now
}

// TailPeriod returns the configured tail, if any.
func (f *File) TailPeriod() (*time.Duration, error) {
	if f.Tail == "" {
		return nil, nil
	}
	d, err := time.ParseDuration(f.Tail)
	if err != nil {
		return nil, fmt.Errorf("tail: %w", err)
	}
	return &d, nil
}

// Plan converts the file into a planner plan anchored at start. Without an
// explicit itinerary a single route on Map is derived from the waypoints.
func (f *File) Plan(start time.Time) (models.Plan, error) {
	offset := func(sec float64) time.Time {
		return start.Add(time.Duration(sec * float64(time.Second)))
	}

	plan := models.Plan{Waypoints: make([]models.Waypoint, 0, len(f.Waypoints))}
	for i, w := range f.Waypoints {
		if i > 0 && w.At < f.Waypoints[i-1].At {
			return models.Plan{}, fmt.Errorf("waypoint %d: time goes backwards", i)
		}
		wp := models.Waypoint{
			Position:           models.Position{X: w.X, Y: w.Y, Yaw: w.Yaw},
			Time:               offset(w.At),
			GraphIndex:         w.Node,
			ApproachLanes:      w.Lanes,
			Dependencies:       w.Dependencies,
			ArrivalCheckpoints: w.Checkpoints,
		}
		if w.Event != nil {
			event, err := w.Event.laneEvent()
			if err != nil {
				return models.Plan{}, fmt.Errorf("waypoint %d: %w", i, err)
			}
			wp.Event = event
		}
		plan.Waypoints = append(plan.Waypoints, wp)
	}

	if len(f.Itinerary) == 0 {
		route := models.Route{Map: f.Map}
		for _, wp := range plan.Waypoints {
			route.Trajectory = append(route.Trajectory, models.TrajectoryPoint{Time: wp.Time, Position: wp.Position})
		}
		plan.Itinerary = models.Itinerary{route}
		return plan, nil
	}

	for i, r := range f.Itinerary {
		route := models.Route{Map: r.Map}
		for j, p := range r.Trajectory {
			if j > 0 && p.At < r.Trajectory[j-1].At {
				return models.Plan{}, fmt.Errorf("route %d point %d: time goes backwards", i, j)
			}
			route.Trajectory = append(route.Trajectory, models.TrajectoryPoint{
				Time:     offset(p.At),
				Position: models.Position{X: p.X, Y: p.Y, Yaw: p.Yaw},
			})
		}
		plan.Itinerary = append(plan.Itinerary, route)
	}
	return plan, nil
}

func (e *Event) laneEvent() (*models.LaneEvent, error) {
	var d time.Duration
	if e.Duration != "" {
		parsed, err := time.ParseDuration(e.Duration)
		if err != nil {
			return nil, fmt.Errorf("event duration: %w", err)
		}
		d = parsed
	}
	event := &models.LaneEvent{Kind: e.Kind, Name: e.Name, Lift: e.Lift, Floor: e.Floor, Duration: d}
	if err := event.Validate(); err != nil {
		return nil, err
	}
	return event, nil
}
