/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package compiler

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/fleetplan/internal/models"
	"github.com/friendsincode/fleetplan/internal/phases"
	"github.com/friendsincode/fleetplan/internal/task"
)

// splitter turns the waypoints of a plan into the flat, time ordered list of
// pending actions. It lives for one compilation.
type splitter struct {
	graph  Graph
	opts   Options
	log    *task.Log
	logger zerolog.Logger
	robot  string

	planID *models.PlanID
	finish time.Time
	full   models.Itinerary

	// previous is the itinerary snapshot that the next zone entry truncates.
	previous *models.Itinerary
	lock     *phases.MutexLock
	// runLock is the lock that was active when the current move run began.
	runLock *phases.MutexLock
	actions []PendingAction
}

func (s *splitter) emit(a PendingAction) {
	s.actions = append(s.actions, a)
}

func (s *splitter) emitMove(waypoints []models.Waypoint, at time.Time, deps []models.Dependency) {
	s.emit(PendingAction{
		Kind:         KindMove,
		Time:         at,
		Dependencies: deps,
		MutexLock:    s.runLock,
		Waypoints:    append([]models.Waypoint(nil), waypoints...),
	})
}

// split scans waypoints until every one of them is consumed.
func (s *splitter) split(waypoints []models.Waypoint) []PendingAction {
	var buffer []models.Waypoint
	for len(waypoints) > 0 {
		rest, broke := s.pass(waypoints, &buffer)
		if !broke {
			// End of the plan: the remaining run needs no dependencies.
			if len(buffer) > 1 {
				s.emitMove(buffer, s.finish, nil)
			}
			break
		}
		waypoints = rest
	}
	return s.actions
}

// pass buffers waypoints into a move run until something forces a break. It
// returns the waypoints still to be scanned and whether a break happened.
func (s *splitter) pass(waypoints []models.Waypoint, buffer *[]models.Waypoint) ([]models.Waypoint, bool) {
	for i := range waypoints {
		wp := waypoints[i]

		zone := s.membership(wp)
		if s.zoneChanged(zone) {
			if zone == "" {
				s.lock = nil
			} else if len(*buffer) > 1 {
				s.enterZone(zone, *buffer, waypoints[i:])
				*buffer = nil
				return waypoints[i:], true
			}
		}

		if len(*buffer) == 0 {
			s.runLock = s.lock
		}
		*buffer = append(*buffer, wp)

		if wp.Event != nil {
			if len(*buffer) > 1 {
				s.emitMove(*buffer, wp.Time, wp.Dependencies)
			}
			*buffer = nil

			last, continuous := s.expand(waypoints, i)
			if continuous {
				// The next run starts from the event waypoint.
				*buffer = []models.Waypoint{waypoints[last]}
				s.runLock = s.lock
			}
			return waypoints[last+1:], true
		}

		if len(wp.Dependencies) > 0 {
			if len(*buffer) > 1 {
				s.emitMove(*buffer, wp.Time, wp.Dependencies)
			} else {
				s.emit(PendingAction{
					Kind:         KindDependencyOnly,
					Time:         wp.Time,
					Dependencies: wp.Dependencies,
					MutexLock:    s.lock,
				})
			}
			*buffer = []models.Waypoint{wp}
			s.runLock = s.lock
			return waypoints[i+1:], true
		}
	}
	return nil, false
}
