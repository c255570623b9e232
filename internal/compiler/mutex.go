/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package compiler

import (
	"fmt"

	"github.com/friendsincode/fleetplan/internal/models"
	"github.com/friendsincode/fleetplan/internal/phases"
)

// membership returns the mutex group a waypoint is in: its node's group, or
// else the first approach lane that declares one.
func (s *splitter) membership(wp models.Waypoint) string {
	if wp.GraphIndex != nil {
		if group := s.graph.NodeMutexGroup(*wp.GraphIndex); group != "" {
			return group
		}
	}
	for _, lane := range wp.ApproachLanes {
		if group := s.graph.LaneMutexGroup(lane); group != "" {
			return group
		}
	}
	return ""
}

func (s *splitter) zoneChanged(zone string) bool {
	if s.lock == nil {
		return zone != ""
	}
	return s.lock.Group != zone
}

// enterZone ends the current run at its last waypoint, which becomes the
// point where the robot holds until the zone is granted. The actions after it
// carry a new lock descriptor.
func (s *splitter) enterZone(zone string, buffer, ahead []models.Waypoint) {
	hold := buffer[len(buffer)-1]
	holdMap := s.holdMap(hold, ahead)
	if holdMap == "" {
		msg := fmt.Sprintf("Cannot find a map for a mutex group [%s] transition needed by robot [%s]. "+
			"There are [%d] remaining waypoints.", zone, s.robot, len(ahead))
		s.log.Error(msg)
		s.logger.Error().Str("mutex_group", zone).Int("remaining", len(ahead)).Msg("no map for mutex group hold point")
	}

	truncateItinerary(s.previous, hold.ArrivalCheckpoints)

	s.emitMove(buffer, hold.Time, hold.Dependencies)

	next := s.full.Clone()
	s.lock = &phases.MutexLock{
		Group:        zone,
		HoldMap:      holdMap,
		HoldPosition: hold.Position,
		HoldTime:     hold.Time,
		PlanID:       s.planID,
		Itinerary:    &next,
	}
	s.previous = &next
}

func (s *splitter) holdMap(hold models.Waypoint, ahead []models.Waypoint) string {
	if hold.GraphIndex != nil {
		return s.graph.NodeMap(*hold.GraphIndex)
	}
	for _, wp := range ahead {
		if wp.GraphIndex != nil {
			return s.graph.NodeMap(*wp.GraphIndex)
		}
	}
	return ""
}

// truncateItinerary cuts each referenced route at its checkpoint, drops the
// routes after the last referenced one and drops routes left empty.
func truncateItinerary(it *models.Itinerary, checkpoints []models.Checkpoint) {
	if it == nil {
		return
	}
	routes := *it
	keep := 0
	for _, c := range checkpoints {
		if c.Route < 0 || c.Route >= len(routes) || c.Index < 0 {
			continue
		}
		if traj := routes[c.Route].Trajectory; c.Index < len(traj) {
			routes[c.Route].Trajectory = traj[:c.Index]
		}
		if c.Route+1 > keep {
			keep = c.Route + 1
		}
	}
	if keep == 0 {
		return
	}

	out := make(models.Itinerary, 0, keep)
	for _, r := range routes[:keep] {
		if len(r.Trajectory) > 0 {
			out = append(out, r)
		}
	}
	*it = out
}
