/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package compiler

import (
	"fmt"
	"time"

	"github.com/friendsincode/fleetplan/internal/models"
	"github.com/friendsincode/fleetplan/internal/phases"
)

// expansion carries the state of one event expansion across the waypoints
// of a lift ride.
type expansion struct {
	start      time.Time
	continuous bool
	movingLift bool
	lifting    time.Duration
}

// expand emits the actions for the event at waypoints[i]. While the robot is
// riding a lift it keeps consuming waypoints up to the next event. It returns
// the index of the last waypoint consumed and whether the next move run
// should start from it.
func (s *splitter) expand(waypoints []models.Waypoint, i int) (int, bool) {
	e := &expansion{start: waypoints[i].Time, continuous: true}
	s.expandEvent(e, waypoints[i])

	for e.movingLift && i+1 < len(waypoints) {
		prev := waypoints[i]
		i++
		wp := waypoints[i]
		if wp.Event == nil {
			if dist := wp.Position.DistanceXY(prev.Position); dist >= s.opts.LiftDriftTolerance {
				s.log.Warn(fmt.Sprintf("Plan involves a translation of [%.3fm] while inside a lift. "+
					"This may indicate an error in the navigation graph. "+
					"Please report this to the system integrator.", dist))
				s.logger.Warn().Float64("distance", dist).Msg("translation while inside a lift")
			}
			continue
		}
		s.expandEvent(e, wp)
	}

	return i, e.continuous
}

func (s *splitter) expandEvent(e *expansion, wp models.Waypoint) {
	ev := wp.Event
	base := PendingAction{
		Time:         e.start,
		Dependencies: wp.Dependencies,
		MutexLock:    s.lock,
	}

	switch ev.Kind {
	case models.LaneEventDock:
		base.Kind = KindDock
		base.Name = ev.Name
		s.emit(base)
		e.continuous = false

	case models.LaneEventDoorOpen:
		base.Kind = KindDoorOpen
		base.Name = ev.Name
		base.Expires = e.start.Add(ev.Duration)
		s.emit(base)
		e.continuous = true

	case models.LaneEventDoorClose:
		base.Kind = KindDoorClose
		base.Name = ev.Name
		s.emit(base)
		e.continuous = true

	case models.LaneEventLiftSessionBegin:
		base.Kind = KindLiftRequest
		base.Lift = ev.Lift
		base.Floor = ev.Floor
		base.Located = phases.Outside
		base.Finish = e.start
		s.emit(base)
		e.continuous = true

	case models.LaneEventLiftMove:
		e.lifting += ev.Duration
		e.movingLift = true
		e.continuous = true

	case models.LaneEventLiftDoorOpen:
		base.Kind = KindLiftRequest
		base.Lift = ev.Lift
		base.Floor = ev.Floor
		base.Located = phases.Inside
		base.Finish = e.start.Add(ev.Duration + e.lifting)
		base.Localize = &phases.Destination{
			Map:        ev.Floor,
			Position:   wp.Position,
			GraphIndex: wp.GraphIndex,
		}
		s.emit(base)
		e.movingLift = false
		e.continuous = true

	case models.LaneEventLiftSessionEnd:
		base.Kind = KindLiftSessionEnd
		base.Lift = ev.Lift
		base.Floor = ev.Floor
		s.emit(base)
		e.continuous = true

	case models.LaneEventWait:

	default:
		s.logger.Warn().Str("kind", string(ev.Kind)).Msg("ignoring unknown lane event")
	}
}
