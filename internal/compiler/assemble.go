/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package compiler

import (
	"github.com/friendsincode/fleetplan/internal/phases"
	"github.com/friendsincode/fleetplan/internal/task"
)

// appendAction adds the makers for one action: the zone lock if this is the
// first action needing it, the phase itself, then the traffic wait.
func (g *grouper) appendAction(out []task.MakeStandby, a PendingAction) []task.MakeStandby {
	out = g.appendLock(out, a)

	if mk := g.phaseMaker(a); mk != nil {
		out = append(out, mk)
	}

	if len(a.Dependencies) > 0 {
		deps := a.Dependencies
		at := a.Time
		out = append(out, func(update task.UpdateFn) task.Standby {
			return g.factory.WaitForTraffic(deps, at, g.planID, g.ids, update)
		})
	}
	return out
}

// appendLock adds a lock phase for a's descriptor unless one was already
// emitted for it.
func (g *grouper) appendLock(out []task.MakeStandby, a PendingAction) []task.MakeStandby {
	if a.MutexLock == nil || g.locked[a.MutexLock] {
		return out
	}
	g.locked[a.MutexLock] = true
	lock := *a.MutexLock
	f, ids := g.factory, g.ids
	return append(out, func(update task.UpdateFn) task.Standby {
		return f.LockMutexGroup(lock, ids, update)
	})
}

func (g *grouper) phaseMaker(a PendingAction) task.MakeStandby {
	f, ids := g.factory, g.ids
	switch a.Kind {
	case KindMove:
		req := phases.MoveRequest{Waypoints: a.Waypoints, PlanID: g.planID, Tail: g.tail}
		return func(update task.UpdateFn) task.Standby {
			return f.Move(req, ids, update)
		}
	case KindDock:
		dock := a.Name
		return func(update task.UpdateFn) task.Standby {
			return f.Dock(dock, ids, update)
		}
	case KindDoorOpen:
		door, requester, expires := a.Name, g.requester, a.Expires
		return func(update task.UpdateFn) task.Standby {
			return f.DoorOpen(door, requester, expires, ids, update)
		}
	case KindDoorClose:
		door, requester := a.Name, g.requester
		return func(update task.UpdateFn) task.Standby {
			return f.DoorClose(door, requester, ids, update)
		}
	case KindLiftRequest:
		req := phases.LiftRequest{
			Lift:     a.Lift,
			Floor:    a.Floor,
			Finish:   a.Finish,
			Located:  a.Located,
			PlanID:   g.planID,
			Localize: a.Localize,
		}
		return func(update task.UpdateFn) task.Standby {
			return f.RequestLift(req, ids, update)
		}
	case KindLiftSessionEnd:
		lift, floor := a.Lift, a.Floor
		return func(update task.UpdateFn) task.Standby {
			return f.EndLiftSession(lift, floor, ids, update)
		}
	default:
		return nil
	}
}

// assemble groups the actions and appends the trailing dwell if requested.
func (g *grouper) assemble(actions []PendingAction) []task.MakeStandby {
	makers := g.group(actions)
	if g.tail != nil && len(actions) > 0 {
		until := actions[len(actions)-1].Time
		f, ids := g.factory, g.ids
		makers = append(makers, func(update task.UpdateFn) task.Standby {
			return f.WaitUntil(until, ids, update)
		})
	}
	return makers
}
