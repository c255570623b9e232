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

// grouper converts pending actions into standby makers, bundling door
// transits and lift rides into labeled sequences.
type grouper struct {
	factory     phases.Factory
	ids         *task.IDs
	planID      *models.PlanID
	tail        *time.Duration
	requester   string
	travelLimit time.Duration
	log         *task.Log
	logger      zerolog.Logger

	// locked holds the lock descriptors that already have a lock phase.
	locked map[*phases.MutexLock]bool
	// liftQuietUntil suppresses repeated lift searches inside a span that
	// has already been diagnosed.
	liftQuietUntil int
}

func (g *grouper) group(actions []PendingAction) []task.MakeStandby {
	var out []task.MakeStandby
	head := 0
	for head < len(actions) {
		if makers, next, ok := g.doorGroup(actions, head); ok {
			out = append(out, makers...)
			head = next
			continue
		}
		if head >= g.liftQuietUntil {
			if makers, next, ok := g.liftGroup(actions, head); ok {
				out = append(out, makers...)
				head = next
				continue
			}
		}
		out = g.appendAction(out, actions[head])
		head++
	}
	return out
}

func doorGroupLabel(door string) string { return "Pass through [door:" + door + "]" }

func liftGroupLabel(lift, floor string) string {
	return "Take [lift:" + lift + "] to [floor:" + floor + "]"
}

// doorGroup looks for the close of the door opened at head with only a short
// amount of travel in between.
func (g *grouper) doorGroup(actions []PendingAction, head int) ([]task.MakeStandby, int, bool) {
	open := actions[head]
	if open.Kind != KindDoorOpen {
		return nil, 0, false
	}

	var travel time.Duration
	for tail := head + 1; tail < len(actions); tail++ {
		a := actions[tail]
		switch a.Kind {
		case KindDoorClose:
			if a.Name != open.Name {
				g.logger.Debug().Str("door", open.Name).Str("closed", a.Name).Msg("different door closed before door transit ended")
				return nil, 0, false
			}
			if g.locksMidway(actions[head : tail+1]) {
				g.logger.Debug().Str("door", open.Name).Msg("mutex group entered during door transit")
				return nil, 0, false
			}
			return g.bundle(doorGroupLabel(open.Name), actions[head:tail+1]), tail + 1, true
		case KindMove:
			travel += a.EstimateDuration()
			if travel > g.travelLimit {
				g.logger.Debug().Str("door", open.Name).Dur("travel", travel).Msg("too much travel for a door transit")
				return nil, 0, false
			}
		default:
			return nil, 0, false
		}
	}
	return nil, 0, false
}

// liftGroup looks for the end of the lift session started at head.
func (g *grouper) liftGroup(actions []PendingAction, head int) ([]task.MakeStandby, int, bool) {
	begin := actions[head]
	if begin.Kind != KindLiftRequest {
		return nil, 0, false
	}
	lift := begin.Lift

	for tail := head + 1; tail < len(actions); tail++ {
		a := actions[tail]
		switch a.Kind {
		case KindLiftRequest:
			if a.Lift != lift {
				g.warn("Plan involves using [lift:" + a.Lift + "] while the robot is already in a session with [lift:" +
					lift + "]. This may indicate a broken navigation graph. Please report this to the system integrator.")
				g.liftQuietUntil = tail
				return nil, 0, false
			}
		case KindLiftSessionEnd:
			if a.Lift != lift {
				g.warn("Plan involves ending a session with [lift:" + a.Lift + "] while [lift:" + lift +
					"] is in use. This may indicate a broken navigation graph. Please report this to the system integrator.")
				g.liftQuietUntil = tail
				return nil, 0, false
			}
			if g.locksMidway(actions[head : tail+1]) {
				g.logger.Debug().Str("lift", lift).Msg("mutex group entered during lift session")
				return nil, 0, false
			}
			return g.bundle(liftGroupLabel(lift, a.Floor), actions[head:tail+1]), tail + 1, true
		}
	}

	g.warn("Plan neglects to end a session with [lift:" + lift + "]. This may indicate a broken navigation graph. " +
		"Please report this to the system integrator.")
	g.liftQuietUntil = len(actions)
	return nil, 0, false
}

func (g *grouper) warn(msg string) {
	g.log.Warn(msg)
	g.logger.Warn().Msg(msg)
}

// locksMidway reports whether an action after the first one in span needs a
// zone lock that is not yet held when the span starts. Such a span is left
// ungrouped so the lock stays at its hold point.
func (g *grouper) locksMidway(span []PendingAction) bool {
	first := span[0].MutexLock
	for _, a := range span[1:] {
		if a.MutexLock != nil && a.MutexLock != first && !g.locked[a.MutexLock] {
			return true
		}
	}
	return false
}

// bundle wraps a span of actions into one labeled sequence. The span's zone
// lock, if any, is taken before the bundle starts.
func (g *grouper) bundle(label string, span []PendingAction) []task.MakeStandby {
	var out []task.MakeStandby
	for _, a := range span {
		out = g.appendLock(out, a)
	}

	var makers []task.MakeStandby
	for _, a := range span {
		makers = g.appendAction(makers, a)
	}
	state := task.NewState(g.ids.Assign(), label, "")
	return append(out, func(update task.UpdateFn) task.Standby {
		return task.NewSequence(makers, state, update)
	})
}
