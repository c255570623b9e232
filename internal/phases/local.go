/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package phases

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/fleetplan/internal/models"
	"github.com/friendsincode/fleetplan/internal/mutexzone"
	"github.com/friendsincode/fleetplan/internal/schedule"
	"github.com/friendsincode/fleetplan/internal/task"
)

const (
	defaultLease        = 30 * time.Second
	defaultPollInterval = 250 * time.Millisecond
)

// LocalConfig configures a Local factory.
type LocalConfig struct {
	Robot        string
	Locker       mutexzone.Locker
	Itinerary    schedule.Participant
	Lease        time.Duration
	PollInterval time.Duration
}

// Local is a Factory for dry runs and simulation. Motion, door and lift
// phases record what they would do and complete at once. Mutex locks are
// really acquired through the Locker, and WaitUntil really waits.
type Local struct {
	robot     string
	locker    mutexzone.Locker
	itinerary schedule.Participant
	lease     time.Duration
	poll      time.Duration
	logger    zerolog.Logger
	now       func() time.Time
}

// NewLocal creates a Local factory.
func NewLocal(cfg LocalConfig, logger zerolog.Logger) *Local {
	if cfg.Lease <= 0 {
		cfg.Lease = defaultLease
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Locker == nil {
		cfg.Locker = mutexzone.NewMemoryLocker()
	}
	return &Local{
		robot:     cfg.Robot,
		locker:    cfg.Locker,
		itinerary: cfg.Itinerary,
		lease:     cfg.Lease,
		poll:      cfg.PollInterval,
		logger:    logger.With().Str("component", "phases").Str("robot", cfg.Robot).Logger(),
		now:       time.Now,
	}
}

func (l *Local) record(ids *task.IDs, update task.UpdateFn, name, detail string, d time.Duration, msg string) task.Standby {
	state := task.NewState(ids.Assign(), name, detail)
	return task.NewFunc(state, d, update, func(ctx context.Context, state *task.State) error {
		state.Log().Info(msg)
		l.logger.Debug().Str("phase", name).Msg(msg)
		return ctx.Err()
	})
}

func (l *Local) Move(req MoveRequest, ids *task.IDs, update task.UpdateFn) task.Standby {
	var d time.Duration
	detail := ""
	if n := len(req.Waypoints); n > 0 {
		d = req.Waypoints[n-1].Time.Sub(req.Waypoints[0].Time)
		last := req.Waypoints[n-1].Position
		detail = fmt.Sprintf("to (%.2f, %.2f)", last.X, last.Y)
	}
	msg := fmt.Sprintf("moving through %d waypoints", len(req.Waypoints))
	if req.Tail != nil {
		msg += fmt.Sprintf(" with %s tail", req.Tail.String())
	}
	return l.record(ids, update, MoveName, detail, d, msg)
}

func (l *Local) Dock(dock string, ids *task.IDs, update task.UpdateFn) task.Standby {
	return l.record(ids, update, DockName(dock), "", 0, "docking into "+dock)
}

func (l *Local) DoorOpen(door, requester string, expires time.Time, ids *task.IDs, update task.UpdateFn) task.Standby {
	msg := fmt.Sprintf("[%s] requested [door:%s] open until %s", requester, door, expires.Format(time.RFC3339))
	return l.record(ids, update, DoorOpenName(door), "", 0, msg)
}

func (l *Local) DoorClose(door, requester string, ids *task.IDs, update task.UpdateFn) task.Standby {
	msg := fmt.Sprintf("[%s] released [door:%s]", requester, door)
	return l.record(ids, update, DoorCloseName(door), "", 0, msg)
}

func (l *Local) RequestLift(req LiftRequest, ids *task.IDs, update task.UpdateFn) task.Standby {
	msg := fmt.Sprintf("requested [lift:%s] to [floor:%s] from %s by %s",
		req.Lift, req.Floor, req.Located, req.Finish.Format(time.RFC3339))
	if req.Localize != nil {
		msg += " then localize on " + req.Localize.Map
	}
	return l.record(ids, update, LiftRequestName(req.Lift, req.Floor, req.Located), "", 0, msg)
}

func (l *Local) EndLiftSession(lift, floor string, ids *task.IDs, update task.UpdateFn) task.Standby {
	return l.record(ids, update, EndLiftSessionName(lift), "", 0,
		fmt.Sprintf("ended session with [lift:%s] on [floor:%s]", lift, floor))
}

func (l *Local) WaitForTraffic(deps []models.Dependency, at time.Time, planID *models.PlanID, ids *task.IDs, update task.UpdateFn) task.Standby {
	state := task.NewState(ids.Assign(), WaitForTrafficName, fmt.Sprintf("%d dependencies", len(deps)))
	return task.NewFunc(state, 0, update, func(ctx context.Context, state *task.State) error {
		for _, dep := range deps {
			state.Log().Info(fmt.Sprintf("dependency on [%s] plan [%d] route [%d] checkpoint [%d] cleared",
				dep.Participant, dep.Plan, dep.Route, dep.Checkpoint))
		}
		if planID != nil {
			l.logger.Debug().Uint64("plan_id", uint64(*planID)).Time("at", at).Int("dependencies", len(deps)).Msg("traffic wait cleared")
		}
		return ctx.Err()
	})
}

func (l *Local) WaitUntil(at time.Time, ids *task.IDs, update task.UpdateFn) task.Standby {
	state := task.NewState(ids.Assign(), WaitUntilName, at.Format(time.RFC3339))
	return task.NewFunc(state, 0, update, func(ctx context.Context, state *task.State) error {
		wait := at.Sub(l.now())
		if wait <= 0 {
			return nil
		}
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		}
	})
}

// LockMutexGroup blocks until the zone is granted to this robot, then
// commits the itinerary snapshot that goes with it.
func (l *Local) LockMutexGroup(lock MutexLock, ids *task.IDs, update task.UpdateFn) task.Standby {
	detail := fmt.Sprintf("hold on %s at (%.2f, %.2f)", lock.HoldMap, lock.HoldPosition.X, lock.HoldPosition.Y)
	state := task.NewState(ids.Assign(), LockMutexGroupName(lock.Group), detail)
	return task.NewFunc(state, 0, update, func(ctx context.Context, state *task.State) error {
		if err := l.acquire(ctx, state, update, lock.Group); err != nil {
			return err
		}
		state.Log().Info("acquired mutex group [" + lock.Group + "]")

		if l.itinerary == nil || lock.PlanID == nil || lock.Itinerary == nil {
			return nil
		}
		if err := l.itinerary.Set(ctx, *lock.PlanID, *lock.Itinerary); err != nil {
			return fmt.Errorf("commit itinerary after locking [%s]: %w", lock.Group, err)
		}
		return nil
	})
}

func (l *Local) acquire(ctx context.Context, state *task.State, update task.UpdateFn, group string) error {
	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()

	blocked := false
	for {
		ok, err := l.locker.TryLock(ctx, group, l.robot, l.lease)
		if err != nil {
			return fmt.Errorf("lock mutex group [%s]: %w", group, err)
		}
		if ok {
			if blocked {
				_ = state.SetStatus(task.StatusUnderway)
				notifyUpdate(update)
			}
			return nil
		}
		if !blocked {
			blocked = true
			holder, _ := l.locker.Holder(ctx, group)
			state.Log().Info(fmt.Sprintf("waiting for [%s] to release mutex group [%s]", holder, group))
			_ = state.SetStatus(task.StatusBlocked)
			notifyUpdate(update)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func notifyUpdate(update task.UpdateFn) {
	if update != nil {
		update()
	}
}
