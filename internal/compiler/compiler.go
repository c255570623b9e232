/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package compiler

import (
	"context"
	"errors"
	"fmt"

	"github.com/friendsincode/fleetplan/internal/models"
	"github.com/friendsincode/fleetplan/internal/phases"
	"github.com/friendsincode/fleetplan/internal/schedule"
	"github.com/friendsincode/fleetplan/internal/task"
	"github.com/friendsincode/fleetplan/internal/telemetry"
)

const executePlanName = "Execute plan"

// Compile turns req.Plan into a phase sequence, commits the plan's itinerary
// to the schedule and starts the sequence. Diagnostics are written to the log
// of req.State. The returned error is ErrNoFinishTime or a *CommitError, which
// wraps ErrCommitRejected when the schedule kept rejecting the plan id; in
// every case the caller should request a new plan.
func (c *Compiler) Compile(ctx context.Context, req Request) (*CompiledPlan, error) {
	finish, ok := req.Plan.FinishTime()
	if !ok {
		return nil, ErrNoFinishTime
	}

	ids := req.IDs
	if ids == nil {
		ids = &task.IDs{}
	}
	state := req.State
	if state == nil {
		state = task.NewState(ids.Assign(), executePlanName, "")
	}

	planID := new(models.PlanID)
	*planID = req.RecommendedPlanID
	initial := req.FullItinerary.Clone()

	s := &splitter{
		graph:    c.robot.Graph,
		opts:     c.opts,
		log:      state.Log(),
		logger:   c.logger,
		robot:    c.robot.Name,
		planID:   planID,
		finish:   finish,
		full:     req.FullItinerary,
		previous: &initial,
	}
	actions := s.split(req.Plan.Waypoints)

	g := &grouper{
		factory:     c.robot.Phases,
		ids:         ids,
		planID:      planID,
		tail:        req.TailPeriod,
		requester:   c.robot.Name,
		travelLimit: c.opts.DoorGroupTravelLimit,
		log:         state.Log(),
		logger:      c.logger,
		locked:      make(map[*phases.MutexLock]bool),
	}
	sequence := task.NewSequence(g.assemble(actions), state, req.Update)

	attempts, err := c.commit(ctx, planID, initial, state.Log())
	if err != nil {
		return nil, err
	}

	c.logger.Debug().
		Uint64("plan_id", uint64(*planID)).
		Int("actions", len(actions)).
		Int("attempts", attempts).
		Time("finish", finish).
		Msg("plan compiled")

	return &CompiledPlan{
		Plan:           req.Plan,
		PlanID:         *planID,
		FinishTime:     finish,
		CommitAttempts: attempts,
		Actions:        actions,
		Sequence:       sequence.Begin(context.WithoutCancel(ctx), req.Finished),
	}, nil
}

// commit registers itinerary under planID, taking a fresh plan id after each
// rejection. It returns the number of Set calls made; failures are reported
// as *CommitError.
func (c *Compiler) commit(ctx context.Context, planID *models.PlanID, itinerary models.Itinerary, log *task.Log) (int, error) {
	participant := c.robot.Itinerary
	for attempt := 1; ; attempt++ {
		err := participant.Set(ctx, *planID, itinerary)
		if err == nil {
			return attempt, nil
		}
		if !errors.Is(err, schedule.ErrPlanRejected) {
			telemetry.AddSpanEvent(ctx, telemetry.EventCommitFailed, map[string]any{
				"plan_id": uint64(*planID),
				"attempt": attempt,
			})
			return attempt, &CommitError{Attempts: attempt, Err: fmt.Errorf("commit itinerary: %w", err)}
		}

		// The current id is only reported; failing to read it does not stop
		// the retries.
		current, curErr := participant.CurrentPlanID(ctx)
		if curErr != nil {
			c.logger.Warn().Err(curErr).Uint64("plan_id", uint64(*planID)).Msg("read current plan id failed")
		}
		c.logger.Error().
			Uint64("plan_id", uint64(*planID)).
			Uint64("current_plan_id", uint64(current)).
			Str("task_id", c.robot.taskID()).
			Int("attempt", attempt).
			Msg("invalid plan id")
		log.Error(fmt.Sprintf("Invalid plan_id [%d] when current plan_id is [%d].", *planID, current))
		telemetry.AddSpanEvent(ctx, telemetry.EventCommitRejected, map[string]any{
			"plan_id":         uint64(*planID),
			"current_plan_id": uint64(current),
			"attempt":         attempt,
		})

		if attempt >= c.opts.MaxCommitAttempts {
			c.logger.Error().
				Str("task_id", c.robot.taskID()).
				Int("attempts", attempt).
				Msg("requesting replan because plan is repeatedly being rejected")
			return attempt, &CommitError{Attempts: attempt, Err: ErrCommitRejected}
		}

		next, err := participant.AssignPlanID(ctx)
		if err != nil {
			return attempt, &CommitError{Attempts: attempt, Err: fmt.Errorf("assign plan id: %w", err)}
		}
		*planID = next
	}
}
