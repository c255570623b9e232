/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package planning runs plan compilations for one robot and reports their
// outcome to metrics, traces and the plan event bus.
package planning

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/fleetplan/internal/compiler"
	"github.com/friendsincode/fleetplan/internal/events"
	"github.com/friendsincode/fleetplan/internal/ledger"
	"github.com/friendsincode/fleetplan/internal/models"
	"github.com/friendsincode/fleetplan/internal/task"
	"github.com/friendsincode/fleetplan/internal/telemetry"
)

// Config identifies the robot the service plans for.
type Config struct {
	Robot string
	Group string
	// CurrentTaskID names the task being executed, for records and logs.
	CurrentTaskID func() string
}

// Result is the outcome of one compilation. Compiled is nil when the plan
// could not be committed.
type Result struct {
	Record   *models.CompilationRecord
	Compiled *compiler.CompiledPlan
	State    *task.State
}

// Service wraps a compiler with observability and keeps at most one plan
// running: a newly committed plan cancels the previous one.
type Service struct {
	compiler *compiler.Compiler
	cfg      Config
	bus      events.Broker
	logger   zerolog.Logger

	mu      sync.Mutex
	current *compiler.CompiledPlan
}

// NewService creates a planning service. A nil bus gets an in-process one.
func NewService(c *compiler.Compiler, cfg Config, bus events.Broker, logger zerolog.Logger) *Service {
	if bus == nil {
		bus = events.NewBus()
	}
	return &Service{
		compiler: c,
		cfg:      cfg,
		bus:      bus,
		logger:   logger.With().Str("component", "planning").Str("robot", cfg.Robot).Logger(),
	}
}

// Bus returns the broker outcomes are published on.
func (s *Service) Bus() events.Broker { return s.bus }

// Compile compiles and commits req. The returned Result is never nil; the
// error is the compiler's.
func (s *Service) Compile(ctx context.Context, req compiler.Request) (*Result, error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerName, "plan.compile")
	defer span.End()

	if req.IDs == nil {
		req.IDs = &task.IDs{}
	}
	if req.State == nil {
		req.State = task.NewState(req.IDs.Assign(), "Execute plan", "")
	}
	state := req.State

	rec := &models.CompilationRecord{
		ID:                uuid.NewString(),
		Participant:       s.cfg.Robot,
		FleetGroup:        s.cfg.Group,
		TaskID:            s.taskID(),
		RecommendedPlanID: uint64(req.RecommendedPlanID),
		Waypoints:         len(req.Plan.Waypoints),
		CreatedAt:         time.Now(),
	}
	telemetry.AddSpanAttributes(span, map[string]any{
		"fleet.robot":         s.cfg.Robot,
		"plan.recommended_id": rec.RecommendedPlanID,
		"plan.waypoints":      rec.Waypoints,
	})

	req.Update = s.onUpdate(state, req.Update)
	req.Finished = s.onFinished(rec.ID, state, req.Finished)

	start := time.Now()
	compiled, err := s.compiler.Compile(ctx, req)
	telemetry.CompileDuration.WithLabelValues(s.cfg.Robot).Observe(time.Since(start).Seconds())

	rec.Warnings = diagnostics(state.Log())
	var commitErr *compiler.CommitError
	if errors.As(err, &commitErr) {
		rec.CommitAttempts = commitErr.Attempts
	}

	switch {
	case err == nil:
		rec.Outcome = models.CompilationCommitted
		rec.PlanID = uint64(compiled.PlanID)
		rec.CommitAttempts = compiled.CommitAttempts
		rec.Actions = len(compiled.Actions)
		rec.Labels = compiled.Labels()
		finish := compiled.FinishTime
		rec.FinishAt = &finish
		s.replace(compiled)
	case errors.Is(err, compiler.ErrNoFinishTime):
		rec.Outcome = models.CompilationEmptyPlan
	case errors.Is(err, compiler.ErrCommitRejected):
		rec.Outcome = models.CompilationRejected
	default:
		rec.Outcome = models.CompilationFailed
	}
	if err != nil {
		rec.Error = err.Error()
		telemetry.RecordError(span, err)
	}

	s.observe(rec, state.Log())
	s.publish(rec)

	telemetry.AddSpanAttributes(span, map[string]any{
		"plan.outcome":  string(rec.Outcome),
		"plan.id":       rec.PlanID,
		"plan.attempts": rec.CommitAttempts,
		"plan.actions":  rec.Actions,
	})

	event := s.logger.Info()
	if err != nil {
		event = s.logger.Warn().Err(err)
	}
	event.
		Str("outcome", string(rec.Outcome)).
		Uint64("plan_id", rec.PlanID).
		Int("attempts", rec.CommitAttempts).
		Int("warnings", len(rec.Warnings)).
		Msg("plan compilation finished")

	return &Result{Record: rec, Compiled: compiled, State: state}, err
}

// Current returns the most recently committed plan, if any.
func (s *Service) Current() *compiler.CompiledPlan {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Cancel stops the running plan.
func (s *Service) Cancel() {
	s.mu.Lock()
	current := s.current
	s.current = nil
	s.mu.Unlock()

	if current != nil {
		current.Sequence.Cancel()
	}
}

func (s *Service) replace(next *compiler.CompiledPlan) {
	s.mu.Lock()
	prev := s.current
	s.current = next
	s.mu.Unlock()

	if prev != nil && !prev.Sequence.State().Status().Finished() {
		s.logger.Info().Uint64("plan_id", uint64(prev.PlanID)).Msg("replacing running plan")
		prev.Sequence.Cancel()
	}
}

func (s *Service) taskID() string {
	if s.cfg.CurrentTaskID == nil {
		return ""
	}
	return s.cfg.CurrentTaskID()
}

func (s *Service) onUpdate(state *task.State, next task.UpdateFn) task.UpdateFn {
	return func() {
		s.bus.Publish(events.EventPlanUpdated, events.Payload{
			"participant": s.cfg.Robot,
			"status":      string(state.Status()),
		})
		if next != nil {
			next()
		}
	}
}

func (s *Service) onFinished(id string, state *task.State, next func()) func() {
	return func() {
		status := state.Status()
		s.bus.Publish(events.EventPlanFinished, events.Payload{
			"id":          id,
			"participant": s.cfg.Robot,
			"status":      string(status),
		})
		telemetry.EventsPublishedTotal.WithLabelValues(string(events.EventPlanFinished)).Inc()
		s.logger.Info().Str("status", string(status)).Msg("plan execution finished")
		if next != nil {
			next()
		}
	}
}

func (s *Service) observe(rec *models.CompilationRecord, log *task.Log) {
	telemetry.CompilationsTotal.WithLabelValues(s.cfg.Robot, string(rec.Outcome)).Inc()
	if rec.CommitAttempts > 0 {
		telemetry.CommitAttempts.Observe(float64(rec.CommitAttempts))
	}
	if rec.Outcome == models.CompilationCommitted {
		telemetry.PlanActions.Observe(float64(rec.Actions))
	}
	for _, tier := range []task.Tier{task.TierWarning, task.TierError} {
		if n := log.Count(tier); n > 0 {
			telemetry.DiagnosticsTotal.WithLabelValues(string(tier)).Add(float64(n))
		}
	}
}

// publish announces the outcome. Failed compilations also ask the planner
// for a new plan.
func (s *Service) publish(rec *models.CompilationRecord) {
	payload := ledger.ToPayload(rec)
	if rec.Outcome == models.CompilationCommitted {
		s.emit(events.EventPlanCommitted, payload)
		return
	}
	s.emit(events.EventPlanRejected, payload)
	s.emit(events.EventReplanRequested, events.Payload{
		"participant": rec.Participant,
		"group":       rec.FleetGroup,
		"reason":      string(rec.Outcome),
		"plan_id":     rec.PlanID,
	})
}

func (s *Service) emit(eventType events.EventType, payload events.Payload) {
	s.bus.Publish(eventType, payload)
	telemetry.EventsPublishedTotal.WithLabelValues(string(eventType)).Inc()
}

// diagnostics returns the warning and error texts of log.
func diagnostics(log *task.Log) []string {
	var out []string
	for _, e := range log.Entries() {
		if e.Tier == task.TierWarning || e.Tier == task.TierError {
			out = append(out, e.Text)
		}
	}
	return out
}
