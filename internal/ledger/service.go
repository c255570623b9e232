/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package ledger persists one record per plan compilation so operators can
// trace replans and plan ids that keep getting rejected.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/friendsincode/fleetplan/internal/events"
	"github.com/friendsincode/fleetplan/internal/models"
)

// Service records compilation outcomes, either directly or by listening to
// plan events on a broker.
type Service struct {
	db     *gorm.DB
	bus    events.Broker
	logger zerolog.Logger
}

// NewService creates a new ledger service. bus may be nil when the ledger is
// only written through Record.
func NewService(db *gorm.DB, bus events.Broker, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		bus:    bus,
		logger: logger.With().Str("component", "ledger").Logger(),
	}
}

// Start subscribes to compilation events and records them until ctx ends.
// Subscriptions are in place when Start returns.
func (s *Service) Start(ctx context.Context) {
	if s.bus == nil {
		return
	}
	committed := s.bus.Subscribe(events.EventPlanCommitted)
	rejected := s.bus.Subscribe(events.EventPlanRejected)

	s.logger.Info().Msg("ledger service started")

	go func() {
		defer func() {
			s.bus.Unsubscribe(events.EventPlanCommitted, committed)
			s.bus.Unsubscribe(events.EventPlanRejected, rejected)
		}()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info().Msg("ledger service stopping")
				return

			case payload, ok := <-committed:
				if !ok {
					return
				}
				s.recordPayload(ctx, models.CompilationCommitted, payload)

			case payload, ok := <-rejected:
				if !ok {
					return
				}
				s.recordPayload(ctx, models.CompilationRejected, payload)
			}
		}
	}()
}

// recordPayload stores a record built from an event payload. An explicit
// "outcome" field overrides the default for the event type.
func (s *Service) recordPayload(ctx context.Context, outcome models.CompilationOutcome, payload events.Payload) {
	rec := FromPayload(payload)
	if rec.Outcome == "" {
		rec.Outcome = outcome
	}
	if err := s.Record(ctx, rec); err != nil {
		s.logger.Error().Err(err).Str("participant", rec.Participant).Msg("failed to record compilation")
	}
}

// Record stores rec, filling in its id and creation time when unset. A record
// whose id already exists is ignored, so every node on a shared bus may
// record the same event.
func (s *Service) Record(ctx context.Context, rec *models.CompilationRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if rec.Participant == "" {
		return fmt.Errorf("record compilation: participant is required")
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(rec).Error; err != nil {
		return fmt.Errorf("record compilation: %w", err)
	}
	return nil
}

// QueryFilters narrows a ledger query.
type QueryFilters struct {
	Participant string
	Outcome     models.CompilationOutcome
	Since       *time.Time
	Limit       int
	Offset      int
}

// Query returns matching records, newest first, and the total match count.
func (s *Service) Query(ctx context.Context, filters QueryFilters) ([]models.CompilationRecord, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.CompilationRecord{})

	if filters.Participant != "" {
		query = query.Where("participant = ?", filters.Participant)
	}
	if filters.Outcome != "" {
		query = query.Where("outcome = ?", filters.Outcome)
	}
	if filters.Since != nil {
		query = query.Where("created_at >= ?", *filters.Since)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = 100
	}
	query = query.Limit(limit)
	if filters.Offset > 0 {
		query = query.Offset(filters.Offset)
	}

	var records []models.CompilationRecord
	if err := query.Order("created_at DESC").Find(&records).Error; err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// RejectionStreak counts the most recent consecutive rejected compilations
// of participant.
func (s *Service) RejectionStreak(ctx context.Context, participant string) (int, error) {
	records, _, err := s.Query(ctx, QueryFilters{Participant: participant, Limit: 50})
	if err != nil {
		return 0, err
	}
	streak := 0
	for _, r := range records {
		if r.Outcome != models.CompilationRejected {
			break
		}
		streak++
	}
	return streak, nil
}

// ToPayload flattens rec into an event payload understood by FromPayload.
func ToPayload(rec *models.CompilationRecord) events.Payload {
	payload := events.Payload{
		"id":                  rec.ID,
		"participant":         rec.Participant,
		"group":               rec.FleetGroup,
		"task_id":             rec.TaskID,
		"outcome":             string(rec.Outcome),
		"recommended_plan_id": rec.RecommendedPlanID,
		"plan_id":             rec.PlanID,
		"attempts":            rec.CommitAttempts,
		"waypoints":           rec.Waypoints,
		"actions":             rec.Actions,
		"labels":              rec.Labels,
		"warnings":            rec.Warnings,
	}
	if !rec.CreatedAt.IsZero() {
		payload["created_at"] = rec.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	if rec.FinishAt != nil {
		payload["finish_at"] = rec.FinishAt.UTC().Format(time.RFC3339Nano)
	}
	if rec.Error != "" {
		payload["error"] = rec.Error
	}
	return payload
}

// FromPayload builds a record from a payload published in process or decoded
// from JSON by a networked bus.
func FromPayload(payload events.Payload) *models.CompilationRecord {
	rec := &models.CompilationRecord{
		ID:                payloadString(payload, "id"),
		Participant:       payloadString(payload, "participant"),
		FleetGroup:        payloadString(payload, "group"),
		TaskID:            payloadString(payload, "task_id"),
		Outcome:           models.CompilationOutcome(payloadString(payload, "outcome")),
		RecommendedPlanID: payloadUint(payload, "recommended_plan_id"),
		PlanID:            payloadUint(payload, "plan_id"),
		CommitAttempts:    int(payloadUint(payload, "attempts")),
		Waypoints:         int(payloadUint(payload, "waypoints")),
		Actions:           int(payloadUint(payload, "actions")),
		Labels:            payloadStrings(payload, "labels"),
		Warnings:          payloadStrings(payload, "warnings"),
		Error:             payloadString(payload, "error"),
	}
	if v := payloadString(payload, "created_at"); v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			rec.CreatedAt = t
		}
	}
	if v := payloadString(payload, "finish_at"); v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			rec.FinishAt = &t
		}
	}
	return rec
}

func payloadString(payload events.Payload, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

func payloadUint(payload events.Payload, key string) uint64 {
	switch v := payload[key].(type) {
	case uint64:
		return v
	case int:
		if v > 0 {
			return uint64(v)
		}
	case int64:
		if v > 0 {
			return uint64(v)
		}
	case float64:
		if v > 0 {
			return uint64(v)
		}
	case json.Number:
		if n, err := v.Int64(); err == nil && n > 0 {
			return uint64(n)
		}
	}
	return 0
}

func payloadStrings(payload events.Payload, key string) []string {
	switch v := payload[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
