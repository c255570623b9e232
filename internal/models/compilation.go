/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// CompilationOutcome describes how a plan compilation ended.
type CompilationOutcome string

const (
	CompilationCommitted CompilationOutcome = "committed"
	CompilationRejected  CompilationOutcome = "rejected"
	CompilationEmptyPlan CompilationOutcome = "empty_plan"
	CompilationFailed    CompilationOutcome = "failed"
)

// CompilationRecord is the ledger entry written for every compile attempt so
// operators can trace replans and repeatedly rejected plan ids.
type CompilationRecord struct {
	ID                string             `gorm:"type:uuid;primaryKey" json:"id"`
	Participant       string             `gorm:"type:varchar(128);index:idx_compilation_participant;not null" json:"participant"`
	FleetGroup        string             `gorm:"type:varchar(128);index" json:"group,omitempty"`
	TaskID            string             `gorm:"type:varchar(128)" json:"task_id,omitempty"`
	Outcome           CompilationOutcome `gorm:"type:varchar(32);index;not null" json:"outcome"`
	RecommendedPlanID uint64             `json:"recommended_plan_id"`
	PlanID            uint64             `json:"plan_id"`
	CommitAttempts    int                `json:"attempts"`
	Waypoints         int                `json:"waypoints"`
	Actions           int                `json:"actions"`
	Labels            []string           `gorm:"type:jsonb;serializer:json" json:"labels,omitempty"`
	Warnings          []string           `gorm:"type:jsonb;serializer:json" json:"warnings,omitempty"`
	FinishAt          *time.Time         `json:"finish_at,omitempty"`
	Error             string             `gorm:"type:text" json:"error,omitempty"`
	CreatedAt         time.Time          `gorm:"index:idx_compilation_created" json:"created_at"`
}

// TableName returns the table name for GORM.
func (CompilationRecord) TableName() string {
	return "compilation_records"
}
