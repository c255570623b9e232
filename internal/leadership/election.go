/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package leadership elects one adapter replica per robot to compile and
// commit plans. Leases are held through a mutexzone.Locker, so the election
// works in memory for single instances and over Redis for replicas.
package leadership

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/fleetplan/internal/mutexzone"
	"github.com/friendsincode/fleetplan/internal/telemetry"
)

const (
	defaultLeaseDuration   = 15 * time.Second
	defaultRenewalInterval = 5 * time.Second
)

// ElectionConfig configures leader election behavior
type ElectionConfig struct {
	// Robot whose adapter replicas compete; the lease key is derived from it.
	Robot string

	// LeaseDuration is how long the leader lease is valid
	LeaseDuration time.Duration

	// RenewalInterval is how often the lease is renewed or retried
	RenewalInterval time.Duration

	// InstanceID uniquely identifies this instance
	InstanceID string
}

// Election manages leader election for one robot.
type Election struct {
	locker mutexzone.Locker
	config ElectionConfig
	key    string
	logger zerolog.Logger

	mu       sync.RWMutex
	isLeader bool
	leaderCh chan bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewElection creates an election over locker.
func NewElection(locker mutexzone.Locker, config ElectionConfig, logger zerolog.Logger) (*Election, error) {
	if config.Robot == "" {
		return nil, fmt.Errorf("leader election requires a robot name")
	}
	if config.LeaseDuration <= 0 {
		config.LeaseDuration = defaultLeaseDuration
	}
	if config.RenewalInterval <= 0 {
		config.RenewalInterval = defaultRenewalInterval
	}
	if config.RenewalInterval >= config.LeaseDuration {
		return nil, fmt.Errorf("renewal interval %v must be shorter than lease %v", config.RenewalInterval, config.LeaseDuration)
	}
	if config.InstanceID == "" {
		config.InstanceID = uuid.NewString()
	}

	return &Election{
		locker:   locker,
		config:   config,
		key:      "leader:" + config.Robot,
		logger:   logger.With().Str("component", "leader_election").Str("instance_id", config.InstanceID).Logger(),
		leaderCh: make(chan bool, 1),
	}, nil
}

// Start campaigns immediately and then on every renewal interval until ctx
// ends or Stop is called.
func (e *Election) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})

	e.logger.Info().
		Str("robot", e.config.Robot).
		Dur("lease_duration", e.config.LeaseDuration).
		Msg("starting leader election")

	e.attemptLeadership(ctx)
	go e.campaignLoop(ctx)
}

// Stop ends the campaign and releases the lease if held.
func (e *Election) Stop() error {
	if e.cancel == nil {
		return nil
	}
	e.cancel()
	<-e.done

	if !e.IsLeader() {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	e.updateLeadershipStatus(false)
	if err := e.locker.Unlock(ctx, e.key, e.config.InstanceID); err != nil {
		return fmt.Errorf("release leadership: %w", err)
	}
	e.logger.Info().Msg("released leadership lock")
	return nil
}

// IsLeader returns whether this instance is currently the leader
func (e *Election) IsLeader() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.isLeader
}

// LeaderCh returns a channel that receives leadership status changes
func (e *Election) LeaderCh() <-chan bool {
	return e.leaderCh
}

// Leader returns the instance id currently holding the lease, or "".
func (e *Election) Leader(ctx context.Context) (string, error) {
	return e.locker.Holder(ctx, e.key)
}

// InstanceID returns this instance's id.
func (e *Election) InstanceID() string { return e.config.InstanceID }

func (e *Election) campaignLoop(ctx context.Context) {
	defer close(e.done)
	ticker := time.NewTicker(e.config.RenewalInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.attemptLeadership(ctx)
		}
	}
}

// attemptLeadership acquires or renews the lease.
func (e *Election) attemptLeadership(ctx context.Context) {
	acquired, err := e.locker.TryLock(ctx, e.key, e.config.InstanceID, e.config.LeaseDuration)
	if err != nil {
		if ctx.Err() == nil {
			e.logger.Error().Err(err).Msg("failed to acquire leadership lock")
		}
		e.updateLeadershipStatus(false)
		return
	}

	wasLeader := e.IsLeader()
	switch {
	case acquired && !wasLeader:
		e.logger.Info().Msg("acquired leadership")
	case !acquired && wasLeader:
		e.logger.Warn().Msg("lost leadership")
	}
	e.updateLeadershipStatus(acquired)
}

// updateLeadershipStatus updates the leadership status and notifies listeners
func (e *Election) updateLeadershipStatus(isLeader bool) {
	e.mu.Lock()
	if e.isLeader == isLeader {
		e.mu.Unlock()
		return
	}
	e.isLeader = isLeader
	e.mu.Unlock()

	if isLeader {
		telemetry.LeaderElectionStatus.WithLabelValues(e.config.InstanceID).Set(1)
		telemetry.LeaderElectionChanges.WithLabelValues(e.config.InstanceID, "acquired").Inc()
	} else {
		telemetry.LeaderElectionStatus.WithLabelValues(e.config.InstanceID).Set(0)
		telemetry.LeaderElectionChanges.WithLabelValues(e.config.InstanceID, "lost").Inc()
	}

	// Non-blocking send to leaderCh
	select {
	case e.leaderCh <- isLeader:
	default:
	}
}
