/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package mutexzone arbitrates exclusive access to mutex groups of the
// navigation graph between robots.
package mutexzone

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotHeld is returned when releasing a group the holder does not own.
var ErrNotHeld = errors.New("mutex group not held")

// Locker grants leases on named mutex groups. TryLock renews the lease when
// holder already owns the group.
type Locker interface {
	TryLock(ctx context.Context, group, holder string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, group, holder string) error
	Holder(ctx context.Context, group string) (string, error)
}

type lease struct {
	holder  string
	expires time.Time
}

// MemoryLocker is a process-local Locker.
type MemoryLocker struct {
	mu     sync.Mutex
	leases map[string]lease
	now    func() time.Time
}

// NewMemoryLocker creates an empty in-process locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{leases: make(map[string]lease), now: time.Now}
}

func (m *MemoryLocker) TryLock(_ context.Context, group, holder string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if cur, ok := m.leases[group]; ok && cur.holder != holder && now.Before(cur.expires) {
		return false, nil
	}
	m.leases[group] = lease{holder: holder, expires: now.Add(ttl)}
	return true, nil
}

func (m *MemoryLocker) Unlock(_ context.Context, group, holder string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.leases[group]
	if !ok || cur.holder != holder || !m.now().Before(cur.expires) {
		return ErrNotHeld
	}
	delete(m.leases, group)
	return nil
}

func (m *MemoryLocker) Holder(_ context.Context, group string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.leases[group]
	if !ok || !m.now().Before(cur.expires) {
		return "", nil
	}
	return cur.holder, nil
}
