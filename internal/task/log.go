/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package task

import (
	"sync"
	"time"
)

// Tier is the severity of a log entry.
type Tier string

const (
	TierInfo    Tier = "info"
	TierWarning Tier = "warning"
	TierError   Tier = "error"
)

// Entry is a single diagnostic message attached to an event.
type Entry struct {
	Seq  uint64    `json:"seq"`
	Time time.Time `json:"time"`
	Tier Tier      `json:"tier"`
	Text string    `json:"text"`
}

const defaultLogCapacity = 256

// Log is a bounded, thread-safe diagnostic log. Once full, the oldest entries
// are overwritten.
type Log struct {
	mu       sync.RWMutex
	entries  []Entry
	capacity int
	head     int
	count    int
	seq      uint64
	now      func() time.Time
}

// NewLog creates a log that keeps at most capacity entries.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = defaultLogCapacity
	}
	return &Log{
		entries:  make([]Entry, capacity),
		capacity: capacity,
		now:      time.Now,
	}
}

func (l *Log) Info(text string)  { l.add(TierInfo, text) }
func (l *Log) Warn(text string)  { l.add(TierWarning, text) }
func (l *Log) Error(text string) { l.add(TierError, text) }

func (l *Log) add(tier Tier, text string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	l.entries[l.head] = Entry{Seq: l.seq, Time: l.now(), Tier: tier, Text: text}
	l.head = (l.head + 1) % l.capacity
	if l.count < l.capacity {
		l.count++
	}
}

// Entries returns all retained entries in chronological order.
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]Entry, l.count)
	if l.count == 0 {
		return result
	}

	start := 0
	if l.count == l.capacity {
		start = l.head
	}
	for i := 0; i < l.count; i++ {
		result[i] = l.entries[(start+i)%l.capacity]
	}
	return result
}

// Count returns how many retained entries have the given tier.
func (l *Log) Count(tier Tier) int {
	n := 0
	for _, e := range l.Entries() {
		if e.Tier == tier {
			n++
		}
	}
	return n
}
