/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package task

import (
	"context"
	"errors"
	"sync"
	"time"
)

// UpdateFn is called whenever an event's observable state changes.
type UpdateFn func()

// Standby is an event that has been constructed but not started.
type Standby interface {
	State() *State
	Duration() time.Duration
	// Begin starts the event. finished is called exactly once when the event
	// stops, whatever its final status.
	Begin(ctx context.Context, finished func()) Active
}

// Active is a running event.
type Active interface {
	State() *State
	Cancel()
}

// MakeStandby is a deferred constructor for a standby event.
type MakeStandby func(update UpdateFn) Standby

func notify(update UpdateFn) {
	if update != nil {
		update()
	}
}

// RunFunc performs the work of a Func event. It may move state between
// underway and blocked and write diagnostics to its log.
type RunFunc func(ctx context.Context, state *State) error

type funcStandby struct {
	state    *State
	duration time.Duration
	update   UpdateFn
	run      RunFunc
}

// NewFunc wraps run as a standby event. The event completes when run returns
// nil, fails when it returns an error and is canceled when its context is.
func NewFunc(state *State, duration time.Duration, update UpdateFn, run RunFunc) Standby {
	return &funcStandby{state: state, duration: duration, update: update, run: run}
}

func (f *funcStandby) State() *State           { return f.state }
func (f *funcStandby) Duration() time.Duration { return f.duration }

func (f *funcStandby) Begin(ctx context.Context, finished func()) Active {
	ctx, cancel := context.WithCancel(ctx)
	a := &funcActive{state: f.state, cancel: cancel}

	_ = f.state.SetStatus(StatusUnderway)
	notify(f.update)

	go func() {
		defer cancel()
		err := f.run(ctx, f.state)
		switch {
		case err == nil:
			_ = f.state.SetStatus(StatusCompleted)
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			_ = f.state.SetStatus(StatusCanceled)
		default:
			f.state.Log().Error(err.Error())
			_ = f.state.SetStatus(StatusFailed)
		}
		notify(f.update)
		if finished != nil {
			finished()
		}
	}()

	return a
}

type funcActive struct {
	state  *State
	cancel context.CancelFunc
}

func (a *funcActive) State() *State { return a.state }
func (a *funcActive) Cancel()       { a.cancel() }

// Sequence runs its children strictly one after another.
type Sequence struct {
	state    *State
	children []Standby
	update   UpdateFn
}

// NewSequence materializes every child from its maker and lists the child
// states under state.
func NewSequence(makers []MakeStandby, state *State, update UpdateFn) *Sequence {
	children := make([]Standby, 0, len(makers))
	deps := make([]*State, 0, len(makers))
	for _, mk := range makers {
		child := mk(update)
		children = append(children, child)
		deps = append(deps, child.State())
	}
	state.SetDependencies(deps)
	return &Sequence{state: state, children: children, update: update}
}

func (s *Sequence) State() *State { return s.state }

// Duration is the sum of the children's estimates.
func (s *Sequence) Duration() time.Duration {
	var total time.Duration
	for _, c := range s.children {
		total += c.Duration()
	}
	return total
}

func (s *Sequence) Begin(ctx context.Context, finished func()) Active {
	ctx, cancel := context.WithCancel(ctx)
	a := &sequenceActive{seq: s, ctx: ctx, cancel: cancel, finished: finished}

	_ = s.state.SetStatus(StatusUnderway)
	notify(s.update)
	a.next()
	return a
}

type sequenceActive struct {
	seq      *Sequence
	ctx      context.Context
	cancel   context.CancelFunc
	finished func()

	mu   sync.Mutex
	idx  int
	once sync.Once
}

func (a *sequenceActive) State() *State { return a.seq.state }
func (a *sequenceActive) Cancel()       { a.cancel() }

func (a *sequenceActive) next() {
	a.mu.Lock()
	if a.ctx.Err() != nil {
		a.mu.Unlock()
		a.finish(StatusCanceled)
		return
	}
	if a.idx >= len(a.seq.children) {
		a.mu.Unlock()
		a.finish(StatusCompleted)
		return
	}
	i := a.idx
	a.idx++
	child := a.seq.children[i]
	a.mu.Unlock()

	child.Begin(a.ctx, func() { a.childFinished(i) })
}

func (a *sequenceActive) childFinished(i int) {
	switch status := a.seq.children[i].State().Status(); status {
	case StatusCompleted:
		a.next()
	case StatusCanceled:
		a.finish(StatusCanceled)
	default:
		a.seq.state.Log().Error("child event [" + a.seq.children[i].State().Name() + "] ended with status " + string(status))
		a.finish(StatusFailed)
	}
}

func (a *sequenceActive) finish(status Status) {
	a.once.Do(func() {
		_ = a.seq.state.SetStatus(status)
		a.cancel()
		notify(a.seq.update)
		if a.finished != nil {
			a.finished()
		}
	})
}
