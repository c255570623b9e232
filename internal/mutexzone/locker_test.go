/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package mutexzone

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func newRedisLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLocker(client, "test:mutex:", zerolog.Nop()), mr
}

func exerciseLocker(t *testing.T, l Locker) {
	t.Helper()
	ctx := context.Background()

	ok, err := l.TryLock(ctx, "corridor_a", "robot_1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first lock: ok=%v err=%v", ok, err)
	}

	ok, err = l.TryLock(ctx, "corridor_a", "robot_2", time.Minute)
	if err != nil || ok {
		t.Fatalf("second holder should be refused: ok=%v err=%v", ok, err)
	}

	ok, err = l.TryLock(ctx, "corridor_a", "robot_1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("renewal: ok=%v err=%v", ok, err)
	}

	holder, err := l.Holder(ctx, "corridor_a")
	if err != nil || holder != "robot_1" {
		t.Fatalf("holder = %q err=%v", holder, err)
	}

	if err := l.Unlock(ctx, "corridor_a", "robot_2"); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("foreign unlock: %v", err)
	}
	if err := l.Unlock(ctx, "corridor_a", "robot_1"); err != nil {
		t.Fatalf("unlock: %v", err)
	}

	ok, err = l.TryLock(ctx, "corridor_a", "robot_2", time.Minute)
	if err != nil || !ok {
		t.Fatalf("lock after release: ok=%v err=%v", ok, err)
	}
}

func TestMemoryLocker(t *testing.T) {
	exerciseLocker(t, NewMemoryLocker())
}

func TestRedisLocker(t *testing.T) {
	l, _ := newRedisLocker(t)
	exerciseLocker(t, l)
}

func TestMemoryLockerExpiry(t *testing.T) {
	l := NewMemoryLocker()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	if ok, _ := l.TryLock(context.Background(), "lift", "a", time.Second); !ok {
		t.Fatal("expected lock")
	}
	now = now.Add(2 * time.Second)
	if ok, _ := l.TryLock(context.Background(), "lift", "b", time.Second); !ok {
		t.Fatal("expected expired lease to be taken over")
	}
}

func TestRedisLockerExpiry(t *testing.T) {
	l, mr := newRedisLocker(t)
	ctx := context.Background()

	if ok, _ := l.TryLock(ctx, "lift", "a", time.Second); !ok {
		t.Fatal("expected lock")
	}
	mr.FastForward(2 * time.Second)

	holder, err := l.Holder(ctx, "lift")
	if err != nil || holder != "" {
		t.Fatalf("expected no holder after expiry, got %q err=%v", holder, err)
	}
	if ok, _ := l.TryLock(ctx, "lift", "b", time.Second); !ok {
		t.Fatal("expected lease to be free")
	}
}
