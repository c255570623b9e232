/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "testing"

func TestBusDeliversToSubscribersOfType(t *testing.T) {
	bus := NewBus()
	committed := bus.Subscribe(EventPlanCommitted)
	rejected := bus.Subscribe(EventPlanRejected)

	bus.Publish(EventPlanCommitted, Payload{"plan_id": uint64(3)})

	select {
	case p := <-committed:
		if p["plan_id"] != uint64(3) {
			t.Fatalf("unexpected payload %v", p)
		}
	default:
		t.Fatal("committed subscriber got nothing")
	}
	select {
	case p := <-rejected:
		t.Fatalf("rejected subscriber got %v", p)
	default:
	}
}

func TestBusDropsWhenSubscriberFull(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventPlanUpdated)
	for i := 0; i < cap(sub)+4; i++ {
		bus.Publish(EventPlanUpdated, Payload{"n": i})
	}
	if len(sub) != cap(sub) {
		t.Fatalf("expected full buffer, got %d", len(sub))
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventPlanFinished)
	bus.Unsubscribe(EventPlanFinished, sub)

	if _, ok := <-sub; ok {
		t.Fatal("expected closed channel")
	}
	// Publishing afterwards must not panic.
	bus.Publish(EventPlanFinished, Payload{})
}
