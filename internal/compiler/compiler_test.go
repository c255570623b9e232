/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package compiler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/friendsincode/fleetplan/internal/models"
	"github.com/friendsincode/fleetplan/internal/navgraph"
	"github.com/friendsincode/fleetplan/internal/phases"
	"github.com/friendsincode/fleetplan/internal/schedule"
	"github.com/friendsincode/fleetplan/internal/task"
	"github.com/friendsincode/fleetplan/internal/telemetry"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func at(sec float64) time.Time {
	return t0.Add(time.Duration(sec * float64(time.Second)))
}

type wpOpt func(*models.Waypoint)

func onNode(i int) wpOpt {
	return func(w *models.Waypoint) { w.GraphIndex = &i }
}

func viaLanes(lanes ...int) wpOpt {
	return func(w *models.Waypoint) { w.ApproachLanes = lanes }
}

func withEvent(e *models.LaneEvent) wpOpt {
	return func(w *models.Waypoint) { w.Event = e }
}

func withDeps(participant string) wpOpt {
	return func(w *models.Waypoint) {
		w.Dependencies = []models.Dependency{{Participant: participant, Plan: 4, Route: 0, Checkpoint: 1}}
	}
}

func withCheckpoint(route, index int) wpOpt {
	return func(w *models.Waypoint) {
		w.ArrivalCheckpoints = append(w.ArrivalCheckpoints, models.Checkpoint{Route: route, Index: index})
	}
}

func point(sec, x float64, opts ...wpOpt) models.Waypoint {
	w := models.Waypoint{Time: at(sec), Position: models.Position{X: x}}
	for _, opt := range opts {
		opt(&w)
	}
	return w
}

func planOf(wps ...models.Waypoint) models.Plan {
	route := models.Route{Map: "L1"}
	for _, w := range wps {
		route.Trajectory = append(route.Trajectory, models.TrajectoryPoint{Time: w.Time, Position: w.Position})
	}
	return models.Plan{Waypoints: wps, Itinerary: models.Itinerary{route}}
}

func testGraph() *navgraph.Graph {
	return &navgraph.Graph{
		Name: "test",
		Nodes: []navgraph.Node{
			{Name: "a", Map: "L1"},
			{Name: "b", Map: "L1"},
			{Name: "c", Map: "L1", MutexGroup: "Z"},
			{Name: "d", Map: "L1", MutexGroup: "Z"},
			{Name: "e", Map: "L1"},
			{Name: "f", Map: "L2"},
		},
		Lanes: []navgraph.Lane{
			{Entry: 0, Exit: 1},
			{Entry: 1, Exit: 2, MutexGroup: "Z"},
			{Entry: 2, Exit: 3, MutexGroup: "Z"},
			{Entry: 3, Exit: 4},
		},
	}
}

type fixture struct {
	participant schedule.Participant
	compiler    *Compiler
}

func newFixture(participant schedule.Participant) *fixture {
	return newFixtureOn(participant, testGraph())
}

func newFixtureOn(participant schedule.Participant, graph Graph) *fixture {
	robot := Robot{
		Name:      "r1",
		Group:     "test_fleet",
		Graph:     graph,
		Itinerary: participant,
		Phases:    phases.NewLocal(phases.LocalConfig{Robot: "r1"}, zerolog.Nop()),
	}
	return &fixture{
		participant: participant,
		compiler:    New(robot, Options{}, zerolog.Nop()),
	}
}

func (f *fixture) compile(t *testing.T, plan models.Plan, tail *time.Duration) (*CompiledPlan, *task.State, error) {
	t.Helper()
	ctx := context.Background()
	recommended, err := f.participant.AssignPlanID(ctx)
	if err != nil {
		t.Fatalf("assign plan id: %v", err)
	}

	var ids task.IDs
	state := task.NewState(ids.Assign(), "Execute plan", "")
	done := make(chan struct{})
	result, err := f.compiler.Compile(ctx, Request{
		RecommendedPlanID: recommended,
		Plan:              plan,
		FullItinerary:     plan.Itinerary,
		IDs:               &ids,
		State:             state,
		Finished:          func() { close(done) },
		TailPeriod:        tail,
	})
	if err == nil {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("compiled sequence did not finish")
		}
	}
	return result, state, err
}

func kinds(actions []PendingAction) []Kind {
	out := make([]Kind, len(actions))
	for i, a := range actions {
		out[i] = a.Kind
	}
	return out
}

func assertStrings(t *testing.T, what string, got, want []string) {
	t.Helper()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("%s = %q, want %q", what, got, want)
	}
}

func assertKinds(t *testing.T, got []PendingAction, want ...Kind) {
	t.Helper()
	if fmt.Sprint(kinds(got)) != fmt.Sprint(want) {
		t.Fatalf("actions = %v, want %v", kinds(got), want)
	}
}

func TestFinishTimeIsLatestRouteEnd(t *testing.T) {
	plan := planOf(point(0, 0), point(10, 1))
	plan.Itinerary = append(plan.Itinerary, models.Route{
		Map:        "L2",
		Trajectory: []models.TrajectoryPoint{{Time: at(5)}, {Time: at(50)}},
	})

	f := newFixture(schedule.NewMemoryParticipant("r1"))
	result, _, err := f.compile(t, plan, nil)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !result.FinishTime.Equal(at(50)) {
		t.Fatalf("finish = %v, want %v", result.FinishTime, at(50))
	}
	assertKinds(t, result.Actions, KindMove)
	if !result.Actions[0].Time.Equal(at(50)) {
		t.Fatalf("final move time = %v", result.Actions[0].Time)
	}
	if result.Actions[0].Dependencies != nil {
		t.Fatalf("final move should have no dependencies")
	}
	if result.Sequence.State().Status() != task.StatusCompleted {
		t.Fatalf("sequence status = %s", result.Sequence.State().Status())
	}
}

func TestNoFinishTime(t *testing.T) {
	f := newFixture(schedule.NewMemoryParticipant("r1"))
	plan := models.Plan{
		Waypoints: []models.Waypoint{point(0, 0), point(1, 1)},
		Itinerary: models.Itinerary{{Map: "L1"}},
	}
	result, _, err := f.compile(t, plan, nil)
	if !errors.Is(err, ErrNoFinishTime) || result != nil {
		t.Fatalf("expected ErrNoFinishTime, got %v %v", result, err)
	}
}

func TestWaypointCoverage(t *testing.T) {
	plan := planOf(
		point(0, 0),
		point(5, 1),
		point(10, 2, withDeps("r2")),
		point(15, 3),
		point(20, 4, withEvent(models.DoorOpenEvent("A", 2*time.Second))),
		point(25, 5),
	)
	f := newFixture(schedule.NewMemoryParticipant("r1"))
	result, _, err := f.compile(t, plan, nil)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	assertKinds(t, result.Actions, KindMove, KindMove, KindDoorOpen, KindMove)

	// Segment boundaries are shared by neighbouring moves; every waypoint
	// appears and order is preserved.
	seen := map[time.Time]bool{}
	var last time.Time
	for _, a := range result.Actions {
		if a.Time.Before(last) {
			t.Fatalf("actions out of order at %v", a.Time)
		}
		last = a.Time
		for i, w := range a.Waypoints {
			if i > 0 && w.Time.Before(a.Waypoints[i-1].Time) {
				t.Fatalf("move waypoints out of order")
			}
			seen[w.Time] = true
		}
	}
	for _, w := range plan.Waypoints {
		if !seen[w.Time] {
			t.Errorf("waypoint at %v not covered", w.Time)
		}
	}

	if deps := result.Actions[0].Dependencies; len(deps) != 1 || deps[0].Participant != "r2" {
		t.Fatalf("first move should carry the dependency, got %+v", deps)
	}
	if got := result.Actions[1].Waypoints[0].Time; !got.Equal(at(10)) {
		t.Fatalf("second move should start at the dependency waypoint, starts %v", got)
	}
	if !result.Actions[2].Expires.Equal(at(22)) {
		t.Fatalf("door hold expires %v", result.Actions[2].Expires)
	}
	assertStrings(t, "labels", result.Labels(), []string{"Move", "Wait for traffic", "Move", "Open [door:A]", "Move"})
}

func TestDockBreaksContinuity(t *testing.T) {
	plan := planOf(
		point(0, 0),
		point(5, 1, withEvent(models.DockEvent("charger", 0))),
		point(10, 2),
		point(15, 3),
	)
	f := newFixture(schedule.NewMemoryParticipant("r1"))
	result, _, err := f.compile(t, plan, nil)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	assertKinds(t, result.Actions, KindMove, KindDock, KindMove)
	if got := result.Actions[2].Waypoints[0].Time; !got.Equal(at(10)) {
		t.Fatalf("move after dock starts at %v", got)
	}
}

func TestDependencyOnlyAction(t *testing.T) {
	plan := planOf(point(0, 0, withDeps("r2")), point(5, 1))
	f := newFixture(schedule.NewMemoryParticipant("r1"))
	result, _, err := f.compile(t, plan, nil)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	assertKinds(t, result.Actions, KindDependencyOnly, KindMove)
	assertStrings(t, "labels", result.Labels(), []string{"Wait for traffic", "Move"})
}

func doorPlan(travel float64) models.Plan {
	return planOf(
		point(0, 0, withEvent(models.DoorOpenEvent("A", 3*time.Second))),
		point(travel, 1, withEvent(models.DoorCloseEvent("A", 0))),
		point(travel+5, 2),
	)
}

func TestDoorGroupMerges(t *testing.T) {
	f := newFixture(schedule.NewMemoryParticipant("r1"))
	result, _, err := f.compile(t, doorPlan(20), nil)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	assertKinds(t, result.Actions, KindDoorOpen, KindMove, KindDoorClose, KindMove)
	assertStrings(t, "labels", result.Labels(), []string{"Pass through [door:A]", "Move"})

	group := result.Sequence.State().Dependencies()[0]
	assertStrings(t, "door group", group.Names(), []string{"Open [door:A]", "Move", "Close [door:A]"})
	if group.Status() != task.StatusCompleted {
		t.Fatalf("door group status = %s", group.Status())
	}
}

func TestDoorGroupTooMuchTravel(t *testing.T) {
	f := newFixture(schedule.NewMemoryParticipant("r1"))
	result, state, err := f.compile(t, doorPlan(90), nil)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	assertStrings(t, "labels", result.Labels(), []string{"Open [door:A]", "Move", "Close [door:A]", "Move"})
	if n := state.Log().Count(task.TierWarning); n != 0 {
		t.Fatalf("door travel should not warn, got %d", n)
	}
}

func TestDoorGroupDifferentDoor(t *testing.T) {
	plan := planOf(
		point(0, 0, withEvent(models.DoorOpenEvent("A", 0))),
		point(10, 1, withEvent(models.DoorCloseEvent("B", 0))),
	)
	f := newFixture(schedule.NewMemoryParticipant("r1"))
	result, _, err := f.compile(t, plan, nil)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	assertStrings(t, "labels", result.Labels(), []string{"Open [door:A]", "Move", "Close [door:B]"})
}

func liftPlan(endLift string, drift float64) models.Plan {
	return planOf(
		point(0, 0, withEvent(models.LiftSessionBeginEvent("L1", "F1", 0))),
		point(5, 1, withEvent(models.LiftMoveEvent("L1", "F2", 20*time.Second))),
		point(25, 1, withEvent(models.LiftDoorOpenEvent("L1", "F2", 2*time.Second))),
		point(28, 1+drift),
		point(30, 2, withEvent(models.LiftSessionEndEvent(endLift, "F2", 0))),
	)
}

func TestLiftGroupMerges(t *testing.T) {
	f := newFixture(schedule.NewMemoryParticipant("r1"))
	result, state, err := f.compile(t, liftPlan("L1", 0.2), nil)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	assertKinds(t, result.Actions, KindLiftRequest, KindMove, KindLiftRequest, KindMove, KindLiftSessionEnd)
	assertStrings(t, "labels", result.Labels(), []string{"Take [lift:L1] to [floor:F2]"})

	inside := result.Actions[2]
	if inside.Located != phases.Inside || !inside.Finish.Equal(at(27)) {
		t.Fatalf("inside request = %+v", inside)
	}
	if inside.Localize == nil || inside.Localize.Map != "F2" {
		t.Fatalf("missing localize destination: %+v", inside.Localize)
	}
	if n := state.Log().Count(task.TierWarning); n != 0 {
		t.Fatalf("unexpected warnings: %+v", state.Log().Entries())
	}
}

func TestLiftGroupMismatchWarnsOnce(t *testing.T) {
	f := newFixture(schedule.NewMemoryParticipant("r1"))
	result, state, err := f.compile(t, liftPlan("L2", 0.2), nil)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	assertStrings(t, "labels", result.Labels(), []string{
		"Call [lift:L1] to [floor:F1]",
		"Move",
		"Ride [lift:L1] to [floor:F2]",
		"Move",
		"End session with [lift:L2]",
	})
	if n := state.Log().Count(task.TierWarning); n != 1 {
		t.Fatalf("expected exactly one warning, got %+v", state.Log().Entries())
	}
}

func TestLiftGroupOtherLiftMidSession(t *testing.T) {
	plan := planOf(
		point(0, 0, withEvent(models.LiftSessionBeginEvent("L1", "F1", 0))),
		point(5, 1, withEvent(models.LiftSessionBeginEvent("L2", "F1", 0))),
		point(10, 2, withEvent(models.LiftSessionEndEvent("L2", "F3", 0))),
		point(15, 3),
	)
	f := newFixture(schedule.NewMemoryParticipant("r1"))
	result, state, err := f.compile(t, plan, nil)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	assertKinds(t, result.Actions, KindLiftRequest, KindMove, KindLiftRequest, KindMove, KindLiftSessionEnd, KindMove)
	// The L1 session is not merged; the well formed L2 session still is.
	assertStrings(t, "labels", result.Labels(), []string{
		"Call [lift:L1] to [floor:F1]",
		"Move",
		"Take [lift:L2] to [floor:F3]",
		"Move",
	})
	entries := state.Log().Entries()
	if n := state.Log().Count(task.TierWarning); n != 1 {
		t.Fatalf("expected exactly one warning, got %+v", entries)
	}
	for _, e := range entries {
		if e.Tier == task.TierWarning && !strings.Contains(e.Text, "already in a session with [lift:L1]") {
			t.Fatalf("unexpected warning %q", e.Text)
		}
	}
}

func TestLiftGroupMissingEnd(t *testing.T) {
	plan := planOf(
		point(0, 0, withEvent(models.LiftSessionBeginEvent("L1", "F1", 0))),
		point(5, 1, withEvent(models.LiftMoveEvent("L1", "F2", 10*time.Second))),
		point(15, 1, withEvent(models.LiftDoorOpenEvent("L1", "F2", 0))),
		point(20, 3),
	)
	f := newFixture(schedule.NewMemoryParticipant("r1"))
	result, state, err := f.compile(t, plan, nil)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if len(result.Labels()) != 4 {
		t.Fatalf("labels = %v", result.Labels())
	}
	if n := state.Log().Count(task.TierWarning); n != 1 {
		t.Fatalf("expected one warning, got %+v", state.Log().Entries())
	}
}

func TestLiftTranslationWarning(t *testing.T) {
	plan := planOf(
		point(0, 0, withEvent(models.LiftSessionBeginEvent("L1", "F1", 0))),
		point(5, 1, withEvent(models.LiftMoveEvent("L1", "F2", 10*time.Second))),
		point(10, 3),
		point(15, 3, withEvent(models.LiftDoorOpenEvent("L1", "F2", 0))),
		point(20, 4, withEvent(models.LiftSessionEndEvent("L1", "F2", 0))),
	)
	f := newFixture(schedule.NewMemoryParticipant("r1"))
	result, state, err := f.compile(t, plan, nil)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	// The drifting waypoint is consumed by the lift ride.
	assertKinds(t, result.Actions, KindLiftRequest, KindMove, KindLiftRequest, KindMove, KindLiftSessionEnd)
	assertStrings(t, "labels", result.Labels(), []string{"Take [lift:L1] to [floor:F2]"})
	if n := state.Log().Count(task.TierWarning); n != 1 {
		t.Fatalf("expected one translation warning, got %+v", state.Log().Entries())
	}
}

func TestLiftRideRunsToEndOfPlan(t *testing.T) {
	plan := planOf(
		point(0, 0, withEvent(models.LiftSessionBeginEvent("L1", "F1", 0))),
		point(5, 1, withEvent(models.LiftMoveEvent("L1", "F2", 10*time.Second))),
		point(10, 1),
	)
	f := newFixture(schedule.NewMemoryParticipant("r1"))
	result, _, err := f.compile(t, plan, nil)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	assertKinds(t, result.Actions, KindLiftRequest, KindMove)
}

func mutexPlan() models.Plan {
	return planOf(
		point(0, 0, onNode(0)),
		point(5, 1, onNode(1), withCheckpoint(0, 2)),
		point(10, 2, onNode(2)),
		point(15, 3, onNode(3)),
		point(20, 4, onNode(4)),
	)
}

func TestMutexZoneInsertsOneLock(t *testing.T) {
	participant := schedule.NewMemoryParticipant("r1")
	f := newFixture(participant)
	plan := mutexPlan()
	result, _, err := f.compile(t, plan, nil)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	assertKinds(t, result.Actions, KindMove, KindMove)
	assertStrings(t, "labels", result.Labels(), []string{"Move", "Lock mutex group [Z]", "Move"})

	hold := result.Actions[0]
	if hold.MutexLock != nil || !hold.Time.Equal(at(5)) {
		t.Fatalf("hold move = %+v", hold)
	}
	lock := result.Actions[1].MutexLock
	if lock == nil || lock.Group != "Z" || lock.HoldMap != "L1" || !lock.HoldTime.Equal(at(5)) {
		t.Fatalf("lock = %+v", lock)
	}
	if got := len((*lock.Itinerary)[0].Trajectory); got != 5 {
		t.Fatalf("lock snapshot should hold the full itinerary, has %d points", got)
	}
	if first := result.Actions[1].Waypoints[0]; *first.GraphIndex != 2 {
		t.Fatalf("zone run should start at the first in-zone waypoint")
	}

	committed, err := participant.Itinerary(context.Background())
	if err != nil {
		t.Fatalf("itinerary: %v", err)
	}
	if len(committed) != 1 || len(committed[0].Trajectory) != 2 {
		t.Fatalf("committed itinerary not truncated at the hold point: %+v", committed)
	}
	if len(plan.Itinerary[0].Trajectory) != 5 {
		t.Fatalf("caller's itinerary was modified")
	}
}

// A plan that starts inside a zone has no hold point before it, so the zone
// is entered without a lock.
func TestZoneEntryWithSingleBufferedWaypointSkipsLock(t *testing.T) {
	plan := planOf(
		point(0, 2, onNode(2)),
		point(5, 3, onNode(3)),
		point(10, 4, onNode(4)),
	)
	f := newFixture(schedule.NewMemoryParticipant("r1"))
	result, _, err := f.compile(t, plan, nil)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	assertStrings(t, "labels", result.Labels(), []string{"Move"})
	for _, a := range result.Actions {
		if a.MutexLock != nil {
			t.Fatalf("unexpected lock on %v", a.Kind)
		}
	}
}

func TestMutexZoneFromApproachLane(t *testing.T) {
	plan := planOf(
		point(0, 0, onNode(0)),
		point(5, 1, onNode(1)),
		point(10, 2, viaLanes(0, 1)),
		point(15, 3, onNode(3)),
	)
	f := newFixture(schedule.NewMemoryParticipant("r1"))
	result, _, err := f.compile(t, plan, nil)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	assertStrings(t, "labels", result.Labels(), []string{"Move", "Lock mutex group [Z]", "Move"})
}

func TestMutexLockCoversEventsInZone(t *testing.T) {
	plan := planOf(
		point(0, 0, onNode(0)),
		point(5, 1, onNode(1)),
		point(10, 2, onNode(2), withEvent(models.DoorOpenEvent("Z1", 0))),
		point(15, 3, onNode(3), withEvent(models.DoorCloseEvent("Z1", 0))),
	)
	f := newFixture(schedule.NewMemoryParticipant("r1"))
	result, _, err := f.compile(t, plan, nil)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	// One lock even though several actions carry the descriptor.
	assertStrings(t, "labels", result.Labels(), []string{"Move", "Lock mutex group [Z]", "Pass through [door:Z1]"})
}

func twoZoneGraph() *navgraph.Graph {
	return &navgraph.Graph{
		Name: "two_zones",
		Nodes: []navgraph.Node{
			{Name: "a", Map: "L1"},
			{Name: "b", Map: "L1"},
			{Name: "z1a", Map: "L1", MutexGroup: "Z1"},
			{Name: "z1b", Map: "L1", MutexGroup: "Z1"},
			{Name: "z2a", Map: "L1", MutexGroup: "Z2"},
			{Name: "z2b", Map: "L1", MutexGroup: "Z2"},
			{Name: "g", Map: "L1"},
			{Name: "h", Map: "L1"},
			{Name: "z1c", Map: "L1", MutexGroup: "Z1"},
			{Name: "z1d", Map: "L1", MutexGroup: "Z1"},
		},
	}
}

func TestMutexZoneTransitions(t *testing.T) {
	var wps []models.Waypoint
	for i := 0; i < 10; i++ {
		wps = append(wps, point(float64(5*i), float64(i), onNode(i)))
	}
	f := newFixtureOn(schedule.NewMemoryParticipant("r1"), twoZoneGraph())
	result, _, err := f.compile(t, planOf(wps...), nil)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	// Z1 straight into Z2, then out of every zone and back into Z1.
	assertStrings(t, "labels", result.Labels(), []string{
		"Move",
		"Lock mutex group [Z1]",
		"Move",
		"Lock mutex group [Z2]",
		"Move",
		"Lock mutex group [Z1]",
		"Move",
	})

	var locks []*phases.MutexLock
	for _, a := range result.Actions {
		if a.MutexLock != nil && (len(locks) == 0 || locks[len(locks)-1] != a.MutexLock) {
			locks = append(locks, a.MutexLock)
		}
	}
	if len(locks) != 3 {
		t.Fatalf("expected three lock descriptors, got %d", len(locks))
	}
	for i, want := range []time.Time{at(5), at(15), at(35)} {
		if !locks[i].HoldTime.Equal(want) {
			t.Errorf("lock %d [%s] holds at %v, want %v", i, locks[i].Group, locks[i].HoldTime, want)
		}
	}
}

func TestMutexHoldMapFromLaterWaypoint(t *testing.T) {
	plan := planOf(
		point(0, 0),
		point(5, 1),
		point(10, 2, viaLanes(1)),
		point(15, 3, onNode(5)),
	)
	f := newFixture(schedule.NewMemoryParticipant("r1"))
	result, state, err := f.compile(t, plan, nil)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	assertStrings(t, "labels", result.Labels(), []string{"Move", "Lock mutex group [Z]", "Move"})
	lock := result.Actions[1].MutexLock
	if lock == nil || lock.HoldMap != "L2" {
		t.Fatalf("lock = %+v", lock)
	}
	if n := state.Log().Count(task.TierError); n != 0 {
		t.Fatalf("unexpected errors: %+v", state.Log().Entries())
	}
}

func TestMutexHoldMapUnresolved(t *testing.T) {
	plan := planOf(
		point(0, 0),
		point(5, 1),
		point(10, 2, viaLanes(1)),
		point(15, 3, viaLanes(2)),
	)
	f := newFixture(schedule.NewMemoryParticipant("r1"))
	result, state, err := f.compile(t, plan, nil)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	lock := result.Actions[1].MutexLock
	if lock == nil || lock.Group != "Z" || lock.HoldMap != "" {
		t.Fatalf("lock = %+v", lock)
	}
	if n := state.Log().Count(task.TierError); n != 1 {
		t.Fatalf("expected one error entry, got %+v", state.Log().Entries())
	}
}

func TestDoorTransitEnteringZoneIsNotGrouped(t *testing.T) {
	plan := planOf(
		point(0, 0, onNode(0), withEvent(models.DoorOpenEvent("A", 0))),
		point(5, 1, onNode(1)),
		point(10, 2, onNode(2)),
		point(15, 3, onNode(3), withEvent(models.DoorCloseEvent("A", 0))),
		point(20, 4, onNode(4)),
	)
	f := newFixture(schedule.NewMemoryParticipant("r1"))
	result, _, err := f.compile(t, plan, nil)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	assertKinds(t, result.Actions, KindDoorOpen, KindMove, KindMove, KindDoorClose, KindMove)
	assertStrings(t, "labels", result.Labels(), []string{
		"Open [door:A]",
		"Move",
		"Lock mutex group [Z]",
		"Move",
		"Close [door:A]",
		"Move",
	})
}

func TestTruncateItinerary(t *testing.T) {
	traj := func(n int) []models.TrajectoryPoint {
		out := make([]models.TrajectoryPoint, n)
		for i := range out {
			out[i].Time = at(float64(i))
		}
		return out
	}
	base := func() models.Itinerary {
		return models.Itinerary{
			{Map: "L1", Trajectory: traj(4)},
			{Map: "L2", Trajectory: traj(4)},
			{Map: "L3", Trajectory: traj(4)},
		}
	}

	it := base()
	truncateItinerary(&it, []models.Checkpoint{{Route: 1, Index: 1}})
	if len(it) != 2 || len(it[0].Trajectory) != 4 || len(it[1].Trajectory) != 1 {
		t.Fatalf("unexpected truncation: %+v", it)
	}

	it = base()
	truncateItinerary(&it, []models.Checkpoint{{Route: 0, Index: 0}, {Route: 1, Index: 2}})
	if len(it) != 1 || it[0].Map != "L2" || len(it[0].Trajectory) != 2 {
		t.Fatalf("empty route not dropped: %+v", it)
	}

	it = base()
	truncateItinerary(&it, nil)
	if len(it) != 3 {
		t.Fatalf("no checkpoints should leave the itinerary alone")
	}
}

// flakyParticipant rejects the first n Set calls, or all of them when n < 0.
type flakyParticipant struct {
	*schedule.MemoryParticipant
	reject   int
	sets     []models.PlanID
	assigned []models.PlanID
}

func (p *flakyParticipant) AssignPlanID(ctx context.Context) (models.PlanID, error) {
	id, err := p.MemoryParticipant.AssignPlanID(ctx)
	p.assigned = append(p.assigned, id)
	return id, err
}

func (p *flakyParticipant) Set(ctx context.Context, id models.PlanID, it models.Itinerary) error {
	p.sets = append(p.sets, id)
	if p.reject < 0 || len(p.sets) <= p.reject {
		return fmt.Errorf("%w: test", schedule.ErrPlanRejected)
	}
	return p.MemoryParticipant.Set(ctx, id, it)
}

func TestCommitRetriesWithFreshPlanID(t *testing.T) {
	p := &flakyParticipant{MemoryParticipant: schedule.NewMemoryParticipant("r1"), reject: 2}
	f := newFixture(p)
	result, state, err := f.compile(t, planOf(point(0, 0), point(5, 1)), nil)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if len(p.assigned) != 3 || result.PlanID != p.assigned[2] {
		t.Fatalf("plan id = %d, assigned %v", result.PlanID, p.assigned)
	}
	if result.CommitAttempts != 3 || len(p.sets) != 3 {
		t.Fatalf("attempts = %d, sets = %v", result.CommitAttempts, p.sets)
	}
	if n := state.Log().Count(task.TierError); n != 2 {
		t.Fatalf("expected two error entries, got %d", n)
	}
}

func TestCommitGivesUpAfterFiveAttempts(t *testing.T) {
	p := &flakyParticipant{MemoryParticipant: schedule.NewMemoryParticipant("r1"), reject: -1}
	f := newFixture(p)
	result, state, err := f.compile(t, planOf(point(0, 0), point(5, 1)), nil)
	if !errors.Is(err, ErrCommitRejected) || result != nil {
		t.Fatalf("expected ErrCommitRejected, got %v %v", result, err)
	}
	if len(p.sets) != 5 {
		t.Fatalf("expected 5 Set calls, got %d", len(p.sets))
	}
	if state.Status() != task.StatusStandby {
		t.Fatalf("sequence should not start, status %s", state.Status())
	}
}

// blindParticipant rejects the first commit and cannot report its current
// plan id.
type blindParticipant struct {
	flakyParticipant
}

func (p *blindParticipant) CurrentPlanID(context.Context) (models.PlanID, error) {
	return 0, errors.New("schedule unreachable")
}

func TestCommitRetriesWhenCurrentPlanIDUnavailable(t *testing.T) {
	p := &blindParticipant{flakyParticipant{MemoryParticipant: schedule.NewMemoryParticipant("r1"), reject: 1}}
	f := newFixture(p)
	result, state, err := f.compile(t, planOf(point(0, 0), point(5, 1)), nil)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if result.CommitAttempts != 2 || len(p.sets) != 2 {
		t.Fatalf("attempts = %d, sets = %v", result.CommitAttempts, p.sets)
	}
	if n := state.Log().Count(task.TierError); n != 1 {
		t.Fatalf("expected one error entry, got %+v", state.Log().Entries())
	}
}

func TestCommitErrorCarriesAttempts(t *testing.T) {
	p := &flakyParticipant{MemoryParticipant: schedule.NewMemoryParticipant("r1"), reject: -1}
	f := newFixture(p)
	_, _, err := f.compile(t, planOf(point(0, 0), point(5, 1)), nil)
	var commitErr *CommitError
	if !errors.As(err, &commitErr) || commitErr.Attempts != 5 {
		t.Fatalf("expected a commit error after 5 attempts, got %v", err)
	}
	if err.Error() != "itinerary commit rejected after 5 attempts" {
		t.Fatalf("message = %q", err.Error())
	}
}

func TestCommitRejectionsAreSpanEvents(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	defer tp.Shutdown(context.Background())

	p := &flakyParticipant{MemoryParticipant: schedule.NewMemoryParticipant("r1"), reject: 2}
	f := newFixture(p)
	plan := planOf(point(0, 0), point(5, 1))

	ctx, span := tp.Tracer("test").Start(context.Background(), "plan.compile")
	result, err := f.compiler.Compile(ctx, Request{RecommendedPlanID: 1, Plan: plan, FullItinerary: plan.Itinerary})
	span.End()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	defer result.Sequence.Cancel()

	ended := rec.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended spans = %d", len(ended))
	}
	var rejected int
	for _, e := range ended[0].Events() {
		if e.Name == telemetry.EventCommitRejected {
			rejected++
		}
	}
	if rejected != 2 {
		t.Fatalf("expected two rejection events, got %+v", ended[0].Events())
	}
}

func TestTailPeriodAddsWaitUntil(t *testing.T) {
	tail := 30 * time.Second
	f := newFixture(schedule.NewMemoryParticipant("r1"))
	result, _, err := f.compile(t, planOf(point(0, 0), point(5, 1)), &tail)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	assertStrings(t, "labels", result.Labels(), []string{"Move", "Wait until finish time"})
}

func TestCompileIsRepeatable(t *testing.T) {
	participant := schedule.NewMemoryParticipant("r1")
	f := newFixture(participant)
	plan := planOf(
		point(0, 0, onNode(0)),
		point(5, 1, onNode(1)),
		point(10, 2, onNode(2), withEvent(models.DoorOpenEvent("A", 0))),
		point(20, 3, onNode(3), withEvent(models.DoorCloseEvent("A", 0))),
		point(30, 4, onNode(4), withDeps("r2")),
		point(40, 5),
	)

	first, _, err := f.compile(t, plan, nil)
	if err != nil {
		t.Fatalf("first compile: %v", err)
	}
	second, _, err := f.compile(t, plan, nil)
	if err != nil {
		t.Fatalf("second compile: %v", err)
	}
	assertStrings(t, "labels", second.Labels(), first.Labels())
	if fmt.Sprint(kinds(first.Actions)) != fmt.Sprint(kinds(second.Actions)) {
		t.Fatalf("actions differ: %v vs %v", kinds(first.Actions), kinds(second.Actions))
	}
}
