/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package navgraph

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testGraph = `
name: depot
nodes:
  - {name: dock, map: L1, x: 0, y: 0}
  - {name: hall, map: L1, x: 5, y: 0}
  - {name: corridor, map: L1, x: 10, y: 0, mutex_group: corridor_a}
  - {name: lift_l2, map: L2, x: 10, y: 5}
lanes:
  - {entry: 0, exit: 1}
  - {entry: 1, exit: 2, mutex_group: corridor_a}
  - {entry: 2, exit: 3, mutex_group: lift_shaft}
`

func TestParseGraphQueries(t *testing.T) {
	g, err := Parse([]byte(testGraph))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if got := g.NodeMutexGroup(2); got != "corridor_a" {
		t.Errorf("NodeMutexGroup(2) = %q, want corridor_a", got)
	}
	if got := g.NodeMutexGroup(0); got != "" {
		t.Errorf("NodeMutexGroup(0) = %q, want empty", got)
	}
	if got := g.LaneMutexGroup(2); got != "lift_shaft" {
		t.Errorf("LaneMutexGroup(2) = %q, want lift_shaft", got)
	}
	if got := g.NodeMap(3); got != "L2" {
		t.Errorf("NodeMap(3) = %q, want L2", got)
	}
	if got := g.NodeMap(42); got != "" {
		t.Errorf("NodeMap(42) = %q, want empty", got)
	}
	if got := g.LaneMutexGroup(-1); got != "" {
		t.Errorf("LaneMutexGroup(-1) = %q, want empty", got)
	}

	groups := g.MutexGroups()
	if len(groups) != 2 || groups[0] != "corridor_a" || groups[1] != "lift_shaft" {
		t.Errorf("MutexGroups() = %v", groups)
	}
}

func TestParseRejectsDanglingLane(t *testing.T) {
	_, err := Parse([]byte(`
nodes:
  - {name: a, map: L1}
lanes:
  - {entry: 0, exit: 3}
`))
	if err == nil {
		t.Fatal("expected error for lane exit out of range")
	}
	if !strings.Contains(err.Error(), "lane 0 exit 3") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.yaml")
	if err := os.WriteFile(path, []byte(testGraph), 0o644); err != nil {
		t.Fatalf("write graph: %v", err)
	}
	g, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if g.Name != "depot" || len(g.Nodes) != 4 || len(g.Lanes) != 3 {
		t.Fatalf("unexpected graph: %+v", g)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
