/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package navgraph holds the read-only navigation graph shared by a fleet.
package navgraph

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Node is a graph vertex on a named map.
type Node struct {
	Name       string  `yaml:"name"`
	Map        string  `yaml:"map"`
	X          float64 `yaml:"x"`
	Y          float64 `yaml:"y"`
	MutexGroup string  `yaml:"mutex_group,omitempty"`
}

// Lane is a directed edge between two nodes.
type Lane struct {
	Entry      int    `yaml:"entry"`
	Exit       int    `yaml:"exit"`
	MutexGroup string `yaml:"mutex_group,omitempty"`
}

// Graph answers the zone and map queries made while compiling plans.
type Graph struct {
	Name  string `yaml:"name"`
	Nodes []Node `yaml:"nodes"`
	Lanes []Lane `yaml:"lanes"`
}

// NodeMutexGroup returns the mutex group of the node, or "" when the index is
// unknown or the node is not exclusive.
func (g *Graph) NodeMutexGroup(index int) string {
	if index < 0 || index >= len(g.Nodes) {
		return ""
	}
	return g.Nodes[index].MutexGroup
}

// LaneMutexGroup returns the mutex group declared by the lane.
func (g *Graph) LaneMutexGroup(index int) string {
	if index < 0 || index >= len(g.Lanes) {
		return ""
	}
	return g.Lanes[index].MutexGroup
}

// NodeMap returns the map the node belongs to.
func (g *Graph) NodeMap(index int) string {
	if index < 0 || index >= len(g.Nodes) {
		return ""
	}
	return g.Nodes[index].Map
}

// MutexGroups lists the distinct mutex groups declared anywhere in the graph.
func (g *Graph) MutexGroups() []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(name string) {
		if name == "" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	for _, n := range g.Nodes {
		add(n.MutexGroup)
	}
	for _, l := range g.Lanes {
		add(l.MutexGroup)
	}
	return out
}

// Validate checks lane endpoints and node map assignments.
func (g *Graph) Validate() error {
	var errs []error
	for i, n := range g.Nodes {
		if n.Map == "" {
			errs = append(errs, fmt.Errorf("node %d (%s) has no map", i, n.Name))
		}
	}
	for i, l := range g.Lanes {
		if l.Entry < 0 || l.Entry >= len(g.Nodes) {
			errs = append(errs, fmt.Errorf("lane %d entry %d out of range", i, l.Entry))
		}
		if l.Exit < 0 || l.Exit >= len(g.Nodes) {
			errs = append(errs, fmt.Errorf("lane %d exit %d out of range", i, l.Exit))
		}
	}
	return errors.Join(errs...)
}

// Parse decodes a YAML graph document.
func Parse(data []byte) (*Graph, error) {
	var g Graph
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("decode graph: %w", err)
	}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("invalid graph: %w", err)
	}
	return &g, nil
}

// Load reads and parses a graph file.
func Load(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph %s: %w", path, err)
	}
	return Parse(data)
}
