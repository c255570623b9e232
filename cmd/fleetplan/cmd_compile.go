/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/friendsincode/fleetplan/internal/compiler"
	"github.com/friendsincode/fleetplan/internal/logging"
	"github.com/friendsincode/fleetplan/internal/models"
	"github.com/friendsincode/fleetplan/internal/mutexzone"
	"github.com/friendsincode/fleetplan/internal/navgraph"
	"github.com/friendsincode/fleetplan/internal/phases"
	"github.com/friendsincode/fleetplan/internal/planfile"
	"github.com/friendsincode/fleetplan/internal/planning"
	"github.com/friendsincode/fleetplan/internal/schedule"
	"github.com/friendsincode/fleetplan/internal/task"
)

var (
	compileGraphPath string
	compileRobot     string
	compileJSON      bool
	compileVerbose   bool
)

var compileCmd = &cobra.Command{
	Use:   "compile <plan-file>",
	Short: "Compile a plan file without driving a robot",
	Long: `Compile a YAML or JSON plan file against an in-memory schedule and print
the resulting task sequence and compiler diagnostics. Nothing is executed.`,
	Args: cobra.ExactArgs(1),
	RunE: runCompile,
}

func init() {
	compileCmd.Flags().StringVar(&compileGraphPath, "graph", "", "Navigation graph YAML providing mutex groups")
	compileCmd.Flags().StringVar(&compileRobot, "robot", "", "Robot name (default: from the plan file)")
	compileCmd.Flags().BoolVar(&compileJSON, "json", false, "Print the result as JSON")
	compileCmd.Flags().BoolVarP(&compileVerbose, "verbose", "v", false, "Log compiler activity to stderr")
	rootCmd.AddCommand(compileCmd)
}

func runCompile(cmd *cobra.Command, args []string) error {
	log := zerolog.Nop()
	if compileVerbose {
		log = logging.SetupWithWriter("development", "console", os.Stderr)
	}

	file, err := planfile.Load(args[0])
	if err != nil {
		return err
	}

	robotName := compileRobot
	if robotName == "" {
		robotName = file.Robot
	}
	if robotName == "" {
		robotName = "robot"
	}

	graph := &navgraph.Graph{}
	if compileGraphPath != "" {
		graph, err = navgraph.Load(compileGraphPath)
		if err != nil {
			return err
		}
	}

	plan, err := file.Plan(file.StartTime(time.Now()))
	if err != nil {
		return err
	}
	tail, err := file.TailPeriod()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	participant := schedule.NewMemoryParticipant(robotName)
	recommended := models.PlanID(file.RecommendedPlanID)
	if recommended == 0 {
		if recommended, err = participant.AssignPlanID(ctx); err != nil {
			return err
		}
	}

	robot := compiler.Robot{
		Name:      robotName,
		Graph:     graph,
		Itinerary: participant,
		Phases: phases.NewLocal(phases.LocalConfig{
			Robot:     robotName,
			Locker:    mutexzone.NewMemoryLocker(),
			Itinerary: participant,
		}, log),
	}
	svc := planning.NewService(compiler.New(robot, compiler.DefaultOptions(), log), planning.Config{Robot: robotName}, nil, log)

	res, compileErr := svc.Compile(ctx, compiler.Request{
		RecommendedPlanID: recommended,
		Plan:              plan,
		FullItinerary:     plan.Itinerary,
		TailPeriod:        tail,
	})
	// Compilation starts the sequence; a dry run stops it straight away.
	svc.Cancel()

	out := cmd.OutOrStdout()
	if compileJSON {
		if err := writeCompileJSON(out, res); err != nil {
			return err
		}
	} else {
		writeCompileText(out, res)
	}
	return compileErr
}

type compileOutput struct {
	Record   *models.CompilationRecord `json:"record"`
	Sequence []node                    `json:"sequence,omitempty"`
}

type node struct {
	Name     string `json:"name"`
	Children []node `json:"children,omitempty"`
}

func tree(st *task.State) []node {
	var out []node
	for _, child := range st.Dependencies() {
		out = append(out, node{Name: child.Name(), Children: tree(child)})
	}
	return out
}

func writeCompileJSON(w io.Writer, res *planning.Result) error {
	out := compileOutput{Record: res.Record}
	if res.Compiled != nil {
		out.Sequence = tree(res.Compiled.Sequence.State())
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func writeCompileText(w io.Writer, res *planning.Result) {
	rec := res.Record
	fmt.Fprintf(w, "outcome:   %s\n", rec.Outcome)
	if rec.Outcome == models.CompilationCommitted {
		fmt.Fprintf(w, "plan id:   %d (recommended %d, %d attempt(s))\n", rec.PlanID, rec.RecommendedPlanID, rec.CommitAttempts)
		if rec.FinishAt != nil {
			fmt.Fprintf(w, "finish at: %s\n", rec.FinishAt.Format(time.RFC3339))
		}
		fmt.Fprintln(w, "sequence:")
		printTree(w, tree(res.Compiled.Sequence.State()), 1)
	}
	if rec.Error != "" {
		fmt.Fprintf(w, "error:     %s\n", rec.Error)
	}
	if len(rec.Warnings) > 0 {
		fmt.Fprintln(w, "diagnostics:")
		for _, d := range rec.Warnings {
			fmt.Fprintf(w, "  - %s\n", d)
		}
	}
}

func printTree(w io.Writer, nodes []node, depth int) {
	for _, n := range nodes {
		fmt.Fprintf(w, "%s%s\n", strings.Repeat("  ", depth), n.Name)
		printTree(w, n.Children, depth+1)
	}
}
