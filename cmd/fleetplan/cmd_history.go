/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/fleetplan/internal/db"
	"github.com/friendsincode/fleetplan/internal/ledger"
	"github.com/friendsincode/fleetplan/internal/models"
)

var (
	historyRobot   string
	historyOutcome string
	historyLimit   int
	historySince   time.Duration
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded plan compilations",
	Long:  "Query the compilation ledger configured by FLEETPLAN_DB_DSN.",
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyRobot, "robot", "", "Robot name (default: FLEETPLAN_ROBOT_NAME)")
	historyCmd.Flags().StringVar(&historyOutcome, "outcome", "", "Only show committed, rejected, empty_plan or failed")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of records")
	historyCmd.Flags().DurationVar(&historySince, "since", 0, "Only show records newer than this (e.g. 1h)")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	if !cfg.LedgerEnabled() {
		return fmt.Errorf("compilation ledger disabled: set FLEETPLAN_DB_DSN")
	}

	database, err := db.Connect(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close(database) }()

	filters := ledger.QueryFilters{
		Participant: historyRobot,
		Outcome:     models.CompilationOutcome(historyOutcome),
		Limit:       historyLimit,
	}
	if filters.Participant == "" {
		filters.Participant = cfg.RobotName
	}
	if historySince > 0 {
		since := time.Now().Add(-historySince)
		filters.Since = &since
	}

	svc := ledger.NewService(database, nil, logger)
	records, total, err := svc.Query(context.Background(), filters)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED\tROBOT\tOUTCOME\tPLAN\tATTEMPTS\tACTIONS\tSEQUENCE")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			r.CreatedAt.Format(time.RFC3339), r.Participant, r.Outcome, r.PlanID, r.CommitAttempts, r.Actions, strings.Join(r.Labels, ", "))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d of %d record(s)\n", len(records), total)
	return nil
}
