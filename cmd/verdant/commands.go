// Copyright (C) 2026 Verdant Labs (dev@verdantlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"os"

	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	daemonAddr   string // Base URL of the verdantd daemon
	jsonOutput   bool   // Machine-readable output for scripting
	progressDate string // ISO date for progress queries (default today)

	rootCmd = &cobra.Command{
		Use:   "verdant",
		Short: "A cli to talk to the verdantd garden care daemon",
		Long: `Verdant is a client for the verdantd daemon: it shows cached
care-task progress, records completed care actions, and tails the
realtime broadcast channel other devices publish on.`,
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Check daemon health and connected sessions",
		Run:   runStatus, // Defined in cmd_progress.go
	}

	progressCmd = &cobra.Command{
		Use:   "progress [garden|user] [id]",
		Short: "Show the due/completed aggregate for a garden or user",
		Args:  cobra.ExactArgs(2),
		Run:   runProgress, // Defined in cmd_progress.go
	}

	tasksCmd = &cobra.Command{
		Use:   "tasks [gardenId]",
		Short: "List today's care tasks for a garden, grouped by plant",
		Args:  cobra.ExactArgs(1),
		Run:   runTasks, // Defined in cmd_progress.go
	}

	completeCmd = &cobra.Command{
		Use:     "complete [occurrenceId]",
		Short:   "Record one completed unit of a care-task occurrence",
		Aliases: []string{"c"},
		Args:    cobra.ExactArgs(1),
		Run:     runComplete, // Defined in cmd_progress.go
	}

	markAllCmd = &cobra.Command{
		Use:   "mark-all",
		Short: "Complete every outstanding care task (optionally one garden)",
		Run:   runMarkAll, // Defined in cmd_progress.go
	}

	watchCmd = &cobra.Command{
		Use:   "watch [userId]",
		Short: "Tail the realtime broadcast channel",
		Args:  cobra.ExactArgs(1),
		Run:   runWatch, // Defined in cmd_watch.go
	}
)

func init() {
	addr := os.Getenv("VERDANT_ADDR")
	if addr == "" {
		addr = "http://localhost:12410"
	}
	rootCmd.PersistentFlags().StringVar(&daemonAddr, "addr", addr,
		"Base URL of the verdantd daemon (env: VERDANT_ADDR)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Output raw JSON for scripting")

	progressCmd.Flags().StringVarP(&progressDate, "date", "d", "",
		"ISO date to query (default: today)")
	completeCmd.Flags().IntVarP(&completeCount, "count", "n", 1,
		"Units of care to record")
	markAllCmd.Flags().StringVarP(&markAllGarden, "garden", "g", "",
		"Limit to one garden (default: all gardens)")
	markAllCmd.Flags().StringVarP(&markAllPlant, "plant", "p", "",
		"Limit to one plant in the garden (requires --garden)")
	watchCmd.Flags().StringSliceVar(&watchGardens, "gardens", nil,
		"Garden ids to subscribe to (default: all the user's gardens)")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(progressCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(completeCmd)
	rootCmd.AddCommand(markAllCmd)
	rootCmd.AddCommand(watchCmd)
}
