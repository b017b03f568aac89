// Copyright (C) 2026 Verdant Labs (dev@verdantlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/verdantlabs/verdant/services/progress/datatypes"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	completeCount int    // Units to record per complete call
	markAllGarden string // Garden filter for mark-all
	markAllPlant  string // Plant filter for mark-all (requires garden)
)

// =============================================================================
// COMMAND IMPLEMENTATIONS
// =============================================================================

func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func printJSON(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fail("Encode output: %v", err)
	}
	fmt.Println(string(out))
}

// runStatus checks daemon liveness.
func runStatus(cmd *cobra.Command, args []string) {
	ctx, cancel := commandContext()
	defer cancel()

	var health struct {
		Status      string `json:"status"`
		Occurrences int    `json:"occurrences"`
		Sessions    int    `json:"sessions"`
	}
	if err := newAPIClient(daemonAddr).get(ctx, "/health", &health); err != nil {
		fail("Daemon unreachable: %v", err)
	}

	if jsonOutput {
		printJSON(health)
		return
	}
	fmt.Printf("verdantd: %s\n", health.Status)
	fmt.Printf("  occurrences loaded: %d\n", health.Occurrences)
	fmt.Printf("  websocket sessions: %d\n", health.Sessions)
}

// runProgress shows the cached due/completed aggregate for one scope.
func runProgress(cmd *cobra.Command, args []string) {
	ctx, cancel := commandContext()
	defer cancel()

	scope, id := args[0], args[1]
	path := fmt.Sprintf("/v1/progress/%s/%s", url.PathEscape(scope), url.PathEscape(id))
	if progressDate != "" {
		path += "?date=" + url.QueryEscape(progressDate)
	}

	var resp struct {
		Scope     string `json:"scope"`
		ID        string `json:"id"`
		Date      string `json:"date"`
		Due       int    `json:"due"`
		Completed int    `json:"completed"`
	}
	if err := newAPIClient(daemonAddr).get(ctx, path, &resp); err != nil {
		fail("Fetch progress: %v", err)
	}

	if jsonOutput {
		printJSON(resp)
		return
	}
	fmt.Printf("%s %s on %s: %d/%d completed\n",
		resp.Scope, resp.ID, resp.Date, resp.Completed, resp.Due)
}

// runTasks lists a garden's occurrences grouped by plant.
func runTasks(cmd *cobra.Command, args []string) {
	ctx, cancel := commandContext()
	defer cancel()

	var view datatypes.GardenTaskView
	path := fmt.Sprintf("/v1/gardens/%s/tasks", url.PathEscape(args[0]))
	if err := newAPIClient(daemonAddr).get(ctx, path, &view); err != nil {
		fail("Fetch tasks: %v", err)
	}

	if jsonOutput {
		printJSON(view)
		return
	}

	fmt.Printf("Garden %s: %d/%d completed\n", view.GardenID, view.Completed, view.Due)
	for _, plant := range view.Plants {
		fmt.Printf("  plant %s\n", plant.GardenPlantID)
		for _, occ := range plant.Occurrences {
			marker := " "
			if occ.Remaining() == 0 {
				marker = "x"
			}
			fmt.Printf("    [%s] %s  %d/%d  (occurrence %s)\n",
				marker, occ.TaskID, occ.ClampCount(occ.CompletedCount), occ.RequiredCount, occ.ID)
		}
	}
}

// runComplete records completed units for one occurrence.
func runComplete(cmd *cobra.Command, args []string) {
	ctx, cancel := commandContext()
	defer cancel()

	path := fmt.Sprintf("/v1/occurrences/%s/progress", url.PathEscape(args[0]))
	body := map[string]int{"increment": completeCount}

	var resp struct {
		Status string `json:"status"`
	}
	if err := newAPIClient(daemonAddr).post(ctx, path, body, &resp); err != nil {
		fail("Record progress: %v", err)
	}
	fmt.Printf("Occurrence %s: %s\n", args[0], resp.Status)
}

// runMarkAll completes every outstanding unit, optionally scoped to a
// garden or a single plant within it.
func runMarkAll(cmd *cobra.Command, args []string) {
	ctx, cancel := commandContext()
	defer cancel()

	client := newAPIClient(daemonAddr)
	var resp struct {
		Status string `json:"status"`
	}

	if markAllPlant != "" {
		if markAllGarden == "" {
			fail("--plant requires --garden")
		}
		path := fmt.Sprintf("/v1/gardens/%s/progress-all", url.PathEscape(markAllGarden))
		body := map[string]string{"gardenPlantId": markAllPlant}
		if err := client.post(ctx, path, body, &resp); err != nil {
			fail("Mark plant complete: %v", err)
		}
		fmt.Printf("Plant %s: %s\n", markAllPlant, resp.Status)
		return
	}

	body := map[string]string{}
	if markAllGarden != "" {
		body["gardenId"] = markAllGarden
	}
	if err := client.post(ctx, "/v1/progress/mark-all", body, &resp); err != nil {
		fail("Mark all complete: %v", err)
	}
	fmt.Printf("Mark all: %s\n", resp.Status)
}
