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
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/verdantlabs/verdant/services/broadcast"
	"github.com/verdantlabs/verdant/services/progress/datatypes"
)

var watchGardens []string // Garden filter for watch

// runWatch subscribes to the daemon's broadcast channel and prints
// every message until interrupted.
func runWatch(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wsURL, err := websocketURL(daemonAddr)
	if err != nil {
		fail("Bad daemon address: %v", err)
	}

	quiet := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	client := broadcast.NewWSClient(wsURL, quiet)
	cancel, err := client.Subscribe(ctx, args[0], watchGardens, printBroadcast)
	if err != nil {
		fail("Subscribe: %v", err)
	}
	defer cancel()

	fmt.Fprintf(os.Stderr, "Watching broadcasts for %s (ctrl-c to stop)\n", args[0])
	<-ctx.Done()
}

func printBroadcast(msg datatypes.BroadcastMessage) {
	if jsonOutput {
		out, err := json.Marshal(msg)
		if err != nil {
			return
		}
		fmt.Println(string(out))
		return
	}

	line := fmt.Sprintf("%s  %-10s garden=%s",
		time.Now().Format("15:04:05"), msg.Kind, msg.GardenID)
	if msg.ActorID != "" {
		line += "  actor=" + msg.ActorID
	}
	if outcome := msg.Metadata["outcome"]; outcome != "" {
		line += "  outcome=" + outcome
	}
	fmt.Println(line)
}

// websocketURL converts the daemon's HTTP base URL to its ws endpoint.
func websocketURL(addr string) (string, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/ws"
	return u.String(), nil
}
