// Copyright (C) 2026 Verdant Labs (dev@verdantlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command verdantd starts the Verdant edge daemon.
//
// The daemon keeps a multi-tier cache of garden care-task progress,
// serves it over HTTP, and relays realtime updates to connected UI
// clients over a websocket.
//
// Configuration comes from a YAML file merged with VERDANT_* and
// OTEL_EXPORTER_OTLP_ENDPOINT environment variables; see
// gateway.LoadConfig for the full list.
//
// # Usage
//
//	# Build
//	go build -o verdantd ./cmd/verdantd
//
//	# Run with the default config path
//	./verdantd
//
//	# Or point at a specific config
//	./verdantd -config /etc/verdant/verdant.yaml
package main

import (
	"flag"
	"log"

	"github.com/verdantlabs/verdant/services/gateway"
)

func main() {
	configPath := flag.String("config", "verdant.yaml", "path to the daemon config file")
	flag.Parse()

	cfg, err := gateway.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Production wiring; tests and embedders pass Options instead.
	svc, err := gateway.New(cfg, nil)
	if err != nil {
		log.Fatalf("Failed to create daemon: %v", err)
	}

	// Blocks until SIGINT/SIGTERM or a fatal server error.
	if err := svc.Run(); err != nil {
		log.Fatalf("Daemon error: %v", err)
	}
}
