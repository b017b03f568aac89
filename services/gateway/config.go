// Copyright (C) 2026 Verdant Labs (dev@verdantlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package gateway

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config holds the daemon configuration.
//
// Values come from three layers, lowest precedence first: defaults,
// the YAML config file, environment variables. Durations use Go
// duration syntax ("750ms", "90s").
type Config struct {
	// Port is the HTTP server port. Default: 12410.
	Port int `yaml:"port" validate:"gte=0,lte=65535"`

	// GinMode sets the Gin framework mode: debug, release, or test.
	// Default: release.
	GinMode string `yaml:"ginMode" validate:"omitempty,oneof=debug release test"`

	// DataDir is where the durable cache tier lives.
	// Default: ./data.
	DataDir string `yaml:"dataDir" validate:"required"`

	// LogDir enables file logging alongside stderr when set.
	LogDir string `yaml:"logDir"`

	// LogLevel is one of debug, info, warn, error. Default: info.
	LogLevel string `yaml:"logLevel" validate:"omitempty,oneof=debug info warn error"`

	// StoreURL is the authoritative-store base URL. When empty the
	// daemon runs with empty aggregates (useful for local UI work).
	StoreURL string `yaml:"storeUrl" validate:"omitempty,url"`

	// StoreToken is the bearer token for the authoritative store.
	StoreToken string `yaml:"storeToken"`

	// UserID is the user whose gardens the daemon tracks.
	UserID string `yaml:"userId" validate:"required"`

	// GardenIDs is the user's garden set.
	GardenIDs []string `yaml:"gardenIds" validate:"dive,required"`

	// ActorID identifies this daemon on the realtime boundary.
	// Default: a fresh UUID per start.
	ActorID string `yaml:"actorId"`

	// OTelEndpoint is the OTLP gRPC collector address. Tracing is
	// disabled when empty.
	OTelEndpoint string `yaml:"otelEndpoint"`

	// Cache and consistency tuning. Zero values use the progress
	// package defaults.
	FastTTL           time.Duration `yaml:"fastTtl"`
	DurableTTL        time.Duration `yaml:"durableTtl"`
	DebounceInterval  time.Duration `yaml:"debounceInterval"`
	SettleDelay       time.Duration `yaml:"settleDelay"`
	SweepInterval     time.Duration `yaml:"sweepInterval"`
	MaxRepairAttempts int           `yaml:"maxRepairAttempts" validate:"gte=0"`
}

// DefaultConfig returns the daemon defaults.
func DefaultConfig() Config {
	return Config{
		Port:     12410,
		GinMode:  "release",
		DataDir:  "./data",
		LogLevel: "info",
	}
}

// LoadConfig builds the daemon configuration: defaults, then the YAML
// file at path (skipped when path is empty or the file does not
// exist), then environment overrides, then validation.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Fall through to env and defaults.
		case err != nil:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	applyEnvOverrides(&cfg)

	if cfg.ActorID == "" {
		cfg.ActorID = uuid.New().String()
	}

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides lets deployment environments override the file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VERDANT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v := os.Getenv("VERDANT_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("VERDANT_STORE_URL"); v != "" {
		cfg.StoreURL = v
	}
	if v := os.Getenv("VERDANT_STORE_TOKEN"); v != "" {
		cfg.StoreToken = v
	}
	if v := os.Getenv("VERDANT_USER_ID"); v != "" {
		cfg.UserID = v
	}
	if v := os.Getenv("VERDANT_GARDEN_IDS"); v != "" {
		cfg.GardenIDs = splitCSV(v)
	}
	if v := os.Getenv("VERDANT_ACTOR_ID"); v != "" {
		cfg.ActorID = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.OTelEndpoint = v
	}
	if v := os.Getenv("GIN_MODE"); v != "" {
		cfg.GinMode = v
	}
}

func splitCSV(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
