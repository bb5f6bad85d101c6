package main

import (
	"bytes"
	"context"
	"encoding/json"
	"slices"
	"testing"
	"time"

	"OpenMCP-Goals/internal/config"
	"OpenMCP-Goals/internal/goalagent"
)

func memoryConfig() *config.Config {
	return &config.Config{
		Agent:    config.AgentConfig{MaxWorkers: 2, Timeout: time.Second},
		Store:    config.StoreConfig{Driver: "memory"},
		Cache:    config.CacheConfig{Enabled: true, Backend: "memory", TTL: time.Minute},
		Events:   config.EventsConfig{Driver: "none"},
		Alerting: config.AlertingConfig{Enabled: true},
	}
}

func TestBuildWithMemoryBackends(t *testing.T) {
	app, err := build(context.Background(), memoryConfig())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer app.close()

	if _, err := app.agent.CreateGoal(context.Background(), goalagent.CreateGoalRequest{Description: "wire"}); err != nil {
		t.Fatalf("create goal: %v", err)
	}
	stats, err := app.agent.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Goals != 1 || !stats.CacheEnabled || stats.Workers != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestRunStatsPrintsJSON(t *testing.T) {
	var out bytes.Buffer
	if err := runStats(context.Background(), memoryConfig(), &out); err != nil {
		t.Fatalf("run stats: %v", err)
	}
	var stats map[string]any
	if err := json.Unmarshal(out.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v (%s)", err, out.String())
	}
}

func TestMigrateRejectsMemoryStore(t *testing.T) {
	if err := migrate(context.Background(), config.StoreConfig{Driver: "memory"}); err == nil {
		t.Fatalf("expected error when migrating memory store")
	}
}

func TestLoggerConfigKeepsStdoutFreeForMCP(t *testing.T) {
	cfg := loggerConfig(config.LoggingConfig{OutputPaths: []string{"stdout", "/tmp/agent.log"}}, "stderr")
	if !slices.Equal(cfg.OutputPaths, []string{"stderr", "/tmp/agent.log"}) {
		t.Fatalf("unexpected outputs %v", cfg.OutputPaths)
	}
	cfg = loggerConfig(config.LoggingConfig{}, "stdout")
	if !slices.Equal(cfg.OutputPaths, []string{"stdout"}) {
		t.Fatalf("unexpected default outputs %v", cfg.OutputPaths)
	}
}
