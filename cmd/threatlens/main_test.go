package main

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"threatlens/config"
	"threatlens/pkg/models"
)

func TestApplyDefaults(t *testing.T) {
	cfg := &config.Config{}
	applyDefaults(cfg)
	tl := cfg.ThreatLens

	if tl.Bus.Mode != "redis" || tl.Bus.Redis.Addr != "127.0.0.1:6379" {
		t.Fatalf("unexpected bus defaults: %+v", tl.Bus)
	}
	if tl.Queues.Raw != "snaplog" || tl.Queues.Incident != "incident_queue" || tl.Queues.Response != "security_responses" {
		t.Fatalf("unexpected queue defaults: %+v", tl.Queues)
	}
	if tl.Oracle.Timeout != 30*time.Second {
		t.Fatalf("expected 30s oracle timeout, got %s", tl.Oracle.Timeout)
	}
	if tl.Graph.TopNodes != 3 || tl.Graph.MaxHops != 5 {
		t.Fatalf("unexpected graph bounds: %+v", tl.Graph)
	}
	if tl.Correlator.ActionThreshold != 3 {
		t.Fatalf("expected action threshold 3, got %d", tl.Correlator.ActionThreshold)
	}
	if tl.Correlator.Sink.Mode != "none" {
		t.Fatalf("expected no sink by default, got %q", tl.Correlator.Sink.Mode)
	}
}

func TestApplyDefaultsKeepsExplicitValues(t *testing.T) {
	cfg := &config.Config{}
	cfg.ThreatLens.Bus.Mode = "nats"
	cfg.ThreatLens.Queues.Raw = "sessions"
	cfg.ThreatLens.Graph.MaxHops = 2
	cfg.ThreatLens.Bus.Retry.MaxElapsedTime = -1
	applyDefaults(cfg)

	tl := cfg.ThreatLens
	if tl.Bus.Mode != "nats" || tl.Queues.Raw != "sessions" || tl.Graph.MaxHops != 2 {
		t.Fatalf("explicit values overwritten: %+v", tl)
	}
	if tl.Bus.Retry.MaxElapsedTime != 0 {
		t.Fatalf("negative max elapsed time should mean retry forever, got %s", tl.Bus.Retry.MaxElapsedTime)
	}
}

func TestFindConfigFilePrefersExplicitPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yml")
	if err := os.WriteFile(path, []byte("threatlens: {}\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if got := findConfigFile(path); got != path {
		t.Fatalf("expected %s, got %s", path, got)
	}
}

func TestWriteJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "graph.jsonl")
	nodes := []models.GraphNode{{ID: "10.0.0.5"}, {ID: "10.0.0.9"}}
	links := []models.GraphLink{{Source: "10.0.0.5", Target: "10.0.0.9"}}

	if err := writeJSONLines(path, nodes, links); err != nil {
		t.Fatalf("write: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	var lines []map[string]interface{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]interface{}
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("line %q: %v", sc.Text(), err)
		}
		lines = append(lines, m)
	}
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	if lines[0]["id"] != "10.0.0.5" || lines[2]["source"] != "10.0.0.5" {
		t.Fatalf("unexpected order: %v", lines)
	}
}
