package rules

import (
	"os"
	"path/filepath"
	"testing"

	"threatlens/pkg/models"
)

const rdpRule = `title: RDP to remote host
id: flow-rdp-remote
status: experimental
logsource:
  category: firewall
detection:
  selection:
    DestinationPort: '3389'
  condition: selection
level: high
tags:
  - attack.lateral_movement
  - attack.t1021.001
`

const processRule = `title: Process creation
id: proc-1
logsource:
  product: windows
  category: process_creation
detection:
  selection:
    Image: 'cmd.exe'
  condition: selection
`

const aggregateRule = `title: Many connections
id: agg-1
logsource:
  category: firewall
detection:
  selection:
    DestinationPort: '22'
  timeframe: 5m
  condition: selection | count() > 10
`

func writeRules(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write rule: %v", err)
		}
	}
	return dir
}

func TestSigmaEngineTagsMatchingFlow(t *testing.T) {
	dir := writeRules(t, map[string]string{
		"rdp.yml":     rdpRule,
		"process.yml": processRule,
		"agg.yaml":    aggregateRule,
		"notes.txt":   "ignored",
	})
	engine, stats, err := NewSigmaEngine(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if stats.TotalFiles != 3 || stats.Loaded != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.SkippedDatasource != 1 || stats.SkippedComplex != 1 {
		t.Fatalf("unexpected skip stats: %+v", stats)
	}

	tags := engine.Apply(&models.NormalizedFlow{SourceIP: "10.0.0.1", DestinationIP: "10.0.0.2", DestinationPort: 3389})
	if len(tags) != 1 {
		t.Fatalf("expected one tag, got %+v", tags)
	}
	tag := tags[0]
	if tag.ID != "flow-rdp-remote" || tag.Severity != "high" {
		t.Fatalf("unexpected tag: %+v", tag)
	}
	if tag.Tactic != "lateral-movement" || tag.Technique != "T1021/001" {
		t.Fatalf("unexpected attack mapping: %+v", tag)
	}

	if tags := engine.Apply(&models.NormalizedFlow{DestinationPort: 443}); tags != nil {
		t.Fatalf("expected no tags, got %+v", tags)
	}
}

func TestSigmaEngineRejectsNonYAMLFile(t *testing.T) {
	dir := writeRules(t, map[string]string{"rule.txt": rdpRule})
	if _, _, err := NewSigmaEngine(filepath.Join(dir, "rule.txt")); err == nil {
		t.Fatalf("expected error for non-yaml rule file")
	}
}

func TestNilEngineApply(t *testing.T) {
	var e *SigmaEngine
	if tags := e.Apply(&models.NormalizedFlow{}); tags != nil {
		t.Fatalf("expected nil tags")
	}
}
