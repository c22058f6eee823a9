package viewjson

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"threatlens/pkg/models"
)

func TestWriterAppendsLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "views.jsonl")

	for i := 0; i < 2; i++ {
		w, err := NewWriter(path)
		if err != nil {
			t.Fatalf("new writer: %v", err)
		}
		v := models.PlaceholderView()
		v.Analysis.RiskScore = i
		if err := w.WriteView(&v); err != nil {
			t.Fatalf("write: %v", err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	var scores []int
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var v models.AggregatedView
		if err := json.Unmarshal(sc.Bytes(), &v); err != nil {
			t.Fatalf("decode line: %v", err)
		}
		scores = append(scores, v.Analysis.RiskScore)
	}
	if len(scores) != 2 || scores[0] != 0 || scores[1] != 1 {
		t.Fatalf("unexpected lines: %v", scores)
	}
}
