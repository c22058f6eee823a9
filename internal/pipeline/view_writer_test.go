package pipeline

import (
	"errors"
	"testing"

	"threatlens/pkg/models"
)

type recordingWriter struct {
	views  int
	closed bool
	err    error
}

func (w *recordingWriter) WriteView(*models.AggregatedView) error {
	w.views++
	return w.err
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestViewWritersFanOut(t *testing.T) {
	failing := &recordingWriter{err: errors.New("down")}
	ok := &recordingWriter{}
	ws := ViewWriters{failing, ok}

	view := models.PlaceholderView()
	if err := ws.WriteView(&view); err == nil {
		t.Fatal("expected joined error")
	}
	if failing.views != 1 || ok.views != 1 {
		t.Fatalf("expected every writer to see the view: %d %d", failing.views, ok.views)
	}
	if err := ws.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !failing.closed || !ok.closed {
		t.Fatal("expected every writer closed")
	}
}
