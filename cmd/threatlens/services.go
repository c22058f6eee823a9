package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"threatlens/internal/api"
	"threatlens/internal/classifier"
	"threatlens/internal/correlator"
	"threatlens/internal/ingest"
	"threatlens/internal/logger"
	"threatlens/internal/pipeline"
	"threatlens/internal/view"
)

func runIngest(ctx context.Context, rt *runtime) error {
	tl := rt.cfg.ThreatLens
	publisher, err := rt.openPublisher(ctx)
	if err != nil {
		return err
	}

	normalizer := ingest.New(publisher, ingest.Options{
		Queue:   tl.Queues.Raw,
		Metrics: rt.metrics,
	})
	h := &api.Handler{Ingest: normalizer, Metrics: rt.metrics}
	return api.Serve(ctx, tl.Ingest.ListenAddr, h.Router())
}

func runClassifier(ctx context.Context, rt *runtime) error {
	tl := rt.cfg.ThreatLens
	store, err := rt.openGraph(ctx)
	if err != nil {
		return err
	}
	o, err := rt.openOracle()
	if err != nil {
		return err
	}
	engine, err := rt.loadRules()
	if err != nil {
		return err
	}
	publisher, err := rt.openPublisher(ctx)
	if err != nil {
		return err
	}
	consumer, err := rt.openConsumer(ctx, tl.Queues.Raw)
	if err != nil {
		return err
	}

	c := classifier.New(store, o, publisher, classifier.Options{
		IncidentQueue: tl.Queues.Incident,
		OracleTimeout: tl.Oracle.Timeout,
		Rules:         engine,
		Metrics:       rt.metrics,
	})
	dl, dlQueue := rt.deadLetter(tl.Classifier.DeadLetter, publisher)
	p := pipeline.New(consumer, c.Handle, pipeline.Options{
		Service:         "classifier",
		Workers:         tl.Classifier.Workers,
		Key:             classifier.SourceKey,
		DeadLetter:      dl,
		DeadLetterQueue: dlQueue,
		Metrics:         rt.metrics,
	})

	h := &api.Handler{Graph: store, Metrics: rt.metrics}
	return serveWhile(ctx, p.Run, tl.Classifier.ListenAddr, h)
}

func runCorrelator(ctx context.Context, rt *runtime) error {
	tl := rt.cfg.ThreatLens
	store, err := rt.openGraph(ctx)
	if err != nil {
		return err
	}
	sink, err := rt.openSink(ctx)
	if err != nil {
		return err
	}
	hosts, err := rt.openHostState(ctx)
	if err != nil {
		return err
	}
	var writers pipeline.ViewWriters
	if sink != nil {
		writers = append(writers, sink)
	}
	if hosts != nil {
		rt.track(hosts)
		writers = append(writers, hosts)
	}
	publisher, err := rt.openPublisher(ctx)
	if err != nil {
		return err
	}
	consumer, err := rt.openConsumer(ctx, tl.Queues.Incident)
	if err != nil {
		return err
	}

	views := view.NewStore()
	c := correlator.New(store, correlator.NewScorer(tl.Correlator.MaliciousIPs), views, publisher, correlator.Options{
		ResponseQueue:   tl.Queues.Response,
		ActionThreshold: tl.Correlator.ActionThreshold,
		TopNodes:        tl.Graph.TopNodes,
		MaxHops:         tl.Graph.MaxHops,
		Sink:            viewSink(writers),
		Metrics:         rt.metrics,
	})
	dl, dlQueue := rt.deadLetter(tl.Correlator.DeadLetter, publisher)
	p := pipeline.New(consumer, c.Handle, pipeline.Options{
		Service:         "correlator",
		Workers:         tl.Correlator.Workers,
		DeadLetter:      dl,
		DeadLetterQueue: dlQueue,
		Metrics:         rt.metrics,
	})

	h := &api.Handler{
		Views:         views,
		Graph:         store,
		Metrics:       rt.metrics,
		HostWindow:    tl.Correlator.HostState.Window,
		HostThreshold: int64(tl.Correlator.ActionThreshold),
	}
	if hosts != nil {
		h.Hosts = hosts
	}
	return serveWhile(ctx, p.Run, tl.Correlator.ListenAddr, h)
}

func viewSink(writers pipeline.ViewWriters) pipeline.ViewWriter {
	switch len(writers) {
	case 0:
		return nil
	case 1:
		return writers[0]
	default:
		return writers
	}
}

// serveWhile runs the pipeline and the HTTP surface together; either one
// stopping stops the other.
func serveWhile(ctx context.Context, run func(context.Context) error, addr string, h *api.Handler) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- run(ctx)
		cancel()
	}()
	go func() {
		errCh <- api.Serve(ctx, addr, h.Router())
		cancel()
	}()

	var firstErr error
	for i := 0; i < 2; i++ {
		err := <-errCh
		if err != nil && firstErr == nil && !errors.Is(err, context.Canceled) {
			firstErr = err
		}
	}
	return firstErr
}

func runSnapshot(ctx context.Context, rt *runtime, path string) error {
	store, err := rt.openGraph(ctx)
	if err != nil {
		return err
	}
	snap, err := store.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	if err := writeJSONLines(path, snap.Nodes, snap.Links); err != nil {
		return err
	}
	logger.Infof("Snapshot written: path=%s nodes=%d links=%d", path, len(snap.Nodes), len(snap.Links))
	return nil
}

// writeJSONLines writes nodes followed by links, one JSON object per line.
func writeJSONLines[N, L any](path string, nodes []N, links []L) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, n := range nodes {
		if err := enc.Encode(n); err != nil {
			return fmt.Errorf("encode node: %w", err)
		}
	}
	for _, l := range links {
		if err := enc.Encode(l); err != nil {
			return fmt.Errorf("encode link: %w", err)
		}
	}
	return w.Flush()
}
