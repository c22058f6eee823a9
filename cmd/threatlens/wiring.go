package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"threatlens/config"
	"threatlens/internal/bus"
	buskafka "threatlens/internal/bus/kafka"
	busmemory "threatlens/internal/bus/memory"
	busnats "threatlens/internal/bus/nats"
	busredis "threatlens/internal/bus/redis"
	"threatlens/internal/graph"
	graphmemory "threatlens/internal/graph/memory"
	graphneo4j "threatlens/internal/graph/neo4j"
	"threatlens/internal/hoststate"
	"threatlens/internal/logger"
	"threatlens/internal/metrics"
	"threatlens/internal/oracle"
	"threatlens/internal/oracle/httporacle"
	"threatlens/internal/oracle/openaioracle"
	"threatlens/internal/output/viewclickhouse"
	"threatlens/internal/output/viewhttp"
	"threatlens/internal/output/viewjson"
	"threatlens/internal/pipeline"
	"threatlens/internal/rules"
)

// runtime owns the connections shared by the services of one process.
type runtime struct {
	cfg     *config.Config
	metrics *metrics.Metrics

	mu      sync.Mutex
	broker  *busmemory.Broker
	graph   graph.Store
	closers []io.Closer
}

func newRuntime(cfg *config.Config, m *metrics.Metrics) *runtime {
	return &runtime{cfg: cfg, metrics: m}
}

func (rt *runtime) track(c io.Closer) {
	rt.mu.Lock()
	rt.closers = append(rt.closers, c)
	rt.mu.Unlock()
}

func (rt *runtime) close() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i].Close(); err != nil {
			logger.Warnf("close failed: %v", err)
		}
	}
	rt.closers = nil
	if rt.graph != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rt.graph.Close(ctx); err != nil {
			logger.Warnf("graph close failed: %v", err)
		}
		rt.graph = nil
	}
}

// retry runs connect with exponential backoff until it succeeds, the retry
// budget is spent or ctx is cancelled.
func (rt *runtime) retry(ctx context.Context, what string, connect func() error) error {
	rc := rt.cfg.ThreatLens.Bus.Retry
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = rc.InitialInterval
	bo.MaxInterval = rc.MaxInterval
	bo.MaxElapsedTime = rc.MaxElapsedTime

	return backoff.RetryNotify(func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		return connect()
	}, backoff.WithContext(bo, ctx), func(err error, wait time.Duration) {
		logger.Warnf("Connecting to %s failed, retrying in %s: %v", what, wait, err)
	})
}

func (rt *runtime) memoryBroker() *busmemory.Broker {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.broker == nil {
		rt.broker = busmemory.NewBroker()
	}
	return rt.broker
}

func (rt *runtime) redisConfig(queue string) busredis.Config {
	rc := rt.cfg.ThreatLens.Bus.Redis
	return busredis.Config{
		Addr:         rc.Addr,
		Password:     rc.Password,
		DB:           rc.DB,
		Key:          queue,
		BlockTimeout: rc.BlockTimeout,
	}
}

func (rt *runtime) natsConfig() busnats.Config {
	nc := rt.cfg.ThreatLens.Bus.NATS
	return busnats.Config{
		URL:          nc.URL,
		Stream:       nc.Stream,
		Durable:      nc.Durable,
		FetchTimeout: nc.FetchTimeout,
	}
}

func (rt *runtime) kafkaConfig() buskafka.Config {
	kc := rt.cfg.ThreatLens.Bus.Kafka
	return buskafka.Config{
		Brokers:      kc.Brokers,
		GroupID:      kc.GroupID,
		FetchTimeout: kc.FetchTimeout,
	}
}

func (rt *runtime) openConsumer(ctx context.Context, queue string) (bus.Consumer, error) {
	mode := rt.cfg.ThreatLens.Bus.Mode
	var consumer bus.Consumer
	err := rt.retry(ctx, mode+" queue "+queue, func() error {
		var err error
		switch mode {
		case "redis":
			consumer, err = busredis.NewConsumer(ctx, rt.redisConfig(queue))
		case "nats":
			consumer, err = busnats.NewConsumer(rt.natsConfig(), queue)
		case "kafka":
			consumer, err = buskafka.NewConsumer(rt.kafkaConfig(), queue)
		case "memory":
			consumer = rt.memoryBroker().Consumer(queue, rt.cfg.ThreatLens.Bus.Redis.BlockTimeout)
		default:
			return backoff.Permanent(fmt.Errorf("unsupported bus mode %q", mode))
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	rt.track(consumer)
	logger.Infof("Consuming %s via %s", queue, mode)
	return consumer, nil
}

func (rt *runtime) openPublisher(ctx context.Context) (bus.Publisher, error) {
	mode := rt.cfg.ThreatLens.Bus.Mode
	var publisher bus.Publisher
	err := rt.retry(ctx, mode+" publisher", func() error {
		var err error
		switch mode {
		case "redis":
			publisher, err = busredis.NewPublisher(ctx, rt.redisConfig(""))
		case "nats":
			publisher, err = busnats.NewPublisher(rt.natsConfig())
		case "kafka":
			publisher = buskafka.NewPublisher(rt.kafkaConfig())
		case "memory":
			publisher = rt.memoryBroker()
		default:
			return backoff.Permanent(fmt.Errorf("unsupported bus mode %q", mode))
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	rt.track(publisher)
	return publisher, nil
}

// openGraph returns the process-wide graph store, connecting on first use.
func (rt *runtime) openGraph(ctx context.Context) (graph.Store, error) {
	rt.mu.Lock()
	if rt.graph != nil {
		store := rt.graph
		rt.mu.Unlock()
		return store, nil
	}
	rt.mu.Unlock()

	gc := rt.cfg.ThreatLens.Graph
	var store graph.Store
	switch gc.Mode {
	case "memory":
		store = graphmemory.New()
	case "neo4j":
		err := rt.retry(ctx, "neo4j at "+gc.Neo4j.URI, func() error {
			s, err := graphneo4j.Open(ctx, graphneo4j.Options{
				URI:           gc.Neo4j.URI,
				Username:      gc.Neo4j.Username,
				Password:      gc.Neo4j.Password,
				Database:      gc.Neo4j.Database,
				Centrality:    gc.Centrality,
				PageRankGraph: gc.PageRankGraph,
			})
			if err != nil {
				return err
			}
			store = s
			return nil
		})
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported graph mode %q", gc.Mode)
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.graph != nil {
		_ = store.Close(ctx)
		return rt.graph, nil
	}
	rt.graph = store
	logger.Infof("Graph store ready: mode=%s centrality=%s", gc.Mode, gc.Centrality)
	return store, nil
}

func (rt *runtime) openOracle() (oracle.Oracle, error) {
	oc := rt.cfg.ThreatLens.Oracle
	switch oc.Mode {
	case "http":
		logger.Infof("Oracle: http %s", oc.HTTP.URL)
		return httporacle.New(httporacle.Config{URL: oc.HTTP.URL, Headers: oc.HTTP.Headers})
	case "openai":
		logger.Infof("Oracle: openai model=%s", oc.OpenAI.Model)
		return openaioracle.New(openaioracle.Config{
			APIKey:  oc.OpenAI.APIKey,
			BaseURL: oc.OpenAI.BaseURL,
			Model:   oc.OpenAI.Model,
		})
	default:
		return nil, fmt.Errorf("unsupported oracle mode %q", oc.Mode)
	}
}

// openSink returns nil when no view sink is configured.
func (rt *runtime) openSink(ctx context.Context) (pipeline.ViewWriter, error) {
	sc := rt.cfg.ThreatLens.Correlator.Sink
	var (
		sink pipeline.ViewWriter
		err  error
	)
	switch sc.Mode {
	case "", "none":
		return nil, nil
	case "file":
		sink, err = viewjson.NewWriter(sc.File.Path)
	case "http":
		sink, err = viewhttp.NewWriter(viewhttp.Config{
			URL:     sc.HTTP.URL,
			Timeout: sc.HTTP.Timeout,
			Headers: sc.HTTP.Headers,
		})
	case "clickhouse":
		err = rt.retry(ctx, "clickhouse at "+sc.ClickHouse.Addr, func() error {
			w, err := viewclickhouse.NewWriter(ctx, viewclickhouse.Config{
				Addr:     sc.ClickHouse.Addr,
				Database: sc.ClickHouse.Database,
				Table:    sc.ClickHouse.Table,
				Username: sc.ClickHouse.Username,
				Password: sc.ClickHouse.Password,
			})
			if err != nil {
				return err
			}
			sink = w
			return nil
		})
	default:
		return nil, fmt.Errorf("unsupported sink mode %q", sc.Mode)
	}
	if err != nil {
		return nil, fmt.Errorf("view sink %s: %w", sc.Mode, err)
	}
	rt.track(sink)
	logger.Infof("View sink: %s", sc.Mode)
	return sink, nil
}

// openHostState returns nil when host state is disabled. It shares the Redis
// server configured for the bus.
func (rt *runtime) openHostState(ctx context.Context) (*hoststate.RedisStore, error) {
	hc := rt.cfg.ThreatLens.Correlator.HostState
	if !hc.Enabled {
		return nil, nil
	}
	rc := rt.cfg.ThreatLens.Bus.Redis
	var store *hoststate.RedisStore
	err := rt.retry(ctx, "host state at "+rc.Addr, func() error {
		s, err := hoststate.NewRedisStore(ctx, hoststate.RedisConfig{
			Addr:      rc.Addr,
			Password:  rc.Password,
			DB:        rc.DB,
			KeyPrefix: hc.KeyPrefix,
		})
		if err != nil {
			return err
		}
		store = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Infof("Host state enabled: prefix=%s", hc.KeyPrefix)
	return store, nil
}

func (rt *runtime) loadRules() (rules.Engine, error) {
	rc := rt.cfg.ThreatLens.Classifier.Rules
	if !rc.Enabled {
		return &rules.NoopEngine{}, nil
	}
	engine, stats, err := rules.NewSigmaEngine(rc.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load sigma rules: %w", err)
	}
	logger.Infof("Sigma rules loaded: path=%s files=%d loaded=%d skipped_datasource=%d skipped_complex=%d skipped_invalid=%d",
		rc.Path, stats.TotalFiles, stats.Loaded, stats.SkippedDatasource, stats.SkippedComplex, stats.SkippedInvalid)
	return engine, nil
}

func (rt *runtime) deadLetter(enabled bool, publisher bus.Publisher) (bus.Publisher, string) {
	if !enabled {
		return nil, ""
	}
	return publisher, rt.cfg.ThreatLens.Queues.DeadLetter
}
