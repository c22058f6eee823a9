package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"threatlens/config"
	"threatlens/internal/logger"
	"threatlens/internal/metrics"
)

const usage = `usage: threatlens <command> [-config threatlens.yml]

commands:
  ingest     accept agent batches on POST /api/sessions
  classify   classify raw sessions and record them in the graph
  correlate  score enriched records and serve the security view
  all        run ingest, classify and correlate in one process
  snapshot   write the graph snapshot as JSON lines
`

func findConfigFile(configArg string) string {
	if configArg != "" {
		path := configArg
		if _, err := os.Stat(path); err == nil {
			return path
		}
		log.Printf("Warning: config file not found at %s, trying default locations", path)
	}

	if _, err := os.Stat("threatlens.yml"); err == nil {
		return "threatlens.yml"
	}

	exePath, err := os.Executable()
	if err == nil {
		exeDir := filepath.Dir(exePath)
		path := filepath.Join(exeDir, "threatlens.yml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return "threatlens.yml"
}

func applyDefaults(cfg *config.Config) {
	tl := &cfg.ThreatLens

	if tl.Bus.Mode == "" {
		tl.Bus.Mode = "redis"
	}
	if tl.Bus.Redis.Addr == "" {
		tl.Bus.Redis.Addr = "127.0.0.1:6379"
	}
	if tl.Bus.Redis.BlockTimeout == 0 {
		tl.Bus.Redis.BlockTimeout = 5 * time.Second
	}
	if tl.Bus.NATS.Durable == "" {
		tl.Bus.NATS.Durable = "threatlens"
	}
	if tl.Bus.NATS.FetchTimeout == 0 {
		tl.Bus.NATS.FetchTimeout = 5 * time.Second
	}
	if len(tl.Bus.Kafka.Brokers) == 0 {
		tl.Bus.Kafka.Brokers = []string{"localhost:9092"}
	}
	if tl.Bus.Kafka.GroupID == "" {
		tl.Bus.Kafka.GroupID = "threatlens"
	}
	if tl.Bus.Retry.InitialInterval <= 0 {
		tl.Bus.Retry.InitialInterval = 500 * time.Millisecond
	}
	if tl.Bus.Retry.MaxInterval <= 0 {
		tl.Bus.Retry.MaxInterval = 10 * time.Second
	}
	if tl.Bus.Retry.MaxElapsedTime < 0 {
		tl.Bus.Retry.MaxElapsedTime = 0
	} else if tl.Bus.Retry.MaxElapsedTime == 0 {
		tl.Bus.Retry.MaxElapsedTime = 2 * time.Minute
	}

	if tl.Queues.Raw == "" {
		tl.Queues.Raw = "snaplog"
	}
	if tl.Queues.Incident == "" {
		tl.Queues.Incident = "incident_queue"
	}
	if tl.Queues.Response == "" {
		tl.Queues.Response = "security_responses"
	}
	if tl.Queues.DeadLetter == "" {
		tl.Queues.DeadLetter = "threatlens_dead_letter"
	}

	if tl.Graph.Mode == "" {
		tl.Graph.Mode = "neo4j"
	}
	if tl.Graph.Neo4j.URI == "" {
		tl.Graph.Neo4j.URI = "neo4j://localhost:7687"
	}
	if tl.Graph.Neo4j.Username == "" {
		tl.Graph.Neo4j.Username = "neo4j"
	}
	if tl.Graph.Centrality == "" {
		tl.Graph.Centrality = "degree"
	}
	if tl.Graph.PageRankGraph == "" {
		tl.Graph.PageRankGraph = "threatlens"
	}
	if tl.Graph.TopNodes <= 0 {
		tl.Graph.TopNodes = 3
	}
	if tl.Graph.MaxHops <= 0 {
		tl.Graph.MaxHops = 5
	}

	if tl.Oracle.Mode == "" {
		tl.Oracle.Mode = "http"
	}
	if tl.Oracle.Timeout <= 0 {
		tl.Oracle.Timeout = 30 * time.Second
	}
	if tl.Oracle.HTTP.URL == "" {
		tl.Oracle.HTTP.URL = "http://localhost:5000/generate"
	}

	if tl.Ingest.ListenAddr == "" {
		tl.Ingest.ListenAddr = ":4000"
	}
	if tl.Classifier.ListenAddr == "" {
		tl.Classifier.ListenAddr = ":4001"
	}
	if tl.Classifier.Workers <= 0 {
		tl.Classifier.Workers = 1
	}
	if tl.Correlator.ListenAddr == "" {
		tl.Correlator.ListenAddr = ":4002"
	}
	if tl.Correlator.Workers <= 0 {
		tl.Correlator.Workers = 1
	}
	if tl.Correlator.ActionThreshold <= 0 {
		tl.Correlator.ActionThreshold = 3
	}
	if tl.Correlator.Sink.Mode == "" {
		tl.Correlator.Sink.Mode = "none"
	}
	if tl.Correlator.Sink.File.Path == "" {
		tl.Correlator.Sink.File.Path = "output/views.jsonl"
	}
	if tl.Correlator.Sink.ClickHouse.Database == "" {
		tl.Correlator.Sink.ClickHouse.Database = "threatlens"
	}
	if tl.Correlator.Sink.ClickHouse.Table == "" {
		tl.Correlator.Sink.ClickHouse.Table = "security_views"
	}

	if tl.Correlator.HostState.KeyPrefix == "" {
		tl.Correlator.HostState.KeyPrefix = "threatlens:host_state"
	}
	if tl.Correlator.HostState.Window <= 0 {
		tl.Correlator.HostState.Window = 24 * time.Hour
	}

	if tl.Logging.Level == "" {
		tl.Logging.Level = "info"
	}
}

func loadConfig(name string, args []string) (*config.Config, *flag.FlagSet, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	configArg := fs.String("config", "", "Path to threatlens.yml")
	fs.String("output", "output/graph.jsonl", "Snapshot output path (snapshot only)")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	if *configArg == "" && fs.NArg() > 0 {
		*configArg = fs.Arg(0)
	}

	configPath := findConfigFile(*configArg)
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("failed to load config: %w", err)
		}
		log.Printf("Warning: no config file at %s, using defaults", configPath)
		cfg = &config.Config{}
	}
	applyDefaults(cfg)

	lc := cfg.ThreatLens.Logging
	if err := logger.Init(lc.Enabled, lc.Level, lc.File, lc.Console); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Infof("Config loaded from: %s", configPath)
	return cfg, fs, nil
}

func run(command string, args []string) int {
	cfg, fs, err := loadConfig(command, args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	rt := newRuntime(cfg, m)
	defer rt.close()

	logger.Infof("ThreatLens %s starting", command)
	switch command {
	case "ingest":
		err = runIngest(ctx, rt)
	case "classify":
		err = runClassifier(ctx, rt)
	case "correlate":
		err = runCorrelator(ctx, rt)
	case "all":
		err = runAll(ctx, rt)
	case "snapshot":
		err = runSnapshot(ctx, rt, fs.Lookup("output").Value.String())
	}
	if err != nil && ctx.Err() == nil {
		logger.Errorf("%s failed: %v", command, err)
		return 1
	}
	logger.Infof("ThreatLens %s stopped", command)
	return 0
}

func runAll(ctx context.Context, rt *runtime) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	for name, fn := range map[string]func(context.Context, *runtime) error{
		"ingest":    runIngest,
		"classify":  runClassifier,
		"correlate": runCorrelator,
	} {
		wg.Add(1)
		go func(name string, fn func(context.Context, *runtime) error) {
			defer wg.Done()
			if err := fn(ctx, rt); err != nil && ctx.Err() == nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("%s: %w", name, err)
				}
				mu.Unlock()
				cancel()
			}
		}(name, fn)
	}
	wg.Wait()
	return firstErr
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	command := strings.ToLower(os.Args[1])
	switch command {
	case "ingest", "classify", "correlate", "all", "snapshot":
		os.Exit(run(command, os.Args[2:]))
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", command, usage)
		os.Exit(2)
	}
}
