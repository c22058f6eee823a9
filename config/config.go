package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	ThreatLens ThreatLensConfig `yaml:"threatlens"`
}

// ThreatLensConfig is the project configuration.
type ThreatLensConfig struct {
	Bus        BusConfig        `yaml:"bus"`
	Queues     QueuesConfig     `yaml:"queues"`
	Graph      GraphConfig      `yaml:"graph"`
	Oracle     OracleConfig     `yaml:"oracle"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Correlator CorrelatorConfig `yaml:"correlator"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// BusConfig selects and configures the message bus.
type BusConfig struct {
	Mode  string          `yaml:"mode"` // redis|nats|kafka|memory
	Redis RedisConfig     `yaml:"redis"`
	NATS  NATSConfig      `yaml:"nats"`
	Kafka KafkaConfig     `yaml:"kafka"`
	Retry ConnectionRetry `yaml:"retry"`
}

// RedisConfig controls the Redis list queues.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	BlockTimeout time.Duration `yaml:"block_timeout"`
}

// NATSConfig controls the JetStream queues.
type NATSConfig struct {
	URL          string        `yaml:"url"`
	Stream       string        `yaml:"stream"`
	Durable      string        `yaml:"durable"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
}

// KafkaConfig controls the Kafka topics.
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	GroupID      string        `yaml:"group_id"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
}

// ConnectionRetry controls start-up reconnection backoff.
type ConnectionRetry struct {
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	MaxElapsedTime  time.Duration `yaml:"max_elapsed_time"`
}

// QueuesConfig names the queues connecting the services.
type QueuesConfig struct {
	Raw        string `yaml:"raw"`
	Incident   string `yaml:"incident"`
	Response   string `yaml:"response"`
	DeadLetter string `yaml:"dead_letter"`
}

// GraphConfig selects the graph store and its analytics bounds.
type GraphConfig struct {
	Mode          string      `yaml:"mode"` // neo4j|memory
	Neo4j         Neo4jConfig `yaml:"neo4j"`
	Centrality    string      `yaml:"centrality"` // degree|pagerank
	PageRankGraph string      `yaml:"pagerank_graph"`
	TopNodes      int         `yaml:"top_nodes"`
	MaxHops       int         `yaml:"max_hops"`
}

// Neo4jConfig controls the Neo4j connection.
type Neo4jConfig struct {
	URI      string `yaml:"uri"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// OracleConfig selects the classification oracle.
type OracleConfig struct {
	Mode    string             `yaml:"mode"` // http|openai
	Timeout time.Duration      `yaml:"timeout"`
	HTTP    HTTPOracleConfig   `yaml:"http"`
	OpenAI  OpenAIOracleConfig `yaml:"openai"`
}

// HTTPOracleConfig configures the plain HTTP oracle.
type HTTPOracleConfig struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
}

// OpenAIOracleConfig configures an OpenAI-compatible chat completion oracle.
type OpenAIOracleConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// IngestConfig controls the ingest endpoint.
type IngestConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// ClassifierConfig controls the threat classifier.
type ClassifierConfig struct {
	ListenAddr string      `yaml:"listen_addr"`
	Workers    int         `yaml:"workers"`
	DeadLetter bool        `yaml:"dead_letter"`
	Rules      RulesConfig `yaml:"rules"`
}

// RulesConfig controls Sigma flow tagging.
type RulesConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// CorrelatorConfig controls the incident correlator.
type CorrelatorConfig struct {
	ListenAddr      string          `yaml:"listen_addr"`
	Workers         int             `yaml:"workers"`
	DeadLetter      bool            `yaml:"dead_letter"`
	ActionThreshold int             `yaml:"action_threshold"`
	MaliciousIPs    []string        `yaml:"malicious_ips"`
	Sink            SinkConfig      `yaml:"sink"`
	HostState       HostStateConfig `yaml:"host_state"`
}

// HostStateConfig controls the Redis per-host incident counters.
type HostStateConfig struct {
	Enabled   bool          `yaml:"enabled"`
	KeyPrefix string        `yaml:"key_prefix"`
	Window    time.Duration `yaml:"window"`
}

// SinkConfig controls where aggregated views are copied.
type SinkConfig struct {
	Mode       string           `yaml:"mode"` // none|file|http|clickhouse
	File       FileOutputConfig `yaml:"file"`
	HTTP       HTTPOutputConfig `yaml:"http"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
}

// ClickHouseConfig config for native ClickHouse view rows.
type ClickHouseConfig struct {
	Addr     string `yaml:"addr"`
	Database string `yaml:"database"`
	Table    string `yaml:"table"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// FileOutputConfig config for local JSON output.
type FileOutputConfig struct {
	Path string `yaml:"path"`
}

// HTTPOutputConfig config for remote output.
type HTTPOutputConfig struct {
	URL     string            `yaml:"url"`
	Timeout time.Duration     `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`
}

// LoggingConfig controls logging output.
type LoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	Console bool   `yaml:"console"`
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
