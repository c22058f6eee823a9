package viewclickhouse

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"threatlens/internal/logger"
	"threatlens/pkg/models"
)

// Config configures the ClickHouse native writer.
type Config struct {
	Addr     string
	Database string
	Table    string
	Username string
	Password string
	Timeout  time.Duration
}

const createTableStatement = `
CREATE TABLE IF NOT EXISTS %s (
    UpdatedAt          DateTime64(3),
    SessionID          String,
    SourceIP           String,
    DestinationIP      String,
    Protocol           String,
    Classification     String,
    RiskScore          Int32,
    RecommendedActions Array(String),
    OracleActions      Array(String),
    CriticalNodes      Array(String),
    AttackHops         Int32,
    Payload            String
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(UpdatedAt)
ORDER BY (SourceIP, UpdatedAt)`

// Writer inserts one row per aggregated view.
type Writer struct {
	conn    driver.Conn
	table   string
	timeout time.Duration
}

// NewWriter connects and ensures the table exists.
func NewWriter(ctx context.Context, cfg Config) (*Writer, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("clickhouse address is empty")
	}
	if cfg.Database == "" {
		cfg.Database = "default"
	}
	if cfg.Table == "" {
		cfg.Table = "security_views"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		DialTimeout: cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	table := quoteIdent(cfg.Database) + "." + quoteIdent(cfg.Table)
	if err := conn.Exec(ctx, fmt.Sprintf(createTableStatement, table)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	logger.Infof("ClickHouse view writer initialized: %s", table)

	return &Writer{conn: conn, table: table, timeout: cfg.Timeout}, nil
}

// WriteView inserts one row.
func (w *Writer) WriteView(view *models.AggregatedView) error {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	payload, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("failed to marshal view: %w", err)
	}

	batch, err := w.conn.PrepareBatch(ctx, "INSERT INTO "+w.table)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	row := Row(view)
	err = batch.Append(
		row.UpdatedAt,
		row.SessionID,
		row.SourceIP,
		row.DestinationIP,
		row.Protocol,
		row.Classification,
		row.RiskScore,
		row.RecommendedActions,
		row.OracleActions,
		row.CriticalNodes,
		row.AttackHops,
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to append view: %w", err)
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

// Close closes the connection.
func (w *Writer) Close() error {
	return w.conn.Close()
}

// ViewRow is the flattened column set of a view.
type ViewRow struct {
	UpdatedAt          time.Time
	SessionID          string
	SourceIP           string
	DestinationIP      string
	Protocol           string
	Classification     string
	RiskScore          int32
	RecommendedActions []string
	OracleActions      []string
	CriticalNodes      []string
	AttackHops         int32
}

// Row flattens a view. AttackHops is -1 when no path was found.
func Row(view *models.AggregatedView) ViewRow {
	a := view.Analysis
	row := ViewRow{
		UpdatedAt:          view.UpdatedAt,
		SessionID:          a.SessionID,
		SourceIP:           a.SourceIP,
		DestinationIP:      a.DestinationIP,
		Protocol:           a.Protocol,
		Classification:     a.Classification,
		RiskScore:          int32(a.RiskScore),
		RecommendedActions: nonNil(a.RecommendedActions),
		OracleActions:      nonNil(a.OracleActions),
		CriticalNodes:      make([]string, 0, len(view.GraphInsights.CriticalNodes)),
		AttackHops:         -1,
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = time.Now().UTC()
	}
	for _, n := range view.GraphInsights.CriticalNodes {
		row.CriticalNodes = append(row.CriticalNodes, n.IP)
	}
	if len(view.GraphInsights.AttackPaths) > 0 {
		row.AttackHops = int32(view.GraphInsights.AttackPaths[0].Hops)
	}
	return row
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func quoteIdent(v string) string {
	if v == "" {
		return ""
	}
	v = strings.ReplaceAll(v, "`", "")
	return "`" + v + "`"
}
