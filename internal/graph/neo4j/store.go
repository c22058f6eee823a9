// Package neo4j stores the flow graph in Neo4j.
package neo4j

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"threatlens/internal/graph"
	"threatlens/pkg/models"
)

// Centrality modes.
const (
	CentralityDegree   = "degree"
	CentralityPageRank = "pagerank"
)

// Options configures the Neo4j store.
type Options struct {
	URI           string
	Username      string
	Password      string
	Database      string
	Centrality    string
	PageRankGraph string
}

// Store is a graph.Store backed by a Neo4j driver.
type Store struct {
	drv  neo4j.DriverWithContext
	opts Options
}

var _ graph.Store = (*Store)(nil)

// Open connects to Neo4j, verifies connectivity and ensures the schema.
func Open(ctx context.Context, opts Options) (*Store, error) {
	drv, err := neo4j.NewDriverWithContext(opts.URI, neo4j.BasicAuth(opts.Username, opts.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j driver: %w", err)
	}
	if err := drv.VerifyConnectivity(ctx); err != nil {
		_ = drv.Close(ctx)
		return nil, fmt.Errorf("neo4j connectivity: %w", err)
	}
	if opts.Centrality == "" {
		opts.Centrality = CentralityDegree
	}
	if opts.PageRankGraph == "" {
		opts.PageRankGraph = "threatlens"
	}
	s := &Store{drv: drv, opts: opts}
	if err := s.ensureSchema(ctx); err != nil {
		_ = drv.Close(ctx)
		return nil, err
	}
	return s, nil
}

func (s *Store) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.drv.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode, DatabaseName: s.opts.Database})
}

func (s *Store) ensureSchema(ctx context.Context) error {
	sess := s.session(ctx, neo4j.AccessModeWrite)
	defer sess.Close(ctx)
	_, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, createHostConstraint, nil)
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("neo4j schema: %w", err)
	}
	return nil
}

// SourceExists reports whether a Host with the Source label exists.
func (s *Store) SourceExists(ctx context.Context, ip string) (bool, error) {
	sess := s.session(ctx, neo4j.AccessModeRead)
	defer sess.Close(ctx)
	found, err := sess.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, sourceExistsQuery, map[string]any{"ip": ip})
		if err != nil {
			return false, err
		}
		rec, err := res.Single(ctx)
		if err != nil {
			return false, err
		}
		v, _, err := neo4j.GetRecordValue[bool](rec, "found")
		return v, err
	})
	if err != nil {
		return false, fmt.Errorf("%w: source lookup: %v", graph.ErrUnavailable, err)
	}
	return found.(bool), nil
}

// MergeFlow upserts both hosts and the SENDS_TO edge in one transaction.
func (s *Store) MergeFlow(ctx context.Context, fact graph.FlowFact) error {
	level := graph.LevelFor(fact.Classification)
	params := map[string]any{
		"src":         fact.SourceIP,
		"dst":         fact.DestinationIP,
		"level":       level,
		"severity":    int64(graph.Severity(level)),
		"escalate":    fact.Classification != graph.KnownClassification,
		"unknown":     graph.LevelUnknown,
		"packets":     fact.Packets,
		"bytes":       fact.BytesTransferred,
		"description": fact.Description,
	}
	sess := s.session(ctx, neo4j.AccessModeWrite)
	defer sess.Close(ctx)
	_, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, mergeFlowQuery, params)
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("%w: merge flow: %v", graph.ErrUnavailable, err)
	}
	return nil
}

// TopCentral ranks hosts by degree or by GDS PageRank.
func (s *Store) TopCentral(ctx context.Context, n int) ([]models.CriticalNode, error) {
	if n <= 0 {
		return []models.CriticalNode{}, nil
	}
	sess := s.session(ctx, neo4j.AccessModeWrite)
	defer sess.Close(ctx)

	params := map[string]any{"limit": int64(n), "graph": s.opts.PageRankGraph}
	if s.opts.Centrality == CentralityPageRank {
		_, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			if _, err := tx.Run(ctx, dropProjectionQuery, params); err != nil {
				return nil, err
			}
			_, err := tx.Run(ctx, projectQuery, params)
			return nil, err
		})
		if err != nil {
			return nil, fmt.Errorf("%w: project graph: %v", graph.ErrUnavailable, err)
		}
	}

	query := degreeQuery
	if s.opts.Centrality == CentralityPageRank {
		query = pageRankQuery
	}
	out, err := sess.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		nodes := make([]models.CriticalNode, 0, len(records))
		for _, rec := range records {
			ip, _, err := neo4j.GetRecordValue[string](rec, "ip")
			if err != nil {
				return nil, err
			}
			score, _, err := neo4j.GetRecordValue[float64](rec, "score")
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, models.CriticalNode{IP: ip, Score: score})
		}
		return nodes, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: centrality: %v", graph.ErrUnavailable, err)
	}
	return out.([]models.CriticalNode), nil
}

// ShortestPath finds the shortest undirected SENDS_TO path of at most maxHops.
func (s *Store) ShortestPath(ctx context.Context, src, dst string, maxHops int) (int, bool, error) {
	if src == dst || maxHops <= 0 {
		return 0, false, nil
	}
	sess := s.session(ctx, neo4j.AccessModeRead)
	defer sess.Close(ctx)

	query := fmt.Sprintf(shortestPathQuery, maxHops)
	out, err := sess.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, map[string]any{"src": src, "dst": dst})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return int64(-1), nil
		}
		hops, _, err := neo4j.GetRecordValue[int64](records[0], "hops")
		return hops, err
	})
	if err != nil {
		return 0, false, fmt.Errorf("%w: shortest path: %v", graph.ErrUnavailable, err)
	}
	hops := out.(int64)
	if hops < 0 {
		return 0, false, nil
	}
	return int(hops), true, nil
}

// Snapshot returns every SENDS_TO edge ordered by creation.
func (s *Store) Snapshot(ctx context.Context) (*models.GraphSnapshot, error) {
	sess := s.session(ctx, neo4j.AccessModeRead)
	defer sess.Close(ctx)

	out, err := sess.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, snapshotQuery, nil)
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		snap := &models.GraphSnapshot{
			Nodes: []models.GraphNode{},
			Links: make([]models.GraphLink, 0, len(records)),
		}
		seen := make(map[string]struct{})
		for _, rec := range records {
			row, err := decodeEdge(rec)
			if err != nil {
				return nil, err
			}
			for _, n := range []models.GraphNode{row.src, row.dst} {
				if _, ok := seen[n.ID]; ok {
					continue
				}
				seen[n.ID] = struct{}{}
				snap.Nodes = append(snap.Nodes, n)
			}
			snap.Links = append(snap.Links, row.link)
		}
		return snap, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: snapshot: %v", graph.ErrUnavailable, err)
	}
	return out.(*models.GraphSnapshot), nil
}

type edgeRow struct {
	src, dst models.GraphNode
	link     models.GraphLink
}

func decodeEdge(rec *neo4j.Record) (edgeRow, error) {
	var row edgeRow
	var err error
	str := func(key string) string {
		if err != nil {
			return ""
		}
		var v string
		v, _, err = neo4j.GetRecordValue[string](rec, key)
		return v
	}
	flag := func(key string) bool {
		if err != nil {
			return false
		}
		var v bool
		v, _, err = neo4j.GetRecordValue[bool](rec, key)
		return v
	}
	role := func(source bool) string {
		if source {
			return models.RoleSource
		}
		return models.RoleDestination
	}

	row.src = models.GraphNode{ID: str("src"), ThreatLevel: str("src_level"), Role: models.RoleSource}
	row.dst = models.GraphNode{ID: str("dst"), ThreatLevel: str("dst_level"), Role: role(flag("dst_source"))}
	row.link = models.GraphLink{Source: row.src.ID, Target: row.dst.ID, Bytes: str("bytes")}
	if err != nil {
		return row, err
	}
	packets, _, err := neo4j.GetRecordValue[int64](rec, "packets")
	row.link.Packets = packets
	return row, err
}

// Close closes the driver.
func (s *Store) Close(ctx context.Context) error {
	return s.drv.Close(ctx)
}
