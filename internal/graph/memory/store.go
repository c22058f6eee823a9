// Package memory is an in-process graph store used by tests and single-node runs.
package memory

import (
	"context"
	"sort"
	"sync"

	"threatlens/internal/graph"
	"threatlens/pkg/models"
)

type node struct {
	level       string
	source      bool
	destination bool
}

type edgeKey struct {
	from, to string
}

// Store keeps endpoints and SENDS_TO edges in maps guarded by one mutex.
type Store struct {
	mu       sync.RWMutex
	nodes    map[string]*node
	edges    map[edgeKey]models.GraphLink
	order    []edgeKey
	out      map[string]map[string]struct{}
	neighbor map[string]map[string]struct{}
	pagerank PageRankOptions
}

// New creates an empty store.
func New() *Store {
	return &Store{
		nodes:    make(map[string]*node),
		edges:    make(map[edgeKey]models.GraphLink),
		out:      make(map[string]map[string]struct{}),
		neighbor: make(map[string]map[string]struct{}),
		pagerank: DefaultPageRankOptions(),
	}
}

var _ graph.Store = (*Store)(nil)

// SourceExists reports whether ip was recorded as a flow source.
func (s *Store) SourceExists(_ context.Context, ip string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[ip]
	return ok && n.source, nil
}

// MergeFlow upserts both endpoints and creates the edge once.
func (s *Store) MergeFlow(_ context.Context, fact graph.FlowFact) error {
	level := graph.LevelFor(fact.Classification)
	keep := fact.Classification == graph.KnownClassification

	s.mu.Lock()
	defer s.mu.Unlock()

	src := s.upsert(fact.SourceIP, level, keep)
	src.source = true
	dst := s.upsert(fact.DestinationIP, level, keep)
	dst.destination = true

	key := edgeKey{from: fact.SourceIP, to: fact.DestinationIP}
	if _, ok := s.edges[key]; ok {
		return nil
	}
	s.edges[key] = models.GraphLink{
		Source:  fact.SourceIP,
		Target:  fact.DestinationIP,
		Packets: fact.Packets,
		Bytes:   fact.BytesTransferred,
	}
	s.order = append(s.order, key)
	link(s.out, fact.SourceIP, fact.DestinationIP)
	link(s.neighbor, fact.SourceIP, fact.DestinationIP)
	link(s.neighbor, fact.DestinationIP, fact.SourceIP)
	return nil
}

func (s *Store) upsert(ip, level string, keep bool) *node {
	n, ok := s.nodes[ip]
	if !ok {
		n = &node{level: graph.LevelUnknown}
		s.nodes[ip] = n
	}
	if !keep {
		n.level = graph.Escalate(n.level, level)
	}
	return n
}

func link(m map[string]map[string]struct{}, from, to string) {
	set, ok := m[from]
	if !ok {
		set = make(map[string]struct{})
		m[from] = set
	}
	set[to] = struct{}{}
}

// TopCentral ranks nodes by PageRank.
func (s *Store) TopCentral(_ context.Context, n int) ([]models.CriticalNode, error) {
	if n <= 0 {
		return []models.CriticalNode{}, nil
	}
	s.mu.RLock()
	scores := s.pageRank()
	s.mu.RUnlock()

	ranked := make([]models.CriticalNode, 0, len(scores))
	for ip, score := range scores {
		ranked = append(ranked, models.CriticalNode{IP: ip, Score: score})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].IP < ranked[j].IP
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked, nil
}

// ShortestPath runs a breadth-first search over edges in either direction.
func (s *Store) ShortestPath(_ context.Context, src, dst string, maxHops int) (int, bool, error) {
	if src == dst || maxHops <= 0 {
		return 0, false, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.nodes[src]; !ok {
		return 0, false, nil
	}
	if _, ok := s.nodes[dst]; !ok {
		return 0, false, nil
	}

	visited := map[string]struct{}{src: {}}
	frontier := []string{src}
	for hops := 1; hops <= maxHops && len(frontier) > 0; hops++ {
		var next []string
		for _, ip := range frontier {
			for peer := range s.neighbor[ip] {
				if peer == dst {
					return hops, true, nil
				}
				if _, seen := visited[peer]; seen {
					continue
				}
				visited[peer] = struct{}{}
				next = append(next, peer)
			}
		}
		frontier = next
	}
	return 0, false, nil
}

// Snapshot returns every edge in insertion order with its endpoints.
func (s *Store) Snapshot(_ context.Context) (*models.GraphSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &models.GraphSnapshot{
		Nodes: make([]models.GraphNode, 0, len(s.nodes)),
		Links: make([]models.GraphLink, 0, len(s.order)),
	}
	seen := make(map[string]struct{}, len(s.nodes))
	addNode := func(ip string) {
		if _, ok := seen[ip]; ok {
			return
		}
		seen[ip] = struct{}{}
		n := s.nodes[ip]
		role := models.RoleDestination
		if n.source {
			role = models.RoleSource
		}
		snap.Nodes = append(snap.Nodes, models.GraphNode{ID: ip, Role: role, ThreatLevel: n.level})
	}
	for _, key := range s.order {
		addNode(key.from)
		addNode(key.to)
		snap.Links = append(snap.Links, s.edges[key])
	}
	return snap, nil
}

// Close is a no-op.
func (s *Store) Close(context.Context) error { return nil }
