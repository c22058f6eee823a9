// Package graph defines the flow graph contract shared by the classifier,
// the correlator and the query facade.
package graph

import (
	"context"
	"errors"

	"threatlens/pkg/models"
)

// ErrUnavailable marks failures talking to the backing store.
var ErrUnavailable = errors.New("graph store unavailable")

// FlowFact is one observed flow merged into the graph.
type FlowFact struct {
	SourceIP         string
	DestinationIP    string
	Classification   string
	Description      string
	Packets          int64
	BytesTransferred string
}

// Store persists endpoints and SENDS_TO edges and answers analytic queries.
type Store interface {
	// SourceExists reports whether ip has already been recorded as a flow source.
	SourceExists(ctx context.Context, ip string) (bool, error)
	// MergeFlow upserts both endpoints with severity escalation and creates
	// the edge between them if it does not exist yet.
	MergeFlow(ctx context.Context, fact FlowFact) error
	// TopCentral returns at most n nodes ranked by centrality.
	TopCentral(ctx context.Context, n int) ([]models.CriticalNode, error)
	// ShortestPath returns the hop count of the shortest undirected path of at
	// most maxHops edges between two endpoints.
	ShortestPath(ctx context.Context, src, dst string, maxHops int) (int, bool, error)
	// Snapshot returns every SENDS_TO edge with its endpoint attributes.
	Snapshot(ctx context.Context) (*models.GraphSnapshot, error)
	Close(ctx context.Context) error
}
