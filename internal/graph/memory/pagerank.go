package memory

import "math"

// PageRankOptions configures the centrality computation.
type PageRankOptions struct {
	DampingFactor float64
	MaxIterations int
	Tolerance     float64
}

// DefaultPageRankOptions returns the usual damping of 0.85.
func DefaultPageRankOptions() PageRankOptions {
	return PageRankOptions{
		DampingFactor: 0.85,
		MaxIterations: 100,
		Tolerance:     1e-6,
	}
}

// pageRank scores every node. Caller holds at least the read lock.
func (s *Store) pageRank() map[string]float64 {
	opts := s.pagerank
	count := len(s.nodes)
	scores := make(map[string]float64, count)
	if count == 0 {
		return scores
	}

	initial := 1.0 / float64(count)
	for ip := range s.nodes {
		scores[ip] = initial
	}

	incoming := make(map[string][]string, count)
	for from, targets := range s.out {
		for to := range targets {
			incoming[to] = append(incoming[to], from)
		}
	}

	next := make(map[string]float64, count)
	for i := 0; i < opts.MaxIterations; i++ {
		// Rank held by nodes without outgoing edges is spread evenly.
		dangling := 0.0
		for ip := range s.nodes {
			if len(s.out[ip]) == 0 {
				dangling += scores[ip]
			}
		}
		base := (1.0-opts.DampingFactor)/float64(count) + opts.DampingFactor*dangling/float64(count)

		for ip := range s.nodes {
			score := base
			for _, from := range incoming[ip] {
				score += opts.DampingFactor * scores[from] / float64(len(s.out[from]))
			}
			next[ip] = score
		}

		maxDiff := 0.0
		for ip := range scores {
			if diff := math.Abs(next[ip] - scores[ip]); diff > maxDiff {
				maxDiff = diff
			}
		}
		scores, next = next, scores
		if maxDiff < opts.Tolerance {
			break
		}
	}
	return scores
}
