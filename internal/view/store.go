// Package view holds the latest aggregated view.
package view

import (
	"sync/atomic"

	"threatlens/pkg/models"
)

// Store is a single slot replaced wholesale on every update. Readers never
// observe a partially built view.
type Store struct {
	current atomic.Pointer[models.AggregatedView]
}

// NewStore returns a store holding the placeholder view.
func NewStore() *Store {
	s := &Store{}
	placeholder := models.PlaceholderView()
	s.current.Store(&placeholder)
	return s
}

// Load returns the current view. Callers must not modify it.
func (s *Store) Load() *models.AggregatedView {
	return s.current.Load()
}

// Store replaces the current view.
func (s *Store) Store(v *models.AggregatedView) {
	if v == nil {
		return
	}
	s.current.Store(v)
}
