package pipeline

import (
	"errors"

	"threatlens/pkg/models"
)

// ViewWriter writes aggregated views.
type ViewWriter interface {
	WriteView(view *models.AggregatedView) error
	Close() error
}

// ViewWriters fans every view out to each writer in order.
type ViewWriters []ViewWriter

// WriteView writes to all writers and joins their errors.
func (ws ViewWriters) WriteView(view *models.AggregatedView) error {
	var errs []error
	for _, w := range ws {
		if err := w.WriteView(view); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes all writers and joins their errors.
func (ws ViewWriters) Close() error {
	var errs []error
	for _, w := range ws {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
