package storage

import (
	"context"
	"fmt"

	"github.com/sirosfoundation/go-http-capture/internal/domain"
)

// Recorder is a capture observer that appends every request to a Store
type Recorder struct {
	store Store
}

// NewRecorder creates a recorder writing to store
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

// Name identifies the recorder in logs
func (r *Recorder) Name() string { return "history" }

// Handle stores req
func (r *Recorder) Handle(ctx context.Context, req *domain.CapturedRequest) error {
	if err := r.store.Append(ctx, NewEntry(req)); err != nil {
		return fmt.Errorf("failed to record capture %s: %w", req.ID, err)
	}
	return nil
}
