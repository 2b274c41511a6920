// Package observer provides the capture notification fan-out.
package observer

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/sirosfoundation/go-http-capture/internal/domain"
)

// Observer is notified of every captured request.
type Observer interface {
	Handle(ctx context.Context, req *domain.CapturedRequest) error
}

// Func adapts a plain function to the Observer interface.
type Func func(ctx context.Context, req *domain.CapturedRequest) error

// Handle calls f.
func (f Func) Handle(ctx context.Context, req *domain.CapturedRequest) error {
	return f(ctx, req)
}

// Named lets an observer report a name for logging.
type Named interface {
	Name() string
}

// Registry holds the ordered set of observers.
type Registry struct {
	logger *zap.Logger

	mu        sync.RWMutex
	observers []Observer
}

// NewRegistry creates an empty registry
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{logger: logger.Named("observers")}
}

// Register replaces the current observer set.
func (r *Registry) Register(observers ...Observer) {
	set := make([]Observer, 0, len(observers))
	for _, o := range observers {
		if o != nil {
			set = append(set, o)
		}
	}

	r.mu.Lock()
	r.observers = set
	r.mu.Unlock()
}

// Len returns the number of registered observers
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.observers)
}

// Notify calls every observer in registration order. Errors and panics are
// logged and never stop the remaining observers. It returns the number of
// observers that failed.
func (r *Registry) Notify(ctx context.Context, req *domain.CapturedRequest) int {
	r.mu.RLock()
	set := r.observers
	r.mu.RUnlock()

	failed := 0
	for i, o := range set {
		if err := r.call(ctx, o, req); err != nil {
			failed++
			r.logger.Warn("Observer failed",
				zap.Int("index", i),
				zap.String("observer", name(o)),
				zap.String("capture_id", req.ID),
				zap.Error(err))
		}
	}
	return failed
}

func (r *Registry) call(ctx context.Context, o Observer, req *domain.CapturedRequest) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("observer panic: %v", p)
		}
	}()
	return o.Handle(ctx, req)
}

func name(o Observer) string {
	if n, ok := o.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", o)
}
