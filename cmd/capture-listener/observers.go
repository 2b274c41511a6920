package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/sirosfoundation/go-http-capture/internal/backend"
	"github.com/sirosfoundation/go-http-capture/internal/observer"
	"github.com/sirosfoundation/go-http-capture/internal/storage"
	"github.com/sirosfoundation/go-http-capture/internal/websocket"
	"github.com/sirosfoundation/go-http-capture/pkg/config"
)

// observerSet holds the configured observers and the resources behind them
type observerSet struct {
	Observers []observer.Observer
	Store     storage.Store
	Hub       *websocket.Hub
}

// buildObservers creates the observers named in cfg.Observers, in order
func buildObservers(ctx context.Context, cfg *config.Config, out io.Writer, noColor bool, logger *zap.Logger) (*observerSet, error) {
	set := &observerSet{}

	for _, name := range cfg.Observers {
		switch name {
		case config.ObserverConsole:
			set.Observers = append(set.Observers, observer.NewConsole(out, noColor))
		case config.ObserverLog:
			set.Observers = append(set.Observers, observer.NewLog(logger))
		case config.ObserverHistory:
			if set.Store != nil {
				continue
			}
			initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			store, err := backend.New(initCtx, &cfg.History, logger)
			cancel()
			if err != nil {
				_ = set.Close()
				return nil, fmt.Errorf("failed to initialize history: %w", err)
			}
			logger.Info("History backend initialized", zap.String("type", cfg.History.Type))
			set.Store = store
			set.Observers = append(set.Observers, storage.NewRecorder(store))
		case config.ObserverStream:
			if set.Hub != nil {
				continue
			}
			set.Hub = websocket.NewHub(logger)
			set.Observers = append(set.Observers, set.Hub)
		default:
			_ = set.Close()
			return nil, fmt.Errorf("unknown observer: %s", name)
		}
	}

	return set, nil
}

// Close releases the history store and disconnects stream clients
func (s *observerSet) Close() error {
	if s.Hub != nil {
		s.Hub.Close()
	}
	if s.Store != nil {
		return s.Store.Close()
	}
	return nil
}
