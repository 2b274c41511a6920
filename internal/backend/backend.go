package backend

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sirosfoundation/go-http-capture/internal/storage"
	"github.com/sirosfoundation/go-http-capture/internal/storage/memory"
	"github.com/sirosfoundation/go-http-capture/internal/storage/mongodb"
	"github.com/sirosfoundation/go-http-capture/internal/storage/sqlite"
	"github.com/sirosfoundation/go-http-capture/pkg/config"
)

// Type defines the type of history backend
type Type string

const (
	// TypeMemory keeps a bounded ring of captures in memory
	TypeMemory Type = "memory"
	// TypeSQLite persists captures to a local SQLite file
	TypeSQLite Type = "sqlite"
	// TypeMongoDB persists captures to MongoDB
	TypeMongoDB Type = "mongodb"
)

// New creates a capture history store based on the configuration
func New(ctx context.Context, cfg *config.HistoryConfig, logger *zap.Logger) (storage.Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	storeType := Type(cfg.Type)

	switch storeType {
	case TypeMemory, "":
		// Default to memory if not specified
		return memory.NewStore(cfg.Capacity), nil

	case TypeSQLite:
		store, err := sqlite.NewStore(&cfg.SQLite, logger.Named("history"))
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite backend: %w", err)
		}
		return store, nil

	case TypeMongoDB:
		store, err := mongodb.NewStore(ctx, &cfg.MongoDB)
		if err != nil {
			return nil, fmt.Errorf("failed to create MongoDB backend: %w", err)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unsupported history type: %s", storeType)
	}
}
