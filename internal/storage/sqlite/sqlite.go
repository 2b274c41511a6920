// Package sqlite stores capture history in a SQLite file through GORM.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/sirosfoundation/go-http-capture/internal/domain"
	"github.com/sirosfoundation/go-http-capture/internal/storage"
	"github.com/sirosfoundation/go-http-capture/pkg/config"
)

// captureRecord is the captures table row
type captureRecord struct {
	Seq        int64             `gorm:"primaryKey;autoIncrement"`
	ID         string            `gorm:"uniqueIndex;size:64;not null"`
	Port       int               `gorm:"index"`
	ReceivedAt time.Time         `gorm:"index"`
	Method     string            `gorm:"index;size:16"`
	Path       string            `gorm:"index"`
	FullPath   string            `gorm:"column:full_path"`
	Address    string            `gorm:"size:255"`
	Headers    map[string]string `gorm:"serializer:json"`
	Query      map[string]string `gorm:"serializer:json"`
	Body       map[string]string `gorm:"serializer:json"`
}

func (captureRecord) TableName() string { return "captures" }

func toRecord(e *storage.Entry) *captureRecord {
	return &captureRecord{
		ID:         e.ID,
		Port:       e.Port,
		ReceivedAt: e.ReceivedAt.UTC(),
		Method:     e.Request.Method,
		Path:       e.Request.Path,
		FullPath:   e.Request.FullPath,
		Address:    e.Request.Address,
		Headers:    e.Request.Headers,
		Query:      e.Request.Query,
		Body:       e.Request.Body,
	}
}

func (r *captureRecord) toEntry() *storage.Entry {
	req := &domain.CapturedRequest{
		Method:     r.Method,
		Headers:    orEmpty(r.Headers),
		Address:    r.Address,
		FullPath:   r.FullPath,
		Path:       r.Path,
		Query:      orEmpty(r.Query),
		Body:       orEmpty(r.Body),
		ID:         r.ID,
		Port:       r.Port,
		ReceivedAt: r.ReceivedAt,
	}
	return &storage.Entry{
		ID:         r.ID,
		Port:       r.Port,
		ReceivedAt: r.ReceivedAt,
		Request:    req,
	}
}

func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

// Store implements SQLite capture storage
type Store struct {
	db *gorm.DB
}

// NewStore opens (and migrates) the SQLite database at cfg.Path
func NewStore(cfg *config.SQLiteConfig, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := gorm.Open(sqlite.Open(dsn(cfg.Path)), &gorm.Config{
		Logger: NewGormLogger(logger.Named("sqlite")),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	if err := db.AutoMigrate(&captureRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate SQLite schema: %w", err)
	}

	return &Store{db: db}, nil
}

// dsn adds a busy timeout so concurrent observers wait for the write lock
func dsn(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_pragma=busy_timeout(5000)"
}

func (s *Store) Append(ctx context.Context, entry *storage.Entry) error {
	if err := storage.Validate(entry); err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&captureRecord{}).Where("id = ?", entry.ID).Count(&n).Error; err != nil {
			return fmt.Errorf("failed to check capture: %w", err)
		}
		if n > 0 {
			return storage.ErrAlreadyExists
		}
		if err := tx.Create(toRecord(entry)).Error; err != nil {
			return fmt.Errorf("failed to store capture: %w", err)
		}
		return nil
	})
}

func (s *Store) Get(ctx context.Context, id string) (*storage.Entry, error) {
	var rec captureRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get capture: %w", err)
	}
	return rec.toEntry(), nil
}

func (s *Store) List(ctx context.Context, filter storage.Filter) ([]*storage.Entry, error) {
	q := s.db.WithContext(ctx).Model(&captureRecord{})
	if filter.Port != 0 {
		q = q.Where("port = ?", filter.Port)
	}
	if filter.Method != "" {
		q = q.Where("UPPER(method) = UPPER(?)", filter.Method)
	}
	if filter.Path != "" {
		q = q.Where("path = ?", filter.Path)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var records []captureRecord
	if err := q.Order("seq DESC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list captures: %w", err)
	}

	entries := make([]*storage.Entry, 0, len(records))
	for i := range records {
		entries = append(entries, records[i].toEntry())
	}
	return entries, nil
}

func (s *Store) Clear(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Where("1 = 1").Delete(&captureRecord{}).Error; err != nil {
		return fmt.Errorf("failed to clear captures: %w", err)
	}
	return nil
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&captureRecord{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count captures: %w", err)
	}
	return n, nil
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
