package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirosfoundation/go-http-capture/internal/domain"
)

// Common errors
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidInput  = errors.New("invalid input")
)

// Entry is a stored capture
type Entry struct {
	ID         string                  `json:"id"`
	Port       int                     `json:"port"`
	ReceivedAt time.Time               `json:"received_at"`
	Request    *domain.CapturedRequest `json:"request"`
}

// NewEntry wraps a copy of req
func NewEntry(req *domain.CapturedRequest) *Entry {
	return &Entry{
		ID:         req.ID,
		Port:       req.Port,
		ReceivedAt: req.ReceivedAt,
		Request:    req.Clone(),
	}
}

// Filter narrows a List call. Zero fields match everything.
type Filter struct {
	Port   int
	Method string
	Path   string
	// Limit caps the result size; 0 means no limit
	Limit int
}

// Matches reports whether e passes the filter
func (f Filter) Matches(e *Entry) bool {
	if f.Port != 0 && e.Port != f.Port {
		return false
	}
	if e.Request == nil {
		return f.Method == "" && f.Path == ""
	}
	if f.Method != "" && !strings.EqualFold(e.Request.Method, f.Method) {
		return false
	}
	if f.Path != "" && e.Request.Path != f.Path {
		return false
	}
	return true
}

// Store holds captured requests. List returns newest first.
type Store interface {
	// Append stores a new entry
	Append(ctx context.Context, entry *Entry) error

	// Get retrieves an entry by ID
	Get(ctx context.Context, id string) (*Entry, error)

	// List returns entries matching the filter, newest first
	List(ctx context.Context, filter Filter) ([]*Entry, error)

	// Clear removes every entry
	Clear(ctx context.Context) error

	// Count returns the number of stored entries
	Count(ctx context.Context) (int64, error)

	// Ping checks if the storage is alive
	Ping(ctx context.Context) error

	// Close closes the storage connection
	Close() error
}

// Validate checks that an entry can be stored
func Validate(entry *Entry) error {
	if entry == nil || entry.ID == "" || entry.Request == nil {
		return ErrInvalidInput
	}
	return nil
}
