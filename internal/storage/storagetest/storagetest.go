// Package storagetest holds behaviour tests shared by every capture Store.
package storagetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-http-capture/internal/domain"
	"github.com/sirosfoundation/go-http-capture/internal/storage"
)

// NewEntry builds an entry with the given id, port, method and path.
// ReceivedAt increases with seq so ordering is deterministic.
func NewEntry(seq int, port int, method, path string) *storage.Entry {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &storage.Entry{
		ID:         fmt.Sprintf("capture-%03d", seq),
		Port:       port,
		ReceivedAt: base.Add(time.Duration(seq) * time.Second),
		Request: &domain.CapturedRequest{
			Method:   method,
			Headers:  map[string]string{"Host": "localhost", "X-Seq": fmt.Sprint(seq)},
			Address:  "127.0.0.1:50000",
			FullPath: path + "?seq=" + fmt.Sprint(seq),
			Path:     path,
			Query:    map[string]string{"seq": fmt.Sprint(seq)},
			Body:     map[string]string{},
		},
	}
}

// Run exercises the Store contract against a fresh store from newStore.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Run("AppendAndGet", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		e := NewEntry(1, 8080, "POST", "/hook")
		e.Request.Body["a"] = "1"
		require.NoError(t, store.Append(ctx, e))

		got, err := store.Get(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, e.ID, got.ID)
		assert.Equal(t, 8080, got.Port)
		assert.True(t, e.ReceivedAt.Equal(got.ReceivedAt))
		assert.Equal(t, "POST", got.Request.Method)
		assert.Equal(t, "/hook", got.Request.Path)
		assert.Equal(t, "/hook?seq=1", got.Request.FullPath)
		assert.Equal(t, "127.0.0.1:50000", got.Request.Address)
		assert.Equal(t, e.Request.Headers, got.Request.Headers)
		assert.Equal(t, e.Request.Query, got.Request.Query)
		assert.Equal(t, map[string]string{"a": "1"}, got.Request.Body)
	})

	t.Run("GetNotFound", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Get(context.Background(), "missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("AppendDuplicate", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		e := NewEntry(1, 8080, "GET", "/")
		require.NoError(t, store.Append(ctx, e))
		assert.ErrorIs(t, store.Append(ctx, e), storage.ErrAlreadyExists)
	})

	t.Run("AppendInvalid", func(t *testing.T) {
		store := newStore(t)
		e := NewEntry(1, 8080, "GET", "/")
		e.ID = ""
		assert.ErrorIs(t, store.Append(context.Background(), e), storage.ErrInvalidInput)
	})

	t.Run("ListNewestFirst", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		for i := 1; i <= 3; i++ {
			require.NoError(t, store.Append(ctx, NewEntry(i, 8080, "GET", "/")))
		}

		entries, err := store.List(ctx, storage.Filter{})
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, "capture-003", entries[0].ID)
		assert.Equal(t, "capture-001", entries[2].ID)
	})

	t.Run("ListFilter", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		require.NoError(t, store.Append(ctx, NewEntry(1, 8080, "GET", "/a")))
		require.NoError(t, store.Append(ctx, NewEntry(2, 8081, "POST", "/a")))
		require.NoError(t, store.Append(ctx, NewEntry(3, 8080, "POST", "/b")))
		require.NoError(t, store.Append(ctx, NewEntry(4, 8080, "POST", "/a")))

		tests := []struct {
			name   string
			filter storage.Filter
			want   []string
		}{
			{"port", storage.Filter{Port: 8081}, []string{"capture-002"}},
			{"method", storage.Filter{Method: "GET"}, []string{"capture-001"}},
			{"path", storage.Filter{Path: "/b"}, []string{"capture-003"}},
			{"combined", storage.Filter{Port: 8080, Method: "POST", Path: "/a"}, []string{"capture-004"}},
			{"limit", storage.Filter{Limit: 2}, []string{"capture-004", "capture-003"}},
			{"no match", storage.Filter{Path: "/none"}, []string{}},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				entries, err := store.List(ctx, tt.filter)
				require.NoError(t, err)

				ids := make([]string, 0, len(entries))
				for _, e := range entries {
					ids = append(ids, e.ID)
				}
				assert.Equal(t, tt.want, ids)
			})
		}
	})

	t.Run("ClearAndCount", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		for i := 1; i <= 2; i++ {
			require.NoError(t, store.Append(ctx, NewEntry(i, 8080, "GET", "/")))
		}

		n, err := store.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		require.NoError(t, store.Clear(ctx))

		n, err = store.Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)

		entries, err := store.List(ctx, storage.Filter{})
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("Ping", func(t *testing.T) {
		store := newStore(t)
		assert.NoError(t, store.Ping(context.Background()))
	})
}
