// Package checklog records an audit trail of grammar checks.
//
// Every call to the language model produces one [Entry]. Entries are written
// to one or more [Store] backends: PostgreSQL ([PostgresStore]), SQLite
// ([SQLiteStore]) or an append-only JSON-lines file ([FileStore]). Writing
// an entry is best effort: callers log a failed write and carry on.
package checklog

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// PrefixLen is the number of runes of the checked text kept in an entry.
const PrefixLen = 100

// Entry is one audited grammar check.
type Entry struct {
	ID            string        `json:"id"`
	User          string        `json:"user"`
	ContentType   string        `json:"content_type"`
	ContentPrefix string        `json:"content_prefix"`
	ErrorCount    int           `json:"error_count"`
	LocatedCount  int           `json:"located_count"`
	Duration      time.Duration `json:"duration"`
	Error         string        `json:"error,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

// NewEntry returns an entry for a check of text with a fresh ID and the
// current time. Only the first [PrefixLen] runes of text are kept.
func NewEntry(user, contentType, text string) Entry {
	return Entry{
		ID:            uuid.NewString(),
		User:          user,
		ContentType:   contentType,
		ContentPrefix: Prefix(text),
		CreatedAt:     time.Now().UTC(),
	}
}

// Prefix returns the first [PrefixLen] runes of text.
func Prefix(text string) string {
	if utf8.RuneCountInString(text) <= PrefixLen {
		return text
	}
	n := 0
	for i := range text {
		if n == PrefixLen {
			return text[:i]
		}
		n++
	}
	return text
}

// Store persists check entries.
type Store interface {
	// Record appends e.
	Record(ctx context.Context, e Entry) error

	// Recent returns at most limit entries, newest first.
	Recent(ctx context.Context, limit int) ([]Entry, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// Discard is a [Store] that drops every entry.
var Discard Store = discard{}

type discard struct{}

func (discard) Record(context.Context, Entry) error          { return nil }
func (discard) Recent(context.Context, int) ([]Entry, error) { return nil, nil }
func (discard) Ping(context.Context) error                   { return nil }
func (discard) Close() error                                 { return nil }

// Multi fans every write out to all stores. Reads are served by the first
// store.
type Multi struct {
	stores []Store
}

var _ Store = (*Multi)(nil)

// NewMulti returns a [Multi] over stores.
func NewMulti(stores ...Store) *Multi {
	return &Multi{stores: stores}
}

// Record writes e to every store concurrently and returns the first failure.
func (m *Multi) Record(ctx context.Context, e Entry) error {
	var g errgroup.Group
	for i, s := range m.stores {
		g.Go(func() error {
			if err := s.Record(ctx, e); err != nil {
				return fmt.Errorf("checklog: store %d: %w", i, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Recent reads from the first store.
func (m *Multi) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if len(m.stores) == 0 {
		return nil, nil
	}
	return m.stores[0].Recent(ctx, limit)
}

// Ping pings every store concurrently.
func (m *Multi) Ping(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, s := range m.stores {
		g.Go(func() error { return s.Ping(ctx) })
	}
	return g.Wait()
}

// Close closes every store and joins their errors.
func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.stores {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
