// Package memory implements store.Journal in process memory. Entries are
// lost on exit; it is used when no database is configured and in tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/alfredjeanlab/leasebridge/internal/model"
	"github.com/alfredjeanlab/leasebridge/internal/store"
)

// Journal is an in-memory store.Journal.
type Journal struct {
	mu      sync.RWMutex
	entries map[string]*model.JournalEntry
}

var _ store.Journal = (*Journal)(nil)

// New returns an empty journal.
func New() *Journal {
	return &Journal{entries: make(map[string]*model.JournalEntry)}
}

func (j *Journal) CreateEntry(_ context.Context, e *model.JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, ok := j.entries[e.ID]; ok {
		return fmt.Errorf("journal entry %s already exists", e.ID)
	}
	j.entries[e.ID] = cloneEntry(e)
	return nil
}

func (j *Journal) GetEntry(_ context.Context, id string) (*model.JournalEntry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	e, ok := j.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	return cloneEntry(e), nil
}

func (j *Journal) UpdateEntry(_ context.Context, e *model.JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	cur, ok := j.entries[e.ID]
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrNotFound, e.ID)
	}
	next := cloneEntry(cur)
	next.State = e.State
	next.Attempts = e.Attempts
	next.LastError = e.LastError
	next.Resolution = e.Resolution
	next.UpdatedAt = e.UpdatedAt
	next.ResolvedAt = e.ResolvedAt
	j.entries[e.ID] = next
	return nil
}

func (j *Journal) ListEntries(_ context.Context, filter model.JournalFilter) ([]*model.JournalEntry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	var out []*model.JournalEntry
	for _, e := range j.entries {
		if filter.Matches(e) {
			out = append(out, cloneEntry(e))
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].ID < out[b].ID
		}
		return out[a].CreatedAt.Before(out[b].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Close is a no-op.
func (j *Journal) Close() error { return nil }

func cloneEntry(e *model.JournalEntry) *model.JournalEntry {
	c := *e
	if e.ResolvedAt != nil {
		t := *e.ResolvedAt
		c.ResolvedAt = &t
	}
	return &c
}
