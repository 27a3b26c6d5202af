// Package store defines persistence for the ledger write journal.
package store

import (
	"context"
	"errors"

	"github.com/alfredjeanlab/leasebridge/internal/model"
)

// ErrNotFound is returned when a journal entry does not exist.
var ErrNotFound = errors.New("journal entry not found")

// Journal stores ledger writes that still need, or have had, their record
// store patch. Implementations must make CreateEntry durable before
// returning.
type Journal interface {
	CreateEntry(ctx context.Context, e *model.JournalEntry) error
	GetEntry(ctx context.Context, id string) (*model.JournalEntry, error)
	// UpdateEntry replaces state, attempts, errors and resolution fields.
	UpdateEntry(ctx context.Context, e *model.JournalEntry) error
	// ListEntries returns matching entries ordered by creation time.
	ListEntries(ctx context.Context, filter model.JournalFilter) ([]*model.JournalEntry, error)

	Close() error
}
