// Package sync exports the ledger journal to durable destinations so the
// record of money-moving writes survives the coordinator's database.
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/alfredjeanlab/leasebridge/internal/model"
	"github.com/alfredjeanlab/leasebridge/internal/store"
)

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Version    string    `json:"version"`
	Type       string    `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	EntryCount int       `json:"entry_count"`
	OpenCount  int       `json:"open_count"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Summary describes one export. Two exports with equal summaries carry the
// same entries.
type Summary struct {
	Entries int
	Open    int
	// Latest is the newest UpdatedAt across all entries.
	Latest time.Time
}

// ExportJSONL writes every journal entry as JSONL to w, oldest first,
// preceded by a header line.
func ExportJSONL(ctx context.Context, j store.Journal, w io.Writer) (Summary, error) {
	entries, err := j.ListEntries(ctx, model.JournalFilter{})
	if err != nil {
		return Summary{}, fmt.Errorf("list journal entries: %w", err)
	}

	var sum Summary
	sum.Entries = len(entries)
	for _, e := range entries {
		if e.State.Open() {
			sum.Open++
		}
		if e.UpdatedAt.After(sum.Latest) {
			sum.Latest = e.UpdatedAt
		}
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:    "1",
		Type:       "header",
		Timestamp:  time.Now().UTC(),
		EntryCount: sum.Entries,
		OpenCount:  sum.Open,
	}); err != nil {
		return Summary{}, fmt.Errorf("encode header: %w", err)
	}

	for _, e := range entries {
		if err := enc.Encode(record{Type: "entry", Data: e}); err != nil {
			return Summary{}, fmt.Errorf("encode entry %s: %w", e.ID, err)
		}
	}
	return sum, nil
}
