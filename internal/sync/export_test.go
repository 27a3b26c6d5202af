package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/alfredjeanlab/leasebridge/internal/model"
	"github.com/alfredjeanlab/leasebridge/internal/store/memory"
)

func addEntry(t *testing.T, j *memory.Journal, id string, state model.JournalState, at time.Time) {
	t.Helper()
	err := j.CreateEntry(context.Background(), &model.JournalEntry{
		ID:          id,
		AgreementID: "ag-" + id,
		Action:      model.ActionDeploy,
		State:       state,
		TxHash:      "0x" + strings.Repeat("1", 64),
		CreatedAt:   at,
		UpdatedAt:   at,
	})
	if err != nil {
		t.Fatalf("CreateEntry(%s): %v", id, err)
	}
}

func TestExportJSONL_Empty(t *testing.T) {
	var buf bytes.Buffer
	sum, err := ExportJSONL(context.Background(), memory.New(), &buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum != (Summary{}) {
		t.Errorf("summary = %+v, want zero", sum)
	}

	lines := nonEmptyLines(buf.String())
	if len(lines) != 1 {
		t.Fatalf("expected 1 line (header only), got %d", len(lines))
	}

	var h header
	if err := json.Unmarshal([]byte(lines[0]), &h); err != nil {
		t.Fatalf("unmarshal header: %v", err)
	}
	if h.Version != "1" || h.Type != "header" || h.EntryCount != 0 || h.OpenCount != 0 {
		t.Fatalf("unexpected header: %+v", h)
	}
}

func TestExportJSONL_WithEntries(t *testing.T) {
	j := memory.New()
	base := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

	// Created out of order to verify the oldest-first ordering.
	addEntry(t, j, "jr-b", model.JournalConflict, base.Add(time.Minute))
	addEntry(t, j, "jr-a", model.JournalPersisted, base)

	var buf bytes.Buffer
	sum, err := ExportJSONL(context.Background(), j, &buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum.Entries != 2 || sum.Open != 1 || !sum.Latest.Equal(base.Add(time.Minute)) {
		t.Errorf("summary = %+v", sum)
	}

	lines := nonEmptyLines(buf.String())
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d:\n%s", len(lines), buf.String())
	}

	var h header
	if err := json.Unmarshal([]byte(lines[0]), &h); err != nil {
		t.Fatalf("unmarshal header: %v", err)
	}
	if h.EntryCount != 2 || h.OpenCount != 1 {
		t.Fatalf("header counts: entries=%d open=%d", h.EntryCount, h.OpenCount)
	}

	var ids []string
	for _, line := range lines[1:] {
		var rec struct {
			Type string             `json:"type"`
			Data model.JournalEntry `json:"data"`
		}
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("unmarshal entry: %v", err)
		}
		if rec.Type != "entry" {
			t.Fatalf("expected entry type, got %q", rec.Type)
		}
		ids = append(ids, rec.Data.ID)
	}
	if ids[0] != "jr-a" || ids[1] != "jr-b" {
		t.Fatalf("entries not in creation order: %v", ids)
	}
}

func nonEmptyLines(s string) []string {
	var result []string
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			result = append(result, line)
		}
	}
	return result
}
