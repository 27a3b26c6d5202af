package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/alfredjeanlab/leasebridge/internal/model"
	"github.com/alfredjeanlab/leasebridge/internal/store"
)

// newMockDB creates a sqlmock database with automatic cleanup and expectation checking.
func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
		db.Close()
	})
	return db, mock
}

// entryRowColumns is the column list for scanEntry results.
var entryRowColumns = []string{
	"id", "agreement_id", "action", "state", "ledger_address", "tx_hash",
	"block_number", "reason", "idempotency_key", "generation", "attempts", "last_error",
	"resolution", "created_at", "updated_at", "resolved_at",
}

func addEntryRow(rows *sqlmock.Rows, id, agreementID, state string, now time.Time) *sqlmock.Rows {
	return rows.AddRow(
		id, agreementID, "deploy", state, "0x00000000000000000000000000000000000000a9", "0xabc",
		int64(120), nil, "key-1", int64(3), 1, nil,
		nil, now, now, nil,
	)
}

func TestQueryCreateEntry(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := &model.JournalEntry{
		ID:             "jr-1",
		AgreementID:    "ag-1",
		Action:         model.ActionDeploy,
		State:          model.JournalPending,
		LedgerAddress:  "0xa9",
		TxHash:         "0xabc",
		BlockNumber:    120,
		IdempotencyKey: "key-1",
		Generation:     3,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	mock.ExpectExec("INSERT INTO ledger_journal").
		WithArgs("jr-1", "ag-1", "deploy", "pending",
			sql.NullString{String: "0xa9", Valid: true},
			sql.NullString{String: "0xabc", Valid: true},
			int64(120), sql.NullString{}, sql.NullString{String: "key-1", Valid: true},
			int64(3), 0, sql.NullString{}, sql.NullString{}, now, now, sql.NullTime{}).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := NewWithDB(db).CreateEntry(context.Background(), e); err != nil {
		t.Fatalf("CreateEntry() error = %v", err)
	}
}

func TestQueryGetEntry(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT .+ FROM ledger_journal WHERE id = \\$1").WithArgs("jr-1").
		WillReturnRows(addEntryRow(sqlmock.NewRows(entryRowColumns), "jr-1", "ag-1", "conflict", now))

	e, err := NewWithDB(db).GetEntry(context.Background(), "jr-1")
	if err != nil {
		t.Fatalf("GetEntry() error = %v", err)
	}
	if e.Action != model.ActionDeploy || e.State != model.JournalConflict {
		t.Errorf("entry = %+v", e)
	}
	if e.BlockNumber != 120 || e.Generation != 3 || e.Attempts != 1 || e.IdempotencyKey != "key-1" {
		t.Errorf("numeric fields = %+v", e)
	}
	if e.Reason != "" || e.ResolvedAt != nil {
		t.Errorf("null columns not mapped to zero values: %+v", e)
	}
}

func TestQueryGetEntry_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT .+ FROM ledger_journal WHERE id = \\$1").WithArgs("jr-x").
		WillReturnRows(sqlmock.NewRows(entryRowColumns))

	_, err := NewWithDB(db).GetEntry(context.Background(), "jr-x")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("GetEntry() error = %v, want ErrNotFound", err)
	}
}

func TestQueryUpdateEntry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := &model.JournalEntry{
		ID:         "jr-1",
		State:      model.JournalResolved,
		Attempts:   4,
		Resolution: "acknowledge",
		UpdatedAt:  now,
		ResolvedAt: &now,
	}

	t.Run("Updated", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec("UPDATE ledger_journal SET").
			WithArgs("jr-1", "resolved", 4, sql.NullString{},
				sql.NullString{String: "acknowledge", Valid: true}, now, sql.NullTime{Time: now, Valid: true}).
			WillReturnResult(sqlmock.NewResult(0, 1))
		if err := NewWithDB(db).UpdateEntry(context.Background(), e); err != nil {
			t.Fatalf("UpdateEntry() error = %v", err)
		}
	})

	t.Run("Missing", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec("UPDATE ledger_journal SET").
			WillReturnResult(sqlmock.NewResult(0, 0))
		if err := NewWithDB(db).UpdateEntry(context.Background(), e); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("UpdateEntry() error = %v, want ErrNotFound", err)
		}
	})
}

func TestBuildEntryFilter(t *testing.T) {
	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for _, tc := range []struct {
		name     string
		filter   model.JournalFilter
		want     string
		wantArgs int
	}{
		{"Empty", model.JournalFilter{}, "", 0},
		{"Agreement", model.JournalFilter{AgreementID: "ag-1"}, " WHERE agreement_id = $1", 1},
		{
			"All",
			model.JournalFilter{AgreementID: "ag-1", States: []model.JournalState{model.JournalPending}, UpdatedSince: since},
			" WHERE agreement_id = $1 AND state = ANY($2) AND updated_at >= $3",
			3,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, args := buildEntryFilter(tc.filter)
			if got != tc.want {
				t.Errorf("where = %q, want %q", got, tc.want)
			}
			if len(args) != tc.wantArgs {
				t.Errorf("len(args) = %d, want %d", len(args), tc.wantArgs)
			}
		})
	}
}

func TestQueryListEntries(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(entryRowColumns)
	addEntryRow(rows, "jr-1", "ag-1", "pending", now)
	addEntryRow(rows, "jr-2", "ag-2", "conflict", now.Add(time.Second))
	mock.ExpectQuery("SELECT .+ FROM ledger_journal WHERE state = ANY\\(\\$1\\) ORDER BY created_at ASC, id ASC LIMIT \\$2").
		WithArgs(sqlmock.AnyArg(), 50).
		WillReturnRows(rows)

	got, err := NewWithDB(db).ListEntries(context.Background(), model.JournalFilter{
		States: []model.JournalState{model.JournalPending, model.JournalConflict},
		Limit:  50,
	})
	if err != nil {
		t.Fatalf("ListEntries() error = %v", err)
	}
	if len(got) != 2 || got[0].ID != "jr-1" || got[1].State != model.JournalConflict {
		t.Errorf("entries = %+v", got)
	}
}

func TestScanHelpers(t *testing.T) {
	if nullTimePtr(nil).Valid {
		t.Error("nullTimePtr(nil) should be invalid")
	}
	now := time.Now()
	if nt := nullTimePtr(&now); !nt.Valid || !nt.Time.Equal(now) {
		t.Errorf("nullTimePtr(now) = %v", nt)
	}
	if nullString("").Valid {
		t.Error("nullString(\"\") should be invalid")
	}
	if ns := nullString("hello"); !ns.Valid || ns.String != "hello" {
		t.Errorf("nullString(\"hello\") = %v", ns)
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	for _, name := range []string{
		"migrations/000001_create_journal.up.sql",
		"migrations/000001_create_journal.down.sql",
	} {
		data, err := migrationsFS.ReadFile(name)
		if err != nil {
			t.Fatalf("reading %s: %v", name, err)
		}
		if len(data) == 0 {
			t.Errorf("%s is empty", name)
		}
	}
}
