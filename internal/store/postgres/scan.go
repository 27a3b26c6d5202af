package postgres

import (
	"database/sql"
	"time"

	"github.com/alfredjeanlab/leasebridge/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanEntry scans a single row into a model.JournalEntry.
// The row must contain columns in the order defined by entryColumns.
func scanEntry(row scannable) (*model.JournalEntry, error) {
	var e model.JournalEntry
	var (
		ledgerAddress  sql.NullString
		txHash         sql.NullString
		blockNumber    int64
		reason         sql.NullString
		idempotencyKey sql.NullString
		generation     int64
		lastError      sql.NullString
		resolution     sql.NullString
		resolvedAt     sql.NullTime
	)

	err := row.Scan(
		&e.ID,
		&e.AgreementID,
		&e.Action,
		&e.State,
		&ledgerAddress,
		&txHash,
		&blockNumber,
		&reason,
		&idempotencyKey,
		&generation,
		&e.Attempts,
		&lastError,
		&resolution,
		&e.CreatedAt,
		&e.UpdatedAt,
		&resolvedAt,
	)
	if err != nil {
		return nil, err
	}

	e.LedgerAddress = ledgerAddress.String
	e.TxHash = txHash.String
	e.BlockNumber = uint64(blockNumber)
	e.Reason = reason.String
	e.IdempotencyKey = idempotencyKey.String
	e.Generation = uint64(generation)
	e.LastError = lastError.String
	e.Resolution = resolution.String
	if resolvedAt.Valid {
		t := resolvedAt.Time
		e.ResolvedAt = &t
	}
	return &e, nil
}

// scanEntries scans multiple rows into a slice of model.JournalEntry pointers.
func scanEntries(rows *sql.Rows) ([]*model.JournalEntry, error) {
	var entries []*model.JournalEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// nullString converts an empty string to sql.NullString{Valid: false}.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullTimePtr converts a *time.Time to sql.NullTime.
func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
