package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/alfredjeanlab/leasebridge/internal/model"
	"github.com/alfredjeanlab/leasebridge/internal/store"
)

// entryColumns is the column list used for SELECT statements on ledger_journal.
const entryColumns = `id, agreement_id, action, state, ledger_address, tx_hash,
	block_number, reason, idempotency_key, generation, attempts, last_error,
	resolution, created_at, updated_at, resolved_at`

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func queryCreateEntry(ctx context.Context, db executor, e *model.JournalEntry) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO ledger_journal (
			id, agreement_id, action, state, ledger_address, tx_hash,
			block_number, reason, idempotency_key, generation, attempts, last_error,
			resolution, created_at, updated_at, resolved_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16
		)`,
		e.ID,
		e.AgreementID,
		string(e.Action),
		string(e.State),
		nullString(e.LedgerAddress),
		nullString(e.TxHash),
		int64(e.BlockNumber),
		nullString(e.Reason),
		nullString(e.IdempotencyKey),
		int64(e.Generation),
		e.Attempts,
		nullString(e.LastError),
		nullString(e.Resolution),
		e.CreatedAt,
		e.UpdatedAt,
		nullTimePtr(e.ResolvedAt),
	)
	if err != nil {
		return fmt.Errorf("insert journal entry %s: %w", e.ID, err)
	}
	return nil
}

func queryGetEntry(ctx context.Context, db executor, id string) (*model.JournalEntry, error) {
	row := db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM ledger_journal WHERE id = $1`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get journal entry %s: %w", id, err)
	}
	return e, nil
}

func queryUpdateEntry(ctx context.Context, db executor, e *model.JournalEntry) error {
	res, err := db.ExecContext(ctx, `
		UPDATE ledger_journal SET
			state = $2, attempts = $3, last_error = $4,
			resolution = $5, updated_at = $6, resolved_at = $7
		WHERE id = $1`,
		e.ID,
		string(e.State),
		e.Attempts,
		nullString(e.LastError),
		nullString(e.Resolution),
		e.UpdatedAt,
		nullTimePtr(e.ResolvedAt),
	)
	if err != nil {
		return fmt.Errorf("update journal entry %s: %w", e.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update journal entry %s: %w", e.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", store.ErrNotFound, e.ID)
	}
	return nil
}

// buildEntryFilter returns the WHERE clause and arguments for filter.
func buildEntryFilter(filter model.JournalFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if filter.AgreementID != "" {
		args = append(args, filter.AgreementID)
		conds = append(conds, fmt.Sprintf("agreement_id = $%d", len(args)))
	}
	if len(filter.States) > 0 {
		states := make([]string, len(filter.States))
		for i, s := range filter.States {
			states[i] = string(s)
		}
		args = append(args, pq.Array(states))
		conds = append(conds, fmt.Sprintf("state = ANY($%d)", len(args)))
	}
	if !filter.UpdatedSince.IsZero() {
		args = append(args, filter.UpdatedSince)
		conds = append(conds, fmt.Sprintf("updated_at >= $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func queryListEntries(ctx context.Context, db executor, filter model.JournalFilter) ([]*model.JournalEntry, error) {
	where, args := buildEntryFilter(filter)
	q := `SELECT ` + entryColumns + ` FROM ledger_journal` + where + ` ORDER BY created_at ASC, id ASC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list journal entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}
