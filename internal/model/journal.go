package model

import "time"

// JournalState is the lifecycle of a journal entry.
type JournalState string

const (
	// JournalPending: the ledger write landed, the record store has not
	// acknowledged it yet.
	JournalPending   JournalState = "pending"
	JournalPersisted JournalState = "persisted"
	// JournalConflict: persistence was exhausted or the result went stale.
	JournalConflict JournalState = "conflict"
	JournalResolved JournalState = "resolved"
)

// String returns the string representation of the state.
func (s JournalState) String() string {
	return string(s)
}

// IsValid checks whether the state is a known value.
func (s JournalState) IsValid() bool {
	switch s {
	case JournalPending, JournalPersisted, JournalConflict, JournalResolved:
		return true
	}
	return false
}

// Open reports whether the entry still needs attention.
func (s JournalState) Open() bool {
	return s == JournalPending || s == JournalConflict
}

// JournalEntry records one successful ledger write together with the record
// store patch that has to follow it. It carries everything needed to replay
// the patch without touching the ledger again.
type JournalEntry struct {
	ID             string       `json:"id"`
	AgreementID    string       `json:"agreement_id"`
	Action         Action       `json:"action"`
	State          JournalState `json:"state"`
	LedgerAddress  string       `json:"ledger_address,omitempty"`
	TxHash         string       `json:"tx_hash,omitempty"`
	// BlockNumber is zero while the transaction's outcome is unknown.
	BlockNumber    uint64       `json:"block_number,omitempty"`
	Reason         string       `json:"reason,omitempty"`
	IdempotencyKey string       `json:"idempotency_key,omitempty"`
	Generation     uint64       `json:"generation"`
	Attempts       int          `json:"attempts"`
	LastError      string       `json:"last_error,omitempty"`
	Resolution     string       `json:"resolution,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
	ResolvedAt     *time.Time   `json:"resolved_at,omitempty"`
}

// JournalFilter selects journal entries. Zero fields match everything.
type JournalFilter struct {
	AgreementID  string
	States       []JournalState
	UpdatedSince time.Time
	Limit        int
}

// Matches reports whether e passes the filter, ignoring Limit.
func (f JournalFilter) Matches(e *JournalEntry) bool {
	if f.AgreementID != "" && e.AgreementID != f.AgreementID {
		return false
	}
	if !f.UpdatedSince.IsZero() && e.UpdatedAt.Before(f.UpdatedSince) {
		return false
	}
	if len(f.States) == 0 {
		return true
	}
	for _, s := range f.States {
		if e.State == s {
			return true
		}
	}
	return false
}
