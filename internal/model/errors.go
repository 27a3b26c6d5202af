package model

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so callers can apply the retry policy
// without inspecting messages.
type ErrorKind string

const (
	KindWalletUnavailable      ErrorKind = "wallet_unavailable"
	KindNotAuthenticated       ErrorKind = "not_authenticated"
	KindWalletRejected         ErrorKind = "wallet_rejected"
	KindNetworkMismatch        ErrorKind = "network_mismatch"
	KindInsufficientFunds      ErrorKind = "insufficient_funds"
	KindRecordStoreError       ErrorKind = "record_store_error"
	KindLedgerCallReverted     ErrorKind = "ledger_call_reverted"
	KindReconciliationConflict ErrorKind = "reconciliation_conflict"
	KindConfirmationTimeout    ErrorKind = "confirmation_timeout"
	KindNotPermitted           ErrorKind = "not_permitted"
	KindBusy                   ErrorKind = "busy"
	KindInvalidInput           ErrorKind = "invalid_input"
)

// String returns the string representation of the kind.
func (k ErrorKind) String() string {
	return string(k)
}

// Terminal reports whether the kind ends the current attempt without any
// automatic retry; the user has to start over.
func (k ErrorKind) Terminal() bool {
	switch k {
	case KindWalletRejected, KindInsufficientFunds, KindNetworkMismatch:
		return true
	}
	return false
}

// Error is a classified failure. Op names the operation that failed
// (e.g. "ledger.PayDeposit").
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the sentinels below work with
// errors.Is regardless of Op and wrapped cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrWalletUnavailable      = &Error{Kind: KindWalletUnavailable}
	ErrNotAuthenticated       = &Error{Kind: KindNotAuthenticated}
	ErrWalletRejected         = &Error{Kind: KindWalletRejected}
	ErrNetworkMismatch        = &Error{Kind: KindNetworkMismatch}
	ErrInsufficientFunds      = &Error{Kind: KindInsufficientFunds}
	ErrRecordStore            = &Error{Kind: KindRecordStoreError}
	ErrLedgerCallReverted     = &Error{Kind: KindLedgerCallReverted}
	ErrReconciliationConflict = &Error{Kind: KindReconciliationConflict}
	ErrConfirmationTimeout    = &Error{Kind: KindConfirmationTimeout}
	ErrNotPermitted           = &Error{Kind: KindNotPermitted}
	ErrBusy                   = &Error{Kind: KindBusy}
	ErrInvalidInput           = &Error{Kind: KindInvalidInput}
)

// E builds a classified error.
func E(kind ErrorKind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error with a formatted cause.
func Errorf(kind ErrorKind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
