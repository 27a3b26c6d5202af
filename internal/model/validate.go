package model

import (
	"fmt"
	"strings"
)

// ValidationError holds a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single validation failure on a named field.
type FieldError struct {
	Field   string
	Message string
}

// Error formats the validation error as a semicolon-separated list of field messages.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasErrors reports whether the validation error contains any field errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

// ValidateAgreement checks an Agreement for constraint violations.
// It returns a *ValidationError if any rules fail, or nil if the record is valid.
func ValidateAgreement(a *Agreement) error {
	var ve ValidationError

	if strings.TrimSpace(a.ID) == "" {
		ve.Errors = append(ve.Errors, FieldError{Field: "id", Message: "is required"})
	}
	if strings.TrimSpace(a.OwnerID) == "" {
		ve.Errors = append(ve.Errors, FieldError{Field: "ownerId", Message: "is required"})
	}
	if strings.TrimSpace(a.TenantID) == "" {
		ve.Errors = append(ve.Errors, FieldError{Field: "tenantId", Message: "is required"})
	}
	if a.OwnerID != "" && a.OwnerID == a.TenantID {
		ve.Errors = append(ve.Errors, FieldError{Field: "tenantId", Message: "must differ from ownerId"})
	}

	if !a.Status.IsValid() {
		ve.Errors = append(ve.Errors, FieldError{
			Field:   "status",
			Message: fmt.Sprintf("invalid value %q", a.Status),
		})
	}

	if !a.Period.Start.IsZero() && !a.Period.End.IsZero() && !a.Period.End.After(a.Period.Start) {
		ve.Errors = append(ve.Errors, FieldError{Field: "period", Message: "end must be after start"})
	}

	if _, err := ParseEther(a.TotalPrice); err != nil {
		ve.Errors = append(ve.Errors, FieldError{Field: "totalPrice", Message: err.Error()})
	}
	if _, err := ParseEther(a.Deposit); err != nil {
		ve.Errors = append(ve.Errors, FieldError{Field: "deposit", Message: err.Error()})
	}

	// Ledger address is present exactly when the agreement reached active.
	if a.ReachedActive() && a.LedgerAddress == "" {
		ve.Errors = append(ve.Errors, FieldError{
			Field:   "ledgerAddress",
			Message: fmt.Sprintf("is required when status is %s", a.Status),
		})
	}
	if !a.ReachedActive() && a.Status != StatusCancelled && a.LedgerAddress != "" {
		ve.Errors = append(ve.Errors, FieldError{
			Field:   "ledgerAddress",
			Message: fmt.Sprintf("must be empty when status is %s", a.Status),
		})
	}

	// Both signatures before leaving pending.
	switch a.Status {
	case StatusSigned, StatusActive, StatusCompleted:
		if !a.FullySigned() {
			ve.Errors = append(ve.Errors, FieldError{
				Field:   "signatures",
				Message: fmt.Sprintf("both signatures are required when status is %s", a.Status),
			})
		}
	}

	if a.Disputed && a.Status != StatusActive {
		ve.Errors = append(ve.Errors, FieldError{Field: "disputed", Message: "only allowed while active"})
	}

	if ve.HasErrors() {
		return &ve
	}
	return nil
}
