package model

import (
	"testing"
	"time"
)

// validAgreement returns an Agreement that passes all validation rules.
func validAgreement() Agreement {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	return Agreement{
		ID:         "ag-1",
		OwnerID:    "user-owner",
		TenantID:   "user-tenant",
		ItemRef:    "item-42",
		Period:     Period{Start: start, End: start.Add(72 * time.Hour)},
		TotalPrice: "0.3",
		Deposit:    "0.1",
		Status:     StatusPending,
		CreatedAt:  start.Add(-24 * time.Hour),
	}
}

// fieldErrors extracts a *ValidationError from err or fails the test.
func fieldErrors(t *testing.T, err error) []FieldError {
	t.Helper()
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	return ve.Errors
}

// hasFieldError reports whether the error list contains an error for the given field.
func hasFieldError(errs []FieldError, field string) bool {
	for _, fe := range errs {
		if fe.Field == field {
			return true
		}
	}
	return false
}

func TestValidate_Valid(t *testing.T) {
	a := validAgreement()
	if err := ValidateAgreement(&a); err != nil {
		t.Fatalf("ValidateAgreement() = %v, want nil", err)
	}
}

func TestValidate_RequiredIDs(t *testing.T) {
	a := validAgreement()
	a.ID = ""
	a.OwnerID = " "
	a.TenantID = ""
	errs := fieldErrors(t, ValidateAgreement(&a))
	for _, f := range []string{"id", "ownerId", "tenantId"} {
		if !hasFieldError(errs, f) {
			t.Errorf("expected error on field %q", f)
		}
	}
}

func TestValidate_SamePartyTwice(t *testing.T) {
	a := validAgreement()
	a.TenantID = a.OwnerID
	if !hasFieldError(fieldErrors(t, ValidateAgreement(&a)), "tenantId") {
		t.Error("expected error when owner and tenant are the same identity")
	}
}

func TestValidate_InvalidStatus(t *testing.T) {
	a := validAgreement()
	a.Status = Status("archived")
	if !hasFieldError(fieldErrors(t, ValidateAgreement(&a)), "status") {
		t.Error("expected error on field 'status'")
	}
}

func TestValidate_PeriodOrder(t *testing.T) {
	a := validAgreement()
	a.Period.End = a.Period.Start
	if !hasFieldError(fieldErrors(t, ValidateAgreement(&a)), "period") {
		t.Error("expected error on field 'period'")
	}
}

func TestValidate_Amounts(t *testing.T) {
	a := validAgreement()
	a.TotalPrice = "-1"
	a.Deposit = "abc"
	errs := fieldErrors(t, ValidateAgreement(&a))
	if !hasFieldError(errs, "totalPrice") || !hasFieldError(errs, "deposit") {
		t.Errorf("expected amount errors, got %v", errs)
	}
}

func TestValidate_LedgerAddressInvariant(t *testing.T) {
	for _, tc := range []struct {
		name    string
		status  Status
		address string
		wantErr bool
	}{
		{"PendingWithoutAddress", StatusPending, "", false},
		{"PendingWithAddress", StatusPending, "0xabc", true},
		{"SignedWithAddress", StatusSigned, "0xabc", true},
		{"ActiveWithAddress", StatusActive, "0xabc", false},
		{"ActiveWithoutAddress", StatusActive, "", true},
		{"CompletedWithoutAddress", StatusCompleted, "", true},
		{"CancelledBeforeDeploy", StatusCancelled, "", false},
		{"CancelledAfterDeploy", StatusCancelled, "0xabc", false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			a := validAgreement()
			a.Status = tc.status
			a.LedgerAddress = tc.address
			a.OwnerSignature = "sig-o"
			a.TenantSignature = "sig-t"
			err := ValidateAgreement(&a)
			if tc.wantErr {
				if !hasFieldError(fieldErrors(t, err), "ledgerAddress") {
					t.Errorf("expected ledgerAddress error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("ValidateAgreement() = %v, want nil", err)
			}
		})
	}
}

func TestValidate_SignaturesBeforeLeavingPending(t *testing.T) {
	a := validAgreement()
	a.Status = StatusSigned
	a.OwnerSignature = "sig-o"
	if !hasFieldError(fieldErrors(t, ValidateAgreement(&a)), "signatures") {
		t.Error("expected signatures error for a signed record missing the tenant signature")
	}
}

func TestValidate_DisputedOnlyWhileActive(t *testing.T) {
	a := validAgreement()
	a.Disputed = true
	if !hasFieldError(fieldErrors(t, ValidateAgreement(&a)), "disputed") {
		t.Error("expected disputed error for a pending record")
	}
}

func TestValidationError_Message(t *testing.T) {
	ve := &ValidationError{Errors: []FieldError{
		{Field: "id", Message: "is required"},
		{Field: "status", Message: `invalid value "x"`},
	}}
	want := `validation failed: id: is required; status: invalid value "x"`
	if got := ve.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
