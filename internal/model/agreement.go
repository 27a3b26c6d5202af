package model

import (
	"math"
	"time"
)

// Status represents the lifecycle state of an agreement.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPending   Status = "pending"
	StatusSigned    Status = "signed"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsValid checks whether the status is a known value.
func (s Status) IsValid() bool {
	switch s {
	case StatusDraft, StatusPending, StatusSigned, StatusActive,
		StatusCompleted, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition can leave the status.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Role is the part a caller plays in an agreement.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleTenant Role = "tenant"
	RoleNone   Role = "none"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// Action is a caller-initiated lifecycle operation.
type Action string

const (
	ActionSign       Action = "sign"
	ActionDeploy     Action = "deploy"
	ActionPayDeposit Action = "pay_deposit"
	ActionComplete   Action = "complete"
	ActionCancel     Action = "cancel"
	ActionDispute    Action = "dispute"
)

// String returns the string representation of the action.
func (a Action) String() string {
	return string(a)
}

// IsValid checks whether the action is a known value.
func (a Action) IsValid() bool {
	switch a {
	case ActionSign, ActionDeploy, ActionPayDeposit, ActionComplete, ActionCancel, ActionDispute:
		return true
	}
	return false
}

// Period is the rental window.
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// DurationDays returns the rental length in whole days, rounding partial days up.
func (p Period) DurationDays() uint64 {
	d := p.End.Sub(p.Start)
	if d <= 0 {
		return 0
	}
	return uint64(math.Ceil(d.Hours() / 24))
}

// Agreement is the off-chain rental agreement record.
type Agreement struct {
	ID              string    `json:"id"`
	OwnerID         string    `json:"ownerId"`
	TenantID        string    `json:"tenantId"`
	TenantAddress   string    `json:"tenantAddress,omitempty"`
	ItemRef         string    `json:"itemRef"`
	Period          Period    `json:"period"`
	TotalPrice      string    `json:"totalPrice"`
	Deposit         string    `json:"deposit"`
	Status          Status    `json:"status"`
	Disputed        bool      `json:"disputed,omitempty"`
	LedgerAddress   string    `json:"ledgerAddress,omitempty"`
	TransactionHash string    `json:"transactionHash,omitempty"`
	DepositTxHash   string    `json:"depositTxHash,omitempty"`
	OwnerSignature  string    `json:"ownerSignature,omitempty"`
	TenantSignature string    `json:"tenantSignature,omitempty"`
	Version         int64     `json:"version,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt,omitempty"`
}

// IsDeployed reports whether the record references an on-chain contract.
func (a *Agreement) IsDeployed() bool {
	return a.LedgerAddress != ""
}

// SignatureFor returns the signature slot belonging to role.
func (a *Agreement) SignatureFor(role Role) string {
	switch role {
	case RoleOwner:
		return a.OwnerSignature
	case RoleTenant:
		return a.TenantSignature
	}
	return ""
}

// FullySigned reports whether both parties have signed.
func (a *Agreement) FullySigned() bool {
	return a.OwnerSignature != "" && a.TenantSignature != ""
}

// EffectiveStatus returns the status as of now. Agreements that never reached
// the ledger and whose rental period has ended read as expired.
func (a *Agreement) EffectiveStatus(now time.Time) Status {
	switch a.Status {
	case StatusDraft, StatusPending, StatusSigned:
		if !a.Period.End.IsZero() && now.After(a.Period.End) {
			return StatusExpired
		}
	}
	return a.Status
}

// Clone returns a shallow copy of the agreement.
func (a *Agreement) Clone() *Agreement {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}

// Dispute is a dispute raised against an active agreement. It does not
// change the agreement's primary status.
type Dispute struct {
	ID          string    `json:"id"`
	AgreementID string    `json:"agreementId"`
	RaisedBy    string    `json:"raisedBy,omitempty"`
	Reason      string    `json:"reason"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}
