// Package permission decides which lifecycle actions a caller may perform on
// an agreement. Everything here is pure: no I/O, no clocks, no globals.
package permission

import (
	"fmt"

	"github.com/alfredjeanlab/leasebridge/internal/model"
)

// RoleFor maps an identity onto its role in the agreement. An empty identity
// never matches.
func RoleFor(a *model.Agreement, identityID string) model.Role {
	switch {
	case a == nil || identityID == "":
		return model.RoleNone
	case identityID == a.OwnerID:
		return model.RoleOwner
	case identityID == a.TenantID:
		return model.RoleTenant
	}
	return model.RoleNone
}

// Decision is the result of a permission check. Reason is set when the
// action is refused.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

func allow() Decision { return Decision{Allowed: true} }

func deny(format string, args ...any) Decision {
	return Decision{Reason: fmt.Sprintf(format, args...)}
}

// rule is one row of the permission table.
type rule struct {
	statuses []model.Status
	roles    []model.Role
	guard    func(a *model.Agreement, role model.Role) string
}

var table = map[model.Action]rule{
	model.ActionSign: {
		statuses: []model.Status{model.StatusPending},
		roles:    []model.Role{model.RoleOwner, model.RoleTenant},
		guard: func(a *model.Agreement, role model.Role) string {
			if a.SignatureFor(role) != "" {
				return "already signed by " + role.String()
			}
			return ""
		},
	},
	model.ActionDeploy: {
		statuses: []model.Status{model.StatusSigned},
		roles:    []model.Role{model.RoleOwner},
		guard: func(a *model.Agreement, _ model.Role) string {
			if a.IsDeployed() {
				return "ledger contract already deployed"
			}
			return ""
		},
	},
	model.ActionPayDeposit: {
		statuses: []model.Status{model.StatusActive},
		roles:    []model.Role{model.RoleTenant},
		guard: func(a *model.Agreement, _ model.Role) string {
			if !a.IsDeployed() {
				return "no ledger contract"
			}
			return ""
		},
	},
	model.ActionComplete: {
		statuses: []model.Status{model.StatusActive},
		roles:    []model.Role{model.RoleOwner, model.RoleTenant},
	},
	model.ActionCancel: {
		statuses: []model.Status{model.StatusPending, model.StatusSigned, model.StatusActive},
		roles:    []model.Role{model.RoleOwner, model.RoleTenant},
	},
	model.ActionDispute: {
		statuses: []model.Status{model.StatusActive},
		roles:    []model.Role{model.RoleOwner, model.RoleTenant},
		guard: func(a *model.Agreement, _ model.Role) string {
			if a.Disputed {
				return "agreement is already disputed"
			}
			return ""
		},
	},
}

// Decide evaluates the permission table for (record, action, role).
func Decide(a *model.Agreement, action model.Action, role model.Role) Decision {
	if a == nil {
		return deny("no agreement")
	}
	r, ok := table[action]
	if !ok {
		return deny("unknown action %q", action)
	}
	if !containsRole(r.roles, role) {
		return deny("%s may not %s", role, action)
	}
	if !containsStatus(r.statuses, a.Status) {
		return deny("cannot %s while %s", action, a.Status)
	}
	if r.guard != nil {
		if reason := r.guard(a, role); reason != "" {
			return deny("%s", reason)
		}
	}
	return allow()
}

// CanPerform reports whether role may perform action on the agreement.
func CanPerform(a *model.Agreement, action model.Action, role model.Role) bool {
	return Decide(a, action, role).Allowed
}

// priority is the order Recommend walks. Dispute is never recommended.
var priority = []model.Action{
	model.ActionSign,
	model.ActionDeploy,
	model.ActionPayDeposit,
	model.ActionComplete,
	model.ActionCancel,
}

// Recommend returns the first allowed action by fixed priority, or "" when
// nothing is allowed.
func Recommend(a *model.Agreement, role model.Role) model.Action {
	return RecommendWith(a, role, LedgerUnknown)
}

// LedgerFact is what a fresh ledger read says about the agreement's contract.
type LedgerFact int

const (
	// LedgerUnknown means no read was made; the record is taken at its word.
	LedgerUnknown LedgerFact = iota
	// LedgerDeployed means a contract exists at the stored address.
	LedgerDeployed
	// LedgerMissing means the stored address has no contract code.
	LedgerMissing
	// LedgerConflict means the contract exists but disagrees with the record.
	LedgerConflict
)

func (f LedgerFact) String() string {
	switch f {
	case LedgerDeployed:
		return "deployed"
	case LedgerMissing:
		return "missing"
	case LedgerConflict:
		return "conflict"
	}
	return "unknown"
}

// RecommendWith is Recommend with knowledge of the ledger. When the ledger
// contradicts the record, ledger-affecting actions are skipped.
func RecommendWith(a *model.Agreement, role model.Role, fact LedgerFact) model.Action {
	for _, action := range priority {
		if (fact == LedgerMissing || fact == LedgerConflict) && LedgerAffecting(action, a) {
			continue
		}
		if CanPerform(a, action, role) {
			return action
		}
	}
	return ""
}

// Allowed lists every action role may perform, in priority order followed
// by dispute.
func Allowed(a *model.Agreement, role model.Role) []model.Action {
	var out []model.Action
	for _, action := range append(priority[:len(priority):len(priority)], model.ActionDispute) {
		if CanPerform(a, action, role) {
			out = append(out, action)
		}
	}
	return out
}

// LedgerAffecting reports whether the action submits a ledger transaction
// when the agreement is deployed.
func LedgerAffecting(action model.Action, a *model.Agreement) bool {
	switch action {
	case model.ActionDeploy, model.ActionPayDeposit:
		return true
	case model.ActionComplete, model.ActionCancel:
		return a != nil && a.IsDeployed()
	}
	return false
}

func containsRole(roles []model.Role, r model.Role) bool {
	for _, x := range roles {
		if x == r {
			return true
		}
	}
	return false
}

func containsStatus(statuses []model.Status, s model.Status) bool {
	for _, x := range statuses {
		if x == s {
			return true
		}
	}
	return false
}
