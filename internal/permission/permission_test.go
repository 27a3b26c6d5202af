package permission

import (
	"reflect"
	"testing"

	"github.com/alfredjeanlab/leasebridge/internal/model"
)

func agreement(status model.Status) *model.Agreement {
	return &model.Agreement{
		ID:       "ag-1",
		OwnerID:  "owner",
		TenantID: "tenant",
		Status:   status,
	}
}

func TestRoleFor(t *testing.T) {
	a := agreement(model.StatusPending)
	for _, tc := range []struct {
		identity string
		want     model.Role
	}{
		{"owner", model.RoleOwner},
		{"tenant", model.RoleTenant},
		{"stranger", model.RoleNone},
		{"", model.RoleNone},
		{"OWNER", model.RoleNone},
	} {
		if got := RoleFor(a, tc.identity); got != tc.want {
			t.Errorf("RoleFor(%q) = %s, want %s", tc.identity, got, tc.want)
		}
	}
	if got := RoleFor(nil, "owner"); got != model.RoleNone {
		t.Errorf("RoleFor(nil) = %s, want none", got)
	}
}

func TestCanPerform_Table(t *testing.T) {
	deployed := func(s model.Status) *model.Agreement {
		a := agreement(s)
		a.LedgerAddress = "0xabc"
		a.OwnerSignature, a.TenantSignature = "o", "t"
		return a
	}
	tenantSigned := agreement(model.StatusPending)
	tenantSigned.TenantSignature = "t"
	signed := agreement(model.StatusSigned)
	signed.OwnerSignature, signed.TenantSignature = "o", "t"
	activeNoLedger := agreement(model.StatusActive)
	disputed := deployed(model.StatusActive)
	disputed.Disputed = true

	for _, tc := range []struct {
		name   string
		a      *model.Agreement
		action model.Action
		role   model.Role
		want   bool
	}{
		{"SignPendingTenant", agreement(model.StatusPending), model.ActionSign, model.RoleTenant, true},
		{"SignPendingOwner", agreement(model.StatusPending), model.ActionSign, model.RoleOwner, true},
		{"SignPendingStranger", agreement(model.StatusPending), model.ActionSign, model.RoleNone, false},
		{"SignTwice", tenantSigned, model.ActionSign, model.RoleTenant, false},
		{"SignOtherSlotEmpty", tenantSigned, model.ActionSign, model.RoleOwner, true},
		{"SignDraft", agreement(model.StatusDraft), model.ActionSign, model.RoleOwner, false},
		{"DeploySignedOwner", signed, model.ActionDeploy, model.RoleOwner, true},
		{"DeploySignedTenant", signed, model.ActionDeploy, model.RoleTenant, false},
		{"DeployPending", agreement(model.StatusPending), model.ActionDeploy, model.RoleOwner, false},
		{"DeployAlreadyDeployed", deployed(model.StatusActive), model.ActionDeploy, model.RoleOwner, false},
		{"PayDepositTenant", deployed(model.StatusActive), model.ActionPayDeposit, model.RoleTenant, true},
		{"PayDepositOwner", deployed(model.StatusActive), model.ActionPayDeposit, model.RoleOwner, false},
		{"PayDepositNoLedger", activeNoLedger, model.ActionPayDeposit, model.RoleTenant, false},
		{"CompleteActiveOwner", deployed(model.StatusActive), model.ActionComplete, model.RoleOwner, true},
		{"CompleteActiveTenant", deployed(model.StatusActive), model.ActionComplete, model.RoleTenant, true},
		{"CompleteSigned", signed, model.ActionComplete, model.RoleOwner, false},
		{"CancelPending", agreement(model.StatusPending), model.ActionCancel, model.RoleTenant, true},
		{"CancelSigned", signed, model.ActionCancel, model.RoleOwner, true},
		{"CancelActive", deployed(model.StatusActive), model.ActionCancel, model.RoleTenant, true},
		{"CancelCompleted", deployed(model.StatusCompleted), model.ActionCancel, model.RoleOwner, false},
		{"CancelStranger", agreement(model.StatusPending), model.ActionCancel, model.RoleNone, false},
		{"DisputeActive", deployed(model.StatusActive), model.ActionDispute, model.RoleTenant, true},
		{"DisputeTwice", disputed, model.ActionDispute, model.RoleOwner, false},
		{"CompleteWhileDisputed", disputed, model.ActionComplete, model.RoleOwner, true},
		{"DisputePending", agreement(model.StatusPending), model.ActionDispute, model.RoleOwner, false},
		{"UnknownAction", deployed(model.StatusActive), model.Action("expire"), model.RoleOwner, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := CanPerform(tc.a, tc.action, tc.role); got != tc.want {
				t.Errorf("CanPerform(%s, %s, %s) = %v, want %v (reason %q)",
					tc.a.Status, tc.action, tc.role, got, tc.want, Decide(tc.a, tc.action, tc.role).Reason)
			}
		})
	}
}

func TestCanPerform_Pure(t *testing.T) {
	a := agreement(model.StatusPending)
	before := *a
	first := Decide(a, model.ActionSign, model.RoleTenant)
	for i := 0; i < 100; i++ {
		if got := Decide(a, model.ActionSign, model.RoleTenant); got != first {
			t.Fatalf("call %d: Decide() = %+v, want %+v", i, got, first)
		}
	}
	if !reflect.DeepEqual(*a, before) {
		t.Error("Decide mutated the agreement")
	}
}

func TestDecide_Reason(t *testing.T) {
	d := Decide(agreement(model.StatusSigned), model.ActionDeploy, model.RoleTenant)
	if d.Allowed {
		t.Fatal("expected tenant deploy to be refused")
	}
	if d.Reason != "tenant may not deploy" {
		t.Errorf("Reason = %q", d.Reason)
	}
	if d := Decide(nil, model.ActionSign, model.RoleOwner); d.Allowed || d.Reason == "" {
		t.Errorf("Decide(nil) = %+v, want refusal with reason", d)
	}
}

func TestRecommend(t *testing.T) {
	active := agreement(model.StatusActive)
	active.LedgerAddress = "0xabc"
	active.OwnerSignature, active.TenantSignature = "o", "t"
	signed := agreement(model.StatusSigned)
	signed.OwnerSignature, signed.TenantSignature = "o", "t"

	for _, tc := range []struct {
		name string
		a    *model.Agreement
		role model.Role
		want model.Action
	}{
		{"PendingTenantSigns", agreement(model.StatusPending), model.RoleTenant, model.ActionSign},
		{"SignedOwnerDeploys", signed, model.RoleOwner, model.ActionDeploy},
		{"SignedTenantCancels", signed, model.RoleTenant, model.ActionCancel},
		{"ActiveTenantPays", active, model.RoleTenant, model.ActionPayDeposit},
		{"ActiveOwnerCompletes", active, model.RoleOwner, model.ActionComplete},
		{"CompletedNothing", agreement(model.StatusCompleted), model.RoleOwner, ""},
		{"StrangerNothing", agreement(model.StatusPending), model.RoleNone, ""},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := Recommend(tc.a, tc.role); got != tc.want {
				t.Errorf("Recommend() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestRecommendWith_MissingContractNeverSuggestsDeposit(t *testing.T) {
	a := agreement(model.StatusActive)
	a.LedgerAddress = "0xabc"
	a.OwnerSignature, a.TenantSignature = "o", "t"

	for _, fact := range []LedgerFact{LedgerMissing, LedgerConflict} {
		for _, role := range []model.Role{model.RoleOwner, model.RoleTenant, model.RoleNone} {
			got := RecommendWith(a, role, fact)
			if got == model.ActionPayDeposit {
				t.Errorf("RecommendWith(%s, %s) suggested pay_deposit", role, fact)
			}
			if got != "" && LedgerAffecting(got, a) {
				t.Errorf("RecommendWith(%s, %s) = %s, a ledger-affecting action", role, fact, got)
			}
		}
	}
	if got := RecommendWith(a, model.RoleTenant, LedgerDeployed); got != model.ActionPayDeposit {
		t.Errorf("RecommendWith(deployed) = %q, want pay_deposit", got)
	}
}

func TestAllowed(t *testing.T) {
	a := agreement(model.StatusActive)
	a.LedgerAddress = "0xabc"
	want := []model.Action{model.ActionPayDeposit, model.ActionComplete, model.ActionCancel, model.ActionDispute}
	if got := Allowed(a, model.RoleTenant); !reflect.DeepEqual(got, want) {
		t.Errorf("Allowed() = %v, want %v", got, want)
	}
	if got := Allowed(a, model.RoleNone); got != nil {
		t.Errorf("Allowed(none) = %v, want nil", got)
	}
}

func TestLedgerAffecting(t *testing.T) {
	offChain := agreement(model.StatusActive)
	onChain := agreement(model.StatusActive)
	onChain.LedgerAddress = "0xabc"
	for _, tc := range []struct {
		action model.Action
		a      *model.Agreement
		want   bool
	}{
		{model.ActionSign, onChain, false},
		{model.ActionDeploy, offChain, true},
		{model.ActionPayDeposit, onChain, true},
		{model.ActionComplete, offChain, false},
		{model.ActionComplete, onChain, true},
		{model.ActionCancel, offChain, false},
		{model.ActionCancel, onChain, true},
		{model.ActionDispute, onChain, false},
	} {
		if got := LedgerAffecting(tc.action, tc.a); got != tc.want {
			t.Errorf("LedgerAffecting(%s, deployed=%v) = %v, want %v", tc.action, tc.a.IsDeployed(), got, tc.want)
		}
	}
}
