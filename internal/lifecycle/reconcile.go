package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alfredjeanlab/leasebridge/internal/events"
	"github.com/alfredjeanlab/leasebridge/internal/ledger"
	"github.com/alfredjeanlab/leasebridge/internal/model"
	"github.com/alfredjeanlab/leasebridge/internal/permission"
)

// Report is the result of comparing an agreement's record with the ledger.
type Report struct {
	Agreement *model.Agreement       `json:"agreement"`
	Ledger    *ledger.AgreementState `json:"ledger,omitempty"`
	Fact      string                 `json:"fact"`
	// Drift describes the disagreement found by this read, if any.
	Drift       string                `json:"drift,omitempty"`
	Conflict    *Conflict             `json:"conflict,omitempty"`
	OpenEntries []*model.JournalEntry `json:"openEntries,omitempty"`

	fact permission.LedgerFact
}

// LedgerFact returns what the ledger read established.
func (r *Report) LedgerFact() permission.LedgerFact { return r.fact }

// Reconcile reads both sides of the agreement. Drift that no rule explains
// raises a ReconciliationConflict, returned together with the report.
// Neither side is ever modified.
func (c *Coordinator) Reconcile(ctx context.Context, agreementID string) (*Report, error) {
	const op = "lifecycle.Reconcile"
	release, err := c.acquire(op, agreementID)
	if err != nil {
		return nil, err
	}
	defer release()

	rep, err := c.inspect(ctx, agreementID)
	if err != nil {
		return nil, err
	}
	if rep.Drift != "" {
		rep.Conflict = c.raiseDrift(ctx, rep)
	}
	if rep.Conflict != nil {
		return rep, model.Errorf(model.KindReconciliationConflict, op, "agreement %s: %s", agreementID, rep.Conflict.Reason)
	}
	return rep, nil
}

// Inspect reads both sides of the agreement like Reconcile but never raises
// a conflict and does not mark the agreement busy.
func (c *Coordinator) Inspect(ctx context.Context, agreementID string) (*Report, error) {
	return c.inspect(ctx, agreementID)
}

// inspect builds a report without raising anything.
func (c *Coordinator) inspect(ctx context.Context, agreementID string) (*Report, error) {
	a, err := c.records.Get(ctx, agreementID)
	if err != nil {
		return nil, err
	}
	open, err := c.journal.ListEntries(ctx, model.JournalFilter{
		AgreementID: agreementID,
		States:      []model.JournalState{model.JournalPending, model.JournalConflict},
	})
	if err != nil {
		return nil, fmt.Errorf("list journal entries: %w", err)
	}

	rep := &Report{Agreement: a, OpenEntries: open, Conflict: c.conflicts.get(agreementID)}
	if a.IsDeployed() {
		st, err := c.ledger.ReadState(ctx, common.HexToAddress(a.LedgerAddress))
		switch {
		case errors.Is(err, ledger.ErrNoContract):
			rep.fact = permission.LedgerMissing
			rep.Drift = fmt.Sprintf("record references %s but no contract is deployed there", a.LedgerAddress)
		case err != nil:
			return nil, err
		default:
			rep.Ledger = st
			rep.fact = permission.LedgerDeployed
			if drift := compareDeployed(a, st); drift != "" {
				rep.fact = permission.LedgerConflict
				rep.Drift = drift
			}
		}
	} else {
		switch {
		case a.Status == model.StatusActive:
			rep.fact = permission.LedgerMissing
			rep.Drift = "record is active but references no contract"
		default:
			for _, e := range open {
				if e.Action != model.ActionDeploy {
					continue
				}
				addr := e.LedgerAddress
				if addr == "" {
					addr = c.deployedBy(ctx, e)
				}
				if addr != "" {
					rep.fact = permission.LedgerConflict
					rep.Drift = fmt.Sprintf("contract %s was deployed but the record was never activated", addr)
					break
				}
			}
		}
	}
	if rep.Conflict != nil && rep.fact != permission.LedgerMissing {
		rep.fact = permission.LedgerConflict
	}
	rep.Fact = rep.fact.String()
	return rep, nil
}

// compareDeployed applies the agreement rules between a record and its
// contract and describes any disagreement.
func compareDeployed(a *model.Agreement, st *ledger.AgreementState) string {
	if a.TenantAddress != "" && common.IsHexAddress(a.TenantAddress) &&
		common.HexToAddress(a.TenantAddress) != st.Tenant {
		return fmt.Sprintf("contract tenant %s differs from record tenant %s", st.Tenant.Hex(), a.TenantAddress)
	}
	switch a.Status {
	case model.StatusActive:
		if !st.StatusCode.Open() {
			return fmt.Sprintf("record is active but the contract is %s", st.StatusCode)
		}
	case model.StatusCompleted:
		if st.StatusCode != ledger.StatusCompleted {
			return fmt.Sprintf("record is completed but the contract is %s", st.StatusCode)
		}
	case model.StatusCancelled:
		if st.StatusCode != ledger.StatusCancelled {
			return fmt.Sprintf("record is cancelled but the contract is %s", st.StatusCode)
		}
	default:
		return fmt.Sprintf("record is %s but already references contract %s", a.Status, st.Address.Hex())
	}
	return ""
}

func (c *Coordinator) raiseDrift(ctx context.Context, rep *Report) *Conflict {
	a := rep.Agreement
	if cur := c.conflicts.get(a.ID); cur != nil && strings.Contains(cur.Reason, rep.Drift) {
		return cur
	}
	var ids []string
	for _, e := range rep.OpenEntries {
		ids = append(ids, e.ID)
	}
	cf := c.conflicts.raise(&Conflict{
		AgreementID:   a.ID,
		Reason:        rep.Drift,
		JournalIDs:    ids,
		LedgerAddress: a.LedgerAddress,
		RaisedAt:      c.now().UTC(),
	})
	c.logger.Warn("ledger drift detected", "agreement_id", a.ID, "reason", rep.Drift)
	c.publish(context.WithoutCancel(ctx), events.TopicConflictRaised, events.ConflictRaised{
		AgreementID:   a.ID,
		Reason:        rep.Drift,
		LedgerAddress: a.LedgerAddress,
	})
	return cf
}

// Recommendation is the next step for one identity on one agreement.
type Recommendation struct {
	AgreementID string         `json:"agreementId"`
	Role        model.Role     `json:"role"`
	Status      model.Status   `json:"status"`
	Next        model.Action   `json:"next,omitempty"`
	Allowed     []model.Action `json:"allowed,omitempty"`
	Fact        string         `json:"fact"`
	Conflict    *Conflict      `json:"conflict,omitempty"`
}

// Recommend returns the single next action for identityID, taking a fresh
// ledger read into account: when the ledger contradicts the record no
// ledger-affecting action is suggested.
func (c *Coordinator) Recommend(ctx context.Context, agreementID, identityID string) (*Recommendation, error) {
	rep, err := c.inspect(ctx, agreementID)
	if err != nil {
		return nil, err
	}
	a := rep.Agreement
	role := permission.RoleFor(a, identityID)
	rec := &Recommendation{
		AgreementID: a.ID,
		Role:        role,
		Status:      a.EffectiveStatus(c.now()),
		Fact:        rep.Fact,
		Conflict:    rep.Conflict,
	}
	if rec.Status == model.StatusExpired {
		return rec, nil
	}
	rec.Next = permission.RecommendWith(a, role, rep.fact)
	for _, action := range permission.Allowed(a, role) {
		if (rep.fact == permission.LedgerMissing || rep.fact == permission.LedgerConflict) && permission.LedgerAffecting(action, a) {
			continue
		}
		rec.Allowed = append(rec.Allowed, action)
	}
	return rec, nil
}

// Resolution is how an open conflict is closed.
type Resolution string

const (
	// ResolutionRetryPersist replays the journaled record patches. The
	// ledger is only read, to confirm writes whose outcome was unknown.
	ResolutionRetryPersist Resolution = "retry_persist"
	// ResolutionAcknowledge closes the conflict after the disagreement was
	// fixed by other means.
	ResolutionAcknowledge Resolution = "acknowledge"
)

// IsValid checks whether the resolution is a known value.
func (r Resolution) IsValid() bool {
	return r == ResolutionRetryPersist || r == ResolutionAcknowledge
}

// Resolve closes the agreement's conflict. With ResolutionRetryPersist the
// conflict stays open if any replay fails.
func (c *Coordinator) Resolve(ctx context.Context, agreementID string, res Resolution) (*Report, error) {
	const op = "lifecycle.Resolve"
	if !res.IsValid() {
		return nil, model.Errorf(model.KindInvalidInput, op, "unknown resolution %q", res)
	}
	release, err := c.acquire(op, agreementID)
	if err != nil {
		return nil, err
	}
	defer release()

	open, err := c.journal.ListEntries(ctx, model.JournalFilter{
		AgreementID: agreementID,
		States:      []model.JournalState{model.JournalPending, model.JournalConflict},
	})
	if err != nil {
		return nil, fmt.Errorf("list journal entries: %w", err)
	}
	if len(open) == 0 && c.conflicts.get(agreementID) == nil {
		return nil, model.Errorf(model.KindInvalidInput, op, "agreement %s has no open conflict", agreementID)
	}

	switch res {
	case ResolutionRetryPersist:
		if len(open) == 0 {
			return nil, model.Errorf(model.KindInvalidInput, op, "agreement %s has nothing to replay; acknowledge instead", agreementID)
		}
		a, err := c.records.Get(ctx, agreementID)
		if err != nil {
			return nil, err
		}
		for _, e := range open {
			if err := c.confirm(ctx, e); err != nil {
				e.LastError = err.Error()
				cf := c.raiseConflict(ctx, e, err.Error())
				return &Report{Agreement: a, Conflict: cf, OpenEntries: open},
					model.E(model.KindReconciliationConflict, op, fmt.Errorf("journal entry %s not replayed: %w", e.ID, err))
			}
		}
		// Replays start from a clean slate: the registry entry is rebuilt
		// by persist if anything fails again.
		c.conflicts.clear(agreementID)
		for _, e := range open {
			e.Attempts = 0
			e.LastError = ""
			updated, err := c.persist(ctx, a, e)
			if err != nil {
				return &Report{Agreement: a, Conflict: c.conflicts.get(agreementID), OpenEntries: open}, err
			}
			c.settle(ctx, e, model.JournalPersisted, string(res))
			a = updated
		}
	case ResolutionAcknowledge:
		for _, e := range open {
			c.settle(ctx, e, model.JournalResolved, string(res))
		}
		c.conflicts.clear(agreementID)
	}

	c.logger.Info("conflict resolved", "agreement_id", agreementID, "resolution", res, "entries", len(open))
	c.publish(context.WithoutCancel(ctx), events.TopicConflictResolved, events.ConflictResolved{
		AgreementID: agreementID,
		Resolution:  string(res),
	})
	return c.inspect(ctx, agreementID)
}

// confirm checks a journal entry whose transaction was never seen confirmed
// against the ledger. When it landed the entry gains its block number and,
// for a deploy, the contract address from the AgreementCreated event. Any
// other outcome is returned as an error and the entry must not be replayed.
func (c *Coordinator) confirm(ctx context.Context, e *model.JournalEntry) error {
	if e.BlockNumber != 0 || e.TxHash == "" {
		return nil
	}
	st, err := c.ledger.Lookup(ctx, common.HexToHash(e.TxHash))
	if err != nil {
		return fmt.Errorf("look up transaction %s: %w", e.TxHash, err)
	}
	switch st.State {
	case ledger.TxConfirmed:
	case ledger.TxReverted:
		return fmt.Errorf("transaction %s reverted in block %d; the record is left unchanged", e.TxHash, st.Receipt.BlockNumber)
	default:
		return fmt.Errorf("transaction %s is %s on the ledger", e.TxHash, st.State)
	}
	if e.Action == model.ActionDeploy && e.LedgerAddress == "" {
		if st.Created == (common.Address{}) {
			return fmt.Errorf("transaction %s emitted no AgreementCreated event", e.TxHash)
		}
		e.LedgerAddress = st.Created.Hex()
	}
	e.BlockNumber = st.Receipt.BlockNumber
	e.UpdatedAt = c.now().UTC()
	if err := c.journal.UpdateEntry(context.WithoutCancel(ctx), e); err != nil {
		c.logger.Error("failed to update journal entry", "journal_id", e.ID, "error", err)
	}
	c.logger.Info("unconfirmed ledger write confirmed",
		"agreement_id", e.AgreementID, "action", e.Action, "tx_hash", e.TxHash, "block_number", e.BlockNumber)
	return nil
}

// deployedBy returns the contract address a journaled deploy created, read
// from its receipt, or "" when the ledger does not confirm one.
func (c *Coordinator) deployedBy(ctx context.Context, e *model.JournalEntry) string {
	if e.TxHash == "" {
		return ""
	}
	st, err := c.ledger.Lookup(ctx, common.HexToHash(e.TxHash))
	if err != nil {
		c.logger.Warn("failed to look up deploy transaction", "journal_id", e.ID, "tx_hash", e.TxHash, "error", err)
		return ""
	}
	if st.State != ledger.TxConfirmed || st.Created == (common.Address{}) {
		return ""
	}
	return st.Created.Hex()
}

// Recover surfaces journal entries left open by a previous run as
// conflicts. Pending entries mean the process stopped between the ledger
// write and the record patch. It returns the number of entries surfaced.
func (c *Coordinator) Recover(ctx context.Context) (int, error) {
	open, err := c.journal.ListEntries(ctx, model.JournalFilter{
		States: []model.JournalState{model.JournalPending, model.JournalConflict},
	})
	if err != nil {
		return 0, fmt.Errorf("list open journal entries: %w", err)
	}
	for _, e := range open {
		reason := e.LastError
		if e.State == model.JournalPending || reason == "" {
			reason = "ledger write not persisted before restart"
		}
		c.raiseConflict(ctx, e, reason)
	}
	if len(open) > 0 {
		c.logger.Warn("surfaced unfinished ledger writes", "count", len(open))
	}
	return len(open), nil
}

// Conflicts lists the open conflicts.
func (c *Coordinator) Conflicts() []*Conflict {
	return c.conflicts.list()
}

// Conflict returns the agreement's open conflict, or nil.
func (c *Coordinator) Conflict(agreementID string) *Conflict {
	return c.conflicts.get(agreementID)
}

// Journal lists journal entries.
func (c *Coordinator) Journal(ctx context.Context, filter model.JournalFilter) ([]*model.JournalEntry, error) {
	return c.journal.ListEntries(ctx, filter)
}
