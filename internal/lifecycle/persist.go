package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alfredjeanlab/leasebridge/internal/events"
	"github.com/alfredjeanlab/leasebridge/internal/idgen"
	"github.com/alfredjeanlab/leasebridge/internal/ledger"
	"github.com/alfredjeanlab/leasebridge/internal/model"
	"github.com/alfredjeanlab/leasebridge/internal/recordstore"
)

// journalWrite records a ledger write before its record patch is attempted.
// A journal failure is logged, not returned: the ledger write already
// happened and the entry is still carried in memory.
func (c *Coordinator) journalWrite(ctx context.Context, a *model.Agreement, action model.Action, gen uint64, rcpt *ledger.Receipt, ledgerAddr, reason string) *model.JournalEntry {
	id, err := idgen.JournalID()
	if err != nil {
		id = fmt.Sprintf("%s%d", idgen.JournalPrefix, c.now().UnixNano())
	}
	now := c.now().UTC()
	e := &model.JournalEntry{
		ID:             id,
		AgreementID:    a.ID,
		Action:         action,
		State:          model.JournalPending,
		LedgerAddress:  ledgerAddr,
		Reason:         reason,
		IdempotencyKey: recordstore.NewWrite(0).IdempotencyKey,
		Generation:     gen,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if rcpt != nil {
		e.TxHash = rcpt.TxHash.Hex()
		e.BlockNumber = rcpt.BlockNumber
	}
	if err := c.journal.CreateEntry(context.WithoutCancel(ctx), e); err != nil {
		c.logger.Error("failed to journal ledger write",
			"agreement_id", a.ID, "action", action, "tx_hash", e.TxHash, "error", err)
	}
	return e
}

// patch is the record store write that follows a ledger write.
type patch struct {
	apply func(ctx context.Context, w recordstore.Write) (*model.Agreement, error)
	// applied reports whether a re-read record already reflects the write.
	applied func(a *model.Agreement) bool
}

// patchFor rebuilds the phase-2 patch from a journal entry alone, so a
// replay never needs the ledger.
func (c *Coordinator) patchFor(e *model.JournalEntry) (*patch, error) {
	id := e.AgreementID
	switch e.Action {
	case model.ActionDeploy:
		if e.LedgerAddress == "" {
			return nil, fmt.Errorf("journal entry %s has no contract address", e.ID)
		}
		return &patch{
			apply: func(ctx context.Context, w recordstore.Write) (*model.Agreement, error) {
				return c.records.Activate(ctx, id, w, e.LedgerAddress, e.TxHash)
			},
			applied: func(a *model.Agreement) bool {
				return strings.EqualFold(a.LedgerAddress, e.LedgerAddress) && a.ReachedActive()
			},
		}, nil
	case model.ActionPayDeposit:
		return &patch{
			apply: func(ctx context.Context, w recordstore.Write) (*model.Agreement, error) {
				return c.records.NotifyDeposit(ctx, id, w, e.TxHash)
			},
			applied: func(a *model.Agreement) bool {
				return strings.EqualFold(a.DepositTxHash, e.TxHash)
			},
		}, nil
	case model.ActionComplete:
		return &patch{
			apply: func(ctx context.Context, w recordstore.Write) (*model.Agreement, error) {
				return c.records.Complete(ctx, id, w, e.TxHash)
			},
			applied: func(a *model.Agreement) bool { return a.Status == model.StatusCompleted },
		}, nil
	case model.ActionCancel:
		return &patch{
			apply: func(ctx context.Context, w recordstore.Write) (*model.Agreement, error) {
				return c.records.Cancel(ctx, id, w, e.Reason, e.TxHash)
			},
			applied: func(a *model.Agreement) bool { return a.Status == model.StatusCancelled },
		}, nil
	}
	return nil, fmt.Errorf("journal entry %s: action %q has no record patch", e.ID, e.Action)
}

// persist runs the phase-2 patch for entry with bounded retries. A version
// conflict triggers a re-read: if the record already reflects the write the
// patch is done, otherwise the next attempt uses the fresh version. The
// ledger is never called. Exhaustion raises a ReconciliationConflict.
func (c *Coordinator) persist(ctx context.Context, a *model.Agreement, e *model.JournalEntry) (*model.Agreement, error) {
	const op = "lifecycle.persist"
	p, err := c.patchFor(e)
	if err != nil {
		c.raiseConflict(ctx, e, err.Error())
		return nil, model.E(model.KindReconciliationConflict, op, err)
	}

	w := recordstore.Write{IdempotencyKey: e.IdempotencyKey}
	if a != nil {
		w.Version = a.Version
	}
	var lastErr error
retry:
	for attempt := 0; attempt < c.persistAttempts; attempt++ {
		if attempt > 0 {
			c.metrics.PersistRetries.Inc()
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				break retry
			case <-time.After(c.persistBackoff << (attempt - 1)):
			}
		}
		e.Attempts++

		updated, err := p.apply(ctx, w)
		if err == nil {
			c.settle(ctx, e, model.JournalPersisted, "")
			return updated, nil
		}
		lastErr = err
		c.logger.Warn("record patch failed",
			"agreement_id", e.AgreementID, "action", e.Action, "attempt", e.Attempts, "error", err)

		if recordstore.IsConflict(err) || recordstore.IsNotFound(err) {
			fresh, gerr := c.records.Get(ctx, e.AgreementID)
			if gerr != nil {
				continue
			}
			if p.applied(fresh) {
				c.settle(ctx, e, model.JournalPersisted, "")
				return fresh, nil
			}
			w.Version = fresh.Version
		}
	}

	e.LastError = lastErr.Error()
	cf := c.raiseConflict(ctx, e, fmt.Sprintf("record patch failed after %d attempts: %v", e.Attempts, lastErr))
	return nil, model.E(model.KindReconciliationConflict, op,
		fmt.Errorf("%s on %s landed on the ledger (tx %s) but the record was not updated: %s: %w",
			e.Action, e.AgreementID, e.TxHash, cf.Reason, lastErr))
}

// settle moves a journal entry to state and stores it.
func (c *Coordinator) settle(ctx context.Context, e *model.JournalEntry, state model.JournalState, resolution string) {
	now := c.now().UTC()
	e.State = state
	e.UpdatedAt = now
	if resolution != "" {
		e.Resolution = resolution
	}
	if state == model.JournalResolved || state == model.JournalPersisted {
		e.ResolvedAt = &now
	}
	if err := c.journal.UpdateEntry(context.WithoutCancel(ctx), e); err != nil {
		c.logger.Error("failed to update journal entry", "journal_id", e.ID, "state", state, "error", err)
	}
}

// Conflict is a disagreement between ledger and record store that needs an
// explicit Resolve. Ledger-affecting actions on the agreement are withheld
// while it is open.
type Conflict struct {
	AgreementID   string       `json:"agreementId"`
	Action        model.Action `json:"action,omitempty"`
	Reason        string       `json:"reason"`
	JournalIDs    []string     `json:"journalIds,omitempty"`
	LedgerAddress string       `json:"ledgerAddress,omitempty"`
	TxHash        string       `json:"txHash,omitempty"`
	RaisedAt      time.Time    `json:"raisedAt"`
}

// raiseConflict marks the journal entry conflicted, opens (or extends) the
// agreement's conflict and announces it.
func (c *Coordinator) raiseConflict(ctx context.Context, e *model.JournalEntry, reason string) *Conflict {
	if e.LastError == "" {
		e.LastError = reason
	}
	c.settle(ctx, e, model.JournalConflict, "")
	cf := c.conflicts.raise(&Conflict{
		AgreementID:   e.AgreementID,
		Action:        e.Action,
		Reason:        reason,
		JournalIDs:    []string{e.ID},
		LedgerAddress: e.LedgerAddress,
		TxHash:        e.TxHash,
		RaisedAt:      c.now().UTC(),
	})
	c.logger.Warn("reconciliation conflict raised",
		"agreement_id", e.AgreementID, "action", e.Action, "journal_id", e.ID, "tx_hash", e.TxHash, "reason", reason)
	c.publish(context.WithoutCancel(ctx), events.TopicConflictRaised, events.ConflictRaised{
		AgreementID:   e.AgreementID,
		Action:        e.Action,
		Reason:        reason,
		JournalID:     e.ID,
		LedgerAddress: e.LedgerAddress,
		TxHash:        e.TxHash,
	})
	return cf
}

// conflictRegistry holds the open conflicts, one per agreement.
type conflictRegistry struct {
	mu      sync.RWMutex
	open    map[string]*Conflict
	metrics *Metrics
}

func newConflictRegistry(m *Metrics) *conflictRegistry {
	return &conflictRegistry{open: make(map[string]*Conflict), metrics: m}
}

// raise opens cf or merges it into the agreement's open conflict.
func (r *conflictRegistry) raise(cf *Conflict) *Conflict {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.open[cf.AgreementID]; ok {
		for _, id := range cf.JournalIDs {
			if !containsString(cur.JournalIDs, id) {
				cur.JournalIDs = append(cur.JournalIDs, id)
			}
		}
		if cf.Reason != "" && !strings.Contains(cur.Reason, cf.Reason) {
			cur.Reason += "; " + cf.Reason
		}
		return cloneConflict(cur)
	}
	r.open[cf.AgreementID] = cf
	r.metrics.ConflictsOpen.Set(float64(len(r.open)))
	return cloneConflict(cf)
}

func (r *conflictRegistry) get(agreementID string) *Conflict {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if cf, ok := r.open[agreementID]; ok {
		return cloneConflict(cf)
	}
	return nil
}

func (r *conflictRegistry) clear(agreementID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.open[agreementID]; !ok {
		return false
	}
	delete(r.open, agreementID)
	r.metrics.ConflictsOpen.Set(float64(len(r.open)))
	return true
}

func (r *conflictRegistry) list() []*Conflict {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Conflict, 0, len(r.open))
	for _, cf := range r.open {
		out = append(out, cloneConflict(cf))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgreementID < out[j].AgreementID })
	return out
}

func cloneConflict(cf *Conflict) *Conflict {
	c := *cf
	c.JournalIDs = append([]string(nil), cf.JournalIDs...)
	return &c
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
