package lifecycle

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alfredjeanlab/leasebridge/internal/ledger"
	"github.com/alfredjeanlab/leasebridge/internal/model"
	"github.com/alfredjeanlab/leasebridge/internal/recordstore"
)

func (c *Coordinator) sign(ctx context.Context, a *model.Agreement, role model.Role, req Request) (*Outcome, error) {
	const op = "lifecycle.sign"
	sig := strings.TrimSpace(req.Signature)
	if sig == "" {
		if st := c.wallet.Snapshot(); st.Connected {
			sig = st.Account.Hex()
		}
	}
	if sig == "" {
		return nil, model.Errorf(model.KindInvalidInput, op, "signature required: pass one or connect a wallet")
	}
	updated, err := c.records.Sign(ctx, a.ID, recordstore.NewWrite(a.Version), sig)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("agreement signed", "agreement_id", a.ID, "role", role, "status", updated.Status)
	return &Outcome{Agreement: updated}, nil
}

// deployArgs are the factory arguments derived from the record.
type deployArgs struct {
	tenant  common.Address
	itemID  *big.Int
	days    uint64
	deposit *big.Int
	amount  *big.Int
}

func deployArgsFor(a *model.Agreement) (*deployArgs, error) {
	const op = "lifecycle.deploy"
	if !common.IsHexAddress(a.TenantAddress) {
		return nil, model.Errorf(model.KindInvalidInput, op, "tenant has no linked wallet address")
	}
	days := a.Period.DurationDays()
	if days == 0 {
		return nil, model.Errorf(model.KindInvalidInput, op, "rental period is empty")
	}
	amount, err := model.ParseEther(a.TotalPrice)
	if err != nil {
		return nil, model.E(model.KindInvalidInput, op, err)
	}
	deposit, err := model.ParseEther(a.Deposit)
	if err != nil {
		return nil, model.E(model.KindInvalidInput, op, err)
	}
	return &deployArgs{
		tenant:  common.HexToAddress(a.TenantAddress),
		itemID:  ledger.ItemID(a.ItemRef),
		days:    days,
		deposit: deposit,
		amount:  amount,
	}, nil
}

// deploy creates the contract (phase 1, never retried) and then activates
// the record with the obtained address (phase 2, bounded retries).
func (c *Coordinator) deploy(ctx context.Context, a *model.Agreement) (*Outcome, error) {
	args, err := deployArgsFor(a)
	if err != nil {
		return nil, err
	}
	gen, err := c.ledgerReady(ctx)
	if err != nil {
		return nil, err
	}

	dep, err := c.ledger.CreateAgreement(ctx, args.tenant, args.itemID, args.days, args.deposit, args.amount)
	if err != nil {
		var rcpt *ledger.Receipt
		if dep != nil {
			rcpt = &dep.Receipt
		}
		return c.ledgerFailed(ctx, a, model.ActionDeploy, gen, rcpt, "", err)
	}

	entry := c.journalWrite(ctx, a, model.ActionDeploy, gen, &dep.Receipt, dep.Address.Hex(), "")
	return c.afterLedgerWrite(ctx, a, entry, gen)
}

func (c *Coordinator) payDeposit(ctx context.Context, a *model.Agreement) (*Outcome, error) {
	const op = "lifecycle.payDeposit"
	amount, err := model.ParseEther(a.Deposit)
	if err != nil {
		return nil, model.E(model.KindInvalidInput, op, err)
	}
	gen, err := c.ledgerReady(ctx)
	if err != nil {
		return nil, err
	}
	rcpt, err := c.ledger.PayDeposit(ctx, common.HexToAddress(a.LedgerAddress), amount)
	if err != nil {
		return c.ledgerFailed(ctx, a, model.ActionPayDeposit, gen, rcpt, "", err)
	}
	entry := c.journalWrite(ctx, a, model.ActionPayDeposit, gen, rcpt, a.LedgerAddress, "")
	return c.afterLedgerWrite(ctx, a, entry, gen)
}

func (c *Coordinator) complete(ctx context.Context, a *model.Agreement) (*Outcome, error) {
	if !a.IsDeployed() {
		updated, err := c.records.Complete(ctx, a.ID, recordstore.NewWrite(a.Version), "")
		if err != nil {
			return nil, err
		}
		return &Outcome{Agreement: updated}, nil
	}
	gen, err := c.ledgerReady(ctx)
	if err != nil {
		return nil, err
	}
	rcpt, err := c.ledger.Complete(ctx, common.HexToAddress(a.LedgerAddress))
	if err != nil {
		return c.ledgerFailed(ctx, a, model.ActionComplete, gen, rcpt, "", err)
	}
	entry := c.journalWrite(ctx, a, model.ActionComplete, gen, rcpt, a.LedgerAddress, "")
	return c.afterLedgerWrite(ctx, a, entry, gen)
}

func (c *Coordinator) cancel(ctx context.Context, a *model.Agreement, reason string) (*Outcome, error) {
	if !a.IsDeployed() {
		updated, err := c.records.Cancel(ctx, a.ID, recordstore.NewWrite(a.Version), reason, "")
		if err != nil {
			return nil, err
		}
		return &Outcome{Agreement: updated}, nil
	}
	gen, err := c.ledgerReady(ctx)
	if err != nil {
		return nil, err
	}
	rcpt, err := c.ledger.Cancel(ctx, common.HexToAddress(a.LedgerAddress), reason)
	if err != nil {
		return c.ledgerFailed(ctx, a, model.ActionCancel, gen, rcpt, reason, err)
	}
	entry := c.journalWrite(ctx, a, model.ActionCancel, gen, rcpt, a.LedgerAddress, reason)
	return c.afterLedgerWrite(ctx, a, entry, gen)
}

func (c *Coordinator) dispute(ctx context.Context, a *model.Agreement, req Request) (*Outcome, error) {
	d, err := c.records.Dispute(ctx, a.ID, recordstore.NewWrite(a.Version),
		strings.TrimSpace(req.Reason), strings.TrimSpace(req.Description))
	if err != nil {
		return nil, err
	}
	updated, err := c.records.Get(ctx, a.ID)
	if err != nil {
		c.logger.Warn("failed to re-read disputed agreement", "agreement_id", a.ID, "error", err)
		updated = a.Clone()
		updated.Disputed = true
	}
	return &Outcome{Agreement: updated, Dispute: d}, nil
}

// afterLedgerWrite applies a journaled ledger write to the record unless the
// wallet session moved on while the transaction was in flight.
func (c *Coordinator) afterLedgerWrite(ctx context.Context, a *model.Agreement, entry *model.JournalEntry, gen uint64) (*Outcome, error) {
	const op = "lifecycle.apply"
	out := &Outcome{Agreement: a, TxHash: entry.TxHash}
	if c.stale(gen) {
		cf := c.raiseConflict(ctx, entry, "wallet session changed while the transaction was in flight")
		out.Conflict = cf
		return out, model.Errorf(model.KindReconciliationConflict, op,
			"result of %s on %s not applied: %s", entry.Action, a.ID, cf.Reason)
	}

	updated, err := c.persist(context.WithoutCancel(ctx), a, entry)
	if err != nil {
		out.Conflict = c.conflicts.get(a.ID)
		return out, err
	}
	out.Agreement = updated
	return out, nil
}

// ledgerFailed handles a failed ledger call. Only a confirmation timeout
// leaves something to reconcile: the transaction was broadcast and may
// still land. The entry is journaled without a block number (and, for a
// deploy, without a contract address) until a lookup confirms it.
func (c *Coordinator) ledgerFailed(ctx context.Context, a *model.Agreement, action model.Action, gen uint64, rcpt *ledger.Receipt, reason string, err error) (*Outcome, error) {
	if !isKind(err, model.KindConfirmationTimeout) || rcpt == nil {
		return nil, err
	}
	entry := c.journalWrite(ctx, a, action, gen, &ledger.Receipt{TxHash: rcpt.TxHash}, a.LedgerAddress, reason)
	cf := c.raiseConflict(ctx, entry, "transaction not confirmed in time: "+rcpt.TxHash.Hex())
	return &Outcome{Agreement: a, TxHash: rcpt.TxHash.Hex(), Conflict: cf}, err
}
