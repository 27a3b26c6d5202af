// Package lifecycle coordinates agreement actions across the wallet, the
// ledger and the record store.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alfredjeanlab/leasebridge/internal/events"
	"github.com/alfredjeanlab/leasebridge/internal/ledger"
	"github.com/alfredjeanlab/leasebridge/internal/model"
	"github.com/alfredjeanlab/leasebridge/internal/permission"
	"github.com/alfredjeanlab/leasebridge/internal/recordstore"
	"github.com/alfredjeanlab/leasebridge/internal/store"
	"github.com/alfredjeanlab/leasebridge/internal/store/memory"
	"github.com/alfredjeanlab/leasebridge/internal/wallet"
)

// RecordStore is the off-chain agreement store. *recordstore.Client
// implements it.
type RecordStore interface {
	Get(ctx context.Context, id string) (*model.Agreement, error)
	Sign(ctx context.Context, id string, w recordstore.Write, signature string) (*model.Agreement, error)
	Activate(ctx context.Context, id string, w recordstore.Write, contractAddress, txHash string) (*model.Agreement, error)
	NotifyDeposit(ctx context.Context, id string, w recordstore.Write, txHash string) (*model.Agreement, error)
	Complete(ctx context.Context, id string, w recordstore.Write, txHash string) (*model.Agreement, error)
	Cancel(ctx context.Context, id string, w recordstore.Write, reason, txHash string) (*model.Agreement, error)
	Dispute(ctx context.Context, id string, w recordstore.Write, reason, description string) (*model.Dispute, error)
}

// Ledger is the on-chain agreement surface. *ledger.Client implements it.
type Ledger interface {
	CreateAgreement(ctx context.Context, tenant common.Address, itemID *big.Int, durationDays uint64, deposit, amount *big.Int) (*ledger.Deployment, error)
	ReadState(ctx context.Context, addr common.Address) (*ledger.AgreementState, error)
	PayDeposit(ctx context.Context, addr common.Address, amount *big.Int) (*ledger.Receipt, error)
	Complete(ctx context.Context, addr common.Address) (*ledger.Receipt, error)
	Cancel(ctx context.Context, addr common.Address, reason string) (*ledger.Receipt, error)
	Lookup(ctx context.Context, hash common.Hash) (*ledger.TxStatus, error)
}

// Wallet is the view of the wallet session the coordinator needs.
// *wallet.Session implements it.
type Wallet interface {
	Snapshot() wallet.State
	Generation() uint64
	EnsureTargetChain(ctx context.Context) (wallet.State, error)
}

// Request is one caller-initiated action.
type Request struct {
	AgreementID string       `json:"agreementId"`
	Action      model.Action `json:"action"`
	// IdentityID is the signed-in application identity.
	IdentityID string `json:"identityId"`
	// Signature is the opaque token written by sign. When empty the
	// connected wallet address is used.
	Signature   string `json:"signature,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Description string `json:"description,omitempty"`
}

// Outcome reports what an action did. On failure it may still be non-nil,
// for example to carry the conflict raised after a successful ledger write.
type Outcome struct {
	Action      model.Action     `json:"action"`
	Agreement   *model.Agreement `json:"agreement,omitempty"`
	Dispute     *model.Dispute   `json:"dispute,omitempty"`
	TxHash      string           `json:"txHash,omitempty"`
	ExplorerURL string           `json:"explorerUrl,omitempty"`
	// Conflict is set when the action left the two sides disagreeing. It
	// stays open until Resolve.
	Conflict *Conflict    `json:"conflict,omitempty"`
	Next     model.Action `json:"next,omitempty"`
}

// Config tunes a Coordinator. Zero values fall back to defaults.
type Config struct {
	// PersistAttempts bounds the record store patch that follows a ledger
	// write.
	PersistAttempts int
	PersistBackoff  time.Duration
	Publisher       events.Publisher
	Metrics         *Metrics
	Logger          *slog.Logger
	Now             func() time.Time
}

// Coordinator runs agreement actions. It is safe for concurrent use; at
// most one action per agreement is in flight at a time.
type Coordinator struct {
	records RecordStore
	ledger  Ledger
	wallet  Wallet
	journal store.Journal

	persistAttempts int
	persistBackoff  time.Duration
	publisher       events.Publisher
	metrics         *Metrics
	logger          *slog.Logger
	now             func() time.Time

	busyMu sync.Mutex
	busy   map[string]struct{}

	conflicts *conflictRegistry
}

// NewCoordinator builds a coordinator. journal may be nil, in which case an
// in-memory journal is used.
func NewCoordinator(records RecordStore, l Ledger, w Wallet, journal store.Journal, cfg Config) *Coordinator {
	if journal == nil {
		journal = memory.New()
	}
	if cfg.PersistAttempts <= 0 {
		cfg.PersistAttempts = 4
	}
	if cfg.PersistBackoff <= 0 {
		cfg.PersistBackoff = 500 * time.Millisecond
	}
	if cfg.Publisher == nil {
		cfg.Publisher = &events.NoopPublisher{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Coordinator{
		records:         records,
		ledger:          l,
		wallet:          w,
		journal:         journal,
		persistAttempts: cfg.PersistAttempts,
		persistBackoff:  cfg.PersistBackoff,
		publisher:       cfg.Publisher,
		metrics:         cfg.Metrics,
		logger:          cfg.Logger.With("component", "lifecycle"),
		now:             cfg.Now,
		busy:            make(map[string]struct{}),
		conflicts:       newConflictRegistry(cfg.Metrics),
	}
}

// Metrics returns the coordinator's metrics.
func (c *Coordinator) Metrics() *Metrics { return c.metrics }

// Perform gates and executes req. Input errors are reported before anything
// else is touched; a second request for an agreement that already has one
// in flight fails with Busy.
func (c *Coordinator) Perform(ctx context.Context, req Request) (*Outcome, error) {
	const op = "lifecycle.Perform"
	start := c.now()

	if err := validateRequest(req); err != nil {
		c.metrics.observe(req.Action, err, start, c.now())
		return nil, err
	}
	release, err := c.acquire(op, req.AgreementID)
	if err != nil {
		c.metrics.observe(req.Action, err, start, c.now())
		return nil, err
	}
	defer release()

	out, err := c.perform(ctx, req)
	c.metrics.observe(req.Action, err, start, c.now())

	log := c.logger.With("agreement_id", req.AgreementID, "action", req.Action)
	pubCtx := context.WithoutCancel(ctx)
	if err != nil {
		log.Warn("action failed", "kind", model.KindOf(err), "error", err)
		c.publish(pubCtx, events.TopicAgreementFailed, events.ActionFailed{
			AgreementID: req.AgreementID,
			Action:      req.Action,
			Kind:        model.KindOf(err),
			Error:       err.Error(),
		})
		return out, err
	}

	log.Info("action completed", "tx_hash", out.TxHash, "status", out.Agreement.Status)
	if out.Dispute != nil {
		c.publish(pubCtx, events.TopicAgreementDisputed, events.DisputeRaised{Dispute: out.Dispute})
	} else {
		c.publish(pubCtx, events.TopicForAction(req.Action), events.AgreementChanged{
			Agreement: out.Agreement,
			Action:    req.Action,
			Actor:     req.IdentityID,
			TxHash:    out.TxHash,
		})
	}
	return out, nil
}

func (c *Coordinator) perform(ctx context.Context, req Request) (*Outcome, error) {
	const op = "lifecycle.Perform"
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a, err := c.records.Get(ctx, req.AgreementID)
	if err != nil {
		return nil, err
	}

	if st := a.EffectiveStatus(c.now()); st == model.StatusExpired {
		return nil, model.Errorf(model.KindNotPermitted, op, "agreement %s has expired", a.ID)
	}
	role := permission.RoleFor(a, req.IdentityID)
	if d := permission.Decide(a, req.Action, role); !d.Allowed {
		return nil, model.Errorf(model.KindNotPermitted, op, "%s", d.Reason)
	}
	if permission.LedgerAffecting(req.Action, a) {
		if cf := c.conflicts.get(a.ID); cf != nil {
			return &Outcome{Action: req.Action, Agreement: a, Conflict: cf},
				model.Errorf(model.KindReconciliationConflict, op, "agreement %s has an unresolved conflict: %s", a.ID, cf.Reason)
		}
	}

	var out *Outcome
	switch req.Action {
	case model.ActionSign:
		out, err = c.sign(ctx, a, role, req)
	case model.ActionDeploy:
		out, err = c.deploy(ctx, a)
	case model.ActionPayDeposit:
		out, err = c.payDeposit(ctx, a)
	case model.ActionComplete:
		out, err = c.complete(ctx, a)
	case model.ActionCancel:
		out, err = c.cancel(ctx, a, strings.TrimSpace(req.Reason))
	case model.ActionDispute:
		out, err = c.dispute(ctx, a, req)
	default:
		return nil, model.Errorf(model.KindInvalidInput, op, "unknown action %q", req.Action)
	}
	if out != nil {
		out.Action = req.Action
		if out.Agreement != nil {
			out.Next = permission.Recommend(out.Agreement, permission.RoleFor(out.Agreement, req.IdentityID))
		}
		if out.TxHash != "" && out.ExplorerURL == "" {
			out.ExplorerURL = wallet.ExplorerTxURL(c.wallet.Snapshot().ChainID, out.TxHash)
		}
	}
	return out, err
}

// validateRequest rejects malformed requests. Cancel and dispute reasons
// are checked here, before any ledger or store call.
func validateRequest(req Request) error {
	const op = "lifecycle.Perform"
	if strings.TrimSpace(req.AgreementID) == "" {
		return model.Errorf(model.KindInvalidInput, op, "agreement id is required")
	}
	if !req.Action.IsValid() {
		return model.Errorf(model.KindInvalidInput, op, "unknown action %q", req.Action)
	}
	switch req.Action {
	case model.ActionCancel:
		if strings.TrimSpace(req.Reason) == "" {
			return model.Errorf(model.KindInvalidInput, op, "cancel requires a reason")
		}
	case model.ActionDispute:
		if strings.TrimSpace(req.Reason) == "" {
			return model.Errorf(model.KindInvalidInput, op, "dispute requires a reason")
		}
	}
	return nil
}

// acquire marks the agreement busy. The returned func clears the mark.
func (c *Coordinator) acquire(op, agreementID string) (func(), error) {
	c.busyMu.Lock()
	defer c.busyMu.Unlock()
	if _, ok := c.busy[agreementID]; ok {
		return nil, model.Errorf(model.KindBusy, op, "an action on agreement %s is already in progress", agreementID)
	}
	c.busy[agreementID] = struct{}{}
	return func() {
		c.busyMu.Lock()
		delete(c.busy, agreementID)
		c.busyMu.Unlock()
	}, nil
}

// InFlight reports whether an action on the agreement is running.
func (c *Coordinator) InFlight(agreementID string) bool {
	c.busyMu.Lock()
	defer c.busyMu.Unlock()
	_, ok := c.busy[agreementID]
	return ok
}

func (c *Coordinator) publish(ctx context.Context, topic string, event any) {
	if err := c.publisher.Publish(ctx, topic, event); err != nil {
		c.logger.Warn("failed to publish event", "topic", topic, "error", err)
	}
}

// ledgerReady moves the wallet to the target chain and returns the session
// generation the action is pinned to.
func (c *Coordinator) ledgerReady(ctx context.Context) (uint64, error) {
	if _, err := c.wallet.EnsureTargetChain(ctx); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("aborted before submission: %w", err)
	}
	return c.wallet.Generation(), nil
}

// stale reports whether the wallet session changed since gen was pinned.
func (c *Coordinator) stale(gen uint64) bool {
	return c.wallet.Generation() != gen
}

func isKind(err error, kind model.ErrorKind) bool {
	return errors.Is(err, &model.Error{Kind: kind})
}
