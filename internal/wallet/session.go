package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alfredjeanlab/leasebridge/internal/events"
	"github.com/alfredjeanlab/leasebridge/internal/model"
)

// State is a point-in-time copy of the session. It is either fully
// connected or entirely empty. Generation changes whenever the account,
// chain or connection changes.
type State struct {
	Connected  bool           `json:"connected"`
	Account    common.Address `json:"account"`
	ChainID    uint64         `json:"chainId"`
	Balance    *big.Int       `json:"balance,omitempty"`
	Linked     bool           `json:"linked"`
	Generation uint64         `json:"generation"`
}

// SessionConfig configures a Session. Zero values fall back to defaults.
type SessionConfig struct {
	Target       ChainDescriptor
	Linker       IdentityLinker
	Publisher    events.Publisher
	Logger       *slog.Logger
	LinkAttempts int
	LinkBackoff  time.Duration
	// EventTimeout bounds the provider calls made while handling one event.
	EventTimeout time.Duration
}

// Session is the single wallet session of a client. Only the session mutates
// its state: through Connect, Disconnect, EnsureTargetChain and the event
// loop started by Start.
type Session struct {
	provider  Provider
	target    ChainDescriptor
	linker    IdentityLinker
	publisher events.Publisher
	logger    *slog.Logger

	linkAttempts int
	linkBackoff  time.Duration
	eventTimeout time.Duration

	// opMu serializes state transitions so provider events are applied one
	// at a time and never in the middle of Connect/Disconnect.
	opMu sync.Mutex

	mu       sync.RWMutex
	identity string
	state    State

	startOnce  sync.Once
	done       chan struct{}
	afterEvent func(Event)
}

// NewSession returns an empty session. provider may be nil, in which case
// Connect reports WalletUnavailable.
func NewSession(provider Provider, cfg SessionConfig) *Session {
	if cfg.Target.ChainID == 0 {
		cfg.Target = Sepolia
	}
	if cfg.Publisher == nil {
		cfg.Publisher = &events.NoopPublisher{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.LinkAttempts <= 0 {
		cfg.LinkAttempts = 3
	}
	if cfg.LinkBackoff <= 0 {
		cfg.LinkBackoff = 500 * time.Millisecond
	}
	if cfg.EventTimeout <= 0 {
		cfg.EventTimeout = 15 * time.Second
	}
	return &Session{
		provider:     provider,
		target:       cfg.Target,
		linker:       cfg.Linker,
		publisher:    cfg.Publisher,
		logger:       cfg.Logger.With("component", "wallet"),
		linkAttempts: cfg.LinkAttempts,
		linkBackoff:  cfg.LinkBackoff,
		eventTimeout: cfg.EventTimeout,
		done:         make(chan struct{}),
	}
}

// Target returns the designated network.
func (s *Session) Target() ChainDescriptor { return s.target }

// SetIdentity sets the application identity the wallet is linked to. An
// empty id means nobody is signed in.
func (s *Session) SetIdentity(id string) {
	s.mu.Lock()
	s.identity = id
	s.mu.Unlock()
}

// Identity returns the application identity.
func (s *Session) Identity() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.state
	if st.Balance != nil {
		st.Balance = new(big.Int).Set(st.Balance)
	}
	return st
}

// Generation returns the current session generation.
func (s *Session) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Generation
}

// Connect requests account access, moves the wallet to the target chain when
// possible and links the account to the identity record. A wallet left on
// another chain stays connected; EnsureTargetChain blocks ledger actions.
func (s *Session) Connect(ctx context.Context) (State, error) {
	const op = "wallet.Connect"
	if s.provider == nil {
		return State{}, model.Errorf(model.KindWalletUnavailable, op, "no wallet provider configured")
	}
	identity := s.Identity()
	if identity == "" {
		return State{}, model.Errorf(model.KindNotAuthenticated, op, "no signed-in identity")
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	accounts, err := s.provider.RequestAccounts(ctx)
	if err != nil {
		return State{}, providerError(op, err)
	}
	if len(accounts) == 0 {
		return State{}, model.E(model.KindWalletUnavailable, op, ErrNoAccounts)
	}
	account := accounts[0]

	chainID, err := s.provider.ChainID(ctx)
	if err != nil {
		return State{}, providerError(op, err)
	}
	if chainID != s.target.ChainID {
		if err := s.switchToTarget(ctx); err != nil {
			s.logger.Warn("wallet left on non-target chain", "chain_id", chainID, "target", s.target.ChainID, "error", err)
		} else if chainID, err = s.provider.ChainID(ctx); err != nil {
			return State{}, providerError(op, err)
		}
	}

	balance, err := s.provider.Balance(ctx, account)
	if err != nil {
		s.logger.Warn("balance unavailable", "account", account.Hex(), "error", err)
	}

	linked := s.link(ctx, identity, account)

	st := s.commit(func(st *State) {
		*st = State{
			Connected:  true,
			Account:    account,
			ChainID:    chainID,
			Balance:    balance,
			Linked:     linked,
			Generation: st.Generation + 1,
		}
	})
	s.logger.Info("wallet connected", "account", account.Hex(), "chain_id", chainID, "linked", linked)
	s.publish(ctx, events.TopicWalletConnected, st)
	return st, nil
}

// Disconnect unlinks the wallet from the identity (best effort) and clears
// the session.
func (s *Session) Disconnect(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	st := s.Snapshot()
	if !st.Connected {
		return nil
	}
	if identity := s.Identity(); s.linker != nil && identity != "" {
		if err := s.linker.UnlinkWallet(ctx, identity); err != nil {
			s.logger.Warn("unlinking wallet failed; clearing session anyway", "identity", identity, "error", err)
		}
	}
	s.reset(ctx, "disconnect requested")
	return nil
}

// EnsureTargetChain makes sure the connected wallet is on the target chain,
// switching (and adding the network when unknown) if needed. It returns
// NetworkMismatch when the wallet cannot be moved.
func (s *Session) EnsureTargetChain(ctx context.Context) (State, error) {
	const op = "wallet.EnsureTargetChain"
	s.opMu.Lock()
	defer s.opMu.Unlock()

	st := s.Snapshot()
	if !st.Connected {
		return st, model.Errorf(model.KindWalletUnavailable, op, "wallet not connected")
	}
	if st.ChainID == s.target.ChainID {
		return st, nil
	}
	if err := s.switchToTarget(ctx); err != nil {
		return st, model.E(model.KindNetworkMismatch, op,
			fmt.Errorf("switch from chain %d to %d: %w", st.ChainID, s.target.ChainID, err))
	}
	chainID, err := s.provider.ChainID(ctx)
	if err != nil {
		return st, providerError(op, err)
	}
	if chainID != s.target.ChainID {
		return st, model.Errorf(model.KindNetworkMismatch, op, "wallet on chain %d after switch, want %d", chainID, s.target.ChainID)
	}
	st = s.commit(func(st *State) {
		st.ChainID = chainID
		st.Generation++
	})
	s.publish(ctx, events.TopicWalletChainChanged, st)
	return st, nil
}

// RefreshBalance pulls the balance of account. The session's balance is
// updated when account is the connected one.
func (s *Session) RefreshBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	const op = "wallet.RefreshBalance"
	if s.provider == nil {
		return nil, model.Errorf(model.KindWalletUnavailable, op, "no wallet provider configured")
	}
	bal, err := s.provider.Balance(ctx, account)
	if err != nil {
		return nil, providerError(op, err)
	}
	s.mu.Lock()
	if s.state.Connected && s.state.Account == account {
		s.state.Balance = new(big.Int).Set(bal)
	}
	s.mu.Unlock()
	return bal, nil
}

// From returns the connected account (zero when disconnected).
func (s *Session) From() common.Address {
	return s.Snapshot().Account
}

// ChainID returns the chain the wallet is on.
func (s *Session) ChainID(_ context.Context) (*big.Int, error) {
	st := s.Snapshot()
	if !st.Connected {
		return nil, model.Errorf(model.KindWalletUnavailable, "wallet.ChainID", "wallet not connected")
	}
	return new(big.Int).SetUint64(st.ChainID), nil
}

// SignTx asks the wallet to sign tx with the connected account. Any refusal
// by the wallet is WalletRejected; nothing has been broadcast at that point.
func (s *Session) SignTx(ctx context.Context, tx *types.Transaction) (*types.Transaction, error) {
	const op = "wallet.SignTx"
	st := s.Snapshot()
	if !st.Connected {
		return nil, model.Errorf(model.KindWalletUnavailable, op, "wallet not connected")
	}
	if tx.ChainId().Uint64() != st.ChainID {
		return nil, model.Errorf(model.KindNetworkMismatch, op, "transaction for chain %d, wallet on %d", tx.ChainId().Uint64(), st.ChainID)
	}
	signed, err := s.provider.SignTx(ctx, st.Account, tx, new(big.Int).SetUint64(st.ChainID))
	if err != nil {
		return nil, model.E(model.KindWalletRejected, op, err)
	}
	return signed, nil
}

// Start runs the event loop: provider events are taken off the provider's
// queue and applied one at a time until ctx ends or the queue closes.
func (s *Session) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		if s.provider == nil {
			close(s.done)
			return
		}
		go s.run(ctx)
	})
}

// Done is closed when the event loop exits.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	evs := s.provider.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-evs:
			if !ok {
				s.logger.Info("wallet provider event stream closed")
				return
			}
			s.handle(ctx, ev)
			if s.afterEvent != nil {
				s.afterEvent(ev)
			}
		}
	}
}

func (s *Session) handle(parent context.Context, ev Event) {
	ctx, cancel := context.WithTimeout(parent, s.eventTimeout)
	defer cancel()

	s.opMu.Lock()
	defer s.opMu.Unlock()

	cur := s.Snapshot()
	if !cur.Connected {
		s.logger.Debug("ignoring wallet event while disconnected", "event", ev.Kind)
		return
	}

	switch ev.Kind {
	case EventAccountsChanged:
		if len(ev.Accounts) == 0 {
			s.reset(ctx, "wallet exposed no accounts")
			return
		}
		account := ev.Accounts[0]
		if account == cur.Account {
			return
		}
		balance, err := s.provider.Balance(ctx, account)
		if err != nil {
			s.logger.Warn("balance unavailable", "account", account.Hex(), "error", err)
		}
		linked := false
		if identity := s.Identity(); identity != "" {
			linked = s.link(ctx, identity, account)
		}
		st := s.commit(func(st *State) {
			st.Account = account
			st.Balance = balance
			st.Linked = linked
			st.Generation++
		})
		s.logger.Info("wallet account changed", "account", account.Hex(), "generation", st.Generation)
		s.publish(ctx, events.TopicWalletAccountChanged, st)

	case EventChainChanged:
		if ev.ChainID == cur.ChainID {
			return
		}
		balance, err := s.provider.Balance(ctx, cur.Account)
		if err != nil {
			s.logger.Warn("balance unavailable", "account", cur.Account.Hex(), "error", err)
		}
		st := s.commit(func(st *State) {
			st.ChainID = ev.ChainID
			st.Balance = balance
			st.Generation++
		})
		s.logger.Info("wallet chain changed", "chain_id", ev.ChainID, "generation", st.Generation)
		s.publish(ctx, events.TopicWalletChainChanged, st)

	case EventDisconnect:
		s.reset(ctx, "provider disconnected")

	default:
		s.logger.Warn("unknown wallet event", "event", ev.Kind)
	}
}

// switchToTarget asks the wallet to switch, adding the network first when
// the wallet does not know it. Caller holds opMu.
func (s *Session) switchToTarget(ctx context.Context) error {
	err := s.provider.SwitchChain(ctx, s.target.ChainID)
	if errors.Is(err, ErrUnknownChain) {
		s.logger.Info("adding target chain to wallet", "chain_id", s.target.ChainID, "name", s.target.ChainName)
		if err := s.provider.AddChain(ctx, s.target); err != nil {
			return fmt.Errorf("add chain: %w", err)
		}
		err = s.provider.SwitchChain(ctx, s.target.ChainID)
	}
	return err
}

func (s *Session) link(ctx context.Context, identity string, account common.Address) bool {
	if s.linker == nil {
		return false
	}
	if err := linkWithRetry(ctx, s.linker, identity, account, s.linkAttempts, s.linkBackoff); err != nil {
		s.logger.Warn("linking wallet to identity failed", "identity", identity, "account", account.Hex(), "error", err)
		return false
	}
	return true
}

// reset clears the session. Caller holds opMu.
func (s *Session) reset(ctx context.Context, reason string) {
	st := s.commit(func(st *State) {
		*st = State{Generation: st.Generation + 1}
	})
	s.logger.Info("wallet disconnected", "reason", reason, "generation", st.Generation)
	s.publish(ctx, events.TopicWalletDisconnected, st)
}

// commit applies fn to the state under the write lock and returns a copy.
func (s *Session) commit(fn func(*State)) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.state)
	st := s.state
	if st.Balance != nil {
		st.Balance = new(big.Int).Set(st.Balance)
	}
	return st
}

func (s *Session) publish(ctx context.Context, topic string, st State) {
	ev := events.WalletChanged{ChainID: st.ChainID, Generation: st.Generation}
	if st.Connected {
		ev.Account = st.Account.Hex()
	}
	if err := s.publisher.Publish(context.WithoutCancel(ctx), topic, ev); err != nil {
		s.logger.Warn("failed to publish wallet event", "topic", topic, "error", err)
	}
}

func providerError(op string, err error) error {
	if errors.Is(err, ErrUserRejected) {
		return model.E(model.KindWalletRejected, op, err)
	}
	return model.E(model.KindWalletUnavailable, op, err)
}
