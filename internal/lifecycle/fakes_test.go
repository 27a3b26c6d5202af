package lifecycle

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alfredjeanlab/leasebridge/internal/ledger"
	"github.com/alfredjeanlab/leasebridge/internal/model"
	"github.com/alfredjeanlab/leasebridge/internal/recordstore"
	"github.com/alfredjeanlab/leasebridge/internal/store/memory"
	"github.com/alfredjeanlab/leasebridge/internal/wallet"
)

const (
	ownerID  = "u-owner"
	tenantID = "u-tenant"
)

var (
	testNow       = time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	contractAddr  = common.HexToAddress("0x0000000000000000000000000000000000000abc")
	tenantWallet  = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	deployTxHash  = common.HexToHash("0x123")
	genericTxHash = common.HexToHash("0x456")
)

func newAgreement(status model.Status) *model.Agreement {
	a := &model.Agreement{
		ID:            "ag-1",
		OwnerID:       ownerID,
		TenantID:      tenantID,
		TenantAddress: tenantWallet.Hex(),
		ItemRef:       "42",
		Period: model.Period{
			Start: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC),
		},
		TotalPrice: "0.5",
		Deposit:    "0.1",
		Status:     status,
		Version:    1,
		CreatedAt:  time.Date(2025, 12, 20, 0, 0, 0, 0, time.UTC),
	}
	switch status {
	case model.StatusSigned, model.StatusActive, model.StatusCompleted:
		a.OwnerSignature, a.TenantSignature = "sig-owner", "sig-tenant"
	}
	if status == model.StatusActive || status == model.StatusCompleted {
		a.LedgerAddress = contractAddr.Hex()
		a.TransactionHash = deployTxHash.Hex()
	}
	return a
}

// fakeStore is an in-memory record store with the server-side rules the
// coordinator relies on: version checks, signature promotion and status
// changes.
type fakeStore struct {
	mu       sync.Mutex
	records  map[string]*model.Agreement
	disputes []*model.Dispute
	// actor is the identity the store attributes sign calls to.
	actor string

	// failWrites makes the next n patch calls fail with a 500.
	failWrites int
	// conflictWrites makes the next n patch calls fail with a 409 after
	// bumping the record version, as if another client wrote first.
	conflictWrites int
	// lostResponses makes the next n patch calls apply the write and then
	// fail with a 500, as if the response was lost.
	lostResponses int

	calls  []string
	writes []recordstore.Write
}

func newFakeStore(records ...*model.Agreement) *fakeStore {
	s := &fakeStore{records: make(map[string]*model.Agreement)}
	for _, a := range records {
		s.records[a.ID] = a.Clone()
	}
	return s
}

func (s *fakeStore) record(id string) *model.Agreement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[id].Clone()
}

func (s *fakeStore) count(call string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c == call {
			n++
		}
	}
	return n
}

func storeErr(op string, status int, msg string) error {
	return model.E(model.KindRecordStoreError, op, &recordstore.APIError{StatusCode: status, Message: msg})
}

func (s *fakeStore) Get(_ context.Context, id string) (*model.Agreement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "get")
	a, ok := s.records[id]
	if !ok {
		return nil, storeErr("recordstore.Get", http.StatusNotFound, "no such agreement")
	}
	return a.Clone(), nil
}

// write runs fn against the record under the store's rules.
func (s *fakeStore) write(call, id string, w recordstore.Write, fn func(a *model.Agreement) error) (*model.Agreement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op := "recordstore." + call
	s.calls = append(s.calls, call)
	s.writes = append(s.writes, w)
	a, ok := s.records[id]
	if !ok {
		return nil, storeErr(op, http.StatusNotFound, "no such agreement")
	}
	if s.failWrites > 0 {
		s.failWrites--
		return nil, storeErr(op, http.StatusInternalServerError, "database unavailable")
	}
	if s.conflictWrites > 0 {
		s.conflictWrites--
		a.Version++
		return nil, storeErr(op, http.StatusConflict, "version mismatch")
	}
	if w.Version != 0 && w.Version != a.Version {
		return nil, storeErr(op, http.StatusPreconditionFailed, "stale version")
	}
	if err := fn(a); err != nil {
		return nil, err
	}
	a.Version++
	a.UpdatedAt = testNow
	if s.lostResponses > 0 {
		s.lostResponses--
		return nil, storeErr(op, http.StatusBadGateway, "upstream reset")
	}
	return a.Clone(), nil
}

func (s *fakeStore) Sign(_ context.Context, id string, w recordstore.Write, signature string) (*model.Agreement, error) {
	return s.write("Sign", id, w, func(a *model.Agreement) error {
		switch s.actor {
		case a.OwnerID:
			a.OwnerSignature = signature
		case a.TenantID:
			a.TenantSignature = signature
		default:
			return storeErr("recordstore.Sign", http.StatusForbidden, "not a party")
		}
		if a.FullySigned() && a.Status == model.StatusPending {
			a.Status = model.StatusSigned
		}
		return nil
	})
}

func (s *fakeStore) Activate(_ context.Context, id string, w recordstore.Write, contractAddress, txHash string) (*model.Agreement, error) {
	return s.write("Activate", id, w, func(a *model.Agreement) error {
		if a.Status != model.StatusSigned {
			return storeErr("recordstore.Activate", http.StatusConflict, "agreement is "+a.Status.String())
		}
		a.LedgerAddress = contractAddress
		a.TransactionHash = txHash
		a.Status = model.StatusActive
		return nil
	})
}

func (s *fakeStore) NotifyDeposit(_ context.Context, id string, w recordstore.Write, txHash string) (*model.Agreement, error) {
	return s.write("NotifyDeposit", id, w, func(a *model.Agreement) error {
		a.DepositTxHash = txHash
		return nil
	})
}

func (s *fakeStore) Complete(_ context.Context, id string, w recordstore.Write, _ string) (*model.Agreement, error) {
	return s.write("Complete", id, w, func(a *model.Agreement) error {
		a.Status = model.StatusCompleted
		return nil
	})
}

func (s *fakeStore) Cancel(_ context.Context, id string, w recordstore.Write, reason, _ string) (*model.Agreement, error) {
	return s.write("Cancel", id, w, func(a *model.Agreement) error {
		if strings.TrimSpace(reason) == "" {
			return storeErr("recordstore.Cancel", http.StatusBadRequest, "reason required")
		}
		a.Status = model.StatusCancelled
		return nil
	})
}

func (s *fakeStore) Dispute(_ context.Context, id string, w recordstore.Write, reason, description string) (*model.Dispute, error) {
	var d *model.Dispute
	_, err := s.write("Dispute", id, w, func(a *model.Agreement) error {
		a.Disputed = true
		d = &model.Dispute{
			ID:          fmt.Sprintf("dp-%d", len(s.disputes)+1),
			AgreementID: id,
			RaisedBy:    s.actor,
			Reason:      reason,
			Description: description,
			CreatedAt:   testNow,
		}
		s.disputes = append(s.disputes, d)
		return nil
	})
	return d, err
}

// fakeLedger records ledger calls and returns scripted results.
type fakeLedger struct {
	mu sync.Mutex

	err error
	// receiptOnErr returns a receipt together with err, as the client does
	// for reverts and confirmation timeouts.
	receiptOnErr bool
	state        *ledger.AgreementState
	stateErr     error
	// lookup is what Lookup reports; nil means no receipt yet.
	lookup    *ledger.TxStatus
	lookupErr error
	// during runs inside every write call, before it returns.
	during func()

	calls   []string
	reasons []string
	amounts []*big.Int
}

func (l *fakeLedger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.calls {
		if c != "ReadState" && c != "Lookup" {
			n++
		}
	}
	return n
}

func (l *fakeLedger) writeCall(name string, amount *big.Int, hash common.Hash) (*ledger.Receipt, error) {
	l.mu.Lock()
	l.calls = append(l.calls, name)
	l.amounts = append(l.amounts, amount)
	during, err, withRcpt := l.during, l.err, l.receiptOnErr
	l.mu.Unlock()
	if during != nil {
		during()
	}
	rcpt := &ledger.Receipt{TxHash: hash, BlockNumber: 100, Confirmations: 1}
	if err != nil {
		if withRcpt {
			return rcpt, err
		}
		return nil, err
	}
	return rcpt, nil
}

func (l *fakeLedger) CreateAgreement(_ context.Context, _ common.Address, _ *big.Int, _ uint64, _, amount *big.Int) (*ledger.Deployment, error) {
	rcpt, err := l.writeCall("CreateAgreement", amount, deployTxHash)
	if err != nil {
		if rcpt != nil {
			return &ledger.Deployment{Receipt: *rcpt}, err
		}
		return nil, err
	}
	return &ledger.Deployment{Address: contractAddr, Receipt: *rcpt}, nil
}

func (l *fakeLedger) ReadState(_ context.Context, addr common.Address) (*ledger.AgreementState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, "ReadState")
	if l.stateErr != nil {
		return nil, l.stateErr
	}
	if l.state == nil {
		return &ledger.AgreementState{Address: addr, Tenant: tenantWallet, StatusCode: ledger.StatusCreated}, nil
	}
	st := *l.state
	st.Address = addr
	return &st, nil
}

func (l *fakeLedger) Lookup(_ context.Context, hash common.Hash) (*ledger.TxStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, "Lookup")
	if l.lookupErr != nil {
		return nil, l.lookupErr
	}
	if l.lookup == nil {
		return &ledger.TxStatus{State: ledger.TxUnknown, Receipt: ledger.Receipt{TxHash: hash}}, nil
	}
	st := *l.lookup
	st.Receipt.TxHash = hash
	return &st, nil
}

func (l *fakeLedger) lookups() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.calls {
		if c == "Lookup" {
			n++
		}
	}
	return n
}

func (l *fakeLedger) PayDeposit(_ context.Context, _ common.Address, amount *big.Int) (*ledger.Receipt, error) {
	return l.writeCall("PayDeposit", amount, genericTxHash)
}

func (l *fakeLedger) Complete(_ context.Context, _ common.Address) (*ledger.Receipt, error) {
	return l.writeCall("Complete", nil, genericTxHash)
}

func (l *fakeLedger) Cancel(_ context.Context, _ common.Address, reason string) (*ledger.Receipt, error) {
	l.mu.Lock()
	l.reasons = append(l.reasons, reason)
	l.mu.Unlock()
	return l.writeCall("Cancel", nil, genericTxHash)
}

// fakeWallet is a connected session on the target chain unless told
// otherwise.
type fakeWallet struct {
	mu          sync.Mutex
	state       wallet.State
	ensureErr   error
	ensureCalls int
}

func newFakeWallet() *fakeWallet {
	return &fakeWallet{state: wallet.State{
		Connected:  true,
		Account:    tenantWallet,
		ChainID:    wallet.ChainSepolia,
		Generation: 1,
	}}
}

func (w *fakeWallet) Snapshot() wallet.State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *fakeWallet) Generation() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state.Generation
}

func (w *fakeWallet) EnsureTargetChain(context.Context) (wallet.State, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ensureCalls++
	if w.ensureErr != nil {
		return w.state, w.ensureErr
	}
	return w.state, nil
}

// bump simulates an accountsChanged or chainChanged event.
func (w *fakeWallet) bump() {
	w.mu.Lock()
	w.state.Generation++
	w.mu.Unlock()
}

// recordingPublisher keeps every published topic.
type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	events []any
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) has(topic string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.topics {
		if t == topic {
			return true
		}
	}
	return false
}

type harness struct {
	coord   *Coordinator
	store   *fakeStore
	ledger  *fakeLedger
	wallet  *fakeWallet
	journal *memory.Journal
	events  *recordingPublisher
}

func newHarness(t *testing.T, records ...*model.Agreement) *harness {
	t.Helper()
	h := &harness{
		store:   newFakeStore(records...),
		ledger:  &fakeLedger{},
		wallet:  newFakeWallet(),
		journal: memory.New(),
		events:  &recordingPublisher{},
	}
	h.coord = NewCoordinator(h.store, h.ledger, h.wallet, h.journal, Config{
		PersistAttempts: 3,
		PersistBackoff:  time.Millisecond,
		Publisher:       h.events,
		Now:             func() time.Time { return testNow },
	})
	return h
}

// perform runs action on ag-1 as identity, with the store attributing
// writes to the same identity.
func (h *harness) perform(identity string, action model.Action, mods ...func(*Request)) (*Outcome, error) {
	h.store.mu.Lock()
	h.store.actor = identity
	h.store.mu.Unlock()
	req := Request{AgreementID: "ag-1", Action: action, IdentityID: identity}
	for _, m := range mods {
		m(&req)
	}
	return h.coord.Perform(context.Background(), req)
}

func withReason(r string) func(*Request) {
	return func(req *Request) { req.Reason = r }
}

func withSignature(s string) func(*Request) {
	return func(req *Request) { req.Signature = s }
}

func errNoContract() error {
	return fmt.Errorf("read %s: %w", contractAddr.Hex(), ledger.ErrNoContract)
}

func contractState(code ledger.StatusCode) *ledger.AgreementState {
	return &ledger.AgreementState{Tenant: tenantWallet, Owner: common.HexToAddress("0xa1"), StatusCode: code}
}
