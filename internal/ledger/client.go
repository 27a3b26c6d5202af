// Package ledger is the typed client for the agreement factory and the
// per-agreement contracts it deploys.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alfredjeanlab/leasebridge/internal/model"
)

// ErrNoContract is returned by ReadState when the address holds no code.
var ErrNoContract = errors.New("no contract deployed at address")

// Backend is the subset of go-ethereum's client the ledger uses. It is
// satisfied by *ethclient.Client and mocked in tests.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Signer signs transactions for the active wallet account. The wallet
// session implements it.
type Signer interface {
	From() common.Address
	ChainID(ctx context.Context) (*big.Int, error)
	SignTx(ctx context.Context, tx *types.Transaction) (*types.Transaction, error)
}

// Config tunes transaction submission and confirmation.
type Config struct {
	FactoryAddress common.Address
	// Confirmations is the number of blocks (inclusion block counted) a
	// transaction needs before a call returns.
	Confirmations uint64
	// ConfirmationTimeout bounds the wait after broadcast.
	ConfirmationTimeout time.Duration
	PollInterval        time.Duration
	// GasLimitBufferPct is added on top of the gas estimate.
	GasLimitBufferPct uint64
	// Optional fee ceilings in wei.
	MaxFeePerGasWei   string
	MaxPriorityFeeWei string
}

// DefaultConfig returns the defaults: one confirmation, a ten minute
// confirmation bound and a 20% gas margin.
func DefaultConfig() Config {
	return Config{
		Confirmations:       1,
		ConfirmationTimeout: 10 * time.Minute,
		PollInterval:        2 * time.Second,
		GasLimitBufferPct:   20,
	}
}

// Receipt summarizes a mined transaction. After a confirmation timeout only
// TxHash is set.
type Receipt struct {
	TxHash        common.Hash `json:"txHash"`
	BlockNumber   uint64      `json:"blockNumber,omitempty"`
	GasUsed       uint64      `json:"gasUsed,omitempty"`
	Confirmations uint64      `json:"confirmations,omitempty"`
	logs          []*types.Log
}

// Deployment is the result of a successful CreateAgreement.
type Deployment struct {
	Address common.Address `json:"address"`
	Receipt
}

// Client submits and reads ledger calls. It holds no state of its own
// beyond its collaborators.
type Client struct {
	cfg     Config
	backend Backend
	signer  Signer
	logger  *slog.Logger
}

// NewClient returns a ledger client. The factory address is required for
// CreateAgreement only.
func NewClient(backend Backend, signer Signer, cfg Config, logger *slog.Logger) *Client {
	def := DefaultConfig()
	if cfg.Confirmations == 0 {
		cfg.Confirmations = def.Confirmations
	}
	if cfg.ConfirmationTimeout <= 0 {
		cfg.ConfirmationTimeout = def.ConfirmationTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.GasLimitBufferPct == 0 {
		cfg.GasLimitBufferPct = def.GasLimitBufferPct
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, backend: backend, signer: signer, logger: logger.With("component", "ledger")}
}

// CreateAgreement deploys an agreement through the factory, sending amount
// as value, and returns the address taken from the AgreementCreated event.
func (c *Client) CreateAgreement(ctx context.Context, tenant common.Address, itemID *big.Int, durationDays uint64, deposit, amount *big.Int) (*Deployment, error) {
	const op = "ledger.CreateAgreement"
	if c.cfg.FactoryAddress == (common.Address{}) {
		return nil, model.Errorf(model.KindInvalidInput, op, "factory address not configured")
	}
	data, err := packCreateAgreement(tenant, itemID, durationDays, deposit)
	if err != nil {
		return nil, model.E(model.KindInvalidInput, op, err)
	}
	rcpt, err := c.transact(ctx, op, c.cfg.FactoryAddress, amount, data)
	if err != nil {
		if rcpt != nil {
			return &Deployment{Receipt: *rcpt}, err
		}
		return nil, err
	}
	created, ok := findAgreementCreated(c.cfg.FactoryAddress, rcpt.logs)
	if !ok {
		return &Deployment{Receipt: *rcpt}, model.Errorf(model.KindLedgerCallReverted, op,
			"transaction %s emitted no AgreementCreated event", rcpt.TxHash.Hex())
	}
	c.logger.Info("agreement deployed", "address", created.Agreement.Hex(), "tx_hash", rcpt.TxHash.Hex())
	return &Deployment{Address: created.Agreement, Receipt: *rcpt}, nil
}

// ReadState calls getInfo on the agreement contract. ErrNoContract is
// returned when the address holds no code.
func (c *Client) ReadState(ctx context.Context, addr common.Address) (*AgreementState, error) {
	code, err := c.backend.CodeAt(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("ledger.ReadState: code at %s: %w", addr.Hex(), err)
	}
	if len(code) == 0 {
		return nil, fmt.Errorf("ledger.ReadState %s: %w", addr.Hex(), ErrNoContract)
	}
	data, err := packAgreementCall("getInfo")
	if err != nil {
		return nil, err
	}
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("ledger.ReadState: getInfo on %s: %w", addr.Hex(), err)
	}
	return unpackInfo(addr, out)
}

// PayDeposit sends amount to the agreement's payDeposit.
func (c *Client) PayDeposit(ctx context.Context, addr common.Address, amount *big.Int) (*Receipt, error) {
	data, err := packAgreementCall("payDeposit")
	if err != nil {
		return nil, err
	}
	return c.transact(ctx, "ledger.PayDeposit", addr, amount, data)
}

// Complete marks the agreement completed on chain.
func (c *Client) Complete(ctx context.Context, addr common.Address) (*Receipt, error) {
	data, err := packAgreementCall("complete")
	if err != nil {
		return nil, err
	}
	return c.transact(ctx, "ledger.Complete", addr, nil, data)
}

// Cancel cancels the agreement on chain with reason.
func (c *Client) Cancel(ctx context.Context, addr common.Address, reason string) (*Receipt, error) {
	data, err := packAgreementCall("cancel", reason)
	if err != nil {
		return nil, err
	}
	return c.transact(ctx, "ledger.Cancel", addr, nil, data)
}

// transact estimates, signs, broadcasts and waits for the configured number
// of confirmations. Errors before broadcast leave no trace on chain. After
// broadcast the caller's cancellation no longer applies; the wait is bounded
// by ConfirmationTimeout instead.
func (c *Client) transact(ctx context.Context, op string, to common.Address, value *big.Int, data []byte) (*Receipt, error) {
	if value == nil {
		value = new(big.Int)
	}
	if c.signer == nil {
		return nil, model.Errorf(model.KindWalletUnavailable, op, "no signer")
	}

	chainID, err := c.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: fetch chain id: %w", op, err)
	}
	signerChain, err := c.signer.ChainID(ctx)
	if err != nil {
		return nil, carryKind(model.KindWalletUnavailable, op, err)
	}
	if signerChain.Cmp(chainID) != 0 {
		return nil, model.Errorf(model.KindNetworkMismatch, op, "wallet on chain %s, ledger on %s", signerChain, chainID)
	}

	from := c.signer.From()
	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("%s: fetch nonce: %w", op, err)
	}

	est, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Value: value, Data: data})
	if err != nil {
		return nil, classifySubmitError(op, "estimate gas", err)
	}
	gasLimit := est + est*c.cfg.GasLimitBufferPct/100
	tipCap, feeCap := c.suggestFees(ctx)

	maxCost := new(big.Int).Mul(new(big.Int).SetUint64(gasLimit), feeCap)
	maxCost.Add(maxCost, value)
	if bal, err := c.backend.BalanceAt(ctx, from, nil); err == nil && bal.Cmp(maxCost) < 0 {
		return nil, model.Errorf(model.KindInsufficientFunds, op, "balance %s wei below required %s wei", bal, maxCost)
	}

	unsigned := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		To:        &to,
		Value:     value,
		Gas:       gasLimit,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Data:      data,
	})
	signed, err := c.signer.SignTx(ctx, unsigned)
	if err != nil {
		return nil, carryKind(model.KindWalletRejected, op, err)
	}

	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		switch {
		case alreadyKnown(err):
			c.logger.Info("transaction already known to the node", "op", op, "tx_hash", signed.Hash().Hex())
		case sendRejected(err):
			c.logger.Error("failed to send transaction", "op", op, "tx_hash", signed.Hash().Hex(), "error", err)
			return nil, classifySubmitError(op, "send", err)
		default:
			// The node may have accepted the transaction before the error
			// reached us, so its outcome is awaited like any broadcast.
			c.logger.Warn("send outcome unknown, waiting for receipt",
				"op", op, "tx_hash", signed.Hash().Hex(), "error", err)
		}
	}
	c.logger.Info("transaction submitted",
		"op", op,
		"tx_hash", signed.Hash().Hex(),
		"nonce", nonce,
		"gas_limit", gasLimit,
		"gas_fee_cap", feeCap.String(),
	)

	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.ConfirmationTimeout)
	defer cancel()
	return c.waitConfirmed(waitCtx, op, signed.Hash())
}

// waitConfirmed polls for the receipt until it is mined, reverted or the
// context ends. A missing receipt counts as pending.
func (c *Client) waitConfirmed(ctx context.Context, op string, hash common.Hash) (*Receipt, error) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		rcpt, done, err := c.checkReceipt(ctx, op, hash)
		if done {
			return rcpt, err
		}
		select {
		case <-ctx.Done():
			return &Receipt{TxHash: hash}, model.Errorf(model.KindConfirmationTimeout, op,
				"transaction %s not confirmed within %s", hash.Hex(), c.cfg.ConfirmationTimeout)
		case <-ticker.C:
		}
	}
}

func (c *Client) checkReceipt(ctx context.Context, op string, hash common.Hash) (*Receipt, bool, error) {
	receipt, err := c.backend.TransactionReceipt(ctx, hash)
	if err != nil {
		if !errors.Is(err, ethereum.NotFound) {
			c.logger.Warn("failed to get transaction receipt", "tx_hash", hash.Hex(), "error", err)
		}
		return nil, false, nil
	}
	r := &Receipt{
		TxHash:      hash,
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
		logs:        receipt.Logs,
	}
	if receipt.Status == types.ReceiptStatusFailed {
		c.logger.Warn("transaction reverted", "op", op, "tx_hash", hash.Hex(), "block_number", r.BlockNumber)
		return r, true, model.Errorf(model.KindLedgerCallReverted, op, "transaction %s reverted in block %d", hash.Hex(), r.BlockNumber)
	}
	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		c.logger.Warn("failed to get latest block for confirmation count", "tx_hash", hash.Hex(), "error", err)
		return nil, false, nil
	}
	if head.Number.Uint64() >= r.BlockNumber {
		r.Confirmations = head.Number.Uint64() - r.BlockNumber + 1
	}
	if r.Confirmations < c.cfg.Confirmations {
		return nil, false, nil
	}
	c.logger.Debug("transaction confirmed", "tx_hash", hash.Hex(), "confirmations", r.Confirmations)
	return r, true, nil
}

// TxState is what a receipt lookup established about a transaction.
type TxState int

const (
	// TxUnknown means the node has no receipt: the transaction is still
	// pooled or was dropped.
	TxUnknown TxState = iota
	// TxUnconfirmed means it was mined with fewer than the configured
	// confirmations.
	TxUnconfirmed
	TxReverted
	TxConfirmed
)

func (s TxState) String() string {
	switch s {
	case TxUnconfirmed:
		return "unconfirmed"
	case TxReverted:
		return "reverted"
	case TxConfirmed:
		return "confirmed"
	}
	return "unknown"
}

// TxStatus is the result of Lookup.
type TxStatus struct {
	State   TxState `json:"state"`
	Receipt Receipt `json:"receipt"`
	// Created is the agreement address from the factory's AgreementCreated
	// event, when the transaction emitted one.
	Created common.Address `json:"created,omitempty"`
}

// Lookup reports what the ledger currently knows about a broadcast
// transaction without waiting for it.
func (c *Client) Lookup(ctx context.Context, hash common.Hash) (*TxStatus, error) {
	const op = "ledger.Lookup"
	st := &TxStatus{Receipt: Receipt{TxHash: hash}}
	receipt, err := c.backend.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return st, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: receipt for %s: %w", op, hash.Hex(), err)
	}
	if receipt.BlockNumber != nil {
		st.Receipt.BlockNumber = receipt.BlockNumber.Uint64()
	}
	st.Receipt.GasUsed = receipt.GasUsed
	st.Receipt.logs = receipt.Logs
	if receipt.Status == types.ReceiptStatusFailed {
		st.State = TxReverted
		return st, nil
	}
	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: latest block: %w", op, err)
	}
	if head.Number.Uint64() >= st.Receipt.BlockNumber {
		st.Receipt.Confirmations = head.Number.Uint64() - st.Receipt.BlockNumber + 1
	}
	st.State = TxUnconfirmed
	if st.Receipt.Confirmations >= c.cfg.Confirmations {
		st.State = TxConfirmed
	}
	if created, ok := findAgreementCreated(c.cfg.FactoryAddress, receipt.Logs); ok {
		st.Created = created.Agreement
	}
	return st, nil
}

// suggestFees returns EIP-1559 tip and fee caps: base fee doubled plus tip,
// capped by the configured ceilings.
func (c *Client) suggestFees(ctx context.Context) (*big.Int, *big.Int) {
	head, _ := c.backend.HeaderByNumber(ctx, nil)
	tipCap, err := c.backend.SuggestGasTipCap(ctx)
	if err != nil || tipCap == nil {
		tipCap = big.NewInt(2_000_000_000)
	}
	var feeCap *big.Int
	if head != nil && head.BaseFee != nil {
		feeCap = new(big.Int).Add(new(big.Int).Mul(head.BaseFee, big.NewInt(2)), tipCap)
	} else if sp, err := c.backend.SuggestGasPrice(ctx); err == nil && sp != nil {
		feeCap = sp
	} else {
		feeCap = new(big.Int).Add(big.NewInt(2_000_000_000), tipCap)
	}
	if v, ok := new(big.Int).SetString(c.cfg.MaxPriorityFeeWei, 10); ok && v.Sign() > 0 && v.Cmp(tipCap) < 0 {
		tipCap = v
	}
	if v, ok := new(big.Int).SetString(c.cfg.MaxFeePerGasWei, 10); ok && v.Sign() > 0 && v.Cmp(feeCap) < 0 {
		feeCap = v
	}
	if feeCap.Cmp(tipCap) < 0 {
		tipCap = new(big.Int).Set(feeCap)
	}
	return tipCap, feeCap
}

// classifySubmitError maps node errors seen before or at broadcast.
func classifySubmitError(op, stage string, err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient funds"):
		return model.E(model.KindInsufficientFunds, op, fmt.Errorf("%s: %w", stage, err))
	case strings.Contains(msg, "execution reverted"), strings.Contains(msg, "revert"):
		return model.E(model.KindLedgerCallReverted, op, fmt.Errorf("%s: %w", stage, err))
	}
	return fmt.Errorf("%s: %s: %w", op, stage, err)
}

// sendRejected reports whether a SendTransaction error means the node
// refused the transaction or was never reached. Anything else leaves the
// transaction possibly broadcast.
func sendRejected(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"insufficient funds",
		"revert",
		"nonce too low",
		"nonce too high",
		"underpriced",
		"intrinsic gas too low",
		"exceeds block gas limit",
		"fee cap less than block base fee",
		"max fee per gas less than block base fee",
		"invalid sender",
		"connection refused",
		"no such host",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// alreadyKnown reports whether the node already holds the transaction.
func alreadyKnown(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already known") || strings.Contains(msg, "known transaction")
}

// carryKind keeps the kind of an already classified error and assigns
// fallback to anything else.
func carryKind(fallback model.ErrorKind, op string, err error) error {
	if model.KindOf(err) != "" {
		return err
	}
	return model.E(fallback, op, err)
}
