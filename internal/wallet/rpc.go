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
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
)

// EIP-1193 provider error codes.
const (
	codeUserRejected = 4001
	codeUnknownChain = 4902
)

// RPCProvider talks to an EIP-1193 style wallet exposed over JSON-RPC (a
// wallet bridge or a dev node with unlocked accounts). Wallets over plain
// JSON-RPC cannot push notifications, so Watch polls eth_accounts and
// eth_chainId and turns differences into events.
type RPCProvider struct {
	client *rpc.Client
	logger *slog.Logger
	events chan Event

	// Consecutive poll failures before a disconnect event is emitted.
	failureThreshold int

	mu       sync.Mutex
	accounts []common.Address
	chainID  uint64
	lost     bool
}

// DialRPCProvider connects to a wallet JSON-RPC endpoint.
func DialRPCProvider(ctx context.Context, url string, logger *slog.Logger) (*RPCProvider, error) {
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dialing wallet rpc %s: %w", url, err)
	}
	return NewRPCProvider(c, logger), nil
}

// NewRPCProvider wraps an existing client.
func NewRPCProvider(c *rpc.Client, logger *slog.Logger) *RPCProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &RPCProvider{
		client:           c,
		logger:           logger.With("component", "wallet-rpc"),
		events:           make(chan Event, 16),
		failureThreshold: 3,
	}
}

func (p *RPCProvider) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	var accounts []common.Address
	if err := p.call(ctx, &accounts, "eth_requestAccounts"); err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.accounts = accounts
	p.mu.Unlock()
	return accounts, nil
}

func (p *RPCProvider) ChainID(ctx context.Context) (uint64, error) {
	var id hexutil.Uint64
	if err := p.call(ctx, &id, "eth_chainId"); err != nil {
		return 0, err
	}
	p.mu.Lock()
	p.chainID = uint64(id)
	p.mu.Unlock()
	return uint64(id), nil
}

func (p *RPCProvider) SwitchChain(ctx context.Context, chainID uint64) error {
	param := map[string]string{"chainId": hexutil.EncodeUint64(chainID)}
	return p.call(ctx, nil, "wallet_switchEthereumChain", param)
}

func (p *RPCProvider) AddChain(ctx context.Context, d ChainDescriptor) error {
	return p.call(ctx, nil, "wallet_addEthereumChain", addChainParams{ChainID: d.HexChainID(), ChainDescriptor: d})
}

func (p *RPCProvider) Balance(ctx context.Context, account common.Address) (*big.Int, error) {
	var bal hexutil.Big
	if err := p.call(ctx, &bal, "eth_getBalance", account, "latest"); err != nil {
		return nil, err
	}
	return bal.ToInt(), nil
}

// txArgs is the eth_signTransaction request object for a dynamic-fee tx.
type txArgs struct {
	From                 common.Address  `json:"from"`
	To                   *common.Address `json:"to,omitempty"`
	Gas                  hexutil.Uint64  `json:"gas"`
	MaxFeePerGas         *hexutil.Big    `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *hexutil.Big    `json:"maxPriorityFeePerGas"`
	Value                *hexutil.Big    `json:"value"`
	Nonce                hexutil.Uint64  `json:"nonce"`
	Input                hexutil.Bytes   `json:"input"`
	ChainID              *hexutil.Big    `json:"chainId"`
	Type                 hexutil.Uint64  `json:"type"`
}

type signTxResult struct {
	Raw hexutil.Bytes `json:"raw"`
}

func (p *RPCProvider) SignTx(ctx context.Context, from common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	args := txArgs{
		From:                 from,
		To:                   tx.To(),
		Gas:                  hexutil.Uint64(tx.Gas()),
		MaxFeePerGas:         (*hexutil.Big)(tx.GasFeeCap()),
		MaxPriorityFeePerGas: (*hexutil.Big)(tx.GasTipCap()),
		Value:                (*hexutil.Big)(tx.Value()),
		Nonce:                hexutil.Uint64(tx.Nonce()),
		Input:                tx.Data(),
		ChainID:              (*hexutil.Big)(chainID),
		Type:                 hexutil.Uint64(types.DynamicFeeTxType),
	}
	var res signTxResult
	if err := p.call(ctx, &res, "eth_signTransaction", args); err != nil {
		return nil, err
	}
	signed := new(types.Transaction)
	if err := signed.UnmarshalBinary(res.Raw); err != nil {
		return nil, fmt.Errorf("decoding signed transaction: %w", err)
	}
	return signed, nil
}

func (p *RPCProvider) Events() <-chan Event { return p.events }

// Watch polls the wallet every interval until ctx ends, then closes the
// event stream.
func (p *RPCProvider) Watch(ctx context.Context, interval time.Duration) {
	defer close(p.events)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := p.poll(ctx); err != nil {
			failures++
			p.logger.Debug("wallet poll failed", "failures", failures, "error", err)
			if failures == p.failureThreshold {
				p.mu.Lock()
				p.lost = true
				p.mu.Unlock()
				p.emit(Event{Kind: EventDisconnect})
			}
			continue
		}
		failures = 0
	}
}

func (p *RPCProvider) poll(ctx context.Context) error {
	var accounts []common.Address
	if err := p.call(ctx, &accounts, "eth_accounts"); err != nil {
		return err
	}
	var id hexutil.Uint64
	if err := p.call(ctx, &id, "eth_chainId"); err != nil {
		return err
	}

	p.mu.Lock()
	recovered := p.lost
	accountsChanged := recovered || !sameAccounts(accounts, p.accounts)
	chainChanged := uint64(id) != p.chainID
	p.accounts = accounts
	p.chainID = uint64(id)
	p.lost = false
	p.mu.Unlock()

	if accountsChanged {
		p.emit(Event{Kind: EventAccountsChanged, Accounts: accounts})
	}
	if chainChanged {
		p.emit(Event{Kind: EventChainChanged, ChainID: uint64(id)})
	}
	return nil
}

func (p *RPCProvider) emit(ev Event) {
	select {
	case p.events <- ev:
	default:
		p.logger.Warn("wallet event queue full; dropping event", "event", ev.Kind)
	}
}

// Close closes the underlying client.
func (p *RPCProvider) Close() {
	p.client.Close()
}

func (p *RPCProvider) call(ctx context.Context, result any, method string, args ...any) error {
	if err := p.client.CallContext(ctx, result, method, args...); err != nil {
		return mapRPCError(method, err)
	}
	return nil
}

// mapRPCError converts EIP-1193 error codes into the package sentinels.
func mapRPCError(method string, err error) error {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.ErrorCode() {
		case codeUserRejected:
			return fmt.Errorf("%s: %w: %v", method, ErrUserRejected, err)
		case codeUnknownChain:
			return fmt.Errorf("%s: %w: %v", method, ErrUnknownChain, err)
		}
	}
	return fmt.Errorf("%s: %w", method, err)
}

func sameAccounts(a, b []common.Address) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
