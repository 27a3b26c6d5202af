package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// BalanceReader is the part of an Ethereum client KeyProvider needs.
type BalanceReader interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// KeyProvider is a Provider backed by a local secp256k1 key and a set of
// per-chain RPC endpoints. It serves the CLI and tests, where no external
// wallet is around to approve requests.
type KeyProvider struct {
	key  *ecdsa.PrivateKey
	from common.Address

	mu        sync.Mutex
	chainID   uint64
	endpoints map[uint64]string
	clients   map[uint64]BalanceReader
	dial      func(ctx context.Context, url string) (BalanceReader, error)
	events    chan Event
	closed    bool
}

// NewKeyProvider parses a hex private key. chainID is the chain the
// provider starts on; endpoints maps chain ids to RPC URLs.
func NewKeyProvider(keyHex string, chainID uint64, endpoints map[uint64]string) (*KeyProvider, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	return NewKeyProviderFromKey(key, chainID, endpoints), nil
}

// NewKeyProviderFromKey is NewKeyProvider for an already parsed key.
func NewKeyProviderFromKey(key *ecdsa.PrivateKey, chainID uint64, endpoints map[uint64]string) *KeyProvider {
	eps := make(map[uint64]string, len(endpoints))
	for id, url := range endpoints {
		eps[id] = url
	}
	return &KeyProvider{
		key:       key,
		from:      crypto.PubkeyToAddress(key.PublicKey),
		chainID:   chainID,
		endpoints: eps,
		clients:   make(map[uint64]BalanceReader),
		dial: func(ctx context.Context, url string) (BalanceReader, error) {
			return ethclient.DialContext(ctx, url)
		},
		events: make(chan Event, 16),
	}
}

// Address returns the key's account.
func (p *KeyProvider) Address() common.Address { return p.from }

func (p *KeyProvider) RequestAccounts(_ context.Context) ([]common.Address, error) {
	return []common.Address{p.from}, nil
}

func (p *KeyProvider) ChainID(_ context.Context) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.chainID, nil
}

func (p *KeyProvider) SwitchChain(_ context.Context, chainID uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.endpoints[chainID]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownChain, chainID)
	}
	if p.chainID == chainID {
		return nil
	}
	p.chainID = chainID
	p.emitLocked(Event{Kind: EventChainChanged, ChainID: chainID})
	return nil
}

func (p *KeyProvider) AddChain(_ context.Context, d ChainDescriptor) error {
	if len(d.RPCURLs) == 0 {
		return fmt.Errorf("chain %d: descriptor has no rpc url", d.ChainID)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.endpoints[d.ChainID]; !ok {
		p.endpoints[d.ChainID] = d.RPCURLs[0]
	}
	return nil
}

func (p *KeyProvider) Balance(ctx context.Context, account common.Address) (*big.Int, error) {
	c, err := p.client(ctx)
	if err != nil {
		return nil, err
	}
	return c.BalanceAt(ctx, account, nil)
}

func (p *KeyProvider) SignTx(_ context.Context, from common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	if from != p.from {
		return nil, fmt.Errorf("%w: unknown account %s", ErrUserRejected, from.Hex())
	}
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), p.key)
}

func (p *KeyProvider) Events() <-chan Event { return p.events }

// Close emits a disconnect event and closes the event stream.
func (p *KeyProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.emitLocked(Event{Kind: EventDisconnect})
	p.closed = true
	close(p.events)
	return nil
}

// client returns a cached client for the current chain, dialing on first use.
func (p *KeyProvider) client(ctx context.Context) (BalanceReader, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[p.chainID]; ok {
		return c, nil
	}
	url, ok := p.endpoints[p.chainID]
	if !ok {
		return nil, fmt.Errorf("no rpc endpoint for chain %d", p.chainID)
	}
	c, err := p.dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dialing chain %d: %w", p.chainID, err)
	}
	p.clients[p.chainID] = c
	return c, nil
}

func (p *KeyProvider) emitLocked(ev Event) {
	if p.closed {
		return
	}
	select {
	case p.events <- ev:
	default:
	}
}
