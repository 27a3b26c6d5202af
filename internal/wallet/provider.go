// Package wallet owns the connection to a wallet provider: the active
// account, network and balance, and the provider's pushed events.
package wallet

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Provider errors. Implementations wrap these so callers can use errors.Is.
var (
	// ErrUserRejected is returned when the wallet's user declines a request
	// (EIP-1193 code 4001).
	ErrUserRejected = errors.New("user rejected the request")
	// ErrUnknownChain is returned by SwitchChain when the wallet has no
	// configuration for the chain (EIP-1193 code 4902).
	ErrUnknownChain = errors.New("chain not added to wallet")
	// ErrNoAccounts is returned when the wallet exposes no account.
	ErrNoAccounts = errors.New("wallet exposes no accounts")
)

// EventKind is the fixed set of provider-pushed events.
type EventKind string

const (
	EventAccountsChanged EventKind = "accountsChanged"
	EventChainChanged    EventKind = "chainChanged"
	EventDisconnect      EventKind = "disconnect"
)

// Event is a provider-pushed notification.
type Event struct {
	Kind     EventKind
	Accounts []common.Address
	ChainID  uint64
}

// Provider is the wallet collaborator. Events delivers accountsChanged,
// chainChanged and disconnect notifications; it is closed when the
// provider shuts down.
type Provider interface {
	RequestAccounts(ctx context.Context) ([]common.Address, error)
	ChainID(ctx context.Context) (uint64, error)
	SwitchChain(ctx context.Context, chainID uint64) error
	AddChain(ctx context.Context, d ChainDescriptor) error
	Balance(ctx context.Context, account common.Address) (*big.Int, error)
	SignTx(ctx context.Context, from common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
	Events() <-chan Event
}
