// Package client provides a transport-agnostic interface for the leasebridge
// service and an HTTP/JSON implementation that talks to its REST API.
package client

import (
	"context"
	"fmt"
	"time"

	"github.com/alfredjeanlab/leasebridge/internal/lifecycle"
	"github.com/alfredjeanlab/leasebridge/internal/model"
)

// LeaseClient is the interface that all leasectl commands use to talk to a
// running leasebridge server.
type LeaseClient interface {
	// Agreements
	Show(ctx context.Context, agreementID string) (*lifecycle.Report, error)
	Perform(ctx context.Context, req *ActionRequest) (*lifecycle.Outcome, error)
	Next(ctx context.Context, agreementID, identityID string) (*lifecycle.Recommendation, error)
	Reconcile(ctx context.Context, agreementID string) (*lifecycle.Report, error)
	Resolve(ctx context.Context, agreementID string, res lifecycle.Resolution) (*lifecycle.Report, error)

	// Conflicts and journal
	ListConflicts(ctx context.Context) ([]*lifecycle.Conflict, error)
	ListJournal(ctx context.Context, req *JournalRequest) ([]*model.JournalEntry, error)

	// Wallet
	Wallet(ctx context.Context) (*Wallet, error)
	ConnectWallet(ctx context.Context, identityID string) (*Wallet, error)
	DisconnectWallet(ctx context.Context) (*Wallet, error)
	Balance(ctx context.Context, address string) (*Balance, error)

	// Events
	StreamEvents(ctx context.Context, req *StreamRequest, fn func(Event) error) error

	// Health
	Health(ctx context.Context) (*Health, error)

	// Lifecycle
	Close() error
}

// ActionRequest holds parameters for an agreement action.
type ActionRequest struct {
	AgreementID string       `json:"-"`
	Action      model.Action `json:"-"`
	IdentityID  string       `json:"identityId,omitempty"`
	Signature   string       `json:"signature,omitempty"`
	Reason      string       `json:"reason,omitempty"`
	Description string       `json:"description,omitempty"`
}

// JournalRequest holds parameters for listing journal entries.
type JournalRequest struct {
	AgreementID string
	States      []string
	Since       time.Time
	Limit       int
}

// StreamRequest narrows the event stream.
type StreamRequest struct {
	Topics      []string
	AgreementID string
	LastEventID string
}

// Event is one server-sent event.
type Event struct {
	ID    string
	Topic string
	Data  []byte
}

// Wallet is the server's wallet session view.
type Wallet struct {
	Connected    bool   `json:"connected"`
	Identity     string `json:"identity,omitempty"`
	Account      string `json:"account,omitempty"`
	ChainID      uint64 `json:"chainId,omitempty"`
	ChainName    string `json:"chainName,omitempty"`
	OnTarget     bool   `json:"onTarget"`
	Balance      string `json:"balance,omitempty"`
	BalanceEther string `json:"balanceEther,omitempty"`
	Linked       bool   `json:"linked"`
	Generation   uint64 `json:"generation"`
	ExplorerURL  string `json:"explorerUrl,omitempty"`
}

// Balance is the response from Balance.
type Balance struct {
	Address      string `json:"address"`
	Balance      string `json:"balance"`
	BalanceEther string `json:"balanceEther"`
}

// Health is the response from Health.
type Health struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Wallet        bool   `json:"wallet"`
	ChainID       uint64 `json:"chain_id"`
	TargetChainID uint64 `json:"target_chain_id"`
	OpenConflicts int    `json:"open_conflicts"`
}

// APIError is a non-2xx response. Kind carries the server's error
// classification when there is one.
type APIError struct {
	StatusCode int
	Message    string
	Kind       model.ErrorKind
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("HTTP %d (%s): %s", e.StatusCode, e.Kind, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}
