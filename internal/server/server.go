// Package server exposes the lifecycle coordinator and the wallet session
// over HTTP for UI consumers.
package server

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alfredjeanlab/leasebridge/internal/events"
	"github.com/alfredjeanlab/leasebridge/internal/lifecycle"
	"github.com/alfredjeanlab/leasebridge/internal/metrics"
	"github.com/alfredjeanlab/leasebridge/internal/model"
	"github.com/alfredjeanlab/leasebridge/internal/wallet"
)

// Coordinator is the lifecycle surface the server exposes.
// *lifecycle.Coordinator implements it.
type Coordinator interface {
	Perform(ctx context.Context, req lifecycle.Request) (*lifecycle.Outcome, error)
	Recommend(ctx context.Context, agreementID, identityID string) (*lifecycle.Recommendation, error)
	Inspect(ctx context.Context, agreementID string) (*lifecycle.Report, error)
	Reconcile(ctx context.Context, agreementID string) (*lifecycle.Report, error)
	Resolve(ctx context.Context, agreementID string, res lifecycle.Resolution) (*lifecycle.Report, error)
	Conflicts() []*lifecycle.Conflict
	Journal(ctx context.Context, filter model.JournalFilter) ([]*model.JournalEntry, error)
}

// Wallet is the wallet session surface the server exposes.
// *wallet.Session implements it.
type Wallet interface {
	Snapshot() wallet.State
	Target() wallet.ChainDescriptor
	Identity() string
	SetIdentity(id string)
	Connect(ctx context.Context) (wallet.State, error)
	Disconnect(ctx context.Context) error
	RefreshBalance(ctx context.Context, account common.Address) (*big.Int, error)
}

// Options configures a Server.
type Options struct {
	// AuthToken enables bearer auth when non-empty.
	AuthToken string
	// Registries are served at GET /metrics together with the server's own.
	Registries []*metrics.ComponentRegistry
	Logger  *slog.Logger
	// Keepalive overrides the SSE keepalive interval.
	Keepalive time.Duration
}

// Server is the HTTP facade.
type Server struct {
	coord     Coordinator
	wallet    Wallet
	hub       *sseHub
	metrics   http.Handler
	http      *httpMetrics
	authToken string
	logger    *slog.Logger
	keepalive time.Duration
	started   time.Time
}

// New returns a server. Events published to Events() reach SSE clients.
func New(coord Coordinator, w Wallet, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Keepalive <= 0 {
		opts.Keepalive = sseKeepaliveInterval
	}
	hm := newHTTPMetrics()
	return &Server{
		coord:     coord,
		wallet:    w,
		hub:       newSSEHub(),
		metrics:   metrics.Handler(append(opts.Registries, hm.registry)...),
		http:      hm,
		authToken: opts.AuthToken,
		logger:    opts.Logger.With("component", "http"),
		keepalive: opts.Keepalive,
		started:   time.Now(),
	}
}

// Events returns the publisher feeding the event stream.
func (s *Server) Events() events.Publisher { return s.hub }
