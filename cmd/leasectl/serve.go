package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/leasebridge/internal/config"
	"github.com/alfredjeanlab/leasebridge/internal/events"
	"github.com/alfredjeanlab/leasebridge/internal/ledger"
	"github.com/alfredjeanlab/leasebridge/internal/lifecycle"
	"github.com/alfredjeanlab/leasebridge/internal/metrics"
	"github.com/alfredjeanlab/leasebridge/internal/recordstore"
	"github.com/alfredjeanlab/leasebridge/internal/server"
	"github.com/alfredjeanlab/leasebridge/internal/store"
	"github.com/alfredjeanlab/leasebridge/internal/store/memory"
	"github.com/alfredjeanlab/leasebridge/internal/store/postgres"
	leasesync "github.com/alfredjeanlab/leasebridge/internal/sync"
	"github.com/alfredjeanlab/leasebridge/internal/wallet"
)

// walletPollInterval is how often an external wallet provider is polled for
// account and network changes.
const walletPollInterval = 2 * time.Second

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start the leasebridge server",
	GroupID: "system",
	// Override PersistentPreRunE so we don't create an API client.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Journal: Postgres when configured, otherwise in memory.
		var journal store.Journal
		if cfg.DatabaseURL != "" {
			pg, err := postgres.New(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			journal = pg
			logger.Info("journal enabled", "backend", "postgres")
		} else {
			journal = memory.New()
			logger.Info("journal in memory (LEASE_DATABASE_URL not set)")
		}
		defer journal.Close()

		// Wallet provider. With neither a key nor a wallet endpoint the
		// session stays disconnected and ledger actions are refused.
		var provider wallet.Provider
		switch {
		case cfg.WalletKey != "":
			kp, err := wallet.NewKeyProvider(cfg.WalletKey, cfg.ChainID, map[uint64]string{cfg.ChainID: cfg.RPCURL})
			if err != nil {
				return fmt.Errorf("loading wallet key: %w", err)
			}
			defer kp.Close()
			provider = kp
			logger.Info("wallet provider enabled", "kind", "key", "address", kp.Address().Hex())
		case cfg.WalletRPCURL != "":
			rp, err := wallet.DialRPCProvider(ctx, cfg.WalletRPCURL, logger)
			if err != nil {
				return fmt.Errorf("connecting to wallet provider: %w", err)
			}
			defer rp.Close()
			go rp.Watch(ctx, walletPollInterval)
			provider = rp
			logger.Info("wallet provider enabled", "kind", "rpc", "url", cfg.WalletRPCURL)
		default:
			logger.Warn("no wallet provider (LEASE_WALLET_KEY and LEASE_WALLET_RPC_URL not set), running read-only")
		}

		// Event publishers: the server's SSE hub always, NATS when set.
		var natsPub events.Publisher = &events.NoopPublisher{}
		if cfg.NATSURL != "" {
			pub, err := events.NewNATSPublisher(cfg.NATSURL)
			if err != nil {
				return err
			}
			natsPub = pub
			logger.Info("events enabled", "nats_url", cfg.NATSURL)
		} else {
			logger.Info("NATS events disabled (LEASE_NATS_URL not set)")
		}
		// Fanout is filled in once the server (and its hub) exists.
		fanout := &lazyPublisher{}

		records := recordstore.NewClient(cfg.RecordStoreURL, cfg.RecordStoreToken)

		target, ok := wallet.DescriptorFor(cfg.ChainID)
		if !ok {
			target = wallet.ChainDescriptor{
				ChainID:        cfg.ChainID,
				ChainName:      wallet.ChainName(cfg.ChainID),
				NativeCurrency: wallet.NativeCurrency{Name: "Ether", Symbol: "ETH", Decimals: 18},
				RPCURLs:        []string{cfg.RPCURL},
			}
		}
		session := wallet.NewSession(provider, wallet.SessionConfig{
			Target:    target,
			Linker:    records,
			Publisher: fanout,
			Logger:    logger,
		})
		session.SetIdentity(cfg.Identity)

		eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
		if err != nil {
			return fmt.Errorf("connecting to ledger node: %w", err)
		}
		defer eth.Close()

		ledgerClient := ledger.NewClient(eth, session, ledger.Config{
			FactoryAddress:      common.HexToAddress(cfg.FactoryAddress),
			Confirmations:       cfg.Confirmations,
			ConfirmationTimeout: cfg.ConfirmationTimeout,
			PollInterval:        cfg.PollInterval,
			GasLimitBufferPct:   20,
		}, logger)

		m := lifecycle.NewMetrics()
		coord := lifecycle.NewCoordinator(records, ledgerClient, session, journal, lifecycle.Config{
			PersistAttempts: cfg.PersistAttempts,
			Publisher:       fanout,
			Metrics:         m,
			Logger:          logger,
		})

		srv := server.New(coord, session, server.Options{
			AuthToken:  cfg.AuthToken,
			Registries: []*metrics.ComponentRegistry{m.Registry()},
			Logger:     logger,
		})
		fanout.set(events.Fanout{srv.Events(), natsPub})
		defer fanout.Close()

		session.Start(ctx)

		// Replay journal entries left open by an earlier run.
		if n, err := coord.Recover(ctx); err != nil {
			logger.Error("journal recovery failed", "error", err)
		} else if n > 0 {
			logger.Info("journal recovery", "open_entries", n)
		}

		httpServer := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server error", "error", err)
			}
		}()

		scheduler := startSync(ctx, cfg, journal, logger)

		logger.Info("leasebridge server started",
			"http_addr", cfg.HTTPAddr,
			"chain_id", cfg.ChainID,
			"identity", cfg.Identity,
		)

		// Wait for SIGINT or SIGTERM.
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "error", err)
		}
		logger.Info("HTTP server stopped")

		if scheduler != nil {
			scheduler.Stop()
			logger.Info("sync scheduler stopped")
		}

		cancel()
		<-session.Done()
		logger.Info("shutdown complete")
		return nil
	},
}

// startSync starts the journal export scheduler when an interval and at
// least one destination are configured.
func startSync(ctx context.Context, cfg *config.Config, journal store.Journal, logger *slog.Logger) *leasesync.Scheduler {
	if cfg.SyncInterval <= 0 {
		return nil
	}
	var dests []leasesync.Destination
	if cfg.SyncS3Bucket != "" {
		s3Dest, err := leasesync.NewS3Destination(ctx, leasesync.S3Options{
			Bucket:    cfg.SyncS3Bucket,
			Key:       cfg.SyncS3Key,
			Region:    cfg.SyncS3Region,
			Endpoint:  cfg.SyncS3Endpoint,
			Snapshots: cfg.SyncS3Snapshot,
		})
		if err != nil {
			logger.Error("failed to create S3 sync destination", "error", err)
		} else {
			dests = append(dests, s3Dest)
			logger.Info("sync S3 destination enabled", "bucket", cfg.SyncS3Bucket, "key", cfg.SyncS3Key)
		}
	}
	if cfg.SyncFile != "" {
		dests = append(dests, leasesync.NewFileDestination(cfg.SyncFile))
		logger.Info("sync file destination enabled", "path", cfg.SyncFile)
	}
	if len(dests) == 0 {
		return nil
	}
	scheduler := leasesync.NewScheduler(journal, dests, cfg.SyncInterval, logger)
	scheduler.Start()
	logger.Info("sync scheduler started", "interval", cfg.SyncInterval)
	return scheduler
}

// lazyPublisher forwards to a publisher that is set after construction.
// Events published before set are dropped.
type lazyPublisher struct {
	mu  sync.RWMutex
	pub events.Publisher
}

func (p *lazyPublisher) set(pub events.Publisher) {
	p.mu.Lock()
	p.pub = pub
	p.mu.Unlock()
}

func (p *lazyPublisher) Publish(ctx context.Context, topic string, event any) error {
	p.mu.RLock()
	pub := p.pub
	p.mu.RUnlock()
	if pub == nil {
		return nil
	}
	return pub.Publish(ctx, topic, event)
}

func (p *lazyPublisher) Close() error {
	p.mu.RLock()
	pub := p.pub
	p.mu.RUnlock()
	if pub == nil {
		return nil
	}
	return pub.Close()
}
