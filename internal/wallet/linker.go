package wallet

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// IdentityLinker persists the wallet address on the application identity
// record. LinkWallet must be an idempotent upsert so it can be retried.
type IdentityLinker interface {
	LinkWallet(ctx context.Context, userID string, address common.Address) error
	UnlinkWallet(ctx context.Context, userID string) error
}

// linkWithRetry calls LinkWallet up to attempts times, doubling the wait
// between tries. Context cancellation stops the loop.
func linkWithRetry(ctx context.Context, l IdentityLinker, userID string, addr common.Address, attempts int, backoff time.Duration) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = l.LinkWallet(ctx, userID, addr); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff << i):
		}
	}
	return err
}
