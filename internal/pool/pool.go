// Package pool defines the pool-backend abstraction. Exactly one backend is
// active at a time, selected by collector settings.
package pool

import (
	"context"

	"miner-sentinel/internal/storage/repo"
)

// Backend fetches aggregate pool-side stats for one payout address.
type Backend interface {
	// Name identifies the backend in logs and settings ("ckpool",
	// "publicpool").
	Name() string
	FetchStats(ctx context.Context, address string) (repo.PoolSample, error)
}
