// Package registry caches the active-device lists between cycles. The
// persistent config in Postgres is the source of truth; the scheduler
// refreshes this snapshot at the start of every cycle so device additions
// and deactivations take effect without a restart.
package registry

import (
	"context"
	"sync"
	"time"

	"miner-sentinel/internal/storage/repo"
)

type Store struct {
	src repo.Registry

	mu          sync.RWMutex
	byFamily    map[repo.Family][]repo.Device
	refreshedAt time.Time
}

func NewStore(src repo.Registry) *Store {
	return &Store{
		src:      src,
		byFamily: map[repo.Family][]repo.Device{},
	}
}

// Refresh reloads every family's active devices. On error the previous
// snapshot stays in place, so a transient DB hiccup poisons nothing.
func (s *Store) Refresh(ctx context.Context) error {
	fresh := map[repo.Family][]repo.Device{}
	for _, family := range []repo.Family{repo.FamilyBitaxe, repo.FamilyAvalon} {
		devices, err := s.src.ListActiveDevices(ctx, family)
		if err != nil {
			return err
		}
		fresh[family] = devices
	}

	s.mu.Lock()
	s.byFamily = fresh
	s.refreshedAt = time.Now().UTC()
	s.mu.Unlock()
	return nil
}

// Snapshot returns a copy of one family's device list.
func (s *Store) Snapshot(family repo.Family) []repo.Device {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]repo.Device(nil), s.byFamily[family]...)
}

// Counts returns per-family device counts and the snapshot age, for the
// status endpoint.
func (s *Store) Counts() (map[repo.Family]int, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[repo.Family]int, len(s.byFamily))
	for f, devices := range s.byFamily {
		out[f] = len(devices)
	}
	return out, s.refreshedAt
}
