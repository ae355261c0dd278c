// Package commitment persists the local secret/choice pair used by the
// commit-reveal scheme, keyed by room id. Losing a record (different device,
// cleared storage) is an expected condition the session layer surfaces as
// "commitment lost"; it is never fatal.
package commitment

import (
	"context"
	"time"

	"github.com/flipgg/flipsync/internal/events"
)

// Record is the persisted secret material for one room. At most one live
// record exists per room; a fresh commit for the same room overwrites it.
type Record struct {
	RoomID    string
	Choice    events.CoinSide
	Secret    uint64
	CreatedAt time.Time
}

// Store is durable local storage for commitment records.
//
// Put overwrites any existing record for the room and fails only on storage
// unavailability; callers treat that as a degraded-mode warning, not an
// abort. Get reports absence via the bool, never as an error. Remove is
// idempotent. Concurrent writers for the same room are last-write-wins; only
// one context ends up holding the secret that matches the on-chain
// commitment, and that is the one that can reveal.
type Store interface {
	Put(ctx context.Context, rec Record) error
	Get(ctx context.Context, roomID string) (Record, bool, error)
	Remove(ctx context.Context, roomID string) error
	Close() error
}
