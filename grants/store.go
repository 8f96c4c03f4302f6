package grants

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound covers unknown keys and keys already evicted by TTL. The
	// two are deliberately not distinguished, so callers cannot learn from
	// the error whether a key ever existed.
	ErrNotFound = errors.New("grant not found")

	// ErrAlreadyConsumed is returned when Consume hits a key that was
	// already consumed. Externally it must be treated exactly like
	// ErrNotFound; it exists as a separate value for auditing only.
	ErrAlreadyConsumed = errors.New("grant already consumed")
)

// EvictionGrace is how long a store keeps an entry past the grant's logical
// ExpiresAt. Reads inside the window can classify "expired" explicitly;
// afterwards the key is gone and indistinguishable from never-existed.
const EvictionGrace = 5 * time.Minute

// Store is a keyed, TTL-based store of Grant records. It is the only shared
// mutable resource in the issuance engine, and the only place allowed to
// enforce the consume-once discipline.
//
// Consume must be atomic with respect to concurrent callers: of N concurrent
// Consume calls on one key, exactly one receives the grant, the rest get
// ErrAlreadyConsumed (or ErrNotFound when the loser lost the race before the
// tombstone landed). A read-then-delete sequence is not an acceptable
// implementation.
//
// Reads must be linearizable per key: a Put observed by one caller must be
// observed by every later Get/Consume of the same key.
type Store interface {
	// Put stores grant under key with the given TTL, overwriting any
	// previous value.
	Put(ctx context.Context, key string, grant *Grant, ttl time.Duration) error

	// Get returns the grant stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) (*Grant, error)

	// Consume atomically removes and returns the grant stored under key.
	Consume(ctx context.Context, key string) (*Grant, error)

	// TouchPoll atomically records a poll of key at the given time and
	// returns the previous poll time, or the zero time when key was never
	// polled. The swap must be atomic with respect to concurrent callers so
	// poll pacing never rewrites the grant record itself. The poll record
	// lives at most ttl; consuming or removing the grant clears it.
	TouchPoll(ctx context.Context, key string, at time.Time, ttl time.Duration) (time.Time, error)

	// Remove deletes the grant stored under key. Removing an absent key is
	// not an error.
	Remove(ctx context.Context, key string) error
}
