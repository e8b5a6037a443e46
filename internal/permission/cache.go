// Package permission caches the signed-in user's entitlements with a fixed
// time-to-live. The cache performs no network I/O; callers refetch on a miss.
package permission

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"allin/internal/storage"
	"allin/pkg/logging"
)

// Key is the storage key of the persisted snapshot. It is kept apart from
// the identity keys so clearing one does not clear the other.
const Key = "permissions"

// Snapshot is an entitlement set with its expiry.
type Snapshot struct {
	Entitlements []string  `json:"entitlements"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Has reports whether the entitlement is granted.
func (s *Snapshot) Has(entitlement string) bool {
	if s == nil {
		return false
	}
	i := sort.SearchStrings(s.Entitlements, entitlement)
	return i < len(s.Entitlements) && s.Entitlements[i] == entitlement
}

func (s *Snapshot) expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Cache holds at most one Snapshot, in memory and in a backing store.
type Cache struct {
	mu      sync.Mutex
	store   storage.Store
	clock   clockwork.Clock
	current *Snapshot
}

// NewCache returns a cache persisting to store. A nil clock uses the real clock.
func NewCache(store storage.Store, clock clockwork.Clock) *Cache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Cache{store: store, clock: clock}
}

// Read returns the cached snapshot. A snapshot past its expiry is deleted and
// reported absent. Repeated reads return the same *Snapshot instance.
func (c *Cache) Read() (*Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		c.current = c.load()
	}
	if c.current == nil {
		return nil, false
	}
	if c.current.expired(c.clock.Now()) {
		logging.Debug("Permission", "entitlements expired at %s", c.current.ExpiresAt.Format(time.RFC3339))
		c.current = nil
		if err := c.store.Delete(Key); err != nil {
			logging.Warn("Permission", "failed to delete expired entitlements: %v", err)
		}
		return nil, false
	}
	return c.current, true
}

func (c *Cache) load() *Snapshot {
	raw, ok, err := c.store.Get(Key)
	if err != nil {
		logging.Warn("Permission", "failed to read entitlements: %v", err)
		return nil
	}
	if !ok {
		return nil
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil || snap.ExpiresAt.IsZero() {
		logging.Warn("Permission", "discarding undecodable entitlements")
		if err := c.store.Delete(Key); err != nil {
			logging.Warn("Permission", "failed to delete undecodable entitlements: %v", err)
		}
		return nil
	}
	snap.Entitlements = normalize(snap.Entitlements)
	return &snap
}

// Write replaces the snapshot with entitlements expiring ttl from now.
func (c *Cache) Write(entitlements []string, ttl time.Duration) (*Snapshot, error) {
	if ttl <= 0 {
		return nil, errors.New("permission ttl must be positive")
	}
	snap := &Snapshot{
		Entitlements: normalize(entitlements),
		ExpiresAt:    c.clock.Now().Add(ttl),
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to encode entitlements: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.Set(Key, string(data)); err != nil {
		return nil, fmt.Errorf("failed to persist entitlements: %w", err)
	}
	c.current = snap
	return snap, nil
}

// Invalidate drops the snapshot unconditionally.
func (c *Cache) Invalidate() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.current = nil
	if err := c.store.Delete(Key); err != nil {
		return fmt.Errorf("failed to invalidate entitlements: %w", err)
	}
	return nil
}

// normalize returns a sorted copy without duplicates or blanks.
func normalize(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, e := range in {
		if e == "" {
			continue
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}
