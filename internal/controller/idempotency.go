package controller

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/laylaymen/kriptobot-sub001/internal/policy"
)

// IdempotencyKey derives the deterministic key for a policy mutation:
// hash of experiment id, version, calendar day, and the policy config.
// Replaying the same request on the same day yields the same key.
func IdempotencyKey(pol *policy.Policy, day time.Time) string {
	specJSON, err := json.Marshal(pol.Spec)
	if err != nil {
		// Spec marshaling cannot fail for a validated policy; fall back
		// to a version-only key rather than dropping idempotency
		specJSON = []byte(fmt.Sprintf("v%d", pol.Spec.Version))
	}
	configHash := sha256.Sum256(specJSON)

	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%s|%s",
		pol.Metadata.ID,
		pol.Spec.Version,
		day.UTC().Format("2006-01-02"),
		hex.EncodeToString(configHash[:]),
	)
	return hex.EncodeToString(h.Sum(nil))
}

// idemCache remembers acknowledged request keys for a TTL window so that
// duplicate mutating requests are acknowledged without reprocessing.
type idemCache struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[string]time.Time
}

func newIdemCache(ttl time.Duration) *idemCache {
	return &idemCache{
		ttl:  ttl,
		seen: make(map[string]time.Time),
	}
}

// Duplicate reports whether the key was recorded within the TTL window.
// Keys are recorded only after the mutation succeeds, so a retried
// failed request is reprocessed rather than falsely acknowledged.
func (c *idemCache) Duplicate(key string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Opportunistic pruning keeps the map bounded without a sweeper
	for k, at := range c.seen {
		if now.Sub(at) > c.ttl {
			delete(c.seen, k)
		}
	}

	at, ok := c.seen[key]
	return ok && now.Sub(at) <= c.ttl
}

// Record marks the key as processed
func (c *idemCache) Record(key string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen[key] = now
}
