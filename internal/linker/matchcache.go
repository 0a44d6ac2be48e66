package linker

import (
	"sync"

	"github.com/jbhul/audiobookshelf-calibre-sync/internal/library"
	"github.com/jbhul/audiobookshelf-calibre-sync/internal/logger"
)

// MatchCache persists identity resolution outcomes keyed by normalized
// title/author signature. Positive entries map a signature to a remote item
// ID; negative entries record that a search found nothing.
//
// Store failures degrade gracefully: a failed lookup behaves as a miss and a
// failed write is logged and dropped, so a broken cache never blocks linking.
type MatchCache struct {
	store  *library.Store
	logger *logger.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewMatchCache creates a match cache over the given store
func NewMatchCache(store *library.Store, log *logger.Logger) *MatchCache {
	if log == nil {
		log = logger.Get()
	}
	return &MatchCache{
		store: store,
		logger: log.With(map[string]interface{}{
			"component": "match_cache",
		}),
		locks: make(map[string]*sync.Mutex),
	}
}

// LockSignature serializes concurrent resolution of the same signature.
// It returns the unlock function. Distinct signatures never block each other.
func (c *MatchCache) LockSignature(signature string) func() {
	c.mu.Lock()
	lock, ok := c.locks[signature]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[signature] = lock
	}
	c.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// Lookup returns the cached entry for a signature, if any
func (c *MatchCache) Lookup(signature string) (*library.MatchEntry, bool) {
	entry, ok, err := c.store.GetMatch(signature)
	if err != nil {
		c.logger.Warn("Match cache lookup failed, treating as miss", map[string]interface{}{
			"signature": signature,
			"error":     err.Error(),
		})
		return nil, false
	}
	return entry, ok
}

// StorePositive caches a successful match
func (c *MatchCache) StorePositive(signature, remoteID string) {
	err := c.store.PutMatch(&library.MatchEntry{
		Signature: signature,
		RemoteID:  remoteID,
	})
	if err != nil {
		c.logger.Warn("Failed to store match cache entry", map[string]interface{}{
			"signature": signature,
			"error":     err.Error(),
		})
	}
}

// StoreNegative caches a no-match outcome
func (c *MatchCache) StoreNegative(signature string) {
	err := c.store.PutMatch(&library.MatchEntry{
		Signature: signature,
		Negative:  true,
	})
	if err != nil {
		c.logger.Warn("Failed to store negative cache entry", map[string]interface{}{
			"signature": signature,
			"error":     err.Error(),
		})
	}
}

// Invalidate removes the cached entry for a signature
func (c *MatchCache) Invalidate(signature string) {
	if err := c.store.DeleteMatch(signature); err != nil {
		c.logger.Warn("Failed to invalidate match cache entry", map[string]interface{}{
			"signature": signature,
			"error":     err.Error(),
		})
	}
}
