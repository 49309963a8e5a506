package signing

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/edgecoder-mesh/edgecoder/internal/elog"
)

var logger = elog.New("signing")

// NonceStore is the replay cache contract of spec §4.8: exists, insert,
// prune. The in-memory implementation backs it with a bounded LRU cache,
// the same eviction-cache shape the teacher uses in common/cache.go.
type NonceStore struct {
	mu        sync.Mutex
	cache     *lru.Cache
	highWater int
}

type nonceEntry struct {
	sourceID    string
	expiresAtMs int64
}

// NewNonceStore builds a nonce store capped at capacity entries, pruning
// opportunistically on insert once Len() exceeds highWater.
func NewNonceStore(capacity int) *NonceStore {
	c, err := lru.New(capacity)
	if err != nil {
		// capacity <= 0 is a programmer error; fall back to a sane default
		// rather than panicking on a boot-time misconfiguration.
		c, _ = lru.New(4096)
	}
	return &NonceStore{cache: c, highWater: capacity * 3 / 4}
}

// Exists reports whether nonce is currently tracked (not yet pruned/expired).
func (s *NonceStore) Exists(nonce string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.cache.Get(nonce)
	return ok
}

// Insert records nonce as seen, sourced from sourceID, expiring at expiresAtMs.
func (s *NonceStore) Insert(nonce, sourceID string, expiresAtMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Add(nonce, nonceEntry{sourceID: sourceID, expiresAtMs: expiresAtMs})
	if s.cache.Len() > s.highWater {
		s.pruneLocked(nowMs())
	}
}

// Prune removes all entries whose expiry has passed. Intended to run on a
// timer in addition to the opportunistic prune in Insert (spec §5).
func (s *NonceStore) Prune() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(nowMs())
}

func (s *NonceStore) pruneLocked(now int64) {
	removed := 0
	for _, key := range s.cache.Keys() {
		v, ok := s.cache.Peek(key)
		if !ok {
			continue
		}
		if v.(nonceEntry).expiresAtMs <= now {
			s.cache.Remove(key)
			removed++
		}
	}
	if removed > 0 {
		logger.Debugw("pruned expired nonces", "removed", removed, "remaining", s.cache.Len())
	}
}

// RunPruner starts a goroutine that calls Prune on the given interval until
// stop is closed.
func (s *NonceStore) RunPruner(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Prune()
			case <-stop:
				return
			}
		}
	}()
}

func nowMs() int64 { return time.Now().UnixMilli() }

// VerifyKind is the reason a VerifyNonce call failed.
type VerifyKind string

const (
	VerifyOK            VerifyKind = ""
	VerifyTimestampSkew VerifyKind = "timestamp_skew"
	VerifyReplay        VerifyKind = "replay"
)

// VerifyNonce applies spec §4.8's verifyNonce contract: fails with
// timestamp_skew when |now-ts| > maxSkew, replay when the nonce has already
// been seen, else inserts the nonce (with the given TTL) and passes.
func VerifyNonce(store *NonceStore, nonce, sourceID string, timestampMs, nowMs, maxSkewMs, ttlMs int64) VerifyKind {
	skew := timestampMs - nowMs
	if skew < 0 {
		skew = -skew
	}
	if skew > maxSkewMs {
		return VerifyTimestampSkew
	}
	if store.Exists(nonce) {
		return VerifyReplay
	}
	store.Insert(nonce, sourceID, nowMs+ttlMs)
	return VerifyOK
}
