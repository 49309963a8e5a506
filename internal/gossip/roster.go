package gossip

import (
	"sync"
	"time"

	"github.com/edgecoder-mesh/edgecoder/internal/domain"
	"github.com/edgecoder-mesh/edgecoder/internal/elog"
)

var logger = elog.New("gossip")

// Roster is the non-durable peer set (spec §4.5). Only the originating peer
// mutates its own entry (spec §3 ownership); gossip-received peer_announce
// messages may only update liveness/metadata, never the trusted public key
// (see DESIGN.md open-question decision).
type Roster struct {
	mu    sync.RWMutex
	peers map[string]domain.PeerRecord
}

// NewRoster constructs a roster seeded from the operator-provided trusted
// peer list (their public keys are the root of trust; see DESIGN.md).
func NewRoster(trusted []domain.PeerRecord) *Roster {
	r := &Roster{peers: make(map[string]domain.PeerRecord, len(trusted))}
	for _, p := range trusted {
		r.peers[p.PeerID] = p
	}
	return r
}

// Upsert inserts or refreshes liveness/coordinatorUrl/reputation fields for
// a peer on enrollment/heartbeat. It never changes an existing peer's public
// key: a peer's key is trusted only from the roster it was seeded with.
func (r *Roster) Upsert(update domain.PeerRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.peers[update.PeerID]
	if !ok {
		r.peers[update.PeerID] = update
		return
	}
	existing.CoordinatorURL = update.CoordinatorURL
	existing.NetworkMode = update.NetworkMode
	existing.LastSeenMs = update.LastSeenMs
	existing.Reputation = update.Reputation
	r.peers[update.PeerID] = existing
}

// Get returns a peer record by id.
func (r *Roster) Get(peerID string) (domain.PeerRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[peerID]
	return p, ok
}

// All returns a snapshot of the current roster.
func (r *Roster) All() []domain.PeerRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.PeerRecord, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	return out
}

// EvictStale removes peers whose LastSeenMs is older than staleness.
func (r *Roster) EvictStale(staleness time.Duration, nowMs int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := nowMs - staleness.Milliseconds()
	removed := 0
	for id, p := range r.peers {
		if p.LastSeenMs < cutoff {
			delete(r.peers, id)
			removed++
		}
	}
	if removed > 0 {
		logger.Infow("evicted stale peers", "count", removed)
	}
	return removed
}

// RunEvictionSweeper starts a goroutine evicting stale peers on interval
// until stop is closed (spec §5 "the peer roster [is] pruned by dedicated
// sweepers").
func (r *Roster) RunEvictionSweeper(interval, staleness time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.EvictStale(staleness, time.Now().UnixMilli())
			case <-stop:
				return
			}
		}
	}()
}
