package gossip

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/edgecoder-mesh/edgecoder/internal/domain"
	"github.com/edgecoder-mesh/edgecoder/internal/meshrr"
)

// Mesh is the gossip runtime: ingest/dedupe/merge, fan-out, and capability
// aggregation (spec §4.5).
type Mesh struct {
	roster *Roster

	seenMu sync.Mutex
	seen   *lru.Cache // message id -> struct{}, dedupe per spec §4.1

	blacklistMu sync.Mutex
	blacklist   []domain.BlacklistEntry

	capMu sync.RWMutex
	caps  *lru.Cache // coordinatorId -> domain.CapabilitySummary

	httpClient *http.Client
}

// BroadcastResult is the {sent, failed} shape spec §4.5 returns.
type BroadcastResult struct {
	Sent   int
	Failed int
}

// NewMesh builds a Mesh over roster, with a dedupe window capacity and an
// HTTP client used for fan-out POSTs.
func NewMesh(roster *Roster, dedupeCapacity int) *Mesh {
	seen, _ := lru.New(dedupeCapacity)
	caps, _ := lru.New(256)
	return &Mesh{
		roster:     roster,
		seen:       seen,
		caps:       caps,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Ingest applies spec §4.1/§4.5's gossip ingest contract: dedupe by id,
// reject messages older than ttlMs, verify the sender's signature against
// the roster's trusted key, then apply the payload-type-specific merge
// rule. Signature verification always happens before any state mutation
// (spec §8 invariant).
func (m *Mesh) Ingest(msg domain.GossipMessage, nowMs int64) error {
	m.seenMu.Lock()
	if _, dup := m.seen.Get(msg.ID); dup {
		m.seenMu.Unlock()
		return nil // duplicate gossip is silently ignored, spec §4.1
	}
	m.seenMu.Unlock()

	if Expired(msg, nowMs) {
		return meshrr.New(meshrr.KindValidation, "gossip message expired")
	}

	peer, ok := m.roster.Get(msg.FromPeerID)
	if !ok {
		return meshrr.New(meshrr.KindSignatureUntrustedPeer, "unknown sender peer id")
	}
	if !verifyMessageSignature(msg, peer.PublicKey) {
		return meshrr.New(meshrr.KindSignatureInvalid, "gossip signature invalid")
	}

	m.seenMu.Lock()
	m.seen.Add(msg.ID, struct{}{})
	m.seenMu.Unlock()

	switch msg.Type {
	case domain.GossipPeerAnnounce:
		return m.mergePeerAnnounce(msg)
	case domain.GossipCapabilitySummary:
		return m.mergeCapabilitySummary(msg)
	case domain.GossipBlacklistUpdate:
		return m.mergeBlacklistUpdate(msg)
	case domain.GossipTaskComplete:
		return nil // advisory only, spec §4.1
	case domain.GossipQueueSummary:
		return nil // informational; no merge state beyond capability cache
	default:
		return meshrr.New(meshrr.KindValidation, "unknown gossip message type")
	}
}

func verifyMessageSignature(msg domain.GossipMessage, pub ed25519.PublicKey) bool {
	if len(pub) == 0 {
		return false
	}
	signable := signablePayload(msg)
	sig := []byte(msg.Signature)
	return ed25519.Verify(pub, signable, sig)
}

// signablePayload is the byte string a sender signs for a gossip envelope:
// every field except the signature itself.
func signablePayload(msg domain.GossipMessage) []byte {
	var buf bytes.Buffer
	buf.WriteString(msg.ID)
	buf.WriteString("|")
	buf.WriteString(string(msg.Type))
	buf.WriteString("|")
	buf.WriteString(msg.FromPeerID)
	buf.Write(msg.Payload)
	return buf.Bytes()
}

// Sign produces the signature field for an outbound gossip message.
func Sign(msg domain.GossipMessage, priv ed25519.PrivateKey) string {
	return string(ed25519.Sign(priv, signablePayload(msg)))
}

// SignWith produces the signature field using a narrow signer capability
// rather than a raw private key, so a caller holding only an
// identity.Identity (whose private key never leaves that package, per spec
// §3) can still sign an outbound envelope.
func SignWith(msg domain.GossipMessage, sign func([]byte) []byte) string {
	return string(sign(signablePayload(msg)))
}

func (m *Mesh) mergePeerAnnounce(msg domain.GossipMessage) error {
	var payload PeerAnnouncePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return meshrr.Wrap(meshrr.KindValidation, "malformed peer_announce payload", err)
	}
	m.roster.Upsert(domain.PeerRecord{
		PeerID:         payload.PeerID,
		CoordinatorURL: payload.CoordinatorURL,
		NetworkMode:    payload.NetworkMode,
		LastSeenMs:     msg.IssuedAtMs,
	})
	return nil
}

func (m *Mesh) mergeCapabilitySummary(msg domain.GossipMessage) error {
	var payload CapabilitySummaryPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return meshrr.Wrap(meshrr.KindValidation, "malformed capability_summary payload", err)
	}
	m.capMu.Lock()
	defer m.capMu.Unlock()
	m.caps.Add(payload.CoordinatorID, payload.CapabilitySummary) // replaces the prior summary, spec §4.1
	return nil
}

func (m *Mesh) mergeBlacklistUpdate(msg domain.GossipMessage) error {
	var payload BlacklistUpdatePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return meshrr.Wrap(meshrr.KindValidation, "malformed blacklist_update payload", err)
	}
	m.blacklistMu.Lock()
	defer m.blacklistMu.Unlock()
	m.blacklist = append(m.blacklist, domain.BlacklistEntry{PeerID: payload.PeerID, Reason: payload.Reason, IssuedAtMs: msg.IssuedAtMs})
	return nil
}

// Blacklist returns the append-only audit chain of blacklist updates.
func (m *Mesh) Blacklist() []domain.BlacklistEntry {
	m.blacklistMu.Lock()
	defer m.blacklistMu.Unlock()
	out := make([]domain.BlacklistEntry, len(m.blacklist))
	copy(out, m.blacklist)
	return out
}

// Capabilities returns the most recently received summary per coordinator,
// optionally filtered to those listing model.
func (m *Mesh) Capabilities(model string) []domain.CapabilitySummary {
	m.capMu.RLock()
	defer m.capMu.RUnlock()
	var out []domain.CapabilitySummary
	for _, key := range m.caps.Keys() {
		v, ok := m.caps.Peek(key)
		if !ok {
			continue
		}
		summary := v.(domain.CapabilitySummary)
		if model == "" {
			out = append(out, summary)
			continue
		}
		if _, has := summary.Models[model]; has {
			out = append(out, summary)
		}
	}
	return out
}

// Broadcast fire-and-forget POSTs msg to every peer's coordinatorUrl except
// skipPeerID (the sender). Per-peer failures do not abort the fan-out
// (spec §4.5).
func (m *Mesh) Broadcast(ctx context.Context, msg domain.GossipMessage, skipPeerID string) BroadcastResult {
	body, err := json.Marshal(msg)
	if err != nil {
		return BroadcastResult{}
	}

	peers := m.roster.All()
	var result BroadcastResult
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, peer := range peers {
		if peer.PeerID == skipPeerID || peer.CoordinatorURL == "" {
			continue
		}
		wg.Add(1)
		go func(url string) {
			defer wg.Done()
			ok := m.postOne(ctx, url, body)
			mu.Lock()
			if ok {
				result.Sent++
			} else {
				result.Failed++
			}
			mu.Unlock()
		}(peer.CoordinatorURL)
	}
	wg.Wait()
	return result
}

func (m *Mesh) postOne(ctx context.Context, url string, body []byte) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url+"/mesh/gossip", bytes.NewReader(body))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 300
}
