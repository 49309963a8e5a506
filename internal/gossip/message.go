// Package gossip implements the non-durable peer registry, signed
// message fan-out, and capability aggregation of spec §4.5.
package gossip

import (
	"encoding/json"
	"time"

	"github.com/edgecoder-mesh/edgecoder/internal/domain"
)

// PeerAnnouncePayload is the typed payload of a peer_announce message
// (spec §9 "tagged variants": the codec dispatches on Type).
type PeerAnnouncePayload struct {
	PeerID         string `json:"peerId"`
	CoordinatorURL string `json:"coordinatorUrl"`
	NetworkMode    string `json:"networkMode"`
}

// CapabilitySummaryPayload is the typed payload of a capability_summary
// message.
type CapabilitySummaryPayload struct {
	domain.CapabilitySummary
}

// BlacklistUpdatePayload is the typed payload of a blacklist_update message.
type BlacklistUpdatePayload struct {
	PeerID string `json:"peerId"`
	Reason string `json:"reason"`
}

// TaskCompletePayload is the typed payload of an advisory-only
// task_complete message.
type TaskCompletePayload struct {
	TaskID string `json:"taskId"`
}

// EncodePayload marshals a typed payload for embedding in a GossipMessage.
func EncodePayload(v interface{}) ([]byte, error) { return json.Marshal(v) }

// NewMessage builds an unsigned gossip envelope; the caller signs it.
func NewMessage(msgType domain.GossipType, fromPeerID string, ttl time.Duration, payload []byte) domain.GossipMessage {
	return domain.GossipMessage{
		ID:         domain.NewID(),
		Type:       msgType,
		FromPeerID: fromPeerID,
		IssuedAtMs: time.Now().UnixMilli(),
		TTLMs:      ttl.Milliseconds(),
		Payload:    payload,
	}
}

// Expired reports whether msg is older than its TTL as of nowMs.
func Expired(msg domain.GossipMessage, nowMs int64) bool {
	return nowMs-msg.IssuedAtMs > msg.TTLMs
}
