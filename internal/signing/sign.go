// Package signing implements Ed25519 request signing/verification and the
// nonce replay cache for inter-node HTTP requests (spec §4.8).
//
// Canonical payload over a signed request:
//
//	{peerId, method, path(no query), timestampMs, nonce, bodySha256}
package signing

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// Request is the set of fields covered by a signature (spec §4.8).
type Request struct {
	PeerID      string
	Method      string
	Path        string // path only, no query string
	TimestampMs int64
	Nonce       string
	BodySHA256  string // hex-encoded
}

// BodySHA256 hex-encodes the SHA-256 of the exact JSON bytes sent.
func BodySHA256(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// CanonicalPayload renders the canonical byte string signed by Sign/verified
// by Verify. Field order and separators are fixed; any change here breaks
// interop with every peer on the mesh.
func CanonicalPayload(r Request) []byte {
	return []byte(fmt.Sprintf("%s|%s|%s|%d|%s|%s",
		r.PeerID, r.Method, r.Path, r.TimestampMs, r.Nonce, r.BodySHA256))
}

// Sign signs the canonical payload for r and returns base64(Ed25519(payload)).
func Sign(r Request, priv ed25519.PrivateKey) string {
	sig := ed25519.Sign(priv, CanonicalPayload(r))
	return base64.StdEncoding.EncodeToString(sig)
}

// Verify reports whether signature is a valid Ed25519 signature over r's
// canonical payload under pub.
func Verify(r Request, signature string, pub ed25519.PublicKey) bool {
	raw, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, CanonicalPayload(r), raw)
}
