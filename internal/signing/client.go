package signing

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"strconv"
	"time"
)

// Signer is the narrow capability a client needs to produce the raw Ed25519
// signature bytes over a payload, satisfied by *identity.Identity without
// importing it here (avoids a signing<->identity import cycle).
type Signer interface {
	Sign(payload []byte) []byte
}

// NewSignedRequest builds an http.Request carrying the headers
// VerifyHTTPRequest expects: x-agent-id, x-timestamp-ms, x-nonce,
// x-body-sha256, x-signature (spec §4.8). peerID is the caller's own id.
func NewSignedRequest(ctx context.Context, signer Signer, peerID, method, url, path string, body []byte) (*http.Request, error) {
	bodyHash := BodySHA256(body)
	timestampMs := time.Now().UnixMilli()
	nonce := randomNonce()

	canonical := Request{
		PeerID:      peerID,
		Method:      method,
		Path:        path,
		TimestampMs: timestampMs,
		Nonce:       nonce,
		BodySHA256:  bodyHash,
	}
	sig := signer.Sign(CanonicalPayload(canonical))

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-agent-id", peerID)
	req.Header.Set("x-timestamp-ms", strconv.FormatInt(timestampMs, 10))
	req.Header.Set("x-nonce", nonce)
	req.Header.Set("x-body-sha256", bodyHash)
	req.Header.Set("x-signature", base64.StdEncoding.EncodeToString(sig))
	return req, nil
}

// randomNonce mints a 32-hex-char nonce from crypto/rand.
func randomNonce() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing is a fatal platform problem; a zero nonce is at
		// least deterministically rejected as a replay on the second call
		// rather than silently signing garbage.
		return hex.EncodeToString(buf)
	}
	return hex.EncodeToString(buf)
}
