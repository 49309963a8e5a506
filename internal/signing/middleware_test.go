package signing

import (
	"crypto/ed25519"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/edgecoder-mesh/edgecoder/internal/meshrr"
)

func signedRequest(t *testing.T, priv ed25519.PrivateKey, peerID, method, path string, timestampMs int64, nonce string, body []byte) *http.Request {
	t.Helper()
	bodyHash := BodySHA256(body)
	canonical := Request{PeerID: peerID, Method: method, Path: path, TimestampMs: timestampMs, Nonce: nonce, BodySHA256: bodyHash}
	sig := Sign(canonical, priv)

	r := httptest.NewRequest(method, path, nil)
	r.Header.Set("x-agent-id", peerID)
	r.Header.Set("x-timestamp-ms", itoa(timestampMs))
	r.Header.Set("x-nonce", nonce)
	r.Header.Set("x-body-sha256", bodyHash)
	r.Header.Set("x-signature", sig)
	return r
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

func TestVerifyHTTPRequestAccepts(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	store := NewNonceStore(128)
	lookup := func(id string) (ed25519.PublicKey, bool) { return pub, id == "peer-1" }

	r := signedRequest(t, priv, "peer-1", "POST", "/pull", 1_000_000, "nonce-a", []byte("{}"))
	peerID, err := VerifyHTTPRequest(r, []byte("{}"), store, lookup, 1_000_000, 5_000, 60_000)
	require.NoError(t, err)
	require.Equal(t, "peer-1", peerID)
}

func TestVerifyHTTPRequestRejectsReplay(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	store := NewNonceStore(128)
	lookup := func(id string) (ed25519.PublicKey, bool) { return pub, true }

	r1 := signedRequest(t, priv, "peer-1", "POST", "/pull", 1_000_000, "dup-nonce", []byte("{}"))
	_, err := VerifyHTTPRequest(r1, []byte("{}"), store, lookup, 1_000_000, 5_000, 60_000)
	require.NoError(t, err)

	r2 := signedRequest(t, priv, "peer-1", "POST", "/pull", 1_000_000, "dup-nonce", []byte("{}"))
	_, err = VerifyHTTPRequest(r2, []byte("{}"), store, lookup, 1_000_000, 5_000, 60_000)
	require.Error(t, err)
	require.Equal(t, meshrr.KindSignatureReplay, meshrr.KindOf(err))
}

func TestVerifyHTTPRequestRejectsSkew(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	store := NewNonceStore(128)
	lookup := func(id string) (ed25519.PublicKey, bool) { return pub, true }

	maxSkew := int64(5_000)
	r := signedRequest(t, priv, "peer-1", "POST", "/pull", 1_000_000, "nonce-skew", []byte("{}"))
	_, err := VerifyHTTPRequest(r, []byte("{}"), store, lookup, 1_000_000+10*maxSkew, maxSkew, 60_000)
	require.Error(t, err)
	require.Equal(t, meshrr.KindSignatureExpired, meshrr.KindOf(err))
}

func TestVerifyHTTPRequestRejectsBodyMismatch(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	store := NewNonceStore(128)
	lookup := func(id string) (ed25519.PublicKey, bool) { return pub, true }

	r := signedRequest(t, priv, "peer-1", "POST", "/pull", 1_000_000, "nonce-b", []byte("{}"))
	_, err := VerifyHTTPRequest(r, []byte(`{"tampered":true}`), store, lookup, 1_000_000, 5_000, 60_000)
	require.Error(t, err)
	require.Equal(t, meshrr.KindSignatureBodyMismatch, meshrr.KindOf(err))
}

func TestVerifyHTTPRequestRejectsUntrustedPeer(t *testing.T) {
	_, priv, _ := ed25519.GenerateKey(nil)
	store := NewNonceStore(128)
	lookup := func(id string) (ed25519.PublicKey, bool) { return nil, false }

	r := signedRequest(t, priv, "peer-1", "POST", "/pull", 1_000_000, "nonce-c", []byte("{}"))
	_, err := VerifyHTTPRequest(r, []byte("{}"), store, lookup, 1_000_000, 5_000, 60_000)
	require.Error(t, err)
	require.Equal(t, meshrr.KindSignatureUntrustedPeer, meshrr.KindOf(err))
}
