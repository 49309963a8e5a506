package signing

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	req := Request{
		PeerID:      "peer-abc",
		Method:      "POST",
		Path:        "/pull",
		TimestampMs: 1_700_000_000_000,
		Nonce:       "nonce-1",
		BodySHA256:  BodySHA256([]byte(`{"agentId":"a1"}`)),
	}

	sig := Sign(req, priv)
	require.True(t, Verify(req, sig, pub))
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	req := Request{PeerID: "peer-abc", Method: "POST", Path: "/pull", TimestampMs: 1, Nonce: "n", BodySHA256: BodySHA256([]byte("a"))}
	sig := Sign(req, priv)

	tampered := req
	tampered.BodySHA256 = BodySHA256([]byte("b"))
	require.False(t, Verify(tampered, sig, pub))
}

func TestVerifyRejectsUntrustedKey(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	otherPub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	req := Request{PeerID: "peer-abc", Method: "GET", Path: "/status", TimestampMs: 1, Nonce: "n"}
	sig := Sign(req, priv)
	require.False(t, Verify(req, sig, otherPub))
}
