// Package identity manages a node's stable identifier and Ed25519 keypair
// (spec §3 "Node identity"). The public key is distributed through a
// trusted roster; the private key never leaves the node.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"

	"github.com/pkg/errors"
)

// Identity is a node's stable peer id plus its Ed25519 keypair.
type Identity struct {
	PeerID     string
	PublicKey  ed25519.PublicKey
	privateKey ed25519.PrivateKey
}

// Generate creates a fresh node identity with a random Ed25519 keypair.
// The peer id is derived deterministically from the public key so the
// roster can recompute it without trusting the node's self-reported id.
func Generate() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "generate ed25519 keypair")
	}
	return &Identity{PeerID: DerivePeerID(pub), PublicKey: pub, privateKey: priv}, nil
}

// FromPrivateKey reconstructs an Identity from a 64-byte Ed25519 private key
// seed+pub, e.g. loaded from a local keyfile at boot.
func FromPrivateKey(priv ed25519.PrivateKey) (*Identity, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, errors.New("identity: malformed private key")
	}
	pub := priv.Public().(ed25519.PublicKey)
	return &Identity{PeerID: DerivePeerID(pub), PublicKey: pub, privateKey: priv}, nil
}

// DerivePeerID returns the canonical peer id for a public key: the lowercase
// hex encoding, prefixed so it reads unambiguously in logs and URLs.
func DerivePeerID(pub ed25519.PublicKey) string {
	return "peer-" + hex.EncodeToString(pub)
}

// Sign signs payload with the node's private key. The private key never
// leaves this package.
func (id *Identity) Sign(payload []byte) []byte {
	return ed25519.Sign(id.privateKey, payload)
}
