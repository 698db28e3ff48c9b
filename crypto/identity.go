package crypto

import (
	"crypto/rand"
	"fmt"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

// Identity is the node's keypair. It is generated once at startup, lives
// for the process lifetime and is never persisted.
type Identity struct {
	priv crypto.PrivKey
	addr peer.ID
}

// Generate creates a fresh ed25519 keypair and derives the peer address
// from its public half.
func Generate() (*Identity, error) {
	priv, pub, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate node keypair: %w", err)
	}

	addr, err := peer.IDFromPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to derive peer address: %w", err)
	}

	return &Identity{priv: priv, addr: addr}, nil
}

// PrivKey returns the private key for the transport handshake.
func (id *Identity) PrivKey() crypto.PrivKey {
	return id.priv
}

// PeerAddress returns the stable identifier derived from the public key.
func (id *Identity) PeerAddress() peer.ID {
	return id.addr
}

func (id *Identity) String() string {
	return id.addr.String()
}
