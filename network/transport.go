package network

import (
	"fmt"

	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/p2p/muxer/yamux"
	"github.com/libp2p/go-libp2p/p2p/security/noise"
	"github.com/libp2p/go-libp2p/p2p/transport/tcp"
	"github.com/multiformats/go-multiaddr"

	"github.com/meshtalk-labs/go-meshtalk/crypto"
)

var log = logging.Logger("network")

// TransportOptions is the secure multiplexed connection factory: every
// connection opened or accepted by a host built from these options runs
// a mutual Noise handshake authenticating both peer addresses with the
// node identity, and multiplexes the encrypted channel into independent
// Yamux streams over TCP.
func TransportOptions(id *crypto.Identity) []libp2p.Option {
	return []libp2p.Option{
		libp2p.Identity(id.PrivKey()),
		libp2p.Transport(tcp.NewTCPTransport),
		libp2p.Security(noise.ID, noise.New),
		libp2p.Muxer(yamux.ID, yamux.DefaultTransport),
	}
}

// NewHost builds the host and binds its listeners. Handshake and
// muxing for each connection run on libp2p's own background goroutines;
// their outcomes reach the runtime only through network events.
func NewHost(id *crypto.Identity, listenAddr string) (host.Host, error) {
	if _, err := multiaddr.NewMultiaddr(listenAddr); err != nil {
		return nil, fmt.Errorf("invalid listen address %q: %w", listenAddr, err)
	}

	opts := append(TransportOptions(id), libp2p.ListenAddrStrings(listenAddr))

	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}

	log.Infow("host listening", "peer", h.ID(), "addrs", h.Addrs())
	return h, nil
}
