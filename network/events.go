package network

import (
	"fmt"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

// Event is the union of everything the network layer reports to the
// runtime loop. Exactly one variant is handled per loop iteration; the
// coordinator switches on the concrete type.
type Event interface {
	event()
}

// PeerAppeared reports a peer newly seen by local discovery.
type PeerAppeared struct {
	Peer  peer.ID
	Addrs []multiaddr.Multiaddr
}

// PeerDisappeared reports a peer whose discovery record expired.
type PeerDisappeared struct {
	Peer  peer.ID
	Addrs []multiaddr.Multiaddr
}

// MessageReceived carries an inbound broadcast for a subscribed topic.
type MessageReceived struct {
	Topic string
	From  peer.ID
	Data  []byte
}

func (PeerAppeared) event()    {}
func (PeerDisappeared) event() {}
func (MessageReceived) event() {}

func (e PeerAppeared) String() string {
	return fmt.Sprintf("peer appeared: %s", e.Peer)
}

func (e PeerDisappeared) String() string {
	return fmt.Sprintf("peer disappeared: %s", e.Peer)
}

func (e MessageReceived) String() string {
	return fmt.Sprintf("message on %q from %s (%d bytes)", e.Topic, e.From, len(e.Data))
}
