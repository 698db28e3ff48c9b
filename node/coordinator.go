package node

import (
	"fmt"
	"io"
	"strings"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"

	"github.com/meshtalk-labs/go-meshtalk/network"
)

// broadcastView is the slice of the overlay the coordinator drives.
type broadcastView interface {
	AddToView(p peer.ID, addrs []multiaddr.Multiaddr)
	RemoveFromView(p peer.ID)
}

// liveSet is discovery's own current membership, consulted before a
// disappearance is accepted.
type liveSet interface {
	Contains(p peer.ID) bool
}

// Coordinator routes network events to actions: discovery events keep
// the broadcast partial view in sync, inbound messages go to the output
// sink. It holds no state of its own.
type Coordinator struct {
	topic     string
	overlay   broadcastView
	discovery liveSet
	out       io.Writer
}

func NewCoordinator(topic string, overlay broadcastView, discovery liveSet, out io.Writer) *Coordinator {
	return &Coordinator{
		topic:     topic,
		overlay:   overlay,
		discovery: discovery,
		out:       out,
	}
}

// HandleEvent dispatches one event. A peer is removed from the view
// only when discovery no longer lists it, so a stale disappearance for
// a peer re-discovered through another path is ignored.
func (c *Coordinator) HandleEvent(ev network.Event) {
	switch ev := ev.(type) {
	case network.PeerAppeared:
		c.overlay.AddToView(ev.Peer, ev.Addrs)

	case network.PeerDisappeared:
		if !c.discovery.Contains(ev.Peer) {
			c.overlay.RemoveFromView(ev.Peer)
		}

	case network.MessageReceived:
		if ev.Topic != c.topic {
			return
		}
		// Lossy decode: invalid byte sequences are substituted, the
		// message is always delivered.
		text := strings.ToValidUTF8(string(ev.Data), "�")
		fmt.Fprintf(c.out, "Received: '%s' from %s\n", text, ev.From)
	}
}
