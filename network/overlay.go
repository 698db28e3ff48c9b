package network

import (
	"context"
	"fmt"
	"time"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	corenet "github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"golang.org/x/time/rate"
)

const connectTimeout = 10 * time.Second

// Overlay wraps the flood-broadcast primitive for a single topic. It
// owns the partial view of peers eligible for this node's broadcasts;
// delivery is at-most-once with no queuing or retry.
type Overlay struct {
	ctx    context.Context
	cancel context.CancelFunc

	h         host.Host
	topicName string
	ps        *pubsub.PubSub
	topic     *pubsub.Topic
	sub       *pubsub.Subscription

	view    *PartialView
	limiter *rate.Limiter
	events  chan<- Event
}

// NewOverlay creates a FloodSub instance on the host. The partial view
// is installed as the pubsub peer filter, so only peers currently in
// the view take part in subscription exchange and message flow.
// Subscribe must be called before inbound messages are surfaced.
func NewOverlay(h host.Host, topicName string, events chan<- Event) (*Overlay, error) {
	ctx, cancel := context.WithCancel(context.Background())

	view := NewPartialView()
	ps, err := pubsub.NewFloodSub(ctx, h,
		pubsub.WithPeerFilter(func(p peer.ID, _ string) bool {
			return view.Contains(p)
		}))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create floodsub: %w", err)
	}

	return &Overlay{
		ctx:       ctx,
		cancel:    cancel,
		h:         h,
		topicName: topicName,
		ps:        ps,
		view:      view,
		limiter:   rate.NewLimiter(rate.Limit(100), 200), // 100 msgs/sec with burst of 200
		events:    events,
	}, nil
}

// Subscribe records interest in the topic and starts surfacing inbound
// broadcasts as events. Idempotent: a second call is a no-op, so double
// subscription never causes duplicate delivery.
func (o *Overlay) Subscribe() error {
	if o.sub != nil {
		return nil
	}

	topic, err := o.ps.Join(o.topicName)
	if err != nil {
		return fmt.Errorf("failed to join topic %s: %w", o.topicName, err)
	}

	sub, err := topic.Subscribe()
	if err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", o.topicName, err)
	}

	o.topic = topic
	o.sub = sub
	go o.readMessages(sub)

	log.Infow("subscribed to topic", "topic", o.topicName)
	return nil
}

// Publish sends the payload to every peer currently in the partial
// view that the flood primitive knows as a reachable subscriber; the
// peer filter keeps anyone outside the view from registering as one.
// Best effort: peers without an established connection are skipped,
// rate-limit drops and routing failures are absorbed. Never blocks on
// delivery, never returns an error.
func (o *Overlay) Publish(payload []byte) {
	if o.topic == nil {
		return
	}
	if !o.limiter.Allow() {
		log.Debugw("publish dropped by rate limit", "topic", o.topicName)
		return
	}
	if err := o.topic.Publish(o.ctx, payload); err != nil {
		log.Debugw("publish failed", "topic", o.topicName, "err", err)
	}
}

// AddToView marks a peer eligible for broadcasts and dials it in the
// background so the flood primitive has a connection to send over.
func (o *Overlay) AddToView(p peer.ID, addrs []multiaddr.Multiaddr) {
	o.view.Add(p)

	if o.h.Network().Connectedness(p) == corenet.Connected {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(o.ctx, connectTimeout)
		defer cancel()
		if err := o.h.Connect(ctx, peer.AddrInfo{ID: p, Addrs: addrs}); err != nil {
			log.Debugw("failed to connect to discovered peer", "peer", p, "err", err)
		}
	}()
}

// RemoveFromView drops a peer from the partial view and prunes its
// connection. The peer filter is only consulted when a subscription is
// registered, so an already-registered subscriber keeps receiving until
// the connection goes; closing it makes removal take effect now. If the
// peer later reappears it re-registers through the filter. Idempotent.
func (o *Overlay) RemoveFromView(p peer.ID) {
	o.view.Remove(p)

	if o.h.Network().Connectedness(p) == corenet.Connected {
		if err := o.h.Network().ClosePeer(p); err != nil {
			log.Debugw("failed to close connection to removed peer", "peer", p, "err", err)
		}
	}
}

// View returns the partial view. It is mutated only from the runtime
// loop; the pubsub peer filter reads it concurrently.
func (o *Overlay) View() *PartialView {
	return o.view
}

// TopicPeers lists the connected peers the flood primitive currently
// knows as subscribers of the topic.
func (o *Overlay) TopicPeers() []peer.ID {
	if o.topic == nil {
		return nil
	}
	return o.topic.ListPeers()
}

func (o *Overlay) readMessages(sub *pubsub.Subscription) {
	for {
		msg, err := sub.Next(o.ctx)
		if err != nil {
			if o.ctx.Err() == nil {
				log.Errorw("subscription read failed", "topic", o.topicName, "err", err)
			}
			return
		}
		if msg.ReceivedFrom == o.h.ID() {
			continue
		}

		ev := MessageReceived{
			Topic: o.topicName,
			From:  msg.GetFrom(),
			Data:  msg.Data,
		}
		select {
		case o.events <- ev:
		case <-o.ctx.Done():
			return
		}
	}
}

func (o *Overlay) Close() error {
	o.cancel()
	return nil
}
