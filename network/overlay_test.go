package network

import (
	"context"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshtalk-labs/go-meshtalk/crypto"
)

func newTestHost(t *testing.T) host.Host {
	t.Helper()
	id, err := crypto.Generate()
	require.NoError(t, err)
	h, err := NewHost(id, "/ip4/127.0.0.1/tcp/0")
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func newTestOverlay(t *testing.T, h host.Host) (*Overlay, chan Event) {
	t.Helper()
	events := make(chan Event, 16)
	o, err := NewOverlay(h, "chat", events)
	require.NoError(t, err)
	require.NoError(t, o.Subscribe())
	t.Cleanup(func() { o.Close() })
	return o, events
}

func connectHosts(t *testing.T, a, b host.Host) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, b.Connect(ctx, peer.AddrInfo{ID: a.ID(), Addrs: a.Addrs()}))
}

func TestPublishWithEmptyViewIsSafe(t *testing.T) {
	h := newTestHost(t)
	o, _ := newTestOverlay(t, h)

	require.Equal(t, 0, o.View().Len())

	done := make(chan struct{})
	go func() {
		defer close(done)
		o.Publish([]byte("nobody is listening"))
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish with no peers must not block")
	}
}

func TestSubscribeIdempotent(t *testing.T) {
	h := newTestHost(t)
	events := make(chan Event, 16)
	o, err := NewOverlay(h, "chat", events)
	require.NoError(t, err)
	defer o.Close()

	require.NoError(t, o.Subscribe())
	require.NoError(t, o.Subscribe(), "second subscribe must be a no-op")
}

func TestBroadcastRoundTrip(t *testing.T) {
	hostA := newTestHost(t)
	hostB := newTestHost(t)
	overlayA, _ := newTestOverlay(t, hostA)
	overlayB, eventsB := newTestOverlay(t, hostB)

	// Each side must hold the other in its partial view before the
	// subscription exchange, or the peer filter drops it.
	overlayA.AddToView(hostB.ID(), hostB.Addrs())
	overlayB.AddToView(hostA.ID(), hostA.Addrs())
	connectHosts(t, hostA, hostB)

	// Wait until the flood primitive has exchanged subscriptions.
	require.Eventually(t, func() bool {
		return len(overlayA.TopicPeers()) > 0 && len(overlayB.TopicPeers()) > 0
	}, 5*time.Second, 50*time.Millisecond, "subscription exchange")

	payload := []byte("hello world")
	overlayA.Publish(payload)

	select {
	case ev := <-eventsB:
		msg, ok := ev.(MessageReceived)
		require.True(t, ok, "expected a MessageReceived event, got %T", ev)
		assert.Equal(t, payload, msg.Data, "payload must round-trip byte for byte")
		assert.Equal(t, "chat", msg.Topic)
		assert.Equal(t, hostA.ID(), msg.From)
	case <-time.After(5 * time.Second):
		t.Fatal("message was not delivered")
	}

	// Double subscription never happened, so exactly one delivery.
	select {
	case ev := <-eventsB:
		t.Fatalf("unexpected second event: %v", ev)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestPeerOutsideViewNotRegisteredAsSubscriber(t *testing.T) {
	hostA := newTestHost(t)
	hostB := newTestHost(t)
	overlayA, _ := newTestOverlay(t, hostA)
	overlayB, eventsB := newTestOverlay(t, hostB)

	// B trusts A, but A never adds B to its view.
	overlayB.AddToView(hostA.ID(), hostA.Addrs())
	connectHosts(t, hostA, hostB)

	// A's peer filter rejects B's subscription, so B never becomes a
	// broadcast target for A.
	time.Sleep(500 * time.Millisecond)
	assert.Empty(t, overlayA.TopicPeers(), "peer outside the view must not register as a subscriber")

	overlayA.Publish([]byte("not for you"))

	select {
	case ev := <-eventsB:
		t.Fatalf("peer outside the sender's view must not receive broadcasts, got %v", ev)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestRemovedPeerStopsReceiving(t *testing.T) {
	hostA := newTestHost(t)
	hostB := newTestHost(t)
	overlayA, _ := newTestOverlay(t, hostA)
	overlayB, eventsB := newTestOverlay(t, hostB)

	overlayA.AddToView(hostB.ID(), hostB.Addrs())
	overlayB.AddToView(hostA.ID(), hostA.Addrs())
	connectHosts(t, hostA, hostB)

	require.Eventually(t, func() bool {
		return len(overlayA.TopicPeers()) > 0 && len(overlayB.TopicPeers()) > 0
	}, 5*time.Second, 50*time.Millisecond, "subscription exchange")

	overlayA.Publish([]byte("before removal"))
	select {
	case ev := <-eventsB:
		_, ok := ev.(MessageReceived)
		require.True(t, ok, "expected a MessageReceived event, got %T", ev)
	case <-time.After(5 * time.Second):
		t.Fatal("message was not delivered while in view")
	}

	overlayA.RemoveFromView(hostB.ID())
	require.Eventually(t, func() bool {
		return len(overlayA.TopicPeers()) == 0
	}, 5*time.Second, 50*time.Millisecond, "removed peer must be forgotten as a subscriber")

	overlayA.Publish([]byte("after removal"))
	select {
	case ev := <-eventsB:
		t.Fatalf("removed peer must stop receiving broadcasts, got %v", ev)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestViewMutationViaOverlay(t *testing.T) {
	h := newTestHost(t)
	o, _ := newTestOverlay(t, h)

	id, err := crypto.Generate()
	require.NoError(t, err)
	p := id.PeerAddress()

	o.AddToView(p, nil)
	o.AddToView(p, nil)
	assert.True(t, o.View().Contains(p))
	assert.Equal(t, 1, o.View().Len())

	o.RemoveFromView(p)
	o.RemoveFromView(p)
	assert.False(t, o.View().Contains(p))
}
