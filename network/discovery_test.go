package network

import (
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startSweeper runs the expiry sweep without binding the mDNS responder
// so the record lifecycle can be exercised directly.
func startSweeper(t *testing.T, d *Discovery) {
	t.Helper()
	go d.sweep()
	t.Cleanup(func() { d.Close() })
}

func TestFirstSightingEmitsAppeared(t *testing.T) {
	h := newTestHost(t)
	events := make(chan Event, 16)
	d := NewDiscovery(h, "meshtalk-test", time.Minute, events)
	startSweeper(t, d)

	p := testPeer(t)
	d.HandlePeerFound(peer.AddrInfo{ID: p})

	select {
	case ev := <-events:
		appeared, ok := ev.(PeerAppeared)
		require.True(t, ok, "expected PeerAppeared, got %T", ev)
		assert.Equal(t, p, appeared.Peer)
	case <-time.After(time.Second):
		t.Fatal("no appeared event")
	}
	assert.True(t, d.Contains(p))
}

func TestResightingDoesNotDuplicateAppeared(t *testing.T) {
	h := newTestHost(t)
	events := make(chan Event, 16)
	d := NewDiscovery(h, "meshtalk-test", time.Minute, events)
	startSweeper(t, d)

	p := testPeer(t)
	d.HandlePeerFound(peer.AddrInfo{ID: p})
	d.HandlePeerFound(peer.AddrInfo{ID: p})

	<-events
	select {
	case ev := <-events:
		t.Fatalf("re-sighting must only refresh the record, got %v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSelfSightingIgnored(t *testing.T) {
	h := newTestHost(t)
	events := make(chan Event, 16)
	d := NewDiscovery(h, "meshtalk-test", time.Minute, events)
	startSweeper(t, d)

	d.HandlePeerFound(peer.AddrInfo{ID: h.ID()})

	select {
	case ev := <-events:
		t.Fatalf("own announcements must be ignored, got %v", ev)
	case <-time.After(100 * time.Millisecond):
	}
	assert.False(t, d.Contains(h.ID()))
}

func TestRecordExpiryEmitsDisappeared(t *testing.T) {
	h := newTestHost(t)
	events := make(chan Event, 16)
	d := NewDiscovery(h, "meshtalk-test", 50*time.Millisecond, events)
	startSweeper(t, d)

	p := testPeer(t)
	d.HandlePeerFound(peer.AddrInfo{ID: p})
	<-events // appeared

	select {
	case ev := <-events:
		gone, ok := ev.(PeerDisappeared)
		require.True(t, ok, "expected PeerDisappeared, got %T", ev)
		assert.Equal(t, p, gone.Peer)
	case <-time.After(2 * time.Second):
		t.Fatal("record never expired")
	}

	assert.False(t, d.Contains(p), "expired peer must leave the live set")
}

func TestRefreshPreventsExpiry(t *testing.T) {
	h := newTestHost(t)
	events := make(chan Event, 16)
	d := NewDiscovery(h, "meshtalk-test", 200*time.Millisecond, events)
	startSweeper(t, d)

	p := testPeer(t)
	d.HandlePeerFound(peer.AddrInfo{ID: p})
	<-events // appeared

	// Keep re-announcing for a few TTLs.
	deadline := time.Now().Add(600 * time.Millisecond)
	for time.Now().Before(deadline) {
		d.HandlePeerFound(peer.AddrInfo{ID: p})
		time.Sleep(20 * time.Millisecond)
	}

	select {
	case ev := <-events:
		t.Fatalf("peer was refreshed, must not expire: got %v", ev)
	default:
	}
	assert.True(t, d.Contains(p))
}
