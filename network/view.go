package network

import (
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"
)

// PartialView is the set of peers currently eligible to receive this
// node's broadcasts. It is mutated only from the runtime loop (via the
// coordinator), but the flood primitive's peer filter reads it from
// protocol goroutines, so reads go through a lock.
type PartialView struct {
	mu    sync.RWMutex
	peers map[peer.ID]struct{}
}

func NewPartialView() *PartialView {
	return &PartialView{peers: make(map[peer.ID]struct{})}
}

// Add records a peer as eligible. Idempotent.
func (v *PartialView) Add(p peer.ID) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.peers[p] = struct{}{}
}

// Remove drops a peer. Removing an absent peer is a no-op.
func (v *PartialView) Remove(p peer.ID) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.peers, p)
}

func (v *PartialView) Contains(p peer.ID) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.peers[p]
	return ok
}

func (v *PartialView) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.peers)
}

// Peers returns a snapshot of the view.
func (v *PartialView) Peers() []peer.ID {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]peer.ID, 0, len(v.peers))
	for p := range v.peers {
		out = append(out, p)
	}
	return out
}
