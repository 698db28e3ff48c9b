package network

import (
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/multiformats/go-multiaddr"
)

type discoveryRecord struct {
	lastSeen time.Time
	addrs    []multiaddr.Multiaddr
}

// Discovery wraps the local-network mDNS oracle and turns its
// announcements into PeerAppeared/PeerDisappeared events. The mDNS
// service only reports sightings, so record expiry is tracked here: a
// peer not re-announced within the TTL is considered gone.
type Discovery struct {
	h      host.Host
	tag    string
	ttl    time.Duration
	events chan<- Event

	mu   sync.Mutex
	live map[peer.ID]*discoveryRecord

	svc  mdns.Service
	done chan struct{}
	once sync.Once
}

func NewDiscovery(h host.Host, serviceTag string, ttl time.Duration, events chan<- Event) *Discovery {
	return &Discovery{
		h:      h,
		tag:    serviceTag,
		ttl:    ttl,
		events: events,
		live:   make(map[peer.ID]*discoveryRecord),
		done:   make(chan struct{}),
	}
}

// Start binds the mDNS responder and begins emitting events. A bind
// failure is fatal to startup.
func (d *Discovery) Start() error {
	d.svc = mdns.NewMdnsService(d.h, d.tag, d)
	if err := d.svc.Start(); err != nil {
		return fmt.Errorf("failed to start mDNS discovery: %w", err)
	}

	go d.sweep()
	log.Infow("mDNS discovery started", "service", d.tag, "ttl", d.ttl)
	return nil
}

// HandlePeerFound implements the mDNS notifee. A first sighting emits
// PeerAppeared; a re-sighting only refreshes the record.
func (d *Discovery) HandlePeerFound(pi peer.AddrInfo) {
	if pi.ID == d.h.ID() {
		return
	}

	d.mu.Lock()
	_, known := d.live[pi.ID]
	d.live[pi.ID] = &discoveryRecord{lastSeen: time.Now(), addrs: pi.Addrs}
	d.mu.Unlock()

	if known {
		return
	}

	log.Debugw("discovered peer via mDNS", "peer", pi.ID)
	d.emit(PeerAppeared{Peer: pi.ID, Addrs: pi.Addrs})
}

// Contains reports whether the discovery mechanism itself still
// considers the peer present. The coordinator uses this to reject
// disappearance reports for peers re-discovered through another path.
func (d *Discovery) Contains(p peer.ID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.live[p]
	return ok
}

// sweep expires records past their TTL and reports them as gone.
func (d *Discovery) sweep() {
	interval := d.ttl / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.done:
			return
		case now := <-ticker.C:
			d.mu.Lock()
			var expired []PeerDisappeared
			for p, rec := range d.live {
				if now.Sub(rec.lastSeen) > d.ttl {
					expired = append(expired, PeerDisappeared{Peer: p, Addrs: rec.addrs})
					delete(d.live, p)
				}
			}
			d.mu.Unlock()

			for _, ev := range expired {
				log.Debugw("peer record expired", "peer", ev.Peer)
				d.emit(ev)
			}
		}
	}
}

func (d *Discovery) emit(ev Event) {
	select {
	case d.events <- ev:
	case <-d.done:
	}
}

func (d *Discovery) Close() error {
	var err error
	d.once.Do(func() {
		close(d.done)
		if d.svc != nil {
			err = d.svc.Close()
		}
	})
	return err
}
