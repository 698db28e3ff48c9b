package network

import (
	"context"
	"fmt"
	"time"

	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/routing"
	"github.com/multiformats/go-multiaddr"
)

const findPeersInterval = 30 * time.Second

// DHTDiscovery supplements mDNS with rendezvous discovery over the
// Kademlia DHT so peers outside the local segment can be reached. Found
// peers are only dialed; the partial view stays driven by local
// discovery.
type DHTDiscovery struct {
	ctx    context.Context
	cancel context.CancelFunc

	h          host.Host
	dht        *dht.IpfsDHT
	rendezvous string
	bootstrap  []multiaddr.Multiaddr
}

func NewDHTDiscovery(h host.Host, rendezvous string, bootstrapPeers []string) (*DHTDiscovery, error) {
	ctx, cancel := context.WithCancel(context.Background())

	var bootstrap []multiaddr.Multiaddr
	for _, addr := range bootstrapPeers {
		maddr, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			log.Warnw("skipping invalid bootstrap peer address", "addr", addr, "err", err)
			continue
		}
		bootstrap = append(bootstrap, maddr)
	}

	kad, err := dht.New(ctx, h, dht.Mode(dht.ModeServer))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create DHT: %w", err)
	}
	if err := kad.Bootstrap(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to bootstrap DHT: %w", err)
	}

	return &DHTDiscovery{
		ctx:        ctx,
		cancel:     cancel,
		h:          h,
		dht:        kad,
		rendezvous: rendezvous,
		bootstrap:  bootstrap,
	}, nil
}

// Start dials the bootstrap peers and begins advertising and searching
// under the rendezvous string.
func (d *DHTDiscovery) Start() {
	for _, addr := range d.bootstrap {
		pi, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			log.Warnw("invalid bootstrap peer address", "addr", addr, "err", err)
			continue
		}
		if pi.ID == d.h.ID() {
			continue
		}
		go d.connectWithRetry(*pi, 3)
	}

	rd := routing.NewRoutingDiscovery(d.dht)
	rd.Advertise(d.ctx, d.rendezvous)
	go d.findPeers(rd)

	log.Infow("DHT discovery started", "rendezvous", d.rendezvous)
}

func (d *DHTDiscovery) connectWithRetry(pi peer.AddrInfo, maxRetries int) {
	for attempt := 1; attempt <= maxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(d.ctx, connectTimeout)
		err := d.h.Connect(ctx, pi)
		cancel()
		if err == nil {
			log.Infow("connected to bootstrap peer", "peer", pi.ID, "attempt", attempt)
			return
		}
		log.Debugw("bootstrap connect failed", "peer", pi.ID, "attempt", attempt, "err", err)

		if attempt < maxRetries {
			backoff := time.Duration(attempt*attempt) * time.Second
			select {
			case <-time.After(backoff):
			case <-d.ctx.Done():
				return
			}
		}
	}
	log.Warnw("giving up on bootstrap peer", "peer", pi.ID, "attempts", maxRetries)
}

func (d *DHTDiscovery) findPeers(rd *routing.RoutingDiscovery) {
	ticker := time.NewTicker(findPeersInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			peerCh, err := rd.FindPeers(d.ctx, d.rendezvous)
			if err != nil {
				log.Debugw("DHT peer search failed", "err", err)
				continue
			}
			for pi := range peerCh {
				if pi.ID == d.h.ID() || len(pi.Addrs) == 0 {
					continue
				}
				go func(pi peer.AddrInfo) {
					ctx, cancel := context.WithTimeout(d.ctx, connectTimeout)
					defer cancel()
					if err := d.h.Connect(ctx, pi); err != nil {
						log.Debugw("failed to connect to DHT peer", "peer", pi.ID, "err", err)
					}
				}(pi)
			}
		}
	}
}

func (d *DHTDiscovery) Close() error {
	d.cancel()
	return d.dht.Close()
}
