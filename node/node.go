package node

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p/core/host"

	"github.com/meshtalk-labs/go-meshtalk/api"
	"github.com/meshtalk-labs/go-meshtalk/config"
	"github.com/meshtalk-labs/go-meshtalk/crypto"
	"github.com/meshtalk-labs/go-meshtalk/network"
)

var log = logging.Logger("node")

const (
	shutdownTimeout = 5 * time.Second
	eventBuffer     = 64
)

// publisher is the slice of the overlay the runtime loop publishes to.
type publisher interface {
	Publish(payload []byte)
}

// Node composes identity, transport, discovery and the broadcast
// overlay, and drives the single control loop. All mutable overlay
// state is confined to that loop.
type Node struct {
	cfg *config.Config
	id  *crypto.Identity

	host      host.Host
	overlay   *network.Overlay
	discovery *network.Discovery
	dht       *network.DHTDiscovery
	coord     *Coordinator
	events    chan network.Event
	apiServer *api.Server

	input  io.Reader
	output io.Writer
}

// New runs the ordered startup sequence. Each step's failure aborts
// startup with the failing step named; nothing is retried.
func New(cfg *config.Config) (*Node, error) {
	if lvl, err := logging.LevelFromString(cfg.LogLevel); err == nil {
		logging.SetAllLoggers(lvl)
	}

	id, err := crypto.Generate()
	if err != nil {
		return nil, fmt.Errorf("generating node identity: %w", err)
	}
	log.Infow("node identity", "peer", id.PeerAddress())

	h, err := network.NewHost(id, cfg.Network.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("building transport: %w", err)
	}

	events := make(chan network.Event, eventBuffer)

	overlay, err := network.NewOverlay(h, cfg.Network.Topic, events)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("creating broadcast overlay: %w", err)
	}
	if err := overlay.Subscribe(); err != nil {
		h.Close()
		return nil, fmt.Errorf("subscribing to topic %s: %w", cfg.Network.Topic, err)
	}

	discovery := network.NewDiscovery(h, cfg.Network.ServiceTag, cfg.Network.PeerTTL, events)
	if err := discovery.Start(); err != nil {
		overlay.Close()
		h.Close()
		return nil, fmt.Errorf("starting discovery: %w", err)
	}

	n := &Node{
		cfg:       cfg,
		id:        id,
		host:      h,
		overlay:   overlay,
		discovery: discovery,
		events:    events,
		input:     os.Stdin,
		output:    os.Stdout,
	}
	n.coord = NewCoordinator(cfg.Network.Topic, overlay, discovery, n.output)

	if cfg.Network.EnableDHT {
		dhtDisc, err := network.NewDHTDiscovery(h, cfg.Network.ServiceTag, cfg.Network.BootstrapPeers)
		if err != nil {
			n.Close()
			return nil, fmt.Errorf("creating DHT discovery: %w", err)
		}
		n.dht = dhtDisc
		dhtDisc.Start()
	}

	if cfg.API.RESTAddr != "" {
		n.apiServer = api.NewServer(cfg.API.RESTAddr, n)
		if err := n.apiServer.Start(); err != nil {
			n.Close()
			return nil, fmt.Errorf("starting status API: %w", err)
		}
	}

	return n, nil
}

// Run drives the control loop until the context is cancelled. Local
// input lines are published as broadcasts; network events are routed
// through the coordinator. When local input is exhausted the node stops
// reading input but keeps relaying network messages.
func (n *Node) Run(ctx context.Context) error {
	lines := readLines(ctx, n.input)
	runLoop(ctx, lines, n.events, n.overlay, n.coord)
	return nil
}

// runLoop is the single-threaded multiplexer over the three event
// sources. Exactly one case is handled per iteration; whichever is
// ready first wins, with no priority among simultaneously ready ones.
// Once the context fires, nothing pending is processed.
func runLoop(ctx context.Context, lines <-chan string, events <-chan network.Event, pub publisher, coord *Coordinator) {
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				log.Info("local input closed; relaying network messages only")
				lines = nil
				continue
			}
			log.Infow("publishing line", "text", line)
			pub.Publish([]byte(line))

		case ev := <-events:
			log.Infow("network event", "event", ev)
			coord.HandleEvent(ev)

		case <-ctx.Done():
			log.Info("termination requested, shutting down")
			return
		}
	}
}

// readLines feeds complete, delimiter-stripped input lines to a channel
// and closes it on end of input. It reads with bufio.Reader rather than
// a Scanner so lines of any length go through instead of tripping the
// Scanner's token limit.
func readLines(ctx context.Context, r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		reader := bufio.NewReader(r)
		for {
			line, err := reader.ReadString('\n')
			trimmed := strings.TrimSuffix(line, "\n")
			trimmed = strings.TrimSuffix(trimmed, "\r")
			if err == nil || trimmed != "" {
				select {
				case lines <- trimmed:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				if err != io.EOF {
					log.Errorw("reading local input", "err", err)
				}
				return
			}
		}
	}()
	return lines
}

// Close tears the node down under a deadline: discovery and the overlay
// reader stop first, then the host drops its connections.
func (n *Node) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if n.apiServer != nil {
			n.apiServer.Stop(ctx)
		}
		if n.dht != nil {
			n.dht.Close()
		}
		n.discovery.Close()
		n.overlay.Close()
		n.host.Close()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		log.Warn("shutdown deadline exceeded, exiting anyway")
	}
	return nil
}

// PeerAddress returns the node's stable identifier.
func (n *Node) PeerAddress() string {
	return n.id.PeerAddress().String()
}

// ListenAddrs returns the bound listen addresses.
func (n *Node) ListenAddrs() []string {
	addrs := n.host.Addrs()
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.String()
	}
	return out
}

// Topic returns the broadcast channel this node is subscribed to.
func (n *Node) Topic() string {
	return n.cfg.Network.Topic
}

// ConnectedPeers lists currently connected peers.
func (n *Node) ConnectedPeers() []string {
	peers := n.host.Network().Peers()
	out := make([]string, len(peers))
	for i, p := range peers {
		out[i] = p.String()
	}
	return out
}

// TopicPeers lists connected peers known to subscribe to the topic.
func (n *Node) TopicPeers() []string {
	peers := n.overlay.TopicPeers()
	out := make([]string, len(peers))
	for i, p := range peers {
		out[i] = p.String()
	}
	return out
}
