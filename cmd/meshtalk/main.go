package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/meshtalk-labs/go-meshtalk/config"
	"github.com/meshtalk-labs/go-meshtalk/node"
)

func main() {
	var listen = flag.String("listen", "", "listen multiaddr (default: all interfaces, OS-assigned port)")
	var topic = flag.String("topic", "", "broadcast topic to join")
	var apiAddr = flag.String("api", "", "status API listen address (disabled when empty)")
	var enableDHT = flag.Bool("dht", false, "enable DHT rendezvous discovery")
	var bootstraps = flag.String("bootstrap", "", "comma-separated bootstrap peer multiaddrs")
	var logLevel = flag.String("log-level", "", "log level (debug, info, warn, error)")

	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *listen != "" {
		cfg.Network.ListenAddr = *listen
	}
	if *topic != "" {
		cfg.Network.Topic = *topic
	}
	if *apiAddr != "" {
		cfg.API.RESTAddr = *apiAddr
	}
	if *enableDHT {
		cfg.Network.EnableDHT = true
	}
	if *bootstraps != "" {
		cfg.Network.BootstrapPeers = strings.Split(*bootstraps, ",")
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	n, err := node.New(cfg)
	if err != nil {
		log.Fatalf("Failed to start node: %v", err)
	}

	if err := n.Run(ctx); err != nil {
		n.Close()
		log.Fatalf("Node stopped with error: %v", err)
	}

	if err := n.Close(); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}
}
