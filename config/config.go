package config

import (
	"time"
)

type Config struct {
	// Node configuration
	LogLevel string `json:"log_level"`

	// Network configuration
	Network NetworkConfig `json:"network"`

	// API configuration
	API APIConfig `json:"api"`
}

type NetworkConfig struct {
	// ListenAddr is the multiaddr the host binds; port 0 lets the OS pick.
	ListenAddr string `json:"listen_addr"`

	// Topic is the single broadcast channel the node joins.
	Topic string `json:"topic"`

	// ServiceTag names the mDNS service used for local discovery.
	ServiceTag string `json:"service_tag"`

	// PeerTTL is how long a discovered peer stays in the live set
	// without being re-announced.
	PeerTTL time.Duration `json:"peer_ttl"`

	// EnableDHT turns on rendezvous discovery over the DHT in addition
	// to local mDNS.
	EnableDHT      bool     `json:"enable_dht"`
	BootstrapPeers []string `json:"bootstrap_peers"`
}

type APIConfig struct {
	// RESTAddr enables the read-only status API when non-empty.
	RESTAddr string `json:"rest_addr"`
}

// Load returns a default configuration
// TODO: Add file-based configuration loading
func Load() (*Config, error) {
	return &Config{
		LogLevel: "info",
		Network: NetworkConfig{
			ListenAddr:     "/ip4/0.0.0.0/tcp/0",
			Topic:          "chat",
			ServiceTag:     "meshtalk-chat",
			PeerTTL:        2 * time.Minute,
			EnableDHT:      false,
			BootstrapPeers: []string{},
		},
		API: APIConfig{
			RESTAddr: "",
		},
	}, nil
}
