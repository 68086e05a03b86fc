package announce

import (
	"github.com/multiformats/go-multiaddr"
)

// TopicCheckpoints is the gossip topic signed checkpoints are published to.
const TopicCheckpoints = "clearlog/checkpoints"

// Config holds announcer configuration.
type Config struct {
	// Multiaddrs the libp2p host listens on
	ListenAddrs []multiaddr.Multiaddr

	// Peers to bootstrap the DHT from
	BootstrapPeers []multiaddr.Multiaddr

	// Run the DHT in server mode (default is client mode)
	DHTServerMode bool
}

// DefaultConfig returns default announcer configuration.
func DefaultConfig() (*Config, error) {
	listen, err := multiaddr.NewMultiaddr("/ip4/0.0.0.0/tcp/0")
	if err != nil {
		return nil, err
	}

	return &Config{
		ListenAddrs: []multiaddr.Multiaddr{listen},
	}, nil
}
