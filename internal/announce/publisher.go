package announce

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/ClearlogHQ/clearlog/pkg/types"
)

// Publisher announces signed checkpoints over libp2p gossipsub so that
// mirrors and monitors can follow the registry without polling.
// It implements interfaces.CheckpointPublisher.
type Publisher struct {
	config *Config

	host   host.Host
	dht    *dht.IpfsDHT
	pubsub *pubsub.PubSub
	topic  *pubsub.Topic

	mu      sync.Mutex
	started bool
}

// NewPublisher creates a checkpoint publisher.
func NewPublisher(config *Config) (*Publisher, error) {
	if config == nil {
		var err error
		config, err = DefaultConfig()
		if err != nil {
			return nil, err
		}
	}

	return &Publisher{config: config}, nil
}

// Start brings up the libp2p host, DHT, and gossip topic.
func (p *Publisher) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return ErrAlreadyStarted
	}

	h, err := libp2p.New(
		libp2p.ListenAddrs(p.config.ListenAddrs...),
		libp2p.EnableNATService(),
	)
	if err != nil {
		return fmt.Errorf("failed to create libp2p host: %w", err)
	}
	p.host = h

	mode := dht.ModeClient
	if p.config.DHTServerMode {
		mode = dht.ModeServer
	}

	p.dht, err = dht.New(ctx, h, dht.Mode(mode))
	if err != nil {
		h.Close()
		return fmt.Errorf("failed to create DHT: %w", err)
	}

	for _, addr := range p.config.BootstrapPeers {
		info, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			continue
		}
		// Best effort; gossip still works with whatever peers connect
		_ = h.Connect(ctx, *info)
	}

	if err := p.dht.Bootstrap(ctx); err != nil {
		p.dht.Close()
		h.Close()
		return fmt.Errorf("failed to bootstrap DHT: %w", err)
	}

	p.pubsub, err = pubsub.NewGossipSub(ctx, h)
	if err != nil {
		p.dht.Close()
		h.Close()
		return fmt.Errorf("failed to create gossipsub: %w", err)
	}

	p.topic, err = p.pubsub.Join(TopicCheckpoints)
	if err != nil {
		p.dht.Close()
		h.Close()
		return fmt.Errorf("failed to join topic: %w", err)
	}

	p.started = true
	return nil
}

// PublishCheckpoint implements CheckpointPublisher.PublishCheckpoint.
func (p *Publisher) PublishCheckpoint(ctx context.Context, checkpoint *types.CheckpointWire) error {
	p.mu.Lock()
	topic := p.topic
	started := p.started
	p.mu.Unlock()

	if !started {
		return ErrNotStarted
	}

	data, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	return topic.Publish(ctx, data)
}

// Close implements CheckpointPublisher.Close.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return nil
	}
	p.started = false

	if p.topic != nil {
		p.topic.Close()
	}
	if p.dht != nil {
		p.dht.Close()
	}
	if p.host != nil {
		return p.host.Close()
	}

	return nil
}

// NoopPublisher discards checkpoints. Used by single-node deployments
// that have no gossip mesh.
type NoopPublisher struct{}

// PublishCheckpoint implements CheckpointPublisher.PublishCheckpoint.
func (NoopPublisher) PublishCheckpoint(ctx context.Context, checkpoint *types.CheckpointWire) error {
	return nil
}

// Close implements CheckpointPublisher.Close.
func (NoopPublisher) Close() error {
	return nil
}
