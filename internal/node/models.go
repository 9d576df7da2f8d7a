package node

import (
	"context"
	"time"

	"lanchat/internal/storage/peerbook"
)

type Config struct {
	UserName   string
	ListenHost string
	// Port 0 picks a free port, see Node.Port.
	Port             int
	IdentityPath     string
	HistoryDir       string
	DialTimeout      time.Duration
	HandshakeTimeout time.Duration
	MaxConnections   int
	EventBuffer      int
	ReconnectKnown   bool
	PeersFile        string
	Discovery        DiscoveryConfig
}

type DiscoveryConfig struct {
	Enabled          bool
	MulticastAddress string
	AnnounceInterval time.Duration
	AnnounceOnStart  bool
}

// PeerBook remembers peers between runs. Nil disables it.
type PeerBook interface {
	RecordConnection(ctx context.Context, peerID, address string, listenPort int, direction peerbook.Direction, at time.Time) error
	ListPeers(ctx context.Context, filter peerbook.Filter) ([]peerbook.Peer, error)
	GetPeer(ctx context.Context, peerID string) (peerbook.Peer, error)
	DeletePeer(ctx context.Context, peerID string) error
}

// ConnectionInfo is a read-only view of a live connection.
type ConnectionInfo struct {
	Address      string
	Port         int
	RemotePeerID string
	State        string
	Outbound     bool
}
