package cliplugins

import (
	"context"

	"lanchat/internal/node"
	"lanchat/internal/storage/peerbook"
)

// Engine is the part of the peer the shell commands drive.
type Engine interface {
	Send(text string)
	ConnectTo(host string, port int) bool
	ConnectKnown(ctx context.Context, peerID string) (bool, error)
	ForgetPeer(ctx context.Context, peerID string) error
	TriggerDiscovery() error
	Connections() []node.ConnectionInfo
	KnownPeers(ctx context.Context) ([]peerbook.Peer, error)
	Messages() []string
	History(remotePeerID string) []string
	HistoryPeers() ([]string, error)
	DiscoveryMechanisms() []string
	DroppedEvents() int64
	PeerID() string
	UserName() string
	Port() int
}
