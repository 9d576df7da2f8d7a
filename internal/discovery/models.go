package discovery

import (
	"context"
	"time"
)

// Candidate is a remote peer advertised by a mechanism.
type Candidate struct {
	Address  string
	Port     int
	UserName string
	Source   string
}

// Mechanism is one way of learning about peers (multicast, static file, ...).
type Mechanism interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	SetOnPeerDiscovered(callback func(Candidate))
}

// Announcer is implemented by mechanisms that can advertise the local peer.
type Announcer interface {
	Announce() error
}

type Connector interface {
	ConnectTo(host string, port int) bool
}

type Registry interface {
	Exists(address string, port int) bool
}

type StatusSink interface {
	Status(line string)
}

type Config struct {
	// LocalPort is our chat port, used by the self-check.
	LocalPort        int
	AnnounceInterval time.Duration
	AnnounceOnStart  bool
}
