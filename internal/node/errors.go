package node

import "errors"

var (
	ErrDiscoveryDisabled = errors.New("discovery is disabled")
	ErrAlreadyStarted    = errors.New("node already started")
	ErrClosed            = errors.New("node is closed")
	ErrNoPeerBook        = errors.New("peer book is disabled")
	ErrNoListenPort      = errors.New("listen port of peer is unknown")
)
