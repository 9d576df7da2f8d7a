package peerbook

import "time"

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Peer is what we remember about a remote peer between runs.
type Peer struct {
	PeerID string `json:"peer_id"`
	// Address is the remote host as last seen.
	Address string `json:"address"`
	// ListenPort is the remote chat port; zero until we dialed it ourselves.
	ListenPort    int       `json:"listen_port"`
	FirstSeen     time.Time `json:"first_seen"`
	LastSeen      time.Time `json:"last_seen"`
	ConnectCount  int       `json:"connect_count"`
	LastDirection Direction `json:"last_direction"`
}

// Filter defines filtering options for listing peers
type Filter struct {
	MinLastSeen   *time.Time // Filter by minimum last seen time
	AddressLike   *string    // Filter by address pattern (SQL LIKE)
	HasListenPort bool       // Only peers that can be dialed back
	Limit         int        // Maximum number of peers to return
}
