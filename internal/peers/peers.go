package peers

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

// State of a connection in the handshake state machine.
type State int32

const (
	StateConnecting State = iota
	StateAwaitingID
	StateEstablished
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAwaitingID:
		return "awaiting_id"
	case StateEstablished:
		return "established"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var ErrConnectionClosed = errors.New("connection is closed")

const maxLineSize = 1024 * 1024

// Connection is one live transport stream to a remote peer. It is owned by
// the handler goroutine serving it; the registry only references it.
type Connection struct {
	conn          net.Conn
	reader        *bufio.Reader
	RemoteAddress string
	RemotePort    int
	Outbound      bool

	mu           sync.RWMutex
	remotePeerID string
	state        State

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func NewConnection(conn net.Conn, outbound bool) *Connection {
	host, port := splitAddr(conn.RemoteAddr())
	return &Connection{
		conn:          conn,
		reader:        bufio.NewReaderSize(conn, 4096),
		RemoteAddress: host,
		RemotePort:    port,
		Outbound:      outbound,
		state:         StateConnecting,
	}
}

// Addr returns "address:port" of the remote end.
func (c *Connection) Addr() string {
	return net.JoinHostPort(c.RemoteAddress, strconv.Itoa(c.RemotePort))
}

func (c *Connection) String() string {
	return c.Addr()
}

// RemotePeerID is empty until the handshake completes.
func (c *Connection) RemotePeerID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.remotePeerID
}

func (c *Connection) SetRemotePeerID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remotePeerID = id
}

func (c *Connection) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Connection) SetState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return
	}
	c.state = s
}

// ReadLine blocks for the next line and returns it without terminator.
func (c *Connection) ReadLine() (string, error) {
	var sb strings.Builder
	for {
		chunk, isPrefix, err := c.reader.ReadLine()
		if err != nil {
			return "", err
		}
		sb.Write(chunk)
		if sb.Len() > maxLineSize {
			return "", fmt.Errorf("line exceeds %d bytes", maxLineSize)
		}
		if !isPrefix {
			return sb.String(), nil
		}
	}
}

// WriteLine writes line plus terminator. Concurrent writers never
// interleave inside a line.
func (c *Connection) WriteLine(line string) error {
	if c.State() == StateClosed {
		return ErrConnectionClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_, err := c.conn.Write([]byte(line + "\n"))
	return err
}

// Close releases the transport. Safe to call more than once.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateClosed
		c.mu.Unlock()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func splitAddr(addr net.Addr) (string, int) {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String(), tcp.Port
	}
	if addr == nil {
		return "", 0
	}
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String(), 0
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}

// Peers is the registry of live connections.
type Peers struct {
	sync.RWMutex
	conns []*Connection
}

func NewPeers() *Peers {
	return &Peers{
		conns: make([]*Connection, 0),
	}
}

// Put adds conn; adding the same connection twice is a no-op.
func (p *Peers) Put(conn *Connection) {
	p.Lock()
	defer p.Unlock()

	for _, c := range p.conns {
		if c == conn {
			return
		}
	}
	p.conns = append(p.conns, conn)
}

// Remove reports whether conn was registered.
func (p *Peers) Remove(conn *Connection) bool {
	p.Lock()
	defer p.Unlock()

	for i, c := range p.conns {
		if c == conn {
			p.conns = append(p.conns[:i:i], p.conns[i+1:]...)
			return true
		}
	}
	return false
}

// All returns a snapshot; callers may iterate it while others add or remove.
func (p *Peers) All() []*Connection {
	p.RLock()
	defer p.RUnlock()

	snapshot := make([]*Connection, len(p.conns))
	copy(snapshot, p.conns)
	return snapshot
}

// Exists reports whether a connection to (address, port) is registered.
func (p *Peers) Exists(address string, port int) bool {
	address = normalizeHost(address)

	p.RLock()
	defer p.RUnlock()

	for _, c := range p.conns {
		if c.RemotePort == port && normalizeHost(c.RemoteAddress) == address {
			return true
		}
	}
	return false
}

// GetByPeerID returns every live connection whose handshake named peerID.
func (p *Peers) GetByPeerID(peerID string) []*Connection {
	p.RLock()
	defer p.RUnlock()

	var found []*Connection
	for _, c := range p.conns {
		if c.RemotePeerID() == peerID {
			found = append(found, c)
		}
	}
	return found
}

func (p *Peers) Len() int {
	p.RLock()
	defer p.RUnlock()
	return len(p.conns)
}

func normalizeHost(host string) string {
	if ip := net.ParseIP(host); ip != nil {
		return ip.String()
	}
	return host
}

// SetReadDeadline bounds the next reads; the zero time removes the bound.
func (c *Connection) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}
