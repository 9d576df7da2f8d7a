// Package node is the peer engine: it owns the listener, the discovery
// manager, the connection registry and both stores, and exposes the
// operations the shell drives (Send, ConnectTo, TriggerDiscovery).
package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"lanchat/internal/discovery"
	"lanchat/internal/discovery/multicast"
	"lanchat/internal/discovery/peersfile"
	"lanchat/internal/events"
	"lanchat/internal/history"
	"lanchat/internal/identity"
	"lanchat/internal/listener"
	"lanchat/internal/peers"
	"lanchat/internal/session"
	"lanchat/internal/storage/peerbook"
	"lanchat/internal/util/logger/sl"
	"lanchat/internal/wire"
)

const defaultDialTimeout = 5 * time.Second

type Node struct {
	cfg Config
	log *slog.Logger

	peerID string

	history   *history.Store
	registry  *peers.Peers
	events    *events.Log
	handler   *session.Handler
	listener  *listener.Listener
	discovery *discovery.Manager
	book      PeerBook

	// mu orders wg.Add against Close
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce sync.Once
	closeOnce sync.Once
}

// New loads the identity, prepares the history root and binds the chat
// port. Any of these failing means the peer cannot run.
func New(cfg Config, book PeerBook, log *slog.Logger) (*Node, error) {
	const op = "node.New"

	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}

	peerID, err := resolveIdentity(cfg.IdentityPath, cfg.UserName)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log = log.With(slog.String("user", cfg.UserName), slog.String("peer_id", events.ShortID(peerID)))

	hist, err := history.NewStore(cfg.HistoryDir, peerID, log)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	n := &Node{
		cfg:      cfg,
		log:      log,
		peerID:   peerID,
		history:  hist,
		registry: peers.NewPeers(),
		events:   events.NewLog(cfg.EventBuffer, log),
		book:     book,
		ctx:      ctx,
		cancel:   cancel,
	}

	n.handler = session.NewHandler(
		session.Config{LocalPeerID: peerID, HandshakeTimeout: cfg.HandshakeTimeout},
		n.registry, n.history, n.events, log,
	)
	n.handler.SetOnEstablished(n.recordPeer)

	n.listener, err = listener.Listen(listener.Config{
		Host:           cfg.ListenHost,
		Port:           cfg.Port,
		MaxConnections: cfg.MaxConnections,
	}, n.registry, n, n.events, log)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	n.discovery = n.buildDiscovery()

	log.Info("Peer initialized", slog.Int("port", n.Port()))
	return n, nil
}

// resolveIdentity holds the identity file only while reading it, so peers
// with different user names can share one data directory.
func resolveIdentity(path, userName string) (string, error) {
	ids, err := identity.Open(identity.Config{Path: path})
	if err != nil {
		return "", err
	}

	peerID, err := ids.GetOrCreate(userName)
	if cerr := ids.Close(); err == nil && cerr != nil {
		return "", cerr
	}
	return peerID, err
}

// buildDiscovery returns nil in basic mode: no multicast and no peers file.
func (n *Node) buildDiscovery() *discovery.Manager {
	if !n.cfg.Discovery.Enabled && n.cfg.PeersFile == "" {
		return nil
	}

	m := discovery.NewManager(discovery.Config{
		LocalPort:        n.Port(),
		AnnounceInterval: n.cfg.Discovery.AnnounceInterval,
		AnnounceOnStart:  n.cfg.Discovery.AnnounceOnStart,
	}, n.registry, n, n.events, n.log)

	if n.cfg.Discovery.Enabled {
		m.RegisterMechanism(multicast.New(multicast.Config{
			GroupAddress: n.cfg.Discovery.MulticastAddress,
			TCPPort:      n.Port(),
			UserName:     n.cfg.UserName,
		}, n.log))
	}
	if n.cfg.PeersFile != "" {
		m.RegisterMechanism(peersfile.New(peersfile.Config{Path: n.cfg.PeersFile}, n.log))
	}
	return m
}

// Start runs the accept loop and discovery. Failing to join discovery is
// fatal and leaves the node closed. Cancelling ctx closes the node.
func (n *Node) Start(ctx context.Context) error {
	const op = "node.Start"

	if n.ctx.Err() != nil {
		return ErrClosed
	}

	var err error
	started := false
	n.startOnce.Do(func() {
		started = true

		n.goTracked(func() { n.listener.Serve(n.ctx) })

		if n.discovery != nil {
			if err = n.discovery.Start(n.ctx); err != nil {
				err = fmt.Errorf("%s: %w", op, err)
				return
			}
		}

		go func() {
			select {
			case <-ctx.Done():
				n.Close()
			case <-n.ctx.Done():
			}
		}()

		if n.cfg.ReconnectKnown && n.book != nil {
			n.goTracked(n.reconnectKnown)
		}
	})

	if !started {
		return ErrAlreadyStarted
	}
	if err != nil {
		n.Close()
		return err
	}

	n.log.Info("Peer started", slog.String("op", op))
	return nil
}

// Send formats text as a chat line, shows it locally and fans it out to
// every established connection.
func (n *Node) Send(text string) {
	const op = "node.Send"

	line := wire.ChatLine(n.cfg.UserName, text)
	n.events.Chat(line)

	for _, conn := range n.registry.All() {
		if conn.State() != peers.StateEstablished {
			continue
		}
		// the log records what was sent, delivery is best effort
		n.history.Append(conn.RemotePeerID(), line)
		if err := conn.WriteLine(line); err != nil {
			n.log.Debug("Write failed", slog.String("op", op), slog.String("remote", conn.Addr()), sl.Err(err))
		}
	}
}

// ConnectTo dials host:port and completes the id exchange before
// returning. The message loop continues in the background.
func (n *Node) ConnectTo(host string, port int) bool {
	const op = "node.ConnectTo"
	address := net.JoinHostPort(host, strconv.Itoa(port))
	log := n.log.With(slog.String("op", op), slog.String("address", address))

	if n.ctx.Err() != nil {
		log.Warn("Node is closed")
		return false
	}

	dialer := net.Dialer{Timeout: n.cfg.DialTimeout}
	raw, err := dialer.DialContext(n.ctx, "tcp", address)
	if err != nil {
		log.Warn("Failed to connect", sl.Err(err))
		return false
	}

	conn := peers.NewConnection(raw, true)
	stop := context.AfterFunc(n.ctx, func() { _ = conn.Close() })

	if err := n.handler.HandshakeOutbound(conn); err != nil {
		stop()
		log.Warn("Handshake failed", sl.Err(err))
		n.handler.Teardown(conn)
		return false
	}

	n.registry.Put(conn)

	if !n.goTracked(func() {
		defer stop()
		n.handler.Relay(conn)
	}) {
		stop()
		n.handler.Teardown(conn)
		return false
	}

	log.Info("Connected", slog.String("remote_peer_id", conn.RemotePeerID()))
	return true
}

// TriggerDiscovery announces this peer once on every announcing mechanism.
func (n *Node) TriggerDiscovery() error {
	const op = "node.TriggerDiscovery"

	if n.discovery == nil {
		return ErrDiscoveryDisabled
	}
	if err := n.discovery.Announce(); err != nil {
		if errors.Is(err, discovery.ErrNoAnnouncer) {
			return ErrDiscoveryDisabled
		}
		n.log.Warn("Announce failed", slog.String("op", op), sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ServeInbound runs an accepted connection and ties it to the node's
// lifetime.
func (n *Node) ServeInbound(conn *peers.Connection) {
	stop := context.AfterFunc(n.ctx, func() { _ = conn.Close() })
	defer stop()
	n.handler.ServeInbound(conn)
}

// goTracked runs fn in a goroutine Close waits for. It refuses once the
// node is closing.
func (n *Node) goTracked(fn func()) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.ctx.Err() != nil {
		return false
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		fn()
	}()
	return true
}

func (n *Node) recordPeer(conn *peers.Connection) {
	const op = "node.recordPeer"

	if n.book == nil {
		return
	}

	listenPort, direction := 0, peerbook.DirectionInbound
	if conn.Outbound {
		listenPort, direction = conn.RemotePort, peerbook.DirectionOutbound
	}

	err := n.book.RecordConnection(n.ctx, conn.RemotePeerID(), conn.RemoteAddress, listenPort, direction, time.Now())
	if err != nil {
		n.log.Warn("Failed to record peer", slog.String("op", op), sl.Err(err))
	}
}

func (n *Node) reconnectKnown() {
	const op = "node.reconnectKnown"
	log := n.log.With(slog.String("op", op))

	known, err := n.book.ListPeers(n.ctx, peerbook.Filter{HasListenPort: true})
	if err != nil {
		log.Warn("Failed to list known peers", sl.Err(err))
		return
	}

	for _, p := range known {
		if n.ctx.Err() != nil {
			return
		}
		if p.PeerID == n.peerID || n.registry.Exists(p.Address, p.ListenPort) {
			continue
		}
		if len(n.registry.GetByPeerID(p.PeerID)) > 0 {
			continue
		}
		n.events.Status(events.Systemf("Reconnecting to %s...", net.JoinHostPort(p.Address, strconv.Itoa(p.ListenPort))))
		n.ConnectTo(p.Address, p.ListenPort)
	}
}

func (n *Node) PeerID() string   { return n.peerID }
func (n *Node) UserName() string { return n.cfg.UserName }

// Port returns the bound chat port.
func (n *Node) Port() int {
	return n.listener.Port()
}

// Messages is a snapshot of every line delivered so far.
func (n *Node) Messages() []string {
	return n.events.Messages()
}

// Events streams delivered lines for a subscribing shell.
func (n *Node) Events() <-chan events.Event {
	return n.events.Events()
}

// Status emits an operator-facing status line.
func (n *Node) Status(line string) {
	n.events.Status(line)
}

func (n *Node) Connections() []ConnectionInfo {
	conns := n.registry.All()
	out := make([]ConnectionInfo, 0, len(conns))
	for _, c := range conns {
		out = append(out, ConnectionInfo{
			Address:      c.RemoteAddress,
			Port:         c.RemotePort,
			RemotePeerID: c.RemotePeerID(),
			State:        c.State().String(),
			Outbound:     c.Outbound,
		})
	}
	return out
}

// KnownPeers lists the peer book, or nil when there is none.
func (n *Node) KnownPeers(ctx context.Context) ([]peerbook.Peer, error) {
	if n.book == nil {
		return nil, nil
	}
	return n.book.ListPeers(ctx, peerbook.Filter{})
}

// ConnectKnown dials the listen address the peer book has for peerID.
func (n *Node) ConnectKnown(ctx context.Context, peerID string) (bool, error) {
	if n.book == nil {
		return false, ErrNoPeerBook
	}
	p, err := n.book.GetPeer(ctx, peerID)
	if err != nil {
		return false, err
	}
	if p.ListenPort == 0 {
		return false, fmt.Errorf("%w: %s", ErrNoListenPort, peerID)
	}
	return n.ConnectTo(p.Address, p.ListenPort), nil
}

// ForgetPeer drops peerID from the peer book. History is kept.
func (n *Node) ForgetPeer(ctx context.Context, peerID string) error {
	if n.book == nil {
		return ErrNoPeerBook
	}
	return n.book.DeletePeer(ctx, peerID)
}

// DroppedEvents counts events the shell was too slow to take from the
// channel. They are still in Messages.
func (n *Node) DroppedEvents() int64 {
	return n.events.Dropped()
}

// History returns the stored log with remotePeerID.
func (n *Node) History(remotePeerID string) []string {
	return n.history.Load(remotePeerID)
}

// HistoryPeers lists remote peers we have a log with.
func (n *Node) HistoryPeers() ([]string, error) {
	return n.history.Peers()
}

// DiscoveryMechanisms names the active mechanisms; empty in basic mode.
func (n *Node) DiscoveryMechanisms() []string {
	if n.discovery == nil {
		return nil
	}
	return n.discovery.Mechanisms()
}

// Close stops discovery and the listener, closes every connection and
// waits for their loops to finish. Safe to call more than once.
func (n *Node) Close() error {
	const op = "node.Close"

	var errs []error
	n.closeOnce.Do(func() {
		n.mu.Lock()
		n.cancel()
		n.mu.Unlock()

		if n.discovery != nil {
			if err := n.discovery.Stop(); err != nil {
				errs = append(errs, err)
			}
		}
		if err := n.listener.Close(); err != nil {
			errs = append(errs, err)
		}
		for _, conn := range n.registry.All() {
			_ = conn.Close()
		}

		n.wg.Wait()

		n.events.Close()

		n.log.Info("Peer stopped", slog.String("op", op))
	})
	return errors.Join(errs...)
}
