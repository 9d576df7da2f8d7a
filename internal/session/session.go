// Package session drives one connection through the handshake and then
// relays its lines: Connecting -> AwaitingId -> Established -> Closed.
package session

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"lanchat/internal/events"
	"lanchat/internal/peers"
	"lanchat/internal/util/logger/sl"
	"lanchat/internal/wire"
)

type HistoryStore interface {
	Append(remotePeerID, line string)
	Load(remotePeerID string) []string
}

type Sink interface {
	Chat(line string)
	Status(line string)
	History(line string)
}

type Registry interface {
	Put(conn *peers.Connection)
	Remove(conn *peers.Connection) bool
}

type Config struct {
	LocalPeerID string
	// HandshakeTimeout bounds the wait for the remote id; zero waits forever.
	HandshakeTimeout time.Duration
}

type Handler struct {
	cfg      Config
	registry Registry
	history  HistoryStore
	sink     Sink
	log      *slog.Logger

	onEstablished func(conn *peers.Connection)
}

func NewHandler(cfg Config, registry Registry, history HistoryStore, sink Sink, log *slog.Logger) *Handler {
	return &Handler{
		cfg:      cfg,
		registry: registry,
		history:  history,
		sink:     sink,
		log:      log.With(slog.String("component", "session")),
	}
}

// SetOnEstablished registers a callback run after every successful handshake.
func (h *Handler) SetOnEstablished(fn func(conn *peers.Connection)) {
	h.onEstablished = fn
}

// HandshakeOutbound sends our id first and requires the remote's id as the
// very next line.
func (h *Handler) HandshakeOutbound(conn *peers.Connection) error {
	const op = "session.HandshakeOutbound"
	log := h.log.With(slog.String("op", op), slog.String("remote", conn.Addr()))

	conn.SetState(peers.StateAwaitingID)

	if err := conn.WriteLine(wire.IDLine(h.cfg.LocalPeerID)); err != nil {
		return fmt.Errorf("%w: send id: %v", ErrHandshake, err)
	}

	h.armHandshakeTimeout(conn)
	response, err := conn.ReadLine()
	if err != nil {
		return fmt.Errorf("%w: %w: %v", ErrHandshake, ErrClosedEarly, err)
	}
	h.disarmHandshakeTimeout(conn)

	remoteID, err := wire.ParseID(response)
	if err != nil {
		log.Warn("Remote answered without id", slog.String("line", response))
		return fmt.Errorf("%w: %w", ErrHandshake, ErrNoRemoteID)
	}

	log.Info("Received remote peer id", slog.String("remote_peer_id", remoteID))
	h.establish(conn, remoteID)
	return nil
}

// handshakeInbound discards lines until an id arrives, then answers with ours.
func (h *Handler) handshakeInbound(conn *peers.Connection) error {
	const op = "session.handshakeInbound"
	log := h.log.With(slog.String("op", op), slog.String("remote", conn.Addr()))

	conn.SetState(peers.StateAwaitingID)
	h.armHandshakeTimeout(conn)

	for {
		line, err := conn.ReadLine()
		if err != nil {
			return fmt.Errorf("%w: %w: %v", ErrHandshake, ErrClosedEarly, err)
		}

		remoteID, err := wire.ParseID(line)
		if err != nil {
			log.Debug("Discarding line received before id", slog.String("line", line))
			continue
		}

		h.disarmHandshakeTimeout(conn)
		log.Info("Connected to remote peer", slog.String("remote_peer_id", remoteID))

		if err := conn.WriteLine(wire.IDLine(h.cfg.LocalPeerID)); err != nil {
			return fmt.Errorf("%w: send id: %v", ErrHandshake, err)
		}

		h.establish(conn, remoteID)
		return nil
	}
}

func (h *Handler) establish(conn *peers.Connection, remoteID string) {
	conn.SetRemotePeerID(remoteID)
	conn.SetState(peers.StateEstablished)

	if h.onEstablished != nil {
		h.onEstablished(conn)
	}

	h.replayHistory(remoteID)
}

func (h *Handler) replayHistory(remoteID string) {
	lines := h.history.Load(remoteID)
	if len(lines) == 0 {
		return
	}

	h.sink.Status(events.Systemf("---- Loading history with %s... ----", events.ShortID(remoteID)))
	for _, line := range lines {
		h.sink.History(line)
	}
	h.sink.Status(events.Systemf("---- End of history ----"))
}

// ServeInbound runs the whole life of an accepted connection. The caller
// has already registered it.
func (h *Handler) ServeInbound(conn *peers.Connection) {
	const op = "session.ServeInbound"
	log := h.log.With(slog.String("op", op), slog.String("remote", conn.Addr()))

	defer h.Teardown(conn)

	if err := h.handshakeInbound(conn); err != nil {
		log.Info("Handshake not completed", sl.Err(err))
		return
	}

	h.relay(conn)
}

// Relay runs the message loop of an established connection until the
// stream ends, then tears it down.
func (h *Handler) Relay(conn *peers.Connection) {
	defer h.Teardown(conn)
	h.relay(conn)
}

func (h *Handler) relay(conn *peers.Connection) {
	const op = "session.relay"
	log := h.log.With(slog.String("op", op), slog.String("remote", conn.Addr()))

	remoteID := conn.RemotePeerID()
	for {
		line, err := conn.ReadLine()
		if err != nil {
			// EOF, reset and local close all end the loop the same way
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				log.Debug("Stream ended")
			} else {
				log.Debug("Read failed, closing", sl.Err(err))
			}
			return
		}

		h.sink.Chat(line)
		h.history.Append(remoteID, line)
	}
}

// Teardown removes conn from the registry, reports the closure and
// releases the transport.
func (h *Handler) Teardown(conn *peers.Connection) {
	const op = "session.Teardown"

	h.registry.Remove(conn)
	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		h.log.Debug("Close failed", slog.String("op", op), sl.Err(err))
	}

	status := events.Systemf("Connection with %s closed.", conn.Addr())
	h.log.Info(status, slog.String("op", op))
	h.sink.Status(status)
}

func (h *Handler) armHandshakeTimeout(conn *peers.Connection) {
	if h.cfg.HandshakeTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(h.cfg.HandshakeTimeout))
	}
}

func (h *Handler) disarmHandshakeTimeout(conn *peers.Connection) {
	if h.cfg.HandshakeTimeout > 0 {
		_ = conn.SetReadDeadline(time.Time{})
	}
}
