// Package discovery turns peer advertisements into outbound connections.
// Mechanisms report candidates; the manager drops our own announcements
// and peers we are already connected to, then dials the rest.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"lanchat/internal/events"
	"lanchat/internal/util/logger/sl"
)

type Manager struct {
	cfg       Config
	registry  Registry
	connector Connector
	sink      StatusSink
	log       *slog.Logger

	localIPs func() ([]net.IP, error)

	mechanisms     map[string]Mechanism
	order          []string
	mechanismsLock sync.RWMutex

	// dials in progress, keyed by host:port
	inflight   map[string]struct{}
	inflightMu sync.Mutex

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewManager(cfg Config, registry Registry, connector Connector, sink StatusSink, log *slog.Logger) *Manager {
	return &Manager{
		cfg:        cfg,
		registry:   registry,
		connector:  connector,
		sink:       sink,
		log:        log.With(slog.String("component", "discovery")),
		localIPs:   InterfaceIPs,
		mechanisms: make(map[string]Mechanism),
		inflight:   make(map[string]struct{}),
	}
}

// SetLocalIPs replaces the interface address lookup used by the self-check.
func (m *Manager) SetLocalIPs(fn func() ([]net.IP, error)) {
	m.localIPs = fn
}

// RegisterMechanism регистрирует новый механизм обнаружения
func (m *Manager) RegisterMechanism(mechanism Mechanism) {
	const op = "discovery.RegisterMechanism"

	m.mechanismsLock.Lock()
	defer m.mechanismsLock.Unlock()

	name := mechanism.Name()
	if _, exists := m.mechanisms[name]; !exists {
		m.order = append(m.order, name)
	}
	m.mechanisms[name] = mechanism
	mechanism.SetOnPeerDiscovered(m.onPeerDiscovered)

	m.log.Info("Registered discovery mechanism", slog.String("op", op), slog.String("mechanism", name))
}

// Mechanisms returns registered mechanism names in registration order.
func (m *Manager) Mechanisms() []string {
	m.mechanismsLock.RLock()
	defer m.mechanismsLock.RUnlock()
	return append([]string(nil), m.order...)
}

// Start starts every mechanism. A mechanism that cannot start is fatal.
func (m *Manager) Start(ctx context.Context) error {
	const op = "discovery.Start"
	log := m.log.With(slog.String("op", op))

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.mechanismsLock.RLock()
	for _, name := range m.order {
		if err := m.mechanisms[name].Start(ctx); err != nil {
			m.mechanismsLock.RUnlock()
			cancel()
			return fmt.Errorf("%s: %w: %s: %w", op, ErrMechanismStarted, name, err)
		}
		log.Info("Started discovery mechanism", slog.String("mechanism", name))
	}
	m.mechanismsLock.RUnlock()

	if m.cfg.AnnounceOnStart {
		if err := m.Announce(); err != nil && !errors.Is(err, ErrNoAnnouncer) {
			log.Warn("Initial announce failed", sl.Err(err))
		}
	}

	if m.cfg.AnnounceInterval > 0 {
		m.wg.Add(1)
		go m.announceLoop(ctx)
	}

	return nil
}

func (m *Manager) announceLoop(ctx context.Context) {
	defer m.wg.Done()
	const op = "discovery.announceLoop"

	ticker := time.NewTicker(m.cfg.AnnounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Announce(); err != nil {
				m.log.Warn("Periodic announce failed", slog.String("op", op), sl.Err(err))
			}
		}
	}
}

// Announce asks every announcing mechanism to advertise us once.
func (m *Manager) Announce() error {
	m.mechanismsLock.RLock()
	defer m.mechanismsLock.RUnlock()

	var (
		errs      []error
		announced bool
	)
	for _, name := range m.order {
		a, ok := m.mechanisms[name].(Announcer)
		if !ok {
			continue
		}
		announced = true
		if err := a.Announce(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	if !announced {
		return ErrNoAnnouncer
	}
	return errors.Join(errs...)
}

// onPeerDiscovered обрабатывает обнаружение нового пира
func (m *Manager) onPeerDiscovered(c Candidate) {
	const op = "discovery.onPeerDiscovered"
	log := m.log.With(
		slog.String("op", op),
		slog.String("source", c.Source),
		slog.String("address", c.Address),
		slog.Int("port", c.Port),
	)

	// проверка, что это не наш собственный узел
	if c.Port == m.cfg.LocalPort && m.isLocalAddress(c.Address) {
		log.Debug("Ignoring own announcement")
		return
	}

	if m.registry.Exists(c.Address, c.Port) {
		log.Debug("Already connected")
		return
	}

	key := net.JoinHostPort(c.Address, strconv.Itoa(c.Port))
	m.inflightMu.Lock()
	if _, busy := m.inflight[key]; busy {
		m.inflightMu.Unlock()
		log.Debug("Dial already in progress")
		return
	}
	m.inflight[key] = struct{}{}
	m.inflightMu.Unlock()

	name := c.UserName
	if name == "" {
		name = key
	}
	status := events.Systemf("Peer '%s' found! Connecting...", name)
	log.Info(status)
	m.sink.Status(status)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			m.inflightMu.Lock()
			delete(m.inflight, key)
			m.inflightMu.Unlock()
		}()

		if !m.connector.ConnectTo(c.Address, c.Port) {
			log.Warn("Failed to connect to discovered peer")
		}
	}()
}

func (m *Manager) isLocalAddress(address string) bool {
	const op = "discovery.isLocalAddress"

	ip := net.ParseIP(address)
	if ip == nil {
		return false
	}

	locals, err := m.localIPs()
	if err != nil {
		m.log.Warn("Failed to list interface addresses", slog.String("op", op), sl.Err(err))
		return false
	}

	for _, local := range locals {
		if local.Equal(ip) {
			return true
		}
	}
	return false
}

// Stop stops every mechanism and waits for dials started by discovery.
func (m *Manager) Stop() error {
	const op = "discovery.Stop"

	if m.cancel != nil {
		m.cancel()
	}

	m.mechanismsLock.RLock()
	var errs []error
	for _, name := range m.order {
		if err := m.mechanisms[name].Stop(); err != nil {
			m.log.Error("Error stopping discovery mechanism", slog.String("op", op), slog.String("mechanism", name), sl.Err(err))
			errs = append(errs, err)
		}
	}
	m.mechanismsLock.RUnlock()

	m.wg.Wait()
	return errors.Join(errs...)
}

// InterfaceIPs lists every address bound to every local interface.
func InterfaceIPs() ([]net.IP, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}

	ips := make([]net.IP, 0, len(addrs))
	for _, addr := range addrs {
		switch v := addr.(type) {
		case *net.IPNet:
			ips = append(ips, v.IP)
		case *net.IPAddr:
			ips = append(ips, v.IP)
		}
	}
	return ips, nil
}
