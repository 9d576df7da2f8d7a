// Package multicast announces and hears peers over a UDP multicast group.
package multicast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"lanchat/internal/discovery"
	"lanchat/internal/util/logger/sl"
	"lanchat/internal/wire"

	"golang.org/x/net/ipv4"
)

const (
	Name = "multicast"

	DefaultGroupAddress = "230.0.0.0:4446"
	maxDatagramSize     = 1024
	readBufferSize      = 1024 * 1024
)

var ErrNotStarted = errors.New("multicast discovery is not started")

type Config struct {
	GroupAddress string
	TCPPort      int
	UserName     string
}

// Discovery реализует механизм обнаружения через UDP multicast
type Discovery struct {
	cfg Config
	log *slog.Logger

	onPeerDiscovered func(discovery.Candidate)

	mu     sync.Mutex
	group  *net.UDPAddr
	conn   *net.UDPConn
	pc     *ipv4.PacketConn
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, log *slog.Logger) *Discovery {
	if cfg.GroupAddress == "" {
		cfg.GroupAddress = DefaultGroupAddress
	}
	return &Discovery{
		cfg: cfg,
		log: log.With(slog.String("discovery", Name)),
	}
}

func (d *Discovery) Name() string {
	return Name
}

func (d *Discovery) SetOnPeerDiscovered(callback func(discovery.Candidate)) {
	d.onPeerDiscovered = callback
}

// Start joins the group on every multicast-capable interface and starts
// the receive loop. Failing to join is returned to the caller.
func (d *Discovery) Start(ctx context.Context) error {
	const op = "multicast.Start"
	log := d.log.With(slog.String("op", op))

	group, err := net.ResolveUDPAddr("udp4", d.cfg.GroupAddress)
	if err != nil {
		return fmt.Errorf("%s: resolve %s: %w", op, d.cfg.GroupAddress, err)
	}
	if !group.IP.IsMulticast() {
		return fmt.Errorf("%s: %s is not a multicast address", op, group.IP)
	}

	conn, err := net.ListenMulticastUDP("udp4", nil, group)
	if err != nil {
		return fmt.Errorf("%s: join %s: %w", op, group, err)
	}

	// Установка размера буфера для UDP
	if err := conn.SetReadBuffer(readBufferSize); err != nil {
		log.Warn("Failed to set read buffer", sl.Err(err))
	}

	pc := ipv4.NewPacketConn(conn)
	if err := pc.SetMulticastLoopback(true); err != nil {
		log.Warn("Failed to enable multicast loopback", sl.Err(err))
	}
	joined := d.joinAllInterfaces(pc, group, log)

	ctx, cancel := context.WithCancel(ctx)

	d.mu.Lock()
	d.group = group
	d.conn = conn
	d.pc = pc
	d.cancel = cancel
	d.mu.Unlock()

	log.Info("UDP Discovery listener started",
		slog.String("multicast_group", group.String()),
		slog.Int("interfaces", joined),
	)

	d.wg.Add(1)
	go d.listen(ctx, conn)

	return nil
}

// joinAllInterfaces joins on top of the default membership taken by
// ListenMulticastUDP. Per-interface failures are expected (already joined,
// interface without an address) and only logged.
func (d *Discovery) joinAllInterfaces(pc *ipv4.PacketConn, group *net.UDPAddr, log *slog.Logger) int {
	ifaces, err := net.Interfaces()
	if err != nil {
		log.Warn("Failed to list interfaces", sl.Err(err))
		return 0
	}

	joined := 0
	for i := range ifaces {
		ifi := &ifaces[i]
		if ifi.Flags&net.FlagUp == 0 || ifi.Flags&net.FlagMulticast == 0 {
			continue
		}
		if err := pc.JoinGroup(ifi, &net.UDPAddr{IP: group.IP}); err != nil {
			log.Debug("Join skipped", slog.String("interface", ifi.Name), sl.Err(err))
			continue
		}
		joined++
	}
	return joined
}

// Announce sends a single DISCOVER datagram to the group.
func (d *Discovery) Announce() error {
	const op = "multicast.Announce"

	d.mu.Lock()
	pc, group := d.pc, d.group
	d.mu.Unlock()

	if pc == nil {
		return ErrNotStarted
	}

	payload := wire.Announcement{TCPPort: d.cfg.TCPPort, UserName: d.cfg.UserName}.Encode()
	if _, err := pc.WriteTo(payload, nil, group); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	d.log.Debug("Announcement sent", slog.String("op", op), slog.String("payload", string(payload)))
	return nil
}

func (d *Discovery) listen(ctx context.Context, conn *net.UDPConn) {
	defer d.wg.Done()
	const op = "multicast.listen"
	log := d.log.With(slog.String("op", op))

	buffer := make([]byte, maxDatagramSize)
	for {
		n, remoteAddr, err := conn.ReadFromUDP(buffer)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				log.Info("UDP Discovery listener stopped")
				return
			}
			log.Warn("Error reading UDP", sl.Err(err))
			continue
		}

		d.processDiscoveryMessage(buffer[:n], remoteAddr)
	}
}

// processDiscoveryMessage обрабатывает полученное сообщение обнаружения
func (d *Discovery) processDiscoveryMessage(message []byte, remoteAddr *net.UDPAddr) {
	ann, err := wire.ParseAnnouncement(message)
	if err != nil {
		d.log.Debug("Ignoring datagram", slog.String("from", remoteAddr.String()), sl.Err(err))
		return
	}

	if d.onPeerDiscovered != nil {
		d.onPeerDiscovered(discovery.Candidate{
			Address:  remoteAddr.IP.String(),
			Port:     ann.TCPPort,
			UserName: ann.UserName,
			Source:   Name,
		})
	}
}

// Stop leaves the group and waits for the receive loop.
func (d *Discovery) Stop() error {
	d.mu.Lock()
	conn, cancel := d.conn, d.cancel
	d.conn, d.pc, d.cancel = nil, nil, nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	var err error
	if conn != nil {
		err = conn.Close()
	}
	d.wg.Wait()
	return err
}
