// Package peersfile reads bootstrap peers from a text file, one host:port
// per line, and re-reads it whenever it changes on disk.
package peersfile

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"lanchat/internal/discovery"
	"lanchat/internal/util/logger/sl"
	"lanchat/internal/watcher"
)

const Name = "peers_file"

type Config struct {
	Path             string
	DebounceDuration time.Duration
}

type Mechanism struct {
	path     string
	debounce time.Duration
	log      *slog.Logger

	onPeerDiscovered func(discovery.Candidate)

	mu      sync.Mutex
	watcher *watcher.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(cfg Config, log *slog.Logger) *Mechanism {
	path, err := filepath.Abs(cfg.Path)
	if err != nil {
		path = filepath.Clean(cfg.Path)
	}
	return &Mechanism{
		path:     path,
		debounce: cfg.DebounceDuration,
		log:      log.With(slog.String("discovery", Name)),
	}
}

func (m *Mechanism) Name() string {
	return Name
}

func (m *Mechanism) SetOnPeerDiscovered(callback func(discovery.Candidate)) {
	m.onPeerDiscovered = callback
}

// Start reads the file once and then follows it for changes. A file that
// does not exist yet is not an error.
func (m *Mechanism) Start(ctx context.Context) error {
	const op = "peersfile.Start"
	log := m.log.With(slog.String("op", op), slog.String("path", m.path))

	if err := m.load(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s: %w", op, err)
		}
		log.Warn("Peers file does not exist yet")
	}

	fw, err := watcher.New(m, watcher.Config{
		Debounce: m.debounce,
		Logger:   m.log,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := fw.Add(m.path); err != nil {
		_ = fw.Close()
		return fmt.Errorf("%s: %w", op, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.watcher = fw
	m.cancel = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go m.drainErrors(ctx, fw)

	log.Info("Watching peers file")
	return nil
}

func (m *Mechanism) drainErrors(ctx context.Context, fw *watcher.Watcher) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-fw.Errors():
			m.log.Warn("Peers file watch error", sl.Err(err))
		}
	}
}

// FileChanged re-reads the file after it settled. Removal keeps the peers
// already found; a later create brings the file back.
func (m *Mechanism) FileChanged(path string, exists bool) error {
	if !exists {
		m.log.Info("Peers file removed", slog.String("path", path))
		return nil
	}
	err := m.load()
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (m *Mechanism) load() error {
	const op = "peersfile.load"

	f, err := os.Open(m.path)
	if err != nil {
		return err
	}
	defer f.Close()

	entries, err := Parse(f)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	for _, e := range entries {
		host, err := resolve(e.Host)
		if err != nil {
			m.log.Warn("Cannot resolve peer", slog.String("op", op), slog.String("host", e.Host), sl.Err(err))
			continue
		}
		if m.onPeerDiscovered != nil {
			m.onPeerDiscovered(discovery.Candidate{Address: host, Port: e.Port, Source: Name})
		}
	}
	return nil
}

type Entry struct {
	Host string
	Port int
}

// Parse reads host:port lines. Blank lines and lines starting with '#'
// are skipped, as are lines that do not parse.
func Parse(r io.Reader) ([]Entry, error) {
	var entries []Entry

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		host, portStr, err := net.SplitHostPort(line)
		if err != nil || host == "" {
			continue
		}
		port, err := strconv.Atoi(portStr)
		if err != nil || port < 1 || port > 65535 {
			continue
		}
		entries = append(entries, Entry{Host: host, Port: port})
	}

	return entries, scanner.Err()
}

func resolve(host string) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip.String(), nil
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return "", err
	}
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			return v4.String(), nil
		}
	}
	if len(ips) == 0 {
		return "", fmt.Errorf("no addresses for %s", host)
	}
	return ips[0].String(), nil
}

func (m *Mechanism) Stop() error {
	m.mu.Lock()
	fw, cancel := m.watcher, m.cancel
	m.watcher, m.cancel = nil, nil
	m.mu.Unlock()

	if fw == nil {
		return nil
	}
	cancel()
	m.wg.Wait()
	return fw.Close()
}
