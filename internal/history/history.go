// Package history keeps one append-only text log per remote peer under a
// directory scoped to the local peer id.
package history

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"lanchat/internal/util/logger/sl"
)

const (
	fileExt         = ".txt"
	filePermissions = 0644
	dirPermissions  = 0755
)

type Store struct {
	dir string
	log *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates <baseDir>/<localPeerID>.
func NewStore(baseDir, localPeerID string, log *slog.Logger) (*Store, error) {
	if localPeerID == "" {
		return nil, errors.New("local peer id is empty")
	}

	dir := filepath.Join(baseDir, fileName(localPeerID))
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	return &Store{
		dir:   dir,
		log:   log.With(slog.String("component", "history")),
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// Append adds line to the log of remotePeerID. Failures are logged and
// dropped; history never blocks delivery.
func (s *Store) Append(remotePeerID, line string) {
	const op = "history.Append"

	if err := s.append(remotePeerID, line); err != nil {
		s.log.Error("Failed to save message to history",
			slog.String("op", op),
			slog.String("remote_peer_id", remotePeerID),
			sl.Err(err),
		)
	}
}

func (s *Store) append(remotePeerID, line string) error {
	if remotePeerID == "" {
		return errors.New("remote peer id is empty")
	}

	lock := s.lockFor(remotePeerID)
	lock.Lock()
	defer lock.Unlock()

	file, err := os.OpenFile(s.path(remotePeerID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, filePermissions)
	if err != nil {
		return err
	}

	// одна запись на строку, чтобы строки не перемешивались
	if _, err := file.WriteString(line + "\n"); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// Load returns every appended line in order. A missing log or a read
// failure yields an empty result.
func (s *Store) Load(remotePeerID string) []string {
	const op = "history.Load"

	lines, err := s.load(remotePeerID)
	if err != nil {
		s.log.Error("Failed to load history",
			slog.String("op", op),
			slog.String("remote_peer_id", remotePeerID),
			sl.Err(err),
		)
		return []string{}
	}
	return lines
}

func (s *Store) load(remotePeerID string) ([]string, error) {
	if remotePeerID == "" {
		return []string{}, nil
	}

	lock := s.lockFor(remotePeerID)
	lock.Lock()
	defer lock.Unlock()

	file, err := os.Open(s.path(remotePeerID))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}
	defer file.Close()

	lines := []string{}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, strings.TrimSuffix(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// Peers lists the remote peer ids that have a log.
func (s *Store) Peers() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read history directory: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), fileExt) {
			continue
		}
		id, ok := peerIDFromFile(strings.TrimSuffix(entry.Name(), fileExt))
		if !ok {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *Store) lockFor(remotePeerID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[remotePeerID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[remotePeerID] = lock
	}
	return lock
}

func (s *Store) path(remotePeerID string) string {
	return filepath.Join(s.dir, fileName(remotePeerID)+fileExt)
}

const hexPrefix = "x-"

// fileName keeps ids made of safe characters as they are and hex encodes
// anything else, remote ids come from the network.
func fileName(peerID string) string {
	if isSafe(peerID) {
		return peerID
	}
	return hexPrefix + hex.EncodeToString([]byte(peerID))
}

func peerIDFromFile(name string) (string, bool) {
	if strings.HasPrefix(name, hexPrefix) {
		raw, err := hex.DecodeString(strings.TrimPrefix(name, hexPrefix))
		if err != nil {
			return "", false
		}
		return string(raw), true
	}
	return name, true
}

func isSafe(id string) bool {
	if id == "" || strings.HasPrefix(id, hexPrefix) {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}
