package identity

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

const (
	IdentitiesBucket = "identities"
)

// Store maps a user name to the peer id generated for it the first time
// that name was used.
type Store struct {
	db *bbolt.DB
	mu sync.Mutex
}

// Config содержит конфигурацию для Store
type Config struct {
	Path     string
	FileMode os.FileMode
	Timeout  time.Duration
}

// Open creates the parent directory if needed and opens the bolt file.
func Open(cfg Config) (*Store, error) {
	if cfg.FileMode == 0 {
		cfg.FileMode = 0600
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Second
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("%w: create directory: %v", ErrStorage, err)
	}

	db, err := bbolt.Open(cfg.Path, cfg.FileMode, &bbolt.Options{Timeout: cfg.Timeout})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrStorage, cfg.Path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(IdentitiesBucket))
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return ErrNilDB
	}
	return s.db.Close()
}

// GetOrCreate returns the stored peer id for userName, generating and
// persisting a new one on first use.
func (s *Store) GetOrCreate(userName string) (string, error) {
	if strings.TrimSpace(userName) == "" {
		return "", ErrEmptyUserName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var peerID string
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(IdentitiesBucket))
		if err != nil {
			return err
		}

		if data := bucket.Get([]byte(userName)); data != nil {
			peerID = strings.TrimSpace(string(data))
			return nil
		}

		peerID = uuid.NewString()
		return bucket.Put([]byte(userName), []byte(peerID))
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorage, err)
	}

	return peerID, nil
}
