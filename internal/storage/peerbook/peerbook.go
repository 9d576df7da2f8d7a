// Package peerbook keeps the known-peers book in SQLite.
package peerbook

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"lanchat/pkg/migrator"

	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
)

var (
	ErrPeerNotFound      = errors.New("peer not found")
	ErrDBOperationFailed = errors.New("database operation failed")
	ErrInvalidInput      = errors.New("invalid input parameters")
)

type Config struct {
	DBPath string
	// MigrationsPath, when set, is applied with MigrateUp on open.
	MigrationsPath string
}

type Book struct {
	db     *sql.DB
	logger *slog.Logger
	mu     sync.Mutex // serializes writers
}

func New(config Config, logger *slog.Logger) (*Book, error) {
	const op = "peerbook.New"

	if dir := filepath.Dir(config.DBPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%s: create dir: %w", op, err)
		}
	}

	db, err := sql.Open("sqlite", config.DBPath)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to open database: %w", op, err)
	}

	// SQLite supports only one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(10 * time.Minute)

	logger = logger.With(slog.String("component", "peerbook"))

	if config.MigrationsPath != "" {
		m := migrator.NewMigrator(db, migrator.Config{MigrationsPath: config.MigrationsPath}, logger)
		if err := m.MigrateUp(); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	return &Book{db: db, logger: logger}, nil
}

func (b *Book) Close() error {
	b.logger.Info("Closing peer book")
	return b.db.Close()
}

// RecordConnection upserts peerID after an established handshake and bumps
// its connect counter. A zero listenPort keeps the port already known.
func (b *Book) RecordConnection(ctx context.Context, peerID, address string, listenPort int, direction Direction, at time.Time) error {
	const op = "peerbook.RecordConnection"

	if peerID == "" || address == "" {
		return fmt.Errorf("%s: %w: peer id and address are required", op, ErrInvalidInput)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %v", ErrDBOperationFailed, err)
	}
	defer tx.Rollback() // rollback if not committed

	var exists bool
	err = tx.QueryRowContext(ctx, "SELECT 1 FROM peers WHERE peer_id = ?", peerID).Scan(&exists)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: failed to check peer existence: %v", ErrDBOperationFailed, err)
	}

	if !exists {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO peers (
				peer_id, address, listen_port, first_seen, last_seen, connect_count, last_direction
			) VALUES (?, ?, ?, ?, ?, 1, ?)`,
			peerID, address, listenPort, at.Unix(), at.Unix(), string(direction),
		)
		if err != nil {
			return fmt.Errorf("%w: failed to insert peer: %v", ErrDBOperationFailed, err)
		}
		b.logger.Info("Recorded new peer", slog.String("peer_id", peerID), slog.String("address", address))
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE peers SET
				address = ?,
				listen_port = CASE WHEN ? > 0 THEN ? ELSE listen_port END,
				last_seen = ?,
				connect_count = connect_count + 1,
				last_direction = ?
			WHERE peer_id = ?`,
			address, listenPort, listenPort, at.Unix(), string(direction), peerID,
		)
		if err != nil {
			return fmt.Errorf("%w: failed to update peer: %v", ErrDBOperationFailed, err)
		}
		b.logger.Debug("Updated known peer", slog.String("peer_id", peerID))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit transaction: %v", ErrDBOperationFailed, err)
	}
	return nil
}

const selectPeer = `SELECT peer_id, address, listen_port, first_seen, last_seen, connect_count, last_direction FROM peers`

type scanner interface {
	Scan(dest ...any) error
}

func scanPeer(row scanner) (Peer, error) {
	var (
		p                   Peer
		firstSeen, lastSeen int64
		direction           string
	)
	if err := row.Scan(&p.PeerID, &p.Address, &p.ListenPort, &firstSeen, &lastSeen, &p.ConnectCount, &direction); err != nil {
		return Peer{}, err
	}
	p.FirstSeen = time.Unix(firstSeen, 0)
	p.LastSeen = time.Unix(lastSeen, 0)
	p.LastDirection = Direction(direction)
	return p, nil
}

func (b *Book) GetPeer(ctx context.Context, peerID string) (Peer, error) {
	p, err := scanPeer(b.db.QueryRowContext(ctx, selectPeer+" WHERE peer_id = ?", peerID))
	if errors.Is(err, sql.ErrNoRows) {
		return Peer{}, ErrPeerNotFound
	}
	if err != nil {
		return Peer{}, fmt.Errorf("%w: failed to get peer: %v", ErrDBOperationFailed, err)
	}
	return p, nil
}

// ListPeers returns matching peers, most recently seen first.
func (b *Book) ListPeers(ctx context.Context, filter Filter) ([]Peer, error) {
	query := selectPeer
	var args []interface{}

	if where, filterArgs := filter.buildWhereClause(); where != "" {
		query += " WHERE " + where
		args = append(args, filterArgs...)
	}

	query += " ORDER BY last_seen DESC, peer_id"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list peers: %v", ErrDBOperationFailed, err)
	}
	defer rows.Close()

	peers := make([]Peer, 0)
	for rows.Next() {
		p, err := scanPeer(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to scan peer: %v", ErrDBOperationFailed, err)
		}
		peers = append(peers, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: error iterating through peers: %v", ErrDBOperationFailed, err)
	}

	return peers, nil
}

// DeletePeer forgets a peer. History files are not touched.
func (b *Book) DeletePeer(ctx context.Context, peerID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	res, err := b.db.ExecContext(ctx, "DELETE FROM peers WHERE peer_id = ?", peerID)
	if err != nil {
		return fmt.Errorf("%w: failed to delete peer: %v", ErrDBOperationFailed, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrPeerNotFound
	}
	return nil
}

// buildWhereClause constructs a WHERE clause and corresponding arguments for filtering peers
func (f *Filter) buildWhereClause() (string, []interface{}) {
	where := []string{}
	args := []interface{}{}

	if f.MinLastSeen != nil {
		where = append(where, "last_seen >= ?")
		args = append(args, f.MinLastSeen.Unix())
	}
	if f.AddressLike != nil && *f.AddressLike != "" {
		where = append(where, "address LIKE ?")
		args = append(args, "%"+*f.AddressLike+"%")
	}
	if f.HasListenPort {
		where = append(where, "listen_port > 0")
	}

	return strings.Join(where, " AND "), args
}
