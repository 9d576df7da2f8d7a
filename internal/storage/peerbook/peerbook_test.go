package peerbook

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"lanchat/internal/util/logger/handlers/slogdiscard"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptrString(s string) *string { return &s }

func TestFilter_BuildWhereClause(t *testing.T) {
	seen := time.Unix(1700000000, 0)

	testCases := []struct {
		name   string
		filter Filter
		where  string
		args   []interface{}
	}{
		{
			name:   "empty filter should return empty where",
			filter: Filter{},
			where:  "",
			args:   []interface{}{},
		},
		{
			name:   "Filter by last seen",
			filter: Filter{MinLastSeen: &seen},
			where:  "last_seen >= ?",
			args:   []interface{}{int64(1700000000)},
		},
		{
			name:   "Filter by address like",
			filter: Filter{AddressLike: ptrString("192.168.")},
			where:  "address LIKE ?",
			args:   []interface{}{"%192.168.%"},
		},
		{
			name:   "Filter by multiple fields",
			filter: Filter{AddressLike: ptrString("10."), HasListenPort: true},
			where:  "address LIKE ? AND listen_port > 0",
			args:   []interface{}{"%10.%"},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			where, args := tc.filter.buildWhereClause()
			assert.Equal(t, tc.where, where)
			assert.Equal(t, tc.args, args)
		})
	}
}

func setupTestBook(t *testing.T) *Book {
	t.Helper()

	book, err := New(Config{
		DBPath:         filepath.Join(t.TempDir(), "nested", "peers.sqlite"),
		MigrationsPath: "../../../migrations",
	}, slogdiscard.NewDiscardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, book.Close()) })

	return book
}

func TestRecordConnection_NewPeer(t *testing.T) {
	book := setupTestBook(t)
	ctx := context.Background()
	at := time.Unix(1700000000, 0)

	require.NoError(t, book.RecordConnection(ctx, "peer-1", "192.168.1.20", 5002, DirectionOutbound, at))

	p, err := book.GetPeer(ctx, "peer-1")
	require.NoError(t, err)
	assert.Equal(t, Peer{
		PeerID:        "peer-1",
		Address:       "192.168.1.20",
		ListenPort:    5002,
		FirstSeen:     at,
		LastSeen:      at,
		ConnectCount:  1,
		LastDirection: DirectionOutbound,
	}, p)
}

func TestRecordConnection_Update(t *testing.T) {
	book := setupTestBook(t)
	ctx := context.Background()
	first := time.Unix(1700000000, 0)
	second := first.Add(time.Hour)

	require.NoError(t, book.RecordConnection(ctx, "peer-1", "192.168.1.20", 5002, DirectionOutbound, first))
	// inbound connections do not know the listen port
	require.NoError(t, book.RecordConnection(ctx, "peer-1", "192.168.1.21", 0, DirectionInbound, second))

	p, err := book.GetPeer(ctx, "peer-1")
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.21", p.Address)
	assert.Equal(t, 5002, p.ListenPort)
	assert.Equal(t, 2, p.ConnectCount)
	assert.WithinDuration(t, first, p.FirstSeen, time.Second)
	assert.WithinDuration(t, second, p.LastSeen, time.Second)
	assert.Equal(t, DirectionInbound, p.LastDirection)
}

func TestRecordConnection_InvalidInput(t *testing.T) {
	book := setupTestBook(t)

	err := book.RecordConnection(context.Background(), "", "127.0.0.1", 1, DirectionInbound, time.Now())
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestGetPeer_NotFound(t *testing.T) {
	book := setupTestBook(t)

	_, err := book.GetPeer(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrPeerNotFound)
}

func TestListPeers(t *testing.T) {
	book := setupTestBook(t)
	ctx := context.Background()
	base := time.Unix(1700000000, 0)

	require.NoError(t, book.RecordConnection(ctx, "old", "10.0.0.1", 5001, DirectionOutbound, base))
	require.NoError(t, book.RecordConnection(ctx, "new", "192.168.1.5", 5002, DirectionOutbound, base.Add(2*time.Hour)))
	require.NoError(t, book.RecordConnection(ctx, "inbound-only", "192.168.1.6", 0, DirectionInbound, base.Add(time.Hour)))

	all, err := book.ListPeers(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"new", "inbound-only", "old"}, []string{all[0].PeerID, all[1].PeerID, all[2].PeerID})

	dialable, err := book.ListPeers(ctx, Filter{HasListenPort: true})
	require.NoError(t, err)
	assert.Len(t, dialable, 2)

	lan, err := book.ListPeers(ctx, Filter{AddressLike: ptrString("192.168."), Limit: 1})
	require.NoError(t, err)
	require.Len(t, lan, 1)
	assert.Equal(t, "new", lan[0].PeerID)

	since := base.Add(90 * time.Minute)
	recent, err := book.ListPeers(ctx, Filter{MinLastSeen: &since})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "new", recent[0].PeerID)
}

func TestDeletePeer(t *testing.T) {
	book := setupTestBook(t)
	ctx := context.Background()

	require.NoError(t, book.RecordConnection(ctx, "peer-1", "10.0.0.1", 5001, DirectionOutbound, time.Now()))
	require.NoError(t, book.DeletePeer(ctx, "peer-1"))

	_, err := book.GetPeer(ctx, "peer-1")
	assert.ErrorIs(t, err, ErrPeerNotFound)
	assert.ErrorIs(t, book.DeletePeer(ctx, "peer-1"), ErrPeerNotFound)
}
