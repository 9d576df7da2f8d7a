package session

import (
	"bufio"
	"net"
	"sync"
	"testing"
	"time"

	"lanchat/internal/peers"
	"lanchat/internal/util/logger/handlers/slogdiscard"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	chat   []string
	status []string
	replay []string
}

func (s *recordingSink) Chat(line string)    { s.mu.Lock(); s.chat = append(s.chat, line); s.mu.Unlock() }
func (s *recordingSink) Status(line string)  { s.mu.Lock(); s.status = append(s.status, line); s.mu.Unlock() }
func (s *recordingSink) History(line string) { s.mu.Lock(); s.replay = append(s.replay, line); s.mu.Unlock() }

func (s *recordingSink) snapshot() (chat, status, replay []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.chat...), append([]string(nil), s.status...), append([]string(nil), s.replay...)
}

type memHistory struct {
	mu    sync.Mutex
	lines map[string][]string
}

func newMemHistory() *memHistory {
	return &memHistory{lines: make(map[string][]string)}
}

func (h *memHistory) Append(remotePeerID, line string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lines[remotePeerID] = append(h.lines[remotePeerID], line)
}

func (h *memHistory) Load(remotePeerID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.lines[remotePeerID]...)
}

type fixture struct {
	handler  *Handler
	registry *peers.Peers
	history  *memHistory
	sink     *recordingSink
}

func newFixture(timeout time.Duration) *fixture {
	f := &fixture{
		registry: peers.NewPeers(),
		history:  newMemHistory(),
		sink:     &recordingSink{},
	}
	f.handler = NewHandler(
		Config{LocalPeerID: "local-peer-id", HandshakeTimeout: timeout},
		f.registry, f.history, f.sink, slogdiscard.NewDiscardLogger(),
	)
	return f
}

func TestHandshakeOutbound(t *testing.T) {
	tests := []struct {
		name      string
		reply     string
		closeOnly bool
		wantErr   error
		wantID    string
	}{
		{name: "valid id", reply: "/id:remote-peer-id\n", wantID: "remote-peer-id"},
		{name: "chat instead of id", reply: "hello there\n", wantErr: ErrNoRemoteID},
		{name: "empty id", reply: "/id:\n", wantErr: ErrNoRemoteID},
		{name: "closed before reply", closeOnly: true, wantErr: ErrClosedEarly},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(0)
			local, remote := net.Pipe()
			defer remote.Close()

			conn := peers.NewConnection(local, true)
			defer conn.Close()

			go func() {
				r := bufio.NewReader(remote)
				line, err := r.ReadString('\n')
				if err != nil || line != "/id:local-peer-id\n" {
					remote.Close()
					return
				}
				if tt.closeOnly {
					remote.Close()
					return
				}
				_, _ = remote.Write([]byte(tt.reply))
			}()

			err := f.handler.HandshakeOutbound(conn)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrHandshake)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, "", conn.RemotePeerID())
				assert.NotEqual(t, peers.StateEstablished, conn.State())
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantID, conn.RemotePeerID())
			assert.Equal(t, peers.StateEstablished, conn.State())
		})
	}
}

func TestHandshakeOutbound_ReplaysHistory(t *testing.T) {
	f := newFixture(0)
	f.history.Append("0123456789abcdef", "[bob]: earlier")
	f.history.Append("0123456789abcdef", "[alice]: reply")

	var established *peers.Connection
	f.handler.SetOnEstablished(func(c *peers.Connection) { established = c })

	local, remote := net.Pipe()
	defer remote.Close()
	conn := peers.NewConnection(local, true)
	defer conn.Close()

	go func() {
		r := bufio.NewReader(remote)
		_, _ = r.ReadString('\n')
		_, _ = remote.Write([]byte("/id:0123456789abcdef\n"))
	}()

	require.NoError(t, f.handler.HandshakeOutbound(conn))
	assert.Same(t, conn, established)

	_, status, replay := f.sink.snapshot()
	assert.Equal(t, []string{
		"[SYSTEM] ---- Loading history with 01234567... ----",
		"[SYSTEM] ---- End of history ----",
	}, status)
	assert.Equal(t, []string{"[bob]: earlier", "[alice]: reply"}, replay)
}

func TestServeInbound(t *testing.T) {
	f := newFixture(0)
	local, remote := net.Pipe()
	conn := peers.NewConnection(local, false)
	f.registry.Put(conn)

	done := make(chan struct{})
	go func() {
		f.handler.ServeInbound(conn)
		close(done)
	}()

	r := bufio.NewReader(remote)
	// lines before a valid id are dropped
	_, err := remote.Write([]byte("noise before id\n/id:\n/id:remote-peer\n"))
	require.NoError(t, err)

	reply, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "/id:local-peer-id\n", reply)

	_, err = remote.Write([]byte("[bob]: hi\n"))
	require.NoError(t, err)
	require.NoError(t, remote.Close())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ServeInbound did not return after remote close")
	}

	chat, status, _ := f.sink.snapshot()
	assert.Equal(t, []string{"[bob]: hi"}, chat)
	assert.Equal(t, []string{"[bob]: hi"}, f.history.Load("remote-peer"))
	assert.Equal(t, 0, f.registry.Len())
	assert.Equal(t, peers.StateClosed, conn.State())
	require.Len(t, status, 1)
	assert.Contains(t, status[0], "[SYSTEM] Connection with ")
	assert.Contains(t, status[0], " closed.")
}

func TestServeInbound_EOFBeforeID(t *testing.T) {
	f := newFixture(0)
	local, remote := net.Pipe()
	conn := peers.NewConnection(local, false)
	f.registry.Put(conn)

	go func() {
		_, _ = remote.Write([]byte("not an id\n"))
		remote.Close()
	}()

	f.handler.ServeInbound(conn)

	chat, _, _ := f.sink.snapshot()
	assert.Empty(t, chat)
	assert.Equal(t, "", conn.RemotePeerID())
	assert.Equal(t, 0, f.registry.Len())
}

func TestServeInbound_HandshakeTimeout(t *testing.T) {
	f := newFixture(50 * time.Millisecond)
	local, remote := net.Pipe()
	defer remote.Close()
	conn := peers.NewConnection(local, false)
	f.registry.Put(conn)

	done := make(chan struct{})
	go func() {
		f.handler.ServeInbound(conn)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handshake timeout was not applied")
	}
	assert.Equal(t, peers.StateClosed, conn.State())
}

func TestRelay_StopsOnLocalClose(t *testing.T) {
	f := newFixture(0)
	local, remote := net.Pipe()
	defer remote.Close()
	conn := peers.NewConnection(local, true)
	conn.SetRemotePeerID("remote")
	conn.SetState(peers.StateEstablished)
	f.registry.Put(conn)

	done := make(chan struct{})
	go func() {
		f.handler.Relay(conn)
		close(done)
	}()

	require.NoError(t, conn.Close())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Relay did not stop after local close")
	}
	assert.Equal(t, 0, f.registry.Len())
}
