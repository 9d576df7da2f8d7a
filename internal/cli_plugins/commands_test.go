package cliplugins

import (
	"bytes"
	"context"
	"testing"
	"time"

	"lanchat/internal/events"
	"lanchat/internal/node"
	"lanchat/internal/storage/peerbook"
	"lanchat/pkg/cli"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	sent         []string
	dialed       []string
	connectOK    bool
	discoverErr  error
	discoverHits int
	conns        []node.ConnectionInfo
	known        []peerbook.Peer
	messages     []string
	history      map[string][]string
	mechanisms   []string
	dropped      int64
	forgotten    []string
}

func (f *fakeEngine) Send(text string) { f.sent = append(f.sent, text) }

func (f *fakeEngine) ConnectTo(host string, port int) bool {
	f.dialed = append(f.dialed, host)
	return f.connectOK
}

func (f *fakeEngine) ConnectKnown(ctx context.Context, peerID string) (bool, error) {
	for _, p := range f.known {
		if p.PeerID == peerID {
			return f.ConnectTo(p.Address, p.ListenPort), nil
		}
	}
	return false, peerbook.ErrPeerNotFound
}

func (f *fakeEngine) ForgetPeer(ctx context.Context, peerID string) error {
	if f.known == nil {
		return node.ErrNoPeerBook
	}
	f.forgotten = append(f.forgotten, peerID)
	return nil
}

func (f *fakeEngine) TriggerDiscovery() error {
	f.discoverHits++
	return f.discoverErr
}

func (f *fakeEngine) Connections() []node.ConnectionInfo { return f.conns }

func (f *fakeEngine) KnownPeers(ctx context.Context) ([]peerbook.Peer, error) {
	return f.known, nil
}

func (f *fakeEngine) Messages() []string { return f.messages }

func (f *fakeEngine) History(id string) []string { return f.history[id] }

func (f *fakeEngine) HistoryPeers() ([]string, error) {
	var ids []string
	for id := range f.history {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeEngine) DiscoveryMechanisms() []string { return f.mechanisms }
func (f *fakeEngine) DroppedEvents() int64          { return f.dropped }
func (f *fakeEngine) PeerID() string                { return "11111111-2222-3333-4444-555555555555" }
func (f *fakeEngine) UserName() string              { return "alice" }
func (f *fakeEngine) Port() int                     { return 9000 }

func newShell(engine Engine) *cli.CLI {
	c := cli.NewCLI("lanchat", "LAN chat")
	RegisterAll(c, engine)
	return c
}

func run(t *testing.T, c *cli.CLI, line string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := c.ExecuteLine(line, &out)
	return out.String(), err
}

func TestSendJoinsWords(t *testing.T) {
	engine := &fakeEngine{}
	c := newShell(engine)

	_, err := run(t, c, "send hello   there")
	require.NoError(t, err)
	assert.Equal(t, []string{"hello there"}, engine.sent)

	_, err = run(t, c, "send")
	assert.Error(t, err)
}

func TestConnect(t *testing.T) {
	tests := []struct {
		name      string
		line      string
		connectOK bool
		wantErr   bool
		wantHost  string
	}{
		{name: "host and port", line: "connect 10.0.0.2 9000", connectOK: true, wantHost: "10.0.0.2"},
		{name: "host:port", line: "connect 10.0.0.3:9001", connectOK: true, wantHost: "10.0.0.3"},
		{name: "dial fails", line: "connect 10.0.0.4 9000", connectOK: false, wantErr: true, wantHost: "10.0.0.4"},
		{name: "bad port", line: "connect 10.0.0.5 abc", wantErr: true},
		{name: "port out of range", line: "connect 10.0.0.5 70000", wantErr: true},
		{name: "unknown peer id", line: "connect 10.0.0.5", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &fakeEngine{connectOK: tt.connectOK}
			out, err := run(t, newShell(engine), tt.line)

			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Contains(t, out, "connected to")
			}
			if tt.wantHost != "" {
				assert.Equal(t, []string{tt.wantHost}, engine.dialed)
			} else {
				assert.Empty(t, engine.dialed)
			}
		})
	}
}

func TestConnectKnownPeer(t *testing.T) {
	engine := &fakeEngine{
		connectOK: true,
		known:     []peerbook.Peer{{PeerID: "peer-b", Address: "10.0.0.2", ListenPort: 9000}},
	}
	c := newShell(engine)

	out, err := run(t, c, "connect peer-b")
	require.NoError(t, err)
	assert.Contains(t, out, "connected to peer-b")
	assert.Equal(t, []string{"10.0.0.2"}, engine.dialed)

	_, err = run(t, c, "connect stranger")
	require.Error(t, err)
	assert.ErrorIs(t, err, peerbook.ErrPeerNotFound)
}

func TestPeersForget(t *testing.T) {
	engine := &fakeEngine{known: []peerbook.Peer{{PeerID: "peer-b"}}}
	c := newShell(engine)

	out, err := run(t, c, "peers --forget peer-b")
	require.NoError(t, err)
	assert.Contains(t, out, "forgot peer-b")
	assert.Equal(t, []string{"peer-b"}, engine.forgotten)

	// flag does not stick
	out, err = run(t, c, "peers")
	require.NoError(t, err)
	assert.Contains(t, out, "no connections")

	_, err = run(t, newShell(&fakeEngine{}), "peers --forget peer-b")
	assert.ErrorIs(t, err, node.ErrNoPeerBook)
}

func TestDiscover(t *testing.T) {
	engine := &fakeEngine{}
	out, err := run(t, newShell(engine), "discover")
	require.NoError(t, err)
	assert.Contains(t, out, "announcement sent")
	assert.Equal(t, 1, engine.discoverHits)

	engine = &fakeEngine{discoverErr: node.ErrDiscoveryDisabled}
	_, err = run(t, newShell(engine), "discover")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disabled")
}

func TestPeers(t *testing.T) {
	engine := &fakeEngine{
		conns: []node.ConnectionInfo{
			{Address: "10.0.0.2", Port: 9000, RemotePeerID: "peer-b", State: "established", Outbound: true},
			{Address: "10.0.0.3", Port: 51234, State: "awaiting_id"},
		},
		known: []peerbook.Peer{
			{PeerID: "peer-b", Address: "10.0.0.2", ListenPort: 9000, LastSeen: time.Now(), ConnectCount: 3, LastDirection: peerbook.DirectionOutbound},
		},
	}
	c := newShell(engine)

	out, err := run(t, c, "peers")
	require.NoError(t, err)
	assert.Contains(t, out, "10.0.0.2:9000")
	assert.Contains(t, out, "peer-b")
	assert.Contains(t, out, "10.0.0.3:51234")

	out, err = run(t, c, "peers --known")
	require.NoError(t, err)
	assert.Contains(t, out, "PEER")
	assert.Contains(t, out, "peer-b")

	// flag must not stick to the next invocation
	out, err = run(t, c, "peers")
	require.NoError(t, err)
	assert.Contains(t, out, "STATE")
}

func TestPeersEmpty(t *testing.T) {
	c := newShell(&fakeEngine{})

	out, err := run(t, c, "peers")
	require.NoError(t, err)
	assert.Contains(t, out, "no connections")

	out, err = run(t, c, "peers -k")
	require.NoError(t, err)
	assert.Contains(t, out, "peer book is disabled")
}

func TestMessagesLast(t *testing.T) {
	engine := &fakeEngine{messages: []string{"one", "two", "three"}}
	c := newShell(engine)

	out, err := run(t, c, "messages")
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\nthree\n", out)

	out, err = run(t, c, "messages --last 2")
	require.NoError(t, err)
	assert.Equal(t, "two\nthree\n", out)

	out, err = run(t, c, "messages -n 10")
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\nthree\n", out)
}

func TestHistory(t *testing.T) {
	engine := &fakeEngine{history: map[string][]string{
		"abcdef12-0000": {"bob: hi", "alice: hey"},
	}}
	c := newShell(engine)

	out, err := run(t, c, "history abcdef12-0000")
	require.NoError(t, err)
	assert.Equal(t, "bob: hi\nalice: hey\n", out)

	out, err = run(t, c, "history abcdef")
	require.NoError(t, err)
	assert.Contains(t, out, "bob: hi")

	out, err = run(t, c, "history nobody")
	require.NoError(t, err)
	assert.Contains(t, out, "no history with nobody")

	out, err = run(t, c, "history")
	require.NoError(t, err)
	assert.Equal(t, "abcdef12-0000\n", out)

	assert.Equal(t, []string{"abcdef12-0000"}, c.Complete("history ab"))
}

func TestWhoAmI(t *testing.T) {
	engine := &fakeEngine{}
	c := newShell(engine)

	out, err := run(t, c, "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "alice")
	assert.Contains(t, out, "9000")
	assert.Contains(t, out, "basic")

	assert.NotContains(t, out, "dropped")

	engine.mechanisms = []string{"multicast", "peers_file"}
	engine.dropped = 4
	out, err = run(t, c, "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "multicast, peers_file")
	assert.Contains(t, out, "dropped events: 4")
}

func TestRenderEvent(t *testing.T) {
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = false })

	tests := []events.Event{
		{Kind: events.KindChat, Line: "bob: hi"},
		{Kind: events.KindStatus, Line: "[SYSTEM] Connection with 10.0.0.2 closed."},
		{Kind: events.KindStatus, Line: "[CRITICAL ERROR] bind failed"},
		{Kind: events.KindHistory, Line: "[SYSTEM] ---- End of history ----"},
	}
	for _, ev := range tests {
		assert.Equal(t, ev.Line, RenderEvent(ev))
	}
}
