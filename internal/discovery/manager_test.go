package discovery

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"lanchat/internal/util/logger/handlers/slogdiscard"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockConnector struct {
	mock.Mock
}

func (m *MockConnector) ConnectTo(host string, port int) bool {
	args := m.Called(host, port)
	return args.Bool(0)
}

type fakeRegistry struct {
	existing map[string]int
}

func (r *fakeRegistry) Exists(address string, port int) bool {
	p, ok := r.existing[address]
	return ok && p == port
}

type statusRecorder struct {
	mu    sync.Mutex
	lines []string
}

func (s *statusRecorder) Status(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, line)
}

func (s *statusRecorder) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

type fakeMechanism struct {
	name      string
	startErr  error
	announces int
	callback  func(Candidate)
	started   bool
	stopped   bool
	mu        sync.Mutex
}

func (f *fakeMechanism) Name() string { return f.name }

func (f *fakeMechanism) Start(ctx context.Context) error {
	f.started = f.startErr == nil
	return f.startErr
}

func (f *fakeMechanism) Stop() error {
	f.stopped = true
	return nil
}

func (f *fakeMechanism) SetOnPeerDiscovered(callback func(Candidate)) { f.callback = callback }

type announcingMechanism struct {
	fakeMechanism
}

func (a *announcingMechanism) Announce() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.announces++
	return nil
}

func (a *announcingMechanism) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.announces
}

func localIPs(ips ...string) func() ([]net.IP, error) {
	return func() ([]net.IP, error) {
		out := make([]net.IP, 0, len(ips))
		for _, ip := range ips {
			out = append(out, net.ParseIP(ip))
		}
		return out, nil
	}
}

func newTestManager(connector Connector, registry Registry, sink StatusSink) *Manager {
	m := NewManager(Config{LocalPort: 5001}, registry, connector, sink, slogdiscard.NewDiscardLogger())
	m.SetLocalIPs(localIPs("127.0.0.1", "192.168.1.10", "fe80::1"))
	return m
}

func TestOnPeerDiscovered(t *testing.T) {
	tests := []struct {
		name        string
		candidate   Candidate
		existing    map[string]int
		wantConnect bool
	}{
		{
			name:      "own announcement on loopback",
			candidate: Candidate{Address: "127.0.0.1", Port: 5001, UserName: "alice"},
		},
		{
			name:      "own announcement on lan interface",
			candidate: Candidate{Address: "192.168.1.10", Port: 5001, UserName: "alice"},
		},
		{
			name:        "other peer on same host",
			candidate:   Candidate{Address: "127.0.0.1", Port: 5002, UserName: "bob"},
			wantConnect: true,
		},
		{
			name:        "remote peer using our port number",
			candidate:   Candidate{Address: "192.168.1.20", Port: 5001, UserName: "carol"},
			wantConnect: true,
		},
		{
			name:      "already connected",
			candidate: Candidate{Address: "192.168.1.20", Port: 5002, UserName: "bob"},
			existing:  map[string]int{"192.168.1.20": 5002},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			connector := new(MockConnector)
			if tt.wantConnect {
				connector.On("ConnectTo", tt.candidate.Address, tt.candidate.Port).Return(true).Once()
			}
			sink := &statusRecorder{}
			m := newTestManager(connector, &fakeRegistry{existing: tt.existing}, sink)

			m.onPeerDiscovered(tt.candidate)
			require.NoError(t, m.Stop())

			connector.AssertExpectations(t)
			if tt.wantConnect {
				assert.Equal(t, []string{"[SYSTEM] Peer '" + tt.candidate.UserName + "' found! Connecting..."}, sink.all())
			} else {
				connector.AssertNotCalled(t, "ConnectTo", mock.Anything, mock.Anything)
				assert.Empty(t, sink.all())
			}
		})
	}
}

func TestOnPeerDiscovered_SkipsWhileDialInFlight(t *testing.T) {
	release := make(chan struct{})
	connector := new(MockConnector)
	connector.On("ConnectTo", "192.168.1.20", 5002).
		Run(func(mock.Arguments) { <-release }).
		Return(true).Once()

	m := newTestManager(connector, &fakeRegistry{}, &statusRecorder{})

	c := Candidate{Address: "192.168.1.20", Port: 5002, UserName: "bob"}
	m.onPeerDiscovered(c)
	assert.Eventually(t, func() bool {
		m.inflightMu.Lock()
		defer m.inflightMu.Unlock()
		return len(m.inflight) == 1
	}, time.Second, 5*time.Millisecond)

	m.onPeerDiscovered(c)
	close(release)
	require.NoError(t, m.Stop())

	connector.AssertNumberOfCalls(t, "ConnectTo", 1)
}

func TestOnPeerDiscovered_NamelessCandidate(t *testing.T) {
	connector := new(MockConnector)
	connector.On("ConnectTo", "10.0.0.7", 6000).Return(false)
	sink := &statusRecorder{}
	m := newTestManager(connector, &fakeRegistry{}, sink)

	m.onPeerDiscovered(Candidate{Address: "10.0.0.7", Port: 6000, Source: "peers_file"})
	require.NoError(t, m.Stop())

	assert.Equal(t, []string{"[SYSTEM] Peer '10.0.0.7:6000' found! Connecting..."}, sink.all())
}

func TestStart(t *testing.T) {
	t.Run("starts mechanisms and announces once", func(t *testing.T) {
		mech := &announcingMechanism{fakeMechanism{name: "multicast"}}
		m := NewManager(Config{LocalPort: 5001, AnnounceOnStart: true}, &fakeRegistry{}, new(MockConnector), &statusRecorder{}, slogdiscard.NewDiscardLogger())
		m.RegisterMechanism(mech)

		require.NoError(t, m.Start(context.Background()))
		assert.True(t, mech.started)
		assert.NotNil(t, mech.callback)
		assert.Equal(t, 1, mech.count())

		require.NoError(t, m.Stop())
		assert.True(t, mech.stopped)
	})

	t.Run("failing mechanism is fatal", func(t *testing.T) {
		mech := &fakeMechanism{name: "multicast", startErr: assert.AnError}
		m := NewManager(Config{}, &fakeRegistry{}, new(MockConnector), &statusRecorder{}, slogdiscard.NewDiscardLogger())
		m.RegisterMechanism(mech)

		err := m.Start(context.Background())
		assert.ErrorIs(t, err, ErrMechanismStarted)
		assert.ErrorIs(t, err, assert.AnError)
	})

	t.Run("periodic announce", func(t *testing.T) {
		mech := &announcingMechanism{fakeMechanism{name: "multicast"}}
		m := NewManager(Config{AnnounceInterval: 20 * time.Millisecond}, &fakeRegistry{}, new(MockConnector), &statusRecorder{}, slogdiscard.NewDiscardLogger())
		m.RegisterMechanism(mech)

		require.NoError(t, m.Start(context.Background()))
		assert.Eventually(t, func() bool { return mech.count() >= 2 }, 2*time.Second, 10*time.Millisecond)
		require.NoError(t, m.Stop())
	})
}

func TestAnnounce_NoAnnouncer(t *testing.T) {
	m := NewManager(Config{}, &fakeRegistry{}, new(MockConnector), &statusRecorder{}, slogdiscard.NewDiscardLogger())
	m.RegisterMechanism(&fakeMechanism{name: "peers_file"})

	assert.ErrorIs(t, m.Announce(), ErrNoAnnouncer)
	assert.Equal(t, []string{"peers_file"}, m.Mechanisms())
}

func TestInterfaceIPs(t *testing.T) {
	ips, err := InterfaceIPs()
	require.NoError(t, err)

	var loopback bool
	for _, ip := range ips {
		if ip.IsLoopback() {
			loopback = true
		}
	}
	assert.True(t, loopback, "loopback address should be reported")
}
