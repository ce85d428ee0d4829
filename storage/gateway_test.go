package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ruteri/nexus-storage-gateway/common"
	"github.com/ruteri/nexus-storage-gateway/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

// MockBackend implements interfaces.ContentStoreBackend for testing.
type MockBackend struct {
	mock.Mock
	name string
}

func (m *MockBackend) Add(ctx context.Context, data []byte, name string) (interfaces.CID, error) {
	args := m.Called(ctx, data, name)
	return args.Get(0).(interfaces.CID), args.Error(1)
}

func (m *MockBackend) Fetch(ctx context.Context, id interfaces.CID) ([]byte, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockBackend) Pin(ctx context.Context, id interfaces.CID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockBackend) DescribeNode(ctx context.Context) (*interfaces.NodeInfo, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.NodeInfo), args.Error(1)
}

func (m *MockBackend) Name() string {
	return m.name
}

// MockEmbedded implements interfaces.StartableBackend and interfaces.Unpinner.
type MockEmbedded struct {
	MockBackend
	running atomic.Bool
}

func (m *MockEmbedded) Start(ctx context.Context) error {
	err := m.Called(ctx).Error(0)
	if err == nil {
		m.running.Store(true)
	}
	return err
}

func (m *MockEmbedded) Stop() error {
	m.running.Store(false)
	return nil
}

func (m *MockEmbedded) Running() bool {
	return m.running.Load()
}

func (m *MockEmbedded) Unpin(ctx context.Context, id interfaces.CID) error {
	return m.Called(ctx, id).Error(0)
}

// MockRemote implements interfaces.ConnectableBackend.
type MockRemote struct {
	MockBackend
	connected atomic.Bool
	endpoint  string
}

func (m *MockRemote) Connect(ctx context.Context) error {
	err := m.Called(ctx).Error(0)
	m.connected.Store(err == nil)
	return err
}

func (m *MockRemote) Connected() bool {
	return m.connected.Load()
}

func (m *MockRemote) Endpoint() string {
	return m.endpoint
}

// remoteFactory returns a RemoteFactory serving the given backends by
// provider name and records which providers were requested.
func remoteFactory(backends map[string]*MockRemote, requested *[]string) RemoteFactory {
	return func(p Provider) (interfaces.ConnectableBackend, error) {
		if requested != nil {
			*requested = append(*requested, p.Name)
		}
		b, ok := backends[p.Name]
		if !ok {
			return nil, errors.New("no backend for provider")
		}
		b.endpoint = p.URL
		return b, nil
	}
}

func newTestGateway(embedded interfaces.StartableBackend, remotes map[string]*MockRemote) *Gateway {
	return NewGateway(embedded, NewProviders(nil), remoteFactory(remotes, nil), GatewayConfig{}, common.DiscardLogger())
}

func TestGateway_StartPrefersEmbedded(t *testing.T) {
	embedded := &MockEmbedded{MockBackend: MockBackend{name: "embedded"}}
	embedded.On("Start", mock.Anything).Return(nil)
	remote := &MockRemote{MockBackend: MockBackend{name: "remote-local"}}

	gw := newTestGateway(embedded, map[string]*MockRemote{"local": remote})
	require.NoError(t, gw.Start(context.Background()))

	assert.Equal(t, interfaces.ModeEmbedded, gw.Mode())
	remote.AssertNotCalled(t, "Connect", mock.Anything)
}

func TestGateway_FallsBackToRemote(t *testing.T) {
	ctx := context.Background()
	embedded := &MockEmbedded{MockBackend: MockBackend{name: "embedded"}}
	embedded.On("Start", mock.Anything).Return(interfaces.ErrBackendUnavailable)

	remote := &MockRemote{MockBackend: MockBackend{name: "remote-local"}}
	remote.On("Connect", mock.Anything).Return(nil)
	remote.On("Add", mock.Anything, []byte("hello"), "a.txt").Return(interfaces.CID("QmHello"), nil)

	gw := newTestGateway(embedded, map[string]*MockRemote{"local": remote})
	require.NoError(t, gw.Start(ctx))

	assert.Equal(t, interfaces.ModeRemote, gw.Mode())
	assert.Equal(t, "local", gw.Provider())

	cid, err := gw.Add(ctx, []byte("hello"), "a.txt")
	require.NoError(t, err)
	assert.Equal(t, interfaces.CID("QmHello"), cid)
	embedded.AssertNotCalled(t, "Add", mock.Anything, mock.Anything, mock.Anything)
}

func TestGateway_UnavailableUntilRetry(t *testing.T) {
	ctx := context.Background()
	embedded := &MockEmbedded{MockBackend: MockBackend{name: "embedded"}}
	embedded.On("Start", mock.Anything).Return(interfaces.ErrBackendUnavailable).Once()

	remote := &MockRemote{MockBackend: MockBackend{name: "remote-local"}}
	remote.On("Connect", mock.Anything).Return(interfaces.ErrBackendUnavailable).Once()

	gw := newTestGateway(embedded, map[string]*MockRemote{"local": remote})
	err := gw.Start(ctx)
	require.ErrorIs(t, err, interfaces.ErrNoBackendAvailable)
	assert.Equal(t, interfaces.ModeUnavailable, gw.Mode())

	_, err = gw.Add(ctx, []byte("x"), "x")
	assert.ErrorIs(t, err, interfaces.ErrNoBackendAvailable)
	_, err = gw.Fetch(ctx, "QmX")
	assert.ErrorIs(t, err, interfaces.ErrNoBackendAvailable)
	assert.ErrorIs(t, gw.Pin(ctx, "QmX"), interfaces.ErrNoBackendAvailable)
	_, err = gw.DescribeNode(ctx)
	assert.ErrorIs(t, err, interfaces.ErrNoBackendAvailable)
	assert.ErrorIs(t, gw.Unpin(ctx, "QmX"), interfaces.ErrNoBackendAvailable)

	// The remote node came up in the meantime.
	remote.On("Connect", mock.Anything).Return(nil)
	embedded.On("Start", mock.Anything).Return(interfaces.ErrBackendUnavailable)
	require.NoError(t, gw.Retry(ctx))
	assert.Equal(t, interfaces.ModeRemote, gw.Mode())
}

func TestGateway_OperationsFailFastDuringRetry(t *testing.T) {
	ctx := context.Background()
	embedded := &MockEmbedded{MockBackend: MockBackend{name: "embedded"}}
	embedded.On("Start", mock.Anything).Return(interfaces.ErrBackendUnavailable).Once()

	remote := &MockRemote{MockBackend: MockBackend{name: "remote-local"}}
	remote.On("Connect", mock.Anything).Return(interfaces.ErrBackendUnavailable).Once()

	gw := newTestGateway(embedded, map[string]*MockRemote{"local": remote})
	require.ErrorIs(t, gw.Start(ctx), interfaces.ErrNoBackendAvailable)

	started := make(chan struct{})
	release := make(chan struct{})
	embedded.On("Start", mock.Anything).Run(func(mock.Arguments) {
		close(started)
		<-release
	}).Return(nil).Once()

	retried := make(chan error, 2)
	go func() { retried <- gw.Retry(ctx) }()
	<-started
	// A second retry waits for the first instead of starting the node again.
	go func() { retried <- gw.Retry(ctx) }()

	begin := time.Now()
	_, err := gw.Add(ctx, []byte("x"), "x")
	assert.ErrorIs(t, err, interfaces.ErrNoBackendAvailable)
	_, err = gw.DescribeNode(ctx)
	assert.ErrorIs(t, err, interfaces.ErrNoBackendAvailable)
	assert.Equal(t, interfaces.ModeUnavailable, gw.Status().Mode)
	assert.Less(t, time.Since(begin), time.Second)

	close(release)
	require.NoError(t, <-retried)
	require.NoError(t, <-retried)
	assert.Equal(t, interfaces.ModeEmbedded, gw.Mode())
	embedded.AssertNumberOfCalls(t, "Start", 2)
}

func TestGateway_NoEmbeddedConfigured(t *testing.T) {
	remote := &MockRemote{MockBackend: MockBackend{name: "remote-local"}}
	remote.On("Connect", mock.Anything).Return(nil)

	gw := NewGateway(nil, NewProviders(nil), remoteFactory(map[string]*MockRemote{"local": remote}, nil), GatewayConfig{}, common.DiscardLogger())
	require.NoError(t, gw.Start(context.Background()))
	assert.Equal(t, interfaces.ModeRemote, gw.Mode())

	err := gw.SwitchMode(context.Background(), interfaces.ModeEmbedded, "")
	assert.ErrorIs(t, err, interfaces.ErrBackendUnavailable)
	assert.Equal(t, interfaces.ModeRemote, gw.Mode())
}

func TestGateway_ErrorsPropagateUnchanged(t *testing.T) {
	ctx := context.Background()
	embedded := &MockEmbedded{MockBackend: MockBackend{name: "embedded"}}
	embedded.On("Start", mock.Anything).Return(nil)
	embedded.On("Fetch", mock.Anything, interfaces.CID("QmMissing")).Return(nil, interfaces.ErrNotFound)
	embedded.On("Add", mock.Anything, mock.Anything, mock.Anything).Return(interfaces.CID(""), interfaces.ErrIngestFailure)

	gw := newTestGateway(embedded, nil)
	require.NoError(t, gw.Start(ctx))

	_, err := gw.Fetch(ctx, "QmMissing")
	assert.Equal(t, interfaces.ErrNotFound, err)

	_, err = gw.Add(ctx, []byte("x"), "x")
	assert.Equal(t, interfaces.ErrIngestFailure, err)
}

func TestGateway_SwitchMode(t *testing.T) {
	ctx := context.Background()
	embedded := &MockEmbedded{MockBackend: MockBackend{name: "embedded"}}
	embedded.On("Start", mock.Anything).Return(nil)

	local := &MockRemote{MockBackend: MockBackend{name: "remote-local"}}
	local.On("Connect", mock.Anything).Return(nil)
	infura := &MockRemote{MockBackend: MockBackend{name: "remote-infura"}}
	infura.On("Connect", mock.Anything).Return(nil)
	infura.On("Pin", mock.Anything, interfaces.CID("QmPin")).Return(nil)

	var requested []string
	gw := NewGateway(embedded, NewProviders(nil),
		remoteFactory(map[string]*MockRemote{"local": local, "infura": infura}, &requested),
		GatewayConfig{}, common.DiscardLogger())
	require.NoError(t, gw.Start(ctx))
	require.Equal(t, interfaces.ModeEmbedded, gw.Mode())

	require.NoError(t, gw.SwitchMode(ctx, interfaces.ModeRemote, "infura"))
	assert.Equal(t, interfaces.ModeRemote, gw.Mode())
	assert.Equal(t, "infura", gw.Provider())
	assert.True(t, embedded.Running(), "inactive backend keeps running")

	require.NoError(t, gw.Pin(ctx, "QmPin"))
	infura.AssertExpectations(t)

	// Switching to the same provider reuses the connected backend.
	require.NoError(t, gw.SwitchMode(ctx, interfaces.ModeRemote, "infura"))
	assert.Equal(t, []string{"infura"}, requested)

	require.NoError(t, gw.SwitchMode(ctx, interfaces.ModeEmbedded, ""))
	assert.Equal(t, interfaces.ModeEmbedded, gw.Mode())

	status := gw.Status()
	assert.True(t, status.EmbeddedRunning)
	assert.True(t, status.RemoteConnected)
	assert.Equal(t, "https://ipfs.infura.io:5001", status.RemoteEndpoint)
}

func TestGateway_FailedSwitchKeepsMode(t *testing.T) {
	ctx := context.Background()
	embedded := &MockEmbedded{MockBackend: MockBackend{name: "embedded"}}
	embedded.On("Start", mock.Anything).Return(nil)
	public := &MockRemote{MockBackend: MockBackend{name: "remote-public"}}
	public.On("Connect", mock.Anything).Return(interfaces.ErrBackendUnavailable)

	gw := newTestGateway(embedded, map[string]*MockRemote{"public": public})
	require.NoError(t, gw.Start(ctx))

	err := gw.SwitchMode(ctx, interfaces.ModeRemote, "public")
	assert.ErrorIs(t, err, interfaces.ErrBackendUnavailable)
	assert.Equal(t, interfaces.ModeEmbedded, gw.Mode())
	assert.Empty(t, gw.Provider())

	err = gw.SwitchMode(ctx, interfaces.ModeRemote, "nowhere")
	assert.ErrorIs(t, err, interfaces.ErrUnknownProvider)

	err = gw.SwitchMode(ctx, interfaces.ModeUnavailable, "")
	assert.ErrorIs(t, err, interfaces.ErrInvalidMode)
	assert.Equal(t, interfaces.ModeEmbedded, gw.Mode())
}

func TestGateway_Unpin(t *testing.T) {
	ctx := context.Background()
	embedded := &MockEmbedded{MockBackend: MockBackend{name: "embedded"}}
	embedded.On("Start", mock.Anything).Return(nil)
	embedded.On("Unpin", mock.Anything, interfaces.CID("QmA")).Return(nil)
	remote := &MockRemote{MockBackend: MockBackend{name: "remote-local"}}
	remote.On("Connect", mock.Anything).Return(nil)

	gw := newTestGateway(embedded, map[string]*MockRemote{"local": remote})
	require.NoError(t, gw.Start(ctx))

	require.NoError(t, gw.Unpin(ctx, "QmA"))
	embedded.AssertCalled(t, "Unpin", mock.Anything, interfaces.CID("QmA"))

	require.NoError(t, gw.SwitchMode(ctx, interfaces.ModeRemote, ""))
	assert.ErrorIs(t, gw.Unpin(ctx, "QmA"), interfaces.ErrUnpinUnsupported)
}

func TestGateway_StopLeavesUnavailable(t *testing.T) {
	embedded := &MockEmbedded{MockBackend: MockBackend{name: "embedded"}}
	embedded.On("Start", mock.Anything).Return(nil)

	gw := newTestGateway(embedded, nil)
	require.NoError(t, gw.Start(context.Background()))
	require.NoError(t, gw.Stop())

	assert.Equal(t, interfaces.ModeUnavailable, gw.Mode())
	assert.False(t, embedded.Running())
	_, err := gw.Fetch(context.Background(), "QmA")
	assert.ErrorIs(t, err, interfaces.ErrNoBackendAvailable)
}

func TestGateway_GatewayURL(t *testing.T) {
	gw := newTestGateway(nil, nil)
	assert.Equal(t, "https://ipfs.io/ipfs/QmA", gw.GatewayURL("QmA"))

	custom := NewGateway(nil, nil, nil, GatewayConfig{GatewayBase: "https://dweb.link/"}, common.DiscardLogger())
	assert.Equal(t, "https://dweb.link/ipfs/QmA", custom.GatewayURL("QmA"))
}

func TestProviders(t *testing.T) {
	providers := NewProviders(map[string]string{"Pinata": "https://api.pinata.cloud", "local": "http://10.0.0.2:5001"})

	p, err := providers.Lookup("")
	require.NoError(t, err)
	assert.Equal(t, Provider{Name: "local", URL: "http://10.0.0.2:5001"}, p)

	p, err = providers.Lookup("pinata")
	require.NoError(t, err)
	assert.Equal(t, "https://api.pinata.cloud", p.URL)

	_, err = providers.Lookup("unknown")
	assert.ErrorIs(t, err, interfaces.ErrUnknownProvider)

	names := []string{}
	for _, p := range providers.List() {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"infura", "local", "pinata", "public"}, names)
}
