package connection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benmessaoud/chatvault/transport"
)

type fakeTransport struct {
	mu sync.Mutex

	connectErrs  []error
	connectCalls int
	connected    bool

	authorized bool
	startErr   error
	startCalls int
	startCreds transport.Credentials

	credential   []byte
	restoreCalls int

	handlers int
	handler  transport.EventHandler

	sendID   int64
	sendErr  error
	sentPeer string
	sentText string

	disconnects int
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	if f.connectCalls <= len(f.connectErrs) && f.connectErrs[f.connectCalls-1] != nil {
		return f.connectErrs[f.connectCalls-1]
	}
	f.connected = true
	return nil
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) CheckAuthorization(ctx context.Context) (bool, error) {
	return f.authorized, nil
}

func (f *fakeTransport) Start(ctx context.Context, creds transport.Credentials) error {
	f.startCalls++
	f.startCreds = creds
	if f.startErr != nil {
		return f.startErr
	}
	f.authorized = true
	return nil
}

func (f *fakeTransport) RestoreCredential(blob []byte) error {
	f.restoreCalls++
	return nil
}

func (f *fakeTransport) ExportCredential() ([]byte, error) {
	return f.credential, nil
}

func (f *fakeTransport) GetEntity(ctx context.Context, id string) (*transport.Entity, error) {
	return nil, transport.ErrEntityNotFound
}

func (f *fakeTransport) DownloadMedia(ctx context.Context, ref transport.MediaRef) ([]byte, error) {
	return nil, errors.New("no media")
}

func (f *fakeTransport) SendMessage(ctx context.Context, peerID, text string) (int64, error) {
	if f.sendErr != nil {
		return 0, f.sendErr
	}
	f.sentPeer = peerID
	f.sentText = text
	return f.sendID, nil
}

func (f *fakeTransport) AddEventHandler(filter transport.EventFilter, handler transport.EventHandler) {
	f.handlers++
	f.handler = handler
}

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.connected = false
}

type fakeSessions struct {
	blob  []byte
	saved []byte
}

func (f *fakeSessions) Load(ctx context.Context) ([]byte, error) { return f.blob, nil }
func (f *fakeSessions) Save(ctx context.Context, blob []byte) error {
	f.saved = blob
	return nil
}

func newTestManager(ft *fakeTransport, fs *fakeSessions, maxAttempts int) (*Manager, *[]time.Duration) {
	m := NewManager(ft, fs, Config{
		MaxAttempts: maxAttempts,
		BaseDelay:   time.Second,
		Credentials: transport.Credentials{Phone: "+3312345678"},
	}, zerolog.Nop())

	var delays []time.Duration
	m.wait = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	return m, &delays
}

func TestInitializeRetryExhaustedIsFatal(t *testing.T) {
	boom := errors.New("dial failed")
	ft := &fakeTransport{connectErrs: []error{boom, boom, boom}, authorized: true}
	m, delays := newTestManager(ft, &fakeSessions{}, 3)

	err := m.Initialize(context.Background())
	require.ErrorIs(t, err, ErrRetriesExhausted)

	assert.Equal(t, 3, ft.connectCalls)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}, *delays)

	status := m.Status()
	assert.False(t, status.Initialized)
	assert.Equal(t, "disconnected", status.State)
}

func TestInitializeRecoversMidRetry(t *testing.T) {
	ft := &fakeTransport{connectErrs: []error{errors.New("dial failed")}, authorized: true}
	m, delays := newTestManager(ft, &fakeSessions{}, 5)

	require.NoError(t, m.Initialize(context.Background()))

	assert.Equal(t, 2, ft.connectCalls)
	assert.Equal(t, []time.Duration{2 * time.Second}, *delays)
	assert.Zero(t, m.attempts)

	status := m.Status()
	assert.True(t, status.Initialized)
	assert.Equal(t, "listening", status.State)
}

func TestInitializeIsIdempotent(t *testing.T) {
	ft := &fakeTransport{authorized: true}
	m, _ := newTestManager(ft, &fakeSessions{}, 3)

	require.NoError(t, m.Initialize(context.Background()))
	require.NoError(t, m.Initialize(context.Background()))
	assert.Equal(t, 1, ft.connectCalls)
}

func TestAuthenticateSkipsInteractiveWhenAuthorized(t *testing.T) {
	ft := &fakeTransport{authorized: true, credential: []byte("blob")}
	fs := &fakeSessions{}
	m, _ := newTestManager(ft, fs, 3)

	require.NoError(t, m.Initialize(context.Background()))
	assert.Zero(t, ft.startCalls)
	assert.Equal(t, []byte("blob"), fs.saved)
}

func TestAuthenticateFallsBackToInteractive(t *testing.T) {
	ft := &fakeTransport{credential: []byte("fresh")}
	fs := &fakeSessions{blob: []byte("stale")}
	m, _ := newTestManager(ft, fs, 3)

	require.NoError(t, m.Initialize(context.Background()))

	assert.Equal(t, 1, ft.restoreCalls)
	assert.Equal(t, 1, ft.startCalls)
	assert.Equal(t, "+3312345678", ft.startCreds.Phone)
	assert.Equal(t, []byte("fresh"), fs.saved)
}

func TestAuthenticateFailureIsFatal(t *testing.T) {
	ft := &fakeTransport{startErr: errors.New("wrong code")}
	m, _ := newTestManager(ft, &fakeSessions{}, 3)

	err := m.Initialize(context.Background())
	require.ErrorIs(t, err, ErrAuthFailed)
	assert.False(t, m.Status().Initialized)
}

func TestSendBeforeInitialize(t *testing.T) {
	m, _ := newTestManager(&fakeTransport{authorized: true}, &fakeSessions{}, 3)

	_, err := m.Send(context.Background(), "7", "hi")
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestSendDelegatesToTransport(t *testing.T) {
	ft := &fakeTransport{authorized: true, sendID: 99}
	m, _ := newTestManager(ft, &fakeSessions{}, 3)
	require.NoError(t, m.Initialize(context.Background()))

	id, err := m.Send(context.Background(), "7", "hi")
	require.NoError(t, err)
	assert.Equal(t, int64(99), id)
	assert.Equal(t, "7", ft.sentPeer)
	assert.Equal(t, "hi", ft.sentText)
}

func TestStartListeningRequiresInitialize(t *testing.T) {
	m, _ := newTestManager(&fakeTransport{authorized: true}, &fakeSessions{}, 3)

	err := m.StartListening(func(ctx context.Context, ev transport.Event) error { return nil })
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestStartListeningIsIdempotent(t *testing.T) {
	ft := &fakeTransport{authorized: true}
	m, _ := newTestManager(ft, &fakeSessions{}, 3)
	require.NoError(t, m.Initialize(context.Background()))

	handler := func(ctx context.Context, ev transport.Event) error { return nil }
	require.NoError(t, m.StartListening(handler))
	require.NoError(t, m.StartListening(handler))
	assert.Equal(t, 1, ft.handlers)
}

func TestConsumerBoundarySwallowsHandlerErrors(t *testing.T) {
	ft := &fakeTransport{authorized: true}
	m, _ := newTestManager(ft, &fakeSessions{}, 3)
	require.NoError(t, m.Initialize(context.Background()))

	require.NoError(t, m.StartListening(func(ctx context.Context, ev transport.Event) error {
		return errors.New("bad event")
	}))

	// One failed event must not surface an error to the transport loop.
	err := ft.handler(context.Background(), transport.Event{ID: 1, PeerID: "7"})
	assert.NoError(t, err)
}

func TestDisconnectIsIdempotent(t *testing.T) {
	ft := &fakeTransport{authorized: true}
	m, _ := newTestManager(ft, &fakeSessions{}, 3)
	require.NoError(t, m.Initialize(context.Background()))

	m.Disconnect()
	m.Disconnect()
	assert.Equal(t, 1, ft.disconnects)

	_, err := m.Send(context.Background(), "7", "hi")
	assert.ErrorIs(t, err, ErrNotInitialized)
}
