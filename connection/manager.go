// Package connection owns the lifecycle of the network link: connect with
// bounded retry, authenticate with interactive fallback, register the event
// consumer, and send outbound messages.
package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/benmessaoud/chatvault/models"
	"github.com/benmessaoud/chatvault/transport"
)

var (
	// ErrNotInitialized is returned when Send or StartListening is called
	// before a successful Initialize.
	ErrNotInitialized = errors.New("connection: not initialized")
	// ErrRetriesExhausted is returned when every connect attempt failed.
	ErrRetriesExhausted = errors.New("connection: retries exhausted")
	// ErrAuthFailed is returned when the interactive fallback also failed.
	ErrAuthFailed = errors.New("connection: authentication failed")
)

// State is the connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateListening
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateListening:
		return "listening"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// SessionStore persists the opaque credential blob between runs.
type SessionStore interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, blob []byte) error
}

// Config holds the fixed transport parameters of the manager.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Credentials transport.Credentials
}

// Manager drives the connection state machine. Initialize is single-flight;
// once it succeeds, Send and the registered event consumer are both usable.
type Manager struct {
	client   transport.Client
	sessions SessionStore
	cfg      Config
	log      zerolog.Logger

	mu          sync.Mutex
	state       State
	attempts    int
	initialized bool
	authorized  bool
	listening   bool

	// wait is replaced in tests to observe backoff without sleeping.
	wait func(ctx context.Context, d time.Duration) error
}

// NewManager creates a manager around the given transport.
func NewManager(client transport.Client, sessions SessionStore, cfg Config, log zerolog.Logger) *Manager {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	return &Manager{
		client:   client,
		sessions: sessions,
		cfg:      cfg,
		log:      log.With().Str("component", "connection").Logger(),
		wait: func(ctx context.Context, d time.Duration) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
				return nil
			}
		},
	}
}

// Client exposes the underlying transport for optional capabilities such as
// QR pairing.
func (m *Manager) Client() transport.Client {
	return m.client
}

// Initialize restores the stored credential, connects with retry, and
// authenticates. Failures here are fatal: the process must not serve with no
// connection. Safe to call again once initialized (no-op), and never runs
// concurrently with itself.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return nil
	}

	blob, err := m.sessions.Load(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("failed to load stored credential")
	} else if len(blob) > 0 {
		if err := m.client.RestoreCredential(blob); err != nil {
			m.log.Warn().Err(err).Msg("stored credential rejected, will re-authenticate")
		}
	}

	m.state = StateConnecting
	m.log.Info().Msg("connecting")
	if err := m.connectWithRetry(ctx); err != nil {
		m.state = StateDisconnected
		return err
	}

	m.state = StateAuthenticating
	if err := m.authenticate(ctx); err != nil {
		m.state = StateDisconnected
		return err
	}

	m.initialized = true
	m.authorized = true
	m.state = StateListening
	m.log.Info().Msg("connected and authenticated")
	return nil
}

// connectWithRetry attempts to connect up to MaxAttempts times, sleeping
// BaseDelay*2^attempt between attempts. Called with m.mu held.
func (m *Manager) connectWithRetry(ctx context.Context) error {
	var lastErr error
	for m.attempts = 1; m.attempts <= m.cfg.MaxAttempts; m.attempts++ {
		err := m.client.Connect(ctx)
		if err == nil {
			if m.attempts > 1 {
				m.log.Info().Int("attempt", m.attempts).Msg("connected after retry")
			}
			m.attempts = 0
			return nil
		}
		lastErr = err

		m.state = StateReconnecting
		delay := m.cfg.BaseDelay * time.Duration(1<<m.attempts)
		m.log.Warn().
			Err(err).
			Int("attempt", m.attempts).
			Int("max_attempts", m.cfg.MaxAttempts).
			Dur("retry_delay", delay).
			Msg("connect failed, backing off")

		if err := m.wait(ctx, delay); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: connect failed after %d attempts: %v", ErrRetriesExhausted, m.cfg.MaxAttempts, lastErr)
}

// authenticate validates the restored credential and falls back to the
// interactive flow when it is absent or invalid. The refreshed credential is
// handed to the session store on success. Called with m.mu held.
func (m *Manager) authenticate(ctx context.Context) error {
	ok, err := m.client.CheckAuthorization(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("authorization check failed")
		ok = false
	}

	if !ok {
		m.log.Info().Msg("authorization needed, starting interactive login")
		if err := m.client.Start(ctx, m.cfg.Credentials); err != nil {
			return fmt.Errorf("%w: %v", ErrAuthFailed, err)
		}
	}

	blob, err := m.client.ExportCredential()
	if err != nil {
		m.log.Warn().Err(err).Msg("failed to export session credential")
		return nil
	}
	if len(blob) > 0 {
		if err := m.sessions.Save(ctx, blob); err != nil {
			m.log.Error().Err(err).Msg("failed to persist session credential")
		} else {
			m.log.Info().Int("bytes", len(blob)).Msg("session credential persisted")
		}
	}
	return nil
}

// StartListening registers the event consumer for inbound direct messages.
// Idempotent: a second call does not duplicate the registration. The handler
// runs behind a failure boundary so one bad event never stops the listener.
func (m *Manager) StartListening(handler transport.EventHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return ErrNotInitialized
	}
	if m.listening {
		return nil
	}

	log := m.log
	m.client.AddEventHandler(transport.EventFilter{DirectOnly: true}, func(ctx context.Context, ev transport.Event) error {
		if err := handler(ctx, ev); err != nil {
			log.Error().
				Err(err).
				Int64("event_id", ev.ID).
				Str("peer_id", ev.PeerID).
				Msg("failed to process event")
		}
		return nil
	})
	m.listening = true
	m.log.Info().Msg("message listener registered")
	return nil
}

// Send delivers text to a peer and returns the provider-assigned message id.
func (m *Manager) Send(ctx context.Context, peerID, text string) (int64, error) {
	m.mu.Lock()
	initialized := m.initialized
	m.mu.Unlock()

	if !initialized {
		return 0, ErrNotInitialized
	}

	id, err := m.client.SendMessage(ctx, peerID, text)
	if err != nil {
		return 0, fmt.Errorf("failed to send message: %w", err)
	}
	return id, nil
}

// Disconnect tears down the transport. Safe to call when already
// disconnected.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateDisconnected {
		return
	}
	m.client.Disconnect()
	m.initialized = false
	m.state = StateDisconnected
	m.log.Info().Msg("disconnected")
}

// Status reports a snapshot of the connection for the status endpoint.
func (m *Manager) Status() models.Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	return models.Status{
		State:       m.state.String(),
		Connected:   m.client.IsConnected(),
		Authorized:  m.authorized,
		Initialized: m.initialized,
	}
}
