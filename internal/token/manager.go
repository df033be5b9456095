package token

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"relay/internal/fyers"
	"relay/internal/notify"
)

// ClientFactory builds a trading client bound to an access token. The
// manager calls it whenever the token changes.
type ClientFactory func(accessToken string) *fyers.Client

// EventRecorder counts token lifecycle events. Implemented by the
// metrics collector; a nop is used when metrics are disabled.
type EventRecorder interface {
	RecordTokenEvent(event string)
}

type nopEvents struct{}

func (nopEvents) RecordTokenEvent(string) {}

// Manager owns the token record for the whole process. Every operation
// serializes under one mutex, so concurrent callers seeing an expired
// token trigger exactly one provider exchange; the rest observe the
// result. Construct one Manager at startup and inject it everywhere a
// valid token is needed.
type Manager struct {
	mu       sync.Mutex
	store    *Store
	session  *fyers.SessionClient
	factory  ClientFactory
	authCode string
	pin      string

	notifier notify.Notifier
	events   EventRecorder
	validity time.Duration
	now      func() time.Time
	logger   zerolog.Logger

	rec    Record
	client *fyers.Client
}

// ManagerOption configures the manager
type ManagerOption func(*Manager)

// WithNotifier sets the alert sink for refresh failures
func WithNotifier(n notify.Notifier) ManagerOption {
	return func(m *Manager) {
		m.notifier = n
	}
}

// WithEvents sets the lifecycle event recorder
func WithEvents(events EventRecorder) ManagerOption {
	return func(m *Manager) {
		m.events = events
	}
}

// WithValidity overrides how long issued tokens are considered fresh
func WithValidity(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.validity = d
	}
}

// WithClock injects the time source used for expiry decisions
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// WithLogger sets the manager's logger
func WithLogger(logger zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger.With().Str("component", "token_manager").Logger()
	}
}

// NewManager creates a manager over the given store and auth-flow
// client. authCode may be empty; the generate path then returns
// ErrAuthCodeMissing until an operator completes the interactive flow.
func NewManager(store *Store, session *fyers.SessionClient, factory ClientFactory, authCode, pin string, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:    store,
		session:  session,
		factory:  factory,
		authCode: authCode,
		pin:      pin,
		notifier: notify.Nop{},
		events:   nopEvents{},
		validity: Validity,
		now:      time.Now,
		logger:   zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Load populates the manager from the store. Call once at startup; an
// empty store is not an error, the first AccessToken call then walks
// the refresh/generate ladder.
func (m *Manager) Load(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load token record: %w", err)
	}

	m.rec = rec
	m.client = nil

	if rec.AccessToken != "" {
		evt := m.logger.Info()
		if rec.ExpiresAt != nil {
			evt = evt.Time("expires_at", *rec.ExpiresAt)
		}
		evt.Bool("expired", rec.Expired(m.now())).Msg("token record loaded")
	}

	return nil
}

// AccessToken returns a valid access token. An expired or missing token
// is refreshed first; when refresh cannot help, the manager falls back
// to exchanging the configured auth code. Decisions branch on the typed
// errors the steps return.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.rec.Expired(m.now()) {
		return m.rec.AccessToken, nil
	}

	tok, err := m.refreshLocked(ctx)
	if err == nil {
		return tok, nil
	}

	m.logger.Warn().Err(err).Msg("refresh failed, falling back to auth-code exchange")
	return m.generateLocked(ctx)
}

// Refresh forces a refresh-token exchange regardless of expiry. It is
// the recovery hook the retry layer invokes after an auth rejection,
// and the operator endpoint behind POST /refresh-token.
func (m *Manager) Refresh(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.refreshLocked(ctx)
}

// Generate forces an auth-code exchange, replacing the whole record
func (m *Manager) Generate(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.generateLocked(ctx)
}

// Client returns a trading client for the current token, building it
// lazily and rebuilding after every token change. An expired token is
// refreshed best-effort first; the stored token is still handed out
// when refresh fails, so a stale-but-working token keeps trading.
func (m *Manager) Client(ctx context.Context) (*fyers.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.rec.Expired(m.now()) {
		if _, err := m.refreshLocked(ctx); err != nil {
			m.logger.Warn().Err(err).Msg("refresh failed, continuing with stored token")
		}
	}

	if m.rec.AccessToken == "" {
		return nil, &ManagerError{Op: "client", Err: ErrNoAccessToken}
	}

	if m.client == nil {
		m.client = m.factory(m.rec.AccessToken)
	}

	return m.client, nil
}

// AuthCodeURL returns the interactive authorization URL for operator
// re-authentication
func (m *Manager) AuthCodeURL() string {
	return m.session.AuthCodeURL("relay")
}

// Record returns a copy of the current token record
func (m *Manager) Record() Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.rec
}

// refreshLocked exchanges the stored refresh token for a new access
// token. Caller holds the lock.
func (m *Manager) refreshLocked(ctx context.Context) (string, error) {
	if m.rec.RefreshToken == "" {
		return "", &RefreshError{Err: errors.New("no refresh token available")}
	}

	resp, err := m.session.RefreshAccessToken(ctx, m.rec.RefreshToken, m.pin)
	if err != nil {
		m.events.RecordTokenEvent("refresh_failed")
		m.notifier.Notify(ctx, "token_refresh_error", fmt.Sprintf("access token refresh failed: %v", err))
		return "", &RefreshError{Err: err}
	}

	m.applyTokenLocked(ctx, resp)
	m.events.RecordTokenEvent("refresh_ok")
	m.logger.Info().Time("expires_at", *m.rec.ExpiresAt).Msg("access token refreshed")

	return m.rec.AccessToken, nil
}

// generateLocked exchanges the configured auth code for a fresh token
// pair. Caller holds the lock.
func (m *Manager) generateLocked(ctx context.Context) (string, error) {
	if m.authCode == "" {
		return "", ErrAuthCodeMissing
	}

	resp, err := m.session.ExchangeAuthCode(ctx, m.authCode)
	if err != nil {
		m.events.RecordTokenEvent("generate_failed")
		return "", &ManagerError{Op: "generate", Err: err}
	}

	m.applyTokenLocked(ctx, resp)
	m.events.RecordTokenEvent("generate_ok")
	m.logger.Info().Time("expires_at", *m.rec.ExpiresAt).Msg("access token generated from auth code")

	return m.rec.AccessToken, nil
}

// applyTokenLocked installs a provider token response: timestamps are
// stamped from the injected clock, a missing refresh token in the
// response preserves the stored one, the record is persisted and the
// cached client dropped. Caller holds the lock.
func (m *Manager) applyTokenLocked(ctx context.Context, resp *fyers.TokenResponse) {
	now := m.now()
	expires := now.Add(m.validity)

	m.rec.AccessToken = resp.AccessToken
	if resp.RefreshToken != "" {
		m.rec.RefreshToken = resp.RefreshToken
	}
	m.rec.IssuedAt = &now
	m.rec.ExpiresAt = &expires

	status, err := m.store.Save(ctx, m.rec)
	if err != nil {
		m.logger.Error().Err(err).Msg("failed to persist token record")
	} else if status.RemoteErr != nil {
		m.events.RecordTokenEvent("replication_failed")
	}

	m.client = nil
}
