// Package auth keeps a SmartAPI session alive using TOTP login.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"optiontrader/pkg/smartconnect"

	"github.com/pquerna/otp/totp"
)

// SessionAPI is the part of the SmartAPI client the session manager drives.
type SessionAPI interface {
	GenerateSession(ctx context.Context, clientCode, password, totp string) (smartconnect.Session, error)
	RenewAccessToken(ctx context.Context) error
}

// Credentials are the login inputs.
type Credentials struct {
	ClientCode string
	Password   string
	TOTPSecret string // base32, as shown when enrolling the authenticator
}

// ErrNoSession is returned by Session before the first successful login.
var ErrNoSession = errors.New("auth: no session")

// Manager logs in on demand and recovers from expired tokens, first by
// renewing with the refresh token and then by a fresh TOTP login.
type Manager struct {
	api   SessionAPI
	creds Credentials
	now   func() time.Time
	log   *slog.Logger

	mu      sync.Mutex
	session smartconnect.Session
	expired atomic.Bool
}

// NewManager creates a session manager. No login happens until Ensure.
func NewManager(api SessionAPI, creds Credentials) *Manager {
	return &Manager{
		api:   api,
		creds: creds,
		now:   time.Now,
		log:   slog.With("component", "auth"),
	}
}

// Login performs a fresh TOTP login.
func (m *Manager) Login(ctx context.Context) (smartconnect.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.login(ctx)
}

func (m *Manager) login(ctx context.Context) (smartconnect.Session, error) {
	code, err := totp.GenerateCode(m.creds.TOTPSecret, m.now())
	if err != nil {
		return smartconnect.Session{}, fmt.Errorf("auth: totp: %w", err)
	}
	s, err := m.api.GenerateSession(ctx, m.creds.ClientCode, m.creds.Password, code)
	if err != nil {
		return smartconnect.Session{}, fmt.Errorf("auth: login %s: %w", m.creds.ClientCode, err)
	}
	m.session = s
	m.expired.Store(false)
	m.log.Info("session established", "client", m.creds.ClientCode)
	return s, nil
}

// MarkExpired flags the current token as rejected. It is safe to call from
// the client's SessionExpiryHook.
func (m *Manager) MarkExpired() {
	m.expired.Store(true)
}

// Ensure makes sure a usable session exists: it logs in when there is none
// and renews (or re-logs in) after MarkExpired.
func (m *Manager) Ensure(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session.JWTToken == "" {
		_, err := m.login(ctx)
		return err
	}
	if !m.expired.Load() {
		return nil
	}

	err := m.api.RenewAccessToken(ctx)
	if err == nil {
		m.expired.Store(false)
		m.log.Info("access token renewed")
		return nil
	}
	m.log.Warn("token renewal failed, logging in again", "error", err)
	_, err = m.login(ctx)
	return err
}

// Session returns the current session.
func (m *Manager) Session() (smartconnect.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session.JWTToken == "" {
		return smartconnect.Session{}, ErrNoSession
	}
	return m.session, nil
}
