package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"optiontrader/pkg/smartconnect"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "JBSWY3DPEHPK3PXP"

type fakeAPI struct {
	logins   []string
	renews   int
	loginErr error
	renewErr error
}

func (f *fakeAPI) GenerateSession(_ context.Context, clientCode, password, code string) (smartconnect.Session, error) {
	f.logins = append(f.logins, code)
	if f.loginErr != nil {
		return smartconnect.Session{}, f.loginErr
	}
	return smartconnect.Session{ClientCode: clientCode, JWTToken: "jwt", RefreshToken: "rt"}, nil
}

func (f *fakeAPI) RenewAccessToken(context.Context) error {
	f.renews++
	return f.renewErr
}

func newManager(api SessionAPI, at time.Time) *Manager {
	m := NewManager(api, Credentials{ClientCode: "C123", Password: "1234", TOTPSecret: secret})
	m.now = func() time.Time { return at }
	return m
}

func TestLogin_SendsCurrentTOTP(t *testing.T) {
	at := time.Date(2026, 3, 2, 9, 10, 0, 0, time.UTC)
	api := &fakeAPI{}
	m := newManager(api, at)

	s, err := m.Login(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "jwt", s.JWTToken)

	want, err := totp.GenerateCode(secret, at)
	require.NoError(t, err)
	require.Len(t, api.logins, 1)
	assert.Equal(t, want, api.logins[0])
}

func TestLogin_BadSecret(t *testing.T) {
	m := NewManager(&fakeAPI{}, Credentials{ClientCode: "C123", TOTPSecret: "not base32!"})
	_, err := m.Login(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "totp")
}

func TestEnsure_LogsInOnce(t *testing.T) {
	api := &fakeAPI{}
	m := newManager(api, time.Now())

	_, err := m.Session()
	assert.ErrorIs(t, err, ErrNoSession)

	require.NoError(t, m.Ensure(context.Background()))
	require.NoError(t, m.Ensure(context.Background()))
	assert.Len(t, api.logins, 1)
	assert.Zero(t, api.renews)

	s, err := m.Session()
	require.NoError(t, err)
	assert.Equal(t, "C123", s.ClientCode)
}

func TestEnsure_RenewsAfterExpiry(t *testing.T) {
	api := &fakeAPI{}
	m := newManager(api, time.Now())
	require.NoError(t, m.Ensure(context.Background()))

	m.MarkExpired()
	require.NoError(t, m.Ensure(context.Background()))
	assert.Equal(t, 1, api.renews)
	assert.Len(t, api.logins, 1)

	// flag cleared
	require.NoError(t, m.Ensure(context.Background()))
	assert.Equal(t, 1, api.renews)
}

func TestEnsure_FallsBackToLogin(t *testing.T) {
	api := &fakeAPI{renewErr: errors.New("refresh token invalid")}
	m := newManager(api, time.Now())
	require.NoError(t, m.Ensure(context.Background()))

	m.MarkExpired()
	require.NoError(t, m.Ensure(context.Background()))
	assert.Equal(t, 1, api.renews)
	assert.Len(t, api.logins, 2)
}

func TestEnsure_LoginFailure(t *testing.T) {
	api := &fakeAPI{loginErr: errors.New("invalid totp")}
	m := newManager(api, time.Now())

	err := m.Ensure(context.Background())
	require.Error(t, err)
	_, err = m.Session()
	assert.ErrorIs(t, err, ErrNoSession)
}
