package httpapi

import (
	"context"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"minimarket/backend/internal/domain"
	"minimarket/backend/internal/service"
)

type accountsStub struct {
	users   map[string]string
	roles   map[string]string
	session *domain.CashSession
}

func (s *accountsStub) Authenticate(_ context.Context, username string, password string) (domain.UserAccount, error) {
	if stored, ok := s.users[username]; !ok || stored != password {
		return domain.UserAccount{}, service.ErrInvalidCredentials
	}
	return domain.UserAccount{Username: username, Role: s.roles[username], Active: true}, nil
}

func (s *accountsStub) ActiveCashSession(_ context.Context) (*domain.CashSession, error) {
	return s.session, nil
}

func newStubAuth() (*AuthManager, *accountsStub) {
	accounts := &accountsStub{
		users: map[string]string{"rosa": "secret-pass"},
		roles: map[string]string{"rosa": domain.RoleCashier},
	}
	return NewAuthManager("unit-test-secret-with-enough-bytes", time.Hour, accounts), accounts
}

func TestAuthManagerLoginRoundTrip(t *testing.T) {
	auth, accounts := newStubAuth()

	resp, err := auth.Login(context.Background(), domain.LoginRequest{Username: "rosa", Password: "secret-pass"})
	require.NoError(t, err)
	require.Equal(t, domain.RoleCashier, resp.Role)
	require.Nil(t, resp.CashSession)

	actor, err := auth.ParseToken(resp.AccessToken)
	require.NoError(t, err)
	require.Equal(t, domain.Actor{Username: "rosa", Role: domain.RoleCashier}, actor)

	accounts.session = &domain.CashSession{ID: "cs-1", Status: domain.SessionActive}
	resp, err = auth.Login(context.Background(), domain.LoginRequest{Username: "rosa", Password: "secret-pass"})
	require.NoError(t, err)
	require.NotNil(t, resp.CashSession)
	require.Equal(t, "cs-1", resp.CashSession.ID)
}

func TestAuthManagerRejectsBadCredentials(t *testing.T) {
	auth, _ := newStubAuth()
	_, err := auth.Login(context.Background(), domain.LoginRequest{Username: "rosa", Password: "nope"})
	require.ErrorIs(t, err, service.ErrInvalidCredentials)
}

func TestParseTokenRejectsExpiredToken(t *testing.T) {
	auth, _ := newStubAuth()
	issued := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	auth.now = func() time.Time { return issued }

	token, err := auth.sign("rosa", domain.RoleCashier, issued.Add(time.Hour))
	require.NoError(t, err)
	_, err = auth.ParseToken(token)
	require.NoError(t, err)

	auth.now = func() time.Time { return issued.Add(2 * time.Hour) }
	_, err = auth.ParseToken(token)
	require.ErrorIs(t, err, errInvalidToken)
}

func TestParseTokenRejectsForeignSignatures(t *testing.T) {
	auth, _ := newStubAuth()
	other := NewAuthManager("another-secret-that-is-long-enough", time.Hour, &accountsStub{})

	token, err := other.sign("rosa", domain.RoleAdmin, time.Now().Add(time.Hour))
	require.NoError(t, err)
	_, err = auth.ParseToken(token)
	require.Error(t, err)

	unsigned := jwtlib.NewWithClaims(jwtlib.SigningMethodNone, tokenClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{Subject: "rosa", Issuer: tokenIssuer, ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Hour))},
		Role:             domain.RoleAdmin,
	})
	raw, err := unsigned.SignedString(jwtlib.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = auth.ParseToken(raw)
	require.Error(t, err)
}

func TestParseTokenRejectsUnknownRole(t *testing.T) {
	auth, _ := newStubAuth()
	token, err := auth.sign("rosa", "owner", time.Now().Add(time.Hour))
	require.NoError(t, err)
	_, err = auth.ParseToken(token)
	require.Error(t, err)
}
