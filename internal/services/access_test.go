package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/natours/apiserver/internal/services"
	"github.com/natours/apiserver/internal/token"
	"github.com/natours/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticate(t *testing.T) {
	env := newTestEnv(t)
	session := env.signup(t, "Jane", "jane@x.com", "password1")

	identity, err := env.gate.Authenticate(context.Background(), session.Token)
	require.NoError(t, err)
	assert.Equal(t, session.Account.ID, identity.AccountID)
	assert.Equal(t, types.RoleUser, identity.Role)
	assert.Equal(t, env.clock.Now().Unix(), identity.IssuedAt.Unix())
}

func TestAuthenticateRejectsBadTokens(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.signup(t, "Jane", "jane@x.com", "password1")

	for _, raw := range []string{"", "   ", "garbage", "a.b.c"} {
		_, err := env.gate.Authenticate(ctx, raw)
		assert.ErrorIs(t, err, services.ErrUnauthenticated, raw)
	}

	forged := token.NewServiceWithClock([]byte("ffffffffffffffffffffffffffffffff"), time.Hour, env.clock.Now)
	tok, err := forged.Issue("someone")
	require.NoError(t, err)
	_, err = env.gate.Authenticate(ctx, tok)
	assert.ErrorIs(t, err, services.ErrUnauthenticated)
	assert.ErrorIs(t, err, token.ErrInvalid)
}

func TestAuthenticateExpiredToken(t *testing.T) {
	env := newTestEnv(t)
	session := env.signup(t, "Jane", "jane@x.com", "password1")

	env.clock.Advance(testTokenTTL - time.Second)
	_, err := env.gate.Authenticate(context.Background(), session.Token)
	require.NoError(t, err)

	env.clock.Advance(2 * time.Second)
	_, err = env.gate.Authenticate(context.Background(), session.Token)
	assert.ErrorIs(t, err, services.ErrUnauthenticated)
	assert.ErrorIs(t, err, token.ErrExpired)
}

func TestAuthenticateDeletedAccount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	session := env.signup(t, "Jane", "jane@x.com", "password1")

	require.NoError(t, env.accounts.Deactivate(ctx, session.Account.ID))

	_, err := env.gate.Authenticate(ctx, session.Token)
	assert.ErrorIs(t, err, services.ErrUnauthenticated)
	assert.Contains(t, messageOf(err), "no longer exists")
}

func TestAuthenticatePasswordChangedAfterIssue(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	session := env.signup(t, "Jane", "jane@x.com", "password1")

	env.clock.Advance(time.Minute)
	account, err := env.repo.FindByID(ctx, session.Account.ID)
	require.NoError(t, err)
	account, err = env.repo.SetPassword(ctx, account.ID, account.PasswordHash, account.PasswordHash, env.clock.Now())
	require.NoError(t, err)

	_, err = env.gate.Authenticate(ctx, session.Token)
	assert.ErrorIs(t, err, services.ErrUnauthenticated)
	assert.Contains(t, messageOf(err), "changed password")

	env.clock.Advance(time.Second)
	fresh, err := env.sessions.IssueFor(account)
	require.NoError(t, err)
	_, err = env.gate.Authenticate(ctx, fresh.Token)
	assert.NoError(t, err)
}

type failingRepo struct {
	services.AccountRepository
}

func (failingRepo) FindByID(ctx context.Context, id string) (types.Account, error) {
	return types.Account{}, errors.New("connection refused")
}

func TestAuthenticateInfrastructureFailureIsNotUnauthenticated(t *testing.T) {
	env := newTestEnv(t)
	session := env.signup(t, "Jane", "jane@x.com", "password1")

	gate := services.NewAccessGate(failingRepo{}, env.tokens)
	_, err := gate.Authenticate(context.Background(), session.Token)
	require.Error(t, err)
	assert.False(t, errors.Is(err, services.ErrUnauthenticated))
}

func TestRequireRole(t *testing.T) {
	guide := services.Identity{AccountID: "g", Role: types.RoleGuide}

	assert.NoError(t, services.RequireRole(guide, types.RoleAdmin, types.RoleGuide))
	assert.ErrorIs(t, services.RequireRole(guide, types.RoleAdmin, types.RoleLeadGuide), services.ErrForbidden)
	assert.ErrorIs(t, services.RequireRole(guide), services.ErrForbidden)
}
