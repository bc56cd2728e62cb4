package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/natours/apiserver/internal/store"
	"github.com/natours/apiserver/internal/token"
	"github.com/natours/apiserver/types"
)

// Identity is the authenticated caller of a protected request.
type Identity struct {
	AccountID string
	Role      types.Role
	IssuedAt  time.Time
}

// AccessGate verifies session tokens and resolves them to identities.
type AccessGate struct {
	repo   AccountRepository
	tokens *token.Service
}

func NewAccessGate(repo AccountRepository, tokens *token.Service) *AccessGate {
	return &AccessGate{repo: repo, tokens: tokens}
}

// Authenticate verifies rawToken and loads its account. A token issued
// before the account's latest password change is rejected.
func (g *AccessGate) Authenticate(ctx context.Context, rawToken string) (Identity, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return Identity{}, ErrUnauthenticated
	}

	claims, err := g.tokens.Verify(rawToken)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			return Identity{}, wrapError(ErrUnauthenticated, "your token has expired, please log in again", err)
		}
		return Identity{}, wrapError(ErrUnauthenticated, "invalid token, please log in again", err)
	}

	account, err := g.repo.FindByID(ctx, claims.AccountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Identity{}, newError(ErrUnauthenticated, "the user belonging to this token no longer exists")
		}
		return Identity{}, err
	}

	if account.ChangedPasswordAfter(claims.IssuedAt) {
		return Identity{}, newError(ErrUnauthenticated, "user recently changed password, please log in again")
	}

	return Identity{
		AccountID: account.ID,
		Role:      account.Role,
		IssuedAt:  claims.IssuedAt,
	}, nil
}

// RequireRole admits identity only if its role is one of allowed.
func RequireRole(identity Identity, allowed ...types.Role) error {
	for _, role := range allowed {
		if identity.Role == role {
			return nil
		}
	}
	return ErrForbidden
}
