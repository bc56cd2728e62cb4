package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/natours/apiserver/internal/password"
	"github.com/natours/apiserver/internal/store"
	"github.com/natours/apiserver/internal/token"
	"github.com/natours/apiserver/types"
)

// Session is a freshly issued credential together with the public account view.
type Session struct {
	Token   string
	Account types.AccountView
}

// SignupInput is the caller-supplied part of a new account.
type SignupInput struct {
	Name            string
	Email           string
	Password        string
	PasswordConfirm string
	Role            types.Role
}

// SessionIssuer turns new accounts and verified credentials into sessions.
type SessionIssuer struct {
	repo            AccountRepository
	hasher          *password.Hasher
	tokens          *token.Service
	allowSignupRole bool
	logger          *slog.Logger

	dummyOnce sync.Once
	dummyHash string
}

// NewSessionIssuer constructs a SessionIssuer.
//
// allowSignupRole lets anonymous callers choose their own role at signup.
// When false, a requested role is honoured only for administrator callers.
func NewSessionIssuer(repo AccountRepository, hasher *password.Hasher, tokens *token.Service, allowSignupRole bool, logger *slog.Logger) *SessionIssuer {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionIssuer{
		repo:            repo,
		hasher:          hasher,
		tokens:          tokens,
		allowSignupRole: allowSignupRole,
		logger:          logger,
	}
}

// IssueFor mints a token for account. It persists nothing.
func (s *SessionIssuer) IssueFor(account types.Account) (Session, error) {
	tok, err := s.tokens.Issue(account.ID)
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}
	return Session{Token: tok, Account: account.View()}, nil
}

// Signup creates an account and issues its first session. caller is the
// authenticated identity making the request, or nil for anonymous signups.
func (s *SessionIssuer) Signup(ctx context.Context, in SignupInput, caller *Identity) (Session, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = store.NormalizeEmail(in.Email)
	if in.Name == "" {
		return Session{}, invalid("please tell us your name")
	}
	if in.Email == "" {
		return Session{}, invalid("please provide your email")
	}
	if err := checkNewPassword(in.Password, in.PasswordConfirm); err != nil {
		return Session{}, err
	}
	role, err := s.signupRole(in.Role, caller)
	if err != nil {
		return Session{}, err
	}

	hashed, err := s.hasher.Hash(in.Password)
	if err != nil {
		return Session{}, fmt.Errorf("hash password: %w", err)
	}

	account, err := s.repo.Create(ctx, types.Account{
		Name:         in.Name,
		Email:        in.Email,
		Role:         role,
		PasswordHash: hashed,
	})
	if err != nil {
		return Session{}, storeError(err)
	}
	s.logger.InfoContext(ctx, "account created", slog.String("account_id", account.ID), slog.String("role", string(account.Role)))

	return s.IssueFor(account)
}

// Login checks email and password. Every failure yields the same
// ErrInvalidCredentials so callers cannot tell which part was wrong.
func (s *SessionIssuer) Login(ctx context.Context, email, plaintext string) (Session, error) {
	email = store.NormalizeEmail(email)
	if email == "" || plaintext == "" {
		return Session{}, ErrInvalidCredentials
	}

	account, err := s.repo.FindByEmail(ctx, email, false)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return Session{}, err
		}
		// Spend the same bcrypt time as a real comparison.
		s.hasher.Verify(plaintext, s.timingHash())
		return Session{}, ErrInvalidCredentials
	}
	if !s.hasher.Verify(plaintext, account.PasswordHash) {
		return Session{}, ErrInvalidCredentials
	}

	return s.IssueFor(account)
}

func (s *SessionIssuer) signupRole(requested types.Role, caller *Identity) (types.Role, error) {
	if requested == "" || requested == types.DefaultRole {
		return types.DefaultRole, nil
	}
	callerIsAdmin := caller != nil && caller.Role == types.RoleAdmin
	if !callerIsAdmin && !s.allowSignupRole {
		s.logger.Warn("ignoring role requested at signup", slog.String("role", string(requested)))
		return types.DefaultRole, nil
	}
	if !requested.Valid() {
		return "", invalid("role must be one of: user, guide, lead-guide, admin")
	}
	return requested, nil
}

func (s *SessionIssuer) timingHash() string {
	s.dummyOnce.Do(func() {
		hashed, err := s.hasher.Hash("timing-equalizer-password")
		if err == nil {
			s.dummyHash = hashed
		}
	})
	return s.dummyHash
}

func checkNewPassword(plaintext, confirm string) error {
	if plaintext == "" {
		return invalid("please provide a password")
	}
	if confirm == "" {
		return invalid("please confirm your password")
	}
	if err := password.Validate(plaintext); err != nil {
		return wrapError(ErrValidation, err.Error(), err)
	}
	if plaintext != confirm {
		return invalid("passwords are not the same")
	}
	return nil
}
