package services_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/natours/apiserver/internal/password"
	"github.com/natours/apiserver/internal/resettoken"
	"github.com/natours/apiserver/internal/services"
	"github.com/natours/apiserver/internal/store"
	"github.com/natours/apiserver/internal/token"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	testSecret   = "0123456789abcdef0123456789abcdef"
	testTokenTTL = 24 * time.Hour
	resetURLBase = "http://natours.test/api/v1/users/resetPassword"
)

var resetTokenPattern = regexp.MustCompile(`resetPassword/([0-9a-f]{64})`)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sentMail struct {
	To      string
	Subject string
	Body    string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentMail
	err  error

	// onSend runs before every delivery, standing in for whatever else
	// happens to the account while the mail is in flight.
	onSend func(ctx context.Context)
}

func (n *recordingNotifier) Send(ctx context.Context, destination, subject, body string) error {
	if n.onSend != nil {
		n.onSend(ctx)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, sentMail{To: destination, Subject: subject, Body: body})
	return nil
}

func (n *recordingNotifier) last(t *testing.T) sentMail {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.sent, "no mail sent")
	return n.sent[len(n.sent)-1]
}

func (n *recordingNotifier) lastResetToken(t *testing.T) string {
	t.Helper()
	match := resetTokenPattern.FindStringSubmatch(n.last(t).Body)
	require.Len(t, match, 2, "mail body carries no reset URL")
	return match[1]
}

type memoryPhotos struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
	onPut   func(ctx context.Context)
}

func (p *memoryPhotos) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if p.onPut != nil {
		p.onPut(ctx)
	}
	if p.err != nil {
		return p.err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.objects == nil {
		p.objects = make(map[string][]byte)
	}
	p.objects[key] = data
	return nil
}

func (p *memoryPhotos) Delete(ctx context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.objects, key)
	return nil
}

func (p *memoryPhotos) has(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.objects[key]
	return ok
}

type testEnv struct {
	clock     *testClock
	repo      *store.MemoryAccountRepository
	tokens    *token.Service
	notifier  *recordingNotifier
	photos    *memoryPhotos
	sessions  *services.SessionIssuer
	gate      *services.AccessGate
	passwords *services.PasswordManager
	accounts  *services.AccountService
}

type envOption func(*envConfig)

type envConfig struct {
	allowSignupRole bool
}

func withSignupRole() envOption {
	return func(c *envConfig) { c.allowSignupRole = true }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	var cfg envConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	repo := store.NewMemoryAccountRepository().WithClock(clock.Now)
	hasher := password.NewHasher(bcrypt.MinCost)
	tokens := token.NewServiceWithClock([]byte(testSecret), testTokenTTL, clock.Now)
	notifier := &recordingNotifier{}
	photos := &memoryPhotos{}

	sessions := services.NewSessionIssuer(repo, hasher, tokens, cfg.allowSignupRole, logger)
	passwords := services.NewPasswordManager(
		repo,
		hasher,
		resettoken.NewGenerator(resettoken.DefaultTTL, clock.Now),
		notifier,
		sessions,
		clock.Now,
		logger,
	)

	return &testEnv{
		clock:     clock,
		repo:      repo,
		tokens:    tokens,
		notifier:  notifier,
		photos:    photos,
		sessions:  sessions,
		gate:      services.NewAccessGate(repo, tokens),
		passwords: passwords,
		accounts:  services.NewAccountService(repo, photos, logger).WithClock(clock.Now),
	}
}

func (e *testEnv) signup(t *testing.T, name, email, plaintext string) services.Session {
	t.Helper()
	session, err := e.sessions.Signup(context.Background(), services.SignupInput{
		Name:            name,
		Email:           email,
		Password:        plaintext,
		PasswordConfirm: plaintext,
	}, nil)
	require.NoError(t, err)
	return session
}

func messageOf(err error) string {
	var svcErr *services.Error
	if errors.As(err, &svcErr) {
		return svcErr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
