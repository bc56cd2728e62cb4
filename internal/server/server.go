package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/natours/apiserver/config"
	"github.com/natours/apiserver/internal/db"
	"github.com/natours/apiserver/internal/handlers"
	"github.com/natours/apiserver/internal/mq"
	"github.com/natours/apiserver/internal/notify"
	"github.com/natours/apiserver/internal/password"
	"github.com/natours/apiserver/internal/resettoken"
	"github.com/natours/apiserver/internal/services"
	"github.com/natours/apiserver/internal/storage"
	"github.com/natours/apiserver/internal/store"
	"github.com/natours/apiserver/internal/token"
	"github.com/unrolled/secure"
)

const (
	apiRateLimit  = 100
	apiRateWindow = time.Hour
)

// Server wraps the HTTP server and the connections it owns.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	queue      *mq.MQ
	logger     *slog.Logger

	stopMailer context.CancelFunc
	mailerDone chan struct{}
}

// Handlers are the request handlers mounted by NewRouter.
type Handlers struct {
	Auth     *handlers.AuthHandler
	Accounts *handlers.AccountHandler
}

// New connects the account store, the mail queue and photo storage and
// builds the router.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{logger: logger}
	ok := false
	defer func() {
		if !ok {
			s.closeResources()
		}
	}()

	var repo services.AccountRepository
	switch cfg.Database.Driver {
	case "memory":
		logger.Warn("using in-memory account store, accounts are lost on restart")
		repo = store.NewMemoryAccountRepository()
	default:
		dbConn, err := db.Open(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		s.db = dbConn
		repo = store.NewAccountRepository(dbConn)
	}

	queue, err := mq.NewBackend(ctx, cfg.MQ)
	if err != nil {
		return nil, fmt.Errorf("connect mq: %w", err)
	}
	s.queue = queue

	if cfg.MQ.Backend == "memory" {
		if err := s.startMailer(cfg); err != nil {
			return nil, err
		}
	}

	objects, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("connect storage: %w", err)
	}
	var photos services.PhotoStore
	if objects != nil {
		photos = objects
	} else {
		logger.Info("photo uploads disabled, no STORAGE_BACKEND configured")
	}

	hasher := password.NewHasher(cfg.Auth.BcryptCost)
	tokens := token.NewService([]byte(cfg.Auth.JWTSecret), cfg.Auth.JWTExpiresIn)
	sessions := services.NewSessionIssuer(repo, hasher, tokens, cfg.Auth.AllowSignupRole, logger)
	passwords := services.NewPasswordManager(
		repo,
		hasher,
		resettoken.NewGenerator(cfg.Auth.ResetTokenTTL, nil),
		notify.NewMailPublisher(queue, cfg.MQ.MailChannel),
		sessions,
		nil,
		logger,
	)

	h := Handlers{
		Auth: handlers.NewAuthHandler(
			sessions,
			services.NewAccessGate(repo, tokens),
			passwords,
			handlers.CookieOptions{TTL: cfg.Auth.CookieExpiresIn, Secure: cfg.IsProduction()},
			cfg.PublicURL,
			logger,
		),
		Accounts: handlers.NewAccountHandler(services.NewAccountService(repo, photos, logger), logger),
	}
	s.router = NewRouter(cfg, logger, h)

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ok = true
	return s, nil
}

// NewRouter mounts the account API behind the security middleware.
func NewRouter(cfg config.Config, logger *slog.Logger, h Handlers) *chi.Mux {
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		ContentSecurityPolicy: "default-src 'self'",
		SSLRedirect:           cfg.IsProduction(),
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
		IsDevelopment:         !cfg.IsProduction(),
	})

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		middleware.Timeout(60*time.Second),
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if err := secureMiddleware.Process(w, r); err != nil {
					logger.Warn("secure headers blocked request", slog.Any("error", err))
					return
				}
				next.ServeHTTP(w, r)
			})
		},
	)
	router.Get("/healthz", handlers.Healthz)
	router.Route("/api", func(r chi.Router) {
		r.Use(httprate.Limit(
			apiRateLimit,
			apiRateWindow,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"status":"fail","message":"too many requests from this IP, please try again in an hour"}` + "\n"))
			}),
		))
		r.Route("/v1/users", func(r chi.Router) {
			handlers.UsersRouter(r, h.Auth, h.Accounts)
		})
	})
	return router
}

// startMailer delivers queued mail in-process when the queue lives in
// memory and no separate mailer can reach it.
func (s *Server) startMailer(cfg config.Config) error {
	sender, err := notify.NewSMTPSender(cfg.SMTP)
	if err != nil {
		return fmt.Errorf("configure smtp: %w", err)
	}
	mailer := notify.NewMailer(s.queue, cfg.MQ.MailChannel, sender, s.logger)

	ctx, cancel := context.WithCancel(context.Background())
	s.stopMailer = cancel
	s.mailerDone = make(chan struct{})
	go func() {
		defer close(s.mailerDone)
		if err := mailer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("in-process mailer stopped", slog.Any("error", err))
		}
	}()
	return nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("server listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, then closes the queue and database.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.closeResources()
	return err
}

func (s *Server) closeResources() {
	if s.stopMailer != nil {
		s.stopMailer()
		<-s.mailerDone
		s.stopMailer = nil
	}
	if s.queue != nil {
		_ = s.queue.Close()
		s.queue = nil
	}
	if s.db != nil {
		_ = s.db.Close()
		s.db = nil
	}
}
