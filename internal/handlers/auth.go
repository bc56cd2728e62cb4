package handlers

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/natours/apiserver/internal/services"
	"github.com/natours/apiserver/types"
)

const (
	sessionCookieName = "jwt"
	loggedOutValue    = "loggedout"
	loggedOutTTL      = 10 * time.Second
	resetPathPrefix   = "/api/v1/users/resetPassword"
)

// CookieOptions controls the session cookie.
type CookieOptions struct {
	TTL time.Duration
	// Secure forces the Secure attribute. Requests that arrived over TLS get it
	// regardless.
	Secure bool
}

// AuthHandler serves signup, login and the password flows.
type AuthHandler struct {
	sessions  *services.SessionIssuer
	gate      *services.AccessGate
	passwords *services.PasswordManager
	cookie    CookieOptions
	publicURL string
	now       func() time.Time
	logger    *slog.Logger
}

// NewAuthHandler constructs an AuthHandler. publicURL, when set, is the
// scheme and host used in reset links instead of the request's own.
func NewAuthHandler(
	sessions *services.SessionIssuer,
	gate *services.AccessGate,
	passwords *services.PasswordManager,
	cookie CookieOptions,
	publicURL string,
	logger *slog.Logger,
) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{
		sessions:  sessions,
		gate:      gate,
		passwords: passwords,
		cookie:    cookie,
		publicURL: strings.TrimRight(publicURL, "/"),
		now:       time.Now,
		logger:    logger,
	}
}

// Protect authenticates the request and stores the caller's identity in the
// request context.
func (h *AuthHandler) Protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := h.gate.Authenticate(r.Context(), sessionToken(r))
		if err != nil {
			writeServiceError(w, r, h.logger, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), identity)))
	})
}

// identify attaches the caller's identity when a valid session is presented
// and lets anonymous requests through unchanged.
func (h *AuthHandler) identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := sessionToken(r)
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}
		identity, err := h.gate.Authenticate(r.Context(), raw)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), identity)))
	})
}

// RestrictTo admits only identities holding one of roles. It must run after
// Protect.
func RestrictTo(roles ...types.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := identityFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, services.ErrUnauthenticated.Error())
				return
			}
			if err := services.RequireRole(identity, roles...); err != nil {
				writeError(w, http.StatusForbidden, err.Error())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if err := validateRequest(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var caller *services.Identity
	if identity, ok := identityFromContext(r.Context()); ok {
		caller = &identity
	}

	session, err := h.sessions.Signup(r.Context(), services.SignupInput{
		Name:            req.Name,
		Email:           req.Email,
		Password:        req.Password,
		PasswordConfirm: req.PasswordConfirm,
		Role:            types.Role(strings.TrimSpace(req.Role)),
	}, caller)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	h.writeSession(w, r, http.StatusCreated, session)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	session, err := h.sessions.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	h.writeSession(w, r, http.StatusOK, session)
}

// Logout replaces the session cookie with a short-lived placeholder. Bearer
// tokens stay valid until they expire.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    loggedOutValue,
		Path:     "/",
		Expires:  h.now().Add(loggedOutTTL),
		HttpOnly: true,
		Secure:   h.secureCookie(r),
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, StatusResponse{Status: "success"})
}

func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if err := validateRequest(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.passwords.ForgotPassword(r.Context(), req.Email, h.resetURLBase(r)); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "success", Message: "Token sent to email!"})
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	session, err := h.passwords.ResetPassword(r.Context(), chi.URLParam(r, "token"), req.Password, req.PasswordConfirm)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	h.writeSession(w, r, http.StatusOK, session)
}

func (h *AuthHandler) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, services.ErrUnauthenticated.Error())
		return
	}

	var req UpdatePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if err := validateRequest(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	session, err := h.passwords.ChangePassword(r.Context(), identity, req.PasswordCurrent, req.Password, req.PasswordConfirm)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	h.writeSession(w, r, http.StatusOK, session)
}

// writeSession sends the token both in the body and as an HttpOnly cookie.
func (h *AuthHandler) writeSession(w http.ResponseWriter, r *http.Request, status int, session services.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    session.Token,
		Path:     "/",
		Expires:  h.now().Add(h.cookie.TTL),
		HttpOnly: true,
		Secure:   h.secureCookie(r),
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, status, SessionResponse{
		Status: "success",
		Token:  session.Token,
		Data:   UserData{User: session.Account},
	})
}

func (h *AuthHandler) secureCookie(r *http.Request) bool {
	return h.cookie.Secure || requestScheme(r) == "https"
}

func (h *AuthHandler) resetURLBase(r *http.Request) string {
	if h.publicURL != "" {
		return h.publicURL + resetPathPrefix
	}
	return requestScheme(r) + "://" + r.Host + resetPathPrefix
}

func requestScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return "https"
	}
	return "http"
}

// sessionToken prefers a bearer token and falls back to the session cookie.
func sessionToken(r *http.Request) string {
	if token, ok := bearerToken(r); ok {
		return token
	}
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == loggedOutValue {
		return ""
	}
	return strings.TrimSpace(cookie.Value)
}

func bearerToken(r *http.Request) (string, bool) {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return "", false
	}
	scheme, token, found := strings.Cut(auth, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

type SignupRequest struct {
	Name            string `json:"name" validate:"required,max=100"`
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required"`
	PasswordConfirm string `json:"passwordConfirm" validate:"required"`
	Role            string `json:"role"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type ResetPasswordRequest struct {
	Password        string `json:"password"`
	PasswordConfirm string `json:"passwordConfirm"`
}

type UpdatePasswordRequest struct {
	PasswordCurrent string `json:"passwordCurrent" validate:"required"`
	Password        string `json:"password" validate:"required"`
	PasswordConfirm string `json:"passwordConfirm" validate:"required"`
}

type UserData struct {
	User types.AccountView `json:"user"`
}

type SessionResponse struct {
	Status string   `json:"status"`
	Token  string   `json:"token"`
	Data   UserData `json:"data"`
}
