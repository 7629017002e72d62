package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"finitefield.org/wholesale/internal/domain"
	"finitefield.org/wholesale/internal/platform/httpx"
	"finitefield.org/wholesale/internal/services"
)

const (
	defaultAttemptBurst  = 10
	defaultAttemptWindow = time.Minute
)

// AuthHandlers bind the session to an upstream account.
type AuthHandlers struct {
	auth     services.AuthService
	attempts *keyedLimiter
}

// AuthOption customises AuthHandlers.
type AuthOption func(*authOptions)

type authOptions struct {
	burst  int
	window time.Duration
	clock  func() time.Time
}

// WithAttemptLimit caps credential attempts per client address. A non-positive burst disables
// the limit.
func WithAttemptLimit(burst int, window time.Duration) AuthOption {
	return func(o *authOptions) {
		o.burst = burst
		o.window = window
	}
}

// WithAuthClock overrides the clock used by the attempt limiter.
func WithAuthClock(now func() time.Time) AuthOption {
	return func(o *authOptions) {
		if now != nil {
			o.clock = now
		}
	}
}

// NewAuthHandlers constructs auth handlers.
func NewAuthHandlers(auth services.AuthService, opts ...AuthOption) *AuthHandlers {
	o := authOptions{burst: defaultAttemptBurst, window: defaultAttemptWindow}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return &AuthHandlers{auth: auth, attempts: newKeyedLimiter(o.burst, o.window, o.clock)}
}

// Routes wires the auth endpoints under /auth.
func (h *AuthHandlers) Routes(r chi.Router) {
	r.Get("/csrf", h.csrf)
	r.Post("/logout", h.logout)
	r.Group(func(r chi.Router) {
		r.Use(throttle(h.attempts))
		r.Post("/login", h.login)
		r.Post("/register", h.register)
		r.Post("/forgot-password", h.forgotPassword)
		r.Post("/reset-password", h.resetPassword)
	})
	r.Get("/profile", h.profile)
	r.Put("/profile", h.updateProfile)
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// csrf lets a fresh browser obtain its token before the first unsafe request.
func (h *AuthHandlers) csrf(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFrom(r.Context())
	if !ok {
		writeServiceError(r.Context(), w, services.ErrNoSession)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"csrfToken": sess.CSRFToken()})
}

func (h *AuthHandlers) login(w http.ResponseWriter, r *http.Request) {
	var creds domain.Credentials
	if !decodeBody(w, r, &creds) {
		return
	}
	creds.Email = strings.TrimSpace(creds.Email)
	outcome, err := h.auth.Login(r.Context(), creds)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, outcome)
}

func (h *AuthHandlers) register(w http.ResponseWriter, r *http.Request) {
	var reg domain.Registration
	if !decodeBody(w, r, &reg) {
		return
	}
	reg.Email = strings.TrimSpace(reg.Email)
	outcome, err := h.auth.Register(r.Context(), reg)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, outcome)
}

func (h *AuthHandlers) logout(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.Logout(r.Context()); err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandlers) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if !decodeBody(w, r, &req) {
		return
	}
	msg, err := h.auth.ForgotPassword(r.Context(), strings.TrimSpace(req.Email))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, messageResponse{Message: msg})
}

func (h *AuthHandlers) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !decodeBody(w, r, &req) {
		return
	}
	msg, err := h.auth.ResetPassword(r.Context(), strings.TrimSpace(req.Token), req.Password)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, messageResponse{Message: msg})
}

func (h *AuthHandlers) profile(w http.ResponseWriter, r *http.Request) {
	user, err := h.auth.Profile(r.Context())
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, user)
}

func (h *AuthHandlers) updateProfile(w http.ResponseWriter, r *http.Request) {
	var update domain.ProfileUpdate
	if !decodeBody(w, r, &update) {
		return
	}
	user, err := h.auth.UpdateProfile(r.Context(), update)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, user)
}
