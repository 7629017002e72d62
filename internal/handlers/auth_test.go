package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"finitefield.org/wholesale/internal/domain"
	"finitefield.org/wholesale/internal/notify"
	"finitefield.org/wholesale/internal/platform/requestctx"
	"finitefield.org/wholesale/internal/services"
)

func loginRequest(addr, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
	req.RemoteAddr = addr
	return req
}

func TestAuthHandlers_LoginTrimsEmail(t *testing.T) {
	svc := &stubAuthService{
		loginFn: func(_ context.Context, creds domain.Credentials) (services.AuthOutcome, error) {
			require.Equal(t, "buyer@example.com", creds.Email)
			return services.AuthOutcome{User: domain.User{ID: "u1", Email: creds.Email, Role: domain.RoleCustomer}}, nil
		},
	}
	router := mountAt("/auth", NewAuthHandlers(svc).Routes)

	rr := serve(router, loginRequest("10.0.0.1:5555", `{"email":" buyer@example.com ","password":"secret123"}`))
	require.Equal(t, http.StatusOK, rr.Code)
	var out services.AuthOutcome
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	require.Equal(t, "u1", out.User.ID)
	require.Nil(t, out.Cart)
}

func TestAuthHandlers_AttemptsThrottledPerAddress(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	calls := 0
	svc := &stubAuthService{
		loginFn: func(context.Context, domain.Credentials) (services.AuthOutcome, error) {
			calls++
			return services.AuthOutcome{}, &services.ValidationError{Problems: []services.FieldProblem{{Field: "password", Message: "Invalid credentials"}}}
		},
	}
	h := NewAuthHandlers(svc, WithAttemptLimit(2, time.Minute), WithAuthClock(func() time.Time { return now }))
	router := mountAt("/auth", h.Routes)
	body := `{"email":"a@example.com","password":"wrong-pass"}`

	for i := 0; i < 2; i++ {
		rr := serve(router, loginRequest("10.0.0.1:5555", body))
		require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	}
	rr := serve(router, loginRequest("10.0.0.1:6000", body))
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	require.NotEmpty(t, rr.Header().Get("Retry-After"))
	require.Equal(t, 2, calls)

	// Another address has its own budget.
	rr = serve(router, loginRequest("10.0.0.2:5555", body))
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	// The bucket refills over the window.
	now = now.Add(time.Minute)
	rr = serve(router, loginRequest("10.0.0.1:5555", body))
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestAuthHandlers_LogoutNotThrottled(t *testing.T) {
	svc := &stubAuthService{}
	router := mountAt("/auth", NewAuthHandlers(svc, WithAttemptLimit(1, time.Hour)).Routes)
	for i := 0; i < 3; i++ {
		rr := serve(router, httptest.NewRequest(http.MethodPost, "/auth/logout", nil))
		require.Equal(t, http.StatusNoContent, rr.Code)
	}
	require.Equal(t, 3, svc.logouts)
}

func TestAuthHandlers_CSRFEndpointThroughSession(t *testing.T) {
	mgr := newTestSessionManager(t)
	r := chi.NewRouter()
	r.Use(SessionMiddleware(mgr))
	r.Route("/auth", NewAuthHandlers(&stubAuthService{}).Routes)

	rr := serve(r, httptest.NewRequest(http.MethodGet, "/auth/csrf", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.NotEmpty(t, body["csrfToken"])
	require.Equal(t, rr.Header().Get(CSRFHeader), body["csrfToken"])
}

func TestNotificationHandlers_DrainOnce(t *testing.T) {
	drainer := &stubDrainer{pending: map[string][]notify.Notification{
		"sid-1": {notify.New(notify.LevelSuccess, "Added to cart", "Rice x 10")},
	}}
	router := mountAt("/notifications", NewNotificationHandlers(drainer).Routes)

	req := httptest.NewRequest(http.MethodGet, "/notifications", nil)
	req = req.WithContext(requestctx.WithSessionID(req.Context(), "sid-1"))
	rr := serve(router, req)
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Notifications []notify.Notification `json:"notifications"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Notifications, 1)
	require.Equal(t, "Added to cart", body.Notifications[0].Title)

	req = httptest.NewRequest(http.MethodGet, "/notifications", nil)
	req = req.WithContext(requestctx.WithSessionID(req.Context(), "sid-1"))
	rr = serve(router, req)
	require.JSONEq(t, `{"notifications":[]}`, rr.Body.String())

	rr = serve(router, httptest.NewRequest(http.MethodGet, "/notifications", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAuthHandlers_LoginRenewsSession(t *testing.T) {
	mgr := newTestSessionManager(t)
	var moved [][2]string
	var signedIn string
	svc := &stubAuthService{
		loginFn: func(ctx context.Context, _ domain.Credentials) (services.AuthOutcome, error) {
			renewed, err := services.RenewSession(ctx)
			if err != nil {
				return services.AuthOutcome{}, err
			}
			signedIn = requestctx.SessionID(renewed)
			return services.AuthOutcome{User: domain.User{ID: "u1"}}, nil
		},
	}
	r := chi.NewRouter()
	r.Use(SessionMiddleware(mgr, WithRenewedSessionHook(func(_ context.Context, from, to string) error {
		moved = append(moved, [2]string{from, to})
		return nil
	})))
	r.Route("/auth", NewAuthHandlers(svc).Routes)

	rr := serve(r, httptest.NewRequest(http.MethodGet, "/auth/csrf", nil))
	guestToken := rr.Header().Get(CSRFHeader)
	guestCookie := rr.Result().Cookies()[0]
	guestReq := httptest.NewRequest(http.MethodGet, "/", nil)
	guestReq.AddCookie(guestCookie)
	guest, err := mgr.Load(guestReq)
	require.NoError(t, err)

	login := loginRequest("10.0.0.1:5555", `{"email":"buyer@example.com","password":"secret123"}`)
	login.AddCookie(guestCookie)
	login.Header.Set(CSRFHeader, guestToken)
	rr = serve(r, login)
	require.Equal(t, http.StatusOK, rr.Code)

	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	next := httptest.NewRequest(http.MethodGet, "/", nil)
	next.AddCookie(cookies[0])
	renewed, err := mgr.Load(next)
	require.NoError(t, err)
	require.NotEqual(t, guest.ID(), renewed.ID())
	require.Equal(t, signedIn, renewed.ID())
	require.Equal(t, [][2]string{{guest.ID(), renewed.ID()}}, moved)

	newToken := rr.Header().Get(CSRFHeader)
	require.NotEqual(t, guestToken, newToken)
	require.Equal(t, renewed.CSRFToken(), newToken)

	// The pre-login token no longer passes the CSRF check.
	stale := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	stale.AddCookie(cookies[0])
	stale.Header.Set(CSRFHeader, guestToken)
	rr = serve(r, stale)
	require.Equal(t, http.StatusForbidden, rr.Code)
}
