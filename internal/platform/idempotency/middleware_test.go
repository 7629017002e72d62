package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"finitefield.org/wholesale/internal/platform/kv"
	"finitefield.org/wholesale/internal/platform/requestctx"
)

var fixedTime = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

func newTestMiddleware(t *testing.T, opts ...Option) (func(http.Handler) http.Handler, *KVStore) {
	t.Helper()
	store, err := NewKVStore(kv.NewMemoryStore())
	if err != nil {
		t.Fatalf("NewKVStore: %v", err)
	}
	opts = append([]Option{WithClock(func() time.Time { return fixedTime })}, opts...)
	return Middleware(store, opts...), store
}

func newOrderRequest(body, key, session string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(HeaderName, key)
	}
	if session != "" {
		req = req.WithContext(requestctx.WithSessionID(req.Context(), session))
	}
	return req
}

func TestMiddlewarePassesThroughWithoutKey(t *testing.T) {
	mw, _ := newTestMiddleware(t)
	calls := 0
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, newOrderRequest(`{}`, "", "s1"))
		if rr.Code != http.StatusCreated {
			t.Fatalf("unexpected status %d", rr.Code)
		}
	}
	if calls != 2 {
		t.Fatalf("expected both requests to reach the handler, got %d", calls)
	}
}

func TestMiddlewareRequiredKey(t *testing.T) {
	mw, _ := newTestMiddleware(t, WithRequired())
	handler := mw(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not run without a key")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newOrderRequest(`{}`, "", "s1"))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	assertErrorCode(t, rr.Body.Bytes(), "idempotency_key_required")
}

func TestMiddlewareReplaysStoredResponse(t *testing.T) {
	mw, _ := newTestMiddleware(t)
	calls := 0
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Set-Cookie", "sid=x")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"ord_1"}`))
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, newOrderRequest(`{"payment":"card"}`, "k-1", "s1"))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, newOrderRequest(`{"payment":"card"}`, "k-1", "s1"))

	if calls != 1 {
		t.Fatalf("expected one order placement, got %d", calls)
	}
	if first.Code != http.StatusCreated || second.Code != http.StatusCreated {
		t.Fatalf("unexpected statuses %d %d", first.Code, second.Code)
	}
	if first.Header().Get(ReplayHeaderName) != "" {
		t.Fatalf("first response must not be marked as replay")
	}
	if second.Header().Get(ReplayHeaderName) != "true" {
		t.Fatalf("expected replay header")
	}
	if second.Header().Get("Set-Cookie") != "" {
		t.Fatalf("cookies must not be replayed")
	}
	if second.Body.String() != first.Body.String() {
		t.Fatalf("expected body %q, got %q", first.Body.String(), second.Body.String())
	}
}

func TestMiddlewareScopesKeysBySession(t *testing.T) {
	mw, _ := newTestMiddleware(t)
	calls := 0
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), newOrderRequest(`{}`, "shared", "s1"))
	handler.ServeHTTP(httptest.NewRecorder(), newOrderRequest(`{}`, "shared", "s2"))
	if calls != 2 {
		t.Fatalf("expected sessions not to share keys, got %d calls", calls)
	}
}

func TestMiddlewareRejectsReusedKeyWithDifferentBody(t *testing.T) {
	mw, _ := newTestMiddleware(t)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), newOrderRequest(`{"a":1}`, "k", "s1"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newOrderRequest(`{"a":2}`, "k", "s1"))
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	assertErrorCode(t, rr.Body.Bytes(), "idempotency_key_conflict")
}

func TestMiddlewarePendingReservation(t *testing.T) {
	mw, store := newTestMiddleware(t)
	handler := mw(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not run while the key is pending")
	}))

	req := newOrderRequest(`{}`, "busy", "s1")
	fp, err := fingerprint(req, "s1")
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	if _, err := store.Reserve(context.Background(), "s1|busy", fp, fixedTime, time.Hour); err != nil {
		t.Fatalf("seed reservation: %v", err)
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	assertErrorCode(t, rr.Body.Bytes(), "idempotency_in_progress")
}

func TestMiddlewareServerErrorsAreRetryable(t *testing.T) {
	mw, _ := newTestMiddleware(t)
	calls := 0
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, newOrderRequest(`{}`, "retry", "s1"))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, newOrderRequest(`{}`, "retry", "s1"))

	if first.Code != http.StatusBadGateway || second.Code != http.StatusCreated {
		t.Fatalf("unexpected statuses %d %d", first.Code, second.Code)
	}
	if calls != 2 {
		t.Fatalf("expected the retry to reach the handler, got %d calls", calls)
	}
}

func TestMiddlewareReleasesKeyOnPanic(t *testing.T) {
	mw, store := newTestMiddleware(t)
	handler := mw(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	func() {
		defer func() { _ = recover() }()
		handler.ServeHTTP(httptest.NewRecorder(), newOrderRequest(`{}`, "p", "s1"))
	}()

	req := newOrderRequest(`{}`, "p", "s1")
	fp, _ := fingerprint(req, "s1")
	res, err := store.Reserve(context.Background(), "s1|p", fp, fixedTime, time.Hour)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if res.State != ReservationStateNew {
		t.Fatalf("expected key to be free after panic, got state %d", res.State)
	}
}

func TestMiddlewareSaveFailureStillResponds(t *testing.T) {
	store := &stubStore{saveErr: errors.New("save failed")}
	handler := Middleware(store)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newOrderRequest(`{}`, "k", "s1"))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected handler response, got %d", rr.Code)
	}
	if !store.released {
		t.Fatalf("expected reservation to be released")
	}
}

type stubStore struct {
	saveErr  error
	released bool
}

func (s *stubStore) Reserve(context.Context, string, string, time.Time, time.Duration) (Reservation, error) {
	return Reservation{State: ReservationStateNew}, nil
}

func (s *stubStore) SaveResponse(context.Context, string, string, Response, time.Time, time.Duration) error {
	return s.saveErr
}

func (s *stubStore) Release(context.Context, string) error {
	s.released = true
	return nil
}

func assertErrorCode(t *testing.T, payload []byte, expected string) {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if body.Error != expected {
		t.Fatalf("expected error code %s, got %s", expected, body.Error)
	}
}
