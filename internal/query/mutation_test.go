package query

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"finitefield.org/wholesale/internal/notify"
	"finitefield.org/wholesale/internal/platform/events"
)

type recordingNotifier struct {
	mu  sync.Mutex
	got []notify.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
	return nil
}

func (r *recordingNotifier) last() notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.got) == 0 {
		return notify.Notification{}
	}
	return r.got[len(r.got)-1]
}

type recordingBus struct {
	mu        sync.Mutex
	published []events.Invalidation
}

func (b *recordingBus) Publish(_ context.Context, inv events.Invalidation) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, inv)
	return nil
}

func (b *recordingBus) Subscribe(events.Handler) (func(), error) { return func() {}, nil }

func (b *recordingBus) Close() error { return nil }

type messageError struct{ msg string }

func (e messageError) Error() string       { return "rejected: " + e.msg }
func (e messageError) UserMessage() string { return e.msg }

func newTestCoordinator(t *testing.T) (*Coordinator, *recordingNotifier, *recordingBus) {
	t.Helper()
	notifier := &recordingNotifier{}
	bus := &recordingBus{}
	co, err := NewCoordinator(newTestCache(t), WithNotifier(notifier), WithPublisher(bus))
	if err != nil {
		t.Fatalf("NewCoordinator error: %v", err)
	}
	co.Depend("admin/products", []MutationKind{KindDelete, KindBulkDelete}, "admin/dashboard", "admin/analytics")
	return co, notifier, bus
}

func TestPerformDeleteInvalidatesListAndDependents(t *testing.T) {
	co, notifier, bus := newTestCoordinator(t)
	cache := co.Cache()

	listKey := NewKey("admin/products", "", nil)
	dashKey := NewKey("admin/dashboard", "", nil)
	var listVersion atomic.Int32
	sub, err := cache.Subscribe(context.Background(), listKey, func(context.Context) (any, error) {
		return int(listVersion.Add(1)), nil
	})
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	defer sub.Close()
	waitFor(t, sub, func(r Resource) bool { return r.Data == 1 })
	if _, err := cache.Fetch(context.Background(), dashKey, func(context.Context) (any, error) { return "stats", nil }); err != nil {
		t.Fatalf("Fetch error: %v", err)
	}

	var sawFresh bool
	_, err = Perform(context.Background(), co, MutationSpec{Tag: "admin/products", Kind: KindDelete, Subject: "Product"},
		func(context.Context) (struct{}, error) {
			res, _ := cache.Peek(listKey)
			sawFresh = !res.Stale
			return struct{}{}, nil
		})
	if err != nil {
		t.Fatalf("Perform error: %v", err)
	}
	if !sawFresh {
		t.Fatalf("invalidation must not run before the mutation succeeds")
	}

	waitFor(t, sub, func(r Resource) bool { return r.Data == 2 && r.Status == StatusSuccess })
	if res, _ := cache.Peek(dashKey); !res.Stale {
		t.Fatalf("expected dashboard to be stale after delete")
	}
	if got := notifier.last(); got.Level != notify.LevelSuccess || got.Message != "Product deleted successfully" {
		t.Fatalf("unexpected notification %+v", got)
	}
	if len(bus.published) != 3 {
		t.Fatalf("expected three published invalidations, got %+v", bus.published)
	}
}

func TestPerformUpdateSkipsDeleteDependents(t *testing.T) {
	co, _, _ := newTestCoordinator(t)
	dashKey := NewKey("admin/dashboard", "", nil)
	if _, err := co.Cache().Fetch(context.Background(), dashKey, func(context.Context) (any, error) { return "stats", nil }); err != nil {
		t.Fatalf("Fetch error: %v", err)
	}

	if _, err := Perform(context.Background(), co, MutationSpec{Tag: "admin/products", Kind: KindUpdate, Subject: "Product"},
		func(context.Context) (string, error) { return "ok", nil }); err != nil {
		t.Fatalf("Perform error: %v", err)
	}
	if res, _ := co.Cache().Peek(dashKey); res.Stale {
		t.Fatalf("update must not invalidate the dashboard")
	}
}

func TestPerformFailureNotifiesWithoutInvalidating(t *testing.T) {
	co, notifier, bus := newTestCoordinator(t)
	listKey := NewKey("admin/customers", "", nil)
	if _, err := co.Cache().Fetch(context.Background(), listKey, func(context.Context) (any, error) { return "list", nil }); err != nil {
		t.Fatalf("Fetch error: %v", err)
	}

	spec := MutationSpec{Tag: "admin/customers", Kind: KindAction, Success: "Customer blocked", Failure: "Failed to block customer"}
	m := co.NewMutation(spec)
	if m.State() != MutationIdle {
		t.Fatalf("expected idle mutation, got %s", m.State())
	}
	_, err := Execute(context.Background(), m, func(context.Context) (struct{}, error) {
		if m.State() != MutationPending {
			t.Errorf("expected pending during the operation, got %s", m.State())
		}
		return struct{}{}, messageError{msg: "Customer has open orders"}
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if m.State() != MutationError || m.Err() == nil {
		t.Fatalf("expected error state, got %s", m.State())
	}
	if res, _ := co.Cache().Peek(listKey); res.Stale {
		t.Fatalf("failed mutation must not invalidate")
	}
	if len(bus.published) != 0 {
		t.Fatalf("failed mutation must not publish")
	}
	if got := notifier.last(); got.Level != notify.LevelError || got.Message != "Customer has open orders" {
		t.Fatalf("expected server message, got %+v", got)
	}

	if _, err := Execute(context.Background(), m, func(context.Context) (struct{}, error) { return struct{}{}, nil }); !errors.Is(err, ErrMutationStarted) {
		t.Fatalf("expected ErrMutationStarted, got %v", err)
	}

	_, _ = Perform(context.Background(), co, MutationSpec{Tag: "admin/products", Kind: KindBulkDelete, Subject: "products"},
		func(context.Context) (struct{}, error) { return struct{}{}, errors.New("boom") })
	if got := notifier.last(); got.Message != "Failed to delete products" {
		t.Fatalf("expected fallback message, got %+v", got)
	}
}

func TestPerformPrimesDetailKey(t *testing.T) {
	co, notifier, _ := newTestCoordinator(t)
	detail := NewKey("admin/orders/o1", "", nil)

	_, err := Perform(context.Background(), co, MutationSpec{
		Tag:     "admin/orders",
		Kind:    KindUpdate,
		Success: "Order status updated",
		Prime:   &detail,
		Quiet:   true,
	}, func(context.Context) (string, error) { return "shipped", nil })
	if err != nil {
		t.Fatalf("Perform error: %v", err)
	}
	res, ok := co.Cache().Peek(detail)
	if !ok || res.Data != "shipped" {
		t.Fatalf("expected primed detail, got %+v", res)
	}
	if !res.Stale {
		t.Fatalf("primed detail is still invalidated so the server value wins")
	}
	if len(notifier.got) != 0 {
		t.Fatalf("quiet mutation must not notify")
	}
}
