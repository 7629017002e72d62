package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"finitefield.org/wholesale/internal/notify"
	"finitefield.org/wholesale/internal/platform/events"
	"finitefield.org/wholesale/internal/platform/observability"
)

// ErrMutationStarted is returned when a Mutation is executed twice.
var ErrMutationStarted = errors.New("query: mutation already started")

// MutationKind classifies a write for dependent invalidation and default messages.
type MutationKind string

const (
	KindCreate     MutationKind = "create"
	KindUpdate     MutationKind = "update"
	KindDelete     MutationKind = "delete"
	KindBulkDelete MutationKind = "bulk_delete"
	KindAction     MutationKind = "action"
)

// MutationState is the lifecycle of one mutation.
type MutationState string

const (
	MutationIdle    MutationState = "idle"
	MutationPending MutationState = "pending"
	MutationSuccess MutationState = "success"
	MutationError   MutationState = "error"
)

// MutationSpec describes a write. Tag and Scope select the entries invalidated on success; an
// empty Scope invalidates the tag in every scope. Subject names the resource in default messages
// ("Product" gives "Product deleted successfully" and "Failed to delete product").
type MutationSpec struct {
	Tag     string
	Scope   string
	Kind    MutationKind
	Subject string

	// Success and Failure override the default messages. Titles are optional headings.
	Success      string
	SuccessTitle string
	Failure      string
	FailureTitle string

	// Also lists further entries invalidated on success.
	Also []Filter

	// Prime, when set, receives the operation's result before the invalidation refetch runs.
	Prime *Key

	// Quiet suppresses the success notification.
	Quiet bool
}

// UserMessager is implemented by errors that carry a message fit for display.
type UserMessager interface {
	UserMessage() string
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithNotifier sets where success and failure notifications go.
func WithNotifier(n notify.Notifier) CoordinatorOption {
	return func(co *Coordinator) {
		if n != nil {
			co.notifier = n
		}
	}
}

// WithPublisher forwards invalidations to other replicas.
func WithPublisher(bus events.Bus) CoordinatorOption {
	return func(co *Coordinator) {
		co.bus = bus
	}
}

// WithCoordinatorLogger sets the logger.
func WithCoordinatorLogger(logger *zap.Logger) CoordinatorOption {
	return func(co *Coordinator) {
		if logger != nil {
			co.logger = logger
		}
	}
}

// Coordinator is the only writer of cache state on behalf of mutations: it runs the write,
// invalidates what the write affected and raises a notification.
type Coordinator struct {
	cache    *Cache
	notifier notify.Notifier
	bus      events.Bus
	logger   *zap.Logger
	outcomes metric.Int64Counter

	mu    sync.RWMutex
	rules map[string][]dependency
}

type dependency struct {
	kinds      map[MutationKind]struct{}
	dependents []string
}

// NewCoordinator constructs a coordinator over cache.
func NewCoordinator(cache *Cache, opts ...CoordinatorOption) (*Coordinator, error) {
	if cache == nil {
		return nil, errors.New("query: cache is required")
	}
	co := &Coordinator{
		cache:    cache,
		notifier: notify.LogNotifier{},
		logger:   zap.NewNop(),
		rules:    make(map[string][]dependency),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(co)
		}
	}
	co.logger = co.logger.Named("mutation")
	counter, err := cache.meter.Int64Counter(
		"query.mutation.outcomes",
		metric.WithDescription("Mutations by tag and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("query: register mutation metric: %w", err)
	}
	co.outcomes = counter
	return co, nil
}

// Cache returns the coordinated cache.
func (co *Coordinator) Cache() *Cache { return co.cache }

// Depend registers tags that must also be invalidated, in every scope, when a mutation of one of
// kinds succeeds on tag. No kinds means every kind.
func (co *Coordinator) Depend(tag string, kinds []MutationKind, dependents ...string) {
	dep := dependency{kinds: make(map[MutationKind]struct{}, len(kinds)), dependents: dependents}
	for _, k := range kinds {
		dep.kinds[k] = struct{}{}
	}
	co.mu.Lock()
	co.rules[normalizeTag(tag)] = append(co.rules[normalizeTag(tag)], dep)
	co.mu.Unlock()
}

// Dependents lists the extra tags invalidated by a mutation of kind on tag.
func (co *Coordinator) Dependents(tag string, kind MutationKind) []string {
	co.mu.RLock()
	defer co.mu.RUnlock()
	var out []string
	for _, dep := range co.rules[normalizeTag(tag)] {
		if _, ok := dep.kinds[kind]; len(dep.kinds) > 0 && !ok {
			continue
		}
		out = append(out, dep.dependents...)
	}
	return out
}

// Mutation is one invocation of a write. It moves idle -> pending -> success or error exactly
// once; retrying means starting a new Mutation.
type Mutation struct {
	co   *Coordinator
	spec MutationSpec

	mu    sync.Mutex
	state MutationState
	err   error
}

// NewMutation prepares an idle mutation.
func (co *Coordinator) NewMutation(spec MutationSpec) *Mutation {
	return &Mutation{co: co, spec: spec, state: MutationIdle}
}

// State returns the current state.
func (m *Mutation) State() MutationState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Err returns the failure of a mutation in the error state.
func (m *Mutation) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

func (m *Mutation) begin() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != MutationIdle {
		return ErrMutationStarted
	}
	m.state = MutationPending
	return nil
}

func (m *Mutation) finish(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.state = MutationError
		m.err = err
		return
	}
	m.state = MutationSuccess
}

// Perform runs op as a new mutation described by spec.
func Perform[T any](ctx context.Context, co *Coordinator, spec MutationSpec, op func(ctx context.Context) (T, error)) (T, error) {
	return Execute(ctx, co.NewMutation(spec), op)
}

// Execute runs op for m. On success the affected entries are invalidated, only after op has
// returned, then a success notification is raised. On failure nothing is invalidated and the
// error notification carries the error's user message when it has one.
func Execute[T any](ctx context.Context, m *Mutation, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := m.begin(); err != nil {
		return zero, err
	}
	co, spec := m.co, m.spec

	result, err := op(ctx)
	if err != nil {
		m.finish(err)
		co.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("tag", spec.Tag), attribute.String("outcome", "error")))
		co.notify(ctx, notify.New(notify.LevelError, spec.FailureTitle, failureMessage(spec, err)))
		return zero, err
	}

	if spec.Prime != nil {
		co.cache.prime(*spec.Prime, result)
	}
	co.invalidate(ctx, spec)
	m.finish(nil)
	co.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("tag", spec.Tag), attribute.String("outcome", "success")))
	if !spec.Quiet {
		co.notify(ctx, notify.New(notify.LevelSuccess, spec.SuccessTitle, successMessage(spec)))
	}
	return result, nil
}

// Invalidate invalidates f locally and on other replicas. Services use it for writes whose
// outcome is not surfaced as a mutation, such as the guest cart merge on login.
func (co *Coordinator) Invalidate(ctx context.Context, f Filter) {
	co.cache.Invalidate(ctx, f)
	co.publish(ctx, f)
}

func (co *Coordinator) invalidate(ctx context.Context, spec MutationSpec) {
	filters := []Filter{{Tag: spec.Tag, Scope: spec.Scope}}
	for _, tag := range co.Dependents(spec.Tag, spec.Kind) {
		filters = append(filters, Filter{Tag: tag})
	}
	filters = append(filters, spec.Also...)
	for _, f := range filters {
		co.Invalidate(ctx, f)
	}
}

func (co *Coordinator) publish(ctx context.Context, f Filter) {
	if co.bus == nil {
		return
	}
	inv := events.Invalidation{Tag: f.Tag, Scope: f.Scope, Params: f.Params}
	if err := co.bus.Publish(ctx, inv); err != nil {
		observability.FromContext(ctx).Warn("publish invalidation failed", zap.String("tag", f.Tag), zap.Error(err))
	}
}

func (co *Coordinator) notify(ctx context.Context, n notify.Notification) {
	if err := co.notifier.Notify(ctx, n); err != nil {
		co.logger.Warn("notification not delivered", zap.String("level", string(n.Level)), zap.Error(err))
	}
}

func successMessage(spec MutationSpec) string {
	if spec.Success != "" {
		return spec.Success
	}
	subject := strings.TrimSpace(spec.Subject)
	if subject == "" {
		return "Saved successfully"
	}
	return capitalize(subject) + " " + pastTense(spec.Kind) + " successfully"
}

func failureMessage(spec MutationSpec, err error) string {
	var um UserMessager
	if errors.As(err, &um) {
		if msg := strings.TrimSpace(um.UserMessage()); msg != "" {
			return msg
		}
	}
	if spec.Failure != "" {
		return spec.Failure
	}
	subject := strings.ToLower(strings.TrimSpace(spec.Subject))
	if subject == "" {
		return "Request failed"
	}
	return "Failed to " + verb(spec.Kind) + " " + subject
}

func pastTense(kind MutationKind) string {
	switch kind {
	case KindCreate:
		return "created"
	case KindDelete, KindBulkDelete:
		return "deleted"
	default:
		return "updated"
	}
}

func verb(kind MutationKind) string {
	switch kind {
	case KindCreate:
		return "create"
	case KindDelete, KindBulkDelete:
		return "delete"
	default:
		return "update"
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
