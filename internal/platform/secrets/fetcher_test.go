package secrets

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const sessionHashResource = "projects/shop/secrets/session-hash/versions/latest"

func TestParseRef(t *testing.T) {
	cases := []struct {
		in      string
		want    Ref
		wantErr bool
	}{
		{in: "secret://session-hash", want: Ref{Name: "session-hash", Version: "latest"}},
		{in: "sm://redis/password?version=4", want: Ref{Name: "redis/password", Version: "4"}},
		{in: " secret://nats?project=ops ", want: Ref{Name: "nats", Version: "latest", Project: "ops"}},
		{in: "vault://thing", wantErr: true},
		{in: "secret://", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseRef(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ParseRef(%q) expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseRef(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseRef(%q) = %+v, want %+v", tc.in, got, tc.want)
		}
	}
}

func TestResolveCachesUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	client.values[sessionHashResource] = "remote"

	f, err := NewFetcher(ctx, WithSecretManagerClient(client), WithProject("shop"), WithFallbackFile(""))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	for i := 0; i < 3; i++ {
		got, err := f.Resolve(ctx, "secret://session-hash")
		if err != nil || got != "remote" {
			t.Fatalf("Resolve = %q, %v", got, err)
		}
	}
	if n := client.count(sessionHashResource); n != 1 {
		t.Fatalf("expected one remote call, got %d", n)
	}

	f.Invalidate("sm://session-hash")
	if _, err := f.Resolve(ctx, "secret://session-hash"); err != nil {
		t.Fatalf("Resolve after invalidate: %v", err)
	}
	if n := client.count(sessionHashResource); n != 2 {
		t.Fatalf("expected refetch after invalidate, got %d calls", n)
	}
}

func TestResolveRefetchesAfterCacheTTL(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	client.values[sessionHashResource] = "v1"

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	f, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithProject("shop"),
		WithFallbackFile(""),
		WithCacheTTL(time.Minute),
	)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	f.now = func() time.Time { return now }

	if got, _ := f.Resolve(ctx, "secret://session-hash"); got != "v1" {
		t.Fatalf("expected v1, got %q", got)
	}
	client.set(sessionHashResource, "v2")
	now = now.Add(30 * time.Second)
	if got, _ := f.Resolve(ctx, "secret://session-hash"); got != "v1" {
		t.Fatalf("expected cached v1, got %q", got)
	}
	now = now.Add(31 * time.Second)
	if got, _ := f.Resolve(ctx, "secret://session-hash"); got != "v2" {
		t.Fatalf("expected rotated v2, got %q", got)
	}
}

func TestResolveUsesProjectAndVersionFromRef(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	client.values["projects/ops/secrets/redis/versions/3"] = "pinned"

	f, err := NewFetcher(ctx, WithSecretManagerClient(client), WithProject("shop"), WithFallbackFile(""))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	got, err := f.Resolve(ctx, "secret://redis?version=3&project=ops")
	if err != nil || got != "pinned" {
		t.Fatalf("Resolve = %q, %v", got, err)
	}
}

func TestResolveFallsBackToLocalFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	body := strings.Join([]string{
		"# local development",
		"sm://session-hash=local-secret",
		`secret://nats-token="quoted value"`,
		"not a reference=ignored",
	}, "\n")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write fallback: %v", err)
	}

	client := newFakeClient()
	client.errs[sessionHashResource] = status.Error(codes.PermissionDenied, "denied")

	f, err := NewFetcher(ctx, WithSecretManagerClient(client), WithProject("shop"), WithFallbackFile(path))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	got, err := f.ResolveSecret(ctx, "secret://session-hash")
	if err != nil || got != "local-secret" {
		t.Fatalf("ResolveSecret = %q, %v", got, err)
	}
	got, err = f.Resolve(ctx, "secret://nats-token?version=7")
	if err != nil || got != "quoted value" {
		t.Fatalf("Resolve quoted = %q, %v", got, err)
	}
}

func TestResolveWithoutProjectReadsOnlyLocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets")
	if err := os.WriteFile(path, []byte("secret://csrf=abc\n"), 0o600); err != nil {
		t.Fatalf("write fallback: %v", err)
	}
	f, err := NewFetcher(context.Background(), WithFallbackFile(path))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	if got, err := f.Resolve(context.Background(), "secret://csrf"); err != nil || got != "abc" {
		t.Fatalf("Resolve = %q, %v", got, err)
	}
	if _, err := f.Resolve(context.Background(), "secret://missing"); err == nil {
		t.Fatalf("expected error for missing secret")
	}
}

func TestResolveReturnsHardRemoteErrors(t *testing.T) {
	client := newFakeClient()
	client.errs[sessionHashResource] = status.Error(codes.InvalidArgument, "bad name")

	f, err := NewFetcher(context.Background(), WithSecretManagerClient(client), WithProject("shop"), WithFallbackFile(""))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	_, err = f.Resolve(context.Background(), "secret://session-hash")
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected wrapped InvalidArgument, got %v", err)
	}
}

type fakeClient struct {
	mu     sync.Mutex
	values map[string]string
	errs   map[string]error
	calls  map[string]int
}

func newFakeClient() *fakeClient {
	return &fakeClient{values: map[string]string{}, errs: map[string]error{}, calls: map[string]int{}}
}

func (c *fakeClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	name := req.GetName()
	c.calls[name]++
	if err := c.errs[name]; err != nil {
		return nil, err
	}
	v, ok := c.values[name]
	if !ok {
		return nil, status.Error(codes.NotFound, "no such secret")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{Name: name, Payload: &secretmanagerpb.SecretPayload{Data: []byte(v)}}, nil
}

func (c *fakeClient) Close() error { return nil }

func (c *fakeClient) set(name, value string) {
	c.mu.Lock()
	c.values[name] = value
	c.mu.Unlock()
}

func (c *fakeClient) count(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[name]
}
