// Package idempotency replays the stored response of a mutating request retried with the same
// Idempotency-Key, so a double-submitted checkout places one order.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"finitefield.org/wholesale/internal/platform/kv"
)

// DefaultTTL is how long reservations and stored responses are retained.
const DefaultTTL = 24 * time.Hour

// Status is the lifecycle state of a record.
type Status string

const (
	// StatusPending means a request holds the key and has not finished.
	StatusPending Status = "pending"
	// StatusCompleted means the response is stored and can be replayed.
	StatusCompleted Status = "completed"
)

// ReservationState describes the outcome of reserving a key.
type ReservationState int

const (
	// ReservationStateNew means the caller holds the key and should run the request.
	ReservationStateNew ReservationState = iota
	// ReservationStateCompleted means a stored response should be replayed.
	ReservationStateCompleted
	// ReservationStatePending means another request is processing the key.
	ReservationStatePending
)

// Reservation is the result of Reserve.
type Reservation struct {
	State  ReservationState
	Record Record
}

// Record is the persisted state of one key.
type Record struct {
	Fingerprint     string              `json:"fingerprint"`
	Status          Status              `json:"status"`
	ResponseStatus  int                 `json:"response_status,omitempty"`
	ResponseHeaders map[string][]string `json:"response_headers,omitempty"`
	ResponseBody    []byte              `json:"response_body,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// Response is what gets stored for replays.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Store persists reservations and responses.
type Store interface {
	Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error)
	SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

// ErrFingerprintMismatch is returned when a key is reused for a different request.
var ErrFingerprintMismatch = errors.New("idempotency: key reserved for a different request")

// KVStore keeps records in the client state store, so reservations are shared by every replica
// when that store is Redis.
type KVStore struct {
	store kv.Store
}

// NewKVStore wraps store.
func NewKVStore(store kv.Store) (*KVStore, error) {
	if store == nil {
		return nil, errors.New("idempotency: store is required")
	}
	return &KVStore{store: store}, nil
}

// Reserve implements Store. The pending record is written with SetNX, so exactly one of several
// concurrent requests wins the key.
func (s *KVStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	pending := Record{Fingerprint: fingerprint, Status: StatusPending, CreatedAt: now, UpdatedAt: now}
	raw, err := encodeRecord(pending)
	if err != nil {
		return Reservation{}, err
	}

	// A record that expires between SetNX and Get is retried once.
	for attempt := 0; attempt < 2; attempt++ {
		won, err := s.store.SetNX(ctx, recordKey(key), raw, ttl)
		if err != nil {
			return Reservation{}, fmt.Errorf("idempotency: reserve: %w", err)
		}
		if won {
			return Reservation{State: ReservationStateNew, Record: pending}, nil
		}

		var existing Record
		err = kv.GetJSON(ctx, s.store, recordKey(key), &existing)
		if errors.Is(err, kv.ErrNotFound) {
			continue
		}
		if err != nil {
			return Reservation{}, fmt.Errorf("idempotency: load record: %w", err)
		}
		if existing.Fingerprint != fingerprint {
			return Reservation{}, ErrFingerprintMismatch
		}
		if existing.Status == StatusCompleted {
			return Reservation{State: ReservationStateCompleted, Record: existing}, nil
		}
		return Reservation{State: ReservationStatePending, Record: existing}, nil
	}
	return Reservation{}, errors.New("idempotency: reservation kept expiring")
}

// SaveResponse implements Store.
func (s *KVStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	record := Record{
		Fingerprint:     fingerprint,
		Status:          StatusCompleted,
		ResponseStatus:  resp.Status,
		ResponseHeaders: sanitizeHeaders(resp.Headers),
		ResponseBody:    append([]byte(nil), resp.Body...),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	var existing Record
	switch err := kv.GetJSON(ctx, s.store, recordKey(key), &existing); {
	case err == nil:
		if existing.Fingerprint != fingerprint {
			return ErrFingerprintMismatch
		}
		record.CreatedAt = existing.CreatedAt
	case !errors.Is(err, kv.ErrNotFound):
		return fmt.Errorf("idempotency: load record: %w", err)
	}
	if err := kv.SetJSON(ctx, s.store, recordKey(key), record, ttl); err != nil {
		return fmt.Errorf("idempotency: save response: %w", err)
	}
	return nil
}

// Release implements Store, freeing the key for a retry.
func (s *KVStore) Release(ctx context.Context, key string) error {
	if err := s.store.Delete(ctx, recordKey(key)); err != nil {
		return fmt.Errorf("idempotency: release: %w", err)
	}
	return nil
}

func recordKey(key string) string {
	return "idempotency:" + sha256Hex([]byte(strings.TrimSpace(key)))
}

func encodeRecord(r Record) ([]byte, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("idempotency: encode record: %w", err)
	}
	return raw, nil
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func sanitizeHeaders(header http.Header) map[string][]string {
	if len(header) == 0 {
		return nil
	}
	filtered := make(map[string][]string, len(header))
	for name, values := range header {
		canonical := http.CanonicalHeaderKey(name)
		if shouldOmitHeader(canonical) {
			continue
		}
		filtered[canonical] = append([]string(nil), values...)
	}
	if len(filtered) == 0 {
		return nil
	}
	return filtered
}

func shouldOmitHeader(name string) bool {
	switch strings.ToLower(name) {
	case "content-length", "date", "connection", "keep-alive", "set-cookie", "te", "trailers", "transfer-encoding", "upgrade":
		return true
	default:
		return false
	}
}
