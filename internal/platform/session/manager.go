// Package session keeps the browser session in a signed, encrypted cookie. The cookie carries
// only the session ID and its timestamps; the state a session owns (bearer token, guest cart,
// notifications) lives in the kv store under that ID.
package session

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
)

const (
	defaultCookieName  = "wholesale_session"
	defaultLifetime    = 30 * 24 * time.Hour
	defaultIdleTimeout = 7 * 24 * time.Hour
	idBytes            = 24
)

var (
	// ErrExpired is returned by Load for a session past its idle or absolute limit. The expired
	// session is returned alongside so its server-side state can be purged.
	ErrExpired = errors.New("session: expired")
	// ErrInvalidConfig is returned by NewManager for missing keys.
	ErrInvalidConfig = errors.New("session: invalid config")
)

// KeyPair is a hash key and an optional block (encryption) key.
type KeyPair struct {
	Hash  []byte
	Block []byte
}

// Config controls the cookie and the session lifetime.
type Config struct {
	CookieName   string
	HashKey      []byte
	BlockKey     []byte
	CookieSecure bool
	// PreviousKeys still decode cookies issued before a key rotation. New cookies always use
	// HashKey and BlockKey.
	PreviousKeys []KeyPair

	// IdleTimeout ends a session that made no request for this long.
	IdleTimeout time.Duration
	// Lifetime ends a session this long after it began, however active.
	Lifetime time.Duration
	Now      func() time.Time
}

type payload struct {
	ID      string    `json:"id"`
	Started time.Time `json:"started"`
	Seen    time.Time `json:"seen"`
	CSRF    string    `json:"csrf,omitempty"`
}

// Session is the state of one browser session for the current request.
type Session struct {
	p     payload
	fresh bool
}

// Manager encodes sessions into cookies and back.
type Manager struct {
	name     string
	secure   bool
	idle     time.Duration
	lifetime time.Duration
	now      func() time.Time
	codecs   []securecookie.Codec
}

// NewManager validates cfg and builds a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.HashKey) == 0 {
		return nil, fmt.Errorf("%w: hash key is required", ErrInvalidConfig)
	}
	m := &Manager{
		name:     cfg.CookieName,
		secure:   cfg.CookieSecure,
		idle:     cfg.IdleTimeout,
		lifetime: cfg.Lifetime,
		now:      cfg.Now,
	}
	if m.name == "" {
		m.name = defaultCookieName
	}
	if m.idle <= 0 {
		m.idle = defaultIdleTimeout
	}
	if m.lifetime <= 0 {
		m.lifetime = defaultLifetime
	}
	if m.now == nil {
		m.now = time.Now
	}

	pairs := [][]byte{cfg.HashKey, nonEmpty(cfg.BlockKey)}
	for _, prev := range cfg.PreviousKeys {
		if len(prev.Hash) == 0 {
			return nil, fmt.Errorf("%w: previous key without hash key", ErrInvalidConfig)
		}
		pairs = append(pairs, prev.Hash, nonEmpty(prev.Block))
	}
	for _, codec := range securecookie.CodecsFromPairs(pairs...) {
		sc := codec.(*securecookie.SecureCookie)
		sc.SetSerializer(securecookie.JSONEncoder{})
		sc.MaxAge(int(m.lifetime / time.Second))
		m.codecs = append(m.codecs, sc)
	}
	return m, nil
}

// Load decodes the request's session. A missing, tampered or undecodable cookie gives a fresh
// session; an expired one gives ErrExpired together with the expired session.
func (m *Manager) Load(r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(m.name)
	if err != nil {
		return m.New(), nil
	}
	var p payload
	if err := securecookie.DecodeMulti(m.name, cookie.Value, &p, m.codecs...); err != nil || p.ID == "" {
		return m.New(), nil
	}
	sess := &Session{p: p}
	if m.expired(p, m.now().UTC()) {
		return sess, ErrExpired
	}
	return sess, nil
}

// New starts a session with a random ID.
func (m *Manager) New() *Session {
	now := m.now().UTC()
	id, err := randomToken(idBytes)
	if err != nil {
		// crypto/rand does not fail on supported platforms.
		panic(err)
	}
	return &Session{p: payload{ID: id, Started: now, Seen: now}, fresh: true}
}

// Save marks the session as seen now and sets its cookie. The cookie expires with the session's
// absolute lifetime. It must run before the response body is written.
func (m *Manager) Save(w http.ResponseWriter, sess *Session) error {
	if sess == nil {
		return errors.New("session: nil session")
	}
	sess.p.Seen = m.now().UTC()
	value, err := securecookie.EncodeMulti(m.name, sess.p, m.codecs...)
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}
	expires := sess.p.Started.Add(m.lifetime)
	maxAge := int(expires.Sub(sess.p.Seen).Round(time.Second) / time.Second)
	if maxAge <= 0 {
		maxAge = -1
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		MaxAge:   maxAge,
		Secure:   m.secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	sess.fresh = false
	return nil
}

func (m *Manager) expired(p payload, now time.Time) bool {
	if now.Sub(p.Started) > m.lifetime {
		return true
	}
	seen := p.Seen
	if seen.IsZero() {
		seen = p.Started
	}
	return now.Sub(seen) > m.idle
}

// ID returns the session identifier that scopes its server-side state.
func (s *Session) ID() string { return s.p.ID }

// StartedAt returns when the session began.
func (s *Session) StartedAt() time.Time { return s.p.Started }

// Fresh reports whether the session was created by this request.
func (s *Session) Fresh() bool { return s.fresh }

// EnsureCSRFToken returns the session's CSRF token, creating it on first use.
func (s *Session) EnsureCSRFToken() (string, error) {
	if s.p.CSRF == "" {
		token, err := randomToken(32)
		if err != nil {
			return "", err
		}
		s.p.CSRF = token
	}
	return s.p.CSRF, nil
}

// CSRFToken returns the CSRF token, empty until EnsureCSRFToken runs.
func (s *Session) CSRFToken() string { return s.p.CSRF }

func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("session: random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func nonEmpty(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
