package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// source layers the explicit map over the process environment over the dotenv file.
type source struct {
	explicit map[string]string
	system   bool
	dotenv   map[string]string
}

func (s source) get(key string) string {
	if v, ok := s.explicit[key]; ok {
		return strings.TrimSpace(v)
	}
	if s.system {
		if v, ok := os.LookupEnv(key); ok {
			return strings.TrimSpace(v)
		}
	}
	return strings.TrimSpace(s.dotenv[key])
}

func (s source) all() map[string]string {
	out := make(map[string]string, len(s.dotenv))
	for k, v := range s.dotenv {
		out[k] = v
	}
	if s.system {
		for _, kv := range os.Environ() {
			if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
				out[k] = v
			}
		}
	}
	for k, v := range s.explicit {
		out[k] = v
	}
	return out
}

// reader parses typed values out of a source. Malformed values are remembered by key so that Load
// can reject them instead of silently using the default.
type reader struct {
	src       source
	ctx       context.Context
	resolver  SecretResolver
	malformed []string
	secretErr error
}

func (r *reader) str(key, def string) string {
	if v := r.src.get(key); v != "" {
		return v
	}
	return def
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v := r.src.get(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.malformed = append(r.malformed, key)
		return def
	}
	return d
}

func (r *reader) integer(key string, def int) int {
	v := r.src.get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.malformed = append(r.malformed, key)
		return def
	}
	return n
}

func (r *reader) float(key string, def float64) float64 {
	v := r.src.get(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.malformed = append(r.malformed, key)
		return def
	}
	return f
}

func (r *reader) flag(key string, def bool) bool {
	switch strings.ToLower(r.src.get(key)) {
	case "":
		return def
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		r.malformed = append(r.malformed, key)
		return def
	}
}

// secret reads key and, when it holds a secret:// or sm:// reference, resolves it. Only the first
// resolution failure is kept.
func (r *reader) secret(key string) string {
	v := r.src.get(key)
	if r.secretErr != nil || !isSecretRef(v) {
		return v
	}
	ref := v
	if rest, ok := strings.CutPrefix(ref, "sm://"); ok {
		ref = "secret://" + rest
	}
	if r.resolver == nil {
		r.secretErr = &SecretError{Ref: ref, Err: errNoResolver}
		return ""
	}
	resolved, err := r.resolver.ResolveSecret(r.ctx, ref)
	if err != nil {
		r.secretErr = &SecretError{Ref: ref, Err: err}
		return ""
	}
	return strings.TrimSpace(resolved)
}

var errNoResolver = errors.New("no secret resolver configured")

func isSecretRef(v string) bool {
	return strings.HasPrefix(v, "secret://") || strings.HasPrefix(v, "sm://")
}

// readDotEnv parses KEY=VALUE lines, tolerating an "export " prefix and surrounding quotes.
// A missing file yields no values.
func readDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	out := map[string]string{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		k, v, ok := strings.Cut(line, "=")
		if k = strings.TrimSpace(k); !ok || k == "" {
			continue
		}
		out[k] = strings.Trim(strings.TrimSpace(v), `"'`)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return out, nil
}
