package secrets

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const latestVersion = "latest"

// Ref is a parsed secret reference such as secret://session-hash?version=3&project=shop-prod.
// The legacy sm:// scheme is accepted and normalised to secret://.
type Ref struct {
	Name    string
	Version string
	Project string
}

// ParseRef parses a secret reference.
func ParseRef(raw string) (Ref, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Ref{}, errors.New("secrets: empty reference")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Ref{}, fmt.Errorf("secrets: invalid reference %q: %w", raw, err)
	}
	switch u.Scheme {
	case "secret", "sm":
	default:
		return Ref{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return Ref{}, fmt.Errorf("secrets: missing secret name in %q", raw)
	}
	q := u.Query()
	ref := Ref{
		Name:    name,
		Version: strings.TrimSpace(q.Get("version")),
		Project: strings.TrimSpace(q.Get("project")),
	}
	if ref.Version == "" {
		ref.Version = latestVersion
	}
	return ref, nil
}

// String renders the reference without version or project.
func (r Ref) String() string { return "secret://" + r.Name }

func (r Ref) cacheKey() string { return r.String() + "@" + r.Version }

func (r Ref) resource(defaultProject string) (string, bool) {
	project := r.Project
	if project == "" {
		project = defaultProject
	}
	if project == "" {
		return "", false
	}
	return "projects/" + project + "/secrets/" + r.Name + "/versions/" + r.Version, true
}
