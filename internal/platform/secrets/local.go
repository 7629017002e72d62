package secrets

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
)

// localFile holds secrets for development machines without cloud credentials. Each non-comment
// line is REF=VALUE, where REF is an unversioned secret reference and VALUE may be double quoted.
// Every version of a secret resolves to the same local value.
type localFile struct {
	path string

	once   sync.Once
	values map[string]string
	err    error
}

func (l *localFile) lookup(ref Ref) (string, bool, error) {
	l.once.Do(l.load)
	if l.err != nil {
		return "", false, l.err
	}
	v, ok := l.values[ref.String()]
	return v, ok, nil
}

func (l *localFile) load() {
	l.values = map[string]string{}
	if l.path == "" {
		return
	}
	f, err := os.Open(l.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return
	case err != nil:
		l.err = fmt.Errorf("secrets: open %s: %w", l.path, err)
		return
	}
	defer f.Close()
	if err := parseLocal(f, l.values); err != nil {
		l.err = fmt.Errorf("secrets: read %s: %w", l.path, err)
	}
}

func parseLocal(r io.Reader, into map[string]string) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		name, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		ref, err := ParseRef(name)
		if err != nil {
			continue
		}
		value = strings.TrimSpace(value)
		if unq, err := strconv.Unquote(value); err == nil && strings.HasPrefix(value, `"`) {
			value = unq
		}
		into[ref.String()] = value
	}
	return sc.Err()
}
