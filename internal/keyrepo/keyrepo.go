// Package keyrepo reads the fastd public keys registered in a git key repository.
package keyrepo

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"meshhooks/internal/execx"
	"meshhooks/internal/store"
)

// ErrUnavailable is returned when the key repository cannot be cloned or read.
var ErrUnavailable = errors.New("key repository unavailable")

var keyLine = regexp.MustCompile(`^key "([a-fA-F0-9]{64})";`)

// ParseKeys returns the keys of all `key "<hex>";` lines in r.
func ParseKeys(r io.Reader) ([]string, error) {
	var keys []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if m := keyLine.FindStringSubmatch(sc.Text()); m != nil {
			keys = append(keys, m[1])
		}
	}
	return keys, sc.Err()
}

// ReadDir collects the keys of every regular file directly inside dir.
func ReadDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var keys []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		f, err := os.Open(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		found, err := ParseKeys(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name(), err)
		}
		keys = append(keys, found...)
	}
	return keys, nil
}

// KeySet holds keys in lower case.
type KeySet map[string]struct{}

func NewKeySet(keys []string) KeySet {
	s := make(KeySet, len(keys))
	for _, k := range keys {
		s[strings.ToLower(k)] = struct{}{}
	}
	return s
}

func (s KeySet) Has(key string) bool {
	_, ok := s[strings.ToLower(key)]
	return ok
}

// Sorted returns the keys in a stable order.
func (s KeySet) Sorted() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Repo is a remote git key repository.
type Repo struct {
	URL    string
	Runner execx.Runner
	// TempDir is the parent of the clone directory; empty means os.TempDir.
	TempDir string
}

// Keys clones the repository into a private directory, reads it and removes the clone again.
func (r Repo) Keys(ctx context.Context) ([]string, error) {
	if r.URL == "" {
		return nil, fmt.Errorf("%w: no repository configured", ErrUnavailable)
	}

	dir, err := os.MkdirTemp(r.TempDir, "fastd-keys-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	if err := r.Runner.Run(ctx, "git", "clone", "--quiet", "--depth", "1", r.URL, dir); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	keys, err := ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return keys, nil
}

// Loader serves keys from a YAML cache while it is fresh and refreshes it from Repo otherwise.
type Loader struct {
	Repo      Repo
	CachePath string
	MaxAge    time.Duration
	Log       *slog.Logger
	Now       func() time.Time
}

func (l Loader) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

func (l Loader) logger() *slog.Logger {
	if l.Log != nil {
		return l.Log
	}
	return slog.Default()
}

// Load returns the known keys.
func (l Loader) Load(ctx context.Context) (KeySet, error) {
	if l.CachePath != "" {
		c, err := store.LoadKeyCache(l.CachePath)
		switch {
		case err != nil:
			l.logger().Warn("ignoring key cache", "path", l.CachePath, "err", err)
		case c.Fresh(l.Repo.URL, l.MaxAge, l.now()):
			l.logger().Debug("using key cache", "path", l.CachePath, "keys", len(c.Keys))
			return NewKeySet(c.Keys), nil
		}
	}

	keys, err := l.Repo.Keys(ctx)
	if err != nil {
		return nil, err
	}
	set := NewKeySet(keys)
	l.logger().Debug("loaded key repository", "repo", l.Repo.URL, "keys", len(set))

	if l.CachePath != "" {
		c := &store.KeyCache{Source: l.Repo.URL, Keys: set.Sorted()}
		if err := store.SaveKeyCache(l.CachePath, c); err != nil {
			l.logger().Warn("writing key cache", "path", l.CachePath, "err", err)
		}
	}
	return set, nil
}
