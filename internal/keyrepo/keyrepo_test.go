package keyrepo

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meshhooks/internal/logger"
	"meshhooks/internal/store"
)

var (
	keyA = strings.Repeat("a1", 32)
	keyB = strings.Repeat("B2", 32)
)

// fakeGit writes files into the clone target instead of running git.
type fakeGit struct {
	files map[string]string
	err   error
	calls [][]string
	dirs  []string
}

func (f *fakeGit) Run(_ context.Context, name string, args ...string) error {
	f.calls = append(f.calls, append([]string{name}, args...))
	if f.err != nil {
		return f.err
	}
	dir := args[len(args)-1]
	f.dirs = append(f.dirs, dir)
	for rel, content := range f.files {
		path := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func TestParseKeys(t *testing.T) {
	in := strings.Join([]string{
		`# node-a`,
		`key "` + keyA + `";`,
		`  key "` + keyB + `";`,
		`key "` + keyB[:10] + `";`,
		`key "` + keyB + `"; # trailing comment`,
		`remote "srv01" port 10000;`,
	}, "\n")

	keys, err := ParseKeys(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []string{keyA, keyB}, keys)
}

func TestKeySet_CaseInsensitive(t *testing.T) {
	s := NewKeySet([]string{keyB})

	assert.True(t, s.Has(strings.ToLower(keyB)))
	assert.True(t, s.Has(keyB))
	assert.False(t, s.Has(keyA))
	assert.Equal(t, []string{strings.ToLower(keyB)}, s.Sorted())
}

func TestRepo_Keys(t *testing.T) {
	git := &fakeGit{files: map[string]string{
		"node-a":        `key "` + keyA + `";`,
		"node-b":        `key "` + keyB + `";`,
		"nested/node-c": `key "` + strings.Repeat("c3", 32) + `";`,
		".git/config":   `key "` + strings.Repeat("d4", 32) + `";`,
		"README":        "fastd keys of all nodes",
	}}
	parent := t.TempDir()

	keys, err := Repo{URL: "git@example.org:fastd-keys", Runner: git, TempDir: parent}.Keys(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{keyA, keyB}, keys)

	require.Len(t, git.calls, 1)
	assert.Equal(t, []string{"git", "clone", "--quiet", "--depth", "1", "git@example.org:fastd-keys"}, git.calls[0][:6])
	assert.True(t, strings.HasPrefix(git.dirs[0], parent))

	entries, err := os.ReadDir(parent)
	require.NoError(t, err)
	assert.Empty(t, entries, "clone directory must be removed")
}

func TestRepo_KeysUsesFreshDirectoryPerCall(t *testing.T) {
	git := &fakeGit{files: map[string]string{"node-a": `key "` + keyA + `";`}}
	repo := Repo{URL: "repo", Runner: git, TempDir: t.TempDir()}

	_, err := repo.Keys(context.Background())
	require.NoError(t, err)
	_, err = repo.Keys(context.Background())
	require.NoError(t, err)

	require.Len(t, git.dirs, 2)
	assert.NotEqual(t, git.dirs[0], git.dirs[1])
}

func TestRepo_CloneFails(t *testing.T) {
	git := &fakeGit{err: errors.New("permission denied (publickey)")}

	_, err := Repo{URL: "repo", Runner: git, TempDir: t.TempDir()}.Keys(context.Background())
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "publickey")
}

func TestRepo_NoURL(t *testing.T) {
	_, err := Repo{Runner: &fakeGit{}}.Keys(context.Background())
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestLoader_WritesAndUsesCache(t *testing.T) {
	cache := filepath.Join(t.TempDir(), "keys.yaml")
	git := &fakeGit{files: map[string]string{"node-a": `key "` + keyA + `";`}}
	l := Loader{
		Repo:      Repo{URL: "repo", Runner: git, TempDir: t.TempDir()},
		CachePath: cache,
		MaxAge:    time.Hour,
		Log:       logger.Discard(),
	}

	keys, err := l.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, keys.Has(keyA))

	c, err := store.LoadKeyCache(cache)
	require.NoError(t, err)
	assert.Equal(t, "repo", c.Source)
	assert.Equal(t, []string{keyA}, c.Keys)

	// served from the cache, git is not called again
	git.err = errors.New("offline")
	keys, err = l.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, keys.Has(keyA))
	assert.Len(t, git.calls, 1)
}

func TestLoader_StaleCacheRefreshes(t *testing.T) {
	cache := filepath.Join(t.TempDir(), "keys.yaml")
	require.NoError(t, store.SaveKeyCache(cache, &store.KeyCache{Source: "repo", Keys: []string{keyB}}))

	git := &fakeGit{files: map[string]string{"node-a": `key "` + keyA + `";`}}
	l := Loader{
		Repo:      Repo{URL: "repo", Runner: git, TempDir: t.TempDir()},
		CachePath: cache,
		MaxAge:    time.Minute,
		Log:       logger.Discard(),
		Now:       func() time.Time { return time.Now().Add(2 * time.Minute) },
	}

	keys, err := l.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, keys.Has(keyA))
	assert.False(t, keys.Has(keyB))
	assert.Len(t, git.calls, 1)
}

func TestLoader_RepoFailureIsAnError(t *testing.T) {
	l := Loader{
		Repo: Repo{URL: "repo", Runner: &fakeGit{err: errors.New("offline")}, TempDir: t.TempDir()},
		Log:  logger.Discard(),
	}

	_, err := l.Load(context.Background())
	require.ErrorIs(t, err, ErrUnavailable)
}
