package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadKeyCache_MissingFile_ReturnsEmpty(t *testing.T) {
	t.Parallel()

	c, err := LoadKeyCache(filepath.Join(t.TempDir(), "keys.yaml"))
	if err != nil {
		t.Fatalf("LoadKeyCache: %v", err)
	}
	if c == nil {
		t.Fatalf("cache is nil")
	}
	if len(c.Keys) != 0 {
		t.Fatalf("keys=%d", len(c.Keys))
	}
	if c.Fresh("", time.Hour, time.Now()) {
		t.Fatalf("empty cache must not be fresh")
	}
}

func TestSaveKeyCache_RoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cache", "keys.yaml")
	in := &KeyCache{Source: "https://git.example.org/keys.git", Keys: []string{"aa", "bb"}}
	if err := SaveKeyCache(path, in); err != nil {
		t.Fatalf("SaveKeyCache: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0o644 {
		t.Fatalf("mode=%o", info.Mode().Perm())
	}

	out, err := LoadKeyCache(path)
	if err != nil {
		t.Fatalf("LoadKeyCache: %v", err)
	}
	if len(out.Keys) != 2 || out.Keys[1] != "bb" {
		t.Fatalf("keys=%v", out.Keys)
	}
	if out.UpdatedAt.IsZero() {
		t.Fatalf("updated_at not set")
	}
	if !out.Fresh(in.Source, time.Hour, time.Now()) {
		t.Fatalf("cache should be fresh")
	}
}

func TestKeyCache_Fresh(t *testing.T) {
	t.Parallel()

	now := time.Date(2020, 4, 2, 12, 0, 0, 0, time.UTC)
	c := &KeyCache{UpdatedAt: now.Add(-30 * time.Minute), Source: "repo"}

	if !c.Fresh("repo", time.Hour, now) {
		t.Fatalf("expected fresh")
	}
	if c.Fresh("repo", 10*time.Minute, now) {
		t.Fatalf("expected stale")
	}
	if c.Fresh("other", time.Hour, now) {
		t.Fatalf("cache of another repository must not be used")
	}
	var nilCache *KeyCache
	if nilCache.Fresh("repo", time.Hour, now) {
		t.Fatalf("nil cache must not be fresh")
	}
}

func TestLoadKeyCache_Invalid(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "keys.yaml")
	if err := os.WriteFile(path, []byte("keys: {"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := LoadKeyCache(path); err == nil {
		t.Fatalf("expected error")
	}
}
