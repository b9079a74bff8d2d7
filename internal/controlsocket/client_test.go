package controlsocket

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const snapshot = `[
	{"nodeid": "a", "status": "Up", "first_seen": "2020-04-01T10:00:00Z", "last_seen": "2020-04-02T10:00:00Z",
	 "last_address": "fe80::1", "last_response": {"nodeinfo": {"hostname": "node-a"}}},
	{"nodeid": "b", "status": "Down", "first_seen": "2020-04-01T10:00:00Z", "last_seen": "2020-04-02T10:00:00Z",
	 "last_address": "fe80::2", "last_response": {}}
]`

// serve answers every connection with payload and closes it, unless hold is set.
func serve(t *testing.T, payload string, hold bool) string {
	t.Helper()

	// unix socket paths are length limited, t.TempDir can get too long
	dir, err := os.MkdirTemp("", "cs")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	path := filepath.Join(dir, "requestd.sock")
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)

	var mu sync.Mutex
	var held []net.Conn
	t.Cleanup(func() {
		_ = ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range held {
			_ = c.Close()
		}
	})

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			if hold {
				mu.Lock()
				held = append(held, conn)
				mu.Unlock()
				continue
			}
			_, _ = conn.Write([]byte(payload))
			_ = conn.Close()
		}
	}()
	return path
}

func TestClient_Fetch(t *testing.T) {
	path := serve(t, snapshot, false)

	nodes, err := New(path, time.Second).Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "a", nodes[0].ID)
	assert.True(t, nodes[0].Up())
	assert.False(t, nodes[1].Up())
}

func TestClient_Fetch_Unreachable(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing.sock"), time.Second).Fetch(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConnection))
}

func TestClient_Fetch_InvalidJSON(t *testing.T) {
	path := serve(t, `[{"nodeid": `, false)

	_, err := New(path, time.Second).Fetch(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrParse))
}

func TestClient_Fetch_StuckPeerTimesOut(t *testing.T) {
	path := serve(t, "", true)

	start := time.Now()
	_, err := New(path, 100*time.Millisecond).Fetch(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConnection))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestClient_Defaults(t *testing.T) {
	c := New("", 0)
	assert.Equal(t, DefaultPath, c.Path())
	assert.Equal(t, DefaultTimeout, c.timeout)
}

func TestFileSource(t *testing.T) {
	nodes, err := FileSource{Path: "-", Stdin: strings.NewReader(snapshot)}.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, nodes, 2)

	path := filepath.Join(t.TempDir(), "nodes.json")
	require.NoError(t, os.WriteFile(path, []byte(snapshot), 0o644))
	nodes, err = FileSource{Path: path}.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, nodes, 2)

	_, err = FileSource{Path: "-", Stdin: strings.NewReader("{}")}.Fetch(context.Background())
	assert.True(t, errors.Is(err, ErrParse))
}
