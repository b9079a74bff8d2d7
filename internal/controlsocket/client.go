package controlsocket

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"meshhooks/internal/model"
)

const (
	DefaultPath    = "/tmp/requestd.sock"
	DefaultTimeout = 10 * time.Second
	EnvPath        = "REQUESTD_CTRLSOCKET"
)

var (
	// ErrConnection covers an unreachable socket and a read that did not finish in time.
	ErrConnection = errors.New("control socket unreachable")
	// ErrParse is returned when the snapshot is not a JSON list of nodes.
	ErrParse = errors.New("invalid node snapshot")
)

// Source yields one node snapshot per call.
type Source interface {
	Fetch(ctx context.Context) ([]model.Node, error)
}

// Client reads snapshots from the daemon's unix control socket. The daemon writes the whole
// node database as one JSON document and closes the connection; no request is sent.
type Client struct {
	path    string
	timeout time.Duration
}

// New creates a client. A zero timeout means DefaultTimeout.
func New(path string, timeout time.Duration) *Client {
	if path == "" {
		path = DefaultPath
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{path: path, timeout: timeout}
}

func (c *Client) Path() string { return c.path }

// Fetch connects, reads until the peer closes and decodes the snapshot.
func (c *Client) Fetch(ctx context.Context) ([]model.Node, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConnection, err)
		}
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	data, err := io.ReadAll(bufio.NewReader(conn))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrConnection, c.path, err)
	}
	return decode(data)
}

// FileSource reads a snapshot from a file, or from Stdin when Path is "-".
type FileSource struct {
	Path  string
	Stdin io.Reader
}

func (s FileSource) Fetch(ctx context.Context) ([]model.Node, error) {
	if s.Path == "-" {
		in := s.Stdin
		if in == nil {
			in = os.Stdin
		}
		return Decode(in)
	}

	f, err := os.Open(s.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return Decode(f)
}

// Decode reads a whole snapshot document from r.
func Decode(r io.Reader) ([]model.Node, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return decode(data)
}

func decode(data []byte) ([]model.Node, error) {
	var nodes []model.Node
	if err := json.Unmarshal(data, &nodes); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return nodes, nil
}
