// Package hooks implements the per-event hooks the daemon runs with one node's last response on stdin.
package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"meshhooks/internal/keyrepo"
	"meshhooks/internal/respondd"
)

// ErrInvalidInput is returned when stdin does not hold a JSON object.
var ErrInvalidInput = errors.New("input is not a JSON object")

// IncompleteError reports a node whose response lacks a field the hook needs. Hooks treat it as a
// soft skip.
type IncompleteError struct {
	NodeID string // empty when the id itself could not be read
	Err    error
}

func (e *IncompleteError) Error() string {
	id := e.NodeID
	if id == "" {
		id = "unknown node"
	}
	return fmt.Sprintf("%s sent incomplete response. ignoring. %v", id, e.Err)
}

func (e *IncompleteError) Unwrap() error { return e.Err }

// Node is one decoded hook input.
type Node struct {
	Raw  []byte
	Resp respondd.Response
}

// ReadNode reads a single JSON object from r.
func ReadNode(r io.Reader) (Node, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return Node{}, err
	}
	raw = bytes.TrimSpace(raw)
	if !json.Valid(raw) || len(raw) == 0 || raw[0] != '{' {
		return Node{}, ErrInvalidInput
	}
	return Node{Raw: raw, Resp: respondd.Parse(raw)}, nil
}

func (n Node) hostname() (string, error) {
	return n.Resp.String("nodeinfo.hostname")
}

func (n Node) incomplete(err error) error {
	id, _ := n.Resp.String("nodeinfo.node_id")
	return &IncompleteError{NodeID: id, Err: err}
}

// Example prints the node with sorted keys and names it.
func Example(w io.Writer, n Node) error {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(n.Raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(doc); err != nil {
		return err
	}

	hostname, err := n.hostname()
	if err != nil {
		return n.incomplete(err)
	}
	_, err = fmt.Fprintf(w, "script was triggered for %s\n", hostname)
	return err
}

// NewNode announces a node seen for the first time.
func NewNode(w io.Writer, n Node) error {
	hostname, err := n.hostname()
	if err != nil {
		return n.incomplete(err)
	}
	_, err = fmt.Fprintf(w, "New Node: %s\n", hostname)
	return err
}

// KeySource yields the registered fastd keys.
type KeySource interface {
	Load(ctx context.Context) (keyrepo.KeySet, error)
}

// FastdCheck is the outcome of FastdKey.
type FastdCheck struct {
	NodeID   string
	Hostname string
	Contact  string
	Key      string
	Known    bool
}

// FastdKey reports a node whose fastd public key is not registered.
func FastdKey(ctx context.Context, w io.Writer, n Node, keys KeySource) (FastdCheck, error) {
	var c FastdCheck
	for _, f := range []struct {
		path string
		dst  *string
	}{
		{"nodeinfo.node_id", &c.NodeID},
		{"nodeinfo.software.fastd.public_key", &c.Key},
		{"nodeinfo.hostname", &c.Hostname},
		{"nodeinfo.owner.contact", &c.Contact},
	} {
		v, err := n.Resp.String(f.path)
		if err != nil {
			return c, &IncompleteError{NodeID: c.NodeID, Err: err}
		}
		*f.dst = v
	}

	known, err := keys.Load(ctx)
	if err != nil {
		return c, fmt.Errorf("load fastd keys: %w", err)
	}
	if c.Known = known.Has(c.Key); c.Known {
		return c, nil
	}
	_, err = fmt.Fprintf(w, "%s is not known and not registered\n", c.Hostname)
	return c, err
}
