package model

import (
	"encoding/json"
	"time"
)

// Status is the daemon's view of a node.
type Status string

const (
	StatusUp   Status = "Up"
	StatusDown Status = "Down"
)

// Node is one entry of the control socket snapshot.
type Node struct {
	ID           string          `json:"nodeid"`
	Status       Status          `json:"status"`
	FirstSeen    time.Time       `json:"first_seen"`
	LastSeen     time.Time       `json:"last_seen"`
	LastAddress  string          `json:"last_address"`
	LastResponse json.RawMessage `json:"last_response"`
}

// Up reports whether the daemon currently considers the node reachable.
func (n Node) Up() bool {
	return n.Status == StatusUp
}

// CountUp returns the number of nodes with status Up.
func CountUp(nodes []Node) int {
	c := 0
	for _, n := range nodes {
		if n.Up() {
			c++
		}
	}
	return c
}
