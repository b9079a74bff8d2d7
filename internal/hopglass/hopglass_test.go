package hopglass

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meshhooks/internal/logger"
	"meshhooks/internal/model"
	"meshhooks/internal/report"
)

var now = time.Date(2020, 4, 2, 12, 0, 0, 0, time.UTC)

func node(id string, status model.Status, resp string) model.Node {
	return model.Node{
		ID:           id,
		Status:       status,
		FirstSeen:    now.Add(-24 * time.Hour),
		LastSeen:     now,
		LastResponse: json.RawMessage(resp),
	}
}

// meshResponse builds a last_response with one wireless and one tunnel interface per node.
// neighbours maps local interface -> remote interface -> tq.
func meshResponse(id string, neighbours map[string]map[string]int) string {
	nb := map[string]any{}
	for local, remotes := range neighbours {
		rs := map[string]any{}
		for remote, tq := range remotes {
			rs[remote] = map[string]any{"tq": tq, "lastseen": 0.5, "best": true}
		}
		nb[local] = map[string]any{"neighbours": rs}
	}
	doc := map[string]any{
		"nodeinfo": map[string]any{
			"node_id":  id,
			"hostname": "host-" + id,
			"network": map[string]any{
				"mac": "mac-" + id,
				"mesh": map[string]any{"bat0": map[string]any{"interfaces": map[string]any{
					"wireless": []string{"wifi-" + id},
					"tunnel":   []string{"vpn-" + id},
				}}},
			},
		},
		"statistics": map[string]any{"uptime": 10},
		"neighbours": map[string]any{"batadv": nb},
	}
	raw, _ := json.Marshal(doc)
	return string(raw)
}

func TestQuality(t *testing.T) {
	tests := map[string]struct {
		raw  float64
		want float64
	}{
		"zero is best":   {raw: 0, want: 1},
		"full tq":        {raw: 255, want: 1},
		"half tq":        {raw: 128, want: 255.0 / 128},
		"very poor link": {raw: 1, want: 255},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.want, Quality(test.raw))
		})
	}
}

func TestBuildGraph_TwoNodes(t *testing.T) {
	nodes := []model.Node{
		node("a", model.StatusUp, meshResponse("a", map[string]map[string]int{"wifi-a": {"wifi-b": 0}})),
		node("b", model.StatusUp, meshResponse("b", nil)),
	}

	g := BuildGraph(nodes, now, report.New(logger.Discard()))

	require.Len(t, g.Batadv.Nodes, 2)
	assert.Equal(t, GraphNode{ID: "mac-a", NodeID: "a"}, g.Batadv.Nodes[0])
	assert.Equal(t, GraphNode{ID: "mac-b", NodeID: "b"}, g.Batadv.Nodes[1])
	require.Len(t, g.Batadv.Links, 1)
	assert.Equal(t, Link{Source: 0, Target: 1, TQ: 1, Type: "wireless"}, g.Batadv.Links[0])
	assert.True(t, g.Batadv.Directed)
	assert.Equal(t, GraphVersion, g.Version)
}

func TestBuildGraph_TunnelIsFastd(t *testing.T) {
	nodes := []model.Node{
		node("a", model.StatusUp, meshResponse("a", map[string]map[string]int{"vpn-a": {"vpn-b": 128}})),
		node("b", model.StatusUp, meshResponse("b", map[string]map[string]int{"vpn-b": {"vpn-a": 255}})),
	}

	g := BuildGraph(nodes, now, nil)

	require.Len(t, g.Batadv.Links, 2)
	assert.Equal(t, Link{Source: 0, Target: 1, TQ: 255.0 / 128, Type: "fastd"}, g.Batadv.Links[0])
	assert.Equal(t, Link{Source: 1, Target: 0, TQ: 1, Type: "fastd"}, g.Batadv.Links[1])
}

func TestBuildGraph_Invariants(t *testing.T) {
	nodes := []model.Node{
		node("a", model.StatusUp, meshResponse("a", map[string]map[string]int{
			"wifi-a": {"wifi-b": 200, "wifi-down": 100, "wifi-unknown": 50},
			"vpn-a":  {"vpn-c": 10},
		})),
		node("b", model.StatusUp, meshResponse("b", map[string]map[string]int{"wifi-b": {"wifi-a": 180}})),
		node("down", model.StatusDown, meshResponse("down", map[string]map[string]int{"wifi-down": {"wifi-a": 1}})),
		node("broken", model.StatusUp, `{"nodeinfo": {"node_id": "broken"}}`),
		node("c", model.StatusUp, meshResponse("c", map[string]map[string]int{"vpn-c": {"vpn-a": 20}})),
	}

	rep := report.New(logger.Discard())
	g := BuildGraph(nodes, now, rep)

	assert.LessOrEqual(t, len(g.Batadv.Nodes), model.CountUp(nodes))
	require.Len(t, g.Batadv.Nodes, 3)

	seen := map[string]bool{}
	for _, n := range g.Batadv.Nodes {
		assert.False(t, seen[n.NodeID], "duplicate graph node %s", n.NodeID)
		seen[n.NodeID] = true
	}
	for _, l := range g.Batadv.Links {
		assert.True(t, l.Source >= 0 && l.Source < len(g.Batadv.Nodes), "source %d", l.Source)
		assert.True(t, l.Target >= 0 && l.Target < len(g.Batadv.Nodes), "target %d", l.Target)
	}
	assert.Len(t, g.Batadv.Links, 4)

	require.Equal(t, 1, rep.SkipCount())
	assert.Equal(t, "broken", rep.Skips()[0].NodeID)
	assert.Equal(t, "missing nodeinfo.network.mac", rep.Skips()[0].Reason)
}

func TestBuildGraph_BrokenNeighbourKeepsEarlierLinks(t *testing.T) {
	a := `{
		"nodeinfo": {"node_id": "a", "network": {"mac": "mac-a", "mesh": {"bat0": {"interfaces": {"wireless": ["wifi-a"]}}}}},
		"neighbours": {"batadv": {"wifi-a": {"neighbours": {
			"wifi-b": {"tq": 255},
			"wifi-c": {"lastseen": 1}
		}}}}
	}`
	nodes := []model.Node{
		node("a", model.StatusUp, a),
		node("b", model.StatusUp, meshResponse("b", nil)),
		node("c", model.StatusUp, meshResponse("c", nil)),
	}

	rep := report.New(nil)
	g := BuildGraph(nodes, now, rep)

	require.Len(t, g.Batadv.Links, 1)
	assert.Equal(t, 1, g.Batadv.Links[0].Target)
	require.Equal(t, 1, rep.SkipCount())
	assert.Equal(t, "missing neighbours.batadv.wifi-a.neighbours.wifi-c.tq", rep.Skips()[0].Reason)
}

func TestBuildGraph_MissingNeighboursIsAdvisory(t *testing.T) {
	resp := `{"nodeinfo": {"node_id": "a", "network": {"mac": "mac-a", "mesh": {"bat0": {"interfaces": {"other": ["eth-a"]}}}}}}`
	rep := report.New(nil)
	g := BuildGraph([]model.Node{node("a", model.StatusUp, resp)}, now, rep)

	assert.Len(t, g.Batadv.Nodes, 1)
	assert.Empty(t, g.Batadv.Links)
	require.Equal(t, 1, rep.SkipCount())
	assert.Equal(t, "missing neighbours.batadv", rep.Skips()[0].Reason)
}

func TestGraph_JSON(t *testing.T) {
	g := BuildGraph(nil, now, nil)
	raw, err := json.Marshal(g)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"timestamp": "2020-04-02T12:00:00Z",
		"version": 1,
		"batadv": {"multigraph": false, "directed": true, "nodes": [], "links": []}
	}`, string(raw))
}

func TestBuildNodes(t *testing.T) {
	nodes := []model.Node{
		node("a", model.StatusUp, meshResponse("a", map[string]map[string]int{"wifi-a": {"vpn-b": 0}})),
		node("b", model.StatusUp, meshResponse("b", map[string]map[string]int{"vpn-b": {"wifi-a": 51}})),
		node("down", model.StatusDown, meshResponse("down", map[string]map[string]int{"wifi-down": {"wifi-a": 1}})),
		node("partial", model.StatusUp, `{"nodeinfo": {"node_id": "partial", "hostname": "p"}}`),
	}

	rep := report.New(nil)
	list, graph := BuildNodes(nodes, now, rep)

	assert.Equal(t, NodesVersion, list.Version)
	require.Len(t, list.Nodes, 4)
	assert.True(t, list.Nodes[0].Flags.Online)
	assert.False(t, list.Nodes[2].Flags.Online)
	assert.JSONEq(t, `{"uptime": 10}`, string(list.Nodes[0].Statistics))
	assert.Equal(t, now, list.Nodes[0].LastSeen)

	partial := list.Nodes[3]
	assert.JSONEq(t, `{"node_id": "partial", "hostname": "p"}`, string(partial.Nodeinfo))
	assert.Nil(t, partial.Statistics)

	require.Len(t, graph.Batadv.Nodes, 2)
	assert.Equal(t, GraphNode{ID: "mac-a", NodeID: "a"}, graph.Batadv.Nodes[0])
	assert.ElementsMatch(t, []Link{
		{Source: 0, Target: 1, TQ: 1, Type: "batadv"},
		{Source: 1, Target: 0, TQ: 5, Type: "batadv"},
	}, graph.Batadv.Links)

	reasons := map[string]string{}
	for _, s := range rep.Skips() {
		reasons[fmt.Sprintf("%s/%s", s.Stage, s.NodeID)] = s.Reason
	}
	assert.Equal(t, map[string]string{
		"nodes/partial":       "missing statistics",
		"nodes-graph/partial": "missing neighbours.batadv",
	}, reasons)
}

func TestNodeRecord_JSONOmitsMissingParts(t *testing.T) {
	list, _ := BuildNodes([]model.Node{node("x", model.StatusDown, `{}`)}, now, nil)
	raw, err := json.Marshal(list.Nodes[0])
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"flags": {"online": false},
		"firstseen": "2020-04-01T12:00:00Z",
		"lastseen": "2020-04-02T12:00:00Z"
	}`, string(raw))
}
