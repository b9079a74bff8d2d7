// Package hopglass builds the graph.json and nodes.json documents consumed by hopglass and meshviewer.
package hopglass

import (
	"time"

	"github.com/tidwall/gjson"

	"meshhooks/internal/model"
	"meshhooks/internal/report"
	"meshhooks/internal/respondd"
)

const (
	GraphVersion = 1
	NodesVersion = 2
)

// Graph is the batman-adv graph document.
type Graph struct {
	Timestamp time.Time `json:"timestamp"`
	Version   int       `json:"version"`
	Batadv    Batadv    `json:"batadv"`
}

type Batadv struct {
	Multigraph bool        `json:"multigraph"`
	Directed   bool        `json:"directed"`
	Nodes      []GraphNode `json:"nodes"`
	Links      []Link      `json:"links"`
}

type GraphNode struct {
	ID     string `json:"id"`
	NodeID string `json:"node_id"`
}

// Link points from the node that reported the neighbour to the neighbour.
type Link struct {
	Source int     `json:"source"`
	Target int     `json:"target"`
	TQ     float64 `json:"tq"`
	Type   string  `json:"type"`
}

// Quality turns a raw batman-adv tq (255 best) into the inverse cost hopglass expects.
// A raw value of 0 maps to 1.
func Quality(raw float64) float64 {
	if raw == 0 {
		return 1
	}
	return 255 / raw
}

// BuildGraph derives the typed batman-adv topology of all Up nodes. Graph nodes are identified by
// the addresses of their declared mesh interfaces; every link carries the type of the local interface.
func BuildGraph(nodes []model.Node, now time.Time, rep *report.Report) Graph {
	t := topology{
		stage:    "graph",
		identify: identifyByInterfaces,
		source:   sourceByInterface,
	}
	return t.build(nodes, now, rep)
}

func newGraph(now time.Time) Graph {
	return Graph{
		Timestamp: now.UTC(),
		Version:   GraphVersion,
		Batadv: Batadv{
			Multigraph: false,
			Directed:   true,
			Nodes:      []GraphNode{},
			Links:      []Link{},
		},
	}
}

// interfaceType normalizes the mesh interface group names announced in nodeinfo.
func interfaceType(group string) string {
	if group == "tunnel" {
		return "fastd"
	}
	return group
}

func identifyByInterfaces(n model.Node, resp respondd.Response) (meshNode, error) {
	nodeID, err := resp.String("nodeinfo.node_id")
	if err != nil {
		return meshNode{}, err
	}
	mac, err := resp.String("nodeinfo.network.mac")
	if err != nil {
		return meshNode{}, err
	}
	groups, err := resp.Object("nodeinfo.network.mesh.bat0.interfaces")
	if err != nil {
		return meshNode{}, err
	}

	mn := meshNode{id: mac, nodeID: nodeID}
	groups.ForEach(func(group, addrs gjson.Result) bool {
		typ := interfaceType(group.String())
		addrs.ForEach(func(_, addr gjson.Result) bool {
			mn.addIface(addr.String(), typ)
			return true
		})
		return true
	})
	return mn, nil
}

func sourceByInterface(ix *index, _ respondd.Response, local string) (int, string, bool) {
	idx, ok := ix.lookup(local)
	if !ok {
		return 0, "", false
	}
	return idx, ix.nodes[idx].ifaceType(local), true
}
