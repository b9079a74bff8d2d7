package hopglass

import (
	"encoding/json"
	"time"

	"github.com/tidwall/gjson"

	"meshhooks/internal/model"
	"meshhooks/internal/report"
	"meshhooks/internal/respondd"
)

// NodeList is the nodes.json document, version 2.
type NodeList struct {
	Timestamp time.Time    `json:"timestamp"`
	Version   int          `json:"version"`
	Nodes     []NodeRecord `json:"nodes"`
}

type NodeRecord struct {
	Flags      Flags           `json:"flags"`
	Nodeinfo   json.RawMessage `json:"nodeinfo,omitempty"`
	Statistics json.RawMessage `json:"statistics,omitempty"`
	FirstSeen  time.Time       `json:"firstseen"`
	LastSeen   time.Time       `json:"lastseen"`
}

type Flags struct {
	Online bool `json:"online"`
}

// BuildNodes emits one record per node, online or not, and the companion graph in which nodes are
// identified by MAC membership and every link is typed batadv.
func BuildNodes(nodes []model.Node, now time.Time, rep *report.Report) (NodeList, Graph) {
	list := NodeList{
		Timestamp: now.UTC(),
		Version:   NodesVersion,
		Nodes:     make([]NodeRecord, 0, len(nodes)),
	}

	for _, n := range nodes {
		rec, err := record(n)
		if err != nil {
			advise(rep, n.ID, "nodes", err)
		}
		list.Nodes = append(list.Nodes, rec)
	}

	t := topology{
		stage:    "nodes-graph",
		identify: identifyByMembership,
		source:   sourceByPrimaryMAC,
	}
	return list, t.build(nodes, now, rep)
}

// record never fails to produce a record; the error names the first part that was missing.
func record(n model.Node) (NodeRecord, error) {
	resp := respondd.Parse(n.LastResponse)
	rec := NodeRecord{
		Flags:      Flags{Online: n.Up()},
		Nodeinfo:   resp.Raw("nodeinfo"),
		Statistics: resp.Raw("statistics"),
		FirstSeen:  n.FirstSeen,
		LastSeen:   n.LastSeen,
	}

	switch {
	case rec.Nodeinfo == nil:
		return rec, &respondd.FieldError{Path: "nodeinfo"}
	case rec.Statistics == nil:
		return rec, &respondd.FieldError{Path: "statistics"}
	}
	return rec, nil
}

func identifyByMembership(n model.Node, resp respondd.Response) (meshNode, error) {
	batadv, err := resp.Object("neighbours.batadv")
	if err != nil {
		return meshNode{}, err
	}
	if len(batadv.Map()) == 0 {
		return meshNode{}, errNotMeshing
	}

	mac, err := resp.String("nodeinfo.network.mac")
	if err != nil {
		return meshNode{}, err
	}
	groups, err := resp.Object("nodeinfo.network.mesh.bat0.interfaces")
	if err != nil {
		return meshNode{}, err
	}

	mn := meshNode{id: mac, nodeID: n.ID}
	mn.addIface(mac, "batadv")
	groups.ForEach(func(_, addrs gjson.Result) bool {
		addrs.ForEach(func(_, addr gjson.Result) bool {
			mn.addIface(addr.String(), "batadv")
			return true
		})
		return true
	})
	return mn, nil
}

func sourceByPrimaryMAC(ix *index, resp respondd.Response, _ string) (int, string, bool) {
	idx, ok := ix.lookup(resp.Get("nodeinfo.network.mac").String())
	return idx, "batadv", ok
}
