package hopglass

import (
	"errors"
	"time"

	"github.com/tidwall/gjson"

	"meshhooks/internal/model"
	"meshhooks/internal/report"
	"meshhooks/internal/respondd"
)

// errNotMeshing marks a node that has nothing to contribute to a graph. It is not reported.
var errNotMeshing = errors.New("node has no batman-adv neighbours")

type meshNode struct {
	id     string
	nodeID string
	ifaces map[string]string // address -> interface type
}

func (m *meshNode) addIface(addr, typ string) {
	if addr == "" {
		return
	}
	if m.ifaces == nil {
		m.ifaces = make(map[string]string)
	}
	if _, ok := m.ifaces[addr]; !ok {
		m.ifaces[addr] = typ
	}
}

func (m meshNode) ifaceType(addr string) string {
	return m.ifaces[addr]
}

// index resolves interface addresses to graph node positions. The first node announcing an
// address owns it.
type index struct {
	nodes  []meshNode
	byAddr map[string]int
}

func newIndex() *index {
	return &index{byAddr: make(map[string]int)}
}

func (ix *index) add(m meshNode) int {
	idx := len(ix.nodes)
	ix.nodes = append(ix.nodes, m)
	for addr := range m.ifaces {
		if _, ok := ix.byAddr[addr]; !ok {
			ix.byAddr[addr] = idx
		}
	}
	return idx
}

func (ix *index) lookup(addr string) (int, bool) {
	idx, ok := ix.byAddr[addr]
	return idx, ok
}

func (ix *index) graphNodes() []GraphNode {
	out := make([]GraphNode, 0, len(ix.nodes))
	for _, m := range ix.nodes {
		out = append(out, GraphNode{ID: m.id, NodeID: m.nodeID})
	}
	return out
}

// topology runs the two passes shared by both graph flavours: identities of all Up nodes first,
// then links between already known nodes.
type topology struct {
	stage    string
	identify func(n model.Node, resp respondd.Response) (meshNode, error)
	// source resolves the local end of a link for the neighbour table of interface local.
	source func(ix *index, resp respondd.Response, local string) (idx int, typ string, ok bool)
}

func (t topology) build(nodes []model.Node, now time.Time, rep *report.Report) Graph {
	g := newGraph(now)
	ix := newIndex()

	// nodes without an identity cannot be the source of a link
	skipped := make(map[int]bool)
	for i, n := range nodes {
		if !n.Up() {
			continue
		}
		mn, err := t.identify(n, respondd.Parse(n.LastResponse))
		if err != nil {
			skipped[i] = true
			if !errors.Is(err, errNotMeshing) {
				advise(rep, n.ID, t.stage, err)
			}
			continue
		}
		ix.add(mn)
	}

	for i, n := range nodes {
		if !n.Up() || skipped[i] {
			continue
		}
		links, err := t.links(ix, respondd.Parse(n.LastResponse))
		// links found before a broken neighbour entry are kept
		g.Batadv.Links = append(g.Batadv.Links, links...)
		if err != nil {
			advise(rep, n.ID, t.stage, err)
		}
	}

	g.Batadv.Nodes = ix.graphNodes()
	return g
}

func (t topology) links(ix *index, resp respondd.Response) ([]Link, error) {
	batadv, err := resp.Object("neighbours.batadv")
	if err != nil {
		return nil, err
	}

	var links []Link
	batadv.ForEach(func(local, table gjson.Result) bool {
		src, typ, ok := t.source(ix, resp, local.String())
		if !ok {
			return true
		}

		prefix := "neighbours.batadv." + local.String() + ".neighbours"
		neighbours := table.Get("neighbours")
		if !neighbours.Exists() {
			err = &respondd.FieldError{Path: prefix}
			return false
		}

		neighbours.ForEach(func(remote, vals gjson.Result) bool {
			dst, ok := ix.lookup(remote.String())
			if !ok {
				return true
			}
			var tq float64
			tq, err = respondd.Number(vals, "tq", prefix+"."+remote.String()+".tq")
			if err != nil {
				return false
			}
			links = append(links, Link{Source: src, Target: dst, TQ: Quality(tq), Type: typ})
			return true
		})
		return err == nil
	})
	return links, err
}

func advise(rep *report.Report, nodeID, stage string, err error) {
	if rep != nil {
		rep.Advise(nodeID, stage, err)
	}
}
