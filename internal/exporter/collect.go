// Package exporter turns a node snapshot into the gluon Prometheus metric set.
package exporter

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tidwall/gjson"

	"meshhooks/internal/model"
	"meshhooks/internal/report"
	"meshhooks/internal/respondd"
)

// ErrInvalidLabel marks a node value that cannot be used as a label value.
var ErrInvalidLabel = errors.New("invalid label value")

// Peer is one fastd peer of a mesh VPN group.
type Peer struct {
	Group string
	Name  string
}

// Summary is the fold over every node of one snapshot.
type Summary struct {
	Nodes   int
	Online  int
	Clients float64
	Traffic map[string]float64
	MeshVPN map[Peer]int
}

// contribution is what a single node adds to the Summary.
type contribution struct {
	online  bool
	clients float64
	traffic map[string]float64
	peers   []Peer
}

func summarize(cs []contribution) Summary {
	s := Summary{
		Nodes:   len(cs),
		Traffic: make(map[string]float64),
		MeshVPN: make(map[Peer]int),
	}
	for _, c := range cs {
		if c.online {
			s.Online++
		}
		s.Clients += c.clients
		for typ, v := range c.traffic {
			s.Traffic[typ] += v
		}
		for _, p := range c.peers {
			s.MeshVPN[p]++
		}
	}
	return s
}

// Collect registers the metric set on a fresh registry and fills it from nodes. A node whose
// statistics are incomplete keeps the series set before the missing field.
func Collect(nodes []model.Node, namespace string, rep *report.Report) (*prometheus.Registry, Summary) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	reg := prometheus.NewRegistry()
	g := newGauges(reg, namespace)

	cs := make([]contribution, 0, len(nodes))
	for _, n := range nodes {
		c, err := g.observe(n)
		if err != nil && rep != nil {
			rep.Advise(n.ID, "metrics", err)
		}
		cs = append(cs, c)
	}

	s := summarize(cs)
	g.setTotals(s)
	return reg, s
}

func (g *gauges) setTotals(s Summary) {
	g.nodesTotal.Set(float64(s.Nodes))
	g.nodesOnline.Set(float64(s.Online))
	g.clientsTotal.Set(s.Clients)
	for typ, v := range s.Traffic {
		g.trafficTotal.WithLabelValues(typ).Set(v)
	}
	for p, count := range s.MeshVPN {
		g.meshvpnCount.WithLabelValues(p.Group, p.Name).Set(float64(count))
	}
}

func extend(base prometheus.Labels, kv ...string) prometheus.Labels {
	out := make(prometheus.Labels, len(base)+len(kv)/2)
	for k, v := range base {
		out[k] = v
	}
	for i := 0; i+1 < len(kv); i += 2 {
		out[kv[i]] = kv[i+1]
	}
	return out
}

// set writes one series. Label values come straight from the node and may not be UTF-8.
func set(vec *prometheus.GaugeVec, lbl prometheus.Labels, v float64) error {
	m, err := vec.GetMetricWith(lbl)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidLabel, err)
	}
	m.Set(v)
	return nil
}

func (g *gauges) observe(n model.Node) (contribution, error) {
	resp := respondd.Parse(n.LastResponse)
	lbl := prometheus.Labels{
		"nodeid":   n.ID,
		"hostname": resp.Get("nodeinfo.hostname").String(),
		"fw":       resp.Get("nodeinfo.software.firmware.release").String(),
	}

	var c contribution
	if !n.Up() {
		return c, set(g.online, lbl, 0)
	}
	if err := set(g.online, lbl, 1); err != nil {
		return c, err
	}
	c.online = true

	clients, err := resp.Number("statistics.clients.total")
	if err != nil {
		return c, err
	}
	if err := set(g.clients, lbl, clients); err != nil {
		return c, err
	}
	c.clients = clients

	if err := g.setNumber(g.uptime, lbl, resp, "statistics.uptime"); err != nil {
		return c, err
	}
	if err := g.setNumber(g.loadavg, lbl, resp, "statistics.loadavg"); err != nil {
		return c, err
	}

	traffic, err := resp.Object("statistics.traffic")
	if err != nil {
		return c, err
	}
	c.traffic = make(map[string]float64)
	traffic.ForEach(func(typ, v gjson.Result) bool {
		var bytes float64
		bytes, err = respondd.Number(v, "bytes", "statistics.traffic."+typ.String()+".bytes")
		if err != nil {
			return false
		}
		if err = set(g.traffic, extend(lbl, "type", typ.String()), bytes); err != nil {
			return false
		}
		c.traffic[typ.String()] += bytes
		return true
	})
	if err != nil {
		return c, err
	}

	// devices without wifi have no wireless block
	resp.Get("statistics.wireless").ForEach(func(_, dev gjson.Result) bool {
		dev.ForEach(func(prop, v gjson.Result) bool {
			if v.Type == gjson.Number {
				err = set(g.wireless, extend(lbl, "type", prop.String()), v.Num)
			}
			return err == nil
		})
		return err == nil
	})
	if err != nil {
		return c, err
	}

	resp.Get("statistics.mesh_vpn.groups").ForEach(func(group, gv gjson.Result) bool {
		gv.Get("peers").ForEach(func(peer, pv gjson.Result) bool {
			if pv.Type == gjson.Null {
				return true
			}
			var established float64
			path := "statistics.mesh_vpn.groups." + group.String() + ".peers." + peer.String() + ".established"
			established, err = respondd.Number(pv, "established", path)
			if err != nil {
				return false
			}
			if err = set(g.meshvpn, extend(lbl, "group", group.String(), "peer", peer.String()), established); err != nil {
				return false
			}
			c.peers = append(c.peers, Peer{Group: group.String(), Name: peer.String()})
			return true
		})
		return err == nil
	})
	if err != nil {
		return c, err
	}

	cpu, err := resp.Object("statistics.stat.cpu")
	if err != nil {
		return c, err
	}
	cpu.ForEach(func(mode, v gjson.Result) bool {
		if v.Type != gjson.Number {
			err = &respondd.FieldError{Path: "statistics.stat.cpu." + mode.String(), Want: "a number"}
			return false
		}
		err = set(g.cpu, extend(lbl, "mode", mode.String()), v.Num)
		return err == nil
	})
	if err != nil {
		return c, err
	}

	if err := g.observeMemory(lbl, resp); err != nil {
		return c, err
	}

	if err := g.setNumber(g.rootfs, lbl, resp, "statistics.rootfs_usage"); err != nil {
		return c, err
	}
	if err := g.setNumber(g.time, lbl, resp, "statistics.time"); err != nil {
		return c, err
	}
	for _, typ := range []string{"total", "running"} {
		v, err := resp.Number("statistics.processes." + typ)
		if err != nil {
			return c, err
		}
		if err := set(g.process, extend(lbl, "type", typ), v); err != nil {
			return c, err
		}
	}

	domain, err := resp.String("nodeinfo.system.domain_code")
	if err != nil {
		return c, err
	}
	if err := set(g.domain, extend(lbl, "domain", domain), 1); err != nil {
		return c, err
	}

	compat, err := resp.Require("nodeinfo.software.batman-adv.compat")
	if err != nil {
		return c, err
	}
	return c, set(g.batadv, extend(lbl, "compat", compat.String()), 1)
}

func (g *gauges) observeMemory(lbl prometheus.Labels, resp respondd.Response) error {
	free, err := resp.Number("statistics.memory.free")
	if err != nil {
		return err
	}
	total, err := resp.Number("statistics.memory.total")
	if err != nil {
		return err
	}
	if total > 0 {
		if err := set(g.memoryUsage, lbl, 1-free/total); err != nil {
			return err
		}
	}
	if err := set(g.memoryTotal, lbl, total); err != nil {
		return err
	}

	resp.Get("statistics.memory").ForEach(func(typ, v gjson.Result) bool {
		if v.Type == gjson.Number {
			err = set(g.memory, extend(lbl, "type", typ.String()), v.Num)
		}
		return err == nil
	})
	return err
}

func (g *gauges) setNumber(vec *prometheus.GaugeVec, lbl prometheus.Labels, resp respondd.Response, path string) error {
	v, err := resp.Number(path)
	if err != nil {
		return err
	}
	return set(vec, lbl, v)
}
