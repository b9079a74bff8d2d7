package exporter

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	DefaultNamespace = "gluon"
	DefaultJob       = "knoten"
)

var nodeLabels = []string{"nodeid", "hostname", "fw"}

func withNode(extra ...string) []string {
	return append(append([]string{}, nodeLabels...), extra...)
}

// gauges holds every metric family of one registry.
type gauges struct {
	online      *prometheus.GaugeVec
	clients     *prometheus.GaugeVec
	uptime      *prometheus.GaugeVec
	loadavg     *prometheus.GaugeVec
	traffic     *prometheus.GaugeVec
	wireless    *prometheus.GaugeVec
	meshvpn     *prometheus.GaugeVec
	cpu         *prometheus.GaugeVec
	memoryUsage *prometheus.GaugeVec
	memoryTotal *prometheus.GaugeVec
	memory      *prometheus.GaugeVec
	rootfs      *prometheus.GaugeVec
	time        *prometheus.GaugeVec
	process     *prometheus.GaugeVec
	domain      *prometheus.GaugeVec
	batadv      *prometheus.GaugeVec

	nodesTotal   prometheus.Gauge
	nodesOnline  prometheus.Gauge
	clientsTotal prometheus.Gauge
	trafficTotal *prometheus.GaugeVec
	meshvpnCount *prometheus.GaugeVec
}

func newGauges(reg prometheus.Registerer, namespace string) *gauges {
	vec := func(name, help string, labels []string) *prometheus.GaugeVec {
		g := prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help}, labels)
		reg.MustRegister(g)
		return g
	}
	single := func(name, help string) prometheus.Gauge {
		g := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
		reg.MustRegister(g)
		return g
	}

	return &gauges{
		online:      vec("knoten_online", "online", nodeLabels),
		clients:     vec("knoten_clients", "clients", nodeLabels),
		uptime:      vec("knoten_uptime", "uptime", nodeLabels),
		loadavg:     vec("knoten_loadavg", "loadavg", nodeLabels),
		traffic:     vec("knoten_traffic", "traffic", withNode("type")),
		wireless:    vec("knoten_wireless", "wireless", withNode("type")),
		meshvpn:     vec("knoten_meshvpn", "connected fastd instance", withNode("group", "peer")),
		cpu:         vec("knoten_cpu", "cpu", withNode("mode")),
		memoryUsage: vec("knoten_memory_usage", "memory usage", nodeLabels),
		memoryTotal: vec("knoten_memory_total", "memory total", nodeLabels),
		memory:      vec("knoten_memory", "memory", withNode("type")),
		rootfs:      vec("knoten_rootfs", "rootfs", nodeLabels),
		time:        vec("knoten_time", "time", nodeLabels),
		process:     vec("knoten_process", "process", withNode("type")),
		domain:      vec("domain_total", "domain code", withNode("domain")),
		batadv:      vec("knoten_batadv_compat", "batman compat", withNode("compat")),

		nodesTotal:   single("knoten_total", "total nodes"),
		nodesOnline:  single("total_online", "total online nodes"),
		clientsTotal: single("clients_total", "clients total"),
		trafficTotal: vec("traffic_total", "traffic total", []string{"type"}),
		meshvpnCount: vec("meshvpn_count", "meshvpn", []string{"group", "peer"}),
	}
}
