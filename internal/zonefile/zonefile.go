// Package zonefile renders a DNS zone with one AAAA record per node.
package zonefile

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/miekg/dns"

	"meshhooks/internal/model"
	"meshhooks/internal/report"
	"meshhooks/internal/respondd"
)

const stage = "zonefile"

var (
	ErrInvalidHostname   = errors.New("invalid hostname")
	ErrInvalidAddress    = errors.New("invalid address")
	ErrNoAddressInPrefix = errors.New("no address in prefix")
)

var hostnameRe = regexp.MustCompile(`^(([a-zA-Z0-9]|[a-zA-Z0-9][a-zA-Z0-9\-]*[a-zA-Z0-9])\.)*([A-Za-z0-9]|[A-Za-z0-9][A-Za-z0-9\-]*[A-Za-z0-9])$`)

// ValidHostname reports whether name may be used as an owner name.
func ValidHostname(name string) bool {
	return hostnameRe.MatchString(name)
}

// Config describes the zone header and the address selection.
type Config struct {
	Origin  string
	TTL     uint32
	Mname   string
	Rname   string
	NS      string
	Prefix  netip.Prefix
	Refresh uint32
	Retry   uint32
	Expire  uint32
	Minimum uint32
}

func DefaultConfig() Config {
	return Config{
		Origin:  "nodes.luebeck.freifunk.net.",
		TTL:     600,
		Mname:   "srv01.luebeck.freifunk.net.",
		Rname:   "info.luebeck.freifunk.net.",
		NS:      "srv01.luebeck.freifunk.net.",
		Prefix:  netip.MustParsePrefix("2001:67c:2d50::/48"),
		Refresh: 600,
		Retry:   30,
		Expire:  3600,
		Minimum: 60,
	}
}

// Zone is a rendered zone, ready to be written.
type Zone struct {
	Origin  string
	TTL     uint32
	SOA     *dns.SOA
	NS      *dns.NS
	Records []*dns.AAAA
}

// Build selects one AAAA record per node. Nodes that cannot be published are dropped into rep.
func Build(nodes []model.Node, cfg Config, serial uint32, rep *report.Report) Zone {
	origin := dns.Fqdn(cfg.Origin)
	z := Zone{
		Origin: origin,
		TTL:    cfg.TTL,
		SOA: &dns.SOA{
			Hdr:     dns.RR_Header{Name: origin, Rrtype: dns.TypeSOA, Class: dns.ClassINET, Ttl: cfg.TTL},
			Ns:      dns.Fqdn(cfg.Mname),
			Mbox:    dns.Fqdn(cfg.Rname),
			Serial:  serial,
			Refresh: cfg.Refresh,
			Retry:   cfg.Retry,
			Expire:  cfg.Expire,
			Minttl:  cfg.Minimum,
		},
		NS: &dns.NS{
			Hdr: dns.RR_Header{Name: origin, Rrtype: dns.TypeNS, Class: dns.ClassINET, Ttl: cfg.TTL},
			Ns:  dns.Fqdn(cfg.NS),
		},
	}

	for _, n := range nodes {
		rr, err := record(respondd.Parse(n.LastResponse), cfg)
		if err != nil {
			if rep != nil {
				rep.Drop(n.ID, stage, err)
			}
			continue
		}
		z.Records = append(z.Records, rr)
	}
	return z
}

func record(resp respondd.Response, cfg Config) (*dns.AAAA, error) {
	hostname, err := resp.String("nodeinfo.hostname")
	if err != nil {
		return nil, err
	}
	if !ValidHostname(hostname) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidHostname, hostname)
	}

	addrs, err := resp.Require("nodeinfo.network.addresses")
	if err != nil {
		return nil, err
	}
	if !addrs.IsArray() {
		return nil, &respondd.FieldError{Path: "nodeinfo.network.addresses", Want: "an array"}
	}

	for _, a := range addrs.Array() {
		addr, err := netip.ParseAddr(a.String())
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, a.String())
		}
		if !addr.Is6() || !cfg.Prefix.Contains(addr) {
			continue
		}
		return &dns.AAAA{
			Hdr:  dns.RR_Header{Name: hostname, Rrtype: dns.TypeAAAA, Class: dns.ClassINET, Ttl: cfg.TTL},
			AAAA: net.IP(addr.AsSlice()),
		}, nil
	}
	return nil, fmt.Errorf("%w %s", ErrNoAddressInPrefix, cfg.Prefix)
}

// WriteTo writes the zone in master file format.
func (z Zone) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "$ORIGIN %s\n", z.Origin)
	fmt.Fprintf(&b, "$TTL %d\n", z.TTL)
	b.WriteString(z.SOA.String())
	b.WriteByte('\n')
	b.WriteString(z.NS.String())
	b.WriteByte('\n')
	for _, rr := range z.Records {
		b.WriteString(rr.String())
		b.WriteByte('\n')
	}
	n, err := io.WriteString(w, b.String())
	return int64(n), err
}

// WriteFile replaces path with the zone. Readers never see a partially written file.
func WriteFile(path string, z Zone) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := z.WriteTo(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
