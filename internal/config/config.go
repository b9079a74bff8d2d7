package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/netip"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"meshhooks/internal/controlsocket"
	"meshhooks/internal/exporter"
	"meshhooks/internal/store"
	"meshhooks/internal/zonefile"
)

const (
	EnvConfig      = "MESHHOOKS_CONFIG"
	EnvLogLevel    = "MESHHOOKS_LOG_LEVEL"
	EnvPushgateway = "PUSHGATEWAY"
	EnvKeyRepo     = "FASTD_KEYREPO"

	EnvZonefileOut     = "ZONEFILE_OUT"
	EnvZonefileOrigin  = "ZONEFILE_ORIGIN"
	EnvZonefileSOA     = "ZONEFILE_SOA"
	EnvZonefileSOAMail = "ZONEFILE_SOA_MAIL"
	EnvZonefileNS      = "ZONEFILE_NS"
	EnvZonefilePrefix  = "ZONEFILE_PREFIX"
	EnvZonefileTTL     = "ZONEFILE_TTL"

	DefaultLogLevel    = "info"
	DefaultCacheMaxAge = "1h"
)

// Config holds the settings of every meshhooks command.
type Config struct {
	LogLevel string         `yaml:"log_level"`
	Socket   SocketConfig   `yaml:"socket"`
	Hopglass HopglassConfig `yaml:"hopglass"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Zonefile ZonefileConfig `yaml:"zonefile"`
	Fastd    FastdConfig    `yaml:"fastd"`
}

// SocketConfig locates the collector's control socket.
type SocketConfig struct {
	Path    string `yaml:"path"`
	Timeout string `yaml:"timeout"`
}

type HopglassConfig struct {
	// GraphOut is where `nodes` writes its companion graph. Empty disables it.
	GraphOut string `yaml:"graph_out,omitempty"`
}

type MetricsConfig struct {
	Namespace string `yaml:"namespace"`
	Job       string `yaml:"job"`
	Push      string `yaml:"push,omitempty"`
	Listen    string `yaml:"listen,omitempty"`
}

type ZonefileConfig struct {
	Out     string `yaml:"out,omitempty"`
	Origin  string `yaml:"origin"`
	SOA     string `yaml:"soa"`
	SOAMail string `yaml:"soa_mail"`
	NS      string `yaml:"ns"`
	Prefix  string `yaml:"prefix"`
	TTL     uint32 `yaml:"ttl"`
	Refresh uint32 `yaml:"refresh"`
	Retry   uint32 `yaml:"retry"`
	Expire  uint32 `yaml:"expire"`
	Minimum uint32 `yaml:"minimum"`
}

// FastdConfig configures the fastd key check.
type FastdConfig struct {
	Repo        string `yaml:"repo,omitempty"`
	Cache       string `yaml:"cache,omitempty"`
	CacheMaxAge string `yaml:"cache_max_age"`
}

// Default returns a config with every default applied.
func Default() Config {
	var cfg Config
	ApplyDefaults(&cfg)
	return cfg
}

// Load reads and parses a YAML config file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}

	ApplyDefaults(&cfg)
	return cfg, nil
}

// LoadDotenv loads path into the process environment when it exists. Variables that are
// already set win.
func LoadDotenv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Save writes a YAML config file to disk.
func Save(path string, cfg Config) error {
	ApplyDefaults(&cfg)
	return store.WriteYAML(path, &cfg, 0o600)
}

// Write encodes cfg as YAML.
func Write(w io.Writer, cfg Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&cfg); err != nil {
		return err
	}
	return enc.Close()
}

// ApplyEnv overrides file settings with environment variables. lookup is usually os.LookupEnv.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	set(&cfg.LogLevel, EnvLogLevel)
	set(&cfg.Socket.Path, controlsocket.EnvPath)
	set(&cfg.Metrics.Push, EnvPushgateway)
	set(&cfg.Fastd.Repo, EnvKeyRepo)

	set(&cfg.Zonefile.Out, EnvZonefileOut)
	set(&cfg.Zonefile.Origin, EnvZonefileOrigin)
	set(&cfg.Zonefile.SOA, EnvZonefileSOA)
	set(&cfg.Zonefile.SOAMail, EnvZonefileSOAMail)
	set(&cfg.Zonefile.NS, EnvZonefileNS)
	set(&cfg.Zonefile.Prefix, EnvZonefilePrefix)
	if v, ok := lookup(EnvZonefileTTL); ok && v != "" {
		ttl, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvZonefileTTL, err)
		}
		cfg.Zonefile.TTL = uint32(ttl)
	}
	return nil
}

// Validate checks values that are parsed later on.
func Validate(cfg Config) error {
	if cfg.Socket.Path == "" {
		return fmt.Errorf("socket.path is required")
	}
	if _, err := parseDuration("socket.timeout", cfg.Socket.Timeout); err != nil {
		return err
	}
	if _, err := parseDuration("fastd.cache_max_age", cfg.Fastd.CacheMaxAge); err != nil {
		return err
	}
	if _, err := netip.ParsePrefix(cfg.Zonefile.Prefix); err != nil {
		return fmt.Errorf("zonefile.prefix: %w", err)
	}
	if cfg.Zonefile.Origin == "" {
		return fmt.Errorf("zonefile.origin is required")
	}
	if cfg.Metrics.Push != "" && cfg.Metrics.Listen != "" {
		return fmt.Errorf("metrics.push and metrics.listen are mutually exclusive")
	}
	return nil
}

// ApplyDefaults fills in default values when empty.
func ApplyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if cfg.Socket.Path == "" {
		cfg.Socket.Path = controlsocket.DefaultPath
	}
	if cfg.Socket.Timeout == "" {
		cfg.Socket.Timeout = controlsocket.DefaultTimeout.String()
	}

	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = exporter.DefaultNamespace
	}
	if cfg.Metrics.Job == "" {
		cfg.Metrics.Job = exporter.DefaultJob
	}

	zd := zonefile.DefaultConfig()
	z := &cfg.Zonefile
	if z.Origin == "" {
		z.Origin = zd.Origin
	}
	if z.SOA == "" {
		z.SOA = zd.Mname
	}
	if z.SOAMail == "" {
		z.SOAMail = zd.Rname
	}
	if z.NS == "" {
		z.NS = zd.NS
	}
	if z.Prefix == "" {
		z.Prefix = zd.Prefix.String()
	}
	if z.TTL == 0 {
		z.TTL = zd.TTL
	}
	if z.Refresh == 0 {
		z.Refresh = zd.Refresh
	}
	if z.Retry == 0 {
		z.Retry = zd.Retry
	}
	if z.Expire == 0 {
		z.Expire = zd.Expire
	}
	if z.Minimum == 0 {
		z.Minimum = zd.Minimum
	}

	if cfg.Fastd.CacheMaxAge == "" {
		cfg.Fastd.CacheMaxAge = DefaultCacheMaxAge
	}
}

// SocketTimeout returns the parsed socket timeout.
func (c Config) SocketTimeout() (time.Duration, error) {
	return parseDuration("socket.timeout", c.Socket.Timeout)
}

// CacheMaxAge returns the parsed key cache age limit.
func (c Config) CacheMaxAge() (time.Duration, error) {
	return parseDuration("fastd.cache_max_age", c.Fastd.CacheMaxAge)
}

// Zone converts the zonefile section.
func (z ZonefileConfig) Zone() (zonefile.Config, error) {
	prefix, err := netip.ParsePrefix(z.Prefix)
	if err != nil {
		return zonefile.Config{}, fmt.Errorf("zonefile.prefix: %w", err)
	}
	return zonefile.Config{
		Origin:  z.Origin,
		TTL:     z.TTL,
		Mname:   z.SOA,
		Rname:   z.SOAMail,
		NS:      z.NS,
		Prefix:  prefix.Masked(),
		Refresh: z.Refresh,
		Retry:   z.Retry,
		Expire:  z.Expire,
		Minimum: z.Minimum,
	}, nil
}

func parseDuration(name, v string) (time.Duration, error) {
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", name)
	}
	return d, nil
}
