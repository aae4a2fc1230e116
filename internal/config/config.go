// Package config loads root-agentd's YAML configuration: socket/service
// paths, the VMID/IP/IPv6 allocation pools, and the ledger location.
//
// Grounded on blockhost/config.py (path constants) and vm_db.py's
// _normalize_config/_normalize_ip_pool (accepting legacy key spellings).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the fully-normalized daemon configuration.
type Config struct {
	Service     string `yaml:"-"`
	SocketPath  string `yaml:"socket_path"`
	LedgerFile  string `yaml:"db_file"`
	ConfigDir   string `yaml:"config_dir"`
	ActionsDir  string `yaml:"actions_dir"`
	ServiceGroup string `yaml:"service_group"`

	VMIDRange VMIDRangeConfig `yaml:"vmid_range"`
	IPPool    IPPoolConfig    `yaml:"ip_pool"`
	IPv6Pool  IPv6PoolConfig  `yaml:"ipv6_pool"`
	IPv6Prefix string        `yaml:"ipv6_prefix"`

	Log        LogConfig    `yaml:"log"`
	Metrics    MetricsConfig `yaml:"metrics"`
	Sandbox    SandboxConfig `yaml:"sandbox"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`
}

type VMIDRangeConfig struct {
	Start int `yaml:"start"`
	End   int `yaml:"end"`
}

// rawIPPool mirrors the YAML shape before normalization: start/end may
// arrive as bare last-octet integers or as full dotted-quad strings.
type rawIPPool struct {
	Network string      `yaml:"network"`
	Start   interface{} `yaml:"start"`
	End     interface{} `yaml:"end"`
	Gateway string      `yaml:"gateway"`
}

type IPPoolConfig struct {
	Network string `yaml:"network"`
	Start   int    `yaml:"start"`
	End     int    `yaml:"end"`
	Gateway string `yaml:"gateway"`
}

type IPv6PoolConfig struct {
	Start int `yaml:"start"`
	End   int `yaml:"end"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

type SandboxConfig struct {
	Enabled bool   `yaml:"enabled"`
	DataDir string `yaml:"data_dir"`
	Image   string `yaml:"image"`
}

type ReconcilerConfig struct {
	Enabled    bool `yaml:"enabled"`
	IntervalS  int  `yaml:"interval_seconds"`
	GraceDays  int  `yaml:"grace_days"`
}

// rawConfig is the shape accepted directly off disk, before the legacy
// key aliases (vmid_range/vmid_pool) are resolved.
type rawConfig struct {
	Service      string          `yaml:"service"`
	SocketPath   string          `yaml:"socket_path"`
	DBFile       string          `yaml:"db_file"`
	ConfigDir    string          `yaml:"config_dir"`
	ActionsDir   string          `yaml:"actions_dir"`
	ServiceGroup string          `yaml:"service_group"`
	VMIDRange    *VMIDRangeConfig `yaml:"vmid_range"`
	VMIDPool     *VMIDRangeConfig `yaml:"vmid_pool"`
	IPPool       *rawIPPool      `yaml:"ip_pool"`
	IPv6Pool     *IPv6PoolConfig `yaml:"ipv6_pool"`
	IPv6Prefix   string          `yaml:"ipv6_prefix"`
	Log          LogConfig       `yaml:"log"`
	Metrics      MetricsConfig   `yaml:"metrics"`
	Sandbox      SandboxConfig   `yaml:"sandbox"`
	Reconciler   ReconcilerConfig `yaml:"reconciler"`
}

// Default returns the baked-in defaults used when no config file is
// present, matching the filesystem layout in spec section 6.
func Default(service string) *Config {
	return &Config{
		Service:      service,
		SocketPath:   fmt.Sprintf("/run/%s/root-agent.sock", service),
		LedgerFile:   fmt.Sprintf("/var/lib/%s/vms.json", service),
		ConfigDir:    fmt.Sprintf("/etc/%s", service),
		ActionsDir:   fmt.Sprintf("/usr/share/%s/root-agent-actions", service),
		ServiceGroup: service,
		VMIDRange:    VMIDRangeConfig{Start: 100, End: 999999},
		IPPool: IPPoolConfig{
			Network: "192.168.122.0/24",
			Start:   200,
			End:     250,
			Gateway: "192.168.122.1",
		},
		IPv6Pool: IPv6PoolConfig{Start: 2, End: 254},
		Log:      LogConfig{Level: "info", JSON: true},
		Metrics:  MetricsConfig{Enabled: true, Listen: "127.0.0.1:9090"},
		Reconciler: ReconcilerConfig{Enabled: true, IntervalS: 3600, GraceDays: 7},
		Sandbox:  SandboxConfig{DataDir: fmt.Sprintf("/var/lib/%s/sandbox", service), Image: "docker.io/library/alpine:latest"},
	}
}

// Load reads and normalizes a YAML config file. Missing fields fall back
// to Default's values; a missing file is not an error — the caller gets
// defaults as if "config_path" pointed at an empty document.
func Load(path, service string) (*Config, error) {
	cfg := Default(service)
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if raw.Service != "" {
		cfg.Service = raw.Service
	}
	if raw.SocketPath != "" {
		cfg.SocketPath = raw.SocketPath
	}
	if raw.DBFile != "" {
		cfg.LedgerFile = raw.DBFile
	}
	if raw.ConfigDir != "" {
		cfg.ConfigDir = raw.ConfigDir
	}
	if raw.ActionsDir != "" {
		cfg.ActionsDir = raw.ActionsDir
	}
	if raw.ServiceGroup != "" {
		cfg.ServiceGroup = raw.ServiceGroup
	}

	// vmid_range and vmid_pool are accepted interchangeably; vmid_range wins
	// if both are present.
	switch {
	case raw.VMIDRange != nil:
		cfg.VMIDRange = *raw.VMIDRange
	case raw.VMIDPool != nil:
		cfg.VMIDRange = *raw.VMIDPool
	}

	if raw.IPPool != nil {
		normalized, err := normalizeIPPool(raw.IPPool)
		if err != nil {
			return nil, fmt.Errorf("ip_pool: %w", err)
		}
		cfg.IPPool = *normalized
	}

	if raw.IPv6Pool != nil {
		cfg.IPv6Pool = *raw.IPv6Pool
	}
	if raw.IPv6Prefix != "" {
		cfg.IPv6Prefix = raw.IPv6Prefix
	}

	if raw.Log.Level != "" {
		cfg.Log.Level = raw.Log.Level
	}
	cfg.Log.JSON = raw.Log.JSON || cfg.Log.JSON
	if raw.Metrics.Listen != "" {
		cfg.Metrics = raw.Metrics
	}
	if raw.Sandbox.Enabled {
		cfg.Sandbox.Enabled = true
	}
	if raw.Sandbox.DataDir != "" {
		cfg.Sandbox.DataDir = raw.Sandbox.DataDir
	}
	if raw.Sandbox.Image != "" {
		cfg.Sandbox.Image = raw.Sandbox.Image
	}
	if raw.Reconciler.IntervalS != 0 {
		cfg.Reconciler = raw.Reconciler
	}

	return cfg, nil
}

// normalizeIPPool accepts the pool's start/end as either a bare last-octet
// integer or a full dotted-quad string, mirroring vm_db.py's
// _normalize_ip_pool.
func normalizeIPPool(raw *rawIPPool) (*IPPoolConfig, error) {
	out := &IPPoolConfig{Network: raw.Network, Gateway: raw.Gateway}

	start, err := lastOctet(raw.Start, 200)
	if err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	out.Start = start

	end, err := lastOctet(raw.End, 250)
	if err != nil {
		return nil, fmt.Errorf("end: %w", err)
	}
	out.End = end

	return out, nil
}

func lastOctet(v interface{}, def int) (int, error) {
	switch val := v.(type) {
	case nil:
		return def, nil
	case int:
		return val, nil
	case int64:
		return int(val), nil
	case string:
		parts := strings.Split(val, ".")
		last := parts[len(parts)-1]
		n, err := strconv.Atoi(last)
		if err != nil {
			return 0, fmt.Errorf("not an integer or dotted-quad: %q", val)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}
