package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ProbeConfig holds the NATS transport and live capture settings.
type ProbeConfig struct {
	NATSURL     string `yaml:"nats_url"`
	Subject     string `yaml:"subject"`
	Interface   string `yaml:"interface"`
	SnapshotLen int32  `yaml:"snapshot_len"`
	Promiscuous bool   `yaml:"promiscuous"`
	BPFFilter   string `yaml:"bpf_filter"`
	// RecordDir, when set, keeps a pcap copy of every captured frame there.
	RecordDir string `yaml:"record_dir"`
}

// ConntrackConfig controls polling of the kernel connection tracking table.
type ConntrackConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Interval string `yaml:"interval"`
}

// NFLogConfig controls the NFLOG group DNS answers are copied to.
type NFLogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Group   uint16 `yaml:"group"`
	// BlockGroup receives packets dropped by the firewall. 0 disables it.
	BlockGroup uint16 `yaml:"block_group"`
}

// SourcesConfig lists the local traffic sources.
type SourcesConfig struct {
	Conntrack ConntrackConfig `yaml:"conntrack"`
	NFLog     NFLogConfig     `yaml:"nflog"`
}

// EngineConfig holds the node engine settings.
type EngineConfig struct {
	FlushInterval       string `yaml:"flush_interval"`
	SweepInterval       string `yaml:"sweep_interval"`
	NeighborInterval    string `yaml:"neighbor_interval"`
	MaxIdlePeriods      int    `yaml:"max_idle_periods"`
	NodeStaleTimeout    string `yaml:"node_stale_timeout"`
	SizeOfPacketChannel int    `yaml:"size_of_packet_channel"`
	// LocalMode also accounts traffic between nodes without a known MAC.
	LocalMode bool `yaml:"local_mode"`
	// Ignore lists addresses whose traffic is dropped before it reaches the cache.
	Ignore []string `yaml:"ignore"`
	// Debug verifies the node cache after every message.
	Debug bool `yaml:"debug"`
}

// ClickHouseConfig holds the connection settings for ClickHouse.
type ClickHouseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// FileWriterConfig holds the settings for the on-disk report writer.
type FileWriterConfig struct {
	RootPath string `yaml:"root_path"`
}

// NATSWriterConfig holds the settings for publishing reports to NATS.
type NATSWriterConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
	// Encoding is "json" or "proto".
	Encoding string `yaml:"encoding"`
}

// WriterDef defines a single report writer.
type WriterDef struct {
	Type       string           `yaml:"type"`
	Enabled    bool             `yaml:"enabled"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	File       FileWriterConfig `yaml:"file"`
	NATS       NATSWriterConfig `yaml:"nats"`
}

// BlockflowConfig selects where blocked pairs and persistent nodes are kept.
type BlockflowConfig struct {
	// Store is "file" or "sqlite".
	Store string `yaml:"store"`
	// Path is the nodepair file for the file store or the database for sqlite.
	Path string `yaml:"path"`
	// NodeDB is the sqlite database persistent nodes are kept in. It
	// defaults to Path for the sqlite store and to nodes.db next to the
	// nodepair file otherwise.
	NodeDB string `yaml:"node_db"`
}

// NamesConfig points at the sources of device names.
type NamesConfig struct {
	UserNamesFile  string `yaml:"user_names_file"`
	DHCPLeasesFile string `yaml:"dhcp_leases_file"`
	DHCPConfigFile string `yaml:"dhcp_config_file"`
}

// APIConfig holds the HTTP and gRPC listen addresses.
type APIConfig struct {
	ListenAddr     string `yaml:"listen_addr"`
	GRPCHealthAddr string `yaml:"grpc_health_addr"`
}

// LogConfig holds the logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Probe     ProbeConfig     `yaml:"probe"`
	Sources   SourcesConfig   `yaml:"sources"`
	Engine    EngineConfig    `yaml:"engine"`
	Writers   []WriterDef     `yaml:"writers"`
	Blockflow BlockflowConfig `yaml:"blockflow"`
	Names     NamesConfig     `yaml:"names"`
	API       APIConfig       `yaml:"api"`
	Log       LogConfig       `yaml:"log"`
}

// Default returns the configuration used for any setting the file leaves out.
func Default() *Config {
	return &Config{
		Probe: ProbeConfig{
			NATSURL:     "nats://127.0.0.1:4222",
			Subject:     "gonodes.wire",
			SnapshotLen: 1600,
			Promiscuous: true,
		},
		Sources: SourcesConfig{
			Conntrack: ConntrackConfig{Interval: "5s"},
			NFLog:     NFLogConfig{Group: 771},
		},
		Engine: EngineConfig{
			FlushInterval:       "15s",
			SweepInterval:       "60s",
			NeighborInterval:    "30s",
			MaxIdlePeriods:      10,
			SizeOfPacketChannel: 4096,
		},
		Blockflow: BlockflowConfig{Store: "file", Path: "/etc/spin/nodepairs.conf"},
		API:       APIConfig{ListenAddr: ":8080"},
		Log:       LogConfig{Level: "info"},
	}
}

// LoadConfig reads the configuration from a YAML file on top of Default.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Blockflow.NodeDB == "" {
		if cfg.Blockflow.Store == "sqlite" {
			cfg.Blockflow.NodeDB = cfg.Blockflow.Path
		} else {
			cfg.Blockflow.NodeDB = filepath.Join(filepath.Dir(cfg.Blockflow.Path), "nodes.db")
		}
	}
	return cfg, nil
}

// Validate checks durations and enumerated values.
func (c *Config) Validate() error {
	for name, v := range map[string]string{
		"engine.flush_interval":     c.Engine.FlushInterval,
		"engine.sweep_interval":     c.Engine.SweepInterval,
		"engine.neighbor_interval":  c.Engine.NeighborInterval,
		"engine.node_stale_timeout": c.Engine.NodeStaleTimeout,
		"sources.conntrack.interval": c.Sources.Conntrack.Interval,
	} {
		if _, err := ParseDuration(v); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	if d, _ := ParseDuration(c.Engine.FlushInterval); d <= 0 {
		return fmt.Errorf("engine.flush_interval must be a positive duration")
	}
	switch c.Blockflow.Store {
	case "file", "sqlite":
	default:
		return fmt.Errorf("unknown blockflow store %q", c.Blockflow.Store)
	}
	for _, w := range c.Writers {
		if w.Type == "nats" && w.Enabled {
			switch w.NATS.Encoding {
			case "", "json", "proto":
			default:
				return fmt.Errorf("unknown nats writer encoding %q", w.NATS.Encoding)
			}
		}
	}
	return nil
}

// ParseDuration parses a duration string. The empty string is zero, which
// disables the corresponding periodic task.
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", s)
	}
	return d, nil
}

// Duration parses a setting already checked by Validate.
func Duration(s string) time.Duration {
	d, _ := ParseDuration(s)
	return d
}

// ClickHouse returns the first enabled ClickHouse writer definition.
func (c *Config) ClickHouse() (ClickHouseConfig, bool) {
	for _, w := range c.Writers {
		if w.Enabled && w.Type == "clickhouse" {
			return w.ClickHouse, true
		}
	}
	return ClickHouseConfig{}, false
}
