package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/s-anzie/reorder/internal/protocol"
	"gopkg.in/yaml.v3"
)

// Defaults used when a field is left empty.
const (
	DefaultPaths            = 2
	DefaultChunkSize        = 1024
	DefaultMaxPacketSize    = 64 * 1024
	DefaultHandshakeTimeout = 5 * time.Second
	DefaultKeepAlive        = 10 * time.Second
	DefaultMaxIdleTimeout   = 30 * time.Second
	DefaultALPN             = "reorder/1"
)

// Config is the on-disk configuration of a tunnel endpoint.
type Config struct {
	Transport TransportConfig `yaml:"transport"`
	Buffer    BufferConfig    `yaml:"buffer"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type TransportConfig struct {
	// Paths is the number of QUIC connections a client opens per session.
	Paths int `yaml:"paths"`
	// ChunkSize is the maximum payload of one data frame.
	ChunkSize        int           `yaml:"chunk_size"`
	MaxPacketSize    int           `yaml:"max_packet_size"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	KeepAlive        time.Duration `yaml:"keep_alive"`
	MaxIdleTimeout   time.Duration `yaml:"max_idle_timeout"`
	ALPN             string        `yaml:"alpn"`
}

type BufferConfig struct {
	// DuplicatePolicy is "reject" or "replace".
	DuplicatePolicy string `yaml:"duplicate_policy"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type MetricsConfig struct {
	// Listen is the address of the Prometheus endpoint; empty disables it.
	Listen string `yaml:"listen"`
	Path   string `yaml:"path"`
}

// Default returns a configuration with every field populated.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a YAML file, fills in defaults and validates the result.
func Load(path string) (*Config, error) {
	// #nosec G304 -- the path comes from the operator's command line.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read YAML file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes, fills in defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg as YAML.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write YAML file: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	t := &c.Transport
	if t.Paths == 0 {
		t.Paths = DefaultPaths
	}
	if t.ChunkSize == 0 {
		t.ChunkSize = DefaultChunkSize
	}
	if t.MaxPacketSize == 0 {
		t.MaxPacketSize = DefaultMaxPacketSize
	}
	if t.HandshakeTimeout == 0 {
		t.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if t.KeepAlive == 0 {
		t.KeepAlive = DefaultKeepAlive
	}
	if t.MaxIdleTimeout == 0 {
		t.MaxIdleTimeout = DefaultMaxIdleTimeout
	}
	if t.ALPN == "" {
		t.ALPN = DefaultALPN
	}
	if c.Buffer.DuplicatePolicy == "" {
		c.Buffer.DuplicatePolicy = "reject"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	t := c.Transport
	if t.Paths < 1 || t.Paths > 64 {
		return fmt.Errorf("transport.paths must be between 1 and 64, got %d", t.Paths)
	}
	if t.ChunkSize < 1 {
		return fmt.Errorf("transport.chunk_size must be positive, got %d", t.ChunkSize)
	}
	if minPacket := t.ChunkSize + protocol.FrameHeaderSize + protocol.MaxPacketOverhead; t.MaxPacketSize < minPacket {
		return fmt.Errorf("transport.max_packet_size %d cannot hold a %d byte chunk (need %d)", t.MaxPacketSize, t.ChunkSize, minPacket)
	}
	if t.MaxPacketSize > protocol.MaxPacketSize {
		return fmt.Errorf("transport.max_packet_size must not exceed %d, got %d", protocol.MaxPacketSize, t.MaxPacketSize)
	}
	if t.HandshakeTimeout < 0 || t.KeepAlive < 0 || t.MaxIdleTimeout < 0 {
		return fmt.Errorf("transport timeouts must not be negative")
	}
	switch c.Buffer.DuplicatePolicy {
	case "reject", "replace":
	case "allow":
		// failover resends whole batches, so a session always sees duplicates
		return fmt.Errorf("buffer.duplicate_policy allow cannot be used by sessions; use reject or replace")
	default:
		return fmt.Errorf("buffer.duplicate_policy must be reject or replace, got %q", c.Buffer.DuplicatePolicy)
	}
	return nil
}

// ApplyEnv overrides a few fields from PREFIX_* environment variables
// (PREFIX_PATHS, PREFIX_CHUNK_SIZE, PREFIX_LOG_LEVEL, PREFIX_METRICS_LISTEN).
func (c *Config) ApplyEnv(prefix string) error {
	if prefix == "" {
		prefix = "REORDER"
	}
	lookup := func(name string) (string, bool) {
		return os.LookupEnv(strings.ToUpper(prefix + "_" + name))
	}
	if v, ok := lookup("PATHS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s_PATHS: %w", prefix, err)
		}
		c.Transport.Paths = n
	}
	if v, ok := lookup("CHUNK_SIZE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s_CHUNK_SIZE: %w", prefix, err)
		}
		c.Transport.ChunkSize = n
	}
	if v, ok := lookup("LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := lookup("METRICS_LISTEN"); ok {
		c.Metrics.Listen = v
	}
	return c.Validate()
}

// QUICConfig translates the transport section into a quic-go configuration.
func (c *Config) QUICConfig() *quic.Config {
	return &quic.Config{
		HandshakeIdleTimeout: c.Transport.HandshakeTimeout,
		MaxIdleTimeout:       c.Transport.MaxIdleTimeout,
		KeepAlivePeriod:      c.Transport.KeepAlive,
	}
}
