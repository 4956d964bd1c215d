// ABOUTME: Configuration loading and parsing for the fleet controller and agent
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable consulted when no --config flag is given.
const EnvConfigPath = "FLEET_CONFIG"

// DefaultPath is used when neither the flag nor the environment names a file.
const DefaultPath = "config.yaml"

// Defaults applied by Load and Default.
const (
	DefaultListenPort     = 7070
	DefaultDBPath         = "fleet.db"
	DefaultMaxSessions    = 64
	DefaultHelloTimeout   = 2 * time.Second
	DefaultTickInterval   = time.Second
	DefaultWriteTimeout   = 5 * time.Second
	DefaultMaxMessageSize = 1 << 20
	DefaultPendingTTL     = 10 * time.Minute
	DefaultMaxPending     = 1024
	DefaultAckTimeout     = 2 * time.Second
	DefaultMaxOutputBytes = 256 << 10
	DefaultReconnectMin   = time.Second
	DefaultReconnectMax   = 30 * time.Second
)

// Config represents the complete fleet configuration. The controller reads the
// top-level keys and the controller section; the agent reads the agent section.
type Config struct {
	DBPath     string `yaml:"db_path" toml:"db_path"`
	LogPath    string `yaml:"log_path" toml:"log_path"`
	ListenPort int    `yaml:"listen_port" toml:"listen_port"`
	Nodes      []Node `yaml:"nodes" toml:"nodes"`

	Logging    LoggingConfig    `yaml:"logging" toml:"logging"`
	Controller ControllerConfig `yaml:"controller" toml:"controller"`
	Agent      AgentConfig      `yaml:"agent" toml:"agent"`
}

// Node is a statically configured machine.
type Node struct {
	Name    string `yaml:"name" toml:"name"`
	Address string `yaml:"address" toml:"address"`
	OS      string `yaml:"os" toml:"os"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// ControllerConfig holds controller limits and timing
type ControllerConfig struct {
	MaxSessions    int    `yaml:"max_sessions" toml:"max_sessions"`
	MaxMessageSize int    `yaml:"max_message_size" toml:"max_message_size"`
	MaxPending     int    `yaml:"max_pending" toml:"max_pending"`
	HealthAddr     string `yaml:"health_addr" toml:"health_addr"`

	HelloTimeout      time.Duration `yaml:"-" toml:"-"`
	TickInterval      time.Duration `yaml:"-" toml:"-"`
	WriteTimeout      time.Duration `yaml:"-" toml:"-"`
	HeartbeatInterval time.Duration `yaml:"-" toml:"-"`
	HeartbeatTimeout  time.Duration `yaml:"-" toml:"-"`
	PendingTTL        time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	HelloTimeoutRaw      string `yaml:"hello_timeout" toml:"hello_timeout"`
	TickIntervalRaw      string `yaml:"tick_interval" toml:"tick_interval"`
	WriteTimeoutRaw      string `yaml:"write_timeout" toml:"write_timeout"`
	HeartbeatIntervalRaw string `yaml:"heartbeat_interval" toml:"heartbeat_interval"`
	HeartbeatTimeoutRaw  string `yaml:"heartbeat_timeout" toml:"heartbeat_timeout"`
	PendingTTLRaw        string `yaml:"pending_ttl" toml:"pending_ttl"`
}

// AgentConfig holds node agent settings
type AgentConfig struct {
	ControllerAddr string `yaml:"controller_addr" toml:"controller_addr"`
	Name           string `yaml:"name" toml:"name"`
	Address        string `yaml:"address" toml:"address"`
	OS             string `yaml:"os" toml:"os"`
	Shell          string `yaml:"shell" toml:"shell"`
	MaxOutputBytes int    `yaml:"max_output_bytes" toml:"max_output_bytes"`

	AckTimeout   time.Duration `yaml:"-" toml:"-"`
	ReconnectMin time.Duration `yaml:"-" toml:"-"`
	ReconnectMax time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	AckTimeoutRaw   string `yaml:"ack_timeout" toml:"ack_timeout"`
	ReconnectMinRaw string `yaml:"reconnect_min" toml:"reconnect_min"`
	ReconnectMaxRaw string `yaml:"reconnect_max" toml:"reconnect_max"`
}

// ResolvePath picks the config file: the flag value, else $FLEET_CONFIG, else config.yaml.
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv(EnvConfigPath); env != "" {
		return env
	}
	return DefaultPath
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values and defaults filled in.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a configuration with every default applied and no nodes.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that configuration values are usable.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.ListenPort > 65535 {
		return fmt.Errorf("listen_port %d is out of range", c.ListenPort)
	}

	seen := make(map[string]bool, len(c.Nodes))
	for i, n := range c.Nodes {
		if n.Name == "" {
			return fmt.Errorf("nodes[%d].name is required", i)
		}
		if seen[n.Name] {
			return fmt.Errorf("nodes[%d].name %q is duplicated", i, n.Name)
		}
		seen[n.Name] = true
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}

	if c.Controller.MaxSessions < 0 {
		return fmt.Errorf("controller.max_sessions must not be negative")
	}
	if c.Controller.MaxMessageSize < 0 {
		return fmt.Errorf("controller.max_message_size must not be negative")
	}
	if c.Agent.MaxOutputBytes < 0 {
		return fmt.Errorf("agent.max_output_bytes must not be negative")
	}

	for _, d := range c.durations() {
		if *d.value < 0 {
			return fmt.Errorf("%s must not be negative", d.name)
		}
	}

	cc := c.Controller
	if cc.HeartbeatInterval > 0 && cc.HeartbeatTimeout > 0 && cc.HeartbeatTimeout <= cc.HeartbeatInterval {
		return fmt.Errorf("controller.heartbeat_timeout (%s) must be greater than heartbeat_interval (%s)",
			cc.HeartbeatTimeout, cc.HeartbeatInterval)
	}

	ac := c.Agent
	if ac.ReconnectMin > 0 && ac.ReconnectMax > 0 && ac.ReconnectMax < ac.ReconnectMin {
		return fmt.Errorf("agent.reconnect_max (%s) must not be less than reconnect_min (%s)",
			ac.ReconnectMax, ac.ReconnectMin)
	}

	return nil
}

// ListenAddr is the controller's TCP listen address on all interfaces.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.ListenPort)
}

// NodeByName looks up a configured node.
func (c *Config) NodeByName(name string) (Node, bool) {
	for _, n := range c.Nodes {
		if n.Name == name {
			return n, true
		}
	}
	return Node{}, false
}

func (c *Config) applyDefaults() {
	if c.ListenPort <= 0 {
		c.ListenPort = DefaultListenPort
	}
	if c.DBPath == "" {
		c.DBPath = DefaultDBPath
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	cc := &c.Controller
	if cc.MaxSessions == 0 {
		cc.MaxSessions = DefaultMaxSessions
	}
	if cc.MaxMessageSize == 0 {
		cc.MaxMessageSize = DefaultMaxMessageSize
	}
	if cc.MaxPending == 0 {
		cc.MaxPending = DefaultMaxPending
	}
	if cc.HelloTimeout == 0 {
		cc.HelloTimeout = DefaultHelloTimeout
	}
	if cc.TickInterval == 0 {
		cc.TickInterval = DefaultTickInterval
	}
	if cc.WriteTimeout == 0 {
		cc.WriteTimeout = DefaultWriteTimeout
	}
	if cc.PendingTTL == 0 {
		cc.PendingTTL = DefaultPendingTTL
	}
	if cc.HeartbeatInterval > 0 && cc.HeartbeatTimeout == 0 {
		cc.HeartbeatTimeout = 3 * cc.HeartbeatInterval
	}

	ac := &c.Agent
	if ac.MaxOutputBytes == 0 {
		ac.MaxOutputBytes = DefaultMaxOutputBytes
	}
	if ac.AckTimeout == 0 {
		ac.AckTimeout = DefaultAckTimeout
	}
	if ac.ReconnectMin == 0 {
		ac.ReconnectMin = DefaultReconnectMin
	}
	if ac.ReconnectMax == 0 {
		ac.ReconnectMax = DefaultReconnectMax
	}
	if ac.ReconnectMax < ac.ReconnectMin {
		ac.ReconnectMax = ac.ReconnectMin
	}
}

type durationField struct {
	name  string
	raw   *string
	value *time.Duration
}

func (c *Config) durations() []durationField {
	return []durationField{
		{"controller.hello_timeout", &c.Controller.HelloTimeoutRaw, &c.Controller.HelloTimeout},
		{"controller.tick_interval", &c.Controller.TickIntervalRaw, &c.Controller.TickInterval},
		{"controller.write_timeout", &c.Controller.WriteTimeoutRaw, &c.Controller.WriteTimeout},
		{"controller.heartbeat_interval", &c.Controller.HeartbeatIntervalRaw, &c.Controller.HeartbeatInterval},
		{"controller.heartbeat_timeout", &c.Controller.HeartbeatTimeoutRaw, &c.Controller.HeartbeatTimeout},
		{"controller.pending_ttl", &c.Controller.PendingTTLRaw, &c.Controller.PendingTTL},
		{"agent.ack_timeout", &c.Agent.AckTimeoutRaw, &c.Agent.AckTimeout},
		{"agent.reconnect_min", &c.Agent.ReconnectMinRaw, &c.Agent.ReconnectMin},
		{"agent.reconnect_max", &c.Agent.ReconnectMaxRaw, &c.Agent.ReconnectMax},
	}
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	for _, d := range cfg.durations() {
		if *d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(*d.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", d.name, *d.raw, err)
		}
		*d.value = v
	}
	return nil
}
