package config

import (
	"fmt"
	"os"
	"strconv"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/me/gobs/pkg/model"
)

// Config holds the daemon configuration. Fields tagged yaml can be set in
// the config file; a subset of them is additionally settable at runtime
// through the set_config RPC (see Set).
type Config struct {
	mu sync.RWMutex

	// NCPUs is the CPU capacity of this node.
	NCPUs int `yaml:"ncpus"`

	// Nodename identifies this node; defaults to the OS hostname.
	Nodename string `yaml:"nodename"`

	// Root is the directory job script paths are resolved against.
	Root string `yaml:"root"`

	// DefaultPriority is assigned to submissions that carry none.
	DefaultPriority int `yaml:"default_priority"`

	// Addr is the TCP listen address of the RPC server.
	Addr string `yaml:"addr"`

	// HTTPAddr is the listen address of the read-only status API;
	// empty disables it.
	HTTPAddr string `yaml:"http_addr"`

	// DBPath is the SQLite database path (":memory:" for testing).
	DBPath string `yaml:"db"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Notification endpoints. Empty values disable the respective channel.
	MailFrom     string `yaml:"mail_from"`
	SMTPHost     string `yaml:"smtp_host"`
	SlackToken   string `yaml:"slack_token"`
	SlackChannel string `yaml:"slack_channel"`
}

// DefaultPort is the well-known RPC port of the daemon.
const DefaultPort = 16219

// Default returns the daemon defaults. Nodename falls back to the hostname.
func Default() *Config {
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	return &Config{
		NCPUs:     4,
		Nodename:  host,
		Root:      "/",
		Addr:      fmt.Sprintf(":%d", DefaultPort),
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads a YAML config file over the defaults. An empty path returns
// the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.NCPUs < 1 {
		return nil, fmt.Errorf("config %s: ncpus must be at least 1", path)
	}
	return cfg, nil
}

// Map returns the runtime-visible configuration as string key/value pairs,
// the shape the get_config RPC reports.
func (c *Config) Map() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return map[string]string{
		"ncpus":            strconv.Itoa(c.NCPUs),
		"nodename":         c.Nodename,
		"root":             c.Root,
		"default_priority": strconv.Itoa(c.DefaultPriority),
		"mail_from":        c.MailFrom,
		"smtp_host":        c.SMTPHost,
		"slack_token":      c.SlackToken,
		"slack_channel":    c.SlackChannel,
	}
}

// Set updates one runtime-settable key. Unknown keys and unparseable values
// are rejected with a CONFIG_ERROR; nothing else is mutable after startup.
func (c *Config) Set(key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch key {
	case "ncpus":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			return model.NewConfigError("ncpus must be a positive integer, got %q", value)
		}
		c.NCPUs = n
	case "nodename":
		if value == "" {
			return model.NewConfigError("nodename must not be empty")
		}
		c.Nodename = value
	case "root":
		if value == "" {
			return model.NewConfigError("root must not be empty")
		}
		c.Root = value
	case "default_priority":
		n, err := strconv.Atoi(value)
		if err != nil {
			return model.NewConfigError("default_priority must be an integer, got %q", value)
		}
		c.DefaultPriority = n
	case "mail_from":
		c.MailFrom = value
	case "smtp_host":
		c.SMTPHost = value
	case "slack_token":
		c.SlackToken = value
	case "slack_channel":
		c.SlackChannel = value
	default:
		return model.NewConfigError("unknown config key %q", key)
	}
	return nil
}

// GetNCPUs returns the configured CPU capacity.
func (c *Config) GetNCPUs() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.NCPUs
}

// GetNodename returns the configured node name.
func (c *Config) GetNodename() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Nodename
}

// GetRoot returns the job root directory.
func (c *Config) GetRoot() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Root
}

// GetDefaultPriority returns the priority for submissions without one.
func (c *Config) GetDefaultPriority() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.DefaultPriority
}

// Mail returns the mail notification endpoint (from, smtp host).
func (c *Config) Mail() (from, host string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.MailFrom, c.SMTPHost
}

// Slack returns the chat notification endpoint (token, channel).
func (c *Config) Slack() (token, channel string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.SlackToken, c.SlackChannel
}
