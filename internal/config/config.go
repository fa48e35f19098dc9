// Package config loads and validates the bridge configuration. The route
// table and filter rules are compiled here, at load time; the router only
// ever consumes the resolved Table.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"bridgex/internal/filter"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for BridgeX, loaded from bridge.yaml.
type Config struct {
	Logging  LoggingConfig  `yaml:"logging"`
	Telegram TelegramConfig `yaml:"telegram"`
	Discord  DiscordConfig  `yaml:"discord"`
	IRC      IRCConfig      `yaml:"irc"`

	// Bridges is the bridge link table: each entry mirrors a set of
	// endpoints written as "platform/group_id".
	Bridges []BridgeSpec `yaml:"bridges"`

	// FilterFile holds global filter rules applied to every route, in
	// addition to any inline per-bridge rules. Relative paths resolve
	// against the directory of bridge.yaml.
	FilterFile string `yaml:"filter_file,omitempty"`

	Pastebin PastebinConfig `yaml:"pastebin"`
	Media    MediaConfig    `yaml:"media"`
	Identity IdentityConfig `yaml:"identity"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Web      WebConfig      `yaml:"web"`
	Bus      BusConfig      `yaml:"bus"`
}

type LoggingConfig struct {
	Level string `yaml:"level"` // debug | info | warn | error
	Path  string `yaml:"path,omitempty"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	// NickStyle selects the relayed display name: "username" or "name".
	NickStyle      string `yaml:"nick_style,omitempty"`
	PlatformPrefix string `yaml:"platform_prefix,omitempty"`
}

type DiscordConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	// NickStyle selects the relayed display name: "nickname" or "account".
	NickStyle      string `yaml:"nick_style,omitempty"`
	PlatformPrefix string `yaml:"platform_prefix,omitempty"`
}

type IRCConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	SSL            bool   `yaml:"ssl"`
	Nick           string `yaml:"nick"`
	RealName       string `yaml:"real_name,omitempty"`
	NickServPass   string `yaml:"nickserv_password,omitempty"`
	PlatformPrefix string `yaml:"platform_prefix,omitempty"`
}

// BridgeSpec is one configured bridge link.
type BridgeSpec struct {
	Groups  []string          `yaml:"groups"`
	Filters []filter.RuleSpec `yaml:"filters,omitempty"`
}

type PastebinConfig struct {
	// Mode "http" POSTs to Endpoint; mode "self" writes files under Dir
	// and links them below PublicURL; empty disables uploads so overflow
	// degrades to hard truncation.
	Mode      string `yaml:"mode,omitempty"`
	Endpoint  string `yaml:"endpoint,omitempty"`
	AuthToken string `yaml:"auth_token,omitempty"`
	Dir       string `yaml:"dir,omitempty"`
	PublicURL string `yaml:"public_url,omitempty"`
}

type MediaConfig struct {
	MaxFetchBytes       int64 `yaml:"max_fetch_bytes"`
	FetchTimeoutSeconds int   `yaml:"fetch_timeout_seconds"`
}

type IdentityConfig struct {
	TTLHours     int    `yaml:"ttl_hours"`
	SweepMinutes int    `yaml:"sweep_minutes"`
	MaxEntries   int    `yaml:"max_entries"`
	JournalPath  string `yaml:"journal_path,omitempty"`
}

type DispatchConfig struct {
	MaxAttempts        int `yaml:"max_attempts"`
	BaseBackoffMS      int `yaml:"base_backoff_ms"`
	CallTimeoutSeconds int `yaml:"call_timeout_seconds"`
	RatePerMinute      int `yaml:"rate_per_minute"`
}

type WebConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token,omitempty"`
}

type BusConfig struct {
	Buffer int `yaml:"buffer"`
}

// DefaultConfigDir returns ~/.bridgex.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".bridgex"
	}
	return filepath.Join(home, ".bridgex")
}

// DefaultConfigPath returns ~/.bridgex/bridge.yaml.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "bridge.yaml")
}

// Load reads, defaults and validates a bridge.yaml. The returned config has
// FilterFile resolved to an absolute path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Defaults()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.FilterFile != "" && !filepath.IsAbs(cfg.FilterFile) {
		cfg.FilterFile = filepath.Join(filepath.Dir(path), cfg.FilterFile)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config back as YAML.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate checks structural consistency. Filter regexes are validated by
// BuildTable, which compiles them.
func (c *Config) Validate() error {
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}

	if len(c.Bridges) == 0 {
		return fmt.Errorf("bridges: at least one bridge link required")
	}
	for i, b := range c.Bridges {
		if len(b.Groups) < 2 {
			return fmt.Errorf("bridges[%d]: a bridge needs at least two groups", i)
		}
		for _, g := range b.Groups {
			if _, err := ParseEndpoint(g); err != nil {
				return fmt.Errorf("bridges[%d]: %w", i, err)
			}
		}
	}

	if c.Telegram.Enabled && c.Telegram.Token == "" {
		return fmt.Errorf("telegram: enabled but no token")
	}
	if c.Discord.Enabled && c.Discord.Token == "" {
		return fmt.Errorf("discord: enabled but no token")
	}
	if c.IRC.Enabled {
		if c.IRC.Host == "" {
			return fmt.Errorf("irc: enabled but no host")
		}
		if c.IRC.Nick == "" {
			return fmt.Errorf("irc: enabled but no nick")
		}
	}

	switch c.Pastebin.Mode {
	case "", "http", "self":
	default:
		return fmt.Errorf("pastebin.mode: unknown mode %q", c.Pastebin.Mode)
	}
	if c.Pastebin.Mode == "http" && c.Pastebin.Endpoint == "" {
		return fmt.Errorf("pastebin: http mode needs an endpoint")
	}
	if c.Pastebin.Mode == "self" && (c.Pastebin.Dir == "" || c.Pastebin.PublicURL == "") {
		return fmt.Errorf("pastebin: self mode needs dir and public_url")
	}

	if c.Dispatch.MaxAttempts < 1 {
		return fmt.Errorf("dispatch.max_attempts: must be >= 1")
	}
	return nil
}
