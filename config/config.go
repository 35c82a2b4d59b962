// Package config loads host configuration from TOML or YAML files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/extension-host/bridge"
	"github.com/wippyai/extension-host/compat"
	"github.com/wippyai/extension-host/engine"
	"github.com/wippyai/extension-host/errors"
	"github.com/wippyai/extension-host/manifest"
	"github.com/wippyai/extension-host/registry"
)

// Config is the full host configuration.
type Config struct {
	Store  Store  `toml:"store" yaml:"store"`
	Host   Host   `toml:"host" yaml:"host"`
	Pool   Pool   `toml:"pool" yaml:"pool"`
	Call   Call   `toml:"call" yaml:"call"`
	Fetch  Fetch  `toml:"fetch" yaml:"fetch"`
	Engine Engine `toml:"engine" yaml:"engine"`
	Log    Log    `toml:"log" yaml:"log"`

	// Path is the file the configuration was read from (set at load time).
	Path string `toml:"-" yaml:"-"`
}

// Store locates the module binary store.
type Store struct {
	Root        string `toml:"root" yaml:"root"`
	Concurrency int    `toml:"concurrency" yaml:"concurrency"`
}

// Host describes the provider interface served.
type Host struct {
	InterfaceVersion string `toml:"interface_version" yaml:"interface_version"`
}

// Pool sizes instance pools. Overrides are keyed by provider name or id.
type Pool struct {
	Overrides map[string]int `toml:"overrides" yaml:"overrides"`
	Size      int            `toml:"size" yaml:"size"`
	Eager     bool           `toml:"eager" yaml:"eager"`
}

// Call bounds provider operations.
type Call struct {
	Timeout Duration `toml:"timeout" yaml:"timeout"`
}

// Fetch bounds the network capability.
type Fetch struct {
	UserAgent      string   `toml:"user_agent" yaml:"user_agent"`
	AllowedSchemes []string `toml:"allowed_schemes" yaml:"allowed_schemes"`
	Timeout        Duration `toml:"timeout" yaml:"timeout"`
	RatePerSecond  float64  `toml:"rate_per_second" yaml:"rate_per_second"`
	Burst          int      `toml:"burst" yaml:"burst"`
	MaxBodyBytes   int64    `toml:"max_body_bytes" yaml:"max_body_bytes"`
}

// Engine configures the sandbox runtime.
type Engine struct {
	CacheDir         string `toml:"cache_dir" yaml:"cache_dir"`
	MemoryLimitPages uint32 `toml:"memory_limit_pages" yaml:"memory_limit_pages"`
	MaxPayloadBytes  uint32 `toml:"max_payload_bytes" yaml:"max_payload_bytes"`
	WASI             bool   `toml:"wasi" yaml:"wasi"`
}

// Log configures the process logger.
type Log struct {
	Level       string `toml:"level" yaml:"level"`
	Development bool   `toml:"development" yaml:"development"`
}

// Duration is a time.Duration written as a string such as "30s".
type Duration struct {
	time.Duration
}

// UnmarshalText parses a duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText formats the duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Store: Store{Root: "plugins", Concurrency: 4},
		Host:  Host{InterfaceVersion: registry.InterfaceVersion.String()},
		Pool:  Pool{Size: registry.DefaultPoolSize},
		Call:  Call{Timeout: Duration{60 * time.Second}},
		Fetch: Fetch{
			Timeout:        Duration{bridge.DefaultFetchTimeout},
			UserAgent:      bridge.DefaultUserAgent,
			AllowedSchemes: []string{"https", "http"},
			MaxBodyBytes:   bridge.DefaultMaxBodyBytes,
			RatePerSecond:  4,
			Burst:          8,
		},
		Engine: Engine{MemoryLimitPages: 1024},
		Log:    Log{Level: "info"},
	}
}

// Load reads path over the defaults. The format follows the extension:
// .toml, .yml or .yaml. Relative store roots are resolved against the
// file's directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindIO, err, "cannot read "+path)
	}

	cfg := Default()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	case ".yml", ".yaml":
		err = yaml.Unmarshal(data, cfg)
	default:
		return nil, errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("unsupported config format %q", ext))
	}
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindMalformed, err, "parse error in "+path)
	}

	cfg.Path = path
	if cfg.Store.Root != "" && !filepath.IsAbs(cfg.Store.Root) {
		cfg.Store.Root = filepath.Join(filepath.Dir(path), cfg.Store.Root)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf(format, args...))
	}
	if c.Store.Root == "" {
		return invalid("store.root is required")
	}
	if _, err := c.Interface(); err != nil {
		return err
	}
	if c.Pool.Size < 1 {
		return invalid("pool.size must be at least 1, got %d", c.Pool.Size)
	}
	for k, n := range c.Pool.Overrides {
		if n < 1 {
			return invalid("pool.overrides.%s must be at least 1, got %d", k, n)
		}
	}
	if c.Call.Timeout.Duration <= 0 {
		return invalid("call.timeout must be positive")
	}
	if c.Fetch.Timeout.Duration <= 0 {
		return invalid("fetch.timeout must be positive")
	}
	if c.Fetch.RatePerSecond < 0 || c.Fetch.Burst < 0 {
		return invalid("fetch rate limits must not be negative")
	}
	for _, s := range c.Fetch.AllowedSchemes {
		if s != "http" && s != "https" {
			return invalid("fetch.allowed_schemes: unsupported scheme %q", s)
		}
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level: %v", err)
	}
	return nil
}

// Interface returns the interface line served.
func (c *Config) Interface() (compat.Range, error) {
	v, err := compat.ParseVersion(c.Host.InterfaceVersion)
	if err != nil {
		return compat.Range{}, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Detail("host.interface_version").
			Cause(err).
			Build()
	}
	return compat.RangeOf(v), nil
}

// PoolSize returns the pool size for a provider, honoring overrides by
// name first and then by id.
func (c *Config) PoolSize(meta manifest.Metadata) int {
	if n, ok := c.Pool.Overrides[meta.Name]; ok {
		return n
	}
	if n, ok := c.Pool.Overrides[strconv.FormatInt(meta.ID, 10)]; ok {
		return n
	}
	return c.Pool.Size
}

// EngineConfig returns the sandbox runtime settings.
func (c *Config) EngineConfig() *engine.Config {
	return &engine.Config{
		CacheDir:         c.Engine.CacheDir,
		MemoryLimitPages: c.Engine.MemoryLimitPages,
		MaxPayloadBytes:  c.Engine.MaxPayloadBytes,
		WASI:             c.Engine.WASI,
	}
}

// HostConfig returns the network capability settings.
func (c *Config) HostConfig() bridge.HostConfig {
	return bridge.HostConfig{
		UserAgent:      c.Fetch.UserAgent,
		AllowedSchemes: c.Fetch.AllowedSchemes,
		Timeout:        c.Fetch.Timeout.Duration,
		RatePerSecond:  c.Fetch.RatePerSecond,
		Burst:          c.Fetch.Burst,
		MaxBodyBytes:   c.Fetch.MaxBodyBytes,
	}
}
