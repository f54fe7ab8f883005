// Package config provides YAML configuration for the opix command.
//
// A configuration file describes one tracked deployment: where events go,
// how they are delivered, where visitor identity is kept and, for the
// simulation commands, the page being tracked.
//
// Example configuration:
//
//	function_name: strk
//	endpoint: https://collect.example.com/p
//	tracker_id: ${OPIX_SITE:-SITE-123}
//	format: json
//
//	transport:
//	  fetch_timeout: 10s
//	  outbound_window: 5s
//	  beacon:
//	    queue_size: 256
//	    rate: 50
//
//	identity:
//	  driver: sqlite
//	  path: ./opix.db
//
//	page:
//	  url: https://shop.example.com/?utm_source=news
//	  title: Shop
//	  screen: 1920x1080
//
// Values in the file may reference environment variables as ${VAR} or
// ${VAR:-default}. Selected settings can also be overridden wholesale from
// OPIX_* variables, see [ApplyEnv].
package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/jpalmerr/opix"
)

// Identity drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

const (
	defaultFunctionName = "strk"
	defaultVersion      = "1"
	defaultLogLevel     = "info"
	defaultLogFormat    = "text"
)

// functionNamePattern restricts function names to script identifiers.
var functionNamePattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// Config is the root configuration structure.
//
// It maps directly to the YAML configuration file structure.
// Use [Load] or [Parse] to create a Config from YAML.
type Config struct {
	// FunctionName is the page-level invocation function. It namespaces
	// identity keys. Defaults to "strk".
	FunctionName string `yaml:"function_name"`

	// Endpoint is the collection URL. Required.
	Endpoint string `yaml:"endpoint"`

	// Version is the protocol version. Defaults to "1".
	Version string `yaml:"version"`

	// TrackerID pre-initialises the tracker. Optional.
	TrackerID string `yaml:"tracker_id"`

	// Format is "json" (default) or "query".
	Format string `yaml:"format"`

	Transport TransportConfig `yaml:"transport"`
	Identity  IdentityConfig  `yaml:"identity"`
	Page      PageConfig      `yaml:"page"`
	Log       LogConfig       `yaml:"log"`
}

// TransportConfig tunes the delivery chain.
type TransportConfig struct {
	// FetchTimeout bounds fallback requests. Defaults to 10s.
	FetchTimeout Duration `yaml:"fetch_timeout"`

	// OutboundWindow is how recent an outbound click must be to be merged
	// into page close. Defaults to 5s.
	OutboundWindow Duration `yaml:"outbound_window"`

	Beacon BeaconConfig `yaml:"beacon"`
}

// BeaconConfig tunes the primary tier. Zero values take the SDK defaults.
type BeaconConfig struct {
	// Enabled defaults to true.
	Enabled      *bool    `yaml:"enabled"`
	QueueSize    int      `yaml:"queue_size"`
	Workers      int      `yaml:"workers"`
	MaxBodyBytes int      `yaml:"max_body_bytes"`
	Rate         float64  `yaml:"rate"`
	Burst        int      `yaml:"burst"`
	Timeout      Duration `yaml:"timeout"`
}

// IdentityConfig selects the identity jar.
type IdentityConfig struct {
	// Driver is "memory" (default), "sqlite" or "redis".
	Driver string `yaml:"driver"`

	// Path is the SQLite database file.
	Path string `yaml:"path"`

	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig locates a shared identity jar.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// Prefix namespaces keys. Defaults to "opix:".
	Prefix string `yaml:"prefix"`
}

// PageConfig describes the simulated page.
type PageConfig struct {
	URL      string `yaml:"url"`
	Referrer string `yaml:"referrer"`
	Title    string `yaml:"title"`
	Charset  string `yaml:"charset"`
	Screen   Size   `yaml:"screen"`
	Viewport Size   `yaml:"viewport"`

	ColorDepth int `yaml:"color_depth"`

	// TimezoneOffset is minutes behind UTC. Defaults to the local zone.
	TimezoneOffset *int `yaml:"timezone_offset"`

	UserAgent   string `yaml:"user_agent"`
	TouchPoints int    `yaml:"touch_points"`
}

// LogConfig configures the command's logger.
type LogConfig struct {
	// Level is debug, info (default), warn or error.
	Level string `yaml:"level"`

	// Format is text (default) or json.
	Format string `yaml:"format"`
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Size wraps opix.Size for YAML "WxH" values.
type Size opix.Size

// UnmarshalYAML implements yaml.Unmarshaler for Size.
func (s *Size) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if strings.TrimSpace(raw) == "" {
		*s = Size{}
		return nil
	}

	parsed, err := opix.ParseSize(raw)
	if err != nil {
		return err
	}
	*s = Size(parsed)
	return nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		hasDefault := len(submatches) > 2 && submatches[2] != ""
		defaultVal := ""
		if hasDefault && len(submatches) > 3 {
			defaultVal = submatches[3]
		}

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return defaultVal
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a YAML configuration file, then applies OPIX_*
// environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse parses YAML configuration data.
//
// Environment variables are expanded in endpoint, tracker_id, identity and
// page.url values. Defaults are applied before validation.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.expand(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied and no endpoint.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.FunctionName == "" {
		c.FunctionName = defaultFunctionName
	}
	if c.Version == "" {
		c.Version = defaultVersion
	}
	if c.Format == "" {
		c.Format = opix.FormatJSON.String()
	}
	if c.Identity.Driver == "" {
		c.Identity.Driver = DriverMemory
	}
	if c.Identity.Redis.Prefix == "" {
		c.Identity.Redis.Prefix = "opix:"
	}
	if c.Log.Level == "" {
		c.Log.Level = defaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = defaultLogFormat
	}
}

// expand substitutes environment references in the fields that carry
// deployment-specific values.
func (c *Config) expand() error {
	fields := []struct {
		name string
		ptr  *string
	}{
		{"endpoint", &c.Endpoint},
		{"tracker_id", &c.TrackerID},
		{"identity.path", &c.Identity.Path},
		{"identity.redis.addr", &c.Identity.Redis.Addr},
		{"identity.redis.password", &c.Identity.Redis.Password},
		{"page.url", &c.Page.URL},
	}
	for _, f := range fields {
		expanded, err := expandEnvVars(*f.ptr)
		if err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
		*f.ptr = expanded
	}
	return nil
}

// envOverlay holds the OPIX_* overrides read by [ApplyEnv].
type envOverlay struct {
	FunctionName string `env:"OPIX_PIXEL_FUNC_NAME"`
	Endpoint     string `env:"OPIX_PIXEL_ENDPOINT"`
	Version      string `env:"OPIX_VERSION"`
	TrackerID    string `env:"OPIX_TRACKER_ID"`
	Format       string `env:"OPIX_FORMAT"`
	LogLevel     string `env:"OPIX_LOG_LEVEL"`
	Driver       string `env:"OPIX_IDENTITY_DRIVER"`
	RedisAddr    string `env:"OPIX_REDIS_ADDR"`
}

// ApplyEnv overrides cfg with any non-empty OPIX_* variables and
// revalidates it.
//
//	OPIX_PIXEL_FUNC_NAME  function_name
//	OPIX_PIXEL_ENDPOINT   endpoint
//	OPIX_VERSION          version
//	OPIX_TRACKER_ID       tracker_id
//	OPIX_FORMAT           format
//	OPIX_LOG_LEVEL        log.level
//	OPIX_IDENTITY_DRIVER  identity.driver
//	OPIX_REDIS_ADDR       identity.redis.addr
func ApplyEnv(cfg *Config) error {
	var overlay envOverlay
	if err := env.Parse(&overlay); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	override := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	override(&cfg.FunctionName, overlay.FunctionName)
	override(&cfg.Endpoint, overlay.Endpoint)
	override(&cfg.Version, overlay.Version)
	override(&cfg.TrackerID, overlay.TrackerID)
	override(&cfg.Format, overlay.Format)
	override(&cfg.Log.Level, overlay.LogLevel)
	override(&cfg.Identity.Driver, overlay.Driver)
	override(&cfg.Identity.Redis.Addr, overlay.RedisAddr)

	return cfg.Validate()
}

// Validate checks cfg for errors. Defaults must already be applied.
func (c *Config) Validate() error {
	if !functionNamePattern.MatchString(c.FunctionName) {
		return fmt.Errorf("function_name %q must be a valid identifier", c.FunctionName)
	}
	if c.Version == "" {
		return fmt.Errorf("version is required")
	}

	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return fmt.Errorf("endpoint: invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("endpoint: url scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("endpoint: url must include a host")
	}

	if _, err := opix.ParseFormat(c.Format); err != nil {
		return fmt.Errorf("format: %w", err)
	}

	if err := c.Transport.validate(); err != nil {
		return err
	}
	if err := c.Identity.validate(); err != nil {
		return err
	}
	if err := c.Page.validate(); err != nil {
		return err
	}
	return c.Log.validate()
}

func (t TransportConfig) validate() error {
	if t.FetchTimeout.Duration() < 0 {
		return fmt.Errorf("transport.fetch_timeout cannot be negative, got %s", t.FetchTimeout.Duration())
	}
	if t.OutboundWindow.Duration() < 0 {
		return fmt.Errorf("transport.outbound_window cannot be negative, got %s", t.OutboundWindow.Duration())
	}

	b := t.Beacon
	limits := []struct {
		name  string
		value int
	}{
		{"queue_size", b.QueueSize},
		{"workers", b.Workers},
		{"max_body_bytes", b.MaxBodyBytes},
		{"burst", b.Burst},
	}
	for _, l := range limits {
		if l.value < 0 {
			return fmt.Errorf("transport.beacon.%s cannot be negative, got %d", l.name, l.value)
		}
	}
	if b.Rate < 0 {
		return fmt.Errorf("transport.beacon.rate cannot be negative, got %g", b.Rate)
	}
	if b.Timeout.Duration() < 0 {
		return fmt.Errorf("transport.beacon.timeout cannot be negative, got %s", b.Timeout.Duration())
	}
	return nil
}

func (i IdentityConfig) validate() error {
	switch i.Driver {
	case DriverMemory:
	case DriverSQLite:
		if i.Path == "" {
			return fmt.Errorf("identity (sqlite): path is required")
		}
	case DriverRedis:
		if i.Redis.Addr == "" {
			return fmt.Errorf("identity (redis): redis.addr is required")
		}
		if i.Redis.DB < 0 {
			return fmt.Errorf("identity (redis): redis.db cannot be negative")
		}
	default:
		return fmt.Errorf("identity: unknown driver %q (expected memory, sqlite or redis)", i.Driver)
	}
	return nil
}

func (p PageConfig) validate() error {
	if p.ColorDepth < 0 {
		return fmt.Errorf("page.color_depth cannot be negative")
	}
	if p.TouchPoints < 0 {
		return fmt.Errorf("page.touch_points cannot be negative")
	}
	if p.TimezoneOffset != nil && (*p.TimezoneOffset < -840 || *p.TimezoneOffset > 720) {
		return fmt.Errorf("page.timezone_offset must be between -840 and 720 minutes, got %d", *p.TimezoneOffset)
	}
	return nil
}

func (l LogConfig) validate() error {
	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", l.Level)
	}
	switch strings.ToLower(l.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", l.Format)
	}
	return nil
}
