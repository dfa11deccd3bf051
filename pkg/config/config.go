package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Default configuration values exported for documentation and validation
const (
	DefaultBind             = "127.0.0.1:8888"
	DefaultBaseURL          = "http://127.0.0.1:8888"
	DefaultPushPath         = "/ws"
	DefaultActionBarPath    = "/static/gen/action_bar.html"
	DefaultMaxPushClients   = 64
	DefaultStartRate        = 5.0
	DefaultStartBurst       = 10
	DefaultBusName          = "actionator"
	DefaultBusTimeout       = 10 * time.Second
	DefaultRequestTimeout   = 15 * time.Second
	DefaultReconnectMin     = 500 * time.Millisecond
	DefaultReconnectMax     = 30 * time.Second
	DefaultTracingService   = "actionator"
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "json"
	DefaultMaxRequestBodyKB = 64
)

// Config is the root configuration for both the server and the dashboard
// client.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Bus     BusConfig     `yaml:"bus"`
	Storage StorageConfig `yaml:"storage"`
	Actions ActionsConfig `yaml:"actions"`
	Client  ClientConfig  `yaml:"client"`
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
}

// ServerConfig controls the HTTP/WebSocket server.
type ServerConfig struct {
	Bind             string   `yaml:"bind"`
	AllowedOrigins   []string `yaml:"allowed_origins"`
	MaxPushClients   int      `yaml:"max_push_clients"`
	StartRate        float64  `yaml:"start_rate_per_second"`
	StartBurst       int      `yaml:"start_burst"`
	MaxRequestBodyKB int      `yaml:"max_request_body_kb"`
}

// BusConfig selects the message bus carrying progress frames. An empty URL
// keeps everything in process.
type BusConfig struct {
	URL     string        `yaml:"url"`
	Name    string        `yaml:"name"`
	Timeout time.Duration `yaml:"timeout"`
}

// StorageConfig controls the run history database. An empty path disables it.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// ActionsConfig points at the optional command-action definitions file.
type ActionsConfig struct {
	File     string `yaml:"file"`
	Builtins bool   `yaml:"builtins"`
	// Watch reloads File whenever it changes on disk.
	Watch bool `yaml:"watch"`
}

// ClientConfig drives the dashboard client (router, invoker, panels).
type ClientConfig struct {
	BaseURL        string        `yaml:"base_url"`
	PushPath       string        `yaml:"push_path"`
	ActionBarPath  string        `yaml:"action_bar_path"`
	Reconnect      bool          `yaml:"reconnect"`
	ReconnectMin   time.Duration `yaml:"reconnect_min"`
	ReconnectMax   time.Duration `yaml:"reconnect_max"`
	UniqueRuns     bool          `yaml:"unique_runs"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// LoggingConfig selects log level and format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig toggles OpenTelemetry tracing.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Bind:             DefaultBind,
			AllowedOrigins:   []string{"http://localhost", "http://127.0.0.1"},
			MaxPushClients:   DefaultMaxPushClients,
			StartRate:        DefaultStartRate,
			StartBurst:       DefaultStartBurst,
			MaxRequestBodyKB: DefaultMaxRequestBodyKB,
		},
		Bus: BusConfig{
			Name:    DefaultBusName,
			Timeout: DefaultBusTimeout,
		},
		Actions: ActionsConfig{
			Builtins: true,
			Watch:    true,
		},
		Client: ClientConfig{
			BaseURL:        DefaultBaseURL,
			PushPath:       DefaultPushPath,
			ActionBarPath:  DefaultActionBarPath,
			Reconnect:      true,
			ReconnectMin:   DefaultReconnectMin,
			ReconnectMax:   DefaultReconnectMax,
			RequestTimeout: DefaultRequestTimeout,
		},
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Tracing: TracingConfig{
			ServiceName: DefaultTracingService,
		},
	}
}

// Load loads configuration from default locations with proper precedence:
// defaults, ~/.actionator/config.yaml, ./.actionator/config.yaml, then
// ACTIONATOR_* environment variables.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	if home != "" {
		userConfigPath := filepath.Join(home, ".actionator", "config.yaml")
		if err := loadAndMerge(cfg, userConfigPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("loading user config: %w", err)
		}
	}

	projectConfigPath := filepath.Join(".", ".actionator", "config.yaml")
	if err := loadAndMerge(cfg, projectConfigPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading project config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file path
func LoadFromPath(path string) (*Config, error) {
	cfg := DefaultConfig()

	if err := loadAndMerge(cfg, path); err != nil {
		return nil, fmt.Errorf("loading config from %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ACTIONATOR_BIND"); v != "" {
		cfg.Server.Bind = v
	}
	if v := os.Getenv("ACTIONATOR_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitCommaList(v)
	}
	if v := os.Getenv("ACTIONATOR_NATS_URL"); v != "" {
		cfg.Bus.URL = v
	}
	if v := os.Getenv("ACTIONATOR_DB"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("ACTIONATOR_ACTIONS_FILE"); v != "" {
		cfg.Actions.File = v
	}
	if v, ok := envBool("ACTIONATOR_WATCH_ACTIONS"); ok {
		cfg.Actions.Watch = v
	}
	if v := os.Getenv("ACTIONATOR_BASE_URL"); v != "" {
		cfg.Client.BaseURL = v
	}
	if v, ok := envBool("ACTIONATOR_UNIQUE_RUNS"); ok {
		cfg.Client.UniqueRuns = v
	}
	if v, ok := envBool("ACTIONATOR_RECONNECT"); ok {
		cfg.Client.Reconnect = v
	}
	if v := os.Getenv("ACTIONATOR_START_RATE"); v != "" {
		if rate, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Server.StartRate = rate
		}
	}
	if v := os.Getenv("ACTIONATOR_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ACTIONATOR_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v, ok := envBool("ACTIONATOR_TRACING"); ok {
		cfg.Tracing.Enabled = v
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Bind) == "" {
		return fmt.Errorf("server.bind is required")
	}
	if _, _, err := net.SplitHostPort(c.Server.Bind); err != nil {
		return fmt.Errorf("invalid server.bind %q: %w", c.Server.Bind, err)
	}
	if c.Server.MaxPushClients < 0 {
		return fmt.Errorf("server.max_push_clients must be >= 0")
	}
	if c.Server.StartRate < 0 {
		return fmt.Errorf("server.start_rate_per_second must be >= 0")
	}
	if c.Server.StartRate > 0 && c.Server.StartBurst <= 0 {
		return fmt.Errorf("server.start_burst must be > 0 when a start rate is set")
	}

	base, err := url.Parse(c.Client.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return fmt.Errorf("invalid client.base_url %q", c.Client.BaseURL)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return fmt.Errorf("client.base_url must be http or https, got %q", base.Scheme)
	}
	if !strings.HasPrefix(c.Client.PushPath, "/") {
		return fmt.Errorf("client.push_path must start with /")
	}
	if c.Client.Reconnect {
		if c.Client.ReconnectMin <= 0 || c.Client.ReconnectMax < c.Client.ReconnectMin {
			return fmt.Errorf("client reconnect backoff must satisfy 0 < reconnect_min <= reconnect_max")
		}
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("invalid logging.format: %s (valid: json, text)", c.Logging.Format)
	}

	if c.Bus.URL != "" {
		u, err := url.Parse(c.Bus.URL)
		if err != nil || u.Scheme == "" {
			return fmt.Errorf("invalid bus.url %q", c.Bus.URL)
		}
	}
	return nil
}

// PushURL returns the WebSocket URL of the shared push channel.
func (c ClientConfig) PushURL() string {
	base := strings.TrimRight(c.BaseURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + c.PushPath
}

func splitCommaList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envBool(key string) (bool, bool) {
	val := os.Getenv(key)
	if val == "" {
		return false, false
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}
