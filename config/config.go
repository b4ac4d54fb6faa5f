// Package config loads runtime configuration for the body process.
//
// Values are layered: Default, then an optional TOML file, then environment
// variables. Command-line flags are applied last by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/vinayprograms/cellbus/body"
	"github.com/vinayprograms/cellbus/cells/web"
	"github.com/vinayprograms/cellbus/logging"
	"github.com/vinayprograms/cellbus/telemetry"
)

// Config is the complete runtime configuration.
type Config struct {
	App       AppConfig       `toml:"app"`
	Bus       BusConfig       `toml:"bus"`
	Registry  RegistryConfig  `toml:"registry"`
	Web       WebConfig       `toml:"web"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Log       LogConfig       `toml:"log"`
}

// AppConfig selects what the body runs.
type AppConfig struct {
	// Name of the application to load. Empty runs the interactive flow.
	Name string `toml:"name" env:"CBS_APP"`

	// Dir is the applications root.
	Dir string `toml:"dir" env:"CBS_APPS_DIR"`

	// Demo runs the non-interactive demo.
	Demo bool `toml:"demo" env:"CBS_DEMO_MODE"`

	// MockBus uses the in-process bus instead of NATS.
	MockBus bool `toml:"mock_bus" env:"CBS_MOCK_BUS"`
}

// BusConfig configures the NATS-backed bus.
type BusConfig struct {
	URL                  string        `toml:"url" env:"NATS_URL"`
	Name                 string        `toml:"name" env:"CBS_CLIENT_NAME"`
	RequestTimeout       time.Duration `toml:"request_timeout" env:"CBS_REQUEST_TIMEOUT"`
	ConnectTimeout       time.Duration `toml:"connect_timeout" env:"CBS_CONNECT_TIMEOUT"`
	MaxReconnectAttempts int           `toml:"max_reconnect_attempts" env:"CBS_MAX_RECONNECTS"`
	ReconnectDelay       time.Duration `toml:"reconnect_delay" env:"CBS_RECONNECT_DELAY"`
	BufferSize           int           `toml:"buffer_size" env:"CBS_BUFFER_SIZE"`
}

// RegistryConfig configures the cell directory.
type RegistryConfig struct {
	// Enabled records registered cells in the JetStream KV directory.
	// Ignored with the in-process bus.
	Enabled bool          `toml:"enabled" env:"CBS_REGISTRY"`
	Bucket  string        `toml:"bucket" env:"CBS_REGISTRY_BUCKET"`
	TTL     time.Duration `toml:"ttl" env:"CBS_REGISTRY_TTL"`
}

// WebConfig configures the web cell.
type WebConfig struct {
	Addr      string `toml:"addr" env:"CBS_WEB_ADDR"`
	StaticDir string `toml:"static_dir" env:"CBS_WEB_STATIC_DIR"`
	CORS      bool   `toml:"cors" env:"CBS_WEB_CORS"`

	// GatewayRate limits requests per second per WebSocket session. Zero
	// means unlimited.
	GatewayRate  float64 `toml:"gateway_rate" env:"CBS_WEB_GATEWAY_RATE"`
	GatewayBurst int     `toml:"gateway_burst" env:"CBS_WEB_GATEWAY_BURST"`
}

// TelemetryConfig configures tracing export.
type TelemetryConfig struct {
	// Endpoint is the OTLP collector. Empty disables export.
	Endpoint    string `toml:"endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Protocol    string `toml:"protocol" env:"OTEL_EXPORTER_OTLP_PROTOCOL"`
	ServiceName string `toml:"service_name" env:"OTEL_SERVICE_NAME"`
	Insecure    bool   `toml:"insecure" env:"CBS_OTEL_INSECURE"`
	Debug       bool   `toml:"debug" env:"CBS_OTEL_DEBUG"`

	// SampleRatio is the share of new traces recorded; 0 and 1 record all.
	SampleRatio float64 `toml:"sample_ratio" env:"CBS_OTEL_SAMPLE_RATIO"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `toml:"level" env:"CBS_LOG_LEVEL"`
	Pretty bool   `toml:"pretty" env:"CBS_LOG_PRETTY"`
}

// Default returns the built-in configuration.
func Default() *Config {
	d := body.DefaultConfig()
	return &Config{
		App: AppConfig{
			Dir: "applications",
		},
		Bus: BusConfig{
			URL:                  d.URL,
			Name:                 "cbs-body",
			RequestTimeout:       d.RequestTimeout,
			ConnectTimeout:       d.ConnectTimeout,
			MaxReconnectAttempts: d.MaxReconnectAttempts,
			ReconnectDelay:       d.ReconnectDelay,
			BufferSize:           d.BufferSize,
		},
		Registry: RegistryConfig{
			Enabled: true,
			Bucket:  "cbs-cells",
			TTL:     30 * time.Second,
		},
		Web: WebConfig{
			Addr:      ":8080",
			StaticDir: "web",
			CORS:      true,
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: telemetry.DefaultServiceName,
		},
		Log: LogConfig{
			Level: string(logging.LevelInfo),
		},
	}
}

// Load builds the configuration from defaults, the TOML file at path (when
// path is non-empty) and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// LoadFile overlays the TOML file at path. Keys absent from the file keep
// their current values.
func (c *Config) LoadFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return c.Parse(string(content))
}

// Parse overlays TOML content.
func (c *Config) Parse(content string) error {
	md, err := toml.Decode(content, c)
	if err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unknown config key: %s", undecoded[0])
	}
	return nil
}

// LoadDotEnv exports the variables in a dotenv file that are not already
// set, so ApplyEnv sees them. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// ApplyEnv overlays environment variables. Unset variables leave fields
// unchanged.
func (c *Config) ApplyEnv() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate rejects configurations the body cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Bus.RequestTimeout <= 0 {
		errs = append(errs, errors.New("bus.request_timeout must be positive"))
	}
	if c.Bus.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("bus.connect_timeout must be positive"))
	}
	if c.Bus.ReconnectDelay <= 0 {
		errs = append(errs, errors.New("bus.reconnect_delay must be positive"))
	}
	if c.Bus.MaxReconnectAttempts < -1 {
		errs = append(errs, errors.New("bus.max_reconnect_attempts must be -1 or more"))
	}
	if c.Bus.BufferSize <= 0 {
		errs = append(errs, errors.New("bus.buffer_size must be positive"))
	}
	if !c.App.MockBus {
		if c.Bus.URL == "" {
			errs = append(errs, errors.New("bus.url is required"))
		}
	}
	if c.Web.GatewayRate < 0 || c.Web.GatewayBurst < 0 {
		errs = append(errs, errors.New("web.gateway_rate and web.gateway_burst must not be negative"))
	}
	if c.Registry.Enabled && c.Registry.Bucket == "" {
		errs = append(errs, errors.New("registry.bucket is required when the registry is enabled"))
	}
	switch c.Telemetry.Protocol {
	case "", "grpc", "http", "http/protobuf":
	default:
		errs = append(errs, fmt.Errorf("telemetry.protocol must be grpc or http, got %q", c.Telemetry.Protocol))
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		errs = append(errs, errors.New("telemetry.sample_ratio must be within [0, 1]"))
	}
	if _, ok := logging.LookupLevel(c.Log.Level); !ok {
		errs = append(errs, fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level))
	}
	return errors.Join(errs...)
}

// Body returns the bus settings as a body.Config.
func (b BusConfig) Body() body.Config {
	return body.Config{
		URL:                  b.URL,
		Name:                 b.Name,
		RequestTimeout:       b.RequestTimeout,
		ConnectTimeout:       b.ConnectTimeout,
		MaxReconnectAttempts: b.MaxReconnectAttempts,
		ReconnectDelay:       b.ReconnectDelay,
		BufferSize:           b.BufferSize,
	}
}

// Cell returns the web settings as a web.Config.
func (w WebConfig) Cell() web.Config {
	return web.Config{
		Addr:         w.Addr,
		StaticDir:    w.StaticDir,
		CORS:         w.CORS,
		GatewayRate:  w.GatewayRate,
		GatewayBurst: w.GatewayBurst,
	}
}

// Provider returns the tracing settings as a telemetry.ProviderConfig.
func (t TelemetryConfig) Provider() telemetry.ProviderConfig {
	return telemetry.ProviderConfig{
		ServiceName: t.ServiceName,
		Endpoint:    t.Endpoint,
		Protocol:    strings.TrimSuffix(t.Protocol, "/protobuf"),
		Insecure:    t.Insecure,
		Debug:       t.Debug,
		SampleRatio: t.SampleRatio,
	}
}
