// Package config loads realtime client configuration from YAML files.
//
// LoadFile starts from Default and merges the file on top, so a file only
// needs the keys it changes. Command-line flags are applied by the caller
// after loading and before Validate.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport names.
const (
	TransportSSE       = "sse"
	TransportWebSocket = "websocket"
)

// Default endpoint paths.
const (
	DefaultStreamPath = "/api/stream"
	DefaultTokenPath  = "/api/stream/token"
	DefaultSentinel   = "[DONE]"
)

// Duration is a time.Duration written as a Go duration string ("1.5s").
type Duration time.Duration

// UnmarshalYAML accepts duration strings and plain integers (seconds).
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", value.Line)
	}
	var secs int64
	if err := value.Decode(&secs); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the realtime client configuration.
type Config struct {
	// BackendURL is the base URL of the backend, e.g. https://audit.example.com.
	BackendURL string `yaml:"backend_url"`

	// StreamPath is appended to BackendURL for the stream endpoint.
	StreamPath string `yaml:"stream_path"`

	// TokenPath is appended to BackendURL for the token issuer.
	TokenPath string `yaml:"token_path"`

	// Transport selects the stream transport: sse or websocket.
	Transport string `yaml:"transport"`

	// Sentinel is the anonymous payload that ends a stream.
	Sentinel string `yaml:"sentinel"`

	// TokenTimeout bounds token requests. Zero means no timeout.
	TokenTimeout Duration `yaml:"token_timeout"`

	// TokenLeeway is subtracted from token expiry when caching.
	TokenLeeway Duration `yaml:"token_leeway"`

	// DialTimeout bounds the stream handshake. Zero means no timeout.
	DialTimeout Duration `yaml:"dial_timeout"`

	// Reconnect configures automatic reconnection.
	Reconnect ReconnectConfig `yaml:"reconnect"`

	// Routes configures claim derivation from paths.
	Routes RoutesConfig `yaml:"routes"`

	// MaxSubscriptions caps live subscriptions.
	MaxSubscriptions int `yaml:"max_subscriptions"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// TraceLog is an optional path for the CBOR stream trace.
	TraceLog string `yaml:"trace_log"`
}

// ReconnectConfig configures reconnect backoff.
type ReconnectConfig struct {
	Auto        bool     `yaml:"auto"`
	Initial     Duration `yaml:"initial"`
	Max         Duration `yaml:"max"`
	Multiplier  float64  `yaml:"multiplier"`
	Jitter      float64  `yaml:"jitter"`
	MaxAttempts int      `yaml:"max_attempts"`
}

// RoutesConfig configures the route matcher.
type RoutesConfig struct {
	// Templates are gorilla/mux path templates. Empty means the defaults.
	Templates []string `yaml:"templates"`

	// Keys renames route variables to claim keys.
	Keys map[string]string `yaml:"keys"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		BackendURL:  "http://localhost:8080",
		StreamPath:  DefaultStreamPath,
		TokenPath:   DefaultTokenPath,
		Transport:   TransportSSE,
		Sentinel:    DefaultSentinel,
		TokenLeeway: Duration(10 * time.Second),
		DialTimeout: Duration(30 * time.Second),
		Reconnect: ReconnectConfig{
			Auto:       true,
			Initial:    Duration(time.Second),
			Max:        Duration(60 * time.Second),
			Multiplier: 2.0,
			Jitter:     0.25,
		},
		MaxSubscriptions: 256,
		LogLevel:         "info",
	}
}

// LoadFile loads configuration from path on top of Default.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML on top of Default.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.BackendURL == "" {
		errs = append(errs, errors.New("backend_url is required"))
	} else if u, err := url.Parse(c.BackendURL); err != nil {
		errs = append(errs, fmt.Errorf("backend_url: %w", err))
	} else if u.Scheme != "http" && u.Scheme != "https" {
		errs = append(errs, fmt.Errorf("backend_url: unsupported scheme %q", u.Scheme))
	}

	if !strings.HasPrefix(c.StreamPath, "/") {
		errs = append(errs, fmt.Errorf("stream_path must start with /: %q", c.StreamPath))
	}
	if !strings.HasPrefix(c.TokenPath, "/") {
		errs = append(errs, fmt.Errorf("token_path must start with /: %q", c.TokenPath))
	}

	switch c.Transport {
	case TransportSSE, TransportWebSocket:
	default:
		errs = append(errs, fmt.Errorf("invalid transport: %q", c.Transport))
	}

	if c.Sentinel == "" {
		errs = append(errs, errors.New("sentinel must not be empty"))
	}
	if c.TokenTimeout < 0 || c.TokenLeeway < 0 || c.DialTimeout < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}

	r := c.Reconnect
	if r.Initial <= 0 {
		errs = append(errs, errors.New("reconnect.initial must be positive"))
	}
	if r.Max < r.Initial {
		errs = append(errs, errors.New("reconnect.max must not be below reconnect.initial"))
	}
	if r.Multiplier < 1 {
		errs = append(errs, errors.New("reconnect.multiplier must be at least 1"))
	}
	if r.Jitter < 0 || r.Jitter > 1 {
		errs = append(errs, errors.New("reconnect.jitter must be within [0, 1]"))
	}
	if r.MaxAttempts < 0 {
		errs = append(errs, errors.New("reconnect.max_attempts must not be negative"))
	}

	for _, tpl := range c.Routes.Templates {
		if !strings.HasPrefix(tpl, "/") {
			errs = append(errs, fmt.Errorf("routes.templates: %q must start with /", tpl))
		}
	}

	if c.MaxSubscriptions <= 0 {
		errs = append(errs, errors.New("max_subscriptions must be positive"))
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid log_level: %q", c.LogLevel))
	}

	return errors.Join(errs...)
}

// StreamURL returns the full stream endpoint URL.
func (c *Config) StreamURL() string {
	return strings.TrimSuffix(c.BackendURL, "/") + c.StreamPath
}

// TokenURL returns the full token issuer URL.
func (c *Config) TokenURL() string {
	return strings.TrimSuffix(c.BackendURL, "/") + c.TokenPath
}
