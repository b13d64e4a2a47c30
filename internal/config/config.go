// Package config provides configuration management for the items API server.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every configuration key to form its
// environment variable name.
const EnvPrefix = "APP"

// Default configuration values.
const (
	DefaultServerPort       = 8080
	DefaultProbePort        = 9090
	DefaultLogLevel         = "info"
	DefaultShutdownTimeout  = 30 * time.Second
	DefaultMetricsEnabled   = true
	DefaultWebSocketEnabled = true
)

// DefaultCORSAllowedOrigins allows every origin.
var DefaultCORSAllowedOrigins = []string{"*"}

// Configuration keys.
const (
	KeyServerPort         = "server_port"
	KeyProbePort          = "probe_port"
	KeyLogLevel           = "log_level"
	KeyShutdownTimeout    = "shutdown_timeout"
	KeyMetricsEnabled     = "metrics_enabled"
	KeyWebSocketEnabled   = "websocket_enabled"
	KeyCORSAllowedOrigins = "cors_allowed_origins"
)

// Environment variable names.
const (
	EnvServerPort         = "APP_SERVER_PORT"
	EnvProbePort          = "APP_PROBE_PORT"
	EnvLogLevel           = "APP_LOG_LEVEL"
	EnvShutdownTimeout    = "APP_SHUTDOWN_TIMEOUT"
	EnvMetricsEnabled     = "APP_METRICS_ENABLED"
	EnvWebSocketEnabled   = "APP_WEBSOCKET_ENABLED"
	EnvCORSAllowedOrigins = "APP_CORS_ALLOWED_ORIGINS"
)

// Config holds the application configuration.
type Config struct {
	ServerPort       int           `mapstructure:"server_port" validate:"gte=1,lte=65535"`
	ProbePort        int           `mapstructure:"probe_port" validate:"gte=0,lte=65535"` // 0 disables the probe listener.
	LogLevel         string        `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	MetricsEnabled   bool          `mapstructure:"metrics_enabled"`
	WebSocketEnabled bool          `mapstructure:"websocket_enabled"`

	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins" validate:"min=1,dive,required"`
}

// Validation errors.
var (
	ErrInvalidServerPort      = errors.New("server port must be between 1 and 65535")
	ErrInvalidProbePort       = errors.New("probe port must be between 0 and 65535")
	ErrProbePortConflict      = errors.New("probe port must differ from server port when probe port is not 0")
	ErrInvalidLogLevel        = errors.New("log level must be one of: debug, info, warn, error")
	ErrInvalidShutdownTimeout = errors.New("shutdown timeout must be positive")
	ErrInvalidCORSOrigins     = errors.New("CORS allowed origins must contain at least one non-empty origin")
)

// fieldErrors maps struct fields to the sentinel reported when they fail
// validation.
var fieldErrors = map[string]error{
	"ServerPort":         ErrInvalidServerPort,
	"ProbePort":          ErrInvalidProbePort,
	"LogLevel":           ErrInvalidLogLevel,
	"ShutdownTimeout":    ErrInvalidShutdownTimeout,
	"CORSAllowedOrigins": ErrInvalidCORSOrigins,
}

var validate = validator.New()

// Load reads configuration from environment variables with defaults.
// Environment variables have priority over default values.
func Load() (*Config, error) {
	return load(newViper())
}

// LoadDotEnv loads variables from the given .env files (default ".env")
// into the process environment without overriding variables that are
// already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}

	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("loading %s: %w", path, err)
		}
	}

	return nil
}

// newViper returns a viper instance bound to APP_* variables with every key
// defaulted, so that Unmarshal sees environment overrides.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyServerPort, DefaultServerPort)
	v.SetDefault(KeyProbePort, DefaultProbePort)
	v.SetDefault(KeyLogLevel, DefaultLogLevel)
	v.SetDefault(KeyShutdownTimeout, DefaultShutdownTimeout)
	v.SetDefault(KeyMetricsEnabled, DefaultMetricsEnabled)
	v.SetDefault(KeyWebSocketEnabled, DefaultWebSocketEnabled)
	v.SetDefault(KeyCORSAllowedOrigins, DefaultCORSAllowedOrigins)

	return v
}

func load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("loading config from environment: %w", err)
	}

	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.CORSAllowedOrigins = trimAll(cfg.CORSAllowedOrigins)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Validate checks if the configuration values are valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			if sentinel, ok := fieldErrors[topLevelField(fieldErrs[0])]; ok {
				return sentinel
			}
		}
		return err
	}

	if c.ProbePort != 0 && c.ProbePort == c.ServerPort {
		return ErrProbePortConflict
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *Config) Address() string {
	return fmt.Sprintf(":%d", c.ServerPort)
}

// ProbeAddress returns the probe server address in host:port format.
func (c *Config) ProbeAddress() string {
	return fmt.Sprintf(":%d", c.ProbePort)
}

// ProbeEnabled reports whether a separate probe listener is configured.
func (c *Config) ProbeEnabled() bool {
	return c.ProbePort != 0
}

// topLevelField returns the Config field a validation error belongs to,
// dropping the index suffix that dive adds for slice elements.
func topLevelField(fe validator.FieldError) string {
	return strings.SplitN(fe.StructField(), "[", 2)[0]
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
