// Package config loads and validates the relay configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the DRL_ prefix (e.g., DRL_DATABASE_HOST
// overrides database.host in the YAML), so the same binary runs from a config.yaml
// in development and from pure environment variables in containers.
//
// Secret values may reference other variables as ${NAME}; they are expanded after
// loading so that secrets can be injected under their own names.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/deabakjj/MYCREATA1-sub001/internal/audit"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Relay     RelayConfig     `mapstructure:"relay"`
	Signer    SignerConfig    `mapstructure:"signer"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Security  SecurityConfig  `mapstructure:"security"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Audit     AuditConfig     `mapstructure:"audit"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
	AutoMigrate        bool   `mapstructure:"auto_migrate"`
}

// AuthConfig holds the signing secrets for platform and connection tokens
type AuthConfig struct {
	// JWTSecret verifies platform user tokens on owner routes
	JWTSecret string `mapstructure:"jwt_secret"`
	// JWTIssuer is checked against the iss claim of user tokens when set
	JWTIssuer string `mapstructure:"jwt_issuer"`
	// ConnectionTokenSecret signs DApp access tokens. It must differ from JWTSecret.
	ConnectionTokenSecret string        `mapstructure:"connection_token_secret"`
	AccessTokenTTL        time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL       time.Duration `mapstructure:"refresh_token_ttl"`
}

// RelayConfig tunes connection and signing-request lifetimes
type RelayConfig struct {
	ConnectionTTL     time.Duration `mapstructure:"connection_ttl"`
	RefreshGrace      time.Duration `mapstructure:"refresh_grace"`
	RequestExpiry     time.Duration `mapstructure:"request_expiry"`
	MaxRequestExpiry  time.Duration `mapstructure:"max_request_expiry"`
	TrustedRecipients []string      `mapstructure:"trusted_recipients"`
}

// SignerConfig configures the custodial wallet signing service
type SignerConfig struct {
	URL    string `mapstructure:"url"`
	APIKey string `mapstructure:"api_key"`
	// Timeout bounds a whole signing call, retries included
	Timeout time.Duration `mapstructure:"timeout"`
	// AttemptTimeout bounds one HTTP attempt
	AttemptTimeout  time.Duration `mapstructure:"attempt_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

// RedisConfig enables the shared rate limiter. An empty Addr keeps limits in memory.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// Enabled reports whether a Redis server is configured
func (r *RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	CORS         CORSConfig         `mapstructure:"cors"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
	TLS          TLSConfig          `mapstructure:"tls"`
}

// CORSConfig lists the platform origins allowed on owner routes. DApp routes accept
// any origin and authorize it per connection.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// RateLimitingConfig holds rate limiting configuration
type RateLimitingConfig struct {
	Enabled bool        `mapstructure:"enabled"`
	Owner   LimitConfig `mapstructure:"owner"`
	DApp    LimitConfig `mapstructure:"dapp"`
	Token   LimitConfig `mapstructure:"token"`
}

// LimitConfig is one token-bucket limit
type LimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	Burst             int `mapstructure:"burst"`
}

// TLSConfig holds TLS/HTTPS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	Metrics     MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// AuditConfig holds audit logging configuration
type AuditConfig struct {
	// Enabled determines if relay actions are recorded
	Enabled bool `mapstructure:"enabled"`
	// LogFailedRequests records actions whose request failed (4xx/5xx)
	LogFailedRequests bool `mapstructure:"log_failed_requests"`
	// Shippers configures external log shipping
	Shippers []audit.ShipperConfig `mapstructure:"shippers"`
}

// envKeys lists the dotted key of every scalar or slice leaf in t, following
// mapstructure tags. Slices of structs (audit.shippers) can only be set from the
// config file and are skipped.
func envKeys(t reflect.Type, prefix string) []string {
	var keys []string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := strings.Split(f.Tag.Get("mapstructure"), ",")[0]
		if tag == "" || tag == "-" {
			continue
		}
		key := prefix + tag
		switch {
		case f.Type.Kind() == reflect.Struct:
			keys = append(keys, envKeys(f.Type, key+".")...)
		case f.Type.Kind() == reflect.Slice && f.Type.Elem().Kind() == reflect.Struct:
		default:
			keys = append(keys, key)
		}
	}
	return keys
}

// bindEnvVars binds DRL_<SECTION>_<KEY> for every config leaf. AutomaticEnv alone
// does not reach keys that have neither a default nor a file value during Unmarshal.
func bindEnvVars(v *viper.Viper) error {
	for _, key := range envKeys(reflect.TypeOf(Config{}), "") {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/dapp-relay")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables
	}

	v.SetEnvPrefix("DRL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand environment variables in sensitive fields
	cfg.Database.Password = expandEnv(cfg.Database.Password)
	cfg.Auth.JWTSecret = expandEnv(cfg.Auth.JWTSecret)
	cfg.Auth.ConnectionTokenSecret = expandEnv(cfg.Auth.ConnectionTokenSecret)
	cfg.Signer.APIKey = expandEnv(cfg.Signer.APIKey)
	cfg.Redis.Password = expandEnv(cfg.Redis.Password)
	for i := range cfg.Audit.Shippers {
		if wh := cfg.Audit.Shippers[i].Webhook; wh != nil {
			wh.Secret = expandEnv(wh.Secret)
			for k, val := range wh.Headers {
				wh.Headers[k] = expandEnv(val)
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "dapp_relay")
	v.SetDefault("database.user", "relay")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)
	v.SetDefault("database.auto_migrate", true)

	// Auth defaults. Secrets have none.
	v.SetDefault("auth.access_token_ttl", "1h")
	v.SetDefault("auth.refresh_token_ttl", "720h")

	// Relay defaults
	v.SetDefault("relay.connection_ttl", "720h")
	v.SetDefault("relay.refresh_grace", "30s")
	v.SetDefault("relay.request_expiry", "10m")
	v.SetDefault("relay.max_request_expiry", "24h")

	// Signer defaults
	v.SetDefault("signer.timeout", "15s")
	v.SetDefault("signer.attempt_timeout", "10s")
	v.SetDefault("signer.max_retries", 2)
	v.SetDefault("signer.initial_interval", "200ms")
	v.SetDefault("signer.max_interval", "2s")

	// Redis defaults
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "drl:ratelimit:")

	// Security defaults
	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.owner.requests_per_minute", 200)
	v.SetDefault("security.rate_limiting.owner.burst", 50)
	v.SetDefault("security.rate_limiting.dapp.requests_per_minute", 120)
	v.SetDefault("security.rate_limiting.dapp.burst", 30)
	v.SetDefault("security.rate_limiting.token.requests_per_minute", 30)
	v.SetDefault("security.rate_limiting.token.burst", 10)
	v.SetDefault("security.tls.enabled", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.service_name", "dapp-relay")
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)

	// Audit defaults
	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.log_failed_requests", false)
}

// expandEnv expands environment variables in the format ${VAR_NAME}
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate reports every configuration problem at once
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Server.Port >= 1 && c.Server.Port <= 65535, "invalid server port: %d", c.Server.Port)

	check(c.Database.Host != "", "database.host is required")
	check(c.Database.Name != "", "database.name is required")
	check(c.Database.User != "", "database.user is required")

	// Token secrets have no fallback and must be distinct.
	check(c.Auth.JWTSecret != "", "auth.jwt_secret is required")
	check(c.Auth.ConnectionTokenSecret != "", "auth.connection_token_secret is required")
	if c.Auth.JWTSecret != "" {
		check(c.Auth.JWTSecret != c.Auth.ConnectionTokenSecret, "auth.connection_token_secret must differ from auth.jwt_secret")
	}

	check(c.Relay.RequestExpiry <= c.Relay.MaxRequestExpiry,
		"relay.request_expiry (%s) exceeds relay.max_request_expiry (%s)", c.Relay.RequestExpiry, c.Relay.MaxRequestExpiry)

	check(c.Signer.URL != "", "signer.url is required")
	check(c.Signer.Timeout > 0, "signer.timeout must be positive")

	if rl := c.Security.RateLimiting; rl.Enabled {
		for name, l := range map[string]LimitConfig{"owner": rl.Owner, "dapp": rl.DApp, "token": rl.Token} {
			check(l.RequestsPerMinute >= 1 && l.Burst >= 1,
				"security.rate_limiting.%s requires positive requests_per_minute and burst", name)
		}
	}

	if tls := c.Security.TLS; tls.Enabled {
		check(tls.CertFile != "", "security.tls.cert_file is required when TLS is enabled")
		check(tls.KeyFile != "", "security.tls.key_file is required when TLS is enabled")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level))
	}

	return errors.Join(errs...)
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// GetAddress returns the server address in host:port format
func (c *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
