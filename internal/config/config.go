package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration. Values come from built-in
// defaults, then an optional YAML file named by BOARDSYNC_CONFIG_FILE, then
// environment variables, each layer overriding the previous one.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	JWT      JWTConfig      `yaml:"jwt"`
	Server   ServerConfig   `yaml:"server"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Log      LogConfig      `yaml:"log"`
}

// DatabaseConfig holds PostgreSQL connection settings. URL, when set, is
// used verbatim instead of the individual fields.
type DatabaseConfig struct {
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"` //nolint:gosec // G117: DB connection config
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int    `yaml:"max_conns"`
}

// RedisConfig holds settings for the optional change feed bus.
type RedisConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"` //nolint:gosec // G117: Redis connection config
	DB        int    `yaml:"db"`
	Namespace string `yaml:"namespace"`
	Codec     string `yaml:"codec"`
}

// JWTConfig holds token verification settings.
type JWTConfig struct {
	Secret string `yaml:"secret"` //nolint:gosec // G117: JWT signing secret config
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	WSOrigins       []string      `yaml:"ws_origins"`
}

// RealtimeConfig tunes the connection registry and fan-out.
type RealtimeConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	// ResubscribeGrace bounds how long a user's saved subscriptions survive
	// without a live connection. Zero keeps them for the process lifetime.
	ResubscribeGrace  time.Duration `yaml:"resubscribe_grace"`
	SendBuffer        int           `yaml:"send_buffer"`
	AccessConcurrency int           `yaml:"access_concurrency"`
	EmitterQueue      int           `yaml:"emitter_queue"`
	AccessCacheTTL    time.Duration `yaml:"access_cache_ttl"`
	AccessCacheSize   int           `yaml:"access_cache_size"`
	HandshakeRPS      float64       `yaml:"handshake_rps"`
	HandshakeBurst    int           `yaml:"handshake_burst"`
}

// LogConfig selects the zerolog level and output format ("json" or "text").
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults returns the configuration used when nothing else is set.
// Defaults are safe for local development only.
func Defaults() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "boardsync",
			DBName:   "boardsync_dev",
			SSLMode:  "disable",
			MaxConns: 25,
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			Namespace: "boardsync",
			Codec:     "json",
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"http://localhost:5173"},
		},
		Realtime: RealtimeConfig{
			HeartbeatInterval: 30 * time.Second,
			ResubscribeGrace:  5 * time.Minute,
			SendBuffer:        256,
			AccessConcurrency: 16,
			EmitterQueue:      1024,
			AccessCacheTTL:    30 * time.Second,
			AccessCacheSize:   100_000,
			HandshakeRPS:      5,
			HandshakeBurst:    20,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file and
// environment variables.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("BOARDSYNC_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, fmt.Errorf("config.Load: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides every field whose variable is set. The current value
// doubles as the fallback so file settings survive unset variables.
func (c *Config) applyEnv() error {
	var err error

	c.Database.URL = getEnv("BOARDSYNC_DATABASE_URL", c.Database.URL)
	c.Database.Host = getEnv("BOARDSYNC_DB_HOST", c.Database.Host)
	if c.Database.Port, err = getEnvInt("BOARDSYNC_DB_PORT", c.Database.Port); err != nil {
		return err
	}
	c.Database.User = getEnv("BOARDSYNC_DB_USER", c.Database.User)
	c.Database.Password = getEnv("BOARDSYNC_DB_PASSWORD", c.Database.Password)
	c.Database.DBName = getEnv("BOARDSYNC_DB_NAME", c.Database.DBName)
	c.Database.SSLMode = getEnv("BOARDSYNC_DB_SSLMODE", c.Database.SSLMode)
	if c.Database.MaxConns, err = getEnvInt("BOARDSYNC_DB_MAX_CONNS", c.Database.MaxConns); err != nil {
		return err
	}

	if c.Redis.Enabled, err = getEnvBool("BOARDSYNC_REDIS_ENABLED", c.Redis.Enabled); err != nil {
		return err
	}
	c.Redis.Addr = getEnv("BOARDSYNC_REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("BOARDSYNC_REDIS_PASSWORD", c.Redis.Password)
	if c.Redis.DB, err = getEnvInt("BOARDSYNC_REDIS_DB", c.Redis.DB); err != nil {
		return err
	}
	c.Redis.Namespace = getEnv("BOARDSYNC_REDIS_NAMESPACE", c.Redis.Namespace)
	c.Redis.Codec = getEnv("BOARDSYNC_REDIS_CODEC", c.Redis.Codec)

	c.JWT.Secret = getEnv("BOARDSYNC_JWT_SECRET", c.JWT.Secret)

	c.Server.Addr = getEnv("BOARDSYNC_SERVER_ADDR", c.Server.Addr)
	if c.Server.ReadTimeout, err = getEnvDuration("BOARDSYNC_SERVER_READ_TIMEOUT", c.Server.ReadTimeout); err != nil {
		return err
	}
	if c.Server.WriteTimeout, err = getEnvDuration("BOARDSYNC_SERVER_WRITE_TIMEOUT", c.Server.WriteTimeout); err != nil {
		return err
	}
	if c.Server.ShutdownTimeout, err = getEnvDuration("BOARDSYNC_SERVER_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout); err != nil {
		return err
	}
	c.Server.CORSOrigins = getEnvList("BOARDSYNC_CORS_ORIGINS", c.Server.CORSOrigins)
	c.Server.WSOrigins = getEnvList("BOARDSYNC_WS_ORIGINS", c.Server.WSOrigins)

	rt := &c.Realtime
	if rt.HeartbeatInterval, err = getEnvDuration("BOARDSYNC_HEARTBEAT_INTERVAL", rt.HeartbeatInterval); err != nil {
		return err
	}
	if rt.ResubscribeGrace, err = getEnvDuration("BOARDSYNC_RESUBSCRIBE_GRACE", rt.ResubscribeGrace); err != nil {
		return err
	}
	if rt.SendBuffer, err = getEnvInt("BOARDSYNC_SEND_BUFFER", rt.SendBuffer); err != nil {
		return err
	}
	if rt.AccessConcurrency, err = getEnvInt("BOARDSYNC_ACCESS_CONCURRENCY", rt.AccessConcurrency); err != nil {
		return err
	}
	if rt.EmitterQueue, err = getEnvInt("BOARDSYNC_EMITTER_QUEUE", rt.EmitterQueue); err != nil {
		return err
	}
	if rt.AccessCacheTTL, err = getEnvDuration("BOARDSYNC_ACCESS_CACHE_TTL", rt.AccessCacheTTL); err != nil {
		return err
	}
	if rt.AccessCacheSize, err = getEnvInt("BOARDSYNC_ACCESS_CACHE_SIZE", rt.AccessCacheSize); err != nil {
		return err
	}
	if rt.HandshakeRPS, err = getEnvFloat("BOARDSYNC_HANDSHAKE_RPS", rt.HandshakeRPS); err != nil {
		return err
	}
	if rt.HandshakeBurst, err = getEnvInt("BOARDSYNC_HANDSHAKE_BURST", rt.HandshakeBurst); err != nil {
		return err
	}

	c.Log.Level = getEnv("BOARDSYNC_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("BOARDSYNC_LOG_FORMAT", c.Log.Format)

	return nil
}

// validate checks required fields and value bounds.
func (c *Config) validate() error {
	// JWT secret is required (no insecure default).
	if c.JWT.Secret == "" {
		return errors.New("BOARDSYNC_JWT_SECRET is required")
	}
	if len(c.JWT.Secret) < 32 {
		return errors.New("BOARDSYNC_JWT_SECRET must be at least 32 characters")
	}

	if c.Database.URL == "" {
		if c.Database.SSLMode == "disable" {
			log.Warn().Msg("config: BOARDSYNC_DB_SSLMODE=disable is insecure for production")
		}
		if c.Database.Port < 1 || c.Database.Port > 65535 {
			return fmt.Errorf("BOARDSYNC_DB_PORT must be 1-65535, got %d", c.Database.Port)
		}
	}
	if c.Database.MaxConns < 1 {
		return fmt.Errorf("BOARDSYNC_DB_MAX_CONNS must be >= 1, got %d", c.Database.MaxConns)
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return errors.New("BOARDSYNC_REDIS_ADDR is required when redis is enabled")
	}
	switch c.Redis.Codec {
	case "json", "msgpack":
	default:
		return fmt.Errorf("BOARDSYNC_REDIS_CODEC must be json or msgpack, got %q", c.Redis.Codec)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("BOARDSYNC_SERVER_READ_TIMEOUT must be positive, got %s", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("BOARDSYNC_SERVER_WRITE_TIMEOUT must be positive, got %s", c.Server.WriteTimeout)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("BOARDSYNC_SERVER_SHUTDOWN_TIMEOUT must be positive, got %s", c.Server.ShutdownTimeout)
	}

	rt := c.Realtime
	if rt.HeartbeatInterval <= 0 {
		return fmt.Errorf("BOARDSYNC_HEARTBEAT_INTERVAL must be positive, got %s", rt.HeartbeatInterval)
	}
	if rt.ResubscribeGrace < 0 {
		return fmt.Errorf("BOARDSYNC_RESUBSCRIBE_GRACE must be >= 0, got %s", rt.ResubscribeGrace)
	}
	if rt.SendBuffer < 1 {
		return fmt.Errorf("BOARDSYNC_SEND_BUFFER must be >= 1, got %d", rt.SendBuffer)
	}
	if rt.AccessConcurrency < 1 {
		return fmt.Errorf("BOARDSYNC_ACCESS_CONCURRENCY must be >= 1, got %d", rt.AccessConcurrency)
	}
	if rt.EmitterQueue < 1 {
		return fmt.Errorf("BOARDSYNC_EMITTER_QUEUE must be >= 1, got %d", rt.EmitterQueue)
	}
	if rt.AccessCacheTTL < 0 {
		return fmt.Errorf("BOARDSYNC_ACCESS_CACHE_TTL must be >= 0, got %s", rt.AccessCacheTTL)
	}
	if rt.AccessCacheSize < 1 {
		return fmt.Errorf("BOARDSYNC_ACCESS_CACHE_SIZE must be >= 1, got %d", rt.AccessCacheSize)
	}
	if rt.HandshakeRPS <= 0 || rt.HandshakeBurst < 1 {
		return fmt.Errorf("handshake rate limit must be positive, got rps=%g burst=%d", rt.HandshakeRPS, rt.HandshakeBurst)
	}

	return nil
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as int: %w", key, v, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as float: %w", key, v, err)
	}
	return f, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parsing %s=%q as bool: %w", key, v, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as duration: %w", key, v, err)
	}
	return d, nil
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
