package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-that-is-at-least-32ch"

func strPtr(s string) *string { return &s }

// ---------------------------------------------------------------------------
// Helper function tests
// ---------------------------------------------------------------------------

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		setVal   *string // nil = don't set; pointer to distinguish "" from unset
		fallback string
		want     string
	}{
		{name: "returns fallback when unset", key: "BOARDSYNC_TEST_GETENV_UNSET", setVal: nil, fallback: "default", want: "default"},
		{name: "returns env value when set", key: "BOARDSYNC_TEST_GETENV_SET", setVal: strPtr("custom"), fallback: "default", want: "custom"},
		{name: "returns fallback when empty string", key: "BOARDSYNC_TEST_GETENV_EMPTY", setVal: strPtr(""), fallback: "default", want: "default"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setVal != nil {
				t.Setenv(tc.key, *tc.setVal)
			}
			assert.Equal(t, tc.want, getEnv(tc.key, tc.fallback))
		})
	}
}

func TestGetEnvInt(t *testing.T) {
	tests := []struct {
		name     string
		setVal   *string
		fallback int
		want     int
		wantErr  bool
	}{
		{name: "returns fallback when unset", fallback: 42, want: 42},
		{name: "parses valid int", setVal: strPtr("8080"), want: 8080},
		{name: "parses zero", setVal: strPtr("0"), fallback: 99, want: 0},
		{name: "errors on non-numeric", setVal: strPtr("abc"), wantErr: true},
		{name: "errors on float", setVal: strPtr("3.14"), wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			const key = "BOARDSYNC_TEST_INT"
			if tc.setVal != nil {
				t.Setenv(key, *tc.setVal)
			}

			got, err := getEnvInt(key, tc.fallback)
			if tc.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), key)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGetEnvFloat(t *testing.T) {
	t.Setenv("BOARDSYNC_TEST_FLOAT", "2.5")
	got, err := getEnvFloat("BOARDSYNC_TEST_FLOAT", 1)
	require.NoError(t, err)
	assert.InDelta(t, 2.5, got, 0.0001)

	t.Setenv("BOARDSYNC_TEST_FLOAT", "fast")
	_, err = getEnvFloat("BOARDSYNC_TEST_FLOAT", 1)
	assert.ErrorContains(t, err, "BOARDSYNC_TEST_FLOAT")
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name     string
		setVal   *string
		fallback bool
		want     bool
		wantErr  bool
	}{
		{name: "fallback true when unset", fallback: true, want: true},
		{name: "parses true", setVal: strPtr("true"), want: true},
		{name: "parses 0", setVal: strPtr("0"), fallback: true, want: false},
		{name: "errors on invalid", setVal: strPtr("yes"), wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			const key = "BOARDSYNC_TEST_BOOL"
			if tc.setVal != nil {
				t.Setenv(key, *tc.setVal)
			}

			got, err := getEnvBool(key, tc.fallback)
			if tc.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), key)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		name     string
		setVal   *string
		fallback time.Duration
		want     time.Duration
		wantErr  bool
	}{
		{name: "returns fallback when unset", fallback: 5 * time.Second, want: 5 * time.Second},
		{name: "parses composite", setVal: strPtr("1h30m"), want: 90 * time.Minute},
		{name: "parses zero", setVal: strPtr("0s"), fallback: 5 * time.Second, want: 0},
		{name: "errors on bare number", setVal: strPtr("30"), wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			const key = "BOARDSYNC_TEST_DUR"
			if tc.setVal != nil {
				t.Setenv(key, *tc.setVal)
			}

			got, err := getEnvDuration(key, tc.fallback)
			if tc.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), key)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGetEnvList(t *testing.T) {
	assert.Equal(t, []string{"x"}, getEnvList("BOARDSYNC_TEST_LIST_UNSET", []string{"x"}))

	t.Setenv("BOARDSYNC_TEST_LIST", " https://a.example , ,https://b.example")
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, getEnvList("BOARDSYNC_TEST_LIST", nil))
}

// ---------------------------------------------------------------------------
// Load() error cases
// ---------------------------------------------------------------------------

func TestLoad_MissingJWTSecret(t *testing.T) {
	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "BOARDSYNC_JWT_SECRET")
}

func TestLoad_InvalidEnvVars(t *testing.T) {
	tests := []struct {
		name   string
		envKey string
		envVal string
	}{
		{name: "DB_PORT not a number", envKey: "BOARDSYNC_DB_PORT", envVal: "abc"},
		{name: "DB_PORT too high", envKey: "BOARDSYNC_DB_PORT", envVal: "65536"},
		{name: "DB_MAX_CONNS zero", envKey: "BOARDSYNC_DB_MAX_CONNS", envVal: "0"},
		{name: "REDIS_ENABLED not a bool", envKey: "BOARDSYNC_REDIS_ENABLED", envVal: "yes"},
		{name: "REDIS_CODEC unknown", envKey: "BOARDSYNC_REDIS_CODEC", envVal: "protobuf"},
		{name: "SERVER_READ_TIMEOUT zero", envKey: "BOARDSYNC_SERVER_READ_TIMEOUT", envVal: "0s"},
		{name: "SHUTDOWN_TIMEOUT invalid", envKey: "BOARDSYNC_SERVER_SHUTDOWN_TIMEOUT", envVal: "soon"},
		{name: "HEARTBEAT_INTERVAL zero", envKey: "BOARDSYNC_HEARTBEAT_INTERVAL", envVal: "0s"},
		{name: "RESUBSCRIBE_GRACE negative", envKey: "BOARDSYNC_RESUBSCRIBE_GRACE", envVal: "-1m"},
		{name: "SEND_BUFFER zero", envKey: "BOARDSYNC_SEND_BUFFER", envVal: "0"},
		{name: "ACCESS_CONCURRENCY zero", envKey: "BOARDSYNC_ACCESS_CONCURRENCY", envVal: "0"},
		{name: "EMITTER_QUEUE not a number", envKey: "BOARDSYNC_EMITTER_QUEUE", envVal: "big"},
		{name: "ACCESS_CACHE_TTL negative", envKey: "BOARDSYNC_ACCESS_CACHE_TTL", envVal: "-1s"},
		{name: "ACCESS_CACHE_SIZE zero", envKey: "BOARDSYNC_ACCESS_CACHE_SIZE", envVal: "0"},
		{name: "HANDSHAKE_RPS invalid", envKey: "BOARDSYNC_HANDSHAKE_RPS", envVal: "fast"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("BOARDSYNC_JWT_SECRET", testSecret)
			t.Setenv(tc.envKey, tc.envVal)

			cfg, err := Load()
			require.Error(t, err, "expected error for %s=%q", tc.envKey, tc.envVal)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tc.envKey)
		})
	}
}

func TestLoad_HandshakeBurstZero(t *testing.T) {
	t.Setenv("BOARDSYNC_JWT_SECRET", testSecret)
	t.Setenv("BOARDSYNC_HANDSHAKE_BURST", "0")

	_, err := Load()
	assert.ErrorContains(t, err, "handshake rate limit")
}

// ---------------------------------------------------------------------------
// Load() happy paths
// ---------------------------------------------------------------------------

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("BOARDSYNC_JWT_SECRET", testSecret)

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "boardsync", cfg.Database.User)
	assert.Equal(t, 25, cfg.Database.MaxConns)

	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "boardsync", cfg.Redis.Namespace)
	assert.Equal(t, "json", cfg.Redis.Codec)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.Server.CORSOrigins)
	assert.Empty(t, cfg.Server.WSOrigins)

	assert.Equal(t, 30*time.Second, cfg.Realtime.HeartbeatInterval)
	assert.Equal(t, 5*time.Minute, cfg.Realtime.ResubscribeGrace)
	assert.Equal(t, 256, cfg.Realtime.SendBuffer)
	assert.Equal(t, 16, cfg.Realtime.AccessConcurrency)
	assert.Equal(t, 1024, cfg.Realtime.EmitterQueue)
	assert.Equal(t, 30*time.Second, cfg.Realtime.AccessCacheTTL)
	assert.Equal(t, 100_000, cfg.Realtime.AccessCacheSize)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_GraceZeroMeansUnbounded(t *testing.T) {
	t.Setenv("BOARDSYNC_JWT_SECRET", testSecret)
	t.Setenv("BOARDSYNC_RESUBSCRIBE_GRACE", "0s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Zero(t, cfg.Realtime.ResubscribeGrace)
}

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "boardsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_File(t *testing.T) {
	path := writeConfigFile(t, `
database:
  url: postgres://sync:pw@db.internal:5432/boards
  max_conns: 40
redis:
  enabled: true
  addr: redis.internal:6379
  codec: msgpack
jwt:
  secret: file-secret-that-is-at-least-32-chars
server:
  addr: ":9000"
  ws_origins: ["app.example.com"]
realtime:
  heartbeat_interval: 15s
  resubscribe_grace: 2m
  send_buffer: 64
log:
  format: text
`)
	t.Setenv("BOARDSYNC_CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://sync:pw@db.internal:5432/boards", cfg.Database.DSN())
	assert.Equal(t, 40, cfg.Database.MaxConns)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "msgpack", cfg.Redis.Codec)
	assert.Equal(t, "boardsync", cfg.Redis.Namespace, "unset keys keep defaults")
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, []string{"app.example.com"}, cfg.Server.WSOrigins)
	assert.Equal(t, 15*time.Second, cfg.Realtime.HeartbeatInterval)
	assert.Equal(t, 2*time.Minute, cfg.Realtime.ResubscribeGrace)
	assert.Equal(t, 64, cfg.Realtime.SendBuffer)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
jwt:
  secret: file-secret-that-is-at-least-32-chars
server:
  addr: ":9000"
`)
	t.Setenv("BOARDSYNC_CONFIG_FILE", path)
	t.Setenv("BOARDSYNC_SERVER_ADDR", ":7000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, "file-secret-that-is-at-least-32-chars", cfg.JWT.Secret)
}

func TestLoad_FileErrors(t *testing.T) {
	t.Run("missing", func(t *testing.T) {
		t.Setenv("BOARDSYNC_CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))
		_, err := Load()
		assert.ErrorContains(t, err, "reading")
	})

	t.Run("malformed", func(t *testing.T) {
		t.Setenv("BOARDSYNC_CONFIG_FILE", writeConfigFile(t, "server: [not: a map"))
		_, err := Load()
		assert.ErrorContains(t, err, "parsing")
	})
}

// ---------------------------------------------------------------------------
// DSN() output format
// ---------------------------------------------------------------------------

func TestDatabaseConfig_DSN(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  DatabaseConfig
		want string
	}{
		{
			name: "fields",
			cfg: DatabaseConfig{
				Host: "db.prod", Port: 5433, User: "admin",
				Password: "p@ss!", DBName: "boards", SSLMode: "require",
			},
			want: "host=db.prod port=5433 user=admin password=p@ss! dbname=boards sslmode=require",
		},
		{
			name: "url wins",
			cfg:  DatabaseConfig{URL: "postgres://u@h/d", Host: "ignored", Port: 1},
			want: "postgres://u@h/d",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, tc.cfg.DSN())
		})
	}
}

// ---------------------------------------------------------------------------
// validate() direct tests
// ---------------------------------------------------------------------------

func TestValidate(t *testing.T) {
	t.Parallel()

	validBase := func() *Config {
		c := Defaults()
		c.JWT.Secret = testSecret
		return c
	}

	t.Run("valid config passes", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, validBase().validate())
	})

	t.Run("JWT secret too short fails", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.JWT.Secret = "only-31-characters-long-secret!"
		assert.ErrorContains(t, c.validate(), "BOARDSYNC_JWT_SECRET")
	})

	t.Run("JWT secret exactly 32 chars passes", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.JWT.Secret = "exactly-32-characters-long-sec!!"
		assert.NoError(t, c.validate())
	})

	t.Run("port ignored when url set", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.Database.URL = "postgres://localhost/boards"
		c.Database.Port = 0
		assert.NoError(t, c.validate())
	})

	t.Run("redis enabled without addr fails", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.Redis.Enabled = true
		c.Redis.Addr = ""
		assert.ErrorContains(t, c.validate(), "BOARDSYNC_REDIS_ADDR")
	})

	t.Run("access cache disabled passes", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.Realtime.AccessCacheTTL = 0
		assert.NoError(t, c.validate())
	})
}
