package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"CONFIG_FILE", "LISTEN_ADDR", "WS_PATH", "GIN_MODE", "REDIS_URL", "DATABASE_URL",
		"QUEUE_KEY", "JWT_SECRET", "IDENTITY_URL", "ALLOWED_ORIGINS", "ALLOW_ANONYMOUS",
		"AUTO_MATCH", "TIME_CONTROL", "TIMEOUT_SWEEP_INTERVAL", "WS_READ_LIMIT",
	} {
		t.Setenv(k, "")
	}
	// keep a stray .env in the package dir out of the picture
	t.Chdir(t.TempDir())
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "/ws/game", cfg.WSPath)
	assert.Equal(t, 10*time.Minute, cfg.TimeControl)
	assert.True(t, cfg.AutoMatch)
	assert.False(t, cfg.AllowAnonymous)
	assert.Equal(t, 5*time.Second, cfg.TimeoutSweepInterval)
}

func TestLoadRequiresRedis(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", "s3cret")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_URL")
}

func TestLoadRequiresSecretUnlessAnonymous(t *testing.T) {
	clearEnv(t)
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("ALLOW_ANONYMOUS", "true")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.AllowAnonymous)
}

func TestLoadDurations(t *testing.T) {
	clearEnv(t)
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("ALLOW_ANONYMOUS", "1")
	t.Setenv("TIME_CONTROL", "90")
	t.Setenv("TIMEOUT_SWEEP_INTERVAL", "250ms")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.TimeControl)
	assert.Equal(t, 250*time.Millisecond, cfg.TimeoutSweepInterval)

	t.Setenv("TIME_CONTROL", "soon")
	_, err = Load()
	assert.Error(t, err)
}

func TestYAMLOverlayLosesToEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "chess.yaml")
	yml := "listen_addr: \":9000\"\nredis_url: redis://yaml:6379\nallow_anonymous: true\n" +
		"time_control: 3m\nallowed_origins:\n  - example.com\n"
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("LISTEN_ADDR", ":9100")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.ListenAddr)
	assert.Equal(t, "redis://yaml:6379", cfg.RedisURL)
	assert.Equal(t, 3*time.Minute, cfg.TimeControl)
	assert.Equal(t, []string{"example.com"}, cfg.AllowedOrigins)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a.com", "b.com"}, splitList(" a.com, ,b.com "))
	assert.Nil(t, splitList(" , "))
}
