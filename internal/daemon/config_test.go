package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points home at a temp dir and runs from another one, so neither
// the developer's config nor a stray .env leaks in.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv(EnvHome, home)
	t.Setenv(EnvJWTSecret, "")
	t.Setenv(EnvLogLevel, "")
	t.Chdir(t.TempDir())
	return home
}

func TestDefaultConfig(t *testing.T) {
	home := isolate(t)
	cfg := DefaultConfig()

	assert.Equal(t, "127.0.0.1", cfg.API.Host)
	assert.Equal(t, 8420, cfg.API.Port)
	assert.Equal(t, filepath.Join(home, "data"), cfg.Storage.Dir)
	assert.Equal(t, time.Hour, cfg.Scheduler.Interval.Duration)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL.Duration)
	assert.Equal(t, "127.0.0.1:8420", cfg.Addr())
	assert.Error(t, cfg.Validate(), "no secret by default")
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	isolate(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestSaveLoadConfig(t *testing.T) {
	home := isolate(t)

	cfg := DefaultConfig()
	cfg.API.Port = 9000
	cfg.Auth.JWTSecret = "s3cret"
	cfg.Scheduler.Interval = Duration{15 * time.Minute}
	cfg.Scheduler.RetentionDays = 90
	require.NoError(t, SaveConfig(cfg))

	info, err := os.Stat(filepath.Join(home, "config.toml"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	got, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
	assert.NoError(t, got.Validate())
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	home := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(home, "config.toml"), []byte(`
[auth]
jwt_secret = "from-file"

[logging]
level = "warn"
`), 0600))
	t.Setenv(EnvJWTSecret, "from-env")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadConfig_DotEnv(t *testing.T) {
	isolate(t)
	require.NoError(t, os.WriteFile(".env", []byte("COACHPOINTS_LOG_LEVEL=debug\n"), 0600))
	t.Cleanup(func() { os.Unsetenv(EnvLogLevel) })
	os.Unsetenv(EnvLogLevel)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadConfig_BadDuration(t *testing.T) {
	home := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(home, "config.toml"), []byte(`
[scheduler]
interval = "soon"
`), 0600))

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Auth.JWTSecret = "x"
	require.NoError(t, cfg.Validate())

	cfg.API.Port = 0
	assert.Error(t, cfg.Validate())
}
