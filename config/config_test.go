package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	path := writeFile(t, dir, "config.toml", `
[server]
port = 8080
secret_key = "from-file"

[database]
url = "postgres://file"
conn_max_lifetime = "5m"

[scheduler]
timezone = "Europe/Berlin"
cron = "@daily"
`)
	t.Setenv("SECRET_KEY", "from-env")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SMTP_ENCRYPTION_KEY", "k")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "from-env", cfg.Server.SecretKey)
	assert.Equal(t, "postgres://file", cfg.Database.URL)
	assert.Equal(t, 5*time.Minute, cfg.Database.ConnMaxLifetime.Duration)
	assert.Equal(t, "@daily", cfg.Scheduler.Cron)
	assert.Equal(t, 24*time.Hour, cfg.Session.Expiration.Duration)
	require.NoError(t, cfg.Validate())

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", loc.String())
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := LoadConfig("does-not-exist.toml")
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.True(t, cfg.Database.AutoMigrate)
}

func TestLoadConfig_DotEnvDoesNotOverrideEnvironment(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	writeFile(t, dir, ".env", "DATABASE_URL=postgres://dotenv\nREDIS_URL=redis://dotenv\n")
	t.Setenv("DATABASE_URL", "postgres://env")
	t.Setenv("REDIS_URL", "")
	os.Unsetenv("REDIS_URL")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://env", cfg.Database.URL)
	assert.Equal(t, "redis://dotenv", cfg.Redis.URL)
}

func TestLoadConfig_BadPort(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("PORT", "eighty")

	_, err := LoadConfig("")
	assert.ErrorContains(t, err, "PORT must be an integer")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	assert.EqualError(t, err, "missing required configuration: SECRET_KEY, DATABASE_URL, SMTP_ENCRYPTION_KEY")

	cfg.Server.SecretKey, cfg.Database.URL, cfg.Encryption.Key = "s", "postgres://x", "k"
	require.NoError(t, cfg.Validate())

	cfg.Scheduler.Timezone = "Mars/Olympus"
	assert.ErrorContains(t, cfg.Validate(), "Mars/Olympus")

	cfg.Scheduler.Timezone = "UTC"
	cfg.Server.Port = 70000
	assert.ErrorContains(t, cfg.Validate(), "out of range")
}

// chdir changes the working directory for the rest of the test and restores
// it on cleanup (equivalent to testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}
