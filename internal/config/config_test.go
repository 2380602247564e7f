package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "socialflow.db", cfg.DB.Path)
	assert.Equal(t, 8, cfg.Worker.Count)
	assert.Equal(t, 250*time.Millisecond, cfg.Worker.Poll)
	assert.Equal(t, 60*time.Second, cfg.Worker.VisibilityTimeout)
	assert.Equal(t, "@every 1m", cfg.Maintenance.Cron)
	assert.Equal(t, 7*24*time.Hour, cfg.Maintenance.Retention)
}

func TestPrecedence(t *testing.T) {
	file := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
http:
  addr: ":9000"
db:
  path: /var/lib/socialflow/file.db
worker:
  count: 2
queue:
  max_attempts: 3
`), 0o600))
	t.Setenv("SOCIALFLOW_WORKER_COUNT", "4")

	cfg, err := Load([]string{"--config", file, "--http.addr", ":9100"})
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.HTTP.Addr)
	assert.Equal(t, "/var/lib/socialflow/file.db", cfg.DB.Path)
	assert.Equal(t, 4, cfg.Worker.Count)
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
}

func TestEveryKeyHasAFlag(t *testing.T) {
	cfg, err := Load([]string{
		"--http.shutdown_timeout", "9s",
		"--worker.visibility_timeout", "2m",
		"--queue.max_attempts", "7",
		"--maintenance.retention", "48h",
		"--auth.bcrypt_cost", "12",
	})
	require.NoError(t, err)
	assert.Equal(t, 9*time.Second, cfg.HTTP.ShutdownTimeout)
	assert.Equal(t, 2*time.Minute, cfg.Worker.VisibilityTimeout)
	assert.Equal(t, 7, cfg.Queue.MaxAttempts)
	assert.Equal(t, 48*time.Hour, cfg.Maintenance.Retention)
	assert.Equal(t, 12, cfg.Auth.BcryptCost)

	_, err = Load([]string{"--auth.bcrypt_cost", "3"})
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	_, err := Load([]string{"--worker.count", "0", "--maintenance.cron", "every tuesday"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker.count")
	assert.Contains(t, err.Error(), "maintenance.cron")

	_, err = Load([]string{"--log.level", "loud"})
	require.Error(t, err)

	_, err = Load([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")})
	require.Error(t, err)
}
