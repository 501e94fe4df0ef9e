package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "memory", cfg.Events.Driver)
	assert.Equal(t, 10*time.Second, cfg.Core.OpTimeout)
	assert.Equal(t, 7*24*time.Hour, cfg.Core.InviteTTL())
	assert.Same(t, cfg, GlobalConfig)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "9090"
core:
  op_timeout: 3s
  max_page_size: 50
events:
  driver: nats
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 3*time.Second, cfg.Core.OpTimeout)
	assert.Equal(t, 50, cfg.Core.MaxPageSize)
	assert.Equal(t, 20, cfg.Core.DefaultPageSize)
	assert.Equal(t, "nats", cfg.Events.Driver)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unterminated"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("DB_DSN", "host=db user=buildlog")
	t.Setenv("CORE_OP_TIMEOUT", "2s")
	t.Setenv("INVITE_TTL_HOURS", "48")
	t.Setenv("EVENTS_DRIVER", "redis")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "host=db user=buildlog", cfg.Database.DSN)
	assert.Equal(t, 2*time.Second, cfg.Core.OpTimeout)
	assert.Equal(t, 48*time.Hour, cfg.Core.InviteTTL())
	assert.Equal(t, "redis", cfg.Events.Driver)
}

func TestParseRedisURL(t *testing.T) {
	tests := []struct {
		url      string
		addr     string
		password string
		db       int
	}{
		{"redis://localhost:6379", "localhost:6379", "", 0},
		{"redis://:secret@cache:6380/2", "cache:6380", "secret", 2},
		{"redis://user:pw@host:6379/1", "host:6379", "pw", 1},
	}
	for _, tt := range tests {
		c := DefaultConfig()
		c.parseRedisURL(tt.url)
		assert.Equal(t, tt.addr, c.Redis.Addr, tt.url)
		assert.Equal(t, tt.password, c.Redis.Password, tt.url)
		assert.Equal(t, tt.db, c.Redis.DB, tt.url)
	}
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultConfig()
	cfg.Server.Port = "7070"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "7070", loaded.Server.Port)
	assert.Equal(t, cfg.Core, loaded.Core)
}
