package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", c.Server.Addr)
	assert.Equal(t, "memory", c.Store.Backend)
	assert.Equal(t, "local", c.Feed.Backend)
	assert.Equal(t, 5, c.Engine.ConflictRetries)
	assert.Equal(t, "info", c.Log.Level)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dmsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9090"
store:
  backend: bolt
  bolt_path: /var/lib/dmsync.db
engine:
  conflict_retries: 0
`), 0o600))
	t.Setenv("JWT_SECRET", "legacy-secret")
	t.Setenv("DMSYNC_FEED_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "redis:6379")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", c.Server.Addr)
	assert.Equal(t, "bolt", c.Store.Backend)
	assert.Equal(t, "/var/lib/dmsync.db", c.Store.BoltPath)
	assert.Equal(t, 0, c.Engine.ConflictRetries)
	assert.Equal(t, "legacy-secret", c.JWT.Secret)
	assert.Equal(t, "redis", c.Feed.Backend)
	assert.Equal(t, "redis:6379", c.Feed.RedisAddr)
	assert.NoError(t, c.Validate())
}

func TestLoad_ExplicitMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Store:  Store{Backend: "memory"},
			Feed:   Feed{Backend: "local"},
			JWT:    JWT{Secret: "s"},
			Engine: Engine{ConflictRetries: 5},
		}
	}
	tests := map[string]func(*Config){
		"unknown store":    func(c *Config) { c.Store.Backend = "sqlite" },
		"unknown feed":     func(c *Config) { c.Feed.Backend = "kafka" },
		"postgres no dsn":  func(c *Config) { c.Store.Backend = "postgres" },
		"mongo no uri":     func(c *Config) { c.Store.Backend = "mongo" },
		"mongo feed alone": func(c *Config) { c.Feed.Backend = "mongo" },
		"no secret":        func(c *Config) { c.JWT.Secret = "" },
		"negative retries": func(c *Config) { c.Engine.ConflictRetries = -1 },
	}

	c := valid()
	require.NoError(t, c.Validate())
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
