package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "docker", cfg.App.Domain)
	assert.Equal(t, "./hosts", cfg.App.HostsFile)
	assert.Equal(t, DuplicatePolicyLast, cfg.App.DuplicatePolicy)
	assert.Equal(t, 30*time.Second, cfg.App.UpdateTimeout)
	assert.Equal(t, 100, cfg.App.QueueSize)
	assert.Equal(t, "WARN", cfg.Logging.Level)
	assert.Equal(t, []string{"localhost:2379"}, cfg.Etcd.Endpoints)
	assert.False(t, cfg.Etcd.Enabled)
}

func TestInitConfigReadsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
app:
  domain: lan
  hosts_file: /tmp/hosts.docker
  update_timeout: 5s
  duplicate_policy: first
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	v := viper.New()
	require.NoError(t, InitConfig(v, path))

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "lan", cfg.App.Domain)
	assert.Equal(t, "/tmp/hosts.docker", cfg.App.HostsFile)
	assert.Equal(t, 5*time.Second, cfg.App.UpdateTimeout)
	assert.Equal(t, DuplicatePolicyFirst, cfg.App.DuplicatePolicy)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestInitConfigMissingExplicitFile(t *testing.T) {
	v := viper.New()
	err := InitConfig(v, filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		v := viper.New()
		SetDefaults(v)
		cfg, err := Load(v)
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty hosts file", func(c *Config) { c.App.HostsFile = " " }},
		{"unknown duplicate policy", func(c *Config) { c.App.DuplicatePolicy = "random" }},
		{"zero queue", func(c *Config) { c.App.QueueSize = 0 }},
		{"zero update timeout", func(c *Config) { c.App.UpdateTimeout = 0 }},
		{"negative reconcile interval", func(c *Config) { c.App.ReconcileInterval = -time.Second }},
		{"max backoff below initial", func(c *Config) { c.Docker.ReconnectMaxInterval = time.Millisecond }},
		{"etcd without endpoints", func(c *Config) {
			c.Etcd.Enabled = true
			c.Etcd.Endpoints = nil
		}},
		{"etcd short lock ttl", func(c *Config) {
			c.Etcd.Enabled = true
			c.Etcd.LockTTL = 10 * time.Millisecond
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}
