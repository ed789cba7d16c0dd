package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
engine:
  flush_interval: 5s
  local_mode: true
  ignore: ["127.0.0.1", "::1"]
writers:
  - type: clickhouse
    enabled: true
    clickhouse:
      host: localhost
      port: 9000
      database: default
  - type: nats
    enabled: true
    nats:
      subject: gonodes.traffic
      encoding: proto
blockflow:
  store: sqlite
  path: /var/lib/gonodes/nodes.db
log:
  level: debug
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, Duration(cfg.Engine.FlushInterval))
	assert.True(t, cfg.Engine.LocalMode)
	assert.Equal(t, []string{"127.0.0.1", "::1"}, cfg.Engine.Ignore)
	assert.Equal(t, "sqlite", cfg.Blockflow.Store)
	assert.Equal(t, "/var/lib/gonodes/nodes.db", cfg.Blockflow.NodeDB)
	assert.Equal(t, "debug", cfg.Log.Level)

	// Defaults survive for settings the file leaves out.
	assert.Equal(t, 60*time.Second, Duration(cfg.Engine.SweepInterval))
	assert.Equal(t, "gonodes.wire", cfg.Probe.Subject)
	assert.Equal(t, 10, cfg.Engine.MaxIdlePeriods)

	ch, ok := cfg.ClickHouse()
	require.True(t, ok)
	assert.Equal(t, 9000, ch.Port)
}

func TestLoadConfigErrors(t *testing.T) {
	cases := map[string]string{
		"bad duration":   "engine:\n  sweep_interval: soon\n",
		"zero flush":     "engine:\n  flush_interval: 0s\n",
		"unknown store":  "blockflow:\n  store: etcd\n",
		"bad encoding":   "writers:\n  - type: nats\n    enabled: true\n    nats:\n      encoding: xml\n",
		"malformed yaml": "engine: [",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, body))
			assert.Error(t, err)
		})
	}

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestNodeDBDefault(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "blockflow:\n  store: file\n  path: /etc/spin/nodepairs.conf\n"))
	require.NoError(t, err)
	assert.Equal(t, "/etc/spin/nodes.db", cfg.Blockflow.NodeDB)
}

func TestShippedConfig(t *testing.T) {
	cfg, err := LoadConfig("../../configs/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, uint16(772), cfg.Sources.NFLog.BlockGroup)
	assert.Equal(t, []string{"127.0.0.1", "::1"}, cfg.Engine.Ignore)
	assert.Equal(t, "/etc/spin/nodes.db", cfg.Blockflow.NodeDB)
	_, ok := cfg.ClickHouse()
	assert.False(t, ok)
}
