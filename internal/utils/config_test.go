package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryanhale/tracksync/pkg/file"
)

const validConfig = `
agent:
  version: "1.0.0"
postgres:
  host: "localhost"
  port: 5432
  user: "tracksync"
  password: "file-password"
  database: "tracksync"
mqtt:
  broker: "tcp://localhost:1883"
  client_id: "test-agent"
  base_topic: "tracksync"
  qos: 1
logger:
  level: "info"
  format: "console"
identity:
  identity_file: "identity.json"
services:
  tracker:
    enabled: true
    mode: "continuous"
    source: "serial"
    min_interval: 5s
    min_distance: 5.0
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

// TestLoadConfig_Success tests loading a valid configuration file.
func TestLoadConfig_Success(t *testing.T) {
	path := writeConfig(t, validConfig)

	config, err := LoadConfig(path, file.NewFileService())

	assert.NoError(t, err)
	assert.Equal(t, "1.0.0", config.Agent.Version)
	assert.Equal(t, "tracksync", config.MQTT.BaseTopic)
	assert.Equal(t, "continuous", config.Services.Tracker.Mode)
	assert.Contains(t, config.PostgresDSN(), "host=localhost")
	assert.Contains(t, config.PostgresDSN(), "sslmode=disable")
}

// TestLoadConfig_EnvOverridesSecrets tests that environment variables win
// over file values for secrets.
func TestLoadConfig_EnvOverridesSecrets(t *testing.T) {
	path := writeConfig(t, validConfig)
	t.Setenv("POSTGRES_PASSWORD", "env-password")

	config, err := LoadConfig(path, file.NewFileService())

	assert.NoError(t, err)
	assert.Equal(t, "env-password", config.Postgres.Password)
	assert.Contains(t, config.PostgresDSN(), "password=env-password")
}

// TestLoadConfig_MissingRequiredField tests that validation rejects an
// incomplete configuration.
func TestLoadConfig_MissingRequiredField(t *testing.T) {
	path := writeConfig(t, `
agent:
  version: "1.0.0"
mqtt:
  broker: "tcp://localhost:1883"
  base_topic: "tracksync"
`)

	config, err := LoadConfig(path, file.NewFileService())

	assert.Nil(t, config)
	assert.ErrorContains(t, err, "invalid configuration")
}

// TestLoadConfig_RejectsUnknownTrackerMode tests the tracker mode whitelist.
func TestLoadConfig_RejectsUnknownTrackerMode(t *testing.T) {
	path := writeConfig(t, `
agent:
  version: "1.0.0"
postgres:
  host: "localhost"
  port: 5432
  user: "tracksync"
  database: "tracksync"
mqtt:
  broker: "tcp://localhost:1883"
  base_topic: "tracksync"
identity:
  identity_file: "identity.json"
services:
  tracker:
    mode: "burst"
`)

	config, err := LoadConfig(path, file.NewFileService())

	assert.Nil(t, config)
	assert.ErrorContains(t, err, "invalid configuration")
}
