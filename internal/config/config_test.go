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
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_FileAndDefaults(t *testing.T) {
	path := writeConfig(t, `
environment: PROD
db:
  driver: Memory
  name: workflows
auth:
  okta_domain: https://example.okta.com/oauth2/default/
server:
  read_timeout: 5s
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "PROD", cfg.Environment)
	assert.False(t, cfg.IsDev())
	assert.Equal(t, DriverMemory, cfg.DB.Driver)
	assert.Equal(t, "workflows", cfg.DB.Name)
	assert.Equal(t, 5432, cfg.DB.Port)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "https://example.okta.com/oauth2/default", cfg.Auth.OktaDomain)
	assert.Equal(t, "workflows", cfg.NATS.SubjectPrefix)
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, "db:\n  host: db.internal\n")
	t.Setenv("COMPLYFLOW_DB_HOST", "override.internal")
	t.Setenv("COMPLYFLOW_SERVER_PORT", "9090")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "override.internal", cfg.DB.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Contains(t, cfg.PostgresDSN(), "host=override.internal")
}

func TestLoadConfig_RejectsUnknownDriver(t *testing.T) {
	path := writeConfig(t, "db:\n  driver: oracle\n")

	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "db.driver")
}

func TestLoadConfig_TLSNeedsFiles(t *testing.T) {
	path := writeConfig(t, "tls:\n  enable: true\n")

	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "tls.enable")
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
