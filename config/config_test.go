package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
INGRESS:
  AET: DICOMSHIELD
  PORT: 11112
C_STORE_ENDPOINT:
  AET: DICOMSHIELD_STORE
  PORT: 11113
UPSTREAM:
  AET: UPSTREAM_PACS
  IP: 10.0.0.5
  PORT: 104
ALLOWED_AET:
  REMOTE_VIEWER: 10.0.0.9:104
PSEUDONYMIZATION_SERVER:
  CLIENT_TYPE: gPAS
  ENDPOINT_URL: https://pseudonym.example.org/fhir
  DOMAIN: DICOMSHIELD
`

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeTempConfig(t, validYAML)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "DICOMSHIELD", cfg.Ingress.AET)
	assert.Equal(t, 11112, cfg.Ingress.Port)
	assert.Equal(t, "DICOMSHIELD_STORE", cfg.CStoreEndpoint.AET)
	assert.Equal(t, "UPSTREAM_PACS", cfg.Upstream.AET)
	assert.Equal(t, "10.0.0.5", cfg.Upstream.IP)
	assert.Equal(t, "10.0.0.9:104", cfg.AllowedAET["REMOTE_VIEWER"])
	assert.Equal(t, "gPAS", cfg.PseudonymizationServer.ClientType)
	assert.Equal(t, "INFO", cfg.Logging.Level, "default logging level should be set")
	assert.Equal(t, "json", cfg.Logging.Format, "default logging format should be set")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yml")
	assert.Error(t, err)
}

func TestLoad_InvalidClientType(t *testing.T) {
	path := writeTempConfig(t, `
INGRESS:
  AET: A
  PORT: 1
C_STORE_ENDPOINT:
  AET: B
  PORT: 2
UPSTREAM:
  AET: C
  IP: 1.2.3.4
  PORT: 3
PSEUDONYMIZATION_SERVER:
  CLIENT_TYPE: unknown
  ENDPOINT_URL: https://example.org
  DOMAIN: D
`)

	_, err := Load(path)
	assert.ErrorContains(t, err, "CLIENT_TYPE")
}

func TestLoad_MissingUpstream(t *testing.T) {
	path := writeTempConfig(t, `
INGRESS:
  AET: A
  PORT: 1
C_STORE_ENDPOINT:
  AET: B
  PORT: 2
PSEUDONYMIZATION_SERVER:
  CLIENT_TYPE: gPAS
  ENDPOINT_URL: https://example.org
  DOMAIN: D
`)

	_, err := Load(path)
	assert.ErrorContains(t, err, "UPSTREAM")
}

func TestResolveMoveDestination(t *testing.T) {
	cfg := &Config{AllowedAET: map[string]string{"VIEWER": "10.0.0.1:104"}}

	addr, ok := cfg.ResolveMoveDestination("VIEWER")
	assert.True(t, ok)
	assert.Equal(t, "10.0.0.1:104", addr)

	_, ok = cfg.ResolveMoveDestination("UNKNOWN")
	assert.False(t, ok)
}
