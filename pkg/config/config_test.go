package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Renator13/botnode-public/pkg/config"
)

// TestLoad_Defaults verifies that Load() returns the hybrid deployment
// defaults when no environment variables are set.
func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{
		"PORT", "LOG_LEVEL", "BACKEND_URL", "LAW_V_API_URL", "CRI_API_URL",
		"ENABLE_LAW_V", "HTTP_TIMEOUT_SECONDS", "HTTP_MAX_RETRIES", "DATABASE_URL",
		"SQLITE_PATH", "CRI_SEED_DEMO", "OTEL_ENABLED", "RATE_LIMIT_RPS",
	} {
		t.Setenv(k, "")
	}

	cfg := config.Load()

	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "http://localhost:8000", cfg.BackendURL)
	assert.Equal(t, "http://localhost:8110", cfg.LawVURL)
	assert.Equal(t, "http://localhost:8111", cfg.CRIURL)
	assert.True(t, cfg.EnableLawV)
	assert.Equal(t, 3*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 2, cfg.HTTPMaxRetries)
	assert.Empty(t, cfg.DatabaseURL)
	assert.False(t, cfg.SeedDemo)
	assert.False(t, cfg.OTelEnabled)
	assert.Equal(t, 50, cfg.RateLimitRPS)
	assert.Equal(t, ":8110", cfg.ListenAddr("8110"))
}

// TestLoad_Overrides verifies that environment variables correctly
// override default values.
func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("BACKEND_URL", "http://backend:8000/")
	t.Setenv("ENABLE_LAW_V", "off")
	t.Setenv("HTTP_TIMEOUT_SECONDS", "0.5")
	t.Setenv("CRI_SEED_DEMO", "YES")
	t.Setenv("DATABASE_URL", "postgres://botnode@db:5432/botnode")

	cfg := config.Load()

	assert.Equal(t, ":9090", cfg.ListenAddr("8100"))
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "http://backend:8000", cfg.BackendURL)
	assert.False(t, cfg.EnableLawV)
	assert.Equal(t, 500*time.Millisecond, cfg.HTTPTimeout)
	assert.True(t, cfg.SeedDemo)
	assert.Equal(t, "postgres://botnode@db:5432/botnode", cfg.DatabaseURL)
}

func TestLoad_InvalidNumbersFallBack(t *testing.T) {
	t.Setenv("HTTP_TIMEOUT_SECONDS", "soon")
	t.Setenv("HTTP_MAX_RETRIES", "-3")

	cfg := config.Load()
	assert.Equal(t, 3*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 2, cfg.HTTPMaxRetries)
}

func TestLoadEnvFile_ExistingVariablesWin(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env.hybrid")
	content := "# hybrid deployment\nBOTNODE_TEST_A=\"from-file\"\nBOTNODE_TEST_B='kept'\n\nBOTNODE_TEST_C = spaced \n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("BOTNODE_TEST_A", "from-env")
	t.Setenv("BOTNODE_TEST_B", "")
	require.NoError(t, os.Unsetenv("BOTNODE_TEST_B"))
	t.Setenv("BOTNODE_TEST_C", "")
	require.NoError(t, os.Unsetenv("BOTNODE_TEST_C"))

	require.NoError(t, config.LoadEnvFile(path))

	assert.Equal(t, "from-env", os.Getenv("BOTNODE_TEST_A"))
	assert.Equal(t, "kept", os.Getenv("BOTNODE_TEST_B"))
	assert.Equal(t, "spaced", os.Getenv("BOTNODE_TEST_C"))
}

func TestLoadEnvFile_ExportAndEscapes(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env.hybrid")
	content := "export BOTNODE_TEST_D=exported\nBOTNODE_TEST_E=\"two\\nlines\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	for _, k := range []string{"BOTNODE_TEST_D", "BOTNODE_TEST_E"} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}

	require.NoError(t, config.LoadEnvFile(path))

	assert.Equal(t, "exported", os.Getenv("BOTNODE_TEST_D"))
	assert.Equal(t, "two\nlines", os.Getenv("BOTNODE_TEST_E"))
}

func TestLoadEnvFile_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env.hybrid")
	require.NoError(t, os.WriteFile(path, []byte("BOTNODE_TEST_F=\"unterminated\n"), 0o600))

	err := config.LoadEnvFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), path)
}

func TestLoadEnvFile_Missing(t *testing.T) {
	assert.NoError(t, config.LoadEnvFile(filepath.Join(t.TempDir(), "absent.env")))
}
