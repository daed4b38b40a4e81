package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boddenberg/lead-router-go/internal/config"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ROUTING_FANOUT_LIMIT", "")
	t.Setenv("STORE_BACKEND", "")

	cfg := config.Load()

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, config.StoreSupabase, cfg.StoreBackend)
	assert.Equal(t, 0, cfg.FanOutLimit)
	assert.Equal(t, "@every 5m", cfg.SweepSchedule)
	assert.Equal(t, 10*time.Minute, cfg.StaleAfter)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
}

func TestValidate_RequiresFanOut(t *testing.T) {
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("ROUTING_FANOUT_LIMIT", "")

	err := config.Load().Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ROUTING_FANOUT_LIMIT")

	t.Setenv("ROUTING_FANOUT_LIMIT", "3")
	cfg := config.Load()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3, cfg.FanOutLimit)
}

func TestValidate_BackendSettings(t *testing.T) {
	t.Setenv("ROUTING_FANOUT_LIMIT", "2")
	t.Setenv("JWT_SECRET", testSecret)

	t.Setenv("STORE_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "")
	assert.ErrorContains(t, config.Load().Validate(), "DATABASE_URL")

	t.Setenv("DATABASE_URL", "postgres://localhost/leads?sslmode=disable")
	assert.NoError(t, config.Load().Validate())

	t.Setenv("STORE_BACKEND", "mongo")
	assert.ErrorContains(t, config.Load().Validate(), "STORE_BACKEND")
}

func TestValidate_TimezoneAndSecret(t *testing.T) {
	t.Setenv("ROUTING_FANOUT_LIMIT", "2")
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("JWT_SECRET", "short")
	t.Setenv("ROUTING_TIMEZONE", "Mars/Olympus")

	err := config.Load().Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
	assert.Contains(t, err.Error(), "ROUTING_TIMEZONE")

	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("ROUTING_TIMEZONE", "America/Chicago")
	cfg := config.Load()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "America/Chicago", cfg.Location().String())
}

func TestLoad_Lists(t *testing.T) {
	t.Setenv("INGEST_API_KEY_HASHES", " $2a$10$abc , ,$2a$10$def")
	cfg := config.Load()
	assert.Equal(t, []string{"$2a$10$abc", "$2a$10$def"}, cfg.IngestAPIKeyHashes)
}

func TestLoadDotEnv_DoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("LR_TEST_A=from-file\nLR_TEST_B=\"quoted\"\n"), 0o600))

	t.Setenv("LR_TEST_A", "from-env")
	t.Setenv("LR_TEST_B", "")
	require.NoError(t, os.Unsetenv("LR_TEST_B"))

	require.NoError(t, config.LoadDotEnv(path, filepath.Join(dir, "missing.env")))
	assert.Equal(t, "from-env", os.Getenv("LR_TEST_A"))
	assert.Equal(t, "quoted", os.Getenv("LR_TEST_B"))
}
