package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("SEED_ADMIN_PASSWORD", "")

	cfg := Load()
	assert.Empty(t, cfg.AuthSecret)
	assert.False(t, cfg.SeedAdminPasswordIsSet)
}

func TestLoadDefaultsAndStoreSelection(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("MONGO_URI", "")
	t.Setenv("IMPORT_REPORT_TTL_MINUTES", "not-a-number")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "-5")

	cfg := Load()
	assert.Equal(t, "memory", cfg.StoreKind())
	assert.Equal(t, 24*time.Hour, cfg.ImportReportTTL())
	assert.Equal(t, 8*time.Hour, cfg.AccessTokenTTL())

	t.Setenv("MONGO_URI", "mongodb://localhost:27017/?replicaSet=rs0")
	assert.Equal(t, "mongodb", Load().StoreKind())

	t.Setenv("DATABASE_URL", "postgres://bitetrack@localhost/bitetrack")
	assert.Equal(t, "postgres", Load().StoreKind())
}

func TestLoadEnvFileKeepsExistingVariables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("PORT=9191\nLOG_LEVEL=debug\n"), 0o600))

	t.Setenv("ENV_FILE", path)
	t.Setenv("PORT", "")
	t.Setenv("LOG_LEVEL", "warn")
	// godotenv only fills variables that are absent, so clear PORT entirely.
	require.NoError(t, os.Unsetenv("PORT"))

	loaded, err := LoadEnvFile()
	require.NoError(t, err)
	assert.Equal(t, path, loaded)

	cfg := Load()
	assert.Equal(t, "9191", cfg.Port)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoadEnvFileMissingIsIgnored(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "absent.env"))

	loaded, err := LoadEnvFile()
	require.NoError(t, err)
	assert.Empty(t, loaded)
}
