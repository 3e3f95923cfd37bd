package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/charlesng35/idbridge/internal/app"
)

func testBootstrapConfig(t *testing.T) *app.Config {
	t.Helper()

	cfg, err := app.LoadConfig(t.TempDir())
	require.NoError(t, err)

	cfg.Database.Driver = "sqlite"
	cfg.Database.Path = filepath.Join(t.TempDir(), "idbridge.sqlite")
	cfg.Provider.APIKey = "sk_test_bootstrap"
	cfg.Provider.WebhookSecret = "whsec_bootstrap"
	return cfg
}

func TestBootstrapRuntime(t *testing.T) {
	cfg := testBootstrapConfig(t)

	stack, err := bootstrapRuntime(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { stack.Shutdown(zap.NewNop()) })

	require.NotNil(t, stack.DB)
	require.NotNil(t, stack.Provider)
	require.NotNil(t, stack.Router)
	require.Nil(t, stack.Sweeper)
}

func TestBootstrapRuntimeStartsSweeper(t *testing.T) {
	cfg := testBootstrapConfig(t)
	cfg.Maintenance.Resync.Enabled = true

	stack, err := bootstrapRuntime(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { stack.Shutdown(zap.NewNop()) })

	require.NotNil(t, stack.Sweeper)
}

func TestEnsureSecretsPresent(t *testing.T) {
	cfg := testBootstrapConfig(t)
	require.NoError(t, ensureSecretsPresent(cfg))

	cfg.Provider.APIKey = "   "
	require.Error(t, ensureSecretsPresent(cfg))

	require.Error(t, ensureSecretsPresent(nil))
}

func TestConvertDatabaseConfig(t *testing.T) {
	cfg := testBootstrapConfig(t)

	cfg.Database.Driver = "PostgreSQL"
	cfg.Database.Postgres.Host = "db.internal"
	cfg.Database.Postgres.Port = 5432
	cfg.Database.Postgres.Database = "idbridge"
	cfg.Database.Postgres.Username = "svc"
	cfg.Database.Postgres.Password = "secret"

	dbCfg := convertDatabaseConfig(cfg)
	require.Equal(t, "postgres", dbCfg.Driver)
	require.Equal(t, "db.internal", dbCfg.Host)
	require.Equal(t, 5432, dbCfg.Port)
	require.Equal(t, "idbridge", dbCfg.Name)

	cfg.Database.Driver = ""
	require.Equal(t, "sqlite", convertDatabaseConfig(cfg).Driver)
}
