package database_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"requestanalytics/internal/config"
	"requestanalytics/internal/database"
	"requestanalytics/internal/testsupport"
)

func TestMigrateDatabaseCreatesConfiguredTable(t *testing.T) {
	cfg := &config.Config{
		AppName:      "requestanalytics",
		Environment:  config.Test,
		DatabaseType: config.SQLiteDatabase,
		DatabaseName: filepath.Join(t.TempDir(), "analytics.db"),
		TableName:    "custom_requests",
	}

	dm := database.NewDBManager(cfg, testsupport.GetLogger())
	require.NoError(t, dm.Init())
	assert.True(t, dm.IsSQLite())

	require.NoError(t, dm.MigrateDatabase())
	assert.True(t, dm.GetConnection().Migrator().HasTable("custom_requests"))
	assert.NoError(t, dm.Release())
}
