package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestLoad(t *testing.T) {
	v := viper.New()
	v.Set("uri", "sqlite://app.db")
	v.Set("collection", "history")
	v.Set("migrations_path", "db/migrations")
	v.Set("autosync", true)
	v.Set("ext", "go")
	v.Set("format", "json")

	cfg := Load(v)
	assert.Equal(t, "sqlite://app.db", cfg.URI)
	assert.Equal(t, "history", cfg.Collection)
	assert.True(t, cfg.Autosync)
	assert.False(t, cfg.Verbose)

	opts := cfg.Options()
	assert.Equal(t, "db/migrations", opts.MigrationsPath)
	assert.Equal(t, "go", opts.Ext)
	assert.True(t, opts.Autosync)
	assert.Nil(t, opts.DB)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MIGRATE_URI", "duckdb://warehouse.duckdb")
	t.Setenv("MIGRATE_AUTOSYNC", "true")

	v := viper.New()
	v.SetEnvPrefix("MIGRATE")
	v.AutomaticEnv()

	cfg := Load(v)
	assert.Equal(t, "duckdb://warehouse.duckdb", cfg.URI)
	assert.True(t, cfg.Autosync)
}
