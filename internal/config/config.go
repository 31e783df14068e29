package config

import (
	"github.com/spf13/viper"

	"github.com/joestump/migrator/migrator"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// Config holds all runtime configuration for the migrate CLI.
// Values come from MIGRATE_* env vars, an optional config file, and flags.
type Config struct {
	URI            string
	Collection     string
	MigrationsPath string
	Autosync       bool
	ConfigPath     string
	TemplatePath   string
	Ext            string
	Format         string
	Verbose        bool
}

// Load reads configuration from v, which merges flag values, env vars,
// the config file, and defaults (set up by the cobra command in cmd/migrate).
func Load(v *viper.Viper) Config {
	return Config{
		URI:            v.GetString("uri"),
		Collection:     v.GetString("collection"),
		MigrationsPath: v.GetString("migrations_path"),
		Autosync:       v.GetBool("autosync"),
		ConfigPath:     v.GetString("config_path"),
		TemplatePath:   v.GetString("template_path"),
		Ext:            v.GetString("ext"),
		Format:         v.GetString("format"),
		Verbose:        v.GetBool("verbose"),
	}
}

// Options maps the configuration onto migrator options.
func (c Config) Options() migrator.Options {
	return migrator.Options{
		URI:            c.URI,
		Collection:     c.Collection,
		MigrationsPath: c.MigrationsPath,
		Autosync:       c.Autosync,
		TemplatePath:   c.TemplatePath,
		Ext:            c.Ext,
	}
}
