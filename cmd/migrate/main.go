package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joestump/migrator/internal/config"
	"github.com/joestump/migrator/internal/mcpserver"
	"github.com/joestump/migrator/internal/report"
	"github.com/joestump/migrator/migrator"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// execute runs the CLI and returns the process exit code.
func execute(ctx context.Context, args []string, out, errOut io.Writer) int {
	cmd := newRootCmd(out, errOut)
	cmd.SetArgs(joinBoolValues(args))
	if err := cmd.ExecuteContext(ctx); err != nil {
		color.New(color.FgRed).Fprintln(errOut, err.Error())
		return 1
	}
	return 0
}

// boolFlags are the boolean flags that also accept a separate value, as in
// "-a true".
var boolFlags = map[string]bool{"-a": true, "--autosync": true, "-v": true, "--verbose": true}

// joinBoolValues rewrites "-a true" into "-a=true" so the value is not taken
// as a positional argument. Arguments after "--" are left alone.
func joinBoolValues(args []string) []string {
	joined := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return append(joined, args[i:]...)
		}
		if boolFlags[arg] && i+1 < len(args) {
			if _, err := strconv.ParseBool(args[i+1]); err == nil {
				joined = append(joined, arg+"="+args[i+1])
				i++
				continue
			}
		}
		joined = append(joined, arg)
	}
	return joined
}

// cli carries state shared by the subcommands of one invocation.
type cli struct {
	v      *viper.Viper
	out    io.Writer
	errOut io.Writer
	cfg    config.Config
	logger *slog.Logger
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	c := &cli{v: viper.New(), out: out, errOut: errOut}

	rootCmd := &cobra.Command{
		Use:               "migrate",
		Short:             "Create, run and track database migrations",
		Version:           config.Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
	}
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)

	f := rootCmd.PersistentFlags()
	f.StringP("uri", "d", "", "database connection URI (sqlite://, duckdb:// or a file path)")
	f.BoolP("autosync", "a", false, "record unknown scripts before running and allow prune")
	f.String("migrations-path", migrator.DefaultMigrationsPath, "directory holding migration scripts")
	f.String("collection", "migrations", "table that stores migration state")
	f.String("config-path", "migrate", "config file name or path")
	f.String("template-path", "", "template used by create instead of the built-in one")
	f.String("ext", "sql", "extension of scripts written by create (sql or go)")
	f.BoolP("verbose", "v", false, "enable debug logging")

	// Viper keys use underscores so they match the env var suffix after
	// stripping the MIGRATE_ prefix.
	bindFlag := func(viperKey, flagName string) {
		_ = c.v.BindPFlag(viperKey, f.Lookup(flagName))
	}
	bindFlag("uri", "uri")
	bindFlag("autosync", "autosync")
	bindFlag("migrations_path", "migrations-path")
	bindFlag("collection", "collection")
	bindFlag("config_path", "config-path")
	bindFlag("template_path", "template-path")
	bindFlag("ext", "ext")
	bindFlag("verbose", "verbose")

	c.v.SetEnvPrefix("MIGRATE")
	c.v.AutomaticEnv()
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	rootCmd.AddCommand(
		c.listCmd(),
		c.createCmd(),
		c.runCmd(migrator.Up),
		c.runCmd(migrator.Down),
		c.pruneCmd(),
		c.mcpCmd(),
	)
	return rootCmd
}

// setup loads .env and the config file, then resolves the configuration.
func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	if err := c.readConfigFile(); err != nil {
		return err
	}

	c.cfg = config.Load(c.v)

	level := slog.LevelWarn
	if c.cfg.Verbose {
		level = slog.LevelDebug
	}
	c.logger = slog.New(slog.NewTextHandler(c.errOut, &slog.HandlerOptions{Level: level}))
	c.logger.Debug("configuration loaded", "config_file", c.v.ConfigFileUsed(), "migrations_path", c.cfg.MigrationsPath, "autosync", c.cfg.Autosync)
	return nil
}

// readConfigFile reads the optional config file. A bare name is searched in
// the working directory and a missing file is not an error; an explicit
// file path must exist.
func (c *cli) readConfigFile() error {
	path := c.v.GetString("config_path")
	if path == "" {
		return nil
	}
	if filepath.Ext(path) != "" {
		c.v.SetConfigFile(path)
	} else {
		c.v.SetConfigName(filepath.Base(path))
		c.v.AddConfigPath(filepath.Dir(path))
	}
	if err := c.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

func (c *cli) migrator() *migrator.Migrator {
	opts := c.cfg.Options()
	opts.Logger = c.logger
	return migrator.New(opts)
}

func (c *cli) info(attr color.Attribute, format string, args ...any) {
	color.New(attr).Fprintf(c.out, format+"\n", args...)
}

func (c *cli) listCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List migrations and their state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m := c.migrator()
			defer m.Close() //nolint:errcheck

			recs, err := m.List(cmd.Context())
			if err != nil {
				return err
			}

			format := c.cfg.Format
			if format != "" && format != report.FormatText {
				return report.Write(c.out, format, recs)
			}
			unrecorded, err := m.Unrecorded(cmd.Context())
			if err != nil {
				return err
			}

			c.info(color.FgCyan, "Listing migrations")
			if len(recs) == 0 {
				c.info(color.FgYellow, "There are no migrations to list")
			} else if err := report.Text(c.out, recs); err != nil {
				return err
			}
			if len(unrecorded) > 0 {
				names := make([]string, 0, len(unrecorded))
				for _, s := range unrecorded {
					names = append(names, s.Filename)
				}
				c.info(color.FgYellow, "Not recorded yet (run with --autosync to record): %s", strings.Join(names, ", "))
			}
			return nil
		},
	}
	cmd.Flags().String("format", report.FormatText, "output format: text, markdown, html or json")
	_ = c.v.BindPFlag("format", cmd.Flags().Lookup("format"))
	return cmd
}

func (c *cli) createCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new migration script",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m := c.migrator()
			defer m.Close() //nolint:errcheck

			rec, err := m.Create(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			c.info(color.FgGreen, "Created migration %s in %s.", rec.Name, m.MigrationsPath())
			c.info(color.FgCyan, "Migration created. Run `migrate up %s` to apply it.", rec.Name)
			return nil
		},
	}
}

func (c *cli) runCmd(direction migrator.Direction) *cobra.Command {
	short := "Run pending migrations, or only the named one"
	if direction == migrator.Down {
		short = "Revert the latest migration, or the named one"
	}
	return &cobra.Command{
		Use:   string(direction) + " [name]",
		Short: short,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			}

			m := c.migrator()
			defer m.Close() //nolint:errcheck

			done, err := m.Run(cmd.Context(), string(direction), name)
			for _, rec := range done {
				c.info(color.FgGreen, "%s: %s", direction, rec.Filename)
			}
			if err != nil {
				return err
			}
			c.info(color.FgGreen, "All migrations finished successfully")
			return nil
		},
	}
}

func (c *cli) pruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Remove records whose script file no longer exists (requires --autosync)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m := c.migrator()
			defer m.Close() //nolint:errcheck

			pruned, err := m.Prune(cmd.Context())
			if err != nil {
				return err
			}
			if len(pruned) == 0 {
				c.info(color.FgYellow, "There are no migrations to prune")
				return nil
			}
			names := make([]string, 0, len(pruned))
			for _, rec := range pruned {
				names = append(names, rec.Name)
			}
			c.info(color.FgYellow, "Removing migration(s) from database: %s", strings.Join(names, ", "))
			return nil
		},
	}
}

func (c *cli) mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve migration tools over MCP stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m := c.migrator()
			defer m.Close() //nolint:errcheck
			return mcpserver.Run(cmd.Context(), m)
		},
	}
}
