package cli

import (
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/dirrepl/internal/config"
	"github.com/roach88/dirrepl/internal/schema"
	"github.com/roach88/dirrepl/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	cfg    *config.Config
	logger *slog.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the dirrepl CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "dirrepl",
		Short: "dirrepl - directory replication replay",
		Long: `Split combined directory replication updates into per-USN units and
replay them against a local SQLite directory store.

Settings are read from DIRREPL_* environment variables; command flags
override them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			_, _, err := opts.setup(cmd)
			return err
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output (debug logging)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewSplitCommand(opts))
	cmd.AddCommand(NewApplyCommand(opts))
	cmd.AddCommand(NewEntriesCommand(opts))
	cmd.AddCommand(NewCursorCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// setup loads the environment configuration and builds the stderr logger
// once per invocation. Subcommands built without the root call it lazily.
func (o *RootOptions) setup(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	if o.cfg == nil {
		cfg, err := config.Load()
		if err != nil {
			return config.Config{}, nil, WrapExitError(ExitCommandError, "invalid configuration", err)
		}
		o.cfg = &cfg
	}
	if o.logger == nil {
		level, _ := o.cfg.Level()
		if o.Verbose {
			level = slog.LevelDebug
		}
		o.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	}
	return *o.cfg, o.logger, nil
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// overrides are the flags that take precedence over environment settings.
// Only flags the user actually set are applied.
type overrides struct {
	db               string
	schemaFile       string
	deletedObjectsDN string
	maxRetries       uint
	retryInterval    time.Duration
}

func (ov *overrides) bindStore(cmd *cobra.Command) {
	cmd.Flags().StringVar(&ov.db, "db", "", "path to SQLite database (default $DIRREPL_DB or dirrepl.db)")
}

func (ov *overrides) bindSchema(cmd *cobra.Command) {
	cmd.Flags().StringVar(&ov.schemaFile, "schema", "", "object class file (.yaml, .yml or .cue)")
}

func (ov *overrides) bindApply(cmd *cobra.Command) {
	cmd.Flags().StringVar(&ov.deletedObjectsDN, "deleted-objects-dn", "", "container tombstones are moved under")
	cmd.Flags().UintVar(&ov.maxRetries, "max-retries", 0, "attempts per backend call on transient failures")
	cmd.Flags().DurationVar(&ov.retryInterval, "retry-interval", 0, "wait between attempts")
}

func (ov *overrides) apply(cmd *cobra.Command, cfg config.Config) (config.Config, error) {
	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.DBPath = ov.db
	}
	if flags.Changed("schema") {
		cfg.SchemaFile = ov.schemaFile
	}
	if flags.Changed("deleted-objects-dn") {
		cfg.DeletedObjectsDN = ov.deletedObjectsDN
	}
	if flags.Changed("max-retries") {
		if ov.maxRetries == 0 {
			return cfg, NewExitError(ExitCommandError, "--max-retries must be at least 1")
		}
		cfg.MaxRetries = ov.maxRetries
	}
	if flags.Changed("retry-interval") {
		cfg.RetryInterval = ov.retryInterval
	}
	return cfg, nil
}

// loadSchema returns the built-in classes, extended by cfg.SchemaFile when set.
func loadSchema(cfg config.Config) (*schema.Registry, error) {
	if cfg.SchemaFile == "" {
		return schema.Default(), nil
	}
	reg, err := schema.LoadFile(cfg.SchemaFile)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load schema", err)
	}
	return reg, nil
}

// openStore opens the database named by cfg.
func openStore(cfg config.Config, logger *slog.Logger) (*store.Store, error) {
	st, err := store.Open(cfg.DBPath,
		store.WithDeletedObjectsDN(cfg.DeletedObjectsDN),
		store.WithLogger(logger))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}
