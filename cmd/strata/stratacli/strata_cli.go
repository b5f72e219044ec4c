// Package stratacli provides an implementation for the strata CLI.
//
// This package is largely for internal use and doesn't provide the same API
// guarantees as the main strata module. Breaking API changes will be made
// without warning.
package stratacli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/stratadb/strata"
)

// CLI provides a common base of commands for the strata CLI.
type CLI struct{}

func NewCLI() *CLI {
	return &CLI{}
}

// BaseCommandSet provides the base strata CLI command set.
func (c *CLI) BaseCommandSet() *cobra.Command {
	var rootOpts struct {
		Debug   bool
		Verbose bool
	}
	rootCmd := &cobra.Command{
		Use:   "strata",
		Short: "Applies versioned schema change scripts against a database",
		Long: strings.TrimSpace(`
Applies versioned SQL change scripts from a directory against a database
exactly once each, recording every application in a ledger table. Pending
scripts run in ascending version order and a run halts on the first failure.
		`),
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Usage()
		},
	}
	rootCmd.PersistentFlags().BoolVar(&rootOpts.Debug, "debug", false, "output maximum logging verbosity (debug level)")
	rootCmd.PersistentFlags().BoolVarP(&rootOpts.Verbose, "verbose", "v", false, "output additional logging verbosity (info level)")
	rootCmd.MarkFlagsMutuallyExclusive("debug", "verbose")

	ctx := context.Background()

	makeLogger := func() *slog.Logger {
		switch {
		case rootOpts.Debug:
			return slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: slog.LevelDebug}))
		case rootOpts.Verbose:
			return slog.New(tint.NewHandler(os.Stdout, nil))
		default:
			return slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: slog.LevelWarn}))
		}
	}

	makeCommandBundle := func(databaseURL *string) *RunCommandBundle {
		return &RunCommandBundle{
			DatabaseURL: databaseURL,
			Logger:      makeLogger(),
			OutStd:      os.Stdout,
		}
	}

	execHandlingError := func(f func() error) {
		if err := f(); err != nil {
			fmt.Fprintf(os.Stderr, "failed: %s\n", err)
			os.Exit(1)
		}
	}

	addDirFlag := func(cmd *cobra.Command, dir *string) {
		cmd.Flags().StringVar(dir, "dir", "migrations", "directory containing change scripts")
	}

	// create
	{
		var opts createOpts

		cmd := &cobra.Command{
			Use:   "create <name>",
			Short: "Author a new change script",
			Long: strings.TrimSpace(`
Write a new templated change script into the migrations directory, versioned
with the current timestamp down to the second followed by a normalized form of
the given name, e.g.

    strata create "add trades table"

produces something like 20240101123045_add_trades_table.sql. The database is
not touched.
	`),
			Args: cobra.MinimumNArgs(1),
			Run: func(cmd *cobra.Command, args []string) {
				opts.Name = strings.Join(args, " ")
				execHandlingError(func() error {
					return RunCommand(ctx, makeCommandBundle(nil), &create{}, &opts)
				})
			},
		}
		addDirFlag(cmd, &opts.Dir)
		rootCmd.AddCommand(cmd)
	}

	// list
	{
		var opts listOpts

		cmd := &cobra.Command{
			Use:   "list",
			Short: "List applied and pending change scripts",
			Long: strings.TrimSpace(`
Print the ledger's application history in insertion order, followed by any
discovered change scripts that haven't been applied yet, in the ascending
version order they'd run in.
	`),
			Run: func(cmd *cobra.Command, args []string) {
				execHandlingError(func() error {
					return RunCommand(ctx, makeCommandBundle(&opts.DatabaseURL), &list{}, &opts)
				})
			},
		}
		addDatabaseURLFlag(cmd, &opts.DatabaseURL)
		addDirFlag(cmd, &opts.Dir)
		rootCmd.AddCommand(cmd)
	}

	// migrate
	{
		var opts migrateOpts

		cmd := &cobra.Command{
			Use:   "migrate",
			Short: "Apply pending change scripts",
			Long: strings.TrimSpace(`
Apply every pending change script in ascending version order, recording each
success in the ledger. The run halts on the first failing script; scripts
applied earlier in the run stay applied. Running again with nothing pending is
a safe no-op.
	`),
			Run: func(cmd *cobra.Command, args []string) {
				execHandlingError(func() error {
					return RunCommand(ctx, makeCommandBundle(&opts.DatabaseURL), &migrate{}, &opts)
				})
			},
		}
		addDatabaseURLFlag(cmd, &opts.DatabaseURL)
		addDirFlag(cmd, &opts.Dir)
		cmd.Flags().BoolVar(&opts.StrictChecksums, "strict-checksums", false, "fail the run when an applied script's content no longer matches its recorded checksum")
		rootCmd.AddCommand(cmd)
	}

	// serve
	{
		var opts serveOpts

		cmd := &cobra.Command{
			Use:   "serve",
			Short: "Run pending change scripts, then serve health and on-demand migrate endpoints",
			Long: strings.TrimSpace(`
Run every pending change script at startup, then keep serving HTTP:

    GET  /healthz   liveness check
    POST /migrate   re-run migrate on demand (safe when nothing is pending)

Configuration falls back to STRATA_ADDR, STRATA_DATABASE_URL, and
STRATA_MIGRATIONS_DIR when flags are left unset. The process shuts down
gracefully on SIGINT/SIGTERM.
	`),
			Run: func(cmd *cobra.Command, args []string) {
				execHandlingError(func() error {
					return RunCommand(ctx, makeCommandBundle(&opts.DatabaseURL), &serve{}, &opts)
				})
			},
		}
		cmd.Flags().StringVar(&opts.DatabaseURL, "database-url", "", "URL of the database (should look like `postgres://...`; defaults to $STRATA_DATABASE_URL)")
		cmd.Flags().StringVar(&opts.Addr, "addr", "", "address to listen on (defaults to $STRATA_ADDR, then :8080)")
		cmd.Flags().StringVar(&opts.Dir, "dir", "", "directory containing change scripts (defaults to $STRATA_MIGRATIONS_DIR, then migrations)")
		cmd.Flags().BoolVar(&opts.StrictChecksums, "strict-checksums", false, "fail runs when an applied script's content no longer matches its recorded checksum")
		rootCmd.AddCommand(cmd)
	}

	// version
	{
		cmd := &cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				buildInfo, _ := debug.ReadBuildInfo()
				version := "(unknown)"
				if buildInfo != nil && buildInfo.Main.Version != "" {
					version = buildInfo.Main.Version
				}
				fmt.Fprintf(os.Stdout, "strata version %s\n", version)
			},
		}
		rootCmd.AddCommand(cmd)
	}

	return rootCmd
}

func addDatabaseURLFlag(cmd *cobra.Command, databaseURL *string) {
	cmd.Flags().StringVar(databaseURL, "database-url", "", "URL of the database (should look like `postgres://...`)")
	// We just panic here because this will never happen outside of an error
	// in development.
	if err := cmd.MarkFlagRequired("database-url"); err != nil {
		panic(err)
	}
}

type createOpts struct {
	Dir  string
	Name string
}

func (o *createOpts) Validate() error {
	if strings.TrimSpace(o.Name) == "" {
		return errors.New("migration name cannot be empty")
	}
	return nil
}

type create struct {
	CommandBase
}

func (c *create) Run(_ context.Context, opts *createOpts) (bool, error) {
	path, err := strata.Create(opts.Dir, opts.Name)
	if err != nil {
		return false, err
	}

	fmt.Fprintf(c.Out, "created %s\n", path)
	return true, nil
}

type listOpts struct {
	DatabaseURL string
	Dir         string
}

func (o *listOpts) Validate() error {
	if o.DatabaseURL == "" {
		return errors.New("database URL cannot be empty")
	}
	return nil
}

type list struct {
	CommandBase
}

func (c *list) Run(ctx context.Context, opts *listOpts) (bool, error) {
	res, err := c.GetMigrator(&strata.Config{Dir: opts.Dir}).List(ctx)
	if err != nil {
		return false, err
	}

	for _, entry := range res.Applied {
		fmt.Fprintf(c.Out, "applied %s [%s] [%dms]\n", entry.Version, entry.ExecutedAt.Format(time.RFC3339), entry.ExecutionTimeMS)
	}
	for _, script := range res.Pending {
		fmt.Fprintf(c.Out, "pending %s\n", script.Version)
	}
	if len(res.Applied) == 0 && len(res.Pending) == 0 {
		fmt.Fprintf(c.Out, "no change scripts found\n")
	}

	return true, nil
}

type migrateOpts struct {
	DatabaseURL     string
	Dir             string
	StrictChecksums bool
}

func (o *migrateOpts) Validate() error {
	if o.DatabaseURL == "" {
		return errors.New("database URL cannot be empty")
	}
	return nil
}

type migrate struct {
	CommandBase
}

func (c *migrate) Run(ctx context.Context, opts *migrateOpts) (bool, error) {
	res, err := c.GetMigrator(&strata.Config{
		Dir:             opts.Dir,
		StrictChecksums: opts.StrictChecksums,
	}).Migrate(ctx)
	if err != nil {
		return false, err
	}

	migratePrintResult(c.Out, res)

	return true, nil
}

func migratePrintResult(out io.Writer, res *strata.MigrateResult) {
	if len(res.Applied) < 1 {
		fmt.Fprintf(out, "no migrations to apply (%d discovered, %d already applied)\n", res.Discovered, res.AlreadyApplied)
		return
	}

	versionWithLongestName := slices.MaxFunc(res.Applied,
		func(v1, v2 strata.MigrateVersion) int { return len(v1.Name) - len(v2.Name) })

	for _, migrateVersion := range res.Applied {
		fmt.Fprintf(out, "applied migration %s %-*s [%s]\n", migrateVersion.Version, len(versionWithLongestName.Name), migrateVersion.Name, roundDuration(migrateVersion.Duration))
	}

	fmt.Fprintf(out, "%d discovered, %d already applied, %d newly applied\n", res.Discovered, res.AlreadyApplied, len(res.Applied))
}

// Rounds a duration so that it doesn't show so much cluttered and not useful
// precision in printf output.
func roundDuration(duration time.Duration) time.Duration {
	switch {
	case duration > 1*time.Second:
		return duration.Truncate(10 * time.Millisecond)
	case duration < 1*time.Millisecond:
		return duration.Truncate(10 * time.Nanosecond)
	default:
		return duration.Truncate(10 * time.Microsecond)
	}
}

type serveOpts struct {
	Addr            string
	DatabaseURL     string
	Dir             string
	StrictChecksums bool
}

func (o *serveOpts) Validate() error { return nil }

// serveEnvConfig is the environment fallback for serve options, aimed at
// container deployments where flags are awkward to thread through.
type serveEnvConfig struct {
	Addr        string `env:"STRATA_ADDR" envDefault:":8080"`
	DatabaseURL string `env:"STRATA_DATABASE_URL"`
	Dir         string `env:"STRATA_MIGRATIONS_DIR" envDefault:"migrations"`
}

type serve struct {
	CommandBase
}

func (c *serve) Run(ctx context.Context, opts *serveOpts) (bool, error) {
	var envConfig serveEnvConfig
	if err := env.Parse(&envConfig); err != nil {
		return false, fmt.Errorf("error parsing environment configuration: %w", err)
	}

	addr := opts.Addr
	if addr == "" {
		addr = envConfig.Addr
	}
	dir := opts.Dir
	if dir == "" {
		dir = envConfig.Dir
	}

	migrator := c.GetMigrator(&strata.Config{
		Dir:             dir,
		StrictChecksums: opts.StrictChecksums,
	})

	// Startup run: the server doesn't come up over a schema it couldn't
	// establish.
	res, err := migrator.Migrate(ctx)
	if err != nil {
		return false, err
	}
	migratePrintResult(c.Out, res)

	server := newAPIServer(migrator, c.Logger)
	if err := server.ListenAndServe(ctx, addr); err != nil {
		return false, err
	}
	return true, nil
}
