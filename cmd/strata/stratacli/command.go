package stratacli

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "modernc.org/sqlite"

	"github.com/stratadb/strata"
	"github.com/stratadb/strata/stratadriver"
	"github.com/stratadb/strata/stratadriver/stratapgxv5"
	"github.com/stratadb/strata/stratadriver/stratasqlite"
)

// Command is an interface to a strata CLI subcommand. Commands generally only
// implement a Run function, and get the rest of the implementation by
// embedding CommandBase.
type Command[TOpts CommandOpts] interface {
	Run(ctx context.Context, opts TOpts) (bool, error)
	GetCommandBase() *CommandBase
	SetCommandBase(b *CommandBase)
}

// CommandBase provides common facilities for a strata CLI command. It's
// generally embedded on the struct of a command.
type CommandBase struct {
	Driver stratadriver.Driver // nil for commands that don't take a database URL
	Logger *slog.Logger
	Out    io.Writer
}

func (b *CommandBase) GetCommandBase() *CommandBase     { return b }
func (b *CommandBase) SetCommandBase(base *CommandBase) { *b = *base }

// GetMigrator builds a migrator off the command's procured driver.
func (b *CommandBase) GetMigrator(config *strata.Config) *strata.Migrator {
	if config.Logger == nil {
		config.Logger = b.Logger
	}
	return strata.New(b.Driver, config)
}

// CommandOpts are options for a command. It makes sure that options provide a
// way of validating themselves.
type CommandOpts interface {
	Validate() error
}

// RunCommandBundle is a bundle of utilities for RunCommand.
type RunCommandBundle struct {
	DatabaseURL *string
	Logger      *slog.Logger
	OutStd      io.Writer
}

// RunCommand bootstraps and runs a strata CLI subcommand: it validates
// options, procures a driver appropriate for the database URL's scheme, and
// guarantees the connection pool is released again on every exit path,
// success or failure alike.
func RunCommand[TOpts CommandOpts](ctx context.Context, bundle *RunCommandBundle, command Command[TOpts], opts TOpts) error {
	procureAndRun := func() (bool, error) {
		if err := opts.Validate(); err != nil {
			return false, err
		}

		var driver stratadriver.Driver

		if bundle.DatabaseURL != nil {
			databaseURL := *bundle.DatabaseURL
			if databaseURL == "" {
				databaseURL = os.Getenv("STRATA_DATABASE_URL")
			}

			protocol, urlWithoutProtocol, ok := strings.Cut(databaseURL, "://")
			if !ok {
				return false, fmt.Errorf("expected database URL (`%s`) to be formatted like `postgres://...`", databaseURL)
			}

			switch protocol {
			case "postgres", "postgresql":
				dbPool, err := openPgxV5DBPool(ctx, databaseURL)
				if err != nil {
					return false, err
				}
				defer dbPool.Close()

				driver = stratapgxv5.New(dbPool)

			case "sqlite":
				dbPool, err := openSQLitePool(urlWithoutProtocol)
				if err != nil {
					return false, err
				}
				defer dbPool.Close()

				driver = stratasqlite.New(dbPool)

			default:
				return false, fmt.Errorf("unsupported database URL (`%s`); try one with a `postgres://`, `postgresql://`, or `sqlite://` scheme/prefix", databaseURL)
			}
		}

		out := bundle.OutStd
		if out == nil {
			out = os.Stdout
		}

		command.SetCommandBase(&CommandBase{
			Driver: driver,
			Logger: bundle.Logger,
			Out:    out,
		})

		return command.Run(ctx, opts)
	}

	ok, err := procureAndRun()
	if err != nil {
		return err
	}
	if !ok {
		os.Exit(1)
	}
	return nil
}

func openPgxV5DBPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	const (
		defaultIdleInTransactionSessionTimeout = 11 * time.Second // should be greater than statement timeout because statements count towards idle-in-transaction
		defaultStatementTimeout                = 10 * time.Second
	)

	pgxConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("error parsing database URL: %w", err)
	}

	// Sets a parameter in a parameter map (aimed at a Postgres connection
	// configuration map), but only if that parameter wasn't already set.
	setParamIfUnset := func(runtimeParams map[string]string, name, val string) {
		if currentVal := runtimeParams[name]; currentVal != "" {
			return
		}

		runtimeParams[name] = val
	}

	setParamIfUnset(pgxConfig.ConnConfig.RuntimeParams, "application_name", "strata CLI")
	setParamIfUnset(pgxConfig.ConnConfig.RuntimeParams, "idle_in_transaction_session_timeout", strconv.Itoa(int(defaultIdleInTransactionSessionTimeout.Milliseconds())))
	setParamIfUnset(pgxConfig.ConnConfig.RuntimeParams, "statement_timeout", strconv.Itoa(int(defaultStatementTimeout.Milliseconds())))

	dbPool, err := pgxpool.NewWithConfig(ctx, pgxConfig)
	if err != nil {
		return nil, fmt.Errorf("error connecting to Postgres database: %w", err)
	}

	return dbPool, nil
}

func openSQLitePool(urlWithoutProtocol string) (*sql.DB, error) {
	dbPool, err := sql.Open("sqlite", urlWithoutProtocol)
	if err != nil {
		return nil, fmt.Errorf("error connecting to SQLite database: %w", err)
	}

	// SQLite locks the whole database on write, so multiple connections only
	// produce spurious table lock errors.
	dbPool.SetMaxOpenConns(1)

	return dbPool, nil
}
