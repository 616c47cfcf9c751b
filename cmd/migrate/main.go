// Command migrate applies the audit schema to PostgreSQL.
//
// The target database is the -dsn flag when given; otherwise it is assembled from
// the same ASSAY_DB_* variables the server reads.
package main

import (
	"embed"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "github.com/golang-migrate/migrate/v4/database/postgres"

	"github.com/JaimeStill/assay/internal/config"
	"github.com/JaimeStill/assay/pkg/database"
)

//go:embed migrations/*.sql
var migrations embed.FS

type options struct {
	dsn     string
	up      bool
	down    bool
	steps   int
	version bool
	force   int
	forced  bool
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func run(args []string, out io.Writer) error {
	opts, fs, err := parseFlags(args)
	if err != nil {
		return err
	}

	if !opts.up && !opts.down && opts.steps == 0 && !opts.version && !opts.forced {
		fmt.Fprintln(out, "usage: migrate [-dsn <connection-url>] -up|-down|-steps N|-version|-force N")
		fs.SetOutput(out)
		fs.PrintDefaults()
		return nil
	}

	dsn, err := resolveDSN(opts.dsn)
	if err != nil {
		return err
	}

	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, dsn)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()

	return apply(m, opts, out)
}

func parseFlags(args []string) (*options, *flag.FlagSet, error) {
	opts := &options{}
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.StringVar(&opts.dsn, "dsn", "", "Database connection URL (default: from ASSAY_DB_* variables)")
	fs.BoolVar(&opts.up, "up", false, "Run all up migrations")
	fs.BoolVar(&opts.down, "down", false, "Run all down migrations")
	fs.IntVar(&opts.steps, "steps", 0, "Number of migrations (positive=up, negative=down)")
	fs.BoolVar(&opts.version, "version", false, "Print current migration version")
	fs.IntVar(&opts.force, "force", -1, "Force set version (use with caution)")

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "force" {
			opts.forced = true
		}
	})
	return opts, fs, nil
}

func apply(m *migrate.Migrate, opts *options, out io.Writer) error {
	switch {
	case opts.version:
		v, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			fmt.Fprintln(out, "version: none")
			return nil
		}
		if err != nil {
			return fmt.Errorf("get version: %w", err)
		}
		fmt.Fprintf(out, "version: %d, dirty: %v\n", v, dirty)
	case opts.forced:
		if err := m.Force(opts.force); err != nil {
			return fmt.Errorf("force version: %w", err)
		}
		fmt.Fprintf(out, "forced to version %d\n", opts.force)
	case opts.up:
		if err := ignoreNoChange(m.Up()); err != nil {
			return fmt.Errorf("up migrations: %w", err)
		}
		fmt.Fprintln(out, "migrations applied")
	case opts.down:
		if err := ignoreNoChange(m.Down()); err != nil {
			return fmt.Errorf("down migrations: %w", err)
		}
		fmt.Fprintln(out, "migrations reverted")
	default:
		if err := ignoreNoChange(m.Steps(opts.steps)); err != nil {
			return fmt.Errorf("migration steps: %w", err)
		}
		fmt.Fprintf(out, "applied %d migration steps\n", opts.steps)
	}
	return nil
}

func ignoreNoChange(err error) error {
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}

// resolveDSN returns flagDSN when set, else a postgres URL built from the
// finalized database config.
func resolveDSN(flagDSN string) (string, error) {
	if flagDSN != "" {
		return flagDSN, nil
	}

	var cfg database.Config
	if err := cfg.Finalize(config.DatabaseEnv); err != nil {
		return "", fmt.Errorf("database config: %w", err)
	}
	return databaseURL(&cfg), nil
}

func databaseURL(cfg *database.Config) string {
	if cfg.URL != "" {
		return cfg.URL
	}

	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   cfg.Host + ":" + strconv.Itoa(cfg.Port),
		Path:   "/" + cfg.Name,
	}
	q := url.Values{}
	q.Set("sslmode", cfg.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
