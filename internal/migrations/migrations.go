// Package migrations embeds the Postgres schema and applies it with
// golang-migrate.
package migrations

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog"
)

//go:embed sql/*.sql
var files embed.FS

// Files exposes the embedded migration sources.
func Files() fs.FS {
	sub, err := fs.Sub(files, "sql")
	if err != nil {
		panic(err)
	}
	return sub
}

// Migrator applies the embedded schema.
type Migrator struct {
	m      *migrate.Migrate
	logger zerolog.Logger
}

// New opens a migrator for databaseURL (postgres:// or postgresql://).
func New(databaseURL string, logger zerolog.Logger) (*Migrator, error) {
	src, err := iofs.New(files, "sql")
	if err != nil {
		return nil, fmt.Errorf("migrations: source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, DriverURL(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("migrations: open: %w", err)
	}
	return &Migrator{m: m, logger: logger}, nil
}

// DriverURL rewrites a libpq style URL to the scheme the pgx/v5 migrate
// driver registers.
func DriverURL(databaseURL string) string {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(databaseURL, prefix) {
			return "pgx5://" + strings.TrimPrefix(databaseURL, prefix)
		}
	}
	return databaseURL
}

// Up applies every pending migration.
func (g *Migrator) Up() error {
	if err := g.m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			g.logger.Info().Msg("no migrations to apply")
			return nil
		}
		return fmt.Errorf("migrations: up: %w", err)
	}
	return g.logVersion("migrations applied")
}

// Down rolls back one migration step.
func (g *Migrator) Down() error {
	if err := g.m.Steps(-1); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		return fmt.Errorf("migrations: down: %w", err)
	}
	return g.logVersion("migration rolled back")
}

// Force sets the version without running migrations, clearing a dirty flag.
func (g *Migrator) Force(version int) error {
	g.logger.Warn().Int("version", version).Msg("forcing migration version")
	if err := g.m.Force(version); err != nil {
		return fmt.Errorf("migrations: force %d: %w", version, err)
	}
	return nil
}

// Version reports the applied version; zero when nothing was applied.
func (g *Migrator) Version() (uint, bool, error) {
	version, dirty, err := g.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (g *Migrator) logVersion(msg string) error {
	version, dirty, err := g.Version()
	if err != nil {
		return fmt.Errorf("migrations: version: %w", err)
	}
	g.logger.Info().Uint("version", version).Bool("dirty", dirty).Msg(msg)
	return nil
}

// Close releases the source and database handles.
func (g *Migrator) Close() error {
	srcErr, dbErr := g.m.Close()
	return errors.Join(srcErr, dbErr)
}
