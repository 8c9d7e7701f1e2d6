package postgres

import (
	"embed"
	"errors"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	cperrors "github.com/R3E-Network/testbed-control-plane/infrastructure/errors"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies every pending migration against dsn, embedding the schema
// as part of the binary rather than shipping a separate migrations
// directory alongside the daemon.
func Migrate(dsn string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return cperrors.Internal("load embedded migrations", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return cperrors.Internal("construct migrator", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return cperrors.Internal("apply migrations", err)
	}
	return nil
}
