package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"

	_ "github.com/jackc/pgx/v4/stdlib"
)

// EnsureDatabase creates the target database when it does not exist, connecting through
// the postgres maintenance database. The dsn must be in URL form.
func EnsureDatabase(ctx context.Context, dsn string) error {
	adminDSN, dbname, err := adminTarget(dsn)
	if err != nil {
		return err
	}
	if dbname == "" {
		return nil
	}

	db, err := sql.Open("pgx", adminDSN)
	if err != nil {
		return err
	}
	defer db.Close()

	err = db.QueryRowContext(ctx, "SELECT 1 FROM pg_database WHERE datname = $1", dbname).Scan(new(int))
	if errors.Is(err, sql.ErrNoRows) {
		_, err = db.ExecContext(ctx, "CREATE DATABASE "+`"`+strings.ReplaceAll(dbname, `"`, `""`)+`"`)
	}
	return err
}

// adminTarget splits a postgres URL into the maintenance-database URL and the target name.
// An empty name means there is nothing to create.
func adminTarget(dsn string) (string, string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", "", fmt.Errorf("invalid postgres dsn: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return "", "", fmt.Errorf("postgres dsn must be a URL, got scheme %q", u.Scheme)
	}
	dbname := strings.TrimSpace(strings.TrimPrefix(u.Path, "/"))
	if dbname == "postgres" {
		dbname = ""
	}
	u.Path = "/postgres"
	return u.String(), dbname, nil
}
