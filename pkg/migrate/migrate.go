package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strconv"

	"github.com/pressly/goose/v3"
)

// DefaultDir is the on-disk location used by the create and validate commands.
const DefaultDir = "pkg/migrate/migrations"

// embeddedDir is DefaultDir's path inside Migrations.
const embeddedDir = "migrations"

// Migrations ships the SQL files inside every binary so deploys do not depend on the working directory.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// Run executes a goose command. An empty dir or DefaultDir uses the embedded migrations.
func Run(ctx context.Context, db *sql.DB, dir string, command string, args ...string) error {
	if db == nil {
		return fmt.Errorf("db is required")
	}
	dir, err := prepare(dir)
	if err != nil {
		return err
	}
	defer goose.SetBaseFS(nil)

	// RunContext prints status output to stdout (goose internal)
	if err := goose.RunContext(ctx, command, db, dir, args...); err != nil {
		return fmt.Errorf("goose %s: %w", command, err)
	}
	return nil
}

// MigrateToVersion migrates up or down to the requested version.
func MigrateToVersion(ctx context.Context, db *sql.DB, dir string, targetVersion string) error {
	if targetVersion == "" {
		return fmt.Errorf("targetVersion is required")
	}
	target, err := strconv.ParseInt(targetVersion, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS): %w", targetVersion, err)
	}

	dir, err = prepare(dir)
	if err != nil {
		return err
	}
	defer goose.SetBaseFS(nil)

	current, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return fmt.Errorf("get db version: %w", err)
	}

	switch {
	case current == target:
		return nil
	case current < target:
		if err := goose.UpToContext(ctx, db, dir, target); err != nil {
			return fmt.Errorf("goose up-to %d: %w", target, err)
		}
	default:
		if err := goose.DownToContext(ctx, db, dir, target); err != nil {
			return fmt.Errorf("goose down-to %d: %w", target, err)
		}
	}
	return nil
}

func prepare(dir string) (string, error) {
	// keydrop only runs on Postgres
	if err := goose.SetDialect("postgres"); err != nil {
		return "", fmt.Errorf("set goose dialect: %w", err)
	}
	if dir == "" || dir == DefaultDir {
		goose.SetBaseFS(Migrations)
		return embeddedDir, nil
	}
	goose.SetBaseFS(nil)
	return dir, nil
}
