package database

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/carebridge/consent-api/internal/system/log"
)

//go:embed migrations/*/*.sql
var migrationsFS embed.FS

const createMigrationsTable = `CREATE TABLE IF NOT EXISTS SCHEMA_MIGRATIONS (
    VERSION    VARCHAR(255) NOT NULL PRIMARY KEY,
    APPLIED_AT BIGINT       NOT NULL
)`

// Migrate applies every embedded migration for the connection's dialect that
// has not been recorded in SCHEMA_MIGRATIONS yet.
func Migrate(ctx context.Context, db *DB) error {
	logger := log.GetLogger().With(log.String(log.LoggerKeyComponentName, "Migrate"))

	if _, err := db.ExecContext(ctx, createMigrationsTable); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	dir := "migrations/" + db.Type()
	entries, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		return fmt.Errorf("no migrations for database type %q: %w", db.Type(), err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		version := strings.TrimSuffix(name, ".sql")

		var count int
		if err := db.GetContext(ctx, &count,
			db.Rebind("SELECT COUNT(*) FROM SCHEMA_MIGRATIONS WHERE VERSION = ?"), version); err != nil {
			return fmt.Errorf("failed to check migration %s: %w", version, err)
		}
		if count > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile(dir + "/" + name)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}

		if err := applyMigration(ctx, db.DB, version, string(content)); err != nil {
			return err
		}
		logger.Info("Applied migration", log.String("version", version), log.String("type", db.Type()))
	}

	return nil
}

func applyMigration(ctx context.Context, db *sqlx.DB, version, content string) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration %s: %w", version, err)
	}

	for _, stmt := range splitStatements(content) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %s failed: %w", version, err)
		}
	}

	if _, err := tx.ExecContext(ctx, db.Rebind("INSERT INTO SCHEMA_MIGRATIONS (VERSION, APPLIED_AT) VALUES (?, ?)"),
		version, time.Now().UnixMilli()); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to record migration %s: %w", version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %s: %w", version, err)
	}
	return nil
}

// splitStatements breaks a migration file on statement terminators at line ends.
func splitStatements(content string) []string {
	parts := strings.Split(content, ";\n")
	stmts := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(p), ";"))
		if p != "" {
			stmts = append(stmts, p)
		}
	}
	return stmts
}
