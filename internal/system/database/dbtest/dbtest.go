// Package dbtest opens migrated in-memory databases for tests.
package dbtest

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/carebridge/consent-api/internal/system/config"
	"github.com/carebridge/consent-api/internal/system/database"
	"github.com/carebridge/consent-api/internal/system/database/provider"
)

// NewSQLiteDB opens a private in-memory SQLite database with the schema applied.
func NewSQLiteDB(t testing.TB) *database.DB {
	t.Helper()

	name := strings.ReplaceAll(uuid.NewString(), "-", "")
	dsn := fmt.Sprintf("file:test_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", name)

	raw, err := sqlx.Open("sqlite", dsn)
	require.NoError(t, err)
	raw.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = raw.Close() })

	db := database.Wrap(raw, config.DatabaseTypeSQLite)
	require.NoError(t, database.Migrate(context.Background(), db))
	return db
}

// NewSQLiteClient returns a DB client over a fresh migrated SQLite database.
func NewSQLiteClient(t testing.TB) provider.DBClientInterface {
	t.Helper()
	db := NewSQLiteDB(t)
	return provider.NewDBClient(db.DB, db.Type())
}
