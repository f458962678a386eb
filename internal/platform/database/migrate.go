package database

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sort"

	"github.com/GrupoUS/neonpro-sub010/migrations"
)

// Migrate applies the embedded schema migrations in lexical order. Every
// statement is idempotent, so re-running on an existing database is safe.
func Migrate(ctx context.Context, db *sql.DB) error {
	names, err := fs.Glob(migrations.FS, "*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(names)

	for _, name := range names {
		script, err := fs.ReadFile(migrations.FS, name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := db.ExecContext(ctx, string(script)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}
	return nil
}
