package cache

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
)

//go:embed migrations/001_initial_schema.sql
var initialSchema string

// Ordered migration scripts. Each entry runs once, in a transaction,
// tracked by version in schema_version.
var migrationScripts = []struct {
	version int
	name    string
	script  string
}{
	{1, "initial_schema", initialSchema},
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return cacheErr("migrate: create schema_version", err)
	}

	var applied int
	if err := db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&applied); err != nil {
		return cacheErr("migrate: read schema_version", err)
	}

	for _, m := range migrationScripts {
		if m.version <= applied {
			continue
		}
		if err := applyMigration(ctx, db, m.version, m.name, m.script); err != nil {
			return err
		}
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, version int, name, script string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return cacheErr(fmt.Sprintf("migrate %d: begin", version), err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range sqlStatements(script) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return cacheErr(fmt.Sprintf("migrate %d (%s)", version, name), err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_version (version, name) VALUES (?, ?)`, version, name); err != nil {
		return cacheErr(fmt.Sprintf("migrate %d: record", version), err)
	}
	if err := tx.Commit(); err != nil {
		return cacheErr(fmt.Sprintf("migrate %d: commit", version), err)
	}
	return nil
}

// sqlStatements splits an embedded script on semicolons, dropping empty
// fragments and fragments that are only `--` comments.
func sqlStatements(script string) []string {
	var out []string
	for _, raw := range strings.Split(script, ";") {
		stmt := strings.TrimSpace(raw)
		if stmt == "" || commentOnly(stmt) {
			continue
		}
		out = append(out, stmt)
	}
	return out
}

func commentOnly(fragment string) bool {
	for _, line := range strings.Split(fragment, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "--") {
			return false
		}
	}
	return true
}
