// Package db opens the sqlite database that holds edit jobs and persisted
// statuses, and keeps its schema current.
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	_ "modernc.org/sqlite"

	"github.com/filmyai/filmy/internal/logging"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type DB struct {
	conn   *sql.DB
	logger *slog.Logger
}

// New opens or creates the database at dbPath, applies pending migrations
// and fails any work a previous process left unfinished.
func New(dbPath string, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Writers serialize through one connection; WAL keeps readers unblocked.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	db := &DB{conn: conn, logger: logging.WithComponent(logger, "db")}
	if err := db.init(context.Background()); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

func (d *DB) init(ctx context.Context) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := d.conn.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}

	if err := d.migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	n, err := d.markInterrupted(ctx)
	switch {
	case err != nil:
		d.logger.Warn("failed to mark interrupted jobs", "error", err)
	case n > 0:
		d.logger.Warn("marked interrupted edit jobs as failed", "count", n)
	}
	return nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) Conn() *sql.DB {
	return d.conn
}

// migrate applies every embedded migration not yet recorded, in name order.
// Each migration and its record commit together.
func (d *DB) migrate(ctx context.Context) error {
	if _, err := d.conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS _migrations (
			name TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`); err != nil {
		return err
	}

	applied, err := d.appliedMigrations(ctx)
	if err != nil {
		return err
	}

	names, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)

	for _, path := range names {
		name := filepath.Base(path)
		if applied[name] {
			continue
		}
		content, err := migrationsFS.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if err := d.apply(ctx, name, string(content)); err != nil {
			return err
		}
		d.logger.Info("applied migration", "name", name)
	}
	return nil
}

func (d *DB) apply(ctx context.Context, name, script string) error {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("execute migration %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO _migrations (name) VALUES (?)", name); err != nil {
		return fmt.Errorf("record migration %s: %w", name, err)
	}
	return tx.Commit()
}

func (d *DB) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := d.conn.QueryContext(ctx, "SELECT name FROM _migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

// markInterrupted fails edit jobs and status entries a previous process left
// mid-flight. Nothing resumes them.
func (d *DB) markInterrupted(ctx context.Context) (int64, error) {
	res, err := d.conn.ExecContext(ctx,
		`UPDATE edit_jobs SET status = 'failed', error = 'interrupted by restart', updated_at = datetime('now') WHERE status IN ('pending', 'running')`)
	if err != nil {
		return 0, err
	}
	if _, err := d.conn.ExecContext(ctx,
		`UPDATE video_status SET status = 'failed', updated_at = datetime('now') WHERE status = 'processing'`); err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
