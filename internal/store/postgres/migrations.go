package postgres

import (
	"context"
	"embed"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed sql/*.sql
var migrationFiles embed.FS

// Migration represents a single database migration
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// MigrationsRunner applies the embedded migrations in version order
type MigrationsRunner struct {
	pool       *pgxpool.Pool
	migrations []Migration
	quiet      bool
}

// NewMigrationsRunner creates a new migration runner
func NewMigrationsRunner(pool *pgxpool.Pool) (*MigrationsRunner, error) {
	migrations, err := loadMigrations()
	if err != nil {
		return nil, fmt.Errorf("failed to load migrations: %w", err)
	}
	return &MigrationsRunner{pool: pool, migrations: migrations}, nil
}

// DisableLogging silences progress output (used by tests).
func (r *MigrationsRunner) DisableLogging() {
	r.quiet = true
}

func (r *MigrationsRunner) logf(format string, args ...any) {
	if !r.quiet {
		log.Printf(format, args...)
	}
}

// loadMigrations reads all .up.sql files named 000001_name.up.sql from the embedded filesystem
func loadMigrations() ([]Migration, error) {
	entries, err := migrationFiles.ReadDir("sql")
	if err != nil {
		return nil, fmt.Errorf("failed to read migration directory: %w", err)
	}

	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		filename := entry.Name()
		if !strings.HasSuffix(filename, ".up.sql") {
			continue
		}

		prefix, rest, ok := strings.Cut(filename, "_")
		if !ok {
			continue
		}

		var version int
		if _, err := fmt.Sscanf(prefix, "%d", &version); err != nil {
			log.Printf("WARN: postgres: skipping invalid migration file: %s", filename)
			continue
		}

		content, err := migrationFiles.ReadFile("sql/" + filename)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration file %s: %w", filename, err)
		}

		migrations = append(migrations, Migration{
			Version: version,
			Name:    strings.TrimSuffix(rest, ".up.sql"),
			SQL:     string(content),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// Pending returns migrations that have not been applied yet.
func (r *MigrationsRunner) Pending(ctx context.Context) ([]Migration, error) {
	if err := r.createMigrationsTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}
	applied, err := r.appliedVersions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get applied migrations: %w", err)
	}

	var pending []Migration
	for _, m := range r.migrations {
		if !applied[m.Version] {
			pending = append(pending, m)
		}
	}
	return pending, nil
}

func (r *MigrationsRunner) createMigrationsTable(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
        CREATE TABLE IF NOT EXISTS public.schema_migrations (
            version INTEGER PRIMARY KEY,
            name VARCHAR(255) NOT NULL,
            applied_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
        )
    `)
	return err
}

func (r *MigrationsRunner) appliedVersions(ctx context.Context) (map[int]bool, error) {
	applied := make(map[int]bool)

	rows, err := r.pool.Query(ctx, "SELECT version FROM public.schema_migrations ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

// Run executes all pending migrations, each in its own transaction.
func (r *MigrationsRunner) Run(ctx context.Context) error {
	pending, err := r.Pending(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		r.logf("INFO: postgres: no pending migrations")
		return nil
	}

	r.logf("INFO: postgres: found %d pending migration(s)", len(pending))

	for _, m := range pending {
		r.logf("INFO: postgres: applying migration %d: %s", m.Version, m.Name)

		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.Exec(ctx, m.SQL); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("failed to apply migration %d (%s): %w", m.Version, m.Name, err)
		}

		if _, err := tx.Exec(ctx,
			"INSERT INTO public.schema_migrations (version, name) VALUES ($1, $2)",
			m.Version, m.Name,
		); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.Version, err)
		}
	}

	r.logf("INFO: postgres: all migrations completed successfully")
	return nil
}
