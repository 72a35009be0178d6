// Package postgres implements the domain store interfaces over PostgreSQL
// via pgx.
package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dejavu-markets/dejavu/internal/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ClientConfig holds connection parameters for the PostgreSQL client.
type ClientConfig struct {
	DSN      string
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string
	MaxConns int
	MinConns int
}

// DSN builds a connection string from the config, preferring an explicit DSN.
func DSN(cfg ClientConfig) string {
	if strings.TrimSpace(cfg.DSN) != "" {
		return cfg.DSN
	}

	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, port, cfg.Database, sslMode,
	)
}

// Client wraps a pgxpool.Pool and manages migrations.
type Client struct {
	pool *pgxpool.Pool
}

// New creates a Client with a connection pool configured from cfg.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	poolCfg, err := pgxpool.ParseConfig(DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	return &Client{pool: pool}, nil
}

// Pool returns the underlying connection pool.
func (c *Client) Pool() *pgxpool.Pool {
	return c.pool
}

// Close shuts down the connection pool.
func (c *Client) Close() {
	c.pool.Close()
}

// RunMigrations applies the embedded SQL files in lexicographic order,
// tracking applied migrations in a schema_migrations table.
func (c *Client) RunMigrations(ctx context.Context) error {
	const createTracker = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`
	if _, err := c.pool.Exec(ctx, createTracker); err != nil {
		return fmt.Errorf("postgres: create schema_migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("postgres: read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var exists bool
		err := c.pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE filename = $1)",
			entry.Name(),
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("postgres: check migration %s: %w", entry.Name(), err)
		}
		if exists {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("postgres: read migration %s: %w", entry.Name(), err)
		}

		tx, err := c.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("postgres: begin tx for %s: %w", entry.Name(), err)
		}
		if _, err := tx.Exec(ctx, string(data)); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("postgres: exec migration %s: %w", entry.Name(), err)
		}
		if _, err := tx.Exec(ctx,
			"INSERT INTO schema_migrations (filename) VALUES ($1)",
			entry.Name(),
		); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("postgres: record migration %s: %w", entry.Name(), err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("postgres: commit migration %s: %w", entry.Name(), err)
		}
	}

	return nil
}

// applyListOpts appends time filtering, ordering, and pagination to a query.
// The base query must already carry a WHERE clause.
func applyListOpts(query string, args []any, opts domain.ListOpts, timeColumn string) (string, []any) {
	argIdx := len(args) + 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND %s >= $%d", timeColumn, argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND %s <= $%d", timeColumn, argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY " + timeColumn + " DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	return query, args
}
