package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// Runner applies the goose migrations that define the projects and
// deployments schema. goose drives database/sql, so the runner keeps its own
// handle next to the pgx pool the services use.
type Runner struct {
	pool *pgxpool.Pool
	db   *sql.DB
	dir  string
	log  *slog.Logger
}

// New opens the migration handle and verifies the migrations directory.
func New(pool *pgxpool.Pool, dsn, dir string, log *slog.Logger) (*Runner, error) {
	if pool == nil {
		return nil, errors.New("nil pool")
	}
	if dsn == "" {
		return nil, errors.New("database dsn is required")
	}
	if dir == "" {
		return nil, errors.New("migrations directory is required")
	}
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("migrations directory: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open migration connection: %w", err)
	}
	if err := goose.SetDialect("postgres"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}
	return &Runner{pool: pool, db: db, dir: dir, log: log}, nil
}

// Ensure brings the schema to the newest version.
func (r *Runner) Ensure(ctx context.Context) error {
	r.log.Info("applying schema migrations", "dir", r.dir)
	if err := goose.UpContext(ctx, r.db, r.dir); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	r.log.Info("schema is current")
	return nil
}

// Status prints applied and pending versions.
func (r *Runner) Status(ctx context.Context) error {
	if err := goose.StatusContext(ctx, r.db, r.dir); err != nil {
		return fmt.Errorf("goose status: %w", err)
	}
	return nil
}

// Down rolls back one migration, or down to target when target > 0.
func (r *Runner) Down(ctx context.Context, target int64) error {
	if target > 0 {
		r.log.Info("rolling schema back", "target", target)
		if err := goose.DownToContext(ctx, r.db, r.dir, target); err != nil {
			return fmt.Errorf("goose down-to %d: %w", target, err)
		}
		return nil
	}
	r.log.Info("rolling back one migration")
	if err := goose.DownContext(ctx, r.db, r.dir); err != nil {
		return fmt.Errorf("goose down: %w", err)
	}
	return nil
}

// Ping checks the pool the services will use, not the goose handle.
func (r *Runner) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// Close releases the migration handle and the pool.
func (r *Runner) Close() {
	_ = r.db.Close()
	r.pool.Close()
}
