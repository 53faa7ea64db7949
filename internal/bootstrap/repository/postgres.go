package repository

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

type postgresRepo struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository connects to dsn and applies pending migrations.
func NewPostgresRepository(ctx context.Context, dsn string, logger *slog.Logger) (Repository, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dsn == "" {
		return nil, fmt.Errorf("postgres ledger requires a DSN")
	}
	if err := Migrate(dsn); err != nil {
		return nil, err
	}
	logger.Debug("ledger migrations applied")

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return &postgresRepo{pool: pool}, nil
}

// Migrate applies the embedded schema migrations to dsn.
func Migrate(dsn string) error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, migrateURL(dsn))
	if err != nil {
		return fmt.Errorf("failed to init migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// migrateURL rewrites a postgres DSN to the scheme of the pgx/v5 migrate driver.
func migrateURL(dsn string) string {
	for _, prefix := range []string{"postgresql://", "postgres://"} {
		if strings.HasPrefix(dsn, prefix) {
			return "pgx5://" + strings.TrimPrefix(dsn, prefix)
		}
	}
	return dsn
}

func (r *postgresRepo) IsComplete(ctx context.Context, network, stage, fingerprint string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM stage_completions
			WHERE network = $1 AND stage = $2 AND fingerprint = $3
		)`
	var exists bool
	if err := r.pool.QueryRow(ctx, query, network, stage, fingerprint).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to query completion: %w", err)
	}
	return exists, nil
}

func (r *postgresRepo) MarkComplete(ctx context.Context, c *Completion) error {
	hashes, err := json.Marshal(c.TxHashes)
	if err != nil {
		return fmt.Errorf("failed to marshal tx hashes: %w", err)
	}

	query := `
		INSERT INTO stage_completions (id, network, stage, fingerprint, run_id, tx_hashes, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (network, stage, fingerprint) DO UPDATE SET
			id = EXCLUDED.id,
			run_id = EXCLUDED.run_id,
			tx_hashes = EXCLUDED.tx_hashes,
			completed_at = EXCLUDED.completed_at`

	_, err = r.pool.Exec(ctx, query,
		c.ID,
		c.Network,
		c.Stage,
		c.Fingerprint,
		c.RunID,
		hashes,
		c.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record completion: %w", err)
	}
	return nil
}

func (r *postgresRepo) ListCompletions(ctx context.Context, network string) ([]*Completion, error) {
	query := `
		SELECT id, network, stage, fingerprint, run_id, tx_hashes, completed_at
		FROM stage_completions
		WHERE $1 = '' OR network = $1
		ORDER BY completed_at ASC`

	rows, err := r.pool.Query(ctx, query, network)
	if err != nil {
		return nil, fmt.Errorf("failed to list completions: %w", err)
	}
	defer rows.Close()

	var out []*Completion
	for rows.Next() {
		c, err := scanCompletion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *postgresRepo) Close() error {
	r.pool.Close()
	return nil
}

func scanCompletion(row pgx.Row) (*Completion, error) {
	var c Completion
	var hashes []byte
	err := row.Scan(&c.ID, &c.Network, &c.Stage, &c.Fingerprint, &c.RunID, &hashes, &c.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan completion: %w", err)
	}
	if len(hashes) > 0 {
		if err := json.Unmarshal(hashes, &c.TxHashes); err != nil {
			return nil, fmt.Errorf("failed to decode tx hashes: %w", err)
		}
	}
	return &c, nil
}
