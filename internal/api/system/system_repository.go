package system

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/saldiviabuses/erp-server/internal/api"
	"github.com/saldiviabuses/erp-server/internal/types"
)

var _ Repo = (*PostgresSystemRepo)(nil)

type Repo interface {
	ListConfig(ctx context.Context) ([]types.SystemConfigEntry, error)
}

type PostgresSystemRepo struct {
	logger *slog.Logger
	pgpool api.PgxPool
}

func NewPostgresSystemRepo(pgpool api.PgxPool, logger *slog.Logger) *PostgresSystemRepo {
	return &PostgresSystemRepo{
		logger: logger,
		pgpool: pgpool,
	}
}

func (r *PostgresSystemRepo) ListConfig(ctx context.Context) ([]types.SystemConfigEntry, error) {
	rows, err := r.pgpool.Query(ctx,
		"SELECT key, value, description, updated_at FROM system_configurations ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("list config: query failed: %w", err)
	}
	defer rows.Close()

	entries := make([]types.SystemConfigEntry, 0)
	for rows.Next() {
		var e types.SystemConfigEntry
		if err := rows.Scan(&e.Key, &e.Value, &e.Description, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("list config: scan failed: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list config: rows: %w", err)
	}
	return entries, nil
}
