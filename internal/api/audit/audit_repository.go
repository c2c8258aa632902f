package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/saldiviabuses/erp-server/internal/api"
	"github.com/saldiviabuses/erp-server/internal/types"
)

var _ Repo = (*PostgresAuditRepo)(nil)

// Repo is the append-only audit trail. Entries are written on state-changing
// admin actions and only ever read back, never updated.
type Repo interface {
	Insert(ctx context.Context, record types.AuditRecord) error

	// ListRecent returns the newest entries joined with the actor's username.
	ListRecent(ctx context.Context, limit int) ([]types.AuditLogEntry, error)

	// ListForUser returns entries performed by the user or targeting the user
	// as a resource, newest first.
	ListForUser(ctx context.Context, userID uuid.UUID, limit int) ([]types.AuditLogEntry, error)
}

type PostgresAuditRepo struct {
	logger *slog.Logger
	pgpool api.PgxPool
}

func NewPostgresAuditRepo(pgpool api.PgxPool, logger *slog.Logger) *PostgresAuditRepo {
	return &PostgresAuditRepo{
		logger: logger,
		pgpool: pgpool,
	}
}

func marshalValues(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}

func (r *PostgresAuditRepo) Insert(ctx context.Context, record types.AuditRecord) error {
	ctx, span := otel.Tracer("AuditRepo").Start(ctx, "Insert", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "audit_logs"),
	))
	defer span.End()

	oldValues, err := marshalValues(record.OldValues)
	if err != nil {
		return fmt.Errorf("audit insert: marshal old values: %w", err)
	}
	newValues, err := marshalValues(record.NewValues)
	if err != nil {
		return fmt.Errorf("audit insert: marshal new values: %w", err)
	}

	_, err = r.pgpool.Exec(ctx, `
		INSERT INTO audit_logs (user_id, action, resource, resource_id, old_values, new_values, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		record.UserID, record.Action, record.Resource, record.ResourceID,
		oldValues, newValues, record.IPAddress, record.UserAgent)
	if err != nil {
		return fmt.Errorf("audit insert: db insert failed: %w", err)
	}
	return nil
}

const auditSelectColumns = `
	a.id, a.user_id, a.action, a.resource, a.resource_id,
	a.old_values, a.new_values, a.ip_address, a.user_agent, a.created_at,
	COALESCE(u.username, '')
`

func (r *PostgresAuditRepo) ListRecent(ctx context.Context, limit int) ([]types.AuditLogEntry, error) {
	query := `
		SELECT ` + auditSelectColumns + `
		FROM audit_logs a
		LEFT JOIN users u ON u.id = a.user_id
		ORDER BY a.created_at DESC
		LIMIT $1
	`
	rows, err := r.pgpool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("audit list: query failed: %w", err)
	}
	defer rows.Close()
	return scanAuditEntries(rows)
}

func (r *PostgresAuditRepo) ListForUser(ctx context.Context, userID uuid.UUID, limit int) ([]types.AuditLogEntry, error) {
	query := `
		SELECT ` + auditSelectColumns + `
		FROM audit_logs a
		LEFT JOIN users u ON u.id = a.user_id
		WHERE a.user_id = $1 OR a.resource_id = $2
		ORDER BY a.created_at DESC
		LIMIT $3
	`
	rows, err := r.pgpool.Query(ctx, query, userID, userID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("audit list for user: query failed: %w", err)
	}
	defer rows.Close()
	return scanAuditEntries(rows)
}

func scanAuditEntries(rows pgx.Rows) ([]types.AuditLogEntry, error) {
	entries := make([]types.AuditLogEntry, 0)
	for rows.Next() {
		var e types.AuditLogEntry
		var oldValues, newValues []byte
		err := rows.Scan(
			&e.ID, &e.UserID, &e.Action, &e.Resource, &e.ResourceID,
			&oldValues, &newValues, &e.IPAddress, &e.UserAgent, &e.CreatedAt,
			&e.ActorUsername,
		)
		if err != nil {
			return nil, fmt.Errorf("audit scan failed: %w", err)
		}
		e.OldValues = oldValues
		e.NewValues = newValues
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit rows: %w", err)
	}
	return entries, nil
}
