package audit

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saldiviabuses/erp-server/internal/types"
)

func newMockRepo(t *testing.T) (pgxmock.PgxPoolIface, *PostgresAuditRepo) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)
	return mockPool, NewPostgresAuditRepo(mockPool, slog.Default())
}

func TestInsert(t *testing.T) {
	ctx := context.Background()

	t.Run("FullRecord", func(t *testing.T) {
		mockPool, repo := newMockRepo(t)
		userID := uuid.New()
		resourceID := uuid.New().String()
		ip := "10.0.0.5"
		ua := "erp-client/1.0"

		mockPool.ExpectExec("INSERT INTO audit_logs").
			WithArgs(userID, "UPDATE", "users", &resourceID,
				[]byte(`{"active":true}`), []byte(`{"active":false}`), &ip, &ua).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		err := repo.Insert(ctx, types.AuditRecord{
			UserID:     userID,
			Action:     "UPDATE",
			Resource:   "users",
			ResourceID: &resourceID,
			OldValues:  map[string]bool{"active": true},
			NewValues:  map[string]bool{"active": false},
			IPAddress:  &ip,
			UserAgent:  &ua,
		})

		assert.NoError(t, err)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("NilValues", func(t *testing.T) {
		mockPool, repo := newMockRepo(t)
		userID := uuid.New()

		mockPool.ExpectExec("INSERT INTO audit_logs").
			WithArgs(userID, "DELETE", "users", (*string)(nil),
				[]byte(nil), []byte(nil), (*string)(nil), (*string)(nil)).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		err := repo.Insert(ctx, types.AuditRecord{
			UserID:   userID,
			Action:   "DELETE",
			Resource: "users",
		})

		assert.NoError(t, err)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestListRecent(t *testing.T) {
	ctx := context.Background()
	mockPool, repo := newMockRepo(t)
	entryID := uuid.New()
	userID := uuid.New()
	now := time.Now()

	mockPool.ExpectQuery("SELECT(.|\n)+FROM audit_logs a(.|\n)+ORDER BY a.created_at DESC").
		WithArgs(100).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "user_id", "action", "resource", "resource_id",
			"old_values", "new_values", "ip_address", "user_agent", "created_at", "username",
		}).AddRow(
			entryID, userID, "UPDATE", "users", (*string)(nil),
			[]byte(nil), []byte(`{"active":false}`), (*string)(nil), (*string)(nil), now, "admin",
		))

	entries, err := repo.ListRecent(ctx, 100)

	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "UPDATE", entries[0].Action)
	assert.Equal(t, "admin", entries[0].ActorUsername)
	assert.JSONEq(t, `{"active":false}`, string(entries[0].NewValues))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestListForUser(t *testing.T) {
	ctx := context.Background()
	mockPool, repo := newMockRepo(t)
	userID := uuid.New()

	mockPool.ExpectQuery("SELECT(.|\n)+FROM audit_logs a(.|\n)+WHERE a.user_id = \\$1 OR a.resource_id = \\$2").
		WithArgs(userID, userID.String(), 100).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "user_id", "action", "resource", "resource_id",
			"old_values", "new_values", "ip_address", "user_agent", "created_at", "username",
		}))

	entries, err := repo.ListForUser(ctx, userID, 100)

	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

type failingRepo struct{}

func (failingRepo) Insert(context.Context, types.AuditRecord) error {
	return errors.New("connection refused")
}
func (failingRepo) ListRecent(context.Context, int) ([]types.AuditLogEntry, error) {
	return nil, nil
}
func (failingRepo) ListForUser(context.Context, uuid.UUID, int) ([]types.AuditLogEntry, error) {
	return nil, nil
}

func TestRecorderSwallowsErrors(t *testing.T) {
	rec := NewRecorder(failingRepo{}, slog.Default())

	// Must not panic or propagate, the admin action already succeeded.
	rec.Record(context.Background(), types.AuditRecord{
		UserID:   uuid.New(),
		Action:   "UPDATE",
		Resource: "users",
	})
}
