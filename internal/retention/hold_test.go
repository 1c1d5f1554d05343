package retention

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHoldService_CreateHold(t *testing.T) {
	t.Run("creates hold without a database", func(t *testing.T) {
		service := NewHoldService(nil, zap.NewNop())
		ctx := context.Background()

		hold := &Hold{
			StreamName: "orders",
			Reason:     "investigation pending",
			CreatedBy:  "ops@example.com",
		}

		created, err := service.CreateHold(ctx, hold)

		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, created.ID)
		assert.Equal(t, HoldStatusActive, created.Status)
	})

	t.Run("validates stream name", func(t *testing.T) {
		service := NewHoldService(nil, zap.NewNop())
		_, err := service.CreateHold(context.Background(), &Hold{Reason: "x", CreatedBy: "x"})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "stream name required")
	})

	t.Run("validates reason", func(t *testing.T) {
		service := NewHoldService(nil, zap.NewNop())
		_, err := service.CreateHold(context.Background(), &Hold{StreamName: "orders", CreatedBy: "x"})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "reason required")
	})
}

func TestHoldService_IsOnHold_WithoutDatabaseAlwaysFalse(t *testing.T) {
	service := NewHoldService(nil, zap.NewNop())
	onHold, err := service.IsOnHold(context.Background(), "orders", "events")
	require.NoError(t, err)
	assert.False(t, onHold)
}

func TestHoldService_ReleaseHold_RequiresDatabase(t *testing.T) {
	service := NewHoldService(nil, zap.NewNop())
	err := service.ReleaseHold(context.Background(), uuid.New())
	assert.Error(t, err)
}

func TestHoldService_CreateHold_PersistsToDatabase(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewHoldService(db, zap.NewNop())
	hold := &Hold{StreamName: "orders", TopicName: "events", Reason: "audit", CreatedBy: "ops@example.com"}

	mock.ExpectExec(`INSERT INTO retention_holds`).
		WithArgs(sqlmock.AnyArg(), "orders", "events", "audit", "ops@example.com", sqlmock.AnyArg(), HoldStatusActive, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	created, err := service.CreateHold(context.Background(), hold)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, created.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHoldService_IsOnHold_WithDatabase(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewHoldService(db, zap.NewNop())

	rows := sqlmock.NewRows([]string{"count"}).AddRow(1)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM retention_holds`).
		WithArgs("orders", "events", HoldStatusActive).
		WillReturnRows(rows)

	onHold, err := service.IsOnHold(context.Background(), "orders", "events")
	require.NoError(t, err)
	assert.True(t, onHold)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHoldService_ReleaseHold_WithDatabase(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewHoldService(db, zap.NewNop())
	id := uuid.New()

	t.Run("releases an active hold", func(t *testing.T) {
		mock.ExpectExec(`UPDATE retention_holds SET status = \$1, released_at = \$2 WHERE id = \$3 AND status = \$4`).
			WithArgs(HoldStatusReleased, sqlmock.AnyArg(), id, HoldStatusActive).
			WillReturnResult(sqlmock.NewResult(0, 1))
		require.NoError(t, service.ReleaseHold(context.Background(), id))
	})

	t.Run("errors when already released", func(t *testing.T) {
		mock.ExpectExec(`UPDATE retention_holds SET status = \$1, released_at = \$2 WHERE id = \$3 AND status = \$4`).
			WithArgs(HoldStatusReleased, sqlmock.AnyArg(), id, HoldStatusActive).
			WillReturnResult(sqlmock.NewResult(0, 0))
		err := service.ReleaseHold(context.Background(), id)
		assert.Error(t, err)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHoldService_ExpireHolds_WithDatabase(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewHoldService(db, zap.NewNop())

	mock.ExpectExec(`UPDATE retention_holds SET status = \$1 WHERE status = \$2 AND expires_at IS NOT NULL AND expires_at <= NOW\(\)`).
		WithArgs(HoldStatusExpired, HoldStatusActive).
		WillReturnResult(sqlmock.NewResult(0, 3))

	count, err := service.ExpireHolds(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHoldService_ExpireHolds_RequiresDatabase(t *testing.T) {
	service := NewHoldService(nil, zap.NewNop())
	_, err := service.ExpireHolds(context.Background())
	assert.Error(t, err)
}
