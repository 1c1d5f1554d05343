package retention

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPolicyService_CreatePolicy(t *testing.T) {
	t.Run("creates topic-scoped policy", func(t *testing.T) {
		service := NewPolicyService(nil, zap.NewNop())
		policy := &Policy{
			StreamName:      "orders",
			TopicName:       "events",
			RetentionPeriod: 7 * 24 * time.Hour,
			Enabled:         true,
		}

		created, err := service.CreatePolicy(context.Background(), policy)

		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, created.ID)
		assert.Equal(t, "events", created.TopicName)
	})

	t.Run("creates system-wide policy", func(t *testing.T) {
		service := NewPolicyService(nil, zap.NewNop())
		policy := &Policy{RetentionPeriod: 24 * time.Hour, Enabled: true}

		created, err := service.CreatePolicy(context.Background(), policy)

		require.NoError(t, err)
		assert.Empty(t, created.StreamName)
		assert.Empty(t, created.TopicName)
	})

	t.Run("rejects non-positive retention period", func(t *testing.T) {
		service := NewPolicyService(nil, zap.NewNop())
		_, err := service.CreatePolicy(context.Background(), &Policy{RetentionPeriod: 0})
		assert.Error(t, err)
	})
}

func TestPolicyService_ListPolicies_WithoutDatabaseIsEmpty(t *testing.T) {
	service := NewPolicyService(nil, zap.NewNop())
	policies, err := service.ListPolicies(context.Background())
	require.NoError(t, err)
	assert.Empty(t, policies)
}

func TestPolicyService_CreatePolicy_PersistsToDatabase(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewPolicyService(db, zap.NewNop())
	policy := &Policy{StreamName: "orders", TopicName: "events", RetentionPeriod: time.Hour, Enabled: true}

	mock.ExpectExec(`INSERT INTO retention_policies`).
		WithArgs(sqlmock.AnyArg(), "orders", "events", time.Hour, true, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	created, err := service.CreatePolicy(context.Background(), policy)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, created.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPolicyService_CreatePolicy_DatabaseErrorIsWrapped(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewPolicyService(db, zap.NewNop())
	mock.ExpectExec(`INSERT INTO retention_policies`).WillReturnError(assert.AnError)

	_, err = service.CreatePolicy(context.Background(), &Policy{RetentionPeriod: time.Hour, Enabled: true})
	assert.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPolicyService_DeletePolicy(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewPolicyService(db, zap.NewNop())
	id := uuid.New()

	t.Run("removes an existing row", func(t *testing.T) {
		mock.ExpectExec(`DELETE FROM retention_policies WHERE id = \$1`).
			WithArgs(id).
			WillReturnResult(sqlmock.NewResult(0, 1))
		require.NoError(t, service.DeletePolicy(context.Background(), id))
	})

	t.Run("errors when nothing matched", func(t *testing.T) {
		mock.ExpectExec(`DELETE FROM retention_policies WHERE id = \$1`).
			WithArgs(id).
			WillReturnResult(sqlmock.NewResult(0, 0))
		err := service.DeletePolicy(context.Background(), id)
		assert.Error(t, err)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPolicyService_DeletePolicy_RequiresDatabase(t *testing.T) {
	service := NewPolicyService(nil, zap.NewNop())
	err := service.DeletePolicy(context.Background(), uuid.New())
	assert.Error(t, err)
}

func TestPolicyService_ListPolicies_DecodesNullableScopeColumns(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewPolicyService(db, zap.NewNop())
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "stream_name", "topic_name", "retention_period", "enabled", "created_at", "updated_at"}).
		AddRow(uuid.New(), "orders", "events", time.Hour, true, now, now).
		AddRow(uuid.New(), nil, nil, 24*time.Hour, true, now, now)
	mock.ExpectQuery(`SELECT id, stream_name, topic_name, retention_period, enabled, created_at, updated_at`).
		WillReturnRows(rows)

	policies, err := service.ListPolicies(context.Background())
	require.NoError(t, err)
	require.Len(t, policies, 2)
	assert.Equal(t, "orders", policies[0].StreamName)
	assert.Equal(t, "events", policies[0].TopicName)
	assert.Empty(t, policies[1].StreamName)
	assert.Empty(t, policies[1].TopicName)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPolicyService_EffectivePolicy_UsesDatabaseBackedList(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewPolicyService(db, zap.NewNop())
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "stream_name", "topic_name", "retention_period", "enabled", "created_at", "updated_at"}).
		AddRow(uuid.New(), "orders", "events", 3*time.Hour, true, now, now).
		AddRow(uuid.New(), "orders", nil, 2*time.Hour, true, now, now)
	mock.ExpectQuery(`SELECT id, stream_name, topic_name, retention_period, enabled, created_at, updated_at`).
		WillReturnRows(rows)

	policy, ok, err := service.EffectivePolicy(context.Background(), "orders", "events")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3*time.Hour, policy.RetentionPeriod)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSelectEffectivePolicy_TopicScopeBeatsStreamScopeBeatsGlobal(t *testing.T) {
	global := &Policy{RetentionPeriod: time.Hour, Enabled: true}
	streamScoped := &Policy{StreamName: "orders", RetentionPeriod: 2 * time.Hour, Enabled: true}
	topicScoped := &Policy{StreamName: "orders", TopicName: "events", RetentionPeriod: 3 * time.Hour, Enabled: true}

	policy, ok, err := selectEffectivePolicy([]*Policy{global, streamScoped, topicScoped}, "orders", "events")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3*time.Hour, policy.RetentionPeriod)

	policy, ok, err = selectEffectivePolicy([]*Policy{global, streamScoped, topicScoped}, "orders", "other-topic")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2*time.Hour, policy.RetentionPeriod)

	policy, ok, err = selectEffectivePolicy([]*Policy{global, streamScoped, topicScoped}, "other-stream", "other-topic")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Hour, policy.RetentionPeriod)
}

func TestSelectEffectivePolicy_IgnoresDisabledPolicies(t *testing.T) {
	disabled := &Policy{StreamName: "orders", TopicName: "events", RetentionPeriod: time.Hour, Enabled: false}
	_, ok, err := selectEffectivePolicy([]*Policy{disabled}, "orders", "events")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSelectEffectivePolicy_NoMatchReturnsFalse(t *testing.T) {
	_, ok, err := selectEffectivePolicy(nil, "orders", "events")
	require.NoError(t, err)
	assert.False(t, ok)
}
