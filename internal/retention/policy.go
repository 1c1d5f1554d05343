package retention

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PolicyService manages retention policies, persisted to Postgres when a
// database is configured. A nil db is valid and makes every lookup return
// "no policy", so the expiry loop can run against a system with no
// retention configured at all.
type PolicyService struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPolicyService(db *sql.DB, logger *zap.Logger) *PolicyService {
	return &PolicyService{db: db, logger: logger}
}

func (s *PolicyService) CreatePolicy(ctx context.Context, policy *Policy) (*Policy, error) {
	if policy.RetentionPeriod <= 0 {
		return nil, fmt.Errorf("retention period must be positive")
	}

	policy.ID = uuid.New()
	policy.CreatedAt = time.Now()
	policy.UpdatedAt = time.Now()

	if s.db != nil {
		query := `
			INSERT INTO retention_policies
			(id, stream_name, topic_name, retention_period, enabled, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`
		_, err := s.db.ExecContext(ctx, query,
			policy.ID, nullIfEmpty(policy.StreamName), nullIfEmpty(policy.TopicName),
			policy.RetentionPeriod, policy.Enabled, policy.CreatedAt, policy.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("create retention policy: %w", err)
		}
		s.logger.Info("created retention policy",
			zap.String("policy_id", policy.ID.String()),
			zap.String("stream", policy.StreamName),
			zap.String("topic", policy.TopicName),
			zap.Duration("retention", policy.RetentionPeriod))
	}

	return policy, nil
}

func (s *PolicyService) DeletePolicy(ctx context.Context, id uuid.UUID) error {
	if s.db == nil {
		return fmt.Errorf("database not configured")
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM retention_policies WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete retention policy: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("policy not found: %s", id)
	}
	return nil
}

// ListPolicies returns every configured policy, topic-scoped ones first.
func (s *PolicyService) ListPolicies(ctx context.Context) ([]*Policy, error) {
	policies := []*Policy{}
	if s.db == nil {
		return policies, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, stream_name, topic_name, retention_period, enabled, created_at, updated_at
		FROM retention_policies
		ORDER BY (topic_name IS NOT NULL) DESC, (stream_name IS NOT NULL) DESC, created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list retention policies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var p Policy
		var streamName, topicName sql.NullString
		if err := rows.Scan(&p.ID, &streamName, &topicName, &p.RetentionPeriod, &p.Enabled, &p.CreatedAt, &p.UpdatedAt); err != nil {
			continue
		}
		p.StreamName = streamName.String
		p.TopicName = topicName.String
		policies = append(policies, &p)
	}
	return policies, nil
}

// EffectivePolicy resolves the most specific enabled policy for a topic:
// topic-scoped, then stream-scoped, then system-wide. It returns ok=false
// if nothing applies, which the caller treats as "never expire".
func (s *PolicyService) EffectivePolicy(ctx context.Context, streamName, topicName string) (Policy, bool, error) {
	policies, err := s.ListPolicies(ctx)
	if err != nil {
		return Policy{}, false, err
	}
	return selectEffectivePolicy(policies, streamName, topicName)
}

// selectEffectivePolicy picks the most specific enabled policy matching
// streamName/topicName: a topic-scoped match beats a stream-scoped match,
// which beats a system-wide one. Split out from EffectivePolicy so the
// selection logic is testable without a database.
func selectEffectivePolicy(policies []*Policy, streamName, topicName string) (Policy, bool, error) {
	var best *Policy
	bestScore := -1
	for _, p := range policies {
		if !p.Enabled {
			continue
		}
		if p.StreamName != "" && p.StreamName != streamName {
			continue
		}
		if p.TopicName != "" && p.TopicName != topicName {
			continue
		}
		score := 0
		if p.StreamName != "" {
			score++
		}
		if p.TopicName != "" {
			score++
		}
		if score > bestScore {
			best = p
			bestScore = score
		}
	}
	if best == nil {
		return Policy{}, false, nil
	}
	return *best, true, nil
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
