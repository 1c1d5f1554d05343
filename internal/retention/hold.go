package retention

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HoldService manages legal holds that pin a stream or topic against
// deletion by the expiry loop regardless of any retention policy.
type HoldService struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewHoldService(db *sql.DB, logger *zap.Logger) *HoldService {
	return &HoldService{db: db, logger: logger}
}

func (s *HoldService) CreateHold(ctx context.Context, hold *Hold) (*Hold, error) {
	if hold.StreamName == "" {
		return nil, fmt.Errorf("stream name required")
	}
	if hold.Reason == "" {
		return nil, fmt.Errorf("reason required")
	}
	if hold.CreatedBy == "" {
		return nil, fmt.Errorf("created by required")
	}

	hold.ID = uuid.New()
	hold.Status = HoldStatusActive
	hold.CreatedAt = time.Now()

	if s.db != nil {
		query := `
			INSERT INTO retention_holds
			(id, stream_name, topic_name, reason, created_by, expires_at, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`
		_, err := s.db.ExecContext(ctx, query,
			hold.ID, hold.StreamName, nullIfEmpty(hold.TopicName), hold.Reason,
			hold.CreatedBy, hold.ExpiresAt, hold.Status, hold.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("create legal hold: %w", err)
		}
		s.logger.Info("created retention hold",
			zap.String("hold_id", hold.ID.String()),
			zap.String("stream", hold.StreamName),
			zap.String("topic", hold.TopicName))
	}

	return hold, nil
}

// IsOnHold reports whether any active hold covers the given stream/topic,
// either scoped exactly to the topic or to the whole stream.
func (s *HoldService) IsOnHold(ctx context.Context, streamName, topicName string) (bool, error) {
	if s.db == nil {
		return false, nil
	}

	query := `
		SELECT COUNT(*)
		FROM retention_holds
		WHERE stream_name = $1
		  AND (topic_name IS NULL OR topic_name = $2)
		  AND status = $3
		  AND (expires_at IS NULL OR expires_at > NOW())
	`
	var count int
	if err := s.db.QueryRowContext(ctx, query, streamName, topicName, HoldStatusActive).Scan(&count); err != nil {
		return false, fmt.Errorf("check retention hold: %w", err)
	}
	return count > 0, nil
}

func (s *HoldService) ReleaseHold(ctx context.Context, holdID uuid.UUID) error {
	if s.db == nil {
		return fmt.Errorf("database not configured")
	}
	now := time.Now()
	result, err := s.db.ExecContext(ctx, `
		UPDATE retention_holds SET status = $1, released_at = $2 WHERE id = $3 AND status = $4
	`, HoldStatusReleased, now, holdID, HoldStatusActive)
	if err != nil {
		return fmt.Errorf("release retention hold: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("hold not found or already released: %s", holdID)
	}
	return nil
}

func (s *HoldService) ExpireHolds(ctx context.Context) (int, error) {
	if s.db == nil {
		return 0, fmt.Errorf("database not configured")
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE retention_holds SET status = $1
		WHERE status = $2 AND expires_at IS NOT NULL AND expires_at <= NOW()
	`, HoldStatusExpired, HoldStatusActive)
	if err != nil {
		return 0, fmt.Errorf("expire retention holds: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows > 0 {
		s.logger.Info("expired retention holds", zap.Int64("count", rows))
	}
	return int(rows), nil
}
