package retention

import (
	"time"

	"github.com/google/uuid"
)

// Legal hold statuses.
const (
	HoldStatusActive   = "active"
	HoldStatusExpired  = "expired"
	HoldStatusReleased = "released"
)

// Job statuses.
const (
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// Policy sets how long closed segments are kept before the expiry loop
// deletes them. An empty TopicName applies to every topic in StreamName; an
// empty StreamName applies system-wide. A topic-scoped policy always wins
// over a stream-scoped one, which always wins over the system-wide one.
type Policy struct {
	ID              uuid.UUID
	StreamName      string
	TopicName       string
	RetentionPeriod time.Duration
	Enabled         bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Hold prevents the expiry loop from deleting any segment in the given
// scope, regardless of what policy would otherwise apply. Used to pin data
// under investigation or legal review.
type Hold struct {
	ID         uuid.UUID
	StreamName string
	TopicName  string // empty = whole stream
	Reason     string
	CreatedBy  string
	ExpiresAt  *time.Time
	ReleasedAt *time.Time
	Status     string

	CreatedAt time.Time
}

// Job records one run of the expiry loop across every stream/topic/
// partition, for observability and audit.
type Job struct {
	ID              uuid.UUID
	StartedAt       time.Time
	CompletedAt     *time.Time
	Status          string
	SegmentsScanned int
	SegmentsDeleted int
	ErrorMessage    string
	CreatedAt       time.Time
}
