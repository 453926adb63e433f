package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event statuses as persisted in the outbox_events table.
const (
	StatusPending         = "PENDING"
	StatusPublished       = "PUBLISHED"
	StatusFailedPermanent = "FAILED_PERMANENT"
)

var (
	// ErrEventAlreadyExists is returned when appending an event with a duplicate id.
	ErrEventAlreadyExists = errors.New("outbox event already exists")
	// ErrAccountAlreadyExists is returned when creating an account with a taken login.
	ErrAccountAlreadyExists = errors.New("account already exists")
	// ErrAccountNotFound is returned when a login has no account row.
	ErrAccountNotFound = errors.New("account not found")
)

// AccountRecord is the database representation of a user account.
type AccountRecord struct {
	Login     string
	Balance   decimal.Decimal
	UpdatedAt time.Time
}

// OperationRecord is the database representation of a committed money operation.
// Operations are immutable once written.
type OperationRecord struct {
	ID                uuid.UUID
	Login             string
	CounterpartyLogin string
	Kind              string
	Amount            decimal.Decimal
	CreatedAt         time.Time
}

// EventRecord is the database representation of an outbox event.
type EventRecord struct {
	ID             uuid.UUID
	OperationID    uuid.UUID
	EventType      string
	Target         string
	Payload        []byte
	Headers        []byte
	Status         string
	AttemptCount   int
	LastError      string
	LeaseExpiresAt *time.Time
	CreatedAt      time.Time
	LastAttemptAt  *time.Time
	PublishedAt    *time.Time
}

// Store defines the persistence operations backing the writer, the
// dispatcher and the sweeper. Write methods participate in an ambient
// transaction when one is carried by the context.
type Store interface {
	// CreateAccount inserts a new account row with the given starting balance.
	CreateAccount(ctx context.Context, login string, balance decimal.Decimal) error
	// GetAccountForUpdate reads an account row with a row lock, so the
	// balance stays stable until the surrounding transaction commits.
	GetAccountForUpdate(ctx context.Context, login string) (AccountRecord, error)
	// UpdateAccountBalance overwrites the balance of an existing account.
	UpdateAccountBalance(ctx context.Context, login string, balance decimal.Decimal) error
	// CreateOperation inserts an immutable operation row.
	CreateOperation(ctx context.Context, op *OperationRecord) error

	// AppendEvent inserts a pending outbox event. It must be called within
	// the same transaction as the business write it describes.
	AppendEvent(ctx context.Context, event *EventRecord) error
	// ClaimBatch returns up to limit pending events whose lease is absent or
	// expired, oldest first, and stamps a fresh lease on each. Concurrent
	// claimers never observe overlapping live leases on the same event.
	ClaimBatch(ctx context.Context, limit int, leaseTimeout time.Duration) ([]EventRecord, error)
	// MarkPublished finalizes a delivered event.
	MarkPublished(ctx context.Context, eventID uuid.UUID) error
	// MarkFailedPermanent parks an undeliverable event for operator review,
	// counting the delivery that failed as the final attempt.
	MarkFailedPermanent(ctx context.Context, eventID uuid.UUID, reason string) error
	// ReleaseForRetry records a failed attempt. The event stays pending and
	// becomes claimable again once its current lease expires.
	ReleaseForRetry(ctx context.Context, eventID uuid.UUID, reason string) error
	// ListFailedPermanent returns parked events, oldest first.
	ListFailedPermanent(ctx context.Context, limit int) ([]EventRecord, error)
	// DeletePublishedBefore removes published events older than the cutoff
	// and reports how many rows were deleted.
	DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// EnsureTables creates the backing tables if they do not exist.
	EnsureTables(ctx context.Context) error
}
