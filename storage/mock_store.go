package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

// MockStore is a mock implementation of the Store interface for testing.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateAccount(ctx context.Context, login string, balance decimal.Decimal) error {
	args := m.Called(ctx, login, balance)
	return args.Error(0)
}

func (m *MockStore) GetAccountForUpdate(ctx context.Context, login string) (AccountRecord, error) {
	args := m.Called(ctx, login)
	return args.Get(0).(AccountRecord), args.Error(1)
}

func (m *MockStore) UpdateAccountBalance(ctx context.Context, login string, balance decimal.Decimal) error {
	args := m.Called(ctx, login, balance)
	return args.Error(0)
}

func (m *MockStore) CreateOperation(ctx context.Context, op *OperationRecord) error {
	args := m.Called(ctx, op)
	return args.Error(0)
}

func (m *MockStore) AppendEvent(ctx context.Context, event *EventRecord) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockStore) ClaimBatch(ctx context.Context, limit int, leaseTimeout time.Duration) ([]EventRecord, error) {
	args := m.Called(ctx, limit, leaseTimeout)
	return args.Get(0).([]EventRecord), args.Error(1)
}

func (m *MockStore) MarkPublished(ctx context.Context, eventID uuid.UUID) error {
	args := m.Called(ctx, eventID)
	return args.Error(0)
}

func (m *MockStore) MarkFailedPermanent(ctx context.Context, eventID uuid.UUID, reason string) error {
	args := m.Called(ctx, eventID, reason)
	return args.Error(0)
}

func (m *MockStore) ReleaseForRetry(ctx context.Context, eventID uuid.UUID, reason string) error {
	args := m.Called(ctx, eventID, reason)
	return args.Error(0)
}

func (m *MockStore) ListFailedPermanent(ctx context.Context, limit int) ([]EventRecord, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]EventRecord), args.Error(1)
}

func (m *MockStore) DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) EnsureTables(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
