package moneybox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/korvan/moneybox/storage"
)

func TestFailedEventReporter_Report(t *testing.T) {
	mockStore := new(storage.MockStore)
	reporter := NewFailedEventReporter(mockStore, zap.NewNop(), nil,
		WithReportBatchSize(10),
	)

	parked := []storage.EventRecord{
		{
			ID:           uuid.New(),
			OperationID:  uuid.New(),
			EventType:    EventTypeBalanceChanged,
			Target:       TargetAccounts,
			Status:       storage.StatusFailedPermanent,
			AttemptCount: 5,
			LastError:    "downstream unavailable",
			CreatedAt:    time.Now().UTC(),
		},
	}
	mockStore.On("ListFailedPermanent", mock.Anything, 10).Return(parked, nil).Once()

	err := reporter.Report(context.Background())
	assert.NoError(t, err)
	mockStore.AssertExpectations(t)
}

func TestFailedEventReporter_Report_Empty(t *testing.T) {
	mockStore := new(storage.MockStore)
	reporter := NewFailedEventReporter(mockStore, zap.NewNop(), nil)

	mockStore.On("ListFailedPermanent", mock.Anything, defaultReportBatchSize).
		Return([]storage.EventRecord{}, nil).Once()

	err := reporter.Report(context.Background())
	assert.NoError(t, err)
	mockStore.AssertExpectations(t)
}

func TestFailedEventReporter_Report_StoreError(t *testing.T) {
	mockStore := new(storage.MockStore)
	reporter := NewFailedEventReporter(mockStore, zap.NewNop(), nil)

	listErr := errors.New("db connection lost")
	mockStore.On("ListFailedPermanent", mock.Anything, defaultReportBatchSize).
		Return([]storage.EventRecord{}, listErr).Once()

	err := reporter.Report(context.Background())
	assert.ErrorIs(t, err, listErr)
}
