package moneybox

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockDeliverer is a mock implementation of the Deliverer interface.
type MockDeliverer struct {
	mock.Mock
}

func (m *MockDeliverer) Deliver(ctx context.Context, event Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockDeliverer) Close() error {
	args := m.Called()
	return args.Error(0)
}
