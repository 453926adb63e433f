package moneybox

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTargetForEventType(t *testing.T) {
	testCases := []struct {
		eventType string
		target    string
	}{
		{EventTypeBalanceChanged, TargetAccounts},
		{EventTypeTransferCompleted, TargetNotifications},
		{EventTypeNotify, TargetNotifications},
		{"SOMETHING_NEW", TargetNotifications},
	}

	for _, tc := range testCases {
		t.Run(tc.eventType, func(t *testing.T) {
			assert.Equal(t, tc.target, TargetForEventType(tc.eventType))
		})
	}
}
