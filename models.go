package moneybox

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OperationKind classifies a committed money operation.
type OperationKind string

const (
	KindDeposit     OperationKind = "DEPOSIT"
	KindWithdrawal  OperationKind = "WITHDRAWAL"
	KindTransferOut OperationKind = "TRANSFER_OUT"
	KindTransferIn  OperationKind = "TRANSFER_IN"
)

// Outbox event types produced by the writer and consumed downstream.
const (
	EventTypeBalanceChanged    = "BALANCE_CHANGED"
	EventTypeTransferCompleted = "TRANSFER_COMPLETED"
	EventTypeNotify            = "NOTIFY"
)

// Delivery targets. Each target is protected by its own circuit breaker.
const (
	TargetAccounts      = "accounts"
	TargetNotifications = "notifications"
)

// TargetForEventType resolves the downstream service an event type is
// routed to. Unknown types fall back to the notifications target so they
// stay visible rather than being dropped at routing time.
func TargetForEventType(eventType string) string {
	switch eventType {
	case EventTypeBalanceChanged:
		return TargetAccounts
	case EventTypeTransferCompleted, EventTypeNotify:
		return TargetNotifications
	default:
		return TargetNotifications
	}
}

// Operation is the caller-facing view of a committed money operation.
// Immutable once returned: the row it mirrors is never updated.
type Operation struct {
	ID                uuid.UUID
	Login             string
	CounterpartyLogin string
	Kind              OperationKind
	Amount            decimal.Decimal
	CreatedAt         time.Time
	// EventID references the outbox event co-committed with the operation.
	EventID uuid.UUID
}

// TransferResult holds both sides of a committed transfer.
type TransferResult struct {
	Outgoing Operation
	Incoming Operation
}

// Event is the delivery-facing view of a claimed outbox event.
type Event struct {
	ID           uuid.UUID
	OperationID  uuid.UUID
	EventType    string
	Target       string
	Payload      []byte
	Headers      []byte
	AttemptCount int
}

// PayloadSchemaVersion tags the JSON payload envelope so consumers can
// reject shapes they do not understand.
const PayloadSchemaVersion = 1

// OperationPayload is the versioned JSON envelope carried by outbox events.
// Amounts travel as decimal strings; consumers must dedupe by event id.
type OperationPayload struct {
	SchemaVersion int       `json:"schema_version"`
	OperationID   string    `json:"operation_id"`
	Kind          string    `json:"kind"`
	Login         string    `json:"login"`
	Counterparty  string    `json:"counterparty,omitempty"`
	Amount        string    `json:"amount"`
	Balance       string    `json:"balance"`
	OccurredAt    time.Time `json:"occurred_at"`
}
