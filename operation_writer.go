package moneybox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/avito-tech/go-transaction-manager/trm/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/korvan/moneybox/storage"
)

// amountScale bounds amounts to two decimal places so every value is
// exactly representable in the fixed-point column.
const amountScale = 2

// OperationWriter commits money operations. The business row and its
// outbox event are written in one atomic unit: either both are durable or
// neither is observable. A request fails only if this local commit fails;
// downstream propagation happens asynchronously through the dispatcher.
type OperationWriter struct {
	store     storage.Store
	trManager trm.Manager
	logger    *zap.Logger
	metrics   MetricsCollector
}

// NewOperationWriter creates a writer bound to a store and a transaction
// manager sharing the same database.
func NewOperationWriter(
	store storage.Store,
	trManager trm.Manager,
	logger *zap.Logger,
	metrics MetricsCollector,
) *OperationWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewNopMetricsCollector()
	}
	return &OperationWriter{
		store:     store,
		trManager: trManager,
		logger:    logger,
		metrics:   metrics,
	}
}

// CreateAccount seeds an account with a starting balance.
func (w *OperationWriter) CreateAccount(ctx context.Context, login string, balance decimal.Decimal) error {
	if balance.IsNegative() || balance.Exponent() < -amountScale {
		return ErrInvalidAmount
	}
	if err := w.store.CreateAccount(ctx, login, balance); err != nil {
		return fmt.Errorf("failed to create account %q: %w", login, err)
	}
	return nil
}

// Deposit credits an account and records a BALANCE_CHANGED event.
func (w *OperationWriter) Deposit(ctx context.Context, login string, amount decimal.Decimal) (Operation, error) {
	return w.submitCash(ctx, login, KindDeposit, amount)
}

// Withdraw debits an account and records a BALANCE_CHANGED event. The
// balance check runs under a row lock within the same atomic unit.
func (w *OperationWriter) Withdraw(ctx context.Context, login string, amount decimal.Decimal) (Operation, error) {
	return w.submitCash(ctx, login, KindWithdrawal, amount)
}

func (w *OperationWriter) submitCash(ctx context.Context, login string, kind OperationKind, amount decimal.Decimal) (Operation, error) {
	if err := validateAmount(amount); err != nil {
		return Operation{}, err
	}

	var op Operation
	err := w.trManager.Do(ctx, func(ctx context.Context) error {
		acct, err := w.store.GetAccountForUpdate(ctx, login)
		if err != nil {
			return convertAccountError(err)
		}

		newBalance := acct.Balance.Add(amount)
		if kind == KindWithdrawal {
			newBalance = acct.Balance.Sub(amount)
			if newBalance.IsNegative() {
				return ErrInsufficientFunds
			}
		}

		if err := w.store.UpdateAccountBalance(ctx, login, newBalance); err != nil {
			return fmt.Errorf("failed to update balance: %w", err)
		}

		op, err = w.writeOperation(ctx, storage.OperationRecord{
			ID:        uuid.New(),
			Login:     login,
			Kind:      string(kind),
			Amount:    amount,
			CreatedAt: time.Now().UTC(),
		}, EventTypeBalanceChanged, newBalance)

		return err
	})
	if err != nil {
		return Operation{}, err
	}

	w.metrics.IncrementCounter("writer.operation_committed", map[string]string{"kind": string(kind)})
	w.logger.Info("Operation committed",
		zap.String("operation_id", op.ID.String()),
		zap.String("kind", string(kind)),
		zap.String("login", login),
	)
	return op, nil
}

// Transfer moves funds between two accounts. Both balances, both operation
// rows (TRANSFER_OUT and TRANSFER_IN) and their events commit in one atomic
// unit. Accounts are locked in login order to keep concurrent transfers
// deadlock-free.
func (w *OperationWriter) Transfer(ctx context.Context, from, to string, amount decimal.Decimal) (TransferResult, error) {
	if err := validateAmount(amount); err != nil {
		return TransferResult{}, err
	}
	if from == to {
		return TransferResult{}, ErrSameAccount
	}

	var result TransferResult
	err := w.trManager.Do(ctx, func(ctx context.Context) error {
		first, second := from, to
		if second < first {
			first, second = second, first
		}

		accounts := make(map[string]storage.AccountRecord, 2)
		for _, login := range []string{first, second} {
			acct, err := w.store.GetAccountForUpdate(ctx, login)
			if err != nil {
				return convertAccountError(err)
			}
			accounts[login] = acct
		}

		senderBalance := accounts[from].Balance.Sub(amount)
		if senderBalance.IsNegative() {
			return ErrInsufficientFunds
		}
		receiverBalance := accounts[to].Balance.Add(amount)

		if err := w.store.UpdateAccountBalance(ctx, from, senderBalance); err != nil {
			return fmt.Errorf("failed to update sender balance: %w", err)
		}
		if err := w.store.UpdateAccountBalance(ctx, to, receiverBalance); err != nil {
			return fmt.Errorf("failed to update receiver balance: %w", err)
		}

		now := time.Now().UTC()

		outgoing, err := w.writeOperation(ctx, storage.OperationRecord{
			ID:                uuid.New(),
			Login:             from,
			CounterpartyLogin: to,
			Kind:              string(KindTransferOut),
			Amount:            amount,
			CreatedAt:         now,
		}, EventTypeTransferCompleted, senderBalance)
		if err != nil {
			return err
		}

		incoming, err := w.writeOperation(ctx, storage.OperationRecord{
			ID:                uuid.New(),
			Login:             to,
			CounterpartyLogin: from,
			Kind:              string(KindTransferIn),
			Amount:            amount,
			CreatedAt:         now,
		}, EventTypeTransferCompleted, receiverBalance)
		if err != nil {
			return err
		}

		result = TransferResult{Outgoing: outgoing, Incoming: incoming}
		return nil
	})
	if err != nil {
		return TransferResult{}, err
	}

	w.metrics.IncrementCounter("writer.operation_committed", map[string]string{"kind": "TRANSFER"})
	w.logger.Info("Transfer committed",
		zap.String("outgoing_operation_id", result.Outgoing.ID.String()),
		zap.String("from", from),
		zap.String("to", to),
	)
	return result, nil
}

// writeOperation inserts the operation row and appends its outbox event.
// Must run inside the ambient transaction.
func (w *OperationWriter) writeOperation(
	ctx context.Context,
	rec storage.OperationRecord,
	eventType string,
	balanceAfter decimal.Decimal,
) (Operation, error) {
	if err := w.store.CreateOperation(ctx, &rec); err != nil {
		return Operation{}, fmt.Errorf("failed to create operation: %w", err)
	}

	event, err := buildEventRecord(ctx, rec, eventType, balanceAfter)
	if err != nil {
		return Operation{}, err
	}
	if err := w.store.AppendEvent(ctx, &event); err != nil {
		return Operation{}, fmt.Errorf("failed to append outbox event: %w", err)
	}

	return Operation{
		ID:                rec.ID,
		Login:             rec.Login,
		CounterpartyLogin: rec.CounterpartyLogin,
		Kind:              OperationKind(rec.Kind),
		Amount:            rec.Amount,
		CreatedAt:         rec.CreatedAt,
		EventID:           event.ID,
	}, nil
}

func buildEventRecord(
	ctx context.Context,
	rec storage.OperationRecord,
	eventType string,
	balanceAfter decimal.Decimal,
) (storage.EventRecord, error) {
	payload, err := json.Marshal(OperationPayload{
		SchemaVersion: PayloadSchemaVersion,
		OperationID:   rec.ID.String(),
		Kind:          rec.Kind,
		Login:         rec.Login,
		Counterparty:  rec.CounterpartyLogin,
		Amount:        rec.Amount.String(),
		Balance:       balanceAfter.String(),
		OccurredAt:    rec.CreatedAt,
	})
	if err != nil {
		return storage.EventRecord{}, fmt.Errorf("failed to marshal payload: %w", err)
	}

	// Carry the active trace context into the outbox row.
	headers := make(map[string]string)
	otel.GetTextMapPropagator().Inject(ctx, newHeaderCarrier(headers))

	var headersJSON []byte
	if len(headers) > 0 {
		if headersJSON, err = json.Marshal(headers); err != nil {
			return storage.EventRecord{}, fmt.Errorf("failed to marshal headers: %w", err)
		}
	}

	return storage.EventRecord{
		ID:          uuid.New(),
		OperationID: rec.ID,
		EventType:   eventType,
		Target:      TargetForEventType(eventType),
		Payload:     payload,
		Headers:     headersJSON,
		Status:      storage.StatusPending,
		CreatedAt:   rec.CreatedAt,
	}, nil
}

func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if amount.Exponent() < -amountScale {
		return ErrInvalidAmount
	}
	return nil
}

func convertAccountError(err error) error {
	if errors.Is(err, storage.ErrAccountNotFound) {
		return ErrUnknownAccount
	}
	return fmt.Errorf("failed to read account: %w", err)
}
