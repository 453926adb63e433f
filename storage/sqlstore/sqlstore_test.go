package sqlstore

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/korvan/moneybox/storage"
)

func newTestStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLStore(db, zap.NewNop()), mock
}

var eventColumns = []string{
	"id", "operation_id", "event_type", "target", "payload",
	"headers", "status", "attempt_count", "last_error", "created_at",
}

func TestSQLStore_CreateAccount(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO accounts")).
		WithArgs("alice", decimal.NewFromInt(100)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.CreateAccount(context.Background(), "alice", decimal.NewFromInt(100))
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_CreateAccount_Duplicate(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO accounts")).
		WithArgs("alice", decimal.NewFromInt(100)).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})

	err := store.CreateAccount(context.Background(), "alice", decimal.NewFromInt(100))
	assert.ErrorIs(t, err, storage.ErrAccountAlreadyExists)
}

func TestSQLStore_GetAccountForUpdate(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"login", "balance", "updated_at"}).
			AddRow("alice", "40.00", time.Now()))

	acct, err := store.GetAccountForUpdate(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", acct.Login)
	assert.True(t, acct.Balance.Equal(decimal.RequireFromString("40.00")))
}

func TestSQLStore_GetAccountForUpdate_NotFound(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"login", "balance", "updated_at"}))

	_, err := store.GetAccountForUpdate(context.Background(), "ghost")
	assert.ErrorIs(t, err, storage.ErrAccountNotFound)
}

func TestSQLStore_UpdateAccountBalance_NotFound(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE accounts SET balance")).
		WithArgs(decimal.NewFromInt(50), "ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.UpdateAccountBalance(context.Background(), "ghost", decimal.NewFromInt(50))
	assert.ErrorIs(t, err, storage.ErrAccountNotFound)
}

func TestSQLStore_AppendEvent(t *testing.T) {
	store, mock := newTestStore(t)

	event := storage.EventRecord{
		ID:          uuid.New(),
		OperationID: uuid.New(),
		EventType:   "BALANCE_CHANGED",
		Target:      "accounts",
		Payload:     []byte(`{"schema_version":1}`),
		CreatedAt:   time.Now().UTC(),
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO outbox_events")).
		WithArgs(event.ID, event.OperationID, event.EventType, event.Target,
			event.Payload, []byte(nil), storage.StatusPending, event.CreatedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.AppendEvent(context.Background(), &event)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_AppendEvent_Duplicate(t *testing.T) {
	store, mock := newTestStore(t)

	event := storage.EventRecord{ID: uuid.New(), OperationID: uuid.New()}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO outbox_events")).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})

	err := store.AppendEvent(context.Background(), &event)
	assert.ErrorIs(t, err, storage.ErrEventAlreadyExists)
}

func TestSQLStore_ClaimBatch(t *testing.T) {
	store, mock := newTestStore(t)

	firstID := uuid.New()
	secondID := uuid.New()
	createdAt := time.Now().UTC().Add(-time.Minute)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE SKIP LOCKED")).
		WithArgs(storage.StatusPending, sqlmock.AnyArg(), 10).
		WillReturnRows(sqlmock.NewRows(eventColumns).
			AddRow(firstID.String(), uuid.New().String(), "BALANCE_CHANGED", "accounts",
				[]byte(`{}`), nil, storage.StatusPending, 0, nil, createdAt).
			AddRow(secondID.String(), uuid.New().String(), "TRANSFER_COMPLETED", "notifications",
				[]byte(`{}`), nil, storage.StatusPending, 2, "downstream unavailable", createdAt))
	mock.ExpectExec(regexp.QuoteMeta("SET lease_expires_at")).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), firstID, secondID).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	events, err := store.ClaimBatch(context.Background(), 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, firstID, events[0].ID)
	assert.Equal(t, secondID, events[1].ID)
	assert.Equal(t, 2, events[1].AttemptCount)
	assert.Equal(t, "downstream unavailable", events[1].LastError)
	require.NotNil(t, events[0].LeaseExpiresAt)
	assert.WithinDuration(t, time.Now().UTC().Add(time.Minute), *events[0].LeaseExpiresAt, 10*time.Second)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_ClaimBatch_Empty(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE SKIP LOCKED")).
		WithArgs(storage.StatusPending, sqlmock.AnyArg(), 10).
		WillReturnRows(sqlmock.NewRows(eventColumns))
	mock.ExpectRollback()

	events, err := store.ClaimBatch(context.Background(), 10, time.Minute)
	assert.NoError(t, err)
	assert.Empty(t, events)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_ClaimBatch_QueryError(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE SKIP LOCKED")).
		WillReturnError(errors.New("lock wait timeout"))
	mock.ExpectRollback()

	_, err := store.ClaimBatch(context.Background(), 10, time.Minute)
	assert.Error(t, err)
}

func TestSQLStore_MarkPublished(t *testing.T) {
	store, mock := newTestStore(t)

	eventID := uuid.New()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE outbox_events SET status")).
		WithArgs(storage.StatusPublished, sqlmock.AnyArg(), eventID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.MarkPublished(context.Background(), eventID)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_MarkFailedPermanent(t *testing.T) {
	store, mock := newTestStore(t)

	// Parking counts as the final attempt, so the stored attempt_count
	// matches the number of deliveries actually made.
	eventID := uuid.New()
	mock.ExpectExec(regexp.QuoteMeta("SET status = ?, last_error = ?, attempt_count = attempt_count + 1")).
		WithArgs(storage.StatusFailedPermanent, "max attempts reached", sqlmock.AnyArg(), eventID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.MarkFailedPermanent(context.Background(), eventID, "max attempts reached")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_ReleaseForRetry(t *testing.T) {
	store, mock := newTestStore(t)

	eventID := uuid.New()
	mock.ExpectExec(regexp.QuoteMeta("attempt_count = attempt_count + 1")).
		WithArgs("downstream unavailable", sqlmock.AnyArg(), eventID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.ReleaseForRetry(context.Background(), eventID, "downstream unavailable")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_ListFailedPermanent(t *testing.T) {
	store, mock := newTestStore(t)

	eventID := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE status = ?")).
		WithArgs(storage.StatusFailedPermanent, 50).
		WillReturnRows(sqlmock.NewRows(eventColumns).
			AddRow(eventID.String(), uuid.New().String(), "NOTIFY", "notifications",
				[]byte(`{}`), nil, storage.StatusFailedPermanent, 5, "gave up", time.Now()))

	events, err := store.ListFailedPermanent(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, eventID, events[0].ID)
	assert.Equal(t, "gave up", events[0].LastError)
}

func TestSQLStore_DeletePublishedBefore(t *testing.T) {
	store, mock := newTestStore(t)

	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM outbox_events")).
		WithArgs(storage.StatusPublished, cutoff).
		WillReturnResult(sqlmock.NewResult(0, 7))

	deleted, err := store.DeletePublishedBefore(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(7), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}
