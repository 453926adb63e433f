package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	trmsql "github.com/avito-tech/go-transaction-manager/drivers/sql/v2"
	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/korvan/moneybox/storage"
)

const (
	tableAccounts   = "accounts"
	tableOperations = "operations"
	tableEvents     = "outbox_events"
)

// SQL queries
const (
	createAccountQuery = `INSERT INTO %s (login, balance) VALUES (?, ?)`

	getAccountForUpdateQuery = `
		SELECT login, balance, updated_at
		FROM %s
		WHERE login = ?
		FOR UPDATE`

	updateBalanceQuery = `UPDATE %s SET balance = ? WHERE login = ?`

	createOperationQuery = `
		INSERT INTO %s (id, login, counterparty_login, kind, amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	appendEventQuery = `
		INSERT INTO %s (id, operation_id, event_type, target, payload, headers, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	claimSelectQuery = `
		SELECT id, operation_id, event_type, target, payload, headers, status, attempt_count, last_error, created_at
		FROM %s
		WHERE status = ? AND (lease_expires_at IS NULL OR lease_expires_at <= ?)
		ORDER BY created_at, id
		LIMIT ?
		FOR UPDATE SKIP LOCKED`

	claimUpdateQuery = `UPDATE %s SET lease_expires_at = ?, last_attempt_at = ? WHERE id IN (%s)`

	markPublishedQuery = `UPDATE %s SET status = ?, published_at = ? WHERE id = ?`

	markFailedQuery = `
		UPDATE %s
		SET status = ?, last_error = ?, attempt_count = attempt_count + 1, last_attempt_at = ?
		WHERE id = ?`

	releaseForRetryQuery = `
		UPDATE %s
		SET attempt_count = attempt_count + 1, last_error = ?, last_attempt_at = ?
		WHERE id = ?`

	listFailedQuery = `
		SELECT id, operation_id, event_type, target, payload, headers, status, attempt_count, last_error, created_at
		FROM %s
		WHERE status = ?
		ORDER BY created_at, id
		LIMIT ?`

	deletePublishedQuery = `DELETE FROM %s WHERE status = ? AND published_at < ?`
)

// SQLStore is the MySQL implementation of storage.Store. Write methods
// resolve the ambient transaction from the context when the caller runs
// inside a transaction manager scope, and fall back to the bare pool
// otherwise.
type SQLStore struct {
	db     *sql.DB
	getter *trmsql.CtxGetter
	logger *zap.Logger
}

func NewSQLStore(db *sql.DB, logger *zap.Logger) *SQLStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLStore{
		db:     db,
		getter: trmsql.DefaultCtxGetter,
		logger: logger,
	}
}

func (s *SQLStore) CreateAccount(ctx context.Context, login string, balance decimal.Decimal) error {
	query := fmt.Sprintf(createAccountQuery, tableAccounts)
	_, err := s.getter.DefaultTrOrDB(ctx, s.db).ExecContext(ctx, query, login, balance)
	if err != nil {
		if isDuplicateKey(err) {
			return storage.ErrAccountAlreadyExists
		}
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (s *SQLStore) GetAccountForUpdate(ctx context.Context, login string) (storage.AccountRecord, error) {
	query := fmt.Sprintf(getAccountForUpdateQuery, tableAccounts)
	row := s.getter.DefaultTrOrDB(ctx, s.db).QueryRowContext(ctx, query, login)

	var acct storage.AccountRecord
	if err := row.Scan(&acct.Login, &acct.Balance, &acct.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.AccountRecord{}, storage.ErrAccountNotFound
		}
		return storage.AccountRecord{}, fmt.Errorf("failed to read account: %w", err)
	}
	return acct, nil
}

func (s *SQLStore) UpdateAccountBalance(ctx context.Context, login string, balance decimal.Decimal) error {
	query := fmt.Sprintf(updateBalanceQuery, tableAccounts)
	res, err := s.getter.DefaultTrOrDB(ctx, s.db).ExecContext(ctx, query, balance, login)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return storage.ErrAccountNotFound
	}
	return nil
}

func (s *SQLStore) CreateOperation(ctx context.Context, op *storage.OperationRecord) error {
	query := fmt.Sprintf(createOperationQuery, tableOperations)
	_, err := s.getter.DefaultTrOrDB(ctx, s.db).ExecContext(ctx, query,
		op.ID,
		op.Login,
		nullString(op.CounterpartyLogin),
		op.Kind,
		op.Amount,
		op.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create operation: %w", err)
	}
	return nil
}

func (s *SQLStore) AppendEvent(ctx context.Context, event *storage.EventRecord) error {
	query := fmt.Sprintf(appendEventQuery, tableEvents)
	_, err := s.getter.DefaultTrOrDB(ctx, s.db).ExecContext(ctx, query,
		event.ID,
		event.OperationID,
		event.EventType,
		event.Target,
		event.Payload,
		nullBytes(event.Headers),
		storage.StatusPending,
		event.CreatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return storage.ErrEventAlreadyExists
		}
		return fmt.Errorf("failed to append outbox event: %w", err)
	}
	return nil
}

// ClaimBatch selects claimable rows under FOR UPDATE SKIP LOCKED and stamps
// the lease before committing, so a concurrent dispatcher replica can never
// claim the same rows.
func (s *SQLStore) ClaimBatch(ctx context.Context, limit int, leaseTimeout time.Duration) ([]storage.EventRecord, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	query := fmt.Sprintf(claimSelectQuery, tableEvents)
	rows, err := tx.QueryContext(ctx, query, storage.StatusPending, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query claimable events: %w", err)
	}

	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}

	leaseExpiresAt := now.Add(leaseTimeout)
	placeholders := strings.Repeat("?,", len(events)-1) + "?"
	update := fmt.Sprintf(claimUpdateQuery, tableEvents, placeholders)

	args := make([]interface{}, 0, len(events)+2)
	args = append(args, leaseExpiresAt, now)
	for i := range events {
		args = append(args, events[i].ID)
		events[i].LeaseExpiresAt = &leaseExpiresAt
	}

	if _, err := tx.ExecContext(ctx, update, args...); err != nil {
		return nil, fmt.Errorf("failed to stamp lease: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim transaction: %w", err)
	}
	return events, nil
}

func (s *SQLStore) MarkPublished(ctx context.Context, eventID uuid.UUID) error {
	query := fmt.Sprintf(markPublishedQuery, tableEvents)
	_, err := s.db.ExecContext(ctx, query, storage.StatusPublished, time.Now().UTC(), eventID)
	return err
}

// MarkFailedPermanent parks the event and records the final attempt, so
// attempt_count reflects every delivery that was actually made.
func (s *SQLStore) MarkFailedPermanent(ctx context.Context, eventID uuid.UUID, reason string) error {
	query := fmt.Sprintf(markFailedQuery, tableEvents)
	_, err := s.db.ExecContext(ctx, query, storage.StatusFailedPermanent, reason, time.Now().UTC(), eventID)
	return err
}

func (s *SQLStore) ReleaseForRetry(ctx context.Context, eventID uuid.UUID, reason string) error {
	query := fmt.Sprintf(releaseForRetryQuery, tableEvents)
	_, err := s.db.ExecContext(ctx, query, reason, time.Now().UTC(), eventID)
	return err
}

func (s *SQLStore) ListFailedPermanent(ctx context.Context, limit int) ([]storage.EventRecord, error) {
	query := fmt.Sprintf(listFailedQuery, tableEvents)
	rows, err := s.db.QueryContext(ctx, query, storage.StatusFailedPermanent, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query failed events: %w", err)
	}
	return scanEvents(rows)
}

func (s *SQLStore) DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := fmt.Sprintf(deletePublishedQuery, tableEvents)
	res, err := s.db.ExecContext(ctx, query, storage.StatusPublished, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanEvents(rows *sql.Rows) ([]storage.EventRecord, error) {
	defer rows.Close()

	var events []storage.EventRecord
	for rows.Next() {
		var (
			event     storage.EventRecord
			headers   []byte
			lastError sql.NullString
		)
		if err := rows.Scan(
			&event.ID,
			&event.OperationID,
			&event.EventType,
			&event.Target,
			&event.Payload,
			&headers,
			&event.Status,
			&event.AttemptCount,
			&lastError,
			&event.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		event.Headers = headers
		event.LastError = lastError.String
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error reading event rows: %w", err)
	}
	return events, nil
}

func isDuplicateKey(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 // duplicate entry
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

// EnsureTables creates the backing tables if they do not exist.
func (s *SQLStore) EnsureTables(ctx context.Context) error {
	for _, create := range []func(context.Context) error{
		s.createAccountsTable,
		s.createOperationsTable,
		s.createOutboxEventsTable,
	} {
		if err := create(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) createAccountsTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS accounts (
			login      VARCHAR(64)    NOT NULL PRIMARY KEY,
			balance    DECIMAL(19,4)  NOT NULL DEFAULT 0,
			created_at TIMESTAMP(6)   NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
			updated_at TIMESTAMP(6)   NOT NULL DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create accounts table: %w", err)
	}
	return nil
}

func (s *SQLStore) createOperationsTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS operations (
			id                 CHAR(36)      NOT NULL PRIMARY KEY,
			login              VARCHAR(64)   NOT NULL,
			counterparty_login VARCHAR(64)   NULL,
			kind               VARCHAR(16)   NOT NULL,
			amount             DECIMAL(19,4) NOT NULL,
			created_at         TIMESTAMP(6)  NOT NULL,
			INDEX idx_login_created (login, created_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create operations table: %w", err)
	}
	return nil
}

func (s *SQLStore) createOutboxEventsTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS outbox_events (
			id               CHAR(36)     NOT NULL PRIMARY KEY,
			operation_id     CHAR(36)     NOT NULL,
			event_type       VARCHAR(64)  NOT NULL,
			target           VARCHAR(64)  NOT NULL,
			payload          JSON         NOT NULL,
			headers          JSON         NULL,
			status           VARCHAR(20)  NOT NULL DEFAULT 'PENDING',
			attempt_count    INT          NOT NULL DEFAULT 0,
			last_error       TEXT         NULL,
			lease_expires_at TIMESTAMP(6) NULL,
			created_at       TIMESTAMP(6) NOT NULL,
			last_attempt_at  TIMESTAMP(6) NULL,
			published_at     TIMESTAMP(6) NULL,
			INDEX idx_status_lease (status, lease_expires_at),
			INDEX idx_status_published (status, published_at),
			INDEX idx_created_at (created_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create outbox_events table: %w", err)
	}
	return nil
}
