package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// Querier is the subset of *pgxpool.Pool the store uses.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Schema statements for the Postgres store, applied in order.
var PostgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS cleanup_operation_state (
		operation_id       TEXT PRIMARY KEY,
		tenant             TEXT NOT NULL,
		target_folder_path TEXT NOT NULL,
		state              JSONB NOT NULL,
		updated_at         TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS cleanup_audit_record (
		id           BIGSERIAL PRIMARY KEY,
		operation_id TEXT NOT NULL,
		operation    TEXT NOT NULL,
		tenant       TEXT NOT NULL,
		exit_code    INTEGER NOT NULL,
		record       JSONB NOT NULL,
		started_at   TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS cleanup_audit_record_operation_idx ON cleanup_audit_record (operation_id)`,
	`CREATE TABLE IF NOT EXISTS cleanup_artifact (
		operation_id TEXT NOT NULL,
		kind         TEXT NOT NULL,
		schemas      JSONB NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (operation_id, kind)
	)`,
}

const (
	upsertStateSQL = `INSERT INTO cleanup_operation_state (operation_id, tenant, target_folder_path, state, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (operation_id) DO UPDATE SET
			state = EXCLUDED.state,
			updated_at = EXCLUDED.updated_at`

	selectStateSQL = `SELECT state FROM cleanup_operation_state WHERE operation_id = $1`

	deleteStateSQL = `DELETE FROM cleanup_operation_state WHERE operation_id = $1`

	insertRecordSQL = `INSERT INTO cleanup_audit_record (operation_id, operation, tenant, exit_code, record, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	upsertArtifactSQL = `INSERT INTO cleanup_artifact (operation_id, kind, schemas, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (operation_id, kind) DO UPDATE SET
			schemas = EXCLUDED.schemas,
			created_at = EXCLUDED.created_at`
)

// PostgresStore keeps states, records and artifacts in Postgres JSONB columns.
type PostgresStore struct {
	db     Querier
	logger *zap.Logger
	now    func() time.Time
}

// NewPostgresStore wraps db. Apply PostgresSchema before first use.
func NewPostgresStore(db Querier, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger, now: time.Now}
}

// SaveState upserts the state row.
func (s *PostgresStore) SaveState(ctx context.Context, state *State) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode operation state: %w", err)
	}
	if _, err := s.db.Exec(ctx, upsertStateSQL,
		state.OperationID, state.Tenant, state.TargetFolderPath, payload, state.UpdatedAt); err != nil {
		return fmt.Errorf("save operation state: %w", err)
	}
	return nil
}

// LoadState reads the state row.
func (s *PostgresStore) LoadState(ctx context.Context, operationID string) (*State, error) {
	var payload []byte
	err := s.db.QueryRow(ctx, selectStateSQL, operationID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load operation state: %w", err)
	}
	var state State
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, fmt.Errorf("decode operation state: %w", err)
	}
	return &state, nil
}

// ClearState deletes the state row.
func (s *PostgresStore) ClearState(ctx context.Context, operationID string) error {
	if _, err := s.db.Exec(ctx, deleteStateSQL, operationID); err != nil {
		return fmt.Errorf("clear operation state: %w", err)
	}
	return nil
}

// SaveRecord inserts a new audit row.
func (s *PostgresStore) SaveRecord(ctx context.Context, record *Record) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode audit record: %w", err)
	}
	if _, err := s.db.Exec(ctx, insertRecordSQL,
		record.OperationID, record.Operation, record.Tenant, record.ExitCode,
		payload, record.StartedAt, record.CompletedAt); err != nil {
		return fmt.Errorf("save audit record: %w", err)
	}
	s.logger.Info("Saved audit record",
		zap.String("operation_id", record.OperationID),
		zap.Int("exit_code", record.ExitCode))
	return nil
}

// SaveArtifact upserts the artifact row for (operationID, kind).
func (s *PostgresStore) SaveArtifact(ctx context.Context, operationID, kind string, schemas []Schema) error {
	payload, err := json.Marshal(schemas)
	if err != nil {
		return fmt.Errorf("encode %s artifact: %w", kind, err)
	}
	if _, err := s.db.Exec(ctx, upsertArtifactSQL, operationID, kind, payload, s.now().UTC()); err != nil {
		return fmt.Errorf("save %s artifact: %w", kind, err)
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
