package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/querygate/querygate/internal/codec"
	"github.com/querygate/querygate/internal/domain"
	"github.com/querygate/querygate/internal/repository"
)

var _ repository.RequestStore = (*pgRequestStore)(nil)

type pgRequestStore struct {
	pool *pgxpool.Pool
}

// NewRequestStore creates a Postgres-backed store over the
// execution_requests table owned by the approval workflow.
func NewRequestStore(pool *pgxpool.Pool) repository.RequestStore {
	return &pgRequestStore{pool: pool}
}

func (s *pgRequestStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.ExecutionRequest, error) {
	query := `
		SELECT id, kind, database_type, instance_id, database_name,
		       postgres_url, mongo_url, query_text, script_source,
		       status, result, compressed, error, executed_at
		FROM execution_requests
		WHERE id = $1`

	var req domain.ExecutionRequest
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&req.ID, &req.Kind, &req.DatabaseType, &req.InstanceID, &req.DatabaseName,
		&req.PostgresURL, &req.MongoURL, &req.QueryText, &req.ScriptSource,
		&req.Status, &req.Result, &req.Compressed, &req.Error, &req.ExecutedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get request: %w", err)
	}
	return &req, nil
}

func (s *pgRequestStore) TransitionStatus(ctx context.Context, id uuid.UUID, from, to domain.RequestStatus) error {
	query := `UPDATE execution_requests SET status = $1, updated_at = now() WHERE id = $2 AND status = $3`
	tag, err := s.pool.Exec(ctx, query, to, id, from)
	if err != nil {
		return fmt.Errorf("postgres: transition status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either the record vanished or its status changed under us.
		if _, getErr := s.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return domain.ErrStatusConflict
	}
	return nil
}

func (s *pgRequestStore) SetResult(ctx context.Context, id uuid.UUID, payload string, compressed bool, executedAt time.Time) error {
	query := `
		UPDATE execution_requests
		SET result = $1, compressed = $2, error = '', executed_at = $3, updated_at = now()
		WHERE id = $4`

	tag, err := s.pool.Exec(ctx, query, payload, compressed, executedAt, id)
	if err != nil {
		return fmt.Errorf("postgres: set result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRequestNotFound
	}
	return nil
}

func (s *pgRequestStore) SetError(ctx context.Context, id uuid.UUID, errText string, executedAt time.Time) error {
	query := `
		UPDATE execution_requests
		SET error = $1, result = '', compressed = false, executed_at = $2, updated_at = now()
		WHERE id = $3`

	tag, err := s.pool.Exec(ctx, query, errText, executedAt, id)
	if err != nil {
		return fmt.Errorf("postgres: set error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRequestNotFound
	}
	return nil
}

func (s *pgRequestStore) GetResult(ctx context.Context, id uuid.UUID) (string, error) {
	var payload string
	var compressed bool
	err := s.pool.QueryRow(ctx,
		`SELECT result, compressed FROM execution_requests WHERE id = $1`, id,
	).Scan(&payload, &compressed)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.ErrRequestNotFound
	}
	if err != nil {
		return "", fmt.Errorf("postgres: get result: %w", err)
	}

	return decodeResult(payload, compressed)
}

// decodeResult reverses the storage encoding the execute path applied.
func decodeResult(payload string, compressed bool) (string, error) {
	if !compressed {
		return payload, nil
	}
	return codec.Decompress(payload)
}
