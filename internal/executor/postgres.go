package executor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/querygate/querygate/internal/domain"
)

// PostgresExecutor runs approved relational queries against the request's
// target instance through a pooled connection.
type PostgresExecutor struct {
	queryTimeout time.Duration
	logger       *zap.Logger

	mu    sync.Mutex
	pools map[string]*pgxpool.Pool // connection URL -> pool
}

// NewPostgresExecutor creates a relational query executor. Each distinct
// target URL gets one lazily-created pool, reused across executions.
func NewPostgresExecutor(queryTimeout time.Duration, logger *zap.Logger) *PostgresExecutor {
	return &PostgresExecutor{
		queryTimeout: queryTimeout,
		logger:       logger,
		pools:        make(map[string]*pgxpool.Pool),
	}
}

var _ Executor = (*PostgresExecutor)(nil)

// Execute runs the query under a per-query deadline so a slow target cannot
// pin a worker slot indefinitely. Driver errors come back as failed results.
func (e *PostgresExecutor) Execute(ctx context.Context, req *domain.ExecutionRequest) (result *domain.ExecutionResult) {
	defer func() {
		if r := recover(); r != nil {
			result = domain.Failed(domain.NormalizeError(r))
		}
	}()

	queryCtx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()

	pool, err := e.pool(queryCtx, req.PostgresURL)
	if err != nil {
		return domain.Failed(domain.NormalizeError(err))
	}

	rows, err := pool.Query(queryCtx, req.QueryText)
	if err != nil {
		return domain.Failed(domain.NormalizeError(err))
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	header := make([]string, len(fields))
	for i, f := range fields {
		header[i] = f.Name
	}

	var sb strings.Builder
	rowCount := 0
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return domain.Failed(domain.NormalizeError(err))
		}
		cells := make([]string, len(values))
		for i, v := range values {
			if v == nil {
				cells[i] = "NULL"
			} else {
				cells[i] = fmt.Sprintf("%v", v)
			}
		}
		sb.WriteString(strings.Join(cells, " | "))
		sb.WriteByte('\n')
		rowCount++
	}
	if err := rows.Err(); err != nil {
		return domain.Failed(domain.NormalizeError(err))
	}

	// Statements that return no row set (INSERT/UPDATE/DDL) report the
	// command outcome instead of an empty table.
	if len(fields) == 0 {
		tag := rows.CommandTag()
		return domain.Succeeded(fmt.Sprintf("OK, %d rows affected", tag.RowsAffected()))
	}

	output := strings.Join(header, " | ") + "\n" + sb.String() + fmt.Sprintf("(%d rows)", rowCount)
	return domain.Succeeded(output)
}

func (e *PostgresExecutor) pool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if p, ok := e.pools[url]; ok {
		return p, nil
	}
	p, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect target postgres: %w", err)
	}
	e.pools[url] = p
	return p, nil
}

// Close releases every target pool. Shutdown path.
func (e *PostgresExecutor) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for url, p := range e.pools {
		p.Close()
		delete(e.pools, url)
	}
}
