package executor

import (
	"context"

	"github.com/querygate/querygate/internal/domain"
)

// Executor runs one submission variant against its target database.
// Implementations never return a Go error: driver and subprocess failures
// come back as a Success=false result so one bad execution cannot take down
// the worker loop.
type Executor interface {
	Execute(ctx context.Context, req *domain.ExecutionRequest) *domain.ExecutionResult
}

// Registry maps each submission variant to its executor. Built once at
// startup, one implementation per variant.
type Registry map[domain.SubmissionVariant]Executor

// For returns the executor for a request's variant.
func (r Registry) For(req *domain.ExecutionRequest) (Executor, bool) {
	e, ok := r[req.Variant()]
	return e, ok
}
