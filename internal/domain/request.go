package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RequestStatus represents the lifecycle state of an execution request.
type RequestStatus string

const (
	StatusPending   RequestStatus = "PENDING"
	StatusApproved  RequestStatus = "APPROVED"
	StatusExecuting RequestStatus = "EXECUTING"
	StatusExecuted  RequestStatus = "EXECUTED"
	StatusFailed    RequestStatus = "FAILED"
	StatusRejected  RequestStatus = "REJECTED"
	StatusWithdrawn RequestStatus = "WITHDRAWN"
)

// IsTerminal returns true if the status represents a final state.
func (s RequestStatus) IsTerminal() bool {
	switch s {
	case StatusExecuted, StatusFailed, StatusRejected, StatusWithdrawn:
		return true
	}
	return false
}

// SubmissionKind distinguishes plain queries from scripts.
type SubmissionKind string

const (
	KindQuery  SubmissionKind = "query"
	KindScript SubmissionKind = "script"
)

// DatabaseType identifies the target database engine.
type DatabaseType string

const (
	DBPostgres DatabaseType = "postgres"
	DBMongo    DatabaseType = "mongodb"
)

// SubmissionVariant is the dispatch tag for the executor registry. Exactly
// one executor implementation exists per variant.
type SubmissionVariant string

const (
	VariantPostgresQuery SubmissionVariant = "query-postgres"
	VariantMongoCommand  SubmissionVariant = "query-mongo"
	VariantScript        SubmissionVariant = "script"
)

// ResourceKey builds the serialization key for a target database. Executions
// sharing a key are never run concurrently. Scope is the whole database, not
// a table: scripts can touch arbitrary tables and static parsing of their
// exact table scope is not reliable.
func ResourceKey(dbType DatabaseType, instanceID, dbName string) string {
	return fmt.Sprintf("%s:%s:%s", dbType, instanceID, dbName)
}

// ExecutionRequest is the read model of an approved request, plus the
// execution fields this pipeline writes back. The approval workflow owns
// everything else about the record.
type ExecutionRequest struct {
	ID           uuid.UUID
	Kind         SubmissionKind
	DatabaseType DatabaseType
	InstanceID   string
	DatabaseName string

	// Connection coordinates, resolved at approval time.
	PostgresURL string
	MongoURL    string

	QueryText    string
	ScriptSource string

	Status RequestStatus

	// Execution outcome fields, written exactly once per terminal attempt.
	Result     string
	Compressed bool
	Error      string
	ExecutedAt *time.Time
}

// Variant maps the request's kind and database type onto the executor
// dispatch tag.
func (r *ExecutionRequest) Variant() SubmissionVariant {
	if r.Kind == KindScript {
		return VariantScript
	}
	if r.DatabaseType == DBMongo {
		return VariantMongoCommand
	}
	return VariantPostgresQuery
}

// ResourceKey derives the serialization key for this request's target.
func (r *ExecutionRequest) ResourceKey() string {
	return ResourceKey(r.DatabaseType, r.InstanceID, r.DatabaseName)
}
