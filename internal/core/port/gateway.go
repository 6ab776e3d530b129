package port

import (
	"context"
	"time"

	"github.com/guillermoBallester/querytuner/internal/core/domain"
)

// SandboxGateway is the only component that talks to the target database.
// Every call opens its own connection and releases it before returning.
type SandboxGateway interface {
	// ExecuteWithPlan runs EXPLAIN (ANALYZE, BUFFERS, FORMAT JSON) on sql
	// inside a read-only transaction that is always rolled back.
	ExecuteWithPlan(ctx context.Context, sql string, timeout time.Duration) (*domain.ExplainResult, error)

	// DescribeTable returns columns, indexes and the estimated row count.
	// It returns domain.ErrNotFound if the table does not exist.
	DescribeTable(ctx context.Context, schema, table string) (*domain.TableInfo, error)

	CreateSandbox(ctx context.Context, name string) error

	// DestroySandbox drops the schema and everything in it. Dropping a
	// schema that does not exist is not an error.
	DestroySandbox(ctx context.Context, name string) error

	// CloneTable copies the structure and data of src into targetSchema.
	// A rowLimit of zero copies every row.
	CloneTable(ctx context.Context, src domain.TableRef, targetSchema string, rowLimit int) error

	// CreateIndex rewrites ddl to target schema and executes it. The
	// returned string is the statement actually run.
	CreateIndex(ctx context.Context, schema, ddl string, refs []domain.TableRef) (string, error)

	// Ping checks connectivity and returns the server version.
	Ping(ctx context.Context) (string, error)
}
