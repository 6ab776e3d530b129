package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/guillermoBallester/querytuner/internal/core/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// clientTimeoutSlack lets PostgreSQL cancel the statement before the Go
// context does, so the server reports 57014 instead of a dropped socket.
const clientTimeoutSlack = 2 * time.Second

const sqlstateQueryCanceled = "57014"

// ExecuteWithPlan runs EXPLAIN (ANALYZE, BUFFERS, FORMAT JSON) on sql.
// ANALYZE executes the statement, so it runs in a read-only transaction
// that is rolled back whatever the outcome.
func (g *Gateway) ExecuteWithPlan(ctx context.Context, sql string, timeout time.Duration) (*domain.ExplainResult, error) {
	stmt := strings.TrimRight(strings.TrimSpace(sql), "; \t\n")
	if stmt == "" {
		return nil, domain.ErrEmptyQuery
	}

	var result *domain.ExplainResult
	err := g.withConn(ctx, func(conn *pgx.Conn) error {
		qctx, cancel := context.WithTimeout(ctx, timeout+clientTimeoutSlack)
		defer cancel()

		tx, err := conn.BeginTx(qctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
		if err != nil {
			return &domain.QueryError{Err: fmt.Errorf("beginning transaction: %w", err)}
		}
		defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

		// SET LOCAL scopes the timeout to this transaction only.
		if _, err := tx.Exec(qctx, fmt.Sprintf("SET LOCAL statement_timeout = '%d'", timeout.Milliseconds())); err != nil {
			return &domain.QueryError{Err: fmt.Errorf("setting statement timeout: %w", err)}
		}

		var raw []byte
		if err := tx.QueryRow(qctx, "EXPLAIN (ANALYZE, BUFFERS, FORMAT JSON) "+stmt).Scan(&raw); err != nil {
			return classifyQueryError(err, timeout)
		}

		plan, err := domain.ParseExplainJSON(raw)
		if err != nil {
			return &domain.QueryError{Err: fmt.Errorf("parsing plan: %w", err)}
		}
		result = &domain.ExplainResult{
			Plan:            plan,
			ExecutionTimeMS: plan.ExecutionTime,
			PlanningTimeMS:  plan.PlanningTime,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// classifyQueryError turns a statement cancellation into QueryTimeoutError
// and anything else into QueryError.
func classifyQueryError(err error, timeout time.Duration) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == sqlstateQueryCanceled {
		return &domain.QueryTimeoutError{Timeout: timeout}
	}
	if pgconn.Timeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return &domain.QueryTimeoutError{Timeout: timeout}
	}
	return &domain.QueryError{Err: err}
}
