package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/guillermoBallester/querytuner/internal/core/domain"
	"github.com/jackc/pgx/v5"
)

// CreateSandbox creates the schema if it does not already exist.
func (g *Gateway) CreateSandbox(ctx context.Context, name string) error {
	if err := checkSandboxName(name); err != nil {
		return &domain.SandboxError{Op: "create", Schema: name, Err: err}
	}
	err := g.withConn(ctx, func(conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{name}.Sanitize())
		return err
	})
	if err != nil {
		return &domain.SandboxError{Op: "create", Schema: name, Err: err}
	}
	g.logger.Debug("sandbox created", slog.String("schema", name))
	return nil
}

// DestroySandbox drops the schema with CASCADE. Only sandbox-prefixed names
// are accepted so a bad name can never drop a user schema.
func (g *Gateway) DestroySandbox(ctx context.Context, name string) error {
	if err := checkSandboxName(name); err != nil {
		return &domain.SandboxError{Op: "destroy", Schema: name, Err: err}
	}
	err := g.withConn(ctx, func(conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, "DROP SCHEMA IF EXISTS "+pgx.Identifier{name}.Sanitize()+" CASCADE")
		return err
	})
	if err != nil {
		return &domain.SandboxError{Op: "destroy", Schema: name, Err: err}
	}
	g.logger.Debug("sandbox destroyed", slog.String("schema", name))
	return nil
}

// CloneTable copies structure with defaults, generation expressions and
// storage settings, then the rows of every non-generated column. Unqualified sources are read from
// the default schema.
func (g *Gateway) CloneTable(ctx context.Context, src domain.TableRef, targetSchema string, rowLimit int) error {
	if err := checkSandboxName(targetSchema); err != nil {
		return &domain.SandboxError{Op: "clone " + src.String(), Schema: targetSchema, Err: err}
	}
	sourceSchema := src.SourceSchema()
	source := pgx.Identifier{sourceSchema, src.Name}.Sanitize()
	target := pgx.Identifier{targetSchema, src.Name}.Sanitize()

	err := g.withConn(ctx, func(conn *pgx.Conn) error {
		// Source indexes are not copied: the clone starts index-free.
		create := fmt.Sprintf("CREATE TABLE %s (LIKE %s INCLUDING DEFAULTS INCLUDING GENERATED INCLUDING STORAGE)", target, source)
		if _, err := conn.Exec(ctx, create); err != nil {
			return fmt.Errorf("creating table: %w", err)
		}

		cols, err := insertableColumns(ctx, conn, sourceSchema, src.Name)
		if err != nil {
			return err
		}
		if len(cols) == 0 {
			return nil
		}

		colList := strings.Join(cols, ", ")
		insert := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s", target, colList, colList, source)
		var args []any
		if rowLimit > 0 {
			insert += " LIMIT $1"
			args = append(args, rowLimit)
		}
		tag, err := conn.Exec(ctx, insert, args...)
		if err != nil {
			return fmt.Errorf("copying rows: %w", err)
		}

		// Fresh statistics so the planner sees the clone the way it sees the source.
		if _, err := conn.Exec(ctx, "ANALYZE "+target); err != nil {
			return fmt.Errorf("analyzing clone: %w", err)
		}
		g.logger.Debug("table cloned",
			slog.String("source", sourceSchema+"."+src.Name),
			slog.String("schema", targetSchema),
			slog.Int64("rows", tag.RowsAffected()),
		)
		return nil
	})
	if err != nil {
		return &domain.SandboxError{Op: "clone " + src.String(), Schema: targetSchema, Err: err}
	}
	return nil
}

func insertableColumns(ctx context.Context, conn *pgx.Conn, schema, table string) ([]string, error) {
	rows, err := conn.Query(ctx, queryInsertableColumns, schema, table)
	if err != nil {
		return nil, fmt.Errorf("querying columns: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scanning columns: %w", err)
	}
	cols := make([]string, len(names))
	for i, n := range names {
		cols[i] = pgx.Identifier{n}.Sanitize()
	}
	return cols, nil
}

// CreateIndex rewrites ddl onto the sandbox schema and executes it. The
// rewritten statement must parse as a single CREATE INDEX whose target is
// inside schema; anything else is refused before it reaches the database.
func (g *Gateway) CreateIndex(ctx context.Context, schema, ddl string, refs []domain.TableRef) (string, error) {
	if err := checkSandboxName(schema); err != nil {
		return "", &domain.SandboxError{Op: "create index", Schema: schema, Err: err}
	}
	rewritten := g.rewriter.RewriteIndexDDL(strings.TrimSpace(ddl), refs, schema)

	target, _, err := domain.ValidateIndexDDL(rewritten)
	if err != nil {
		return rewritten, &domain.SandboxError{Op: "create index", Schema: schema, Err: err}
	}
	if target != schema {
		return rewritten, &domain.SandboxError{
			Op:     "create index",
			Schema: schema,
			Err:    fmt.Errorf("%w: statement targets schema %q after rewriting", domain.ErrUnsafeDDL, target),
		}
	}

	err = g.withConn(ctx, func(conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, rewritten)
		return err
	})
	if err != nil {
		return rewritten, &domain.SandboxError{Op: "create index", Schema: schema, Err: err}
	}
	g.logger.Debug("sandbox index created", slog.String("schema", schema), slog.String("ddl", rewritten))
	return rewritten, nil
}

func checkSandboxName(name string) error {
	if !domain.IsSandboxSchema(name) {
		return fmt.Errorf("schema %q is not a sandbox schema", name)
	}
	return nil
}
