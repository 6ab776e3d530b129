package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/guillermoBallester/querytuner/internal/core/domain"
	"github.com/jackc/pgx/v5"
)

// DescribeTable returns columns, existing indexes and the planner row
// estimate. An empty schema is resolved against the configured schemas,
// preferring public.
func (g *Gateway) DescribeTable(ctx context.Context, schema, table string) (*domain.TableInfo, error) {
	var info *domain.TableInfo
	err := g.withConn(ctx, func(conn *pgx.Conn) error {
		var err error
		if schema == "" {
			schema, err = g.resolveSchema(ctx, conn, table)
			if err != nil {
				return err
			}
		}
		info = &domain.TableInfo{Schema: schema, Name: table}

		info.Comment, err = fetchTableComment(ctx, conn, schema, table)
		if err != nil {
			return err
		}

		if err := conn.QueryRow(ctx, queryRowEstimate, schema, table).Scan(&info.RowCount); err != nil {
			// Non-fatal: views have no meaningful estimate.
			info.RowCount = 0
		}

		info.Columns, err = fetchColumns(ctx, conn, schema, table)
		if err != nil {
			return err
		}

		// Non-fatal: stats are missing until the table is analyzed.
		if err := fetchColumnStats(ctx, conn, schema, table, info.Columns, info.RowCount); err != nil {
			g.logger.Debug("column stats unavailable",
				"table", info.QualifiedName(),
				"error", err,
			)
		}

		info.Indexes, err = fetchIndexes(ctx, conn, schema, table)
		return err
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

func (g *Gateway) resolveSchema(ctx context.Context, conn *pgx.Conn, table string) (string, error) {
	filter, filterArgs := schemaFilter(g.schemas, "t.table_schema", 2) // $1 is table
	query := fmt.Sprintf(queryResolveSchema, filter)

	args := make([]any, 0, 1+len(filterArgs))
	args = append(args, table)
	args = append(args, filterArgs...)

	var schema string
	if err := conn.QueryRow(ctx, query, args...).Scan(&schema); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if len(g.schemas) > 0 {
				return "", fmt.Errorf("table %q %w in schemas %v", table, domain.ErrNotFound, g.schemas)
			}
			return "", fmt.Errorf("table %q %w", table, domain.ErrNotFound)
		}
		return "", fmt.Errorf("resolving schema for %q: %w", table, err)
	}
	return schema, nil
}

func fetchTableComment(ctx context.Context, conn *pgx.Conn, schema, table string) (string, error) {
	var comment string
	err := conn.QueryRow(ctx, queryTableComment, schema, table).Scan(&comment)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("table %q %w in schema %q", table, domain.ErrNotFound, schema)
		}
		return "", fmt.Errorf("querying table %q in schema %q: %w", table, schema, err)
	}
	return comment, nil
}

func fetchColumns(ctx context.Context, conn *pgx.Conn, schema, table string) ([]domain.ColumnInfo, error) {
	rows, err := conn.Query(ctx, queryColumns, schema, table)
	if err != nil {
		return nil, fmt.Errorf("querying columns: %w", err)
	}
	defer rows.Close()

	cols := []domain.ColumnInfo{}
	for rows.Next() {
		var col domain.ColumnInfo
		if err := rows.Scan(&col.Name, &col.DataType, &col.Nullable, &col.Comment); err != nil {
			return nil, fmt.Errorf("scanning column: %w", err)
		}
		cols = append(cols, col)
	}
	return cols, rows.Err()
}

func fetchIndexes(ctx context.Context, conn *pgx.Conn, schema, table string) ([]domain.IndexInfo, error) {
	rows, err := conn.Query(ctx, queryIndexes, schema, table)
	if err != nil {
		return nil, fmt.Errorf("querying indexes: %w", err)
	}
	defer rows.Close()

	idxs := []domain.IndexInfo{}
	for rows.Next() {
		var idx domain.IndexInfo
		if err := rows.Scan(&idx.Name, &idx.Definition); err != nil {
			return nil, fmt.Errorf("scanning index: %w", err)
		}
		idxs = append(idxs, idx)
	}
	return idxs, rows.Err()
}

// fetchColumnStats enriches columns with null fraction, distinct count and
// a selectivity hint from pg_stats.
func fetchColumnStats(ctx context.Context, conn *pgx.Conn, schema, table string, columns []domain.ColumnInfo, rowEstimate int64) error {
	rows, err := conn.Query(ctx, queryColumnStats, schema, table)
	if err != nil {
		return fmt.Errorf("querying column stats: %w", err)
	}
	defer rows.Close()

	type colStats struct {
		nullFrac float64
		distinct int64
	}
	stats := make(map[string]colStats)
	for rows.Next() {
		var (
			attname   string
			nullFrac  float64
			nDistinct float64
		)
		if err := rows.Scan(&attname, &nullFrac, &nDistinct); err != nil {
			return fmt.Errorf("scanning column stats: %w", err)
		}
		stats[attname] = colStats{nullFrac: nullFrac, distinct: domain.DistinctToAbsolute(nDistinct, rowEstimate)}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating column stats: %w", err)
	}

	for i := range columns {
		s, ok := stats[columns[i].Name]
		if !ok {
			continue
		}
		nf, dc := s.nullFrac, s.distinct
		columns[i].NullFraction = &nf
		columns[i].DistinctCount = &dc
		columns[i].Selectivity = domain.ClassifySelectivity(dc, rowEstimate)
	}
	return nil
}
