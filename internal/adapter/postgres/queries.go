package postgres

// queryResolveSchema has one %s placeholder for the schema filter clause.
// $1 is always table_name; schema filter params start at $2.
const queryResolveSchema = `
	SELECT t.table_schema
	FROM information_schema.tables t
	WHERE t.table_name = $1
		AND %s
	ORDER BY t.table_schema = 'public' DESC, t.table_schema
	LIMIT 1`

// queryTableComment fetches the comment for a table with a known schema.
// $1 is schema_name, $2 is table_name. Returns no rows if the table is missing.
const queryTableComment = `
	SELECT COALESCE(pg_catalog.obj_description(c.oid, 'pg_class'), '')
	FROM pg_class c
	JOIN pg_namespace n ON n.oid = c.relnamespace
	WHERE n.nspname = $1 AND c.relname = $2`

const queryColumns = `
	SELECT
		c.column_name,
		c.data_type,
		c.is_nullable = 'YES',
		COALESCE(pg_catalog.col_description(
			(quote_ident(c.table_schema) || '.' || quote_ident(c.table_name))::regclass,
			c.ordinal_position
		), '')
	FROM information_schema.columns c
	WHERE c.table_schema = $1 AND c.table_name = $2
	ORDER BY c.ordinal_position`

// queryInsertableColumns lists columns that accept explicit values. Generated
// columns keep their expression through LIKE ... INCLUDING GENERATED and are
// recomputed on insert.
const queryInsertableColumns = `
	SELECT c.column_name
	FROM information_schema.columns c
	WHERE c.table_schema = $1 AND c.table_name = $2
		AND c.is_generated = 'NEVER'
	ORDER BY c.ordinal_position`

const queryIndexes = `
	SELECT indexname, indexdef
	FROM pg_indexes
	WHERE schemaname = $1 AND tablename = $2
	ORDER BY indexname`

// queryRowEstimate reads the planner's row estimate. reltuples is -1 for
// tables that have never been vacuumed or analyzed.
const queryRowEstimate = `
	SELECT GREATEST(c.reltuples, 0)::bigint
	FROM pg_class c
	JOIN pg_namespace n ON n.oid = c.relnamespace
	WHERE n.nspname = $1 AND c.relname = $2`

// queryColumnStats fetches pg_stats data for all columns in a table.
// $1 = schema, $2 = table_name.
const queryColumnStats = `
	SELECT s.attname, s.null_frac, s.n_distinct
	FROM pg_stats s
	WHERE s.schemaname = $1 AND s.tablename = $2
	ORDER BY s.attname`

const queryServerVersion = `SELECT version()`
