package domain

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

var (
	ErrEmptyQuery     = errors.New("empty query")
	ErrNotFound       = errors.New("not found")
	ErrUnsafeDDL      = errors.New("only a single CREATE INDEX statement is allowed")
	ErrMultiStatement = errors.New("multiple statements are not allowed")
)

// ValidationResult is the outcome of a static safety check on SQL text.
// Errors block analysis; warnings are advisory and feed the AI prompt.
type ValidationResult struct {
	IsValid  bool     `json:"is_valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

type sqlPattern struct {
	re      *regexp.Regexp
	message string
}

var dangerousPatterns = []sqlPattern{
	{regexp.MustCompile(`(?i)\bDROP\s+`), "DROP statements are not allowed"},
	{regexp.MustCompile(`(?i)\bTRUNCATE\s+`), "TRUNCATE statements are not allowed"},
	{regexp.MustCompile(`(?i)\bDELETE\s+FROM\s+[\w."]+\s*(?:;|$)`), "DELETE without WHERE clause is not allowed"},
	{regexp.MustCompile(`(?i)\bALTER\s+`), "ALTER statements are not allowed"},
	{regexp.MustCompile(`(?i)\bGRANT\s+`), "GRANT statements are not allowed"},
	{regexp.MustCompile(`(?i)\bREVOKE\s+`), "REVOKE statements are not allowed"},
}

var performancePatterns = []sqlPattern{
	{regexp.MustCompile(`(?i)SELECT\s+\*`), "Selecting all columns (SELECT *) can be inefficient"},
	{regexp.MustCompile(`(?i)\bOR\b`), "OR conditions may prevent index optimization"},
	{regexp.MustCompile(`(?i)\bIN\s*\([^)]{100,}\)`), "Large IN clause might be slow"},
}

var (
	updatePattern   = regexp.MustCompile(`(?is)\bUPDATE\s+[\w."]+\s+SET\s+(.*)`)
	wherePattern    = regexp.MustCompile(`(?i)\bWHERE\b`)
	createPattern   = regexp.MustCompile(`(?i)\bCREATE\s+(\w+)(?:\s+(\w+))?`)
	leadingLikeExpr = regexp.MustCompile(`(?i)(\bNOT\s+)?\bI?LIKE\s+['"]%`)
)

// QueryValidator performs static safety and sanity checks on SQL text.
// The pattern checks are regex heuristics; the PostgreSQL parser is
// consulted only to reject unparseable input and multi-statement batches.
type QueryValidator struct{}

func NewQueryValidator() *QueryValidator {
	return &QueryValidator{}
}

// Validate checks the query for destructive statements, requires that it
// starts with SELECT or WITH, and collects performance warnings.
func (v *QueryValidator) Validate(sql string) ValidationResult {
	res := ValidationResult{Errors: []string{}, Warnings: []string{}}

	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		res.Errors = append(res.Errors, "Query is empty")
		return res
	}

	for _, p := range dangerousPatterns {
		if p.re.MatchString(sql) {
			res.Errors = append(res.Errors, p.message)
		}
	}
	if updateWithoutWhere(sql) {
		res.Errors = append(res.Errors, "UPDATE without WHERE clause is dangerous")
	}
	if disallowedCreate(sql) {
		res.Errors = append(res.Errors, "CREATE statements (except INDEX) are not allowed")
	}

	for _, p := range performancePatterns {
		if p.re.MatchString(sql) {
			res.Warnings = append(res.Warnings, p.message)
		}
	}
	if leadingWildcardLike(sql) {
		res.Warnings = append(res.Warnings, "Leading wildcard in LIKE prevents index usage")
	}

	upper := strings.ToUpper(trimmed)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		res.Errors = append(res.Errors, "Only SELECT queries and CTEs are supported for analysis")
	}

	if err := checkSingleStatement(trimmed); err != nil {
		res.Errors = append(res.Errors, err.Error())
	}

	res.IsValid = len(res.Errors) == 0
	return res
}

func updateWithoutWhere(sql string) bool {
	m := updatePattern.FindStringSubmatch(sql)
	if m == nil {
		return false
	}
	return !wherePattern.MatchString(m[1])
}

func disallowedCreate(sql string) bool {
	for _, m := range createPattern.FindAllStringSubmatch(sql, -1) {
		first := strings.ToUpper(m[1])
		if first == "INDEX" {
			continue
		}
		if first == "UNIQUE" && strings.ToUpper(m[2]) == "INDEX" {
			continue
		}
		return true
	}
	return false
}

func leadingWildcardLike(sql string) bool {
	for _, m := range leadingLikeExpr.FindAllStringSubmatch(sql, -1) {
		if m[1] == "" {
			return true
		}
	}
	return false
}

func checkSingleStatement(sql string) error {
	tree, err := pg_query.Parse(sql)
	if err != nil {
		return fmt.Errorf("Query could not be parsed: %w", err)
	}
	if len(tree.Stmts) > 1 {
		return ErrMultiStatement
	}
	return nil
}

var tableRefPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bFROM\s+([a-zA-Z_][a-zA-Z0-9_]*(?:\.[a-zA-Z_][a-zA-Z0-9_]*)?)`),
	regexp.MustCompile(`(?i)\bJOIN\s+([a-zA-Z_][a-zA-Z0-9_]*(?:\.[a-zA-Z_][a-zA-Z0-9_]*)?)`),
}

// ExtractTables returns the deduplicated, sorted identifiers that follow FROM
// or JOIN. This is a regex approximation, not a SQL parser: it misses tables
// in quoted identifiers and comma joins, and may return false positives such
// as the column in EXTRACT(year FROM col). Callers must tolerate both.
func ExtractTables(sql string) []string {
	seen := make(map[string]struct{})
	for _, re := range tableRefPatterns {
		for _, m := range re.FindAllStringSubmatch(sql, -1) {
			seen[m[1]] = struct{}{}
		}
	}
	tables := make([]string, 0, len(seen))
	for t := range seen {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	return tables
}

// ValidateIndexDDL asserts that ddl is exactly one CREATE INDEX statement and
// returns the schema and table it targets. An empty schema means unqualified.
func ValidateIndexDDL(ddl string) (schema, table string, err error) {
	tree, err := pg_query.Parse(strings.TrimSpace(ddl))
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrUnsafeDDL, err)
	}
	if len(tree.Stmts) != 1 || tree.Stmts[0].Stmt == nil {
		return "", "", ErrUnsafeDDL
	}
	idx := tree.Stmts[0].Stmt.GetIndexStmt()
	if idx == nil || idx.Relation == nil {
		return "", "", ErrUnsafeDDL
	}
	return idx.Relation.Schemaname, idx.Relation.Relname, nil
}

// Fingerprint returns the pg_query fingerprint of sql, or "" if it does not parse.
func Fingerprint(sql string) string {
	fp, err := pg_query.Fingerprint(sql)
	if err != nil {
		return ""
	}
	return fp
}
