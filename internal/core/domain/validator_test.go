package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_AcceptsSelectWithStarWarning(t *testing.T) {
	t.Parallel()
	res := NewQueryValidator().Validate("SELECT * FROM users WHERE id = 1;")

	assert.True(t, res.IsValid)
	assert.Empty(t, res.Errors)
	assert.Contains(t, res.Warnings, "Selecting all columns (SELECT *) can be inefficient")
}

func TestValidate_RejectsDrop(t *testing.T) {
	t.Parallel()
	res := NewQueryValidator().Validate("DROP TABLE users;")

	assert.False(t, res.IsValid)
	assert.Contains(t, res.Errors, "DROP statements are not allowed")
	assert.Contains(t, res.Errors, "Only SELECT queries and CTEs are supported for analysis")
}

// DELETE is rejected by two independent layers: the unqualified-DELETE
// pattern and the SELECT/WITH prefix requirement.
func TestValidate_DeleteLayers(t *testing.T) {
	t.Parallel()
	v := NewQueryValidator()

	t.Run("unqualified delete trips both layers", func(t *testing.T) {
		res := v.Validate("DELETE FROM users;")
		assert.False(t, res.IsValid)
		assert.Contains(t, res.Errors, "DELETE without WHERE clause is not allowed")
		assert.Contains(t, res.Errors, "Only SELECT queries and CTEs are supported for analysis")
	})

	t.Run("qualified delete passes the pattern but not the prefix check", func(t *testing.T) {
		res := v.Validate("DELETE FROM users WHERE id = 1;")
		assert.False(t, res.IsValid)
		assert.NotContains(t, res.Errors, "DELETE without WHERE clause is not allowed")
		assert.Equal(t, []string{"Only SELECT queries and CTEs are supported for analysis"}, res.Errors)
	})
}

func TestValidate_DangerousPatterns(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		sql   string
		error string
	}{
		{"truncate", "TRUNCATE users", "TRUNCATE statements are not allowed"},
		{"alter", "ALTER TABLE users ADD COLUMN x int", "ALTER statements are not allowed"},
		{"grant", "GRANT ALL ON users TO bob", "GRANT statements are not allowed"},
		{"revoke", "REVOKE ALL ON users FROM bob", "REVOKE statements are not allowed"},
		{"update without where", "UPDATE users SET name = 'x'", "UPDATE without WHERE clause is dangerous"},
		{"create table", "CREATE TABLE t (id int)", "CREATE statements (except INDEX) are not allowed"},
		{"create in cte", "WITH x AS (SELECT 1) SELECT * FROM x; CREATE TABLE t (id int)", "CREATE statements (except INDEX) are not allowed"},
	}
	v := NewQueryValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := v.Validate(tt.sql)
			assert.False(t, res.IsValid)
			assert.Contains(t, res.Errors, tt.error)
		})
	}
}

func TestValidate_AllowedShapes(t *testing.T) {
	t.Parallel()
	v := NewQueryValidator()
	for _, sql := range []string{
		"  select id from users  ",
		"WITH recent AS (SELECT id FROM orders) SELECT count(*) FROM recent",
		"SELECT id FROM users WHERE name LIKE 'abc%'",
	} {
		res := v.Validate(sql)
		assert.True(t, res.IsValid, "sql %q: %v", sql, res.Errors)
	}
}

func TestValidate_UpdateWithWhereIsNotFlaggedAsUnqualified(t *testing.T) {
	t.Parallel()
	res := NewQueryValidator().Validate("UPDATE users SET name = 'x' WHERE id = 1")
	assert.NotContains(t, res.Errors, "UPDATE without WHERE clause is dangerous")
	assert.False(t, res.IsValid)
}

func TestValidate_CreateIndexIsNotFlagged(t *testing.T) {
	t.Parallel()
	res := NewQueryValidator().Validate("CREATE UNIQUE INDEX idx ON users (email)")
	assert.NotContains(t, res.Errors, "CREATE statements (except INDEX) are not allowed")
}

func TestValidate_Warnings(t *testing.T) {
	t.Parallel()
	longList := "SELECT id FROM t WHERE id IN (" + strings.Repeat("1234567, ", 15) + "1)"
	tests := []struct {
		name    string
		sql     string
		warning string
		want    bool
	}{
		{"leading wildcard", "SELECT id FROM users WHERE name LIKE '%bob'", "Leading wildcard in LIKE prevents index usage", true},
		{"not like is exempt", "SELECT id FROM users WHERE name NOT LIKE '%bob'", "Leading wildcard in LIKE prevents index usage", false},
		{"or", "SELECT id FROM users WHERE a = 1 OR b = 2", "OR conditions may prevent index optimization", true},
		{"order is not or", "SELECT id FROM users ORDER BY id", "OR conditions may prevent index optimization", false},
		{"large in", longList, "Large IN clause might be slow", true},
		{"small in", "SELECT id FROM t WHERE id IN (1, 2, 3)", "Large IN clause might be slow", false},
	}
	v := NewQueryValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := v.Validate(tt.sql)
			assert.True(t, res.IsValid, res.Errors)
			if tt.want {
				assert.Contains(t, res.Warnings, tt.warning)
			} else {
				assert.NotContains(t, res.Warnings, tt.warning)
			}
		})
	}
}

func TestValidate_EmptyAndUnparseable(t *testing.T) {
	t.Parallel()
	v := NewQueryValidator()

	res := v.Validate("   ")
	assert.False(t, res.IsValid)
	assert.Equal(t, []string{"Query is empty"}, res.Errors)

	res = v.Validate("SELECT FROM WHERE (")
	assert.False(t, res.IsValid)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "could not be parsed")

	res = v.Validate("SELECT 1; SELECT 2")
	assert.False(t, res.IsValid)
	assert.Contains(t, res.Errors, ErrMultiStatement.Error())
}

func TestExtractTables(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		sql  string
		want []string
	}{
		{"single", "SELECT * FROM users", []string{"users"}},
		{"join and qualified", "SELECT * FROM app.orders o JOIN customers c ON c.id = o.customer_id", []string{"app.orders", "customers"}},
		{"dedup and case", "select * from users u join users v on u.id = v.parent_id", []string{"users"}},
		{"subquery", "SELECT * FROM (SELECT id FROM events) e", []string{"events"}},
		{"none", "SELECT 1", []string{}},
		// Known false positive: EXTRACT(... FROM col).
		{"extract false positive", "SELECT EXTRACT(year FROM created_at) FROM logs", []string{"created_at", "logs"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractTables(tt.sql))
		})
	}
}

func TestValidateIndexDDL(t *testing.T) {
	t.Parallel()

	schema, table, err := ValidateIndexDDL("CREATE INDEX idx_orders_status ON sandbox_1.orders (status)")
	require.NoError(t, err)
	assert.Equal(t, "sandbox_1", schema)
	assert.Equal(t, "orders", table)

	schema, table, err = ValidateIndexDDL("CREATE UNIQUE INDEX ON users USING btree (email);")
	require.NoError(t, err)
	assert.Empty(t, schema)
	assert.Equal(t, "users", table)

	for _, bad := range []string{
		"DROP TABLE users",
		"CREATE INDEX a ON t (x); DROP TABLE t",
		"CREATE TABLE t (id int)",
		"not sql",
	} {
		_, _, err := ValidateIndexDDL(bad)
		assert.ErrorIs(t, err, ErrUnsafeDDL, bad)
	}
}

func TestFingerprint(t *testing.T) {
	t.Parallel()
	a := Fingerprint("SELECT id FROM users WHERE id = 1")
	b := Fingerprint("select id from users where id = 42")
	assert.NotEmpty(t, a)
	assert.Equal(t, a, b)
	assert.Empty(t, Fingerprint("SELECT FROM ("))
}
