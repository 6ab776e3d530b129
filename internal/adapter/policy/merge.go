package policy

import (
	"sort"
	"strings"

	"github.com/guillermoBallester/querytuner/internal/core/domain"
)

// MergeTableInfo enriches table metadata with business context from the
// policy. YAML descriptions are only applied when the existing Postgres
// comment is empty, so operator-set COMMENT ON values always take precedence.
func MergeTableInfo(info *domain.TableInfo, ctx ContextConfig) {
	if info == nil {
		return
	}
	tc, ok := lookup(ctx, info.Schema, info.Name)
	if !ok {
		return
	}

	if info.Comment == "" && tc.Description != "" {
		info.Comment = tc.Description
	}
	for i, col := range info.Columns {
		if cc, ok := tc.Columns[col.Name]; ok && col.Comment == "" && cc.Description != "" {
			info.Columns[i].Comment = cc.Description
		}
	}
}

// lookup finds the context for schema.table. Sandbox copies have no entry
// of their own and match the first source table with the same name.
func lookup(ctx ContextConfig, schema, table string) (TableContext, bool) {
	if tc, ok := ctx.Tables[schema+"."+table]; ok {
		return tc, true
	}
	if !domain.IsSandboxSchema(schema) {
		return TableContext{}, false
	}

	keys := make([]string, 0, len(ctx.Tables))
	for key := range ctx.Tables {
		if _, name, _ := strings.Cut(key, "."); name == table {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return TableContext{}, false
	}
	sort.Strings(keys)
	return ctx.Tables[keys[0]], true
}
