package port

import "github.com/guillermoBallester/querytuner/internal/core/domain"

// QueryValidator statically checks SQL before it reaches a database.
type QueryValidator interface {
	Validate(sql string) domain.ValidationResult
}

// ReferenceRewriter retargets table references at a sandbox schema.
type ReferenceRewriter interface {
	RewriteQuery(sql string, refs []domain.TableRef, sandbox string) string
	RewriteIndexDDL(ddl string, refs []domain.TableRef, sandbox string) string
}
