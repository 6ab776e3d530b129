package domain

import "strings"

// DefaultSchema is assumed for unqualified table references.
const DefaultSchema = "public"

// TableRef is a table reference as written in a query: optionally
// schema-qualified.
type TableRef struct {
	Schema string `json:"schema,omitempty"`
	Name   string `json:"name"`
}

// ParseTableRef splits "schema.table" into its parts. A bare name yields an
// empty schema.
func ParseTableRef(s string) TableRef {
	if schema, name, ok := strings.Cut(s, "."); ok {
		return TableRef{Schema: schema, Name: name}
	}
	return TableRef{Name: s}
}

// ParseTableRefs converts the output of ExtractTables into references.
func ParseTableRefs(tables []string) []TableRef {
	refs := make([]TableRef, 0, len(tables))
	for _, t := range tables {
		refs = append(refs, ParseTableRef(t))
	}
	return refs
}

// Qualified reports whether the reference names an explicit schema.
func (r TableRef) Qualified() bool {
	return r.Schema != ""
}

// SourceSchema returns the schema the table lives in, falling back to the
// default schema for unqualified references.
func (r TableRef) SourceSchema() string {
	if r.Schema != "" {
		return r.Schema
	}
	return DefaultSchema
}

func (r TableRef) String() string {
	if r.Schema == "" {
		return r.Name
	}
	return r.Schema + "." + r.Name
}

// SandboxPrefix starts the name of every schema created for testing.
const SandboxPrefix = "sandbox_"

// IsSandboxSchema reports whether name was produced for a sandbox.
func IsSandboxSchema(name string) bool {
	return strings.HasPrefix(name, SandboxPrefix) && len(name) > len(SandboxPrefix)
}
