package policy

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Policy holds operator-controlled configuration loaded from a YAML file.
// It carries a data dictionary that is merged into the table metadata sent
// to recommendation providers.
type Policy struct {
	Context ContextConfig `yaml:"context"`
}

// ContextConfig maps fully-qualified table names (schema.table) to
// business descriptions.
type ContextConfig struct {
	Tables map[string]TableContext `yaml:"tables"`
}

// TableContext provides business descriptions for a table and its columns.
type TableContext struct {
	Description string                   `yaml:"description"`
	Columns     map[string]ColumnContext `yaml:"columns"`
}

// ColumnContext holds a column's business description.
type ColumnContext struct {
	Description string `yaml:"description"`
}

// UnmarshalYAML accepts either a plain string or a mapping.
//
//	columns:
//	  email: "User email"           # shorthand
//	  status:
//	    description: "Order state"
func (cc *ColumnContext) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		cc.Description = value.Value
		return nil
	}
	type alias ColumnContext
	var a alias
	if err := value.Decode(&a); err != nil {
		return fmt.Errorf("decoding column context: %w", err)
	}
	*cc = ColumnContext(a)
	return nil
}
