package models

import (
	"encoding/json"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/staging-engine/pkg/jsonutil"
)

// SchemaInput is the normalized record model handed to the synthesis engine by the
// schema extractor. Tables must be present (an explicitly empty list is allowed);
// relationships and queries are optional.
type SchemaInput struct {
	Tables        []SchemaTable     `json:"tables" yaml:"tables"`
	Relationships []RawRelationship `json:"relationships,omitempty" yaml:"relationships,omitempty"`
	Queries       []QueryRecord     `json:"queries,omitempty" yaml:"queries,omitempty"`
}

// SchemaTable represents a table discovered in the legacy semantic layer.
type SchemaTable struct {
	Name    string         `json:"name" yaml:"name"`
	Columns []SchemaColumn `json:"columns" yaml:"columns"`
}

// SchemaColumn represents a table column and its legacy data type.
type SchemaColumn struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
}

// RawRelationship is a legacy model relationship as exported by the extractor.
// JoinType and the cardinality bounds are optional; when the join type is absent it
// is derived from the minimum cardinalities.
type RawRelationship struct {
	LeftTable    string           `json:"left_table" yaml:"left_table"`
	RightTable   string           `json:"right_table" yaml:"right_table"`
	LeftColumns  []string         `json:"left_columns" yaml:"left_columns"`
	RightColumns []string         `json:"right_columns" yaml:"right_columns"`
	JoinType     string           `json:"join_type,omitempty" yaml:"join_type,omitempty"`
	LeftMinCard  CardinalityBound `json:"left_min_card,omitempty" yaml:"left_min_card,omitempty"`
	LeftMaxCard  CardinalityBound `json:"left_max_card,omitempty" yaml:"left_max_card,omitempty"`
	RightMinCard CardinalityBound `json:"right_min_card,omitempty" yaml:"right_min_card,omitempty"`
	RightMaxCard CardinalityBound `json:"right_max_card,omitempty" yaml:"right_max_card,omitempty"`
}

// QueryRecord is a single report query. SQL is optional; when FieldReferences is
// empty the references are recovered from the SQL text. Joins holds join records the
// extractor already parsed; when empty, joins are parsed from SQL.
type QueryRecord struct {
	SQL             string           `json:"sql,omitempty" yaml:"sql,omitempty"`
	FieldReferences []FieldReference `json:"field_references,omitempty" yaml:"field_references,omitempty"`
	Joins           []RawJoin        `json:"joins,omitempty" yaml:"joins,omitempty"`
}

// FieldReference is a table-qualified column referenced by a query.
type FieldReference struct {
	Table  string `json:"table" yaml:"table"`
	Column string `json:"column" yaml:"column"`
}

// RawJoin is a join clause recovered from report SQL.
type RawJoin struct {
	LeftTable    string   `json:"left_table" yaml:"left_table"`
	RightTable   string   `json:"right_table" yaml:"right_table"`
	LeftColumns  []string `json:"left_columns" yaml:"left_columns"`
	RightColumns []string `json:"right_columns" yaml:"right_columns"`
	JoinType     string   `json:"join_type,omitempty" yaml:"join_type,omitempty"`
}

// ============================================================================
// Cardinality Bounds
// ============================================================================

// CardinalityBound is one legacy min/max occurrence bound: "one", "zero" or "many".
// An empty bound means the legacy model did not state it.
type CardinalityBound string

const (
	BoundUnknown CardinalityBound = ""
	BoundZero    CardinalityBound = "zero"
	BoundOne     CardinalityBound = "one"
	BoundMany    CardinalityBound = "many"
)

// ParseCardinalityBound normalizes the spellings found in legacy exports.
// Unrecognized values map to BoundUnknown.
func ParseCardinalityBound(raw string) CardinalityBound {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "0", "zero", "optional", "false":
		return BoundZero
	case "1", "one", "mandatory", "true":
		return BoundOne
	case "n", "*", "many", "-1":
		return BoundMany
	default:
		return BoundUnknown
	}
}

// UnmarshalJSON accepts strings, numbers and booleans.
func (b *CardinalityBound) UnmarshalJSON(data []byte) error {
	*b = ParseCardinalityBound(jsonutil.FlexibleStringValue(json.RawMessage(data)))
	return nil
}

// UnmarshalYAML accepts any scalar node.
func (b *CardinalityBound) UnmarshalYAML(node *yaml.Node) error {
	*b = ParseCardinalityBound(node.Value)
	return nil
}

// TableByName indexes tables by their exact name.
func (s *SchemaInput) TableByName() map[string]*SchemaTable {
	index := make(map[string]*SchemaTable, len(s.Tables))
	for i := range s.Tables {
		index[s.Tables[i].Name] = &s.Tables[i]
	}
	return index
}
