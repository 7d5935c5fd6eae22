package models

import (
	"strings"

	"github.com/google/uuid"
)

// stagingNamespace seeds the deterministic IDs of staging tables and relationships.
var stagingNamespace = uuid.MustParse("6f1c2a4e-9b3d-5e7f-8a10-2c4d6e8f0a1b")

// NewStagingID returns a UUIDv5 derived from name; the same name always yields the same ID.
func NewStagingID(name string) uuid.UUID {
	return uuid.NewSHA1(stagingNamespace, []byte(name))
}

// ============================================================================
// Table Roles
// ============================================================================

// TableRole is the heuristic role of a source table. It is always computed from
// column statistics and never supplied by the caller.
type TableRole string

const (
	TableRoleFact      TableRole = "FACT"
	TableRoleDimension TableRole = "DIMENSION"
	TableRoleUnknown   TableRole = "UNKNOWN"
)

// ValidTableRoles contains all valid table role values.
var ValidTableRoles = []TableRole{
	TableRoleFact,
	TableRoleDimension,
	TableRoleUnknown,
}

// IsValidTableRole checks if the given role is valid.
func IsValidTableRole(r TableRole) bool {
	for _, v := range ValidTableRoles {
		if v == r {
			return true
		}
	}
	return false
}

// ============================================================================
// Staging Types
// ============================================================================

// StagingType tags an accepted candidate by size. Used for naming and diagnostics only.
type StagingType string

const (
	StagingTypeSimpleJoin StagingType = "SIMPLE_JOIN" // 2 tables
	StagingTypeMultiTable StagingType = "MULTI_TABLE" // 3-4 tables
	StagingTypeComplexHub StagingType = "COMPLEX_HUB" // more than 4 tables
)

// StagingTypeFor returns the staging type for a candidate of the given size.
func StagingTypeFor(tableCount int) StagingType {
	switch {
	case tableCount <= 2:
		return StagingTypeSimpleJoin
	case tableCount <= 4:
		return StagingTypeMultiTable
	default:
		return StagingTypeComplexHub
	}
}

// ============================================================================
// Staging Candidate
// ============================================================================

// StagingCandidate is one connected component of the join graph considered for a
// staging table. Tables is sorted.
type StagingCandidate struct {
	Tables             []string      `json:"tables"`
	Joins              []JoinPattern `json:"joins"`
	ComplexityScore    float64       `json:"complexity_score"`
	CompositeJoinCount int           `json:"composite_join_count"`
	StagingType        StagingType   `json:"staging_type,omitempty"`
	Accepted           bool          `json:"accepted"`
}

// Key returns a stable identity for the candidate's table set.
func (c *StagingCandidate) Key() string {
	return strings.Join(c.Tables, ",")
}

// HasTable returns true if table belongs to the candidate.
func (c *StagingCandidate) HasTable(table string) bool {
	for _, t := range c.Tables {
		if t == table {
			return true
		}
	}
	return false
}

// ============================================================================
// Shared Keys
// ============================================================================

// SurrogateFormula is the abstract definition of a surrogate key value: the ordered
// source columns concatenated with Separator. Rendering it into target query text is
// the query generator's job.
type SurrogateFormula struct {
	Columns   []string `json:"columns"`
	Separator string   `json:"separator"`
}

// String renders the formula as "a<sep>b". It depends only on the column order and
// the separator.
func (f *SurrogateFormula) String() string {
	if f == nil {
		return ""
	}
	return strings.Join(f.Columns, f.Separator)
}

// SharedKey is a generated join key relating a staging table to its source tables.
type SharedKey struct {
	Name             string              `json:"name"`
	Owner            string              `json:"owner"`
	SourceColumns    []string            `json:"source_columns"`
	TargetTables     []string            `json:"target_tables"`
	TableColumns     map[string][]string `json:"table_columns"`
	IsComposite      bool                `json:"is_composite"`
	SurrogateFormula *SurrogateFormula   `json:"surrogate_formula,omitempty"`
}

// Targets returns true if the key binds table.
func (k *SharedKey) Targets(table string) bool {
	for _, t := range k.TargetTables {
		if t == table {
			return true
		}
	}
	return false
}

// ============================================================================
// Staging Table Definition
// ============================================================================

// JoinStep is one step of an abstract join plan. The first step of a plan is the
// root table and has no join type or keys. OnLeftKeys are columns of JoinedTo,
// OnRightKeys are columns of Table.
type JoinStep struct {
	Table       string   `json:"table"`
	JoinType    JoinType `json:"join_type,omitempty"`
	JoinedTo    string   `json:"joined_to,omitempty"`
	OnLeftKeys  []string `json:"on_left_keys,omitempty"`
	OnRightKeys []string `json:"on_right_keys,omitempty"`
}

// StagingTableDefinition describes one synthesized staging table.
type StagingTableDefinition struct {
	ID               uuid.UUID     `json:"id"`
	Name             string        `json:"name"`
	StagingType      StagingType   `json:"staging_type"`
	ComplexityScore  float64       `json:"complexity_score"`
	SourceTables     []string      `json:"source_tables"`
	SharedKeys       []SharedKey   `json:"shared_keys"`
	JoinPatterns     []JoinPattern `json:"join_patterns"`
	AbstractJoinPlan []JoinStep    `json:"abstract_join_plan"`
}

// HasSourceTable returns true if table feeds the staging table.
func (d *StagingTableDefinition) HasSourceTable(table string) bool {
	for _, t := range d.SourceTables {
		if t == table {
			return true
		}
	}
	return false
}

// ============================================================================
// Synthesis Result
// ============================================================================

// SynthesisResult is everything one synthesis run produced. Callers always receive
// it, together with the diagnostics, unless the input contract itself was invalid.
type SynthesisResult struct {
	StagingTables []StagingTableDefinition `json:"staging_tables"`
	SharedKeys    []SharedKey              `json:"shared_keys"`
	Relationships []StagingRelationship    `json:"relationships"`
	Diagnostics   []Diagnostic             `json:"diagnostics"`
	TableRoles    map[string]TableRole     `json:"table_roles"`
	Candidates    []StagingCandidate       `json:"candidates"`
}

// ActiveRelationships returns only the relationships left active after conflict resolution.
func (r *SynthesisResult) ActiveRelationships() []StagingRelationship {
	var active []StagingRelationship
	for _, rel := range r.Relationships {
		if rel.IsActive {
			active = append(active, rel)
		}
	}
	return active
}
