package models

import "strings"

// ============================================================================
// Join Types
// ============================================================================

// JoinType is the ANSI join type of a join pattern or join plan step.
type JoinType string

const (
	JoinInner JoinType = "INNER"
	JoinLeft  JoinType = "LEFT"
	JoinRight JoinType = "RIGHT"
	JoinFull  JoinType = "FULL"
	JoinCross JoinType = "CROSS"
)

// ValidJoinTypes contains all valid join type values.
var ValidJoinTypes = []JoinType{
	JoinInner,
	JoinLeft,
	JoinRight,
	JoinFull,
	JoinCross,
}

// IsValidJoinType checks if the given join type is valid.
func IsValidJoinType(t JoinType) bool {
	for _, v := range ValidJoinTypes {
		if v == t {
			return true
		}
	}
	return false
}

// ParseJoinType normalizes a legacy or SQL join type ("left outer", "LEFT JOIN",
// "full_outer", ...). The second return value is false when the value is empty or
// unrecognized, in which case INNER is returned.
func ParseJoinType(raw string) (JoinType, bool) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.NewReplacer("_", " ", "-", " ").Replace(s)
	s = strings.TrimSuffix(s, " JOIN")
	s = strings.TrimSuffix(s, " OUTER")
	s = strings.TrimSpace(s)

	switch s {
	case "INNER", "EQUI", "JOIN":
		return JoinInner, true
	case "LEFT", "LEFTOUTER":
		return JoinLeft, true
	case "RIGHT", "RIGHTOUTER":
		return JoinRight, true
	case "FULL", "FULLOUTER", "OUTER":
		return JoinFull, true
	case "CROSS":
		return JoinCross, true
	}
	return JoinInner, false
}

// Mirror returns the join type seen from the other side of the join.
func (t JoinType) Mirror() JoinType {
	switch t {
	case JoinLeft:
		return JoinRight
	case JoinRight:
		return JoinLeft
	default:
		return t
	}
}

// ============================================================================
// Join Sources
// ============================================================================

// JoinSource records which kind of evidence produced a join pattern.
type JoinSource string

const (
	JoinSourceExplicitRelationship JoinSource = "EXPLICIT_RELATIONSHIP"
	JoinSourceParsedQuery          JoinSource = "PARSED_QUERY"
	JoinSourceInferred             JoinSource = "INFERRED"
)

// ValidJoinSources contains all valid join source values.
var ValidJoinSources = []JoinSource{
	JoinSourceExplicitRelationship,
	JoinSourceParsedQuery,
	JoinSourceInferred,
}

// IsValidJoinSource checks if the given source is valid.
func IsValidJoinSource(s JoinSource) bool {
	for _, v := range ValidJoinSources {
		if v == s {
			return true
		}
	}
	return false
}

// Confidence assigned to each kind of join evidence.
const (
	ConfidenceExplicitRelationship = 0.9
	ConfidenceParsedQuery          = 0.6
	ConfidenceInferred             = 0.7
)

// ============================================================================
// Join Pattern
// ============================================================================

// JoinPattern is the uniform record every piece of join evidence is normalized into.
// LeftColumns and RightColumns have equal length and are paired positionally.
type JoinPattern struct {
	LeftTable    string     `json:"left_table"`
	RightTable   string     `json:"right_table"`
	LeftColumns  []string   `json:"left_columns"`
	RightColumns []string   `json:"right_columns"`
	JoinType     JoinType   `json:"join_type"`
	Confidence   float64    `json:"confidence"`
	Source       JoinSource `json:"source"`

	// Populated for explicit relationships from the legacy min/max bounds.
	Cardinality Cardinality `json:"cardinality,omitempty"`
	CrossFilter CrossFilter `json:"cross_filter,omitempty"`

	Origin  string `json:"origin,omitempty"` // e.g. "relationship[3]", "query[0]"
	Ordinal int    `json:"-"`                // Input order, used for tie-breaks
}

// IsComposite returns true when the join binds more than one column pair.
func (p *JoinPattern) IsComposite() bool {
	return len(p.LeftColumns) > 1
}

// Connects returns true if the pattern joins the two tables, in either direction.
func (p *JoinPattern) Connects(a, b string) bool {
	return (p.LeftTable == a && p.RightTable == b) || (p.LeftTable == b && p.RightTable == a)
}

// Other returns the table on the opposite side of table, or "" if table is not an endpoint.
func (p *JoinPattern) Other(table string) string {
	switch table {
	case p.LeftTable:
		return p.RightTable
	case p.RightTable:
		return p.LeftTable
	}
	return ""
}

// ColumnsFor returns the columns the pattern binds in table.
func (p *JoinPattern) ColumnsFor(table string) []string {
	switch table {
	case p.LeftTable:
		return p.LeftColumns
	case p.RightTable:
		return p.RightColumns
	}
	return nil
}

// PairKey returns the unordered table-pair key of the pattern.
func (p *JoinPattern) PairKey() string {
	return PairKey(p.LeftTable, p.RightTable)
}

// PairKey returns an order-independent key for a pair of tables.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "\x00" + b
}
