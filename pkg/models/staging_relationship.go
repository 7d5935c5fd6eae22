package models

import "github.com/google/uuid"

// ============================================================================
// Cardinality
// ============================================================================

// Cardinality is the occurrence constraint of a relationship, read from FromTable to ToTable.
type Cardinality string

const (
	CardinalityOneToOne   Cardinality = "ONE_TO_ONE"
	CardinalityOneToMany  Cardinality = "ONE_TO_MANY"
	CardinalityManyToOne  Cardinality = "MANY_TO_ONE"
	CardinalityManyToMany Cardinality = "MANY_TO_MANY" // legacy zero/zero relationships only
)

// ValidCardinalities contains all valid cardinality values.
var ValidCardinalities = []Cardinality{
	CardinalityOneToOne,
	CardinalityOneToMany,
	CardinalityManyToOne,
	CardinalityManyToMany,
}

// IsValidCardinality checks if the given cardinality is valid.
func IsValidCardinality(c Cardinality) bool {
	for _, v := range ValidCardinalities {
		if v == c {
			return true
		}
	}
	return false
}

// Reverse returns the cardinality for the opposite direction.
func (c Cardinality) Reverse() Cardinality {
	switch c {
	case CardinalityOneToMany:
		return CardinalityManyToOne
	case CardinalityManyToOne:
		return CardinalityOneToMany
	default:
		return c
	}
}

// ============================================================================
// Cross Filter
// ============================================================================

// CrossFilter is the filter propagation direction across a relationship.
type CrossFilter string

const (
	CrossFilterSingle CrossFilter = "SINGLE"
	CrossFilterBoth   CrossFilter = "BOTH"
)

// ============================================================================
// Relationship Kinds
// ============================================================================

// RelationshipKind classifies a generated relationship.
type RelationshipKind string

const (
	RelationshipKindStagingToFact      RelationshipKind = "STAGING_TO_FACT"
	RelationshipKindFactToStaging      RelationshipKind = "FACT_TO_STAGING"
	RelationshipKindStagingInternal    RelationshipKind = "STAGING_INTERNAL"
	RelationshipKindSourceRelationship RelationshipKind = "SOURCE_RELATIONSHIP" // imported from the legacy model
)

// ValidRelationshipKinds contains all valid relationship kind values.
var ValidRelationshipKinds = []RelationshipKind{
	RelationshipKindStagingToFact,
	RelationshipKindFactToStaging,
	RelationshipKindStagingInternal,
	RelationshipKindSourceRelationship,
}

// IsValidRelationshipKind checks if the given kind is valid.
func IsValidRelationshipKind(k RelationshipKind) bool {
	for _, v := range ValidRelationshipKinds {
		if v == k {
			return true
		}
	}
	return false
}

// Deactivation reasons recorded on inactive relationships.
const (
	DeactivationMultipleRelationships = "multiple_relationships"
	DeactivationCompositeKeys         = "composite_keys"
	DeactivationCyclePrevention       = "cycle_prevention"
)

// ============================================================================
// Staging Relationship
// ============================================================================

// StagingRelationship is one edge of the output relationship graph.
type StagingRelationship struct {
	ID                 uuid.UUID        `json:"id"`
	FromTable          string           `json:"from_table"`
	FromColumn         string           `json:"from_column"`
	ToTable            string           `json:"to_table"`
	ToColumn           string           `json:"to_column"`
	Cardinality        Cardinality      `json:"cardinality"`
	CrossFilter        CrossFilter      `json:"cross_filter"`
	IsActive           bool             `json:"is_active"`
	Kind               RelationshipKind `json:"kind"`
	IsComposite        bool             `json:"is_composite"`
	DeactivationReason string           `json:"deactivation_reason,omitempty"`
}

// PairKey returns the unordered table-pair key of the relationship.
func (r *StagingRelationship) PairKey() string {
	return PairKey(r.FromTable, r.ToTable)
}

// Signature identifies the relationship by its endpoints and kind. It is what the
// deterministic ID is derived from.
func (r *StagingRelationship) Signature() string {
	return string(r.Kind) + ":" + r.FromTable + "." + r.FromColumn + "->" + r.ToTable + "." + r.ToColumn
}

// Deactivate marks the relationship inactive with the given reason.
func (r *StagingRelationship) Deactivate(reason string) {
	r.IsActive = false
	r.DeactivationReason = reason
}
