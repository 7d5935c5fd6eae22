package services

import "github.com/ekaya-inc/staging-engine/pkg/models"

// LegacyRelationshipShape is what an explicit legacy relationship's minimum
// cardinality bounds translate to.
type LegacyRelationshipShape struct {
	JoinType    models.JoinType
	Cardinality models.Cardinality
	CrossFilter models.CrossFilter
	// Ambiguous is true when the bounds did not determine the shape and the
	// alphabetical tie-break was applied.
	Ambiguous bool
}

// MapLegacyBounds translates the minimum cardinality bounds of a legacy
// relationship into a join type, cardinality and filter direction.
// Cardinality is read from leftTable to rightTable.
//
//	one / one   -> INNER, ONE_TO_ONE,   BOTH
//	one / zero  -> LEFT,  ONE_TO_MANY,  SINGLE
//	zero / one  -> RIGHT, MANY_TO_ONE,  SINGLE
//	zero / zero -> FULL,  MANY_TO_MANY, BOTH
//
// Any other combination is ambiguous: the join is INNER with SINGLE filtering
// and the alphabetically smaller table becomes the one-side, so the outcome never
// depends on which side the legacy model listed first.
func MapLegacyBounds(leftMin, rightMin models.CardinalityBound, leftTable, rightTable string) LegacyRelationshipShape {
	switch {
	case leftMin == models.BoundOne && rightMin == models.BoundOne:
		return LegacyRelationshipShape{JoinType: models.JoinInner, Cardinality: models.CardinalityOneToOne, CrossFilter: models.CrossFilterBoth}
	case leftMin == models.BoundOne && rightMin == models.BoundZero:
		return LegacyRelationshipShape{JoinType: models.JoinLeft, Cardinality: models.CardinalityOneToMany, CrossFilter: models.CrossFilterSingle}
	case leftMin == models.BoundZero && rightMin == models.BoundOne:
		return LegacyRelationshipShape{JoinType: models.JoinRight, Cardinality: models.CardinalityManyToOne, CrossFilter: models.CrossFilterSingle}
	case leftMin == models.BoundZero && rightMin == models.BoundZero:
		return LegacyRelationshipShape{JoinType: models.JoinFull, Cardinality: models.CardinalityManyToMany, CrossFilter: models.CrossFilterBoth}
	}

	cardinality := models.CardinalityOneToMany
	if rightTable < leftTable {
		cardinality = models.CardinalityManyToOne
	}
	return LegacyRelationshipShape{
		JoinType:    models.JoinInner,
		Cardinality: cardinality,
		CrossFilter: models.CrossFilterSingle,
		Ambiguous:   true,
	}
}

// ReverseCardinality returns the cardinality value for the reverse direction of a relationship.
// ONE_TO_MANY becomes MANY_TO_ONE and vice versa. Symmetric cardinalities stay the same.
func ReverseCardinality(cardinality models.Cardinality) models.Cardinality {
	return cardinality.Reverse()
}
