package services

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/staging-engine/pkg/apperrors"
	"github.com/ekaya-inc/staging-engine/pkg/config"
	"github.com/ekaya-inc/staging-engine/pkg/models"
)

func newTestOrchestrator(t *testing.T, mutate func(*config.Config)) StagingOrchestrator {
	t.Helper()
	cfg := config.Default()
	cfg.Staging.Enabled = true
	if mutate != nil {
		mutate(cfg)
	}
	o, err := NewStagingOrchestrator(cfg, zap.NewNop())
	require.NoError(t, err)
	return o
}

func factTable(name string, keyColumns ...string) models.SchemaTable {
	t := models.SchemaTable{Name: name}
	for _, c := range keyColumns {
		t.Columns = append(t.Columns, models.SchemaColumn{Name: c, Type: "int"})
	}
	t.Columns = append(t.Columns,
		models.SchemaColumn{Name: "Amount", Type: "decimal(18,2)"},
		models.SchemaColumn{Name: "Qty", Type: "int"},
		models.SchemaColumn{Name: "Price", Type: "money"},
	)
	return t
}

func dimTable(name string, keyColumns ...string) models.SchemaTable {
	t := models.SchemaTable{Name: name}
	for _, c := range keyColumns {
		t.Columns = append(t.Columns, models.SchemaColumn{Name: c, Type: "int"})
	}
	t.Columns = append(t.Columns,
		models.SchemaColumn{Name: "Name", Type: "string"},
		models.SchemaColumn{Name: "Description", Type: "string"},
	)
	return t
}

func rel(left, right string, leftCols, rightCols []string) models.RawRelationship {
	return models.RawRelationship{
		LeftTable: left, RightTable: right,
		LeftColumns: leftCols, RightColumns: rightCols,
		JoinType: "INNER",
	}
}

func relationshipsBetween(rels []models.StagingRelationship, a, b string) []models.StagingRelationship {
	var out []models.StagingRelationship
	for _, r := range rels {
		if r.PairKey() == models.PairKey(a, b) {
			out = append(out, r)
		}
	}
	return out
}

func TestStagingOrchestrator_ScenarioA_SingleJoin(t *testing.T) {
	o := newTestOrchestrator(t, nil)

	result, err := o.Synthesize(context.Background(), &models.SchemaInput{
		Tables: []models.SchemaTable{
			factTable("Orders", "OrderID", "CustomerID"),
			dimTable("Customers", "CustomerID"),
		},
		Relationships: []models.RawRelationship{
			rel("Orders", "Customers", []string{"CustomerID"}, []string{"CustomerID"}),
		},
	})
	require.NoError(t, err)

	require.Len(t, result.Candidates, 1)
	assert.Equal(t, []string{"Customers", "Orders"}, result.Candidates[0].Tables)
	assert.GreaterOrEqual(t, result.Candidates[0].ComplexityScore, 0.5)
	assert.True(t, result.Candidates[0].Accepted)

	require.Len(t, result.StagingTables, 1)
	def := result.StagingTables[0]
	assert.Equal(t, "Staging_Customers_Orders", def.Name)
	assert.Equal(t, models.StagingTypeSimpleJoin, def.StagingType)

	require.Len(t, result.SharedKeys, 1)
	assert.Equal(t, "CustomerID", result.SharedKeys[0].Name)
	assert.False(t, result.SharedKeys[0].IsComposite)
	assert.Equal(t, def.Name, result.SharedKeys[0].Owner)

	assert.Equal(t, models.TableRoleFact, result.TableRoles["Orders"])
	assert.Equal(t, models.TableRoleDimension, result.TableRoles["Customers"])

	toFact := relationshipsBetween(result.Relationships, def.Name, "Orders")
	require.Len(t, toFact, 1)
	assert.Equal(t, models.RelationshipKindStagingToFact, toFact[0].Kind)
	assert.True(t, toFact[0].IsActive)

	fromDim := relationshipsBetween(result.Relationships, "Customers", def.Name)
	require.Len(t, fromDim, 1)
	assert.Equal(t, models.RelationshipKindFactToStaging, fromDim[0].Kind)

	// The imported relationship would close Customers -> Staging -> Orders -> Customers
	imported := relationshipsBetween(result.Relationships, "Orders", "Customers")
	require.Len(t, imported, 1)
	assert.Equal(t, models.RelationshipKindSourceRelationship, imported[0].Kind)
	assert.False(t, imported[0].IsActive)
	assert.Equal(t, models.DeactivationCyclePrevention, imported[0].DeactivationReason)

	assert.Len(t, result.ActiveRelationships(), 2)
	assertActiveForest(t, result.Relationships)
	assertOneActivePerPair(t, result.Relationships)

	require.Len(t, result.Diagnostics, 1)
	assert.Equal(t, models.DiagRelationshipDeactivated, result.Diagnostics[0].Code)
}

func TestStagingOrchestrator_ScenarioB_DisjointComponents(t *testing.T) {
	o := newTestOrchestrator(t, nil)

	result, err := o.Synthesize(context.Background(), &models.SchemaInput{
		Tables: []models.SchemaTable{
			factTable("A", "AB"), dimTable("B", "AB"),
			factTable("C", "CD"), dimTable("D", "CD"),
		},
		Relationships: []models.RawRelationship{
			rel("A", "B", []string{"AB"}, []string{"AB"}),
			rel("C", "D", []string{"CD"}, []string{"CD"}),
		},
	})
	require.NoError(t, err)

	require.Len(t, result.StagingTables, 2)
	assert.Equal(t, "Staging_A_B", result.StagingTables[0].Name)
	assert.Equal(t, "Staging_C_D", result.StagingTables[1].Name)

	for _, def := range result.StagingTables {
		for _, key := range def.SharedKeys {
			for _, target := range key.TargetTables {
				assert.True(t, def.HasSourceTable(target),
					"key %s of %s targets foreign table %s", key.Name, def.Name, target)
			}
		}
	}
}

func TestStagingOrchestrator_ScenarioC_ConflictingRelationships(t *testing.T) {
	o := newTestOrchestrator(t, nil)

	result, err := o.Synthesize(context.Background(), &models.SchemaInput{
		Tables: []models.SchemaTable{
			factTable("Orders", "CustomerID", "ShipToID"),
			dimTable("Customers", "CustomerID"),
		},
		Relationships: []models.RawRelationship{
			rel("Orders", "Customers", []string{"ShipToID"}, []string{"CustomerID"}),
			rel("Orders", "Customers", []string{"CustomerID"}, []string{"CustomerID"}),
		},
	})
	require.NoError(t, err)

	require.Len(t, result.StagingTables, 1)
	def := result.StagingTables[0]

	// Both join patterns become keys, so the staging table reaches Orders twice
	toFact := relationshipsBetween(result.Relationships, def.Name, "Orders")
	require.Len(t, toFact, 2)

	var active, inactive []models.StagingRelationship
	for _, r := range toFact {
		if r.IsActive {
			active = append(active, r)
		} else {
			inactive = append(inactive, r)
		}
	}
	require.Len(t, active, 1)
	require.Len(t, inactive, 1)
	assert.Equal(t, models.DeactivationMultipleRelationships, inactive[0].DeactivationReason)

	// The imported pair keeps one relationship over the other, and the survivor
	// yields to the staging path
	imported := relationshipsBetween(result.Relationships, "Orders", "Customers")
	require.Len(t, imported, 2)
	reasons := []string{imported[0].DeactivationReason, imported[1].DeactivationReason}
	assert.ElementsMatch(t, []string{models.DeactivationMultipleRelationships, models.DeactivationCyclePrevention}, reasons)

	assertActiveForest(t, result.Relationships)
	assertOneActivePerPair(t, result.Relationships)
}

func TestStagingOrchestrator_ScenarioD_CompositeJoin(t *testing.T) {
	o := newTestOrchestrator(t, nil)

	result, err := o.Synthesize(context.Background(), &models.SchemaInput{
		Tables: []models.SchemaTable{
			factTable("Sales", "RegionID", "ProductID"),
			factTable("Targets", "RegionID", "ProductID"),
		},
		Relationships: []models.RawRelationship{
			rel("Sales", "Targets", []string{"RegionID", "ProductID"}, []string{"RegionID", "ProductID"}),
		},
	})
	require.NoError(t, err)

	require.Len(t, result.SharedKeys, 1)
	key := result.SharedKeys[0]
	assert.True(t, key.IsComposite)
	require.NotNil(t, key.SurrogateFormula)
	assert.Equal(t, []string{"RegionID", "ProductID"}, key.SurrogateFormula.Columns)
	assert.Equal(t, "RegionID_ProductID", key.SurrogateFormula.String())

	require.Len(t, result.Candidates, 1)
	assert.Equal(t, 1, result.Candidates[0].CompositeJoinCount)

	for _, r := range result.Relationships {
		assert.True(t, r.IsComposite, "%s", r.Signature())
	}
}

func TestStagingOrchestrator_SingleTableProducesNoCandidates(t *testing.T) {
	o := newTestOrchestrator(t, nil)

	result, err := o.Synthesize(context.Background(), &models.SchemaInput{
		Tables: []models.SchemaTable{factTable("Orders", "OrderID")},
		Queries: []models.QueryRecord{
			{SQL: "SELECT o.OrderID, o.Amount FROM Orders o WHERE o.Qty > 1"},
		},
	})
	require.NoError(t, err)

	assert.Empty(t, result.Candidates)
	assert.Empty(t, result.StagingTables)
	assert.Empty(t, result.Relationships)
	assert.NotNil(t, result.StagingTables)
	assert.NotNil(t, result.Relationships)
}

func TestStagingOrchestrator_InvalidInput(t *testing.T) {
	o := newTestOrchestrator(t, nil)

	_, err := o.Synthesize(context.Background(), nil)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = o.Synthesize(context.Background(), &models.SchemaInput{})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	// An empty but present table list is valid
	result, err := o.Synthesize(context.Background(), &models.SchemaInput{Tables: []models.SchemaTable{}})
	require.NoError(t, err)
	assert.Empty(t, result.StagingTables)
}

func TestStagingOrchestrator_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Staging.Mode = "sometimes"

	_, err := NewStagingOrchestrator(cfg, zap.NewNop())
	assert.ErrorIs(t, err, apperrors.ErrInvalidConfig)

	_, err = NewStagingOrchestrator(nil, zap.NewNop())
	assert.ErrorIs(t, err, apperrors.ErrInvalidConfig)
}

func TestStagingOrchestrator_StagingDisabled(t *testing.T) {
	o := newTestOrchestrator(t, func(c *config.Config) { c.Staging.Enabled = false })

	result, err := o.Synthesize(context.Background(), &models.SchemaInput{
		Tables: []models.SchemaTable{
			factTable("Orders", "CustomerID"),
			dimTable("Customers", "CustomerID"),
		},
		Relationships: []models.RawRelationship{
			rel("Orders", "Customers", []string{"CustomerID"}, []string{"CustomerID"}),
		},
	})
	require.NoError(t, err)

	assert.Empty(t, result.StagingTables)
	assert.Empty(t, result.SharedKeys)
	require.Len(t, result.Candidates, 1)
	assert.False(t, result.Candidates[0].Accepted)
	assert.Greater(t, result.Candidates[0].ComplexityScore, 0.0)

	require.Len(t, result.Relationships, 1)
	assert.Equal(t, models.RelationshipKindSourceRelationship, result.Relationships[0].Kind)

	require.NotEmpty(t, result.Diagnostics)
	assert.Equal(t, models.DiagStagingDisabled, result.Diagnostics[0].Code)
}

func TestStagingOrchestrator_RecoversDataQualityProblems(t *testing.T) {
	o := newTestOrchestrator(t, nil)

	result, err := o.Synthesize(context.Background(), &models.SchemaInput{
		Tables: []models.SchemaTable{
			factTable("Orders", "CustomerID"),
			dimTable("Customers", "CustomerID"),
			{Name: "Notes"},
		},
		Relationships: []models.RawRelationship{
			rel("Orders", "Customers", []string{"CustomerID"}, []string{"CustomerID"}),
			rel("Orders", "Ghosts", []string{"GhostID"}, []string{"GhostID"}),
			rel("Orders", "Customers", []string{"CustomerID", "Region"}, []string{"CustomerID"}),
		},
		Queries: []models.QueryRecord{{SQL: "DELETE FROM Orders"}},
	})
	require.NoError(t, err)

	require.Len(t, result.StagingTables, 1)

	codes := make(map[string]int)
	for _, d := range result.Diagnostics {
		codes[d.Code]++
	}
	assert.Equal(t, 1, codes[models.DiagMissingTable])
	assert.Equal(t, 1, codes[models.DiagUnresolvableJoinKeys])
	assert.Equal(t, 1, codes[models.DiagQueryParseFailed])
	assert.Equal(t, 1, codes[models.DiagClassificationUnknown])
}

func TestStagingOrchestrator_NameCollisionWithSourceTable(t *testing.T) {
	o := newTestOrchestrator(t, nil)

	result, err := o.Synthesize(context.Background(), &models.SchemaInput{
		Tables: []models.SchemaTable{
			factTable("Orders", "CustomerID"),
			dimTable("Customers", "CustomerID"),
			dimTable("Staging_Customers_Orders", "ID"),
		},
		Relationships: []models.RawRelationship{
			rel("Orders", "Customers", []string{"CustomerID"}, []string{"CustomerID"}),
		},
	})
	require.NoError(t, err)

	require.Len(t, result.StagingTables, 1)
	assert.Equal(t, "Staging_Customers_Orders_2", result.StagingTables[0].Name)
	assert.Equal(t, "Staging_Customers_Orders_2", result.SharedKeys[0].Owner)
}

func TestStagingOrchestrator_PermutationInvariant(t *testing.T) {
	tables := []models.SchemaTable{
		factTable("OrderLines", "OrderID", "ProductID"),
		factTable("Orders", "OrderID", "CustomerID"),
		dimTable("Customers", "CustomerID"),
		dimTable("Products", "ProductID", "CategoryID"),
		dimTable("Categories", "CategoryID"),
		factTable("Sales", "RegionID", "ProductID"),
		factTable("Targets", "RegionID", "ProductID"),
	}
	rels := []models.RawRelationship{
		rel("OrderLines", "Orders", []string{"OrderID"}, []string{"OrderID"}),
		rel("Orders", "Customers", []string{"CustomerID"}, []string{"CustomerID"}),
		rel("OrderLines", "Products", []string{"ProductID"}, []string{"ProductID"}),
		rel("Products", "Categories", []string{"CategoryID"}, []string{"CategoryID"}),
		rel("Sales", "Targets", []string{"RegionID", "ProductID"}, []string{"RegionID", "ProductID"}),
	}

	reversedTables := make([]models.SchemaTable, len(tables))
	for i := range tables {
		reversedTables[len(tables)-1-i] = tables[i]
	}
	reversedRels := make([]models.RawRelationship, len(rels))
	for i := range rels {
		reversedRels[len(rels)-1-i] = rels[i]
	}

	o := newTestOrchestrator(t, nil)
	forward, err := o.Synthesize(context.Background(), &models.SchemaInput{Tables: tables, Relationships: rels})
	require.NoError(t, err)
	backward, err := o.Synthesize(context.Background(), &models.SchemaInput{Tables: reversedTables, Relationships: reversedRels})
	require.NoError(t, err)

	summarize := func(r *models.SynthesisResult) ([]string, []string, []string) {
		var names, keys, active []string
		for _, d := range r.StagingTables {
			names = append(names, d.Name)
			for _, k := range d.SharedKeys {
				keys = append(keys, d.Name+"/"+k.Name+"/"+k.SurrogateFormula.String())
			}
		}
		for _, rel := range r.ActiveRelationships() {
			active = append(active, rel.Signature())
		}
		sort.Strings(active)
		return names, keys, active
	}

	fNames, fKeys, fActive := summarize(forward)
	bNames, bKeys, bActive := summarize(backward)

	assert.Equal(t, []string{"Staging_Hub_5Tables", "Staging_Sales_Targets"}, fNames)
	assert.Equal(t, fNames, bNames)
	assert.Equal(t, fKeys, bKeys)
	assert.Equal(t, fActive, bActive)
	assert.Equal(t, forward.TableRoles, backward.TableRoles)

	assertOneActivePerPair(t, forward.Relationships)
	assertOneActivePerPair(t, backward.Relationships)
	assertActiveForest(t, forward.Relationships)
	assertActiveForest(t, backward.Relationships)
}

func TestStagingOrchestrator_ParallelMatchesSequential(t *testing.T) {
	input := &models.SchemaInput{
		Tables: []models.SchemaTable{
			factTable("A", "AB"), dimTable("B", "AB"),
			factTable("C", "CD"), dimTable("D", "CD"),
			factTable("E", "EF", "EG"), dimTable("F", "EF"), dimTable("G", "EG"),
		},
		Relationships: []models.RawRelationship{
			rel("A", "B", []string{"AB"}, []string{"AB"}),
			rel("C", "D", []string{"CD"}, []string{"CD"}),
			rel("E", "F", []string{"EF"}, []string{"EF"}),
			rel("E", "G", []string{"EG"}, []string{"EG"}),
		},
	}

	sequential, err := newTestOrchestrator(t, nil).Synthesize(context.Background(), input)
	require.NoError(t, err)

	parallel, err := newTestOrchestrator(t, func(c *config.Config) { c.Workers.MaxConcurrent = 4 }).
		Synthesize(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, sequential, parallel)
	assert.Len(t, parallel.StagingTables, 3)
}

func TestStagingOrchestrator_CancelledContext(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.Synthesize(ctx, &models.SchemaInput{
		Tables: []models.SchemaTable{factTable("A", "AB"), dimTable("B", "AB")},
		Relationships: []models.RawRelationship{
			rel("A", "B", []string{"AB"}, []string{"AB"}),
		},
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStagingOrchestrator_ManualMode(t *testing.T) {
	o := newTestOrchestrator(t, func(c *config.Config) {
		c.Staging.Mode = config.StagingModeManual
		c.Staging.ApprovedTableSets = []string{"D, C"}
	})

	result, err := o.Synthesize(context.Background(), &models.SchemaInput{
		Tables: []models.SchemaTable{
			factTable("A", "AB"), dimTable("B", "AB"),
			factTable("C", "CD"), dimTable("D", "CD"),
		},
		Relationships: []models.RawRelationship{
			rel("A", "B", []string{"AB"}, []string{"AB"}),
			rel("C", "D", []string{"CD"}, []string{"CD"}),
		},
	})
	require.NoError(t, err)

	require.Len(t, result.StagingTables, 1)
	assert.Equal(t, "Staging_C_D", result.StagingTables[0].Name)
	require.Len(t, result.Candidates, 2)
	assert.False(t, result.Candidates[0].Accepted)
	assert.True(t, result.Candidates[1].Accepted)
}
