package render

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/staging-engine/pkg/models"
)

func sampleResult() *models.SynthesisResult {
	key := models.SharedKey{
		Name:          "OrderID_LineNo_Key",
		Owner:         "Staging_OrderLines_Orders",
		SourceColumns: []string{"OrderID", "LineNo"},
		TargetTables:  []string{"OrderLines", "Orders"},
		IsComposite:   true,
		SurrogateFormula: &models.SurrogateFormula{
			Columns:   []string{"OrderID", "LineNo"},
			Separator: "_",
		},
	}
	return &models.SynthesisResult{
		StagingTables: []models.StagingTableDefinition{{
			ID:              models.NewStagingID("Staging_OrderLines_Orders"),
			Name:            "Staging_OrderLines_Orders",
			StagingType:     models.StagingTypeSimpleJoin,
			ComplexityScore: 1.3,
			SourceTables:    []string{"OrderLines", "Orders"},
			SharedKeys:      []models.SharedKey{key},
			AbstractJoinPlan: []models.JoinStep{
				{Table: "OrderLines"},
				{Table: "Orders", JoinType: models.JoinInner, JoinedTo: "OrderLines"},
			},
		}},
		SharedKeys: []models.SharedKey{key},
		Relationships: []models.StagingRelationship{{
			FromTable:   "Staging_OrderLines_Orders",
			FromColumn:  "OrderID_LineNo_Key",
			ToTable:     "OrderLines",
			ToColumn:    "OrderID_LineNo_Key",
			Cardinality: models.CardinalityOneToMany,
			CrossFilter: models.CrossFilterSingle,
			Kind:        models.RelationshipKindStagingToFact,
			IsActive:    true,
			IsComposite: true,
		}},
		Diagnostics: []models.Diagnostic{{
			Severity: models.SeverityWarn,
			Code:     models.DiagMissingTable,
			Message:  "table Returns is not in the schema",
			Tables:   []string{"Returns"},
		}},
		TableRoles: map[string]models.TableRole{
			"OrderLines": models.TableRoleFact,
			"Orders":     models.TableRoleDimension,
		},
		Candidates: []models.StagingCandidate{},
	}
}

func TestIsValidFormat(t *testing.T) {
	assert.True(t, IsValidFormat(FormatJSON))
	assert.True(t, IsValidFormat(FormatTable))
	assert.False(t, IsValidFormat(Format("csv")))
}

func TestJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Result(&buf, sampleResult(), FormatJSON))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	for _, section := range []string{"staging_tables", "shared_keys", "relationships", "diagnostics", "table_roles", "candidates"} {
		assert.Contains(t, decoded, section)
	}

	var back models.SynthesisResult
	require.NoError(t, json.Unmarshal(buf.Bytes(), &back))
	assert.Equal(t, "OrderID_LineNo_Key", back.SharedKeys[0].Name)
	assert.Equal(t, "OrderID_LineNo", back.SharedKeys[0].SurrogateFormula.String())
	assert.Equal(t, sampleResult().StagingTables[0].ID, back.StagingTables[0].ID)
}

func TestTables(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Result(&buf, sampleResult(), FormatTable))
	out := buf.String()

	for _, want := range []string{
		"Table roles",
		"Staging tables",
		"Staging_OrderLines_Orders",
		"OrderLines INNER Orders",
		"Shared keys",
		"OrderID_LineNo",
		"Relationships",
		"STAGING_TO_FACT",
		"Diagnostics",
		"missing_table",
	} {
		assert.Contains(t, out, want)
	}
}

func TestTables_SkipsEmptySections(t *testing.T) {
	var buf bytes.Buffer
	Tables(&buf, &models.SynthesisResult{})
	assert.Empty(t, buf.String())
}

func TestResult_UnknownFormat(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, Result(&buf, sampleResult(), Format("xml")))
}
