package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/staging-engine/pkg/config"
	"github.com/ekaya-inc/staging-engine/pkg/models"
)

func typedTable(name string, types ...string) models.SchemaTable {
	t := models.SchemaTable{Name: name}
	for i, typ := range types {
		t.Columns = append(t.Columns, models.SchemaColumn{Name: name + "_c" + string(rune('a'+i)), Type: typ})
	}
	return t
}

func TestTableClassifier_ClassifyTable(t *testing.T) {
	tests := []struct {
		name      string
		table     models.SchemaTable
		ratioOnly bool
		expected  models.TableRole
	}{
		{
			name:     "three numeric of five is a fact",
			table:    typedTable("Sales", "int", "decimal(18,2)", "money", "string", "date"),
			expected: models.TableRoleFact,
		},
		{
			name:     "two numeric columns is not enough",
			table:    typedTable("Orders", "int", "int", "string"),
			expected: models.TableRoleDimension,
		},
		{
			name:     "three numeric but low ratio",
			table:    typedTable("Wide", "int", "int", "int", "string", "string", "string", "string", "string", "string", "string", "string", "string", "string", "string", "string"),
			expected: models.TableRoleDimension,
		},
		{
			name:     "xsd types are recognized",
			table:    typedTable("Measures", "xsd:int", "xsd:decimal", "xsd:double", "xsd:string"),
			expected: models.TableRoleFact,
		},
		{
			name:     "bi tool type names",
			table:    typedTable("Budget", "Whole Number", "Fixed Decimal Number", "Currency", "Text"),
			expected: models.TableRoleFact,
		},
		{
			name:      "ratio only accepts two numeric columns",
			table:     typedTable("Orders", "int", "int", "string"),
			ratioOnly: true,
			expected:  models.TableRoleFact,
		},
		{
			name:      "ratio only rejects low ratio",
			table:     typedTable("Customers", "int", "string", "string", "string"),
			ratioOnly: true,
			expected:  models.TableRoleDimension,
		},
		{
			name:     "no columns",
			table:    models.SchemaTable{Name: "Empty"},
			expected: models.TableRoleUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classifier := NewTableClassifier(config.ClassifierConfig{RatioOnly: tt.ratioOnly}, zap.NewNop())
			assert.Equal(t, tt.expected, classifier.ClassifyTable(tt.table))
		})
	}
}

func TestTableClassifier_Classify(t *testing.T) {
	classifier := NewTableClassifier(config.ClassifierConfig{}, zap.NewNop())
	diags := &models.Diagnostics{}

	roles := classifier.Classify([]models.SchemaTable{
		typedTable("Sales", "int", "int", "decimal", "string"),
		typedTable("Customers", "int", "string", "string"),
		{Name: "Placeholder"},
	}, diags)

	assert.Equal(t, map[string]models.TableRole{
		"Sales":       models.TableRoleFact,
		"Customers":   models.TableRoleDimension,
		"Placeholder": models.TableRoleUnknown,
	}, roles)

	require.Equal(t, 1, diags.Len())
	entry := diags.Entries()[0]
	assert.Equal(t, models.DiagClassificationUnknown, entry.Code)
	assert.Equal(t, []string{"Placeholder"}, entry.Tables)
}

func TestIsNumericColumnType(t *testing.T) {
	tests := []struct {
		dataType string
		expected bool
	}{
		{"INT", true},
		{"bigint", true},
		{"NUMERIC(10, 2)", true},
		{"int unsigned", true},
		{"System.Int64", true},
		{"Double", true},
		{"smallmoney", true},
		{"xs:decimal", true},
		{"varchar(50)", false},
		{"datetime", false},
		{"boolean", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.dataType, func(t *testing.T) {
			assert.Equal(t, tt.expected, isNumericColumnType(tt.dataType))
		})
	}
}
