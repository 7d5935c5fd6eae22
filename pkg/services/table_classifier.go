package services

import (
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/staging-engine/pkg/apperrors"
	"github.com/ekaya-inc/staging-engine/pkg/config"
	"github.com/ekaya-inc/staging-engine/pkg/models"
)

// Classification thresholds.
const (
	factMinNumericColumns = 2   // strictly more than this many numeric columns
	factMinNumericRatio   = 0.2 // and strictly more than this ratio
	factRatioOnlyMin      = 0.3 // ratio-only variant
)

// TableClassifier labels source tables FACT or DIMENSION from their column types.
type TableClassifier interface {
	// Classify returns a role for every named table. Tables that cannot be classified
	// are UNKNOWN and get a diagnostic.
	Classify(tables []models.SchemaTable, diags *models.Diagnostics) map[string]models.TableRole

	// ClassifyTable returns the role of a single table.
	ClassifyTable(table models.SchemaTable) models.TableRole
}

type tableClassifier struct {
	ratioOnly bool
	logger    *zap.Logger
}

// NewTableClassifier creates a new TableClassifier.
func NewTableClassifier(cfg config.ClassifierConfig, logger *zap.Logger) TableClassifier {
	return &tableClassifier{
		ratioOnly: cfg.RatioOnly,
		logger:    logger.Named("table-classifier"),
	}
}

func (c *tableClassifier) Classify(tables []models.SchemaTable, diags *models.Diagnostics) map[string]models.TableRole {
	roles := make(map[string]models.TableRole, len(tables))

	// Sorted so diagnostics come out in a stable order
	sorted := make([]models.SchemaTable, len(tables))
	copy(sorted, tables)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	facts := 0
	for _, t := range sorted {
		if t.Name == "" {
			continue
		}
		role := c.ClassifyTable(t)
		roles[t.Name] = role

		switch role {
		case models.TableRoleUnknown:
			diags.AddError(models.SeverityInfo, &apperrors.ClassificationUnknownWarning{
				Table:  t.Name,
				Reason: "table has no columns",
			}, t.Name)
		case models.TableRoleFact:
			facts++
		}
	}

	c.logger.Debug("Classified tables",
		zap.Int("tables", len(roles)),
		zap.Int("facts", facts))

	return roles
}

func (c *tableClassifier) ClassifyTable(table models.SchemaTable) models.TableRole {
	total := len(table.Columns)
	if total == 0 {
		return models.TableRoleUnknown
	}

	numeric := 0
	for _, col := range table.Columns {
		if isNumericColumnType(col.Type) {
			numeric++
		}
	}
	ratio := float64(numeric) / float64(total)

	if c.ratioOnly {
		if ratio > factRatioOnlyMin {
			return models.TableRoleFact
		}
		return models.TableRoleDimension
	}

	if numeric > factMinNumericColumns && ratio > factMinNumericRatio {
		return models.TableRoleFact
	}
	return models.TableRoleDimension
}

// normalizeColumnType lower-cases a legacy type name and strips XML schema prefixes,
// precision suffixes and modifiers: "xsd:Decimal" -> "decimal", "NUMERIC(18,2)" ->
// "numeric", "int unsigned" -> "int".
func normalizeColumnType(dataType string) string {
	t := strings.ToLower(strings.TrimSpace(dataType))
	for _, prefix := range []string{"xsd:", "xs:", "system."} {
		t = strings.TrimPrefix(t, prefix)
	}
	if i := strings.Index(t, "("); i >= 0 {
		t = t[:i]
	}
	t = strings.TrimSuffix(t, " unsigned")
	t = strings.TrimSuffix(t, " signed")
	return strings.TrimSpace(t)
}

// isNumericColumnType returns true for integer, decimal, floating point and
// currency types, including the descriptive names BI tools use.
func isNumericColumnType(dataType string) bool {
	switch normalizeColumnType(dataType) {
	// Integer types
	case "integer", "int", "int2", "int4", "int8", "int16", "int32", "int64",
		"bigint", "smallint", "tinyint", "mediumint", "long", "short", "byte",
		"unsignedint", "unsignedlong", "unsignedshort", "unsignedbyte",
		"nonnegativeinteger", "positiveinteger", "negativeinteger", "nonpositiveinteger",
		"whole number", "wholenumber":
		return true
	// Serial types (auto-increment integers)
	case "serial", "bigserial", "smallserial":
		return true
	// Decimal/float types
	case "numeric", "decimal", "dec", "number", "real", "double", "double precision",
		"float", "float4", "float8", "single",
		"decimal number", "decimalnumber", "fixed decimal number", "fixeddecimalnumber":
		return true
	// Currency types
	case "money", "smallmoney", "currency":
		return true
	}
	return false
}
