package services

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/staging-engine/pkg/apperrors"
	"github.com/ekaya-inc/staging-engine/pkg/config"
	"github.com/ekaya-inc/staging-engine/pkg/models"
)

// maxNamedTables is the largest candidate whose staging table name lists every table.
const maxNamedTables = 4

// StagingTableSynthesizer turns an accepted candidate and its keys into a staging
// table definition with an abstract join plan.
type StagingTableSynthesizer interface {
	// Synthesize never fails. A join plan that cannot reach every table is completed
	// with keyless steps and a diagnostic.
	Synthesize(candidate *models.StagingCandidate, keys []models.SharedKey, diags *models.Diagnostics) models.StagingTableDefinition
}

type stagingTableSynthesizer struct {
	prefix string
	logger *zap.Logger
}

// NewStagingTableSynthesizer creates a new StagingTableSynthesizer.
func NewStagingTableSynthesizer(cfg config.StagingConfig, logger *zap.Logger) StagingTableSynthesizer {
	return &stagingTableSynthesizer{
		prefix: cfg.Prefix,
		logger: logger.Named("staging-synthesizer"),
	}
}

func (s *stagingTableSynthesizer) Synthesize(
	candidate *models.StagingCandidate,
	keys []models.SharedKey,
	diags *models.Diagnostics,
) models.StagingTableDefinition {
	tables := append([]string(nil), candidate.Tables...)
	sort.Strings(tables)

	name := StagingTableName(s.prefix, tables)

	owned := make([]models.SharedKey, len(keys))
	for i, k := range keys {
		k.Owner = name
		owned[i] = k
	}

	stagingType := candidate.StagingType
	if stagingType == "" {
		stagingType = models.StagingTypeFor(len(tables))
	}

	def := models.StagingTableDefinition{
		ID:               models.NewStagingID(name),
		Name:             name,
		StagingType:      stagingType,
		ComplexityScore:  candidate.ComplexityScore,
		SourceTables:     tables,
		SharedKeys:       owned,
		JoinPatterns:     append([]models.JoinPattern(nil), candidate.Joins...),
		AbstractJoinPlan: buildJoinPlan(tables, candidate.Joins, diags),
	}

	s.logger.Debug("Synthesized staging table",
		zap.String("name", def.Name),
		zap.String("staging_type", string(def.StagingType)),
		zap.Int("source_tables", len(def.SourceTables)),
		zap.Int("shared_keys", len(def.SharedKeys)))

	return def
}

// StagingTableName derives the staging table name from the sorted source tables.
func StagingTableName(prefix string, sortedTables []string) string {
	parts := make([]string, len(sortedTables))
	for i, t := range sortedTables {
		parts[i] = sanitizeNamePart(t)
	}

	if len(parts) > maxNamedTables {
		return fmt.Sprintf("%sHub_%dTables", prefix, len(parts))
	}
	return prefix + strings.Join(parts, "_")
}

// sanitizeNamePart replaces characters that are awkward in a table name, such as
// schema dots and spaces.
func sanitizeNamePart(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', ' ', '-', '/', '\\', '[', ']', '"', '`':
			return '_'
		}
		return r
	}, name)
}

// AssignUniqueNames makes staging table names unique across the run and distinct from
// every reserved (source) table name. Definitions must be in a deterministic order;
// later duplicates get "_2", "_3", ... IDs and key owners follow the final name.
func AssignUniqueNames(defs []models.StagingTableDefinition, reserved []string) {
	used := make(map[string]bool, len(reserved)+len(defs))
	for _, r := range reserved {
		used[r] = true
	}

	for i := range defs {
		base := defs[i].Name
		name := base
		for n := 2; used[name]; n++ {
			name = fmt.Sprintf("%s_%d", base, n)
		}
		used[name] = true

		if name == base {
			continue
		}
		defs[i].Name = name
		defs[i].ID = models.NewStagingID(name)
		for k := range defs[i].SharedKeys {
			defs[i].SharedKeys[k].Owner = name
		}
	}
}

// buildJoinPlan orders the candidate's tables into a join sequence. Starting from the
// alphabetically smallest table, each step takes the most confident pattern that
// reaches a new table; ties go to the smaller new table, then the earlier pattern.
func buildJoinPlan(sortedTables []string, joins []models.JoinPattern, diags *models.Diagnostics) []models.JoinStep {
	if len(sortedTables) == 0 {
		return nil
	}

	members := make(map[string]bool, len(sortedTables))
	for _, t := range sortedTables {
		members[t] = true
	}

	root := sortedTables[0]
	plan := []models.JoinStep{{Table: root}}
	joined := map[string]bool{root: true}

	for len(joined) < len(sortedTables) {
		var best *models.JoinPattern
		var bestFrom, bestNew string

		for i := range joins {
			p := &joins[i]
			if !members[p.LeftTable] || !members[p.RightTable] {
				continue
			}

			var from, next string
			switch {
			case joined[p.LeftTable] && !joined[p.RightTable]:
				from, next = p.LeftTable, p.RightTable
			case joined[p.RightTable] && !joined[p.LeftTable]:
				from, next = p.RightTable, p.LeftTable
			default:
				continue
			}

			if best == nil || betterPlanEdge(p, next, best, bestNew) {
				best, bestFrom, bestNew = p, from, next
			}
		}

		if best == nil {
			break
		}

		plan = append(plan, planStep(best, bestFrom, bestNew))
		joined[bestNew] = true
	}

	for _, t := range sortedTables {
		if joined[t] {
			continue
		}
		diags.AddError(models.SeverityWarn, &apperrors.UnresolvableJoinKeysError{
			LeftTable:  root,
			RightTable: t,
			Detail:     "no join pattern reaches the table; joined without keys",
		}, t)
		plan = append(plan, models.JoinStep{
			Table:    t,
			JoinType: models.JoinInner,
			JoinedTo: root,
		})
		joined[t] = true
	}

	return plan
}

func betterPlanEdge(p *models.JoinPattern, next string, best *models.JoinPattern, bestNew string) bool {
	if p.Confidence != best.Confidence {
		return p.Confidence > best.Confidence
	}
	if next != bestNew {
		return next < bestNew
	}
	return p.Ordinal < best.Ordinal
}

// planStep orients p so the keys on the joined side come first.
func planStep(p *models.JoinPattern, from, next string) models.JoinStep {
	joinType := p.JoinType
	if !models.IsValidJoinType(joinType) {
		joinType = models.JoinInner
	}

	step := models.JoinStep{
		Table:    next,
		JoinedTo: from,
	}
	if p.LeftTable == from {
		step.JoinType = joinType
		step.OnLeftKeys = append([]string(nil), p.LeftColumns...)
		step.OnRightKeys = append([]string(nil), p.RightColumns...)
	} else {
		step.JoinType = joinType.Mirror()
		step.OnLeftKeys = append([]string(nil), p.RightColumns...)
		step.OnRightKeys = append([]string(nil), p.LeftColumns...)
	}
	return step
}
