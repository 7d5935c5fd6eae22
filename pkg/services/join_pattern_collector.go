package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/ekaya-inc/staging-engine/pkg/apperrors"
	"github.com/ekaya-inc/staging-engine/pkg/logging"
	"github.com/ekaya-inc/staging-engine/pkg/models"
	"github.com/ekaya-inc/staging-engine/pkg/sql"
)

// JoinPatternCollector normalizes explicit relationships, parsed query joins and
// co-usage evidence into one list of join patterns.
type JoinPatternCollector interface {
	// CollectJoinPatterns returns explicit patterns first, then parsed, then inferred,
	// each in input order. Evidence that cannot be normalized is dropped with a
	// diagnostic.
	CollectJoinPatterns(input *models.SchemaInput, diags *models.Diagnostics) []models.JoinPattern
}

type joinPatternCollector struct {
	logger *zap.Logger
}

// NewJoinPatternCollector creates a new JoinPatternCollector.
func NewJoinPatternCollector(logger *zap.Logger) JoinPatternCollector {
	return &joinPatternCollector{
		logger: logger.Named("join-collector"),
	}
}

// rawJoin is the common shape of a relationship or a query join before normalization.
type rawJoin struct {
	leftTable    string
	rightTable   string
	leftColumns  []string
	rightColumns []string
	joinType     string
	origin       string
}

// queryEvidence is what one query contributes: its joins and the columns it touches per table.
type queryEvidence struct {
	origin     string
	joins      []rawJoin
	references []models.FieldReference
}

func (c *joinPatternCollector) CollectJoinPatterns(input *models.SchemaInput, diags *models.Diagnostics) []models.JoinPattern {
	resolver := newTableResolver(input.Tables)
	var patterns []models.JoinPattern

	// Explicit relationships
	for i, rel := range input.Relationships {
		raw := rawJoin{
			leftTable:    rel.LeftTable,
			rightTable:   rel.RightTable,
			leftColumns:  rel.LeftColumns,
			rightColumns: rel.RightColumns,
			joinType:     rel.JoinType,
			origin:       fmt.Sprintf("relationship[%d]", i),
		}
		p, ok := c.normalize(resolver, raw, diags)
		if !ok {
			continue
		}

		shape := MapLegacyBounds(rel.LeftMinCard, rel.RightMinCard, p.LeftTable, p.RightTable)
		if rel.JoinType == "" {
			p.JoinType = shape.JoinType
		}
		if shape.Ambiguous {
			c.logger.Debug("Ambiguous legacy cardinality, using alphabetical tie-break",
				zap.String("origin", raw.origin),
				zap.String("left_table", p.LeftTable),
				zap.String("right_table", p.RightTable),
				zap.String("cardinality", string(shape.Cardinality)))
		}
		p.Cardinality = shape.Cardinality
		p.CrossFilter = shape.CrossFilter
		p.Source = models.JoinSourceExplicitRelationship
		p.Confidence = models.ConfidenceExplicitRelationship
		patterns = append(patterns, p)
	}

	// Parsed query joins
	evidence := c.gatherQueryEvidence(input.Queries, diags)
	for _, ev := range evidence {
		for _, raw := range ev.joins {
			p, ok := c.normalize(resolver, raw, diags)
			if !ok {
				continue
			}
			p.Source = models.JoinSourceParsedQuery
			p.Confidence = models.ConfidenceParsedQuery
			patterns = append(patterns, p)
		}
	}

	// Co-usage inference against the patterns found so far
	patterns = append(patterns, c.inferFromCoUsage(resolver, evidence, patterns, diags)...)

	for i := range patterns {
		patterns[i].Ordinal = i
	}

	c.logger.Debug("Collected join patterns",
		zap.Int("relationships", len(input.Relationships)),
		zap.Int("queries", len(input.Queries)),
		zap.Int("patterns", len(patterns)))

	return patterns
}

// gatherQueryEvidence reads each query's joins and field references, parsing the SQL
// text only when the caller did not supply them.
func (c *joinPatternCollector) gatherQueryEvidence(queries []models.QueryRecord, diags *models.Diagnostics) []queryEvidence {
	evidence := make([]queryEvidence, 0, len(queries))
	for i, q := range queries {
		ev := queryEvidence{
			origin:     fmt.Sprintf("query[%d]", i),
			references: q.FieldReferences,
		}

		for _, j := range q.Joins {
			ev.joins = append(ev.joins, rawJoin{
				leftTable:    j.LeftTable,
				rightTable:   j.RightTable,
				leftColumns:  j.LeftColumns,
				rightColumns: j.RightColumns,
				joinType:     j.JoinType,
				origin:       ev.origin,
			})
		}

		needJoins := len(q.Joins) == 0
		needRefs := len(q.FieldReferences) == 0
		if (needJoins || needRefs) && strings.TrimSpace(q.SQL) != "" {
			parsed, err := sql.ParseQuery(q.SQL)
			if err != nil {
				detail := "could not be parsed"
				if errors.Is(err, sql.ErrNotSelect) {
					detail = "is not a SELECT statement"
				}
				diags.Add(models.SeverityInfo, models.DiagQueryParseFailed,
					fmt.Sprintf("%s %s: %s", ev.origin, detail, logging.SanitizeQuery(q.SQL)))
			} else {
				if needJoins {
					for _, j := range parsed.Joins {
						ev.joins = append(ev.joins, rawJoin{
							leftTable:    j.LeftTable,
							rightTable:   j.RightTable,
							leftColumns:  j.LeftColumns,
							rightColumns: j.RightColumns,
							joinType:     j.JoinType,
							origin:       ev.origin,
						})
					}
				}
				if needRefs {
					for _, r := range parsed.References {
						ev.references = append(ev.references, models.FieldReference{Table: r.Table, Column: r.Column})
					}
				}
			}
		}

		evidence = append(evidence, ev)
	}
	return evidence
}

// normalize resolves table names and validates column lists. Source and confidence
// are left for the caller.
func (c *joinPatternCollector) normalize(resolver *tableResolver, raw rawJoin, diags *models.Diagnostics) (models.JoinPattern, bool) {
	left, leftOK := resolver.resolve(raw.leftTable)
	right, rightOK := resolver.resolve(raw.rightTable)
	if !leftOK || !rightOK {
		for _, missing := range []struct {
			name string
			ok   bool
		}{{raw.leftTable, leftOK}, {raw.rightTable, rightOK}} {
			if !missing.ok {
				diags.AddError(models.SeverityWarn,
					&apperrors.MissingTableError{Table: missing.name, Origin: raw.origin}, missing.name)
			}
		}
		return models.JoinPattern{}, false
	}

	if left == right {
		diags.Add(models.SeverityWarn, models.DiagInvalidJoin,
			fmt.Sprintf("self-join on %q from %s ignored", left, raw.origin), left)
		return models.JoinPattern{}, false
	}

	leftCols := cleanColumns(raw.leftColumns)
	rightCols := cleanColumns(raw.rightColumns)
	var detail string
	switch {
	case len(leftCols) == 0 || len(rightCols) == 0:
		detail = "no join columns"
	case len(leftCols) != len(rightCols):
		detail = fmt.Sprintf("%d left columns but %d right columns", len(leftCols), len(rightCols))
	}
	if detail != "" {
		diags.AddError(models.SeverityWarn, &apperrors.UnresolvableJoinKeysError{
			LeftTable:  left,
			RightTable: right,
			Origin:     raw.origin,
			Detail:     detail,
		}, left, right)
		return models.JoinPattern{}, false
	}

	joinType, known := models.ParseJoinType(raw.joinType)
	if !known && raw.joinType != "" {
		c.logger.Debug("Unrecognized join type, using INNER",
			zap.String("origin", raw.origin),
			zap.String("join_type", raw.joinType))
	}

	return models.JoinPattern{
		LeftTable:    left,
		RightTable:   right,
		LeftColumns:  leftCols,
		RightColumns: rightCols,
		JoinType:     joinType,
		Origin:       raw.origin,
	}, true
}

// inferFromCoUsage emits an INFERRED pattern for every pair of tables a query touches
// together when an explicit or parsed pattern already connects them. The supporting
// pattern supplies the columns; one whose columns the query actually uses is preferred.
func (c *joinPatternCollector) inferFromCoUsage(
	resolver *tableResolver,
	evidence []queryEvidence,
	known []models.JoinPattern,
	diags *models.Diagnostics,
) []models.JoinPattern {
	var inferred []models.JoinPattern
	seen := make(map[string]bool)

	for _, ev := range evidence {
		used := make(map[string]map[string]bool)
		var tables []string
		missingReported := make(map[string]bool)

		for _, ref := range ev.references {
			table, ok := resolver.resolve(ref.Table)
			if !ok {
				if ref.Table != "" && !missingReported[ref.Table] {
					missingReported[ref.Table] = true
					diags.AddError(models.SeverityInfo,
						&apperrors.MissingTableError{Table: ref.Table, Origin: ev.origin}, ref.Table)
				}
				continue
			}
			if used[table] == nil {
				used[table] = make(map[string]bool)
				tables = append(tables, table)
			}
			if col := strings.TrimSpace(ref.Column); col != "" {
				used[table][strings.ToLower(col)] = true
			}
		}

		if len(tables) < 2 {
			continue
		}
		sort.Strings(tables)

		for i := 0; i < len(tables); i++ {
			for j := i + 1; j < len(tables); j++ {
				support, ok := pickSupportingPattern(known, tables[i], tables[j], used)
				if !ok {
					continue
				}

				key := support.LeftTable + "\x00" + support.RightTable + "\x00" +
					strings.Join(support.LeftColumns, ",") + "\x00" + strings.Join(support.RightColumns, ",")
				if seen[key] {
					continue
				}
				seen[key] = true

				inferred = append(inferred, models.JoinPattern{
					LeftTable:    support.LeftTable,
					RightTable:   support.RightTable,
					LeftColumns:  append([]string(nil), support.LeftColumns...),
					RightColumns: append([]string(nil), support.RightColumns...),
					JoinType:     support.JoinType,
					Confidence:   models.ConfidenceInferred,
					Source:       models.JoinSourceInferred,
					Origin:       ev.origin,
				})
			}
		}
	}

	return inferred
}

// pickSupportingPattern finds the known pattern between a and b that best explains a
// query's co-usage: one whose columns are all referenced by the query, otherwise the
// most confident one. Earlier patterns win ties.
func pickSupportingPattern(known []models.JoinPattern, a, b string, used map[string]map[string]bool) (models.JoinPattern, bool) {
	var best, bestCovered models.JoinPattern
	found, foundCovered := false, false

	for _, p := range known {
		if !p.Connects(a, b) {
			continue
		}
		if !found || p.Confidence > best.Confidence {
			best = p
			found = true
		}
		if covers(p, used) && (!foundCovered || p.Confidence > bestCovered.Confidence) {
			bestCovered = p
			foundCovered = true
		}
	}

	if foundCovered {
		return bestCovered, true
	}
	return best, found
}

func covers(p models.JoinPattern, used map[string]map[string]bool) bool {
	for _, col := range p.LeftColumns {
		if !used[p.LeftTable][strings.ToLower(col)] {
			return false
		}
	}
	for _, col := range p.RightColumns {
		if !used[p.RightTable][strings.ToLower(col)] {
			return false
		}
	}
	return true
}

func cleanColumns(columns []string) []string {
	var out []string
	for _, c := range columns {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

// ============================================================================
// Table name resolution
// ============================================================================

// tableResolver maps the table names used by relationships and report SQL onto the
// schema's table names. Report SQL often schema-qualifies, changes case or uses the
// singular form of a pluralized table.
type tableResolver struct {
	exact    map[string]string
	folded   map[string]string
	segment  map[string]string
	singular map[string]string
}

func newTableResolver(tables []models.SchemaTable) *tableResolver {
	r := &tableResolver{
		exact:    make(map[string]string, len(tables)),
		folded:   make(map[string]string, len(tables)),
		segment:  make(map[string]string, len(tables)),
		singular: make(map[string]string, len(tables)),
	}
	for _, t := range tables {
		if t.Name == "" {
			continue
		}
		r.exact[t.Name] = t.Name
		addCanonical(r.folded, strings.ToLower(t.Name), t.Name)
		seg := lastSegment(t.Name)
		addCanonical(r.segment, seg, t.Name)
		addCanonical(r.singular, inflection.Singular(seg), t.Name)
	}
	return r
}

// addCanonical keeps the alphabetically smallest table for an ambiguous key so the
// outcome does not depend on schema order.
func addCanonical(index map[string]string, key, name string) {
	if existing, ok := index[key]; ok && existing <= name {
		return
	}
	index[key] = name
}

func (r *tableResolver) resolve(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false
	}
	if t, ok := r.exact[name]; ok {
		return t, true
	}
	if t, ok := r.folded[strings.ToLower(name)]; ok {
		return t, true
	}
	seg := lastSegment(name)
	if t, ok := r.segment[seg]; ok {
		return t, true
	}
	if t, ok := r.singular[inflection.Singular(seg)]; ok {
		return t, true
	}
	return "", false
}

// lastSegment returns the lower-cased name after the last dot, dropping schema qualifiers.
func lastSegment(name string) string {
	name = strings.ToLower(name)
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i+1:]
	}
	return name
}
