package services

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/ekaya-inc/staging-engine/pkg/apperrors"
	"github.com/ekaya-inc/staging-engine/pkg/config"
	"github.com/ekaya-inc/staging-engine/pkg/models"
)

// RelationshipGraphBuilder generates the relationships between staging tables and
// their source tables and keeps at most one of them active per table pair.
type RelationshipGraphBuilder interface {
	// BuildRelationships generates staging, imported and internal relationships for
	// the definitions and resolves conflicts between them.
	BuildRelationships(
		defs []models.StagingTableDefinition,
		roles map[string]models.TableRole,
		patterns []models.JoinPattern,
		diags *models.Diagnostics,
	) []models.StagingRelationship

	// ResolveConflicts leaves exactly one active relationship per unordered table
	// pair. Internal staging relationships are never activated.
	ResolveConflicts(rels []models.StagingRelationship, diags *models.Diagnostics) []models.StagingRelationship

	// BreakCycles deactivates every active relationship that would close a filter
	// cycle, so the active relationships form a forest. Staging relationships are
	// kept in preference to imported source relationships.
	BreakCycles(rels []models.StagingRelationship, diags *models.Diagnostics) []models.StagingRelationship
}

type relationshipGraphBuilder struct {
	separator        string
	importSource     bool
	createInternal   bool
	deactivateLosers bool
	logger           *zap.Logger
}

// NewRelationshipGraphBuilder creates a new RelationshipGraphBuilder.
func NewRelationshipGraphBuilder(cfg config.StagingConfig, logger *zap.Logger) RelationshipGraphBuilder {
	return &relationshipGraphBuilder{
		separator:        cfg.KeySeparator,
		importSource:     cfg.ImportSourceRelationships,
		createInternal:   cfg.CreateInternalStagingRelationships,
		deactivateLosers: cfg.DeactivateConflictingRelationships,
		logger:           logger.Named("relationship-builder"),
	}
}

func (b *relationshipGraphBuilder) BuildRelationships(
	defs []models.StagingTableDefinition,
	roles map[string]models.TableRole,
	patterns []models.JoinPattern,
	diags *models.Diagnostics,
) []models.StagingRelationship {
	var rels []models.StagingRelationship

	for i := range defs {
		rels = append(rels, b.stagingRelationships(&defs[i], roles, diags)...)
	}
	if b.importSource {
		rels = append(rels, b.sourceRelationships(patterns)...)
	}
	if b.createInternal {
		rels = append(rels, b.internalRelationships(defs)...)
	}

	assignRelationshipIDs(rels)
	resolved := b.BreakCycles(b.ResolveConflicts(rels, diags), diags)

	active := 0
	for _, r := range resolved {
		if r.IsActive {
			active++
		}
	}
	b.logger.Debug("Built relationship graph",
		zap.Int("staging_tables", len(defs)),
		zap.Int("relationships", len(resolved)),
		zap.Int("active", active))

	return resolved
}

// stagingRelationships links one staging table to each of its source tables through
// every shared key that targets the table. Direction depends on the table's role.
func (b *relationshipGraphBuilder) stagingRelationships(
	def *models.StagingTableDefinition,
	roles map[string]models.TableRole,
	diags *models.Diagnostics,
) []models.StagingRelationship {
	var rels []models.StagingRelationship

	for _, table := range def.SourceTables {
		role, ok := roles[table]
		if !ok {
			role = models.TableRoleUnknown
		}

		if role == models.TableRoleUnknown {
			diags.AddError(models.SeverityWarn, &apperrors.ClassificationUnknownWarning{
				Table:  table,
				Reason: fmt.Sprintf("no relationship generated to %s", def.Name),
			}, table, def.Name)
			continue
		}

		bound := 0
		for _, key := range def.SharedKeys {
			if !key.Targets(table) {
				continue
			}
			column := key.Name
			if !key.IsComposite {
				if cols := key.TableColumns[table]; len(cols) > 0 {
					column = cols[0]
				}
			}

			rel := models.StagingRelationship{
				CrossFilter: models.CrossFilterSingle,
				IsActive:    true,
				IsComposite: key.IsComposite,
			}
			if role == models.TableRoleFact {
				rel.FromTable, rel.FromColumn = def.Name, key.Name
				rel.ToTable, rel.ToColumn = table, column
				rel.Cardinality = models.CardinalityOneToMany
				rel.Kind = models.RelationshipKindStagingToFact
			} else {
				rel.FromTable, rel.FromColumn = table, column
				rel.ToTable, rel.ToColumn = def.Name, key.Name
				rel.Cardinality = models.CardinalityManyToOne
				rel.Kind = models.RelationshipKindFactToStaging
			}
			rels = append(rels, rel)
			bound++
		}

		if bound == 0 {
			diags.AddError(models.SeverityWarn, &apperrors.UnresolvableJoinKeysError{
				LeftTable:  def.Name,
				RightTable: table,
				Detail:     "no shared key targets the table",
			}, def.Name, table)
		}
	}

	return rels
}

// sourceRelationships imports every explicit legacy relationship. Composite ones bind
// on the surrogate column both sides gain.
func (b *relationshipGraphBuilder) sourceRelationships(patterns []models.JoinPattern) []models.StagingRelationship {
	var rels []models.StagingRelationship
	for _, p := range patterns {
		if p.Source != models.JoinSourceExplicitRelationship || len(p.LeftColumns) == 0 {
			continue
		}

		fromColumn, toColumn := p.LeftColumns[0], p.RightColumns[0]
		if p.IsComposite() {
			name := SurrogateKeyName(dedupStrings(append(append([]string(nil), p.LeftColumns...), p.RightColumns...)), b.separator)
			fromColumn, toColumn = name, name
		}

		cardinality := p.Cardinality
		if cardinality == "" {
			cardinality = MapLegacyBounds(models.BoundUnknown, models.BoundUnknown, p.LeftTable, p.RightTable).Cardinality
		}
		crossFilter := p.CrossFilter
		if crossFilter == "" {
			crossFilter = models.CrossFilterSingle
		}

		rels = append(rels, models.StagingRelationship{
			FromTable:   p.LeftTable,
			FromColumn:  fromColumn,
			ToTable:     p.RightTable,
			ToColumn:    toColumn,
			Cardinality: cardinality,
			CrossFilter: crossFilter,
			IsActive:    true,
			Kind:        models.RelationshipKindSourceRelationship,
			IsComposite: p.IsComposite(),
		})
	}
	return rels
}

// internalRelationships links staging tables that expose a key with the same name.
// They are created inactive because activating them would close a filter cycle
// through the shared source tables.
func (b *relationshipGraphBuilder) internalRelationships(defs []models.StagingTableDefinition) []models.StagingRelationship {
	sorted := make([]*models.StagingTableDefinition, len(defs))
	for i := range defs {
		sorted[i] = &defs[i]
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var rels []models.StagingRelationship
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			shared, composite, ok := firstCommonKey(sorted[i], sorted[j])
			if !ok {
				continue
			}
			rels = append(rels, models.StagingRelationship{
				FromTable:          sorted[i].Name,
				FromColumn:         shared,
				ToTable:            sorted[j].Name,
				ToColumn:           shared,
				Cardinality:        models.CardinalityManyToMany,
				CrossFilter:        models.CrossFilterSingle,
				IsActive:           false,
				Kind:               models.RelationshipKindStagingInternal,
				IsComposite:        composite,
				DeactivationReason: models.DeactivationCyclePrevention,
			})
		}
	}
	return rels
}

// firstCommonKey returns the alphabetically first key name both definitions expose.
func firstCommonKey(a, b *models.StagingTableDefinition) (string, bool, bool) {
	names := make(map[string]bool, len(b.SharedKeys))
	for _, k := range b.SharedKeys {
		names[k.Name] = true
	}

	var common []models.SharedKey
	for _, k := range a.SharedKeys {
		if names[k.Name] {
			common = append(common, k)
		}
	}
	if len(common) == 0 {
		return "", false, false
	}
	sort.SliceStable(common, func(i, j int) bool { return common[i].Name < common[j].Name })
	return common[0].Name, common[0].IsComposite, true
}

func (b *relationshipGraphBuilder) ResolveConflicts(rels []models.StagingRelationship, diags *models.Diagnostics) []models.StagingRelationship {
	groups := make(map[string][]int)
	var pairs []string
	for i := range rels {
		if rels[i].Kind == models.RelationshipKindStagingInternal {
			continue
		}
		key := rels[i].PairKey()
		if _, ok := groups[key]; !ok {
			pairs = append(pairs, key)
		}
		groups[key] = append(groups[key], i)
	}
	sort.Strings(pairs)

	dropped := make(map[int]bool)
	for _, pair := range pairs {
		members := groups[pair]
		sort.SliceStable(members, func(i, j int) bool {
			return relationshipLess(&rels[members[i]], &rels[members[j]])
		})

		winner := members[0]
		for _, idx := range members {
			if rels[idx].Kind == models.RelationshipKindStagingToFact {
				winner = idx
				break
			}
		}
		rels[winner].IsActive = true
		rels[winner].DeactivationReason = ""

		for _, idx := range members {
			if idx == winner {
				continue
			}
			reason := models.DeactivationMultipleRelationships
			if rels[idx].IsComposite || rels[winner].IsComposite {
				reason = models.DeactivationCompositeKeys
			}

			if b.deactivateLosers {
				rels[idx].Deactivate(reason)
				diags.Add(models.SeverityInfo, models.DiagRelationshipDeactivated,
					fmt.Sprintf("%s deactivated (%s); %s stays active",
						describeRelationship(&rels[idx]), reason, describeRelationship(&rels[winner])),
					rels[idx].FromTable, rels[idx].ToTable)
				continue
			}

			dropped[idx] = true
			diags.Add(models.SeverityInfo, models.DiagRelationshipDropped,
				fmt.Sprintf("%s dropped (%s); %s stays active",
					describeRelationship(&rels[idx]), reason, describeRelationship(&rels[winner])),
				rels[idx].FromTable, rels[idx].ToTable)
		}
	}

	if len(dropped) == 0 {
		return rels
	}
	kept := make([]models.StagingRelationship, 0, len(rels)-len(dropped))
	for i := range rels {
		if !dropped[i] {
			kept = append(kept, rels[i])
		}
	}
	return kept
}

func (b *relationshipGraphBuilder) BreakCycles(rels []models.StagingRelationship, diags *models.Diagnostics) []models.StagingRelationship {
	var order []int
	for i := range rels {
		if rels[i].IsActive && rels[i].Kind != models.RelationshipKindStagingInternal {
			order = append(order, i)
		}
	}
	sort.SliceStable(order, func(i, j int) bool {
		a, c := &rels[order[i]], &rels[order[j]]
		if ra, rc := cycleRank(a.Kind), cycleRank(c.Kind); ra != rc {
			return ra < rc
		}
		return relationshipLess(a, c)
	})

	forest := newTableForest()
	dropped := make(map[int]bool)
	for _, idx := range order {
		if forest.union(rels[idx].FromTable, rels[idx].ToTable) {
			continue
		}

		if b.deactivateLosers {
			rels[idx].Deactivate(models.DeactivationCyclePrevention)
			diags.Add(models.SeverityInfo, models.DiagRelationshipDeactivated,
				fmt.Sprintf("%s deactivated (%s); its tables are already connected",
					describeRelationship(&rels[idx]), models.DeactivationCyclePrevention),
				rels[idx].FromTable, rels[idx].ToTable)
			continue
		}

		dropped[idx] = true
		diags.Add(models.SeverityInfo, models.DiagRelationshipDropped,
			fmt.Sprintf("%s dropped (%s); its tables are already connected",
				describeRelationship(&rels[idx]), models.DeactivationCyclePrevention),
			rels[idx].FromTable, rels[idx].ToTable)
	}

	if len(dropped) == 0 {
		return rels
	}
	kept := make([]models.StagingRelationship, 0, len(rels)-len(dropped))
	for i := range rels {
		if !dropped[i] {
			kept = append(kept, rels[i])
		}
	}
	return kept
}

// cycleRank orders relationship kinds for cycle breaking; lower ranks are kept.
func cycleRank(kind models.RelationshipKind) int {
	switch kind {
	case models.RelationshipKindStagingToFact:
		return 0
	case models.RelationshipKindFactToStaging:
		return 1
	default:
		return 2
	}
}

// tableForest is a union-find over table names.
type tableForest struct {
	parent map[string]string
}

func newTableForest() *tableForest {
	return &tableForest{parent: make(map[string]string)}
}

func (f *tableForest) find(table string) string {
	root := table
	for {
		p, ok := f.parent[root]
		if !ok || p == root {
			break
		}
		root = p
	}
	for table != root {
		next := f.parent[table]
		f.parent[table] = root
		table = next
	}
	return root
}

// union joins the trees of a and b. It returns false when they were already joined.
func (f *tableForest) union(a, b string) bool {
	ra, rb := f.find(a), f.find(b)
	if ra == rb {
		return false
	}
	if rb < ra {
		ra, rb = rb, ra
	}
	f.parent[rb] = ra
	return true
}

// relationshipLess orders relationships by endpoints, then kind.
func relationshipLess(a, b *models.StagingRelationship) bool {
	if a.FromTable != b.FromTable {
		return a.FromTable < b.FromTable
	}
	if a.FromColumn != b.FromColumn {
		return a.FromColumn < b.FromColumn
	}
	if a.ToTable != b.ToTable {
		return a.ToTable < b.ToTable
	}
	if a.ToColumn != b.ToColumn {
		return a.ToColumn < b.ToColumn
	}
	return a.Kind < b.Kind
}

func describeRelationship(r *models.StagingRelationship) string {
	return fmt.Sprintf("%s.%s -> %s.%s", r.FromTable, r.FromColumn, r.ToTable, r.ToColumn)
}

// assignRelationshipIDs derives each ID from the relationship's signature. Repeated
// signatures get an occurrence suffix so IDs stay unique.
func assignRelationshipIDs(rels []models.StagingRelationship) {
	seen := make(map[string]int, len(rels))
	for i := range rels {
		sig := rels[i].Signature()
		seen[sig]++
		if n := seen[sig]; n > 1 {
			sig = fmt.Sprintf("%s#%d", sig, n)
		}
		rels[i].ID = models.NewStagingID(sig)
	}
}
