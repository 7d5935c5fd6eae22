package services

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/ekaya-inc/staging-engine/pkg/models"
)

// TableGraph is the undirected graph of source tables connected by join patterns.
type TableGraph struct {
	// Adjacency list: table -> list of tables it's joined with
	edges map[string][]string
	// All unique tables in the graph
	tables map[string]bool
	// Patterns in insertion order
	patterns []models.JoinPattern
}

// NewTableGraph creates a new empty table graph.
func NewTableGraph() *TableGraph {
	return &TableGraph{
		edges:  make(map[string][]string),
		tables: make(map[string]bool),
	}
}

// AddJoinPattern adds an undirected edge between the pattern's tables.
// Self-joins only register the table.
func (g *TableGraph) AddJoinPattern(p models.JoinPattern) {
	g.tables[p.LeftTable] = true
	g.tables[p.RightTable] = true
	g.patterns = append(g.patterns, p)

	if p.LeftTable == p.RightTable {
		return
	}
	g.edges[p.LeftTable] = append(g.edges[p.LeftTable], p.RightTable)
	g.edges[p.RightTable] = append(g.edges[p.RightTable], p.LeftTable)
}

// AddTable adds a table to the graph without any edges.
// Used to track tables that appear in no join pattern.
func (g *TableGraph) AddTable(table string) {
	g.tables[table] = true
}

// ConnectedComponent is a group of tables connected by join patterns. Tables is sorted.
type ConnectedComponent struct {
	Tables []string
	Size   int
}

// FindConnectedComponents identifies all connected components in the graph using DFS.
// Returns the components with at least two tables, largest first and then by first
// table name, and the sorted list of island tables.
func (g *TableGraph) FindConnectedComponents() ([]ConnectedComponent, []string) {
	visited := make(map[string]bool)
	var components []ConnectedComponent
	var islands []string

	// Start from tables in sorted order so the result never depends on map iteration
	for _, table := range g.sortedTables() {
		if visited[table] {
			continue
		}
		component := g.dfs(table, visited)
		sort.Strings(component)
		if len(component) == 1 {
			islands = append(islands, component[0])
			continue
		}
		components = append(components, ConnectedComponent{
			Tables: component,
			Size:   len(component),
		})
	}

	sort.SliceStable(components, func(i, j int) bool {
		if components[i].Size != components[j].Size {
			return components[i].Size > components[j].Size
		}
		return components[i].Tables[0] < components[j].Tables[0]
	})

	return components, islands
}

// dfs performs an iterative depth-first search starting from a table.
// Returns all tables in the connected component.
func (g *TableGraph) dfs(start string, visited map[string]bool) []string {
	var component []string
	stack := []string{start}

	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if visited[current] {
			continue
		}

		visited[current] = true
		component = append(component, current)

		for _, neighbor := range g.edges[current] {
			if !visited[neighbor] {
				stack = append(stack, neighbor)
			}
		}
	}

	return component
}

func (g *TableGraph) sortedTables() []string {
	tables := make([]string, 0, len(g.tables))
	for t := range g.tables {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	return tables
}

// BuildCandidates turns every connected component into a staging candidate. The
// candidate's joins are all patterns whose endpoints both lie in the component, in
// insertion order. Candidates are ordered by their sorted table list.
func (g *TableGraph) BuildCandidates(components []ConnectedComponent) []models.StagingCandidate {
	candidates := make([]models.StagingCandidate, 0, len(components))
	for _, comp := range components {
		members := make(map[string]bool, len(comp.Tables))
		for _, t := range comp.Tables {
			members[t] = true
		}

		var joins []models.JoinPattern
		for _, p := range g.patterns {
			if members[p.LeftTable] && members[p.RightTable] {
				joins = append(joins, p)
			}
		}

		candidates = append(candidates, models.StagingCandidate{
			Tables: append([]string(nil), comp.Tables...),
			Joins:  joins,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Key() < candidates[j].Key()
	})
	return candidates
}

// LogConnectivity logs the connectivity analysis results in a human-readable format.
func LogConnectivity(
	patternCount int,
	components []ConnectedComponent,
	islands []string,
	logger *zap.Logger,
) {
	logger.Debug("Join graph connectivity analysis:")
	logger.Debug(fmt.Sprintf("  Join patterns: %d", patternCount))

	for i, comp := range components {
		// Show first 5 tables, then "..."
		preview := comp.Tables
		suffix := ""
		if len(comp.Tables) > 5 {
			preview = comp.Tables[:5]
			suffix = fmt.Sprintf(", ... (%d more)", len(comp.Tables)-5)
		}

		logger.Debug(fmt.Sprintf("  Component %d (%d tables): %v%s",
			i+1, comp.Size, preview, suffix))
	}

	if len(islands) > 0 {
		preview := islands
		suffix := ""
		if len(islands) > 5 {
			preview = islands[:5]
			suffix = fmt.Sprintf(", ... (%d more)", len(islands)-5)
		}

		logger.Debug(fmt.Sprintf("  Island tables (%d): %v%s", len(islands), preview, suffix))
	}

	logger.Info("Join graph analyzed",
		zap.Int("join_patterns", patternCount),
		zap.Int("components", len(components)),
		zap.Int("islands", len(islands)))
}
