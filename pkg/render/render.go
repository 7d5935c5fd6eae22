// Package render writes a synthesis result for people or for downstream tooling.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/ekaya-inc/staging-engine/pkg/models"
)

// Format selects the output encoding.
type Format string

const (
	FormatJSON  Format = "json"
	FormatTable Format = "table"
)

// ValidFormats contains all valid output formats.
var ValidFormats = []Format{FormatJSON, FormatTable}

// IsValidFormat checks if the given format is valid.
func IsValidFormat(f Format) bool {
	for _, v := range ValidFormats {
		if v == f {
			return true
		}
	}
	return false
}

// Result writes result to w in the requested format.
func Result(w io.Writer, result *models.SynthesisResult, format Format) error {
	switch format {
	case FormatJSON:
		return JSON(w, result)
	case FormatTable:
		Tables(w, result)
		return nil
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

// JSON writes result as indented JSON.
func JSON(w io.Writer, result *models.SynthesisResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return nil
}

// Tables writes one box table per result section. Empty sections are skipped.
func Tables(w io.Writer, result *models.SynthesisResult) {
	if len(result.TableRoles) > 0 {
		renderRoles(w, result.TableRoles)
	}
	if len(result.StagingTables) > 0 {
		renderStagingTables(w, result.StagingTables)
	}
	if len(result.SharedKeys) > 0 {
		renderSharedKeys(w, result.SharedKeys)
	}
	if len(result.Relationships) > 0 {
		renderRelationships(w, result.Relationships)
	}
	if len(result.Diagnostics) > 0 {
		renderDiagnostics(w, result.Diagnostics)
	}
}

func newWriter(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle(title)
	return t
}

func renderRoles(w io.Writer, roles map[string]models.TableRole) {
	names := make([]string, 0, len(roles))
	for name := range roles {
		names = append(names, name)
	}
	sort.Strings(names)

	t := newWriter(w, "Table roles")
	t.AppendHeader(table.Row{"Table", "Role"})
	for _, name := range names {
		t.AppendRow(table.Row{name, roles[name]})
	}
	t.Render()
}

func renderStagingTables(w io.Writer, defs []models.StagingTableDefinition) {
	t := newWriter(w, "Staging tables")
	t.AppendHeader(table.Row{"Name", "Type", "Score", "Source tables", "Join plan"})
	for _, d := range defs {
		t.AppendRow(table.Row{
			d.Name,
			d.StagingType,
			fmt.Sprintf("%.2f", d.ComplexityScore),
			strings.Join(d.SourceTables, ", "),
			joinPlan(d.AbstractJoinPlan),
		})
	}
	t.Render()
}

// joinPlan renders a plan as "A INNER B LEFT C".
func joinPlan(steps []models.JoinStep) string {
	parts := make([]string, 0, len(steps)*2)
	for i, s := range steps {
		if i > 0 {
			parts = append(parts, string(s.JoinType))
		}
		parts = append(parts, s.Table)
	}
	return strings.Join(parts, " ")
}

func renderSharedKeys(w io.Writer, keys []models.SharedKey) {
	t := newWriter(w, "Shared keys")
	t.AppendHeader(table.Row{"Owner", "Key", "Composite", "Target tables", "Formula"})
	for _, k := range keys {
		t.AppendRow(table.Row{
			k.Owner,
			k.Name,
			yesNo(k.IsComposite),
			strings.Join(k.TargetTables, ", "),
			k.SurrogateFormula.String(),
		})
	}
	t.Render()
}

func renderRelationships(w io.Writer, rels []models.StagingRelationship) {
	t := newWriter(w, "Relationships")
	t.AppendHeader(table.Row{"From", "To", "Cardinality", "Filter", "Kind", "Active", "Reason"})
	for _, r := range rels {
		t.AppendRow(table.Row{
			r.FromTable + "." + r.FromColumn,
			r.ToTable + "." + r.ToColumn,
			r.Cardinality,
			r.CrossFilter,
			r.Kind,
			yesNo(r.IsActive),
			r.DeactivationReason,
		})
	}
	t.Render()
}

func renderDiagnostics(w io.Writer, diags []models.Diagnostic) {
	t := newWriter(w, "Diagnostics")
	t.AppendHeader(table.Row{"Severity", "Code", "Tables", "Message"})
	for _, d := range diags {
		t.AppendRow(table.Row{d.Severity, d.Code, strings.Join(d.Tables, ", "), d.Message})
	}
	t.Render()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
