package services

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/staging-engine/pkg/config"
	"github.com/ekaya-inc/staging-engine/pkg/models"
)

// compositeKeySuffix ends the name of every surrogate key column.
const compositeKeySuffix = "Key"

// KeySynthesizer derives the shared keys that link a staging table to its source tables.
type KeySynthesizer interface {
	// SynthesizeKeys returns the candidate's keys sorted by name. Owner is left empty
	// until the staging table is named.
	SynthesizeKeys(candidate *models.StagingCandidate) []models.SharedKey
}

type keySynthesizer struct {
	separator string
	surrogate bool
	logger    *zap.Logger
}

// NewKeySynthesizer creates a new KeySynthesizer.
func NewKeySynthesizer(cfg config.StagingConfig, logger *zap.Logger) KeySynthesizer {
	return &keySynthesizer{
		separator: cfg.KeySeparator,
		surrogate: cfg.CompositeKeyHandling == config.CompositeKeyCreateSurrogate,
		logger:    logger.Named("key-synthesizer"),
	}
}

// SurrogateKeyName names the surrogate column built from columns.
func SurrogateKeyName(columns []string, separator string) string {
	return strings.Join(columns, separator) + separator + compositeKeySuffix
}

func (s *keySynthesizer) SynthesizeKeys(candidate *models.StagingCandidate) []models.SharedKey {
	var keys []*models.SharedKey
	byName := make(map[string]*models.SharedKey)

	for _, j := range candidate.Joins {
		if len(j.LeftColumns) == 0 || len(j.LeftColumns) != len(j.RightColumns) {
			continue
		}

		switch {
		case j.IsComposite() || s.surrogate:
			key := s.compositeKey(j)
			name := key.Name
			for n := 2; ; n++ {
				existing, ok := byName[name]
				if !ok {
					break
				}
				if existing.SurrogateFormula != nil && slices.Equal(existing.SurrogateFormula.Columns, key.SurrogateFormula.Columns) {
					mergeTarget(existing, j.LeftTable, j.LeftColumns)
					mergeTarget(existing, j.RightTable, j.RightColumns)
					key = nil
					break
				}
				name = fmt.Sprintf("%s%s%d", key.Name, s.separator, n)
			}
			if key == nil {
				continue
			}
			if name != key.Name {
				s.logger.Debug("Surrogate key name collision, renamed",
					zap.String("key", key.Name),
					zap.String("renamed", name),
					zap.String("origin", j.Origin))
				key.Name = name
			}
			byName[key.Name] = key
			keys = append(keys, key)

		case j.LeftColumns[0] == j.RightColumns[0]:
			name := j.LeftColumns[0]
			key, ok := byName[name]
			if !ok {
				key = &models.SharedKey{
					Name:          name,
					SourceColumns: []string{name},
					TableColumns:  make(map[string][]string),
				}
				byName[name] = key
				keys = append(keys, key)
			}
			mergeTarget(key, j.LeftTable, j.LeftColumns)
			mergeTarget(key, j.RightTable, j.RightColumns)

		default:
			name := j.LeftColumns[0] + s.separator + j.RightColumns[0]
			key, ok := byName[name]
			if !ok {
				key = &models.SharedKey{
					Name:          name,
					SourceColumns: dedupStrings(append([]string{j.LeftColumns[0]}, j.RightColumns[0])),
					TableColumns:  make(map[string][]string),
				}
				byName[name] = key
				keys = append(keys, key)
			}
			mergeTarget(key, j.LeftTable, j.LeftColumns)
			mergeTarget(key, j.RightTable, j.RightColumns)
		}
	}

	out := make([]models.SharedKey, 0, len(keys))
	for _, k := range keys {
		sort.Strings(k.TargetTables)
		out = append(out, *k)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	s.logger.Debug("Synthesized shared keys",
		zap.Strings("tables", candidate.Tables),
		zap.Int("keys", len(out)))

	return out
}

// compositeKey builds the surrogate key for one join pattern. SourceColumns keeps the
// left columns first, then any right columns with a different name.
func (s *keySynthesizer) compositeKey(j models.JoinPattern) *models.SharedKey {
	columns := dedupStrings(append(append([]string(nil), j.LeftColumns...), j.RightColumns...))
	key := &models.SharedKey{
		Name:          SurrogateKeyName(columns, s.separator),
		SourceColumns: columns,
		TableColumns:  make(map[string][]string),
		IsComposite:   true,
		SurrogateFormula: &models.SurrogateFormula{
			Columns:   append([]string(nil), columns...),
			Separator: s.separator,
		},
	}
	mergeTarget(key, j.LeftTable, j.LeftColumns)
	mergeTarget(key, j.RightTable, j.RightColumns)
	return key
}

// mergeTarget records that table binds the key through columns. The first binding
// for a table wins.
func mergeTarget(key *models.SharedKey, table string, columns []string) {
	if key.Targets(table) {
		return
	}
	key.TargetTables = append(key.TargetTables, table)
	key.TableColumns[table] = append([]string(nil), columns...)
}

func dedupStrings(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
