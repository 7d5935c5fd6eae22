package services

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/ekaya-inc/staging-engine/pkg/apperrors"
	"github.com/ekaya-inc/staging-engine/pkg/config"
	"github.com/ekaya-inc/staging-engine/pkg/models"
)

// Complexity score weights.
const (
	weightTable         = 0.2
	weightJoin          = 0.3
	weightCompositeJoin = 0.5
	weightJoinType      = 0.1
)

// StagingCandidateSelector scores candidates and applies the staging policy.
type StagingCandidateSelector interface {
	// Select scores the candidate, decides whether it becomes a staging table and
	// records the decision on it. Rejections add an empty_candidate diagnostic.
	Select(candidate *models.StagingCandidate, diags *models.Diagnostics) bool
}

type stagingCandidateSelector struct {
	mode     config.StagingMode
	minScore float64
	approved map[string]bool
	logger   *zap.Logger
}

// NewStagingCandidateSelector creates a new StagingCandidateSelector.
func NewStagingCandidateSelector(cfg config.StagingConfig, logger *zap.Logger) StagingCandidateSelector {
	return &stagingCandidateSelector{
		mode:     cfg.Mode,
		minScore: cfg.MinComplexityScore,
		approved: cfg.ApprovedSets(),
		logger:   logger.Named("candidate-selector"),
	}
}

// ComplexityScore computes the join complexity of a candidate, rounded to 4 decimals.
// It also returns the number of composite joins.
func ComplexityScore(candidate *models.StagingCandidate) (float64, int) {
	composite := 0
	joinTypes := make(map[models.JoinType]bool)
	for _, j := range candidate.Joins {
		if j.IsComposite() {
			composite++
		}
		jt := j.JoinType
		if jt == "" {
			jt = models.JoinInner
		}
		joinTypes[jt] = true
	}

	score := weightTable*float64(len(candidate.Tables)) +
		weightJoin*float64(len(candidate.Joins)) +
		weightCompositeJoin*float64(composite) +
		weightJoinType*float64(len(joinTypes))

	return math.Round(score*1e4) / 1e4, composite
}

func (s *stagingCandidateSelector) Select(candidate *models.StagingCandidate, diags *models.Diagnostics) bool {
	candidate.ComplexityScore, candidate.CompositeJoinCount = ComplexityScore(candidate)

	reason := s.reject(candidate)
	if reason != "" {
		candidate.Accepted = false
		candidate.StagingType = ""
		diags.AddError(models.SeverityInfo, &apperrors.EmptyCandidateWarning{
			Tables: candidate.Tables,
			Reason: reason,
		}, candidate.Tables...)
		s.logger.Debug("Candidate rejected",
			zap.Strings("tables", candidate.Tables),
			zap.Float64("score", candidate.ComplexityScore),
			zap.String("reason", reason))
		return false
	}

	candidate.Accepted = true
	candidate.StagingType = models.StagingTypeFor(len(candidate.Tables))
	s.logger.Debug("Candidate accepted",
		zap.Strings("tables", candidate.Tables),
		zap.Float64("score", candidate.ComplexityScore),
		zap.String("staging_type", string(candidate.StagingType)))
	return true
}

// reject returns why the candidate is not staged, or "" when it is.
func (s *stagingCandidateSelector) reject(candidate *models.StagingCandidate) string {
	if len(candidate.Tables) < 2 {
		return "fewer than two tables"
	}
	if len(candidate.Joins) == 0 {
		return "no joins"
	}

	switch s.mode {
	case config.StagingModeOff:
		return "staging mode is off"
	case config.StagingModeManual:
		if !s.approved[candidate.Key()] {
			return "table set is not approved"
		}
		return ""
	default:
		if candidate.ComplexityScore < s.minScore {
			return fmt.Sprintf("complexity score %.4g below %.4g", candidate.ComplexityScore, s.minScore)
		}
		return ""
	}
}
