package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/staging-engine/pkg/apperrors"
	"github.com/ekaya-inc/staging-engine/pkg/config"
	"github.com/ekaya-inc/staging-engine/pkg/models"
	"github.com/ekaya-inc/staging-engine/pkg/workerpool"
)

// StagingOrchestrator runs the whole staging synthesis pipeline for one legacy model.
type StagingOrchestrator interface {
	// Synthesize returns everything that could be synthesized together with the
	// diagnostics. The only error is an invalid input contract (or a cancelled context).
	Synthesize(ctx context.Context, input *models.SchemaInput) (*models.SynthesisResult, error)
}

type stagingOrchestrator struct {
	cfg        config.StagingConfig
	collector  JoinPatternCollector
	classifier TableClassifier
	selector   StagingCandidateSelector
	keys       KeySynthesizer
	tables     StagingTableSynthesizer
	relations  RelationshipGraphBuilder
	pool       *workerpool.Pool
	logger     *zap.Logger
}

// NewStagingOrchestrator validates cfg and wires the pipeline components.
func NewStagingOrchestrator(cfg *config.Config, logger *zap.Logger) (StagingOrchestrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is nil", apperrors.ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &stagingOrchestrator{
		cfg:        cfg.Staging,
		collector:  NewJoinPatternCollector(logger),
		classifier: NewTableClassifier(cfg.Classifier, logger),
		selector:   NewStagingCandidateSelector(cfg.Staging, logger),
		keys:       NewKeySynthesizer(cfg.Staging, logger),
		tables:     NewStagingTableSynthesizer(cfg.Staging, logger),
		relations:  NewRelationshipGraphBuilder(cfg.Staging, logger),
		pool:       workerpool.New(workerpool.Config{MaxConcurrent: cfg.Workers.MaxConcurrent}, logger),
		logger:     logger.Named("staging-orchestrator"),
	}, nil
}

// componentResult is what one candidate's select/keys/synthesize pass produced.
type componentResult struct {
	candidate models.StagingCandidate
	def       *models.StagingTableDefinition
	diags     *models.Diagnostics
}

func (o *stagingOrchestrator) Synthesize(ctx context.Context, input *models.SchemaInput) (*models.SynthesisResult, error) {
	if input == nil {
		return nil, fmt.Errorf("%w: input is nil", apperrors.ErrInvalidInput)
	}
	if input.Tables == nil {
		return nil, fmt.Errorf("%w: tables is absent", apperrors.ErrInvalidInput)
	}

	start := time.Now()
	diags := &models.Diagnostics{}

	patterns := o.collector.CollectJoinPatterns(input, diags)

	graph := NewTableGraph()
	for _, p := range patterns {
		graph.AddJoinPattern(p)
	}
	for _, t := range input.Tables {
		if t.Name != "" {
			graph.AddTable(t.Name)
		}
	}
	components, islands := graph.FindConnectedComponents()
	LogConnectivity(len(patterns), components, islands, o.logger)
	candidates := graph.BuildCandidates(components)

	roles := o.classifier.Classify(input.Tables, diags)

	var defs []models.StagingTableDefinition
	if !o.cfg.Enabled {
		diags.Add(models.SeverityInfo, models.DiagStagingDisabled,
			"staging synthesis is disabled; only source relationships are produced")
		for i := range candidates {
			candidates[i].ComplexityScore, candidates[i].CompositeJoinCount = ComplexityScore(&candidates[i])
		}
	} else {
		var err error
		candidates, defs, err = o.synthesizeComponents(ctx, candidates, diags)
		if err != nil {
			return nil, err
		}
	}

	reserved := make([]string, 0, len(input.Tables))
	for _, t := range input.Tables {
		reserved = append(reserved, t.Name)
	}
	AssignUniqueNames(defs, reserved)

	rels := o.relations.BuildRelationships(defs, roles, patterns, diags)

	result := &models.SynthesisResult{
		StagingTables: nonNilDefs(defs),
		SharedKeys:    []models.SharedKey{},
		Relationships: nonNilRels(rels),
		Diagnostics:   diags.Entries(),
		TableRoles:    roles,
		Candidates:    candidates,
	}
	for _, d := range defs {
		result.SharedKeys = append(result.SharedKeys, d.SharedKeys...)
	}
	if result.Candidates == nil {
		result.Candidates = []models.StagingCandidate{}
	}

	o.logger.Info("Staging synthesis complete",
		zap.Int("tables", len(input.Tables)),
		zap.Int("join_patterns", len(patterns)),
		zap.Int("candidates", len(candidates)),
		zap.Int("staging_tables", len(result.StagingTables)),
		zap.Int("relationships", len(result.Relationships)),
		zap.Int("diagnostics", len(result.Diagnostics)),
		zap.Duration("elapsed", time.Since(start)))

	return result, nil
}

// synthesizeComponents runs select, key synthesis and table synthesis for each
// candidate through the worker pool. Every candidate writes to its own diagnostics
// buffer; buffers are merged in candidate order so the output does not depend on
// scheduling.
func (o *stagingOrchestrator) synthesizeComponents(
	ctx context.Context,
	candidates []models.StagingCandidate,
	diags *models.Diagnostics,
) ([]models.StagingCandidate, []models.StagingTableDefinition, error) {
	items := make([]workerpool.WorkItem[componentResult], len(candidates))
	for i := range candidates {
		candidate := candidates[i]
		items[i] = workerpool.WorkItem[componentResult]{
			ID: candidate.Key(),
			Execute: func(ctx context.Context) (componentResult, error) {
				return o.synthesizeComponent(candidate), nil
			},
		}
	}

	results := workerpool.Process(ctx, o.pool, items, func(completed, total int) {
		o.logger.Debug("Component synthesized",
			zap.Int("completed", completed),
			zap.Int("total", total))
	})

	out := make([]models.StagingCandidate, 0, len(results))
	var defs []models.StagingTableDefinition
	for _, r := range results {
		if r.Err != nil {
			return nil, nil, fmt.Errorf("synthesize component %s: %w", r.ID, r.Err)
		}
		diags.Merge(r.Result.diags)
		out = append(out, r.Result.candidate)
		if r.Result.def != nil {
			defs = append(defs, *r.Result.def)
		}
	}
	return out, defs, nil
}

func (o *stagingOrchestrator) synthesizeComponent(candidate models.StagingCandidate) componentResult {
	local := &models.Diagnostics{}
	res := componentResult{diags: local}

	if !o.selector.Select(&candidate, local) {
		res.candidate = candidate
		return res
	}

	keys := o.keys.SynthesizeKeys(&candidate)
	def := o.tables.Synthesize(&candidate, keys, local)
	res.candidate = candidate
	res.def = &def
	return res
}

func nonNilDefs(defs []models.StagingTableDefinition) []models.StagingTableDefinition {
	if defs == nil {
		return []models.StagingTableDefinition{}
	}
	return defs
}

func nonNilRels(rels []models.StagingRelationship) []models.StagingRelationship {
	if rels == nil {
		return []models.StagingRelationship{}
	}
	return rels
}
