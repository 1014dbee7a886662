package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"github.com/salespulse/sp-ingest/internal/domain"
	"github.com/salespulse/sp-ingest/internal/logger"
	"github.com/salespulse/sp-ingest/internal/store"
	"github.com/salespulse/sp-ingest/internal/store/schema"
)

// Enricher resolves or creates rows in rule-configured target tables from
// extracted fields.
type Enricher struct {
	targets store.TargetStore
	allowed map[string]struct{}
	pool    pond.ResultPool[domain.EnrichmentOutcome]
}

// NewEnricher creates an enricher restricted to the allow-listed target
// tables. workers bounds concurrent rule evaluation across deliveries.
func NewEnricher(targets store.TargetStore, allowedTables []string, workers int) *Enricher {
	if workers <= 0 {
		workers = 8
	}

	allowed := make(map[string]struct{}, len(allowedTables))
	for _, table := range allowedTables {
		allowed[table] = struct{}{}
	}

	return &Enricher{
		targets: targets,
		allowed: allowed,
		pool:    pond.NewResultPool[domain.EnrichmentOutcome](workers),
	}
}

// Close stops the worker pool and waits for in-flight rules to finish
func (e *Enricher) Close() {
	_ = e.pool.Stop().Wait()
}

// Apply evaluates every rule against the extracted fields. Rules run
// independently: one rule's failure is captured in its own outcome and never
// aborts the siblings. Outcomes are returned in rule order.
func (e *Enricher) Apply(ctx context.Context, organizationID string, rules []*schema.EnrichmentRule, fields map[string]any) []domain.EnrichmentOutcome {
	if len(rules) == 0 {
		return nil
	}

	tasks := make([]pond.Result[domain.EnrichmentOutcome], 0, len(rules))
	for _, rule := range rules {
		rule := rule
		tasks = append(tasks, e.pool.Submit(func() domain.EnrichmentOutcome {
			return e.applyRule(ctx, organizationID, rule, fields)
		}))
	}

	outcomes := make([]domain.EnrichmentOutcome, 0, len(tasks))
	for i, task := range tasks {
		outcome, err := task.Wait()
		if err != nil {
			// Pool-level failure (e.g. stopped pool); still one outcome per rule
			outcome = domain.EnrichmentOutcome{
				RuleID:      rules[i].ID,
				TargetTable: rules[i].TargetTable,
				Status:      domain.EnrichmentStatusError,
				Error:       err.Error(),
			}
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

// applyRule evaluates a single enrichment rule
func (e *Enricher) applyRule(ctx context.Context, organizationID string, rule *schema.EnrichmentRule, fields map[string]any) domain.EnrichmentOutcome {
	outcome := domain.EnrichmentOutcome{
		RuleID:      rule.ID,
		TargetTable: rule.TargetTable,
	}

	matchValue, ok := fields[rule.MatchField]
	if !ok || isEmpty(matchValue) {
		outcome.Status = domain.EnrichmentStatusSkipped
		return outcome
	}

	if _, ok := e.allowed[rule.TargetTable]; !ok {
		outcome.Status = domain.EnrichmentStatusError
		outcome.Error = domain.ErrTargetTableNotAllowed.Error()
		return outcome
	}

	mappings, err := rule.FieldMappings()
	if err != nil {
		outcome.Status = domain.EnrichmentStatusError
		outcome.Error = fmt.Sprintf("invalid field mappings: %v", err)
		return outcome
	}

	existing, err := e.targets.FindTargetRow(ctx, rule.TargetTable, rule.TargetColumn, matchValue, organizationID)
	if err != nil {
		outcome.Status = domain.EnrichmentStatusError
		outcome.Error = err.Error()
		return outcome
	}

	if existing != nil {
		return e.updateOnMatch(ctx, organizationID, rule, mappings, matchValue, fields, outcome)
	}

	if !rule.AutoCreate {
		outcome.Status = domain.EnrichmentStatusSkipped
		return outcome
	}

	return e.createOnMiss(ctx, organizationID, rule, mappings, matchValue, fields, outcome)
}

// updateOnMatch applies the rule's field mappings to an existing target row
func (e *Enricher) updateOnMatch(ctx context.Context, organizationID string, rule *schema.EnrichmentRule, mappings []domain.FieldMapping, matchValue any, fields map[string]any, outcome domain.EnrichmentOutcome) domain.EnrichmentOutcome {
	outcome.Status = domain.EnrichmentStatusMatched

	updates := mappedValues(mappings, fields)
	if len(updates) == 0 {
		return outcome
	}

	if err := e.targets.UpdateTargetRow(ctx, rule.TargetTable, rule.TargetColumn, matchValue, organizationID, updates); err != nil {
		outcome.Status = domain.EnrichmentStatusError
		outcome.Error = err.Error()
		return outcome
	}

	outcome.Status = domain.EnrichmentStatusUpdated
	return outcome
}

// createOnMiss inserts a new target row. The upsert on (target column,
// organization_id) closes the create/create race between concurrent
// deliveries referencing the same new entity; when the target table lacks a
// matching unique constraint the engine falls back to a plain insert and
// accepts the narrow duplicate risk.
func (e *Enricher) createOnMiss(ctx context.Context, organizationID string, rule *schema.EnrichmentRule, mappings []domain.FieldMapping, matchValue any, fields map[string]any, outcome domain.EnrichmentOutcome) domain.EnrichmentOutcome {
	row := mappedValues(mappings, fields)
	row[rule.TargetColumn] = matchValue
	row["organization_id"] = organizationID

	created, err := e.targets.UpsertTargetRow(ctx, rule.TargetTable, []string{rule.TargetColumn, "organization_id"}, row)
	if err != nil {
		if errors.Is(err, domain.ErrNoUniqueConstraint) {
			logger.Warn("Target table lacks unique constraint, falling back to plain insert",
				zap.String("rule_id", rule.ID),
				zap.String("target_table", rule.TargetTable),
			)
			if insertErr := e.targets.InsertTargetRow(ctx, rule.TargetTable, row); insertErr != nil {
				outcome.Status = domain.EnrichmentStatusError
				outcome.Error = insertErr.Error()
				return outcome
			}
			outcome.Status = domain.EnrichmentStatusCreated
			return outcome
		}

		outcome.Status = domain.EnrichmentStatusError
		outcome.Error = err.Error()
		return outcome
	}

	if !created {
		// A concurrent delivery created the row first
		outcome.Status = domain.EnrichmentStatusMatched
		return outcome
	}

	outcome.Status = domain.EnrichmentStatusCreated
	return outcome
}

// mappedValues builds a column→value map from the mappings whose source
// fields are present in the extracted fields
func mappedValues(mappings []domain.FieldMapping, fields map[string]any) map[string]any {
	values := make(map[string]any)
	for _, mapping := range mappings {
		if value, ok := fields[mapping.SourceField]; ok && !isEmpty(value) {
			values[mapping.TargetColumn] = value
		}
	}
	return values
}

// isEmpty reports whether an extracted value counts as absent for matching
func isEmpty(value any) bool {
	if value == nil {
		return true
	}
	if s, ok := value.(string); ok {
		return s == ""
	}
	return false
}
