// Package ingest turns one raw inbound delivery into a deduplicated dataset
// record, enrichment side effects, and an audit-trail entry.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/salespulse/sp-ingest/internal/adapter"
	"github.com/salespulse/sp-ingest/internal/config"
	"github.com/salespulse/sp-ingest/internal/domain"
	"github.com/salespulse/sp-ingest/internal/extract"
	"github.com/salespulse/sp-ingest/internal/logger"
	"github.com/salespulse/sp-ingest/internal/store"
	"github.com/salespulse/sp-ingest/internal/store/schema"
)

// Pipeline processes accepted deliveries end to end
type Pipeline struct {
	store    store.Store
	enricher *Enricher
	clock    adapter.Clock
	cfg      config.IngestConfig
}

// NewPipeline creates a delivery pipeline
func NewPipeline(s store.Store, enricher *Enricher, clock adapter.Clock, cfg config.IngestConfig) *Pipeline {
	if cfg.RejectionLogSampleRate <= 0 {
		cfg.RejectionLogSampleRate = 10
	}
	return &Pipeline{
		store:    s,
		enricher: enricher,
		clock:    clock,
		cfg:      cfg,
	}
}

// Delivery is one admitted webhook delivery, already authenticated and
// rate-checked by the caller.
type Delivery struct {
	Connection *schema.Connection
	// Body is the exact raw request body the signature was verified against
	Body []byte
	// Payload is the parsed JSON document
	Payload any
	Headers  map[string]any
	SourceIP string
	// Force bypasses deduplication and always creates a fresh record
	Force bool
}

// PayloadHash computes the deduplication hash: SHA-256 over the RFC 8785
// canonical form of the JSON body, so key order and insignificant whitespace
// do not defeat idempotency. Falls back to hashing the raw bytes when
// canonicalization fails.
func PayloadHash(body []byte) string {
	canonical, err := jcs.Transform(body)
	if err != nil {
		canonical = body
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// Process runs one delivery through extraction, deduplication, enrichment and
// audit logging. It returns a result for the HTTP response; an error return
// means processing failed before a record could be settled.
func (p *Pipeline) Process(ctx context.Context, delivery *Delivery) (*domain.DeliveryResult, error) {
	started := p.clock.Now()
	conn := delivery.Connection

	hash := PayloadHash(delivery.Body)

	result := &domain.DeliveryResult{Forced: delivery.Force}

	var fields map[string]any
	var outcomes []domain.EnrichmentOutcome

	if conn.DatasetID != nil {
		datasetID := *conn.DatasetID

		defs, err := p.store.ListMappedFields(ctx, datasetID)
		if err != nil {
			p.logFailure(ctx, conn, delivery, hash, started, err)
			return nil, fmt.Errorf("failed to load field definitions: %w", err)
		}
		fields = extract.Fields(delivery.Payload, defs)

		record, err := p.settleRecord(ctx, conn, delivery, datasetID, hash, fields, result)
		if err != nil {
			p.logFailure(ctx, conn, delivery, hash, started, err)
			return nil, err
		}
		result.RecordID = record.ID

		// Enrichment runs on the record's settled field map so a deduplicated
		// delivery enriches with the reconciled values
		settled := map[string]any(record.Fields)

		rules, err := p.store.ListActiveRules(ctx, datasetID)
		if err != nil {
			logger.ErrorCtx(ctx, fmt.Errorf("failed to load enrichment rules: %w", err),
				zap.String("connection_id", conn.ID))
		} else {
			outcomes = p.enricher.Apply(ctx, conn.OrganizationID, rules, settled)
		}
		result.Enrichments = outcomes
		fields = settled
	}

	result.ExtractedFields = len(fields)
	result.ProcessingTime = p.clock.Since(started)

	if err := p.store.BumpDeliveryStats(ctx, conn.ID); err != nil {
		logger.WarnCtx(ctx, "Failed to bump delivery stats", zap.Error(err),
			zap.String("connection_id", conn.ID))
	}

	entry := &schema.DeliveryLog{
		ID:           ulid.Make().String(),
		ConnectionID: conn.ID,
		Status:       deliveryStatus(outcomes),
		Payload:      datatypes.JSON(delivery.Body),
		Fields:       datatypes.JSONMap(fields),
		ErrorMessage: joinOutcomeErrors(outcomes),
		LatencyMS:    result.ProcessingTime.Milliseconds(),
		Headers:      datatypes.JSONMap(delivery.Headers),
		SourceIP:     delivery.SourceIP,
		PayloadHash:  hash,
		CreatedAt:    p.clock.Now(),
	}
	if result.RecordID != "" {
		recordID := result.RecordID
		entry.RecordID = &recordID
	}
	p.appendLog(ctx, entry)

	return result, nil
}

// settleRecord resolves the canonical record for this delivery: the existing
// record under deduplication, or a freshly inserted one. The returned record
// always carries the settled field map.
func (p *Pipeline) settleRecord(ctx context.Context, conn *schema.Connection, delivery *Delivery, datasetID, hash string, fields map[string]any, result *domain.DeliveryResult) (*schema.DatasetRecord, error) {
	if !delivery.Force {
		existing, err := p.store.GetRecordByHash(ctx, datasetID, conn.ID, hash)
		if err != nil {
			return nil, fmt.Errorf("failed to check for duplicate: %w", err)
		}
		if existing != nil {
			return p.reconcile(ctx, existing, fields, result)
		}
	}

	record := &schema.DatasetRecord{
		ID:           uuid.NewString(),
		DatasetID:    datasetID,
		ConnectionID: conn.ID,
		Payload:      datatypes.JSON(delivery.Body),
		Fields:       datatypes.JSONMap(fields),
		Status:       domain.RecordStatusSuccess,
	}
	if !delivery.Force {
		// Forced records carry a NULL hash so they can never collide with the
		// canonical record for the same payload
		record.PayloadHash = &hash
	}

	created, err := p.store.CreateRecord(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("failed to create record: %w", err)
	}
	if created {
		return record, nil
	}

	// Lost the insert race to a concurrent identical delivery; adopt the winner
	winner, err := p.store.GetRecordByHash(ctx, datasetID, conn.ID, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to refetch after insert race: %w", err)
	}
	if winner == nil {
		return nil, fmt.Errorf("record insert affected no rows and no duplicate exists")
	}
	return p.reconcile(ctx, winner, fields, result)
}

// reconcile merges newly extracted fields into an existing record. The merge
// is additive only: keys absent from the stored map are added, keys already
// present keep their stored value. The merged map is persisted only when it
// actually grew.
func (p *Pipeline) reconcile(ctx context.Context, existing *schema.DatasetRecord, fields map[string]any, result *domain.DeliveryResult) (*schema.DatasetRecord, error) {
	result.Deduplicated = true

	merged := make(datatypes.JSONMap, len(existing.Fields)+len(fields))
	for k, v := range existing.Fields {
		merged[k] = v
	}

	grew := false
	for k, v := range fields {
		if _, ok := merged[k]; !ok {
			merged[k] = v
			grew = true
		}
	}

	if grew {
		if err := p.store.UpdateRecordFields(ctx, existing.ID, merged); err != nil {
			return nil, fmt.Errorf("failed to reconcile record fields: %w", err)
		}
		existing.Fields = merged
		result.Reconciled = true
	}

	return existing, nil
}

// LogRejection records a rejected delivery in the audit trail. Rate-limit
// rejections arrive in bursts by definition, so they are sampled 1-in-N;
// every other rejection is logged unconditionally.
func (p *Pipeline) LogRejection(ctx context.Context, connectionID, sourceIP, reason string, rateLimited bool) {
	if rateLimited && rand.IntN(p.cfg.RejectionLogSampleRate) != 0 { //nolint:gosec
		return
	}

	p.appendLog(ctx, &schema.DeliveryLog{
		ID:           ulid.Make().String(),
		ConnectionID: connectionID,
		Status:       domain.DeliveryStatusRejected,
		ErrorMessage: reason,
		SourceIP:     sourceIP,
		CreatedAt:    p.clock.Now(),
	})
}

// logFailure records a delivery that was admitted but failed mid-processing
func (p *Pipeline) logFailure(ctx context.Context, conn *schema.Connection, delivery *Delivery, hash string, started time.Time, processErr error) {
	p.appendLog(ctx, &schema.DeliveryLog{
		ID:           ulid.Make().String(),
		ConnectionID: conn.ID,
		Status:       domain.DeliveryStatusError,
		Payload:      datatypes.JSON(delivery.Body),
		ErrorMessage: processErr.Error(),
		LatencyMS:    p.clock.Since(started).Milliseconds(),
		Headers:      datatypes.JSONMap(delivery.Headers),
		SourceIP:     delivery.SourceIP,
		PayloadHash:  hash,
		CreatedAt:    p.clock.Now(),
	})
}

// appendLog writes one audit entry, retrying transient failures. The audit
// trail is best effort: a delivery is never failed because its log entry
// could not be written.
func (p *Pipeline) appendLog(ctx context.Context, entry *schema.DeliveryLog) {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	err := backoff.Retry(func() error {
		return p.store.AppendDeliveryLog(ctx, entry)
	}, policy)
	if err != nil {
		logger.ErrorCtx(ctx, fmt.Errorf("failed to append delivery log: %w", err),
			zap.String("connection_id", entry.ConnectionID),
			zap.String("status", string(entry.Status)))
	}
}

// deliveryStatus derives the audit status from the enrichment outcomes:
// partial when any rule errored, success otherwise.
func deliveryStatus(outcomes []domain.EnrichmentOutcome) domain.DeliveryStatus {
	for _, outcome := range outcomes {
		if outcome.Status == domain.EnrichmentStatusError {
			return domain.DeliveryStatusPartial
		}
	}
	return domain.DeliveryStatusSuccess
}

// joinOutcomeErrors collects per-rule errors into one audit message
func joinOutcomeErrors(outcomes []domain.EnrichmentOutcome) string {
	var parts []string
	for _, outcome := range outcomes {
		if outcome.Status == domain.EnrichmentStatusError {
			parts = append(parts, fmt.Sprintf("rule %s: %s", outcome.RuleID, outcome.Error))
		}
	}
	return strings.Join(parts, "; ")
}

// redactedHeaders is the set of header names whose values never reach the
// audit trail
var redactedHeaders = map[string]struct{}{
	"authorization":       {},
	"cookie":              {},
	"x-api-key":           {},
	"x-webhook-token":     {},
	"stripe-signature":    {},
	"x-webhook-signature": {},
	"x-whop-signature":    {},
	"x-signature":         {},
	"x-hub-signature-256": {},
}

// SanitizeHeaders flattens request headers for audit storage, redacting
// credentials and signatures
func SanitizeHeaders(headers map[string][]string) map[string]any {
	sanitized := make(map[string]any, len(headers))
	for name, values := range headers {
		if _, secret := redactedHeaders[strings.ToLower(name)]; secret {
			sanitized[name] = "[REDACTED]"
			continue
		}
		sanitized[name] = strings.Join(values, ", ")
	}
	return sanitized
}

// ParsePayload decodes the raw body, accepting any JSON document
func ParsePayload(body []byte) (any, error) {
	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, domain.ErrMalformedPayload
	}
	return payload, nil
}
