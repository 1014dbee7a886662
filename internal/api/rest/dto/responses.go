package dto

import (
	"time"

	"github.com/salespulse/sp-ingest/internal/domain"
	"github.com/salespulse/sp-ingest/internal/store/schema"
)

// WebhookResponse represents the response body for an accepted delivery
type WebhookResponse struct {
	Success          bool                       `json:"success"`
	DatasetRecordID  string                     `json:"dataset_record_id,omitempty"`
	ExtractedFields  int                        `json:"extracted_fields"`
	Enrichments      []domain.EnrichmentOutcome `json:"enrichments,omitempty"`
	Deduplicated     bool                       `json:"deduplicated"`
	Reconciled       bool                       `json:"reconciled"`
	Forced           bool                       `json:"forced,omitempty"`
	ProcessingTimeMS int64                      `json:"processing_time_ms"`
}

// NewWebhookResponse maps a pipeline result onto the response body
func NewWebhookResponse(result *domain.DeliveryResult) *WebhookResponse {
	return &WebhookResponse{
		Success:          true,
		DatasetRecordID:  result.RecordID,
		ExtractedFields:  result.ExtractedFields,
		Enrichments:      result.Enrichments,
		Deduplicated:     result.Deduplicated,
		Reconciled:       result.Reconciled,
		Forced:           result.Forced,
		ProcessingTimeMS: result.ProcessingTime.Milliseconds(),
	}
}

// ConnectionResponse represents one webhook connection
type ConnectionResponse struct {
	ID                 string     `json:"id"`
	OrganizationID     string     `json:"organization_id"`
	Name               string     `json:"name"`
	Kind               string     `json:"kind"`
	SignatureScheme    string     `json:"signature_scheme"`
	SecretConfigured   bool       `json:"secret_configured"`
	RateLimitPerMinute int        `json:"rate_limit_per_minute"`
	DatasetID          *string    `json:"dataset_id,omitempty"`
	IsActive           bool       `json:"is_active"`
	LastDeliveryAt     *time.Time `json:"last_delivery_at,omitempty"`
	DeliveryCount      uint64     `json:"delivery_count"`
	CreatedAt          time.Time  `json:"created_at"`
}

// NewConnectionResponse maps a connection row onto the response body.
// The signature secret itself never leaves the server.
func NewConnectionResponse(conn *schema.Connection) *ConnectionResponse {
	return &ConnectionResponse{
		ID:                 conn.ID,
		OrganizationID:     conn.OrganizationID,
		Name:               conn.Name,
		Kind:               string(conn.Kind),
		SignatureScheme:    string(conn.SignatureScheme),
		SecretConfigured:   conn.SignatureSecret != "",
		RateLimitPerMinute: conn.RateLimitPerMinute,
		DatasetID:          conn.DatasetID,
		IsActive:           conn.IsActive,
		LastDeliveryAt:     conn.LastDeliveryAt,
		DeliveryCount:      conn.DeliveryCount,
		CreatedAt:          conn.CreatedAt,
	}
}

// DeliveryLogResponse represents one audit-trail entry
type DeliveryLogResponse struct {
	ID           string         `json:"id"`
	Status       string         `json:"status"`
	ErrorMessage string         `json:"error_message,omitempty"`
	LatencyMS    int64          `json:"latency_ms"`
	SourceIP     string         `json:"source_ip,omitempty"`
	PayloadHash  string         `json:"payload_hash,omitempty"`
	RecordID     *string        `json:"record_id,omitempty"`
	Fields       map[string]any `json:"fields,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// ListDeliveriesResponse represents a page of audit-trail entries
type ListDeliveriesResponse struct {
	Deliveries []DeliveryLogResponse `json:"deliveries"`
	Limit      int                   `json:"limit"`
	Offset     int                   `json:"offset"`
}

// NewListDeliveriesResponse maps audit rows onto the response body
func NewListDeliveriesResponse(entries []*schema.DeliveryLog, limit, offset int) *ListDeliveriesResponse {
	deliveries := make([]DeliveryLogResponse, 0, len(entries))
	for _, entry := range entries {
		deliveries = append(deliveries, DeliveryLogResponse{
			ID:           entry.ID,
			Status:       string(entry.Status),
			ErrorMessage: entry.ErrorMessage,
			LatencyMS:    entry.LatencyMS,
			SourceIP:     entry.SourceIP,
			PayloadHash:  entry.PayloadHash,
			RecordID:     entry.RecordID,
			Fields:       map[string]any(entry.Fields),
			CreatedAt:    entry.CreatedAt,
		})
	}
	return &ListDeliveriesResponse{
		Deliveries: deliveries,
		Limit:      limit,
		Offset:     offset,
	}
}
