package domain

import "time"

// ConnectionKind identifies the upstream platform a connection receives from
type ConnectionKind string

const (
	ConnectionKindGeneric ConnectionKind = "generic"
	ConnectionKindStripe  ConnectionKind = "stripe"
	ConnectionKindWhop    ConnectionKind = "whop"
	ConnectionKindOther   ConnectionKind = "other"
)

// IsValidConnectionKind checks if a connection kind is valid
func IsValidConnectionKind(kind ConnectionKind) bool {
	return kind == ConnectionKindGeneric ||
		kind == ConnectionKindStripe ||
		kind == ConnectionKindWhop ||
		kind == ConnectionKindOther
}

// SignatureScheme identifies how an inbound delivery is authenticated
type SignatureScheme string

const (
	// SignatureSchemeNone disables signature verification for the connection
	SignatureSchemeNone SignatureScheme = "none"
	// SignatureSchemeHMACSHA256 is a plain HMAC-SHA256 hex digest over the raw body
	SignatureSchemeHMACSHA256 SignatureScheme = "hmac_sha256"
	// SignatureSchemeStripeHMAC is the timestamped "t=...,v1=..." HMAC variant
	// used by hosted payment processors; carries a replay window
	SignatureSchemeStripeHMAC SignatureScheme = "stripe_hmac"
	// SignatureSchemeHeaderToken is a byte-for-byte shared token comparison
	SignatureSchemeHeaderToken SignatureScheme = "header_token"
)

// IsValidSignatureScheme checks if a signature scheme is valid
func IsValidSignatureScheme(scheme SignatureScheme) bool {
	return scheme == SignatureSchemeNone ||
		scheme == SignatureSchemeHMACSHA256 ||
		scheme == SignatureSchemeStripeHMAC ||
		scheme == SignatureSchemeHeaderToken
}

// FieldType is the declared semantic type of an extracted field
type FieldType string

const (
	FieldTypeString  FieldType = "string"
	FieldTypeNumber  FieldType = "number"
	FieldTypeBoolean FieldType = "boolean"
	FieldTypeDate    FieldType = "date"
)

// FieldSource describes where a dataset field's value comes from.
// Only mapped fields participate in webhook extraction.
type FieldSource string

const (
	FieldSourceMapped FieldSource = "mapped"
	FieldSourceManual FieldSource = "manual"
)

// DeliveryStatus is the recorded outcome of one delivery attempt
type DeliveryStatus string

const (
	DeliveryStatusSuccess  DeliveryStatus = "success"
	DeliveryStatusPartial  DeliveryStatus = "partial"
	DeliveryStatusError    DeliveryStatus = "error"
	DeliveryStatusRejected DeliveryStatus = "rejected"
)

// RecordStatus is the processing outcome stored on a dataset record
type RecordStatus string

const (
	RecordStatusSuccess RecordStatus = "success"
	RecordStatusError   RecordStatus = "error"
)

// EnrichmentStatus is the per-rule outcome of the enrichment engine
type EnrichmentStatus string

const (
	// EnrichmentStatusMatched means an existing target row was found and no
	// mapped values required an update
	EnrichmentStatusMatched EnrichmentStatus = "matched"
	// EnrichmentStatusUpdated means an existing target row was found and
	// mapped values were written to it
	EnrichmentStatusUpdated EnrichmentStatus = "updated"
	// EnrichmentStatusCreated means no target row matched and one was created
	EnrichmentStatusCreated EnrichmentStatus = "created"
	// EnrichmentStatusSkipped means the rule did not fire (match field absent
	// or auto-create disabled)
	EnrichmentStatusSkipped EnrichmentStatus = "skipped"
	// EnrichmentStatusError means the rule failed; sibling rules still run
	EnrichmentStatusError EnrichmentStatus = "error"
)

// FieldMapping maps one extracted field onto one target-table column
type FieldMapping struct {
	SourceField  string `json:"source_field"`
	TargetColumn string `json:"target_column"`
}

// EnrichmentOutcome is the result of evaluating a single enrichment rule.
// Outcomes are returned in rule order for inclusion in the delivery response.
type EnrichmentOutcome struct {
	RuleID      string           `json:"rule_id"`
	TargetTable string           `json:"target_table"`
	Status      EnrichmentStatus `json:"status"`
	Error       string           `json:"error,omitempty"`
}

// DeliveryResult summarizes one accepted delivery for the HTTP response
type DeliveryResult struct {
	RecordID        string              `json:"dataset_record_id"`
	ExtractedFields int                 `json:"extracted_fields"`
	Enrichments     []EnrichmentOutcome `json:"enrichments"`
	Deduplicated    bool                `json:"deduplicated"`
	Reconciled      bool                `json:"reconciled"`
	Forced          bool                `json:"forced"`
	ProcessingTime  time.Duration       `json:"-"`
}
