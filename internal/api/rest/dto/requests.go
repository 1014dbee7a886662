package dto

import (
	"fmt"

	"github.com/salespulse/sp-ingest/internal/domain"
)

// MAX_NAME_LENGTH bounds the operator-facing connection name
const MAX_NAME_LENGTH = 255

// CreateConnectionRequest represents the request body for registering a new
// webhook connection
type CreateConnectionRequest struct {
	OrganizationID     string  `json:"organization_id"`
	Name               string  `json:"name"`
	Kind               string  `json:"kind"`
	SignatureScheme    string  `json:"signature_scheme"`
	SignatureSecret    string  `json:"signature_secret,omitempty"`
	RateLimitPerMinute int     `json:"rate_limit_per_minute,omitempty"`
	DatasetID          *string `json:"dataset_id,omitempty"`
}

// Validate validates the request body
func (r *CreateConnectionRequest) Validate() error {
	if r.OrganizationID == "" {
		return fmt.Errorf("organization_id is required")
	}

	if r.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(r.Name) > MAX_NAME_LENGTH {
		return fmt.Errorf("name must be at most %d characters", MAX_NAME_LENGTH)
	}

	if r.Kind == "" {
		r.Kind = string(domain.ConnectionKindGeneric)
	}
	if !domain.IsValidConnectionKind(domain.ConnectionKind(r.Kind)) {
		return fmt.Errorf("invalid kind: %s", r.Kind)
	}

	if r.SignatureScheme == "" {
		r.SignatureScheme = string(domain.SignatureSchemeNone)
	}
	if !domain.IsValidSignatureScheme(domain.SignatureScheme(r.SignatureScheme)) {
		return fmt.Errorf("invalid signature_scheme: %s", r.SignatureScheme)
	}

	if r.RateLimitPerMinute < 0 {
		return fmt.Errorf("rate_limit_per_minute must not be negative")
	}

	return nil
}
