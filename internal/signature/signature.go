// Package signature authenticates inbound webhook deliveries against the
// secret configured on a connection.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/salespulse/sp-ingest/internal/adapter"
	"github.com/salespulse/sp-ingest/internal/domain"
)

// Reason explains a verification outcome
type Reason string

const (
	// ReasonOK means the signature matched
	ReasonOK Reason = "ok"
	// ReasonNoKeyConfigured means the connection enables a scheme but has no
	// secret; the pipeline's policy treats this as valid with a warning
	ReasonNoKeyConfigured Reason = "no_key_configured"
	// ReasonMissingSignature means a secret is configured but the request
	// carried no signature header
	ReasonMissingSignature Reason = "missing_signature"
	// ReasonInvalidSignature means the supplied digest or token did not match
	ReasonInvalidSignature Reason = "invalid_signature"
	// ReasonMalformedSignature means the signature header could not be parsed
	ReasonMalformedSignature Reason = "malformed_signature"
	// ReasonTimestampOutOfRange means the timestamped digest matched format
	// but fell outside the replay window
	ReasonTimestampOutOfRange Reason = "timestamp_out_of_range"
	// ReasonVerificationError means verification itself failed; always reject
	ReasonVerificationError Reason = "verification_error"
)

// Result is the outcome of verifying one delivery
type Result struct {
	Valid  bool
	Reason Reason
}

// ReplayTolerance is the maximum accepted clock skew for timestamped
// signatures
const ReplayTolerance = 300 * time.Second

// Verifier validates inbound webhook signatures
type Verifier struct {
	clock     adapter.Clock
	tolerance time.Duration
}

// NewVerifier creates a verifier with the default replay tolerance
func NewVerifier(clock adapter.Clock) *Verifier {
	return &Verifier{clock: clock, tolerance: ReplayTolerance}
}

// Verify checks the supplied signature header against the exact raw request
// body, prior to any JSON parsing.
//
// Policy: a scheme-enabled connection with no secret is unverifiable and
// reported valid with reason no_key_configured (fail-open). Every other
// non-ok reason reports invalid and callers must reject.
func (v *Verifier) Verify(scheme domain.SignatureScheme, secret string, body []byte, header string) Result {
	if scheme == domain.SignatureSchemeNone {
		return Result{Valid: true, Reason: ReasonOK}
	}

	if secret == "" {
		return Result{Valid: true, Reason: ReasonNoKeyConfigured}
	}

	if header == "" {
		return Result{Valid: false, Reason: ReasonMissingSignature}
	}

	switch scheme {
	case domain.SignatureSchemeHMACSHA256:
		return v.verifyHMAC(secret, body, header)
	case domain.SignatureSchemeStripeHMAC:
		return v.verifyTimestampedHMAC(secret, body, header)
	case domain.SignatureSchemeHeaderToken:
		return v.verifyToken(secret, header)
	default:
		return Result{Valid: false, Reason: ReasonVerificationError}
	}
}

// verifyHMAC checks a plain HMAC-SHA256 hex digest over the raw body. An
// optional "sha256=" or "v1=" prefix is stripped and the hex comparison is
// case-insensitive.
func (v *Verifier) verifyHMAC(secret string, body []byte, header string) Result {
	supplied := strings.TrimSpace(header)
	for _, prefix := range []string{"sha256=", "v1="} {
		if strings.HasPrefix(strings.ToLower(supplied), prefix) {
			supplied = supplied[len(prefix):]
			break
		}
	}

	suppliedBytes, err := hex.DecodeString(strings.ToLower(supplied))
	if err != nil {
		return Result{Valid: false, Reason: ReasonInvalidSignature}
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), suppliedBytes) {
		return Result{Valid: false, Reason: ReasonInvalidSignature}
	}

	return Result{Valid: true, Reason: ReasonOK}
}

// verifyTimestampedHMAC checks a "t=<unix-seconds>,v1=<hex>" header. The
// digest is HMAC-SHA256 over "{timestamp}.{raw body}". A delivery outside
// the replay window is rejected even when the digest matches.
func (v *Verifier) verifyTimestampedHMAC(secret string, body []byte, header string) Result {
	var timestamp int64
	var candidates []string

	for _, part := range strings.Split(header, ",") {
		k, val, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch k {
		case "t":
			ts, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return Result{Valid: false, Reason: ReasonMalformedSignature}
			}
			timestamp = ts
		case "v1":
			candidates = append(candidates, val)
		}
	}

	if timestamp == 0 || len(candidates) == 0 {
		return Result{Valid: false, Reason: ReasonMalformedSignature}
	}

	now := v.clock.Now()
	age := now.Sub(v.clock.Unix(timestamp, 0))
	if age > v.tolerance || age < -v.tolerance {
		return Result{Valid: false, Reason: ReasonTimestampOutOfRange}
	}

	signed := fmt.Sprintf("%d.%s", timestamp, body)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signed))
	expected := mac.Sum(nil)

	for _, candidate := range candidates {
		candidateBytes, err := hex.DecodeString(strings.ToLower(candidate))
		if err != nil {
			continue
		}
		if hmac.Equal(expected, candidateBytes) {
			return Result{Valid: true, Reason: ReasonOK}
		}
	}

	return Result{Valid: false, Reason: ReasonInvalidSignature}
}

// verifyToken compares a shared token byte-for-byte; no hashing. An optional
// "Bearer " prefix is stripped so the token may arrive via Authorization.
func (v *Verifier) verifyToken(secret, header string) Result {
	token := strings.TrimSpace(header)
	token = strings.TrimPrefix(token, "Bearer ")

	if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
		return Result{Valid: false, Reason: ReasonInvalidSignature}
	}
	return Result{Valid: true, Reason: ReasonOK}
}

// HeaderCandidates lists the request headers consulted for a scheme, in
// precedence order.
func HeaderCandidates(scheme domain.SignatureScheme, kind domain.ConnectionKind) []string {
	switch scheme {
	case domain.SignatureSchemeStripeHMAC:
		return []string{"Stripe-Signature", "X-Webhook-Signature"}
	case domain.SignatureSchemeHeaderToken:
		return []string{"X-Webhook-Token", "Authorization"}
	case domain.SignatureSchemeHMACSHA256:
		if kind == domain.ConnectionKindWhop {
			return []string{"X-Whop-Signature", "X-Webhook-Signature", "X-Signature", "X-Hub-Signature-256"}
		}
		return []string{"X-Webhook-Signature", "X-Signature", "X-Hub-Signature-256"}
	default:
		return nil
	}
}
