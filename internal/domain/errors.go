package domain

import "errors"

var (
	// ErrConnectionInactive is the audit reason recorded when a delivery
	// targets a connection an administrator has deactivated
	ErrConnectionInactive = errors.New("connection is inactive")

	// ErrInvalidSignature is the audit reason recorded when signature
	// verification rejects a delivery
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrRateLimited is the audit reason recorded when the delivery rate
	// limit has been exceeded
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrMalformedPayload is returned when the request body is not valid JSON
	ErrMalformedPayload = errors.New("malformed JSON payload")

	// ErrTargetTableNotAllowed is returned when an enrichment rule names a
	// target table outside the configured allow-list
	ErrTargetTableNotAllowed = errors.New("target table not allowed")

	// ErrNoUniqueConstraint is returned by the store when an upsert's conflict
	// target has no matching unique constraint on the target table
	ErrNoUniqueConstraint = errors.New("no matching unique constraint for upsert")
)
