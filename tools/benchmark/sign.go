package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// signatureHeaders computes the request headers the ingest API's verifier
// expects for the given scheme. An empty map means the delivery goes out
// unsigned.
func signatureHeaders(scheme, secret string, body []byte, now time.Time) map[string]string {
	if secret == "" {
		return nil
	}

	switch scheme {
	case "hmac_sha256":
		return map[string]string{
			"X-Webhook-Signature": "sha256=" + hmacHex(secret, body),
		}
	case "stripe_hmac":
		ts := now.Unix()
		signed := fmt.Appendf(nil, "%d.%s", ts, body)
		return map[string]string{
			"Stripe-Signature": fmt.Sprintf("t=%d,v1=%s", ts, hmacHex(secret, signed)),
		}
	case "header_token":
		return map[string]string{
			"X-Webhook-Token": secret,
		}
	default:
		return nil
	}
}

func hmacHex(secret string, data []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// percentile returns the pth percentile of sorted latencies.
func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
