package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// ErrBadSignature is returned when a webhook signature does not verify
var ErrBadSignature = errors.New("webhook signature mismatch")

// WebhookVerifier checks the signature on inbound payment events.
// Verification against the payment processor is an external concern; this
// interface is what the billing handler depends on.
type WebhookVerifier interface {
	Verify(payload []byte, signature string) error
}

// HMACWebhookVerifier verifies hex-encoded HMAC-SHA256 signatures
type HMACWebhookVerifier struct {
	secret []byte
}

func NewHMACWebhookVerifier(secret string) *HMACWebhookVerifier {
	return &HMACWebhookVerifier{secret: []byte(secret)}
}

// Verify checks the payload against the provided signature
func (v *HMACWebhookVerifier) Verify(payload []byte, signature string) error {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrBadSignature
	}
	return nil
}

// Sign produces the signature for a payload (useful for testing)
func (v *HMACWebhookVerifier) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
