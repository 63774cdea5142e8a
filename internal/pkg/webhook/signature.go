package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignatureHeader is the header the payment gateway delivers the payload
// signature in: hex-encoded HMAC-SHA256 over the raw request body.
const SignatureHeader = "X-Webhook-Signature"

// VerifySignature checks the gateway signature against the shared secret.
// An empty signature or secret never verifies.
func VerifySignature(payload []byte, signatureHeader, secret string) bool {
	sig := strings.TrimSpace(signatureHeader)
	sec := strings.TrimSpace(secret)
	if sig == "" || sec == "" {
		return false
	}

	decoded, err := hex.DecodeString(strings.ToLower(sig))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(sec))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), decoded)
}
