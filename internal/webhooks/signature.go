package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const signaturePrefix = "sha256="

// Sign returns the X-Webhook-Signature value for body: "sha256=" followed by
// the hex HMAC-SHA256 of the exact body bytes.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a received signature header against body. Receivers
// can use it to validate deliveries.
func VerifySignature(secret string, body []byte, signature string) bool {
	actualHex, ok := strings.CutPrefix(signature, signaturePrefix)
	if !ok {
		return false
	}

	actual, err := hex.DecodeString(actualHex)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)

	// Constant-time comparison
	return hmac.Equal(mac.Sum(nil), actual)
}
