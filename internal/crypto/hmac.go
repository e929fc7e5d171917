package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// SignWebhook computes the HMAC-SHA256 signature of body under secret, in
// the "sha256=<hex>" form delivered as the X-RCRT-Signature header.
func SignWebhook(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhookSignature reports whether signature (as sent in
// X-RCRT-Signature) matches body under secret. Constant-time.
func VerifyWebhookSignature(secret string, body []byte, signature string) bool {
	expected := SignWebhook(secret, body)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}
