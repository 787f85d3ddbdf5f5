package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// Sign returns the signature header value for body
func Sign(body []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return fmt.Sprintf("sha256=%s", hex.EncodeToString(h.Sum(nil)))
}

// verifySignature compares in constant time
func verifySignature(body []byte, signature, secret string) bool {
	expected := Sign(body, secret)
	return subtle.ConstantTimeCompare([]byte(signature), []byte(expected)) == 1
}
