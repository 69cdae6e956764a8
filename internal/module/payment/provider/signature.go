package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

// SignHMACSHA256Hex returns the hex-encoded HMAC-SHA256 of payload.
func SignHMACSHA256Hex(payload, secret []byte) string {
	h := hmac.New(sha256.New, secret)
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// SignHMACSHA256Base64 returns the base64-encoded HMAC-SHA256 of payload.
func SignHMACSHA256Base64(payload, secret []byte) string {
	h := hmac.New(sha256.New, secret)
	h.Write(payload)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// VerifyHMACSHA256Hex checks a hex signature against payload.
// hmac.Equal compares in constant time regardless of match position.
func VerifyHMACSHA256Hex(payload []byte, signature string, secret []byte) bool {
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	h := hmac.New(sha256.New, secret)
	h.Write(payload)
	return hmac.Equal(h.Sum(nil), expected)
}

// VerifyHMACSHA256Base64 checks a base64 signature against payload.
func VerifyHMACSHA256Base64(payload []byte, signature string, secret []byte) bool {
	expected, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	h := hmac.New(sha256.New, secret)
	h.Write(payload)
	return hmac.Equal(h.Sum(nil), expected)
}
