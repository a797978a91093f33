package creem

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// SignatureHeader carries hex(HMAC-SHA256(webhook secret, raw body)).
const SignatureHeader = "creem-signature"

var (
	ErrSecretNotConfigured = errors.New("creem webhook secret not configured")
	ErrMissingSignature    = errors.New("creem signature header missing")
	ErrSignatureMismatch   = errors.New("creem signature mismatch")
)

func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks the raw body against the header value in constant time.
func VerifySignature(secret string, body []byte, signature string) error {
	if strings.TrimSpace(secret) == "" {
		return ErrSecretNotConfigured
	}
	signature = strings.ToLower(strings.TrimSpace(signature))
	if signature == "" {
		return ErrMissingSignature
	}
	expected := Sign(secret, body)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrSignatureMismatch
	}
	return nil
}
