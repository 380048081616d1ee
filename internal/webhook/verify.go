package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

const (
	SignatureHeader = "X-Hub-Signature-256"
	signaturePrefix = "sha256="
	subscribeMode   = "subscribe"
)

var (
	ErrSignatureMissing  = errors.New("webhook signature header is required")
	ErrSignatureMismatch = errors.New("webhook signature verification failed")
)

// VerifySubscription answers the GET handshake sent when the webhook is
// registered. It returns the challenge to echo back and whether the token
// matched.
func VerifySubscription(mode, token, challenge, expectedToken string) (string, bool) {
	if mode != subscribeMode || expectedToken == "" {
		return "", false
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
		return "", false
	}
	return challenge, true
}

// SignatureVerifier checks the HMAC-SHA256 of a delivery body against the
// X-Hub-Signature-256 header. A zero value (no secret) accepts everything.
type SignatureVerifier struct {
	Secret string
}

func (v SignatureVerifier) Enabled() bool {
	return strings.TrimSpace(v.Secret) != ""
}

func (v SignatureVerifier) Verify(header string, body []byte) error {
	if !v.Enabled() {
		return nil
	}
	sig := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(header), signaturePrefix))
	if sig == "" {
		return ErrSignatureMissing
	}
	decoded, err := hex.DecodeString(sig)
	if err != nil {
		return ErrSignatureMismatch
	}

	mac := hmac.New(sha256.New, []byte(strings.TrimSpace(v.Secret)))
	_, _ = mac.Write(body)
	if subtle.ConstantTimeCompare(decoded, mac.Sum(nil)) != 1 {
		return ErrSignatureMismatch
	}
	return nil
}
