// Package signing computes and checks HMAC-SHA256 signatures over webhook
// payloads. Outbound signing and inbound verification share one code path.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/kursadbilgin/webhook-dispatcher/internal/domain"
)

// HeaderName carries the hex signature on outgoing and inbound requests.
const HeaderName = "X-Webhook-Signature"

const headerPrefix = "sha256="

// Sign returns the hex HMAC-SHA256 of body keyed by secret.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the signature of rawBody and compares it with
// signatureHex in constant time. A "sha256=" prefix on the header value is
// accepted.
func Verify(rawBody []byte, signatureHex string, secret string) bool {
	if secret == "" {
		return false
	}

	candidate := strings.TrimSpace(signatureHex)
	candidate = strings.TrimPrefix(strings.ToLower(candidate), headerPrefix)
	got, err := hex.DecodeString(candidate)
	if err != nil || len(got) != sha256.Size {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	return hmac.Equal(got, mac.Sum(nil))
}

// SignPayload sets p.Signature when the destination has a secret and
// returns the signature; unsigned destinations get an empty string and an
// untouched payload.
func SignPayload(p *domain.Payload, dest *domain.Destination) (string, error) {
	if p == nil {
		return "", fmt.Errorf("payload is required")
	}
	p.Signature = ""
	if !dest.HasSecret() {
		return "", nil
	}

	canonical, err := p.Canonical()
	if err != nil {
		return "", err
	}

	p.Signature = Sign(canonical, *dest.Secret)
	return p.Signature, nil
}
