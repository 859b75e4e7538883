package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
)

// Signature headers accepted by HMACDecoder, in lookup order
const (
	SignatureHeader       = "X-Signature"
	LegacySignatureHeader = "creem-signature"
)

// Sign returns the hex HMAC-SHA256 of body under secret
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks signature against body. An empty secret or
// signature never verifies.
func VerifySignature(body []byte, signature, secret string) error {
	if secret == "" || signature == "" {
		return ErrInvalidSignature
	}
	expected := Sign(body, secret)
	if subtle.ConstantTimeCompare([]byte(signature), []byte(expected)) != 1 {
		return ErrInvalidSignature
	}
	return nil
}

// HMACDecoder verifies shared-secret signed webhooks (Creem and the fake
// provider)
type HMACDecoder struct {
	secret string
}

// NewHMACDecoder creates a decoder for the given shared secret
func NewHMACDecoder(secret string) *HMACDecoder {
	return &HMACDecoder{secret: secret}
}

// Decode verifies the body signature, then parses the event
func (d *HMACDecoder) Decode(body []byte, header http.Header) (*Event, error) {
	signature := header.Get(SignatureHeader)
	if signature == "" {
		signature = header.Get(LegacySignatureHeader)
	}
	if err := VerifySignature(body, signature, d.secret); err != nil {
		return nil, err
	}
	return ParseEvent(body)
}
