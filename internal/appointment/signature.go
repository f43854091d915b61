package appointment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// SignatureFormat documents the canonical payload the gateway signs.
const SignatureFormat = "paymentId|gatewayPaymentId|prescriptionId|amount"

// Signer computes and checks HMAC-SHA256 signatures over settlement payloads.
type Signer struct {
	secret []byte
}

func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Payload builds the canonical string for one callback. Amount is rendered
// in major units with two decimals, e.g. 600.00.
func Payload(paymentID uuid.UUID, gatewayPaymentID string, prescriptionID uuid.UUID, amount Money) string {
	return strings.Join([]string{
		paymentID.String(),
		gatewayPaymentID,
		prescriptionID.String(),
		amount.String(),
	}, "|")
}

// Sign returns the hex-encoded HMAC-SHA256 of payload.
func (s *Signer) Sign(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify compares in constant time.
func (s *Signer) Verify(payload, signature string) bool {
	expected := s.Sign(payload)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature))))
}
