package appointment

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestPayloadFormat(t *testing.T) {
	paymentID := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	prescriptionID := uuid.MustParse("22222222-2222-2222-2222-222222222222")

	got := Payload(paymentID, "pay_ABC123", prescriptionID, Money(60000))

	assert.Equal(t, "11111111-1111-1111-1111-111111111111|pay_ABC123|22222222-2222-2222-2222-222222222222|600.00", got)
}

func TestSignerRoundTrip(t *testing.T) {
	s := NewSigner("gateway-secret")
	payload := "a|b|c|600.00"

	sig := s.Sign(payload)
	assert.Len(t, sig, 64)
	assert.True(t, s.Verify(payload, sig))
	assert.True(t, s.Verify(payload, " "+sig+" "))

	assert.False(t, s.Verify(payload+"1", sig))
	assert.False(t, NewSigner("other").Verify(payload, sig))
	assert.False(t, s.Verify(payload, ""))
}

func TestSignerDetectsSingleCharacterFlip(t *testing.T) {
	s := NewSigner("gateway-secret")
	sig := []byte(s.Sign("x|y|z|1.00"))

	if sig[0] == 'a' {
		sig[0] = 'b'
	} else {
		sig[0] = 'a'
	}

	assert.False(t, s.Verify("x|y|z|1.00", string(sig)))
}
