package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyHMACSHA256Hex(t *testing.T) {
	secret := []byte("whsec_test")
	payload := []byte(`{"event_id":"evt_1","type":"payment.succeeded"}`)
	signature := SignHMACSHA256Hex(payload, secret)

	assert.True(t, VerifyHMACSHA256Hex(payload, signature, secret))
	assert.False(t, VerifyHMACSHA256Hex(payload, signature, []byte("wrong")))
	assert.False(t, VerifyHMACSHA256Hex(payload, "deadbeef", secret))
	assert.False(t, VerifyHMACSHA256Hex(payload, "not hex!", secret))
	assert.False(t, VerifyHMACSHA256Hex(payload, "", secret))
}

func TestVerifyHMACSHA256HexSingleByteAlteration(t *testing.T) {
	secret := []byte("whsec_test")
	payload := []byte(`{"event_id":"evt_1","amount_minor":5000}`)
	signature := SignHMACSHA256Hex(payload, secret)

	for i := range payload {
		altered := make([]byte, len(payload))
		copy(altered, payload)
		altered[i] ^= 0x01
		assert.False(t, VerifyHMACSHA256Hex(altered, signature, secret),
			"altered byte %d must not verify", i)
	}
}

func TestVerifyHMACSHA256Base64(t *testing.T) {
	secret := []byte("adyen_hmac_key")
	payload := []byte(`{"eventId":"evt_2","eventCode":"AUTHORISATION"}`)
	signature := SignHMACSHA256Base64(payload, secret)

	assert.True(t, VerifyHMACSHA256Base64(payload, signature, secret))
	assert.False(t, VerifyHMACSHA256Base64(payload, signature, []byte("wrong")))
	assert.False(t, VerifyHMACSHA256Base64(payload, "%%%not-base64", secret))
}

func TestMockAdapterWebhookRoundTrip(t *testing.T) {
	adapter := NewMockAdapter("mock-secret")
	payload := []byte(`{"event_id":"evt_3","type":"payment.succeeded","processor_ref":"mock_pi_1","amount_minor":5175,"currency":"usd"}`)

	require.NoError(t, adapter.VerifyWebhookSignature(payload, adapter.Sign(payload)))

	err := adapter.VerifyWebhookSignature(payload, adapter.Sign([]byte("other")))
	require.Error(t, err)
	assert.Equal(t, KindInvalidWebhookSignature, KindOf(err))

	event, err := adapter.ParseWebhookEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, EventPaymentSucceeded, event.Type)
	assert.Equal(t, "evt_3", event.ExternalEventID)
	assert.Equal(t, int64(5175), event.AmountMinor)
}
