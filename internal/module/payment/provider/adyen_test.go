package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdyenAdapter(t *testing.T, handler http.HandlerFunc) *AdyenAdapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewAdyenAdapter(&AdyenConfig{
		BaseURL:       server.URL,
		APIKey:        "test-key",
		MerchantID:    "GiveStack",
		WebhookSecret: "adyen-secret",
	}, server.Client())
}

func TestAdyenCreatePaymentIntent(t *testing.T) {
	var gotIdempotencyKey string
	adapter := newTestAdyenAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payments", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-API-Key"))
		gotIdempotencyKey = r.Header.Get("Idempotency-Key")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"pspReference":"psp_123","resultCode":"Authorised"}`))
	})

	result, err := adapter.CreatePaymentIntent(context.Background(), PaymentIntentParams{
		AmountMinor:    5000,
		Currency:       "usd",
		DonorEmail:     "donor@example.org",
		DonorCoversFee: true,
		IdempotencyKey: "idem-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "idem-1", gotIdempotencyKey)
	assert.Equal(t, "psp_123", result.ProcessorRef)
	assert.Equal(t, IntentStatusSucceeded, result.Status)
	// 2.2% + 13 on 5000 = 110 + 13 = 123, donor covers.
	assert.Equal(t, int64(123), result.FeeMinor)
	assert.Equal(t, int64(5123), result.AmountMinor)
}

func TestAdyenClassifiesDeclines(t *testing.T) {
	adapter := newTestAdyenAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"errorCode":"insufficient_funds","message":"Not enough balance"}`))
	})

	_, err := adapter.CreatePaymentIntent(context.Background(), PaymentIntentParams{
		AmountMinor: 5000, Currency: "usd", IdempotencyKey: "idem-2",
	})
	require.Error(t, err)
	assert.Equal(t, KindInsufficientFunds, KindOf(err))
	assert.False(t, IsTransient(err))
}

func TestAdyenClassifiesServerErrorsTransient(t *testing.T) {
	adapter := newTestAdyenAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := adapter.CreatePaymentIntent(context.Background(), PaymentIntentParams{
		AmountMinor: 100, Currency: "usd", IdempotencyKey: "idem-3",
	})
	require.Error(t, err)
	assert.Equal(t, KindNetworkError, KindOf(err))
	assert.True(t, IsTransient(err))
}

func TestAdyenCancelMandateIdempotent(t *testing.T) {
	adapter := newTestAdyenAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	})

	result, err := adapter.CancelRecurringMandate(context.Background(), "man_1")
	require.NoError(t, err)
	assert.Equal(t, MandateStatusCancelled, result.Status)
}

func TestAdyenParseWebhookEvent(t *testing.T) {
	adapter := NewAdyenAdapter(&AdyenConfig{WebhookSecret: "adyen-secret"}, http.DefaultClient)
	payload := []byte(`{
		"eventId": "evt_42",
		"eventCode": "AUTHORISATION",
		"success": true,
		"pspReference": "psp_123",
		"amount": {"value": 5123, "currency": "usd"},
		"eventDate": "2026-08-01T12:00:00Z"
	}`)

	require.NoError(t, adapter.VerifyWebhookSignature(payload, SignHMACSHA256Base64(payload, []byte("adyen-secret"))))

	event, err := adapter.ParseWebhookEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, "adyen", event.Processor)
	assert.Equal(t, "evt_42", event.ExternalEventID)
	assert.Equal(t, EventPaymentSucceeded, event.Type)
	assert.Equal(t, "psp_123", event.ProcessorRef)
	assert.Equal(t, int64(5123), event.AmountMinor)
	assert.Equal(t, time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC), event.OccurredAt.UTC())
}

func TestAdyenParseWebhookFailedAuthorisation(t *testing.T) {
	adapter := NewAdyenAdapter(&AdyenConfig{}, http.DefaultClient)
	payload := []byte(`{"eventId":"evt_43","eventCode":"AUTHORISATION","success":false}`)

	event, err := adapter.ParseWebhookEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, EventPaymentFailed, event.Type)
}
