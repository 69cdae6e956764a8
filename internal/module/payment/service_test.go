package payment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/givestack/payments/internal/module/payment/provider"
)

func newTestService(t *testing.T) (*Service, *provider.MockAdapter) {
	t.Helper()
	mock := provider.NewMockAdapter("whsec_test")
	registry := NewRegistry()
	registry.Register(mock)

	config := DefaultServiceConfig()
	config.Retry = config.Retry.WithSleeper(func(ctx context.Context, d time.Duration) error {
		return nil
	})
	svc := NewService(registry, NewMemoryIdempotencyStore(), config, NopMetrics(), zap.NewNop())
	return svc, mock
}

func TestServiceCreatePaymentIntentIdempotent(t *testing.T) {
	svc, mock := newTestService(t)
	ctx := context.Background()

	req := CreatePaymentIntentRequest{
		Processor:      "mock",
		AmountMinor:    5000,
		Currency:       "usd",
		DonorCoversFee: true,
		IdempotencyKey: "don_123",
	}

	first, err := svc.CreatePaymentIntent(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(5175), first.AmountMinor)
	assert.Equal(t, int64(175), first.FeeMinor)

	second, err := svc.CreatePaymentIntent(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, 1, mock.IntentCalls(), "key reuse must not reach the processor")
	assert.Equal(t, first, second)
}

func TestServiceCreatePaymentIntentValidation(t *testing.T) {
	svc, mock := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreatePaymentIntent(ctx, CreatePaymentIntentRequest{
		Processor: "mock", AmountMinor: 0, Currency: "usd", IdempotencyKey: "k",
	})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = svc.CreatePaymentIntent(ctx, CreatePaymentIntentRequest{
		Processor: "mock", AmountMinor: 5000, Currency: "usd",
	})
	assert.ErrorIs(t, err, ErrMissingIdempotency)

	_, err = svc.CreatePaymentIntent(ctx, CreatePaymentIntentRequest{
		Processor: "nope", AmountMinor: 5000, Currency: "usd", IdempotencyKey: "k",
	})
	assert.ErrorIs(t, err, ErrProcessorNotFound)

	assert.Zero(t, mock.Calls(), "validation failures must not reach the processor")
}

func TestServiceKeyReuseWithDifferentParams(t *testing.T) {
	svc, mock := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreatePaymentIntent(ctx, CreatePaymentIntentRequest{
		Processor: "mock", AmountMinor: 5000, Currency: "usd", IdempotencyKey: "don_1",
	})
	require.NoError(t, err)

	_, err = svc.CreatePaymentIntent(ctx, CreatePaymentIntentRequest{
		Processor: "mock", AmountMinor: 9999, Currency: "usd", IdempotencyKey: "don_1",
	})
	assert.ErrorIs(t, err, ErrIdempotencyConflict)

	// A metadata-only change is still a different request.
	_, err = svc.CreatePaymentIntent(ctx, CreatePaymentIntentRequest{
		Processor: "mock", AmountMinor: 5000, Currency: "usd", IdempotencyKey: "don_1",
		Metadata: map[string]string{"campaign": "spring"},
	})
	assert.ErrorIs(t, err, ErrIdempotencyConflict)
	assert.Equal(t, 1, mock.IntentCalls())
}

func TestServiceRetriesTransientFailures(t *testing.T) {
	svc, mock := newTestService(t)
	ctx := context.Background()

	mock.FailNext(
		provider.NewError("mock", provider.KindNetworkError, "connection reset"),
		provider.NewError("mock", provider.KindTimeout, "deadline exceeded"),
	)

	result, err := svc.CreatePaymentIntent(ctx, CreatePaymentIntentRequest{
		Processor: "mock", AmountMinor: 5000, Currency: "usd", IdempotencyKey: "don_retry",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.ProcessorRef)
	assert.Equal(t, 3, mock.IntentCalls(), "two transient failures then success")
}

func TestServiceDoesNotRetryDeclines(t *testing.T) {
	svc, mock := newTestService(t)
	ctx := context.Background()

	mock.FailNext(provider.NewError("mock", provider.KindCardDeclined, "card declined"))

	_, err := svc.CreatePaymentIntent(ctx, CreatePaymentIntentRequest{
		Processor: "mock", AmountMinor: 5000, Currency: "usd", IdempotencyKey: "don_decline",
	})
	require.Error(t, err)
	assert.Equal(t, provider.KindCardDeclined, provider.KindOf(err))
	assert.Equal(t, 1, mock.IntentCalls(), "declines are not retried")
}

func TestServiceFailureAllowsKeyRetry(t *testing.T) {
	svc, mock := newTestService(t)
	ctx := context.Background()

	mock.FailNext(provider.NewError("mock", provider.KindCardDeclined, "card declined"))

	req := CreatePaymentIntentRequest{
		Processor: "mock", AmountMinor: 5000, Currency: "usd", IdempotencyKey: "don_again",
	}
	_, err := svc.CreatePaymentIntent(ctx, req)
	require.Error(t, err)

	// The claim was released; the same key works once the decline clears.
	result, err := svc.CreatePaymentIntent(ctx, req)
	require.NoError(t, err)
	assert.NotEmpty(t, result.ProcessorRef)
}

func TestServiceCreateRecurringMandate(t *testing.T) {
	svc, mock := newTestService(t)
	ctx := context.Background()

	start := time.Now().AddDate(0, 0, 7)
	result, err := svc.CreateRecurringMandate(ctx, CreateMandateRequest{
		Processor:      "mock",
		AmountMinor:    2500,
		Currency:       "usd",
		Frequency:      provider.FrequencyMonthly,
		StartDate:      start,
		IdempotencyKey: "man_1",
	})
	require.NoError(t, err)
	assert.Equal(t, provider.MandateStatusActive, result.Status)
	assert.Equal(t, start.AddDate(0, 1, 0).Unix(), result.NextChargeDate.Unix())

	_, err = svc.CreateRecurringMandate(ctx, CreateMandateRequest{
		Processor: "mock", AmountMinor: 2500, Currency: "usd",
		Frequency: "weekly", IdempotencyKey: "man_2",
	})
	assert.ErrorIs(t, err, ErrInvalidFrequency)

	_, err = svc.CreateRecurringMandate(ctx, CreateMandateRequest{
		Processor: "mock", AmountMinor: 2500, Currency: "usd",
		Frequency: provider.FrequencyMonthly,
		StartDate: time.Now().AddDate(0, 0, -2), IdempotencyKey: "man_3",
	})
	assert.ErrorIs(t, err, ErrStartDateInPast)

	// Local midnight today is a valid start regardless of the zone's UTC
	// offset.
	_, err = svc.CreateRecurringMandate(ctx, CreateMandateRequest{
		Processor: "mock", AmountMinor: 2500, Currency: "usd",
		Frequency: provider.FrequencyMonthly,
		StartDate: startOfToday(), IdempotencyKey: "man_4",
	})
	require.NoError(t, err)

	assert.Equal(t, 2, mock.Calls())
}

func TestServiceCancelMandateTwice(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateRecurringMandate(ctx, CreateMandateRequest{
		Processor: "mock", AmountMinor: 2500, Currency: "usd",
		Frequency: provider.FrequencyMonthly, IdempotencyKey: "man_c",
	})
	require.NoError(t, err)

	first, err := svc.CancelRecurringMandate(ctx, "mock", created.MandateRef)
	require.NoError(t, err)
	assert.Equal(t, provider.MandateStatusCancelled, first.Status)

	second, err := svc.CancelRecurringMandate(ctx, "mock", created.MandateRef)
	require.NoError(t, err)
	assert.Equal(t, provider.MandateStatusCancelled, second.Status)
}

func TestServiceRefundCeilingCheckedLocally(t *testing.T) {
	svc, mock := newTestService(t)
	ctx := context.Background()

	_, err := svc.RefundPayment(ctx, RefundRequest{
		Processor:           "mock",
		ProcessorRef:        "mock_pi_1",
		AmountMinor:         6000,
		OriginalAmountMinor: 5000,
		IdempotencyKey:      "ref_1",
	})
	assert.ErrorIs(t, err, ErrRefundExceedsTotal)
	assert.Zero(t, mock.RefundCalls(), "ceiling violations must not reach the processor")
}

func TestServiceRefundPartial(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	intent, err := svc.CreatePaymentIntent(ctx, CreatePaymentIntentRequest{
		Processor: "mock", AmountMinor: 5000, Currency: "eur", IdempotencyKey: "don_r",
	})
	require.NoError(t, err)

	refund, err := svc.RefundPayment(ctx, RefundRequest{
		Processor:           "mock",
		ProcessorRef:        intent.ProcessorRef,
		AmountMinor:         2000,
		OriginalAmountMinor: intent.AmountMinor,
		Currency:            intent.Currency,
		IdempotencyKey:      "ref_2",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2000), refund.AmountMinor)
	assert.Equal(t, "eur", refund.Currency, "refund stays in the charge currency")
}

func TestServiceBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	mock := provider.NewMockAdapter("whsec_test")
	registry := NewRegistry()
	registry.Register(mock)

	config := DefaultServiceConfig()
	config.Retry = RetryPolicy{MaxAttempts: 1}.WithSleeper(func(ctx context.Context, d time.Duration) error {
		return nil
	})
	config.BreakerFailures = 2
	svc := NewService(registry, NewMemoryIdempotencyStore(), config, NopMetrics(), zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		mock.FailNext(provider.NewError("mock", provider.KindNetworkError, "connection reset"))
		_, err := svc.CreatePaymentIntent(ctx, CreatePaymentIntentRequest{
			Processor: "mock", AmountMinor: 5000, Currency: "usd",
			IdempotencyKey: "don_b_" + string(rune('a'+i)),
		})
		require.Error(t, err)
	}

	calls := mock.Calls()
	_, err := svc.CreatePaymentIntent(ctx, CreatePaymentIntentRequest{
		Processor: "mock", AmountMinor: 5000, Currency: "usd", IdempotencyKey: "don_b_z",
	})
	require.Error(t, err)
	assert.Equal(t, provider.KindNetworkError, provider.KindOf(err))
	assert.True(t, provider.IsTransient(err))
	assert.Equal(t, calls, mock.Calls(), "open circuit short-circuits the processor call")
}

func TestServiceCalculateFees(t *testing.T) {
	svc, _ := newTestService(t)

	fees, err := svc.CalculateFees("mock", 5000, true)
	require.NoError(t, err)
	assert.Equal(t, int64(175), fees.TotalFeeMinor)
	assert.Equal(t, int64(5175), fees.TotalChargeMinor)

	_, err = svc.CalculateFees("missing", 5000, false)
	assert.ErrorIs(t, err, ErrProcessorNotFound)
}
