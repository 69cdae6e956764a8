package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/customer"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"github.com/stripe/stripe-go/v76/refund"
	"github.com/stripe/stripe-go/v76/subscription"
	"github.com/stripe/stripe-go/v76/webhook"
)

const stripeName = "stripe"

// StripeConfig holds Stripe configuration.
type StripeConfig struct {
	APIKey        string
	WebhookSecret string
	ProductID     string // product used for inline recurring prices
	Fees          FeeSchedule
}

// StripeAdapter implements Adapter for Stripe.
type StripeAdapter struct {
	webhookSecret string
	productID     string
	fees          FeeSchedule
}

// NewStripeAdapter creates a new Stripe adapter.
func NewStripeAdapter(config *StripeConfig) *StripeAdapter {
	stripe.Key = config.APIKey
	fees := config.Fees
	if fees.PercentBasisPoints == 0 && fees.FixedMinor == 0 {
		fees = DefaultStripeFees
	}
	return &StripeAdapter{
		webhookSecret: config.WebhookSecret,
		productID:     config.ProductID,
		fees:          fees,
	}
}

// Name returns the processor identifier.
func (a *StripeAdapter) Name() string {
	return stripeName
}

func (a *StripeAdapter) CreatePaymentIntent(ctx context.Context, params PaymentIntentParams) (*PaymentIntentResult, error) {
	fees := a.fees.Calculate(params.AmountMinor, params.DonorCoversFee)

	piParams := &stripe.PaymentIntentParams{
		Amount:       stripe.Int64(fees.TotalChargeMinor),
		Currency:     stripe.String(params.Currency),
		ReceiptEmail: stripe.String(params.DonorEmail),
	}
	for k, v := range params.Metadata {
		piParams.AddMetadata(k, v)
	}
	piParams.SetIdempotencyKey(params.IdempotencyKey)

	pi, err := paymentintent.New(piParams)
	if err != nil {
		return nil, a.classify(err)
	}

	return &PaymentIntentResult{
		ProcessorRef: pi.ID,
		Status:       mapStripeIntentStatus(pi.Status),
		AmountMinor:  pi.Amount,
		Currency:     string(pi.Currency),
		FeeMinor:     fees.TotalFeeMinor,
		NetMinor:     pi.Amount - fees.TotalFeeMinor,
		ClientSecret: pi.ClientSecret,
		Metadata:     pi.Metadata,
	}, nil
}

func (a *StripeAdapter) CreateRecurringMandate(ctx context.Context, params MandateParams) (*MandateResult, error) {
	cust, err := a.findOrCreateCustomer(params.DonorEmail, params.IdempotencyKey)
	if err != nil {
		return nil, a.classify(err)
	}

	interval, intervalCount := stripeInterval(params.Frequency)
	subParams := &stripe.SubscriptionParams{
		Customer: stripe.String(cust.ID),
		Items: []*stripe.SubscriptionItemsParams{
			{
				PriceData: &stripe.SubscriptionItemPriceDataParams{
					Currency:   stripe.String(params.Currency),
					Product:    stripe.String(a.productID),
					UnitAmount: stripe.Int64(params.AmountMinor),
					Recurring: &stripe.SubscriptionItemPriceDataRecurringParams{
						Interval:      stripe.String(interval),
						IntervalCount: stripe.Int64(intervalCount),
					},
				},
			},
		},
		ProrationBehavior: stripe.String("none"),
	}
	if params.StartDate.After(time.Now()) {
		subParams.BillingCycleAnchor = stripe.Int64(params.StartDate.Unix())
	}
	for k, v := range params.Metadata {
		subParams.AddMetadata(k, v)
	}
	subParams.SetIdempotencyKey(params.IdempotencyKey)

	sub, err := subscription.New(subParams)
	if err != nil {
		return nil, a.classify(err)
	}
	return a.mapSubscription(sub, params.AmountMinor, params.Currency, params.Frequency), nil
}

func (a *StripeAdapter) UpdateRecurringMandate(ctx context.Context, mandateRef string, params MandateUpdateParams) (*MandateResult, error) {
	current, err := subscription.Get(mandateRef, nil)
	if err != nil {
		return nil, a.classify(err)
	}

	updateParams := &stripe.SubscriptionParams{
		ProrationBehavior: stripe.String("none"),
	}
	if params.AmountMinor > 0 && len(current.Items.Data) > 0 {
		item := current.Items.Data[0]
		updateParams.Items = []*stripe.SubscriptionItemsParams{
			{
				ID: stripe.String(item.ID),
				PriceData: &stripe.SubscriptionItemPriceDataParams{
					Currency:   stripe.String(string(item.Price.Currency)),
					Product:    stripe.String(a.productID),
					UnitAmount: stripe.Int64(params.AmountMinor),
					Recurring: &stripe.SubscriptionItemPriceDataRecurringParams{
						Interval:      stripe.String(string(item.Price.Recurring.Interval)),
						IntervalCount: stripe.Int64(item.Price.Recurring.IntervalCount),
					},
				},
			},
		}
	}
	if params.Paused {
		updateParams.PauseCollection = &stripe.SubscriptionPauseCollectionParams{
			Behavior: stripe.String("void"),
		}
	} else if current.PauseCollection != nil {
		// Clearing pause_collection requires an explicit empty value.
		updateParams.AddExtra("pause_collection", "")
	}
	if params.EffectiveImmediately {
		updateParams.ProrationBehavior = stripe.String("always_invoice")
	}

	sub, err := subscription.Update(mandateRef, updateParams)
	if err != nil {
		return nil, a.classify(err)
	}
	return a.mapSubscription(sub, params.AmountMinor, "", ""), nil
}

func (a *StripeAdapter) CancelRecurringMandate(ctx context.Context, mandateRef string) (*MandateResult, error) {
	current, err := subscription.Get(mandateRef, nil)
	if err != nil {
		return nil, a.classify(err)
	}
	// Cancelling twice is a no-op success.
	if current.Status == stripe.SubscriptionStatusCanceled {
		return a.mapSubscription(current, 0, "", ""), nil
	}

	sub, err := subscription.Cancel(mandateRef, nil)
	if err != nil {
		return nil, a.classify(err)
	}
	return a.mapSubscription(sub, 0, "", ""), nil
}

func (a *StripeAdapter) RefundPayment(ctx context.Context, params RefundParams) (*RefundResult, error) {
	refundParams := &stripe.RefundParams{
		PaymentIntent: stripe.String(params.ProcessorRef),
	}
	if params.AmountMinor > 0 {
		refundParams.Amount = stripe.Int64(params.AmountMinor)
	}
	if params.Reason != "" {
		refundParams.Reason = stripe.String(params.Reason)
	}
	refundParams.SetIdempotencyKey(params.IdempotencyKey)

	r, err := refund.New(refundParams)
	if err != nil {
		return nil, a.classify(err)
	}
	return &RefundResult{
		RefundRef:    r.ID,
		ProcessorRef: params.ProcessorRef,
		AmountMinor:  r.Amount,
		Currency:     string(r.Currency),
		Status:       string(r.Status),
	}, nil
}

// SignatureHeader returns the Stripe webhook signature header.
func (a *StripeAdapter) SignatureHeader() string {
	return "Stripe-Signature"
}

// VerifyWebhookSignature verifies the Stripe-Signature header. The SDK
// compares HMAC digests with hmac.Equal internally.
func (a *StripeAdapter) VerifyWebhookSignature(payload []byte, signature string) error {
	_, err := webhook.ConstructEventWithOptions(payload, signature, a.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return NewError(stripeName, KindInvalidWebhookSignature, "webhook signature mismatch")
	}
	return nil
}

func (a *StripeAdapter) ParseWebhookEvent(payload []byte) (*WebhookEvent, error) {
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, WrapError(stripeName, KindUnknownProcessorError, fmt.Errorf("parse webhook event: %w", err))
	}

	evt := &WebhookEvent{
		Processor:       stripeName,
		ExternalEventID: event.ID,
		OccurredAt:      time.Unix(event.Created, 0).UTC(),
		RawPayload:      payload,
	}

	switch event.Type {
	case "payment_intent.succeeded":
		evt.Type = EventPaymentSucceeded
	case "payment_intent.payment_failed":
		evt.Type = EventPaymentFailed
	case "payment_intent.processing":
		evt.Type = EventPaymentPending
	case "charge.refunded":
		evt.Type = EventPaymentRefunded
	case "charge.dispute.created":
		evt.Type = EventPaymentDisputed
	case "customer.subscription.created":
		evt.Type = EventMandateCreated
	case "customer.subscription.updated":
		evt.Type = EventMandateUpdated
	case "customer.subscription.deleted":
		evt.Type = EventMandateCancelled
	case "invoice.payment_failed":
		evt.Type = EventMandateFailed
	case "payout.paid":
		evt.Type = EventPayoutPaid
	default:
		return nil, WrapError(stripeName, KindUnknownProcessorError, fmt.Errorf("unhandled event type %q", event.Type))
	}

	var object struct {
		ID           string `json:"id"`
		Amount       int64  `json:"amount"`
		AmountPaid   int64  `json:"amount_paid"`
		Currency     string `json:"currency"`
		Subscription string `json:"subscription"`
	}
	if err := json.Unmarshal(event.Data.Raw, &object); err != nil {
		return nil, WrapError(stripeName, KindUnknownProcessorError, fmt.Errorf("parse event object: %w", err))
	}

	switch evt.Type {
	case EventMandateCreated, EventMandateUpdated, EventMandateCancelled:
		evt.MandateRef = object.ID
	case EventMandateFailed:
		evt.MandateRef = object.Subscription
		evt.ProcessorRef = object.ID
		evt.AmountMinor = object.AmountPaid
	default:
		evt.ProcessorRef = object.ID
		evt.AmountMinor = object.Amount
	}
	evt.Currency = object.Currency
	return evt, nil
}

func (a *StripeAdapter) CalculateFees(amountMinor int64, donorCoversFee bool) FeeCalculation {
	return a.fees.Calculate(amountMinor, donorCoversFee)
}

// --- Helpers ---

func (a *StripeAdapter) findOrCreateCustomer(email, idempotencyKey string) (*stripe.Customer, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
	}
	params.SetIdempotencyKey(idempotencyKey + ":customer")
	return customer.New(params)
}

func (a *StripeAdapter) mapSubscription(sub *stripe.Subscription, amountMinor int64, currency string, freq Frequency) *MandateResult {
	status := MandateStatusActive
	switch {
	case sub.Status == stripe.SubscriptionStatusCanceled:
		status = MandateStatusCancelled
	case sub.PauseCollection != nil:
		status = MandateStatusPaused
	case sub.Status == stripe.SubscriptionStatusPastDue, sub.Status == stripe.SubscriptionStatusUnpaid:
		status = MandateStatusFailed
	}

	if len(sub.Items.Data) > 0 {
		price := sub.Items.Data[0].Price
		if price != nil {
			if amountMinor == 0 {
				amountMinor = price.UnitAmount
			}
			if currency == "" {
				currency = string(price.Currency)
			}
			if freq == "" && price.Recurring != nil {
				freq = frequencyFromStripe(string(price.Recurring.Interval), price.Recurring.IntervalCount)
			}
		}
	}

	return &MandateResult{
		MandateRef:     sub.ID,
		Status:         status,
		AmountMinor:    amountMinor,
		Currency:       currency,
		Frequency:      freq,
		NextChargeDate: time.Unix(sub.CurrentPeriodEnd, 0).UTC(),
	}
}

func (a *StripeAdapter) classify(err error) error {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return ClassifyTransport(stripeName, err)
	}

	if stripeErr.HTTPStatusCode >= 500 {
		return WrapError(stripeName, KindNetworkError, err)
	}
	// Auth failures carry no dedicated error type; they surface as 401/403.
	if stripeErr.HTTPStatusCode == 401 || stripeErr.HTTPStatusCode == 403 {
		return NewError(stripeName, KindAuthenticationFailed, "processor rejected API credentials")
	}
	if stripeErr.Type == stripe.ErrorTypeIdempotency {
		return NewError(stripeName, KindIdempotencyKeyConflict, "idempotency key reused with different parameters")
	}

	switch stripeErr.Code {
	case stripe.ErrorCodeCardDeclined:
		if string(stripeErr.DeclineCode) == "insufficient_funds" {
			return NewError(stripeName, KindInsufficientFunds, "insufficient funds")
		}
		return NewError(stripeName, KindCardDeclined, "card declined")
	case stripe.ErrorCodeExpiredCard:
		return NewError(stripeName, KindExpiredCard, "card expired")
	case stripe.ErrorCodeIncorrectNumber, stripe.ErrorCodeInvalidNumber, stripe.ErrorCodeIncorrectCVC:
		return NewError(stripeName, KindInvalidCard, "invalid card details")
	case stripe.ErrorCodeAmountTooSmall, stripe.ErrorCodeAmountTooLarge:
		return NewError(stripeName, KindInvalidAmount, "amount outside processor limits")
	}
	// Message intentionally generic: processor error text may echo input.
	return WrapError(stripeName, KindUnknownProcessorError, fmt.Errorf("processor error %s", stripeErr.Code))
}

func mapStripeIntentStatus(status stripe.PaymentIntentStatus) IntentStatus {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return IntentStatusSucceeded
	case stripe.PaymentIntentStatusRequiresAction, stripe.PaymentIntentStatusRequiresConfirmation,
		stripe.PaymentIntentStatusRequiresPaymentMethod:
		return IntentStatusRequiresAction
	case stripe.PaymentIntentStatusCanceled:
		return IntentStatusFailed
	default:
		return IntentStatusPending
	}
}

func stripeInterval(freq Frequency) (string, int64) {
	switch freq {
	case FrequencyQuarterly:
		return "month", 3
	case FrequencyAnnually:
		return "year", 1
	default:
		return "month", 1
	}
}

func frequencyFromStripe(interval string, count int64) Frequency {
	switch {
	case interval == "year":
		return FrequencyAnnually
	case interval == "month" && count == 3:
		return FrequencyQuarterly
	default:
		return FrequencyMonthly
	}
}
