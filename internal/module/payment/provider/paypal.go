package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-pay/gopay"
	"github.com/go-pay/gopay/paypal"
	"golang.org/x/oauth2/clientcredentials"
)

const paypalName = "paypal"

// PayPalConfig holds PayPal configuration.
type PayPalConfig struct {
	ClientID string
	Secret   string
	IsProd   bool
	// PlanIDs maps a frequency to a pre-provisioned billing plan.
	PlanIDs map[Frequency]string
	// WebhookID identifies the webhook subscription for API verification.
	WebhookID string
	// WebhookSecret backs the HMAC stopgap used when the transmission
	// headers needed for API verification are unavailable (tests, relays).
	WebhookSecret   string
	DefaultCurrency string
	Fees            FeeSchedule
}

// PayPalAdapter implements Adapter for PayPal through the gopay client.
//
// Webhook authenticity is checked against PayPal's
// verify-webhook-signature API when the full transmission header set is
// present (VerifyWebhookAPI); the plain HMAC path exists only as a
// stopgap for environments where those headers cannot be forwarded.
type PayPalAdapter struct {
	client     *paypal.Client
	config     *PayPalConfig
	verifyHTTP *http.Client
	apiBase    string
	fees       FeeSchedule
}

// NewPayPalAdapter creates a new PayPal adapter.
func NewPayPalAdapter(config *PayPalConfig) (*PayPalAdapter, error) {
	client, err := paypal.NewClient(config.ClientID, config.Secret, config.IsProd)
	if err != nil {
		return nil, fmt.Errorf("create paypal client: %w", err)
	}

	apiBase := "https://api-m.sandbox.paypal.com"
	if config.IsProd {
		apiBase = "https://api-m.paypal.com"
	}

	// Client-credentials token source for the webhook verification API.
	cc := &clientcredentials.Config{
		ClientID:     config.ClientID,
		ClientSecret: config.Secret,
		TokenURL:     apiBase + "/v1/oauth2/token",
	}

	fees := config.Fees
	if fees.PercentBasisPoints == 0 && fees.FixedMinor == 0 {
		fees = DefaultPayPalFees
	}

	return &PayPalAdapter{
		client:     client,
		config:     config,
		verifyHTTP: cc.Client(context.Background()),
		apiBase:    apiBase,
		fees:       fees,
	}, nil
}

// Name returns the processor identifier.
func (a *PayPalAdapter) Name() string {
	return paypalName
}

func (a *PayPalAdapter) CreatePaymentIntent(ctx context.Context, params PaymentIntentParams) (*PaymentIntentResult, error) {
	fees := a.fees.Calculate(params.AmountMinor, params.DonorCoversFee)

	bm := make(gopay.BodyMap)
	bm.Set("intent", "CAPTURE").
		Set("purchase_units", []map[string]any{
			{
				// invoice_id doubles as the processor-side idempotency
				// guard: PayPal rejects a duplicate invoice id.
				"invoice_id": params.IdempotencyKey,
				"custom_id":  params.Metadata["gift_id"],
				"amount": map[string]string{
					"currency_code": strings.ToUpper(params.Currency),
					"value":         minorToDecimal(fees.TotalChargeMinor),
				},
			},
		}).
		Set("payer", map[string]string{"email_address": params.DonorEmail})

	rsp, err := a.client.CreateOrder(ctx, bm)
	if err != nil {
		return nil, ClassifyTransport(paypalName, err)
	}
	if rsp.Code != paypal.Success {
		return nil, a.classifyRsp(rsp.Code, rsp.ErrorResponse)
	}

	return &PaymentIntentResult{
		ProcessorRef: rsp.Response.Id,
		Status:       mapPayPalOrderStatus(rsp.Response.Status),
		AmountMinor:  fees.TotalChargeMinor,
		Currency:     params.Currency,
		FeeMinor:     fees.TotalFeeMinor,
		NetMinor:     fees.TotalChargeMinor - fees.TotalFeeMinor,
		Metadata:     params.Metadata,
	}, nil
}

func (a *PayPalAdapter) CreateRecurringMandate(ctx context.Context, params MandateParams) (*MandateResult, error) {
	planID, ok := a.config.PlanIDs[params.Frequency]
	if !ok {
		return nil, NewError(paypalName, KindUnknownProcessorError, fmt.Sprintf("no billing plan for frequency %q", params.Frequency))
	}

	bm := make(gopay.BodyMap)
	bm.Set("plan_id", planID).
		Set("custom_id", params.IdempotencyKey).
		Set("subscriber", map[string]string{"email_address": params.DonorEmail}).
		Set("plan", map[string]any{
			"billing_cycles": []map[string]any{
				{
					"sequence": 1,
					"pricing_scheme": map[string]any{
						"fixed_price": map[string]string{
							"currency_code": strings.ToUpper(params.Currency),
							"value":         minorToDecimal(params.AmountMinor),
						},
					},
				},
			},
		})
	if params.StartDate.After(time.Now()) {
		bm.Set("start_time", params.StartDate.UTC().Format(time.RFC3339))
	}

	rsp, err := a.client.SubscriptionCreate(ctx, bm)
	if err != nil {
		return nil, ClassifyTransport(paypalName, err)
	}
	if rsp.Code != paypal.Success {
		return nil, a.classifyRsp(rsp.Code, rsp.ErrorResponse)
	}

	return &MandateResult{
		MandateRef:     rsp.Response.ID,
		Status:         mapPayPalSubscriptionStatus(rsp.Response.Status),
		AmountMinor:    params.AmountMinor,
		Currency:       params.Currency,
		Frequency:      params.Frequency,
		NextChargeDate: NextChargeDate(params.StartDate, params.Frequency),
	}, nil
}

func (a *PayPalAdapter) UpdateRecurringMandate(ctx context.Context, mandateRef string, params MandateUpdateParams) (*MandateResult, error) {
	if params.Paused {
		bm := make(gopay.BodyMap)
		bm.Set("reason", "Paused by donor")
		rsp, err := a.client.SubscriptionSuspend(ctx, mandateRef, bm)
		if err != nil {
			return nil, ClassifyTransport(paypalName, err)
		}
		if rsp.Code != paypal.Success {
			return nil, a.classifyRsp(rsp.Code, rsp.ErrorResponse)
		}
		return &MandateResult{MandateRef: mandateRef, Status: MandateStatusPaused, AmountMinor: params.AmountMinor}, nil
	}

	if params.AmountMinor > 0 {
		patchs := []*paypal.Patch{
			{
				Op:   "replace",
				Path: "/plan/billing_cycles/@sequence==1/pricing_scheme/fixed_price",
				Value: map[string]string{
					"currency_code": strings.ToUpper(a.config.DefaultCurrency),
					"value":         minorToDecimal(params.AmountMinor),
				},
			},
		}
		rsp, err := a.client.SubscriptionUpdate(ctx, mandateRef, patchs)
		if err != nil {
			return nil, ClassifyTransport(paypalName, err)
		}
		if rsp.Code != paypal.Success {
			return nil, a.classifyRsp(rsp.Code, rsp.ErrorResponse)
		}
	} else {
		// Unpause.
		bm := make(gopay.BodyMap)
		bm.Set("reason", "Resumed by donor")
		rsp, err := a.client.SubscriptionActivate(ctx, mandateRef, bm)
		if err != nil {
			return nil, ClassifyTransport(paypalName, err)
		}
		if rsp.Code != paypal.Success {
			return nil, a.classifyRsp(rsp.Code, rsp.ErrorResponse)
		}
	}

	return &MandateResult{
		MandateRef:  mandateRef,
		Status:      MandateStatusActive,
		AmountMinor: params.AmountMinor,
	}, nil
}

func (a *PayPalAdapter) CancelRecurringMandate(ctx context.Context, mandateRef string) (*MandateResult, error) {
	bm := make(gopay.BodyMap)
	bm.Set("reason", "Cancelled by donor")

	rsp, err := a.client.SubscriptionCancel(ctx, mandateRef, bm)
	if err != nil {
		return nil, ClassifyTransport(paypalName, err)
	}
	if rsp.Code != paypal.Success {
		// Cancelling an already cancelled subscription reports an
		// invalid-status issue; that is a no-op success for us.
		if hasIssue(rsp.ErrorResponse, "SUBSCRIPTION_STATUS_INVALID") {
			return &MandateResult{MandateRef: mandateRef, Status: MandateStatusCancelled}, nil
		}
		return nil, a.classifyRsp(rsp.Code, rsp.ErrorResponse)
	}
	return &MandateResult{MandateRef: mandateRef, Status: MandateStatusCancelled}, nil
}

func (a *PayPalAdapter) RefundPayment(ctx context.Context, params RefundParams) (*RefundResult, error) {
	currency := params.Currency
	if currency == "" {
		currency = a.config.DefaultCurrency
	}

	bm := make(gopay.BodyMap)
	bm.Set("invoice_id", params.IdempotencyKey).
		Set("note_to_payer", params.Reason)
	if params.AmountMinor > 0 {
		bm.Set("amount", map[string]string{
			"currency_code": strings.ToUpper(currency),
			"value":         minorToDecimal(params.AmountMinor),
		})
	}

	rsp, err := a.client.PaymentCaptureRefund(ctx, params.ProcessorRef, bm)
	if err != nil {
		return nil, ClassifyTransport(paypalName, err)
	}
	if rsp.Code != paypal.Success {
		return nil, a.classifyRsp(rsp.Code, rsp.ErrorResponse)
	}

	return &RefundResult{
		RefundRef:    rsp.Response.Id,
		ProcessorRef: params.ProcessorRef,
		AmountMinor:  params.AmountMinor,
		Currency:     currency,
		Status:       rsp.Response.Status,
	}, nil
}

// SignatureHeader returns the transmission signature header used by the
// HMAC stopgap path.
func (a *PayPalAdapter) SignatureHeader() string {
	return "Paypal-Transmission-Sig"
}

// VerifyWebhookSignature is the HMAC stopgap. Prefer VerifyWebhookAPI.
func (a *PayPalAdapter) VerifyWebhookSignature(payload []byte, signature string) error {
	if !VerifyHMACSHA256Hex(payload, signature, []byte(a.config.WebhookSecret)) {
		return NewError(paypalName, KindInvalidWebhookSignature, "webhook signature mismatch")
	}
	return nil
}

// CanVerifyAPI reports whether the delivery carries the transmission
// headers the verification API requires.
func (a *PayPalAdapter) CanVerifyAPI(header http.Header) bool {
	return a.config.WebhookID != "" &&
		header.Get("Paypal-Transmission-Id") != "" &&
		header.Get("Paypal-Transmission-Time") != "" &&
		header.Get("Paypal-Cert-Url") != "" &&
		header.Get("Paypal-Auth-Algo") != ""
}

// VerifyWebhookAPI verifies the notification through PayPal's
// verify-webhook-signature endpoint. Requires the full transmission
// header set from the original delivery.
func (a *PayPalAdapter) VerifyWebhookAPI(ctx context.Context, header http.Header, payload []byte) error {
	body := map[string]any{
		"transmission_id":   header.Get("Paypal-Transmission-Id"),
		"transmission_time": header.Get("Paypal-Transmission-Time"),
		"cert_url":          header.Get("Paypal-Cert-Url"),
		"auth_algo":         header.Get("Paypal-Auth-Algo"),
		"transmission_sig":  header.Get("Paypal-Transmission-Sig"),
		"webhook_id":        a.config.WebhookID,
		"webhook_event":     json.RawMessage(payload),
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return WrapError(paypalName, KindUnknownProcessorError, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.apiBase+"/v1/notifications/verify-webhook-signature", bytes.NewReader(encoded))
	if err != nil {
		return WrapError(paypalName, KindUnknownProcessorError, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.verifyHTTP.Do(req)
	if err != nil {
		return ClassifyTransport(paypalName, err)
	}
	defer resp.Body.Close()

	var out struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return WrapError(paypalName, KindUnknownProcessorError, fmt.Errorf("decode verification response: %w", err))
	}
	if out.VerificationStatus != "SUCCESS" {
		return NewError(paypalName, KindInvalidWebhookSignature, "webhook signature mismatch")
	}
	return nil
}

func (a *PayPalAdapter) ParseWebhookEvent(payload []byte) (*WebhookEvent, error) {
	var event struct {
		ID         string    `json:"id"`
		EventType  string    `json:"event_type"`
		CreateTime time.Time `json:"create_time"`
		Resource   struct {
			ID                 string `json:"id"`
			CustomID           string `json:"custom_id"`
			BillingAgreementID string `json:"billing_agreement_id"`
			Amount             struct {
				Value        string `json:"value"`
				CurrencyCode string `json:"currency_code"`
			} `json:"amount"`
		} `json:"resource"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, WrapError(paypalName, KindUnknownProcessorError, fmt.Errorf("parse webhook event: %w", err))
	}

	eventType, mandate, err := mapPayPalEventType(event.EventType)
	if err != nil {
		return nil, err
	}

	amountMinor, err := decimalToMinor(event.Resource.Amount.Value)
	if err != nil {
		return nil, WrapError(paypalName, KindUnknownProcessorError, fmt.Errorf("parse amount: %w", err))
	}

	evt := &WebhookEvent{
		Processor:       paypalName,
		ExternalEventID: event.ID,
		Type:            eventType,
		AmountMinor:     amountMinor,
		Currency:        strings.ToLower(event.Resource.Amount.CurrencyCode),
		OccurredAt:      event.CreateTime,
		RawPayload:      payload,
	}
	if mandate {
		evt.MandateRef = event.Resource.ID
	} else {
		evt.ProcessorRef = event.Resource.ID
		evt.MandateRef = event.Resource.BillingAgreementID
	}
	return evt, nil
}

func (a *PayPalAdapter) CalculateFees(amountMinor int64, donorCoversFee bool) FeeCalculation {
	return a.fees.Calculate(amountMinor, donorCoversFee)
}

// --- Helpers ---

func (a *PayPalAdapter) classifyRsp(code int, er *paypal.ErrorResponse) error {
	if code >= 500 {
		return NewError(paypalName, KindNetworkError, fmt.Sprintf("processor returned %d", code))
	}
	if code == http.StatusUnauthorized {
		return NewError(paypalName, KindAuthenticationFailed, "processor rejected API credentials")
	}
	if er != nil {
		switch {
		case hasIssue(er, "INSTRUMENT_DECLINED"):
			return NewError(paypalName, KindCardDeclined, "payment instrument declined")
		case hasIssue(er, "INSUFFICIENT_FUNDS"):
			return NewError(paypalName, KindInsufficientFunds, "insufficient funds")
		case hasIssue(er, "DUPLICATE_INVOICE_ID"):
			return NewError(paypalName, KindIdempotencyKeyConflict, "idempotency key reused with different parameters")
		case hasIssue(er, "MAX_DISBURSEMENT_EXCEEDED"), hasIssue(er, "REFUND_AMOUNT_EXCEEDED"):
			return NewError(paypalName, KindRefundExceedsOriginal, "refund exceeds original charge")
		case hasIssue(er, "INVALID_CURRENCY_AMOUNT"):
			return NewError(paypalName, KindInvalidAmount, "invalid amount")
		}
		return NewError(paypalName, KindUnknownProcessorError, fmt.Sprintf("processor returned %d (%s)", code, er.Name))
	}
	return NewError(paypalName, KindUnknownProcessorError, fmt.Sprintf("processor returned %d", code))
}

func hasIssue(er *paypal.ErrorResponse, issue string) bool {
	if er == nil {
		return false
	}
	for _, d := range er.Details {
		if d.Issue == issue {
			return true
		}
	}
	return false
}

func mapPayPalOrderStatus(status string) IntentStatus {
	switch status {
	case "COMPLETED":
		return IntentStatusSucceeded
	case "CREATED", "APPROVED", "SAVED":
		return IntentStatusRequiresAction
	case "VOIDED":
		return IntentStatusFailed
	default:
		return IntentStatusPending
	}
}

func mapPayPalSubscriptionStatus(status string) MandateStatus {
	switch status {
	case "SUSPENDED":
		return MandateStatusPaused
	case "CANCELLED", "EXPIRED":
		return MandateStatusCancelled
	default:
		return MandateStatusActive
	}
}

func mapPayPalEventType(eventType string) (EventType, bool, error) {
	switch eventType {
	case "PAYMENT.CAPTURE.COMPLETED":
		return EventPaymentSucceeded, false, nil
	case "PAYMENT.CAPTURE.DENIED", "PAYMENT.CAPTURE.DECLINED":
		return EventPaymentFailed, false, nil
	case "PAYMENT.CAPTURE.PENDING":
		return EventPaymentPending, false, nil
	case "PAYMENT.CAPTURE.REFUNDED":
		return EventPaymentRefunded, false, nil
	case "CUSTOMER.DISPUTE.CREATED":
		return EventPaymentDisputed, false, nil
	case "BILLING.SUBSCRIPTION.CREATED", "BILLING.SUBSCRIPTION.ACTIVATED":
		return EventMandateCreated, true, nil
	case "BILLING.SUBSCRIPTION.UPDATED":
		return EventMandateUpdated, true, nil
	case "BILLING.SUBSCRIPTION.CANCELLED":
		return EventMandateCancelled, true, nil
	case "BILLING.SUBSCRIPTION.PAYMENT.FAILED":
		return EventMandateFailed, true, nil
	case "PAYMENT.PAYOUTS-ITEM.SUCCEEDED":
		return EventPayoutPaid, false, nil
	}
	return "", false, NewError(paypalName, KindUnknownProcessorError, fmt.Sprintf("unhandled event type %q", eventType))
}

// minorToDecimal renders minor units as a two-decimal string without
// going through floating point.
func minorToDecimal(amountMinor int64) string {
	sign := ""
	if amountMinor < 0 {
		sign = "-"
		amountMinor = -amountMinor
	}
	return fmt.Sprintf("%s%d.%02d", sign, amountMinor/100, amountMinor%100)
}

// decimalToMinor parses a two-decimal string into minor units without
// going through floating point. An empty string is zero.
func decimalToMinor(value string) (int64, error) {
	if value == "" {
		return 0, nil
	}
	whole, frac, found := strings.Cut(value, ".")
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", value)
	}
	if !found {
		return units * 100, nil
	}
	for len(frac) < 2 {
		frac += "0"
	}
	cents, err := strconv.ParseInt(frac[:2], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", value)
	}
	if units < 0 || strings.HasPrefix(whole, "-") {
		return units*100 - cents, nil
	}
	return units*100 + cents, nil
}
