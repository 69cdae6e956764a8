package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const adyenName = "adyen"

var errMandateAlreadyCancelled = errors.New("mandate already cancelled")

// AdyenConfig holds configuration for the Adyen-style processor.
type AdyenConfig struct {
	BaseURL       string
	APIKey        string
	MerchantID    string
	WebhookSecret string
	Fees          FeeSchedule
}

// AdyenAdapter implements Adapter for an Adyen-style checkout API: plain
// JSON over HTTPS, an Idempotency-Key request header, and HMAC-signed
// notifications.
type AdyenAdapter struct {
	config *AdyenConfig
	client *http.Client
	fees   FeeSchedule
}

// NewAdyenAdapter creates a new Adyen adapter using the shared HTTP client.
func NewAdyenAdapter(config *AdyenConfig, client *http.Client) *AdyenAdapter {
	fees := config.Fees
	if fees.PercentBasisPoints == 0 && fees.FixedMinor == 0 {
		fees = DefaultAdyenFees
	}
	return &AdyenAdapter{config: config, client: client, fees: fees}
}

// Name returns the processor identifier.
func (a *AdyenAdapter) Name() string {
	return adyenName
}

type adyenAmount struct {
	Value    int64  `json:"value"`
	Currency string `json:"currency"`
}

type adyenErrorBody struct {
	Code    string `json:"errorCode"`
	Message string `json:"message"`
}

func (a *AdyenAdapter) CreatePaymentIntent(ctx context.Context, params PaymentIntentParams) (*PaymentIntentResult, error) {
	fees := a.fees.Calculate(params.AmountMinor, params.DonorCoversFee)

	body := map[string]any{
		"amount":          adyenAmount{Value: fees.TotalChargeMinor, Currency: params.Currency},
		"merchantAccount": a.config.MerchantID,
		"shopperEmail":    params.DonorEmail,
		"metadata":        params.Metadata,
	}

	var resp struct {
		PspReference string `json:"pspReference"`
		ResultCode   string `json:"resultCode"`
	}
	if err := a.do(ctx, http.MethodPost, "/v1/payments", params.IdempotencyKey, body, &resp); err != nil {
		return nil, err
	}

	return &PaymentIntentResult{
		ProcessorRef: resp.PspReference,
		Status:       mapAdyenResultCode(resp.ResultCode),
		AmountMinor:  fees.TotalChargeMinor,
		Currency:     params.Currency,
		FeeMinor:     fees.TotalFeeMinor,
		NetMinor:     fees.TotalChargeMinor - fees.TotalFeeMinor,
		Metadata:     params.Metadata,
	}, nil
}

func (a *AdyenAdapter) CreateRecurringMandate(ctx context.Context, params MandateParams) (*MandateResult, error) {
	body := map[string]any{
		"amount":          adyenAmount{Value: params.AmountMinor, Currency: params.Currency},
		"merchantAccount": a.config.MerchantID,
		"shopperEmail":    params.DonorEmail,
		"frequency":       string(params.Frequency),
		"startDate":       params.StartDate.Format(time.RFC3339),
		"metadata":        params.Metadata,
	}

	var resp struct {
		MandateReference string    `json:"mandateReference"`
		Status           string    `json:"status"`
		NextChargeDate   time.Time `json:"nextChargeDate"`
	}
	if err := a.do(ctx, http.MethodPost, "/v1/mandates", params.IdempotencyKey, body, &resp); err != nil {
		return nil, err
	}

	next := resp.NextChargeDate
	if next.IsZero() {
		next = NextChargeDate(params.StartDate, params.Frequency)
	}
	return &MandateResult{
		MandateRef:     resp.MandateReference,
		Status:         mapAdyenMandateStatus(resp.Status),
		AmountMinor:    params.AmountMinor,
		Currency:       params.Currency,
		Frequency:      params.Frequency,
		NextChargeDate: next,
	}, nil
}

func (a *AdyenAdapter) UpdateRecurringMandate(ctx context.Context, mandateRef string, params MandateUpdateParams) (*MandateResult, error) {
	body := map[string]any{
		"paused":               params.Paused,
		"effectiveImmediately": params.EffectiveImmediately,
	}
	if params.AmountMinor > 0 {
		body["amount"] = map[string]int64{"value": params.AmountMinor}
	}

	var resp struct {
		MandateReference string    `json:"mandateReference"`
		Status           string    `json:"status"`
		Amount           adyenAmount `json:"amount"`
		Frequency        string    `json:"frequency"`
		NextChargeDate   time.Time `json:"nextChargeDate"`
	}
	if err := a.do(ctx, http.MethodPatch, "/v1/mandates/"+mandateRef, "", body, &resp); err != nil {
		return nil, err
	}
	return &MandateResult{
		MandateRef:     resp.MandateReference,
		Status:         mapAdyenMandateStatus(resp.Status),
		AmountMinor:    resp.Amount.Value,
		Currency:       resp.Amount.Currency,
		Frequency:      Frequency(resp.Frequency),
		NextChargeDate: resp.NextChargeDate,
	}, nil
}

func (a *AdyenAdapter) CancelRecurringMandate(ctx context.Context, mandateRef string) (*MandateResult, error) {
	var resp struct {
		MandateReference string `json:"mandateReference"`
		Status           string `json:"status"`
	}
	err := a.do(ctx, http.MethodDelete, "/v1/mandates/"+mandateRef, "", nil, &resp)
	if err != nil {
		// The processor reports a second cancel as 410 Gone; treat it as
		// the idempotent success it is.
		if errors.Is(err, errMandateAlreadyCancelled) {
			return &MandateResult{MandateRef: mandateRef, Status: MandateStatusCancelled}, nil
		}
		return nil, err
	}
	return &MandateResult{
		MandateRef: resp.MandateReference,
		Status:     MandateStatusCancelled,
	}, nil
}

func (a *AdyenAdapter) RefundPayment(ctx context.Context, params RefundParams) (*RefundResult, error) {
	body := map[string]any{
		"merchantAccount": a.config.MerchantID,
		"reason":          params.Reason,
	}
	if params.AmountMinor > 0 {
		body["amount"] = adyenAmount{
			Value:    params.AmountMinor,
			Currency: strings.ToUpper(params.Currency),
		}
	}

	var resp struct {
		RefundReference string `json:"refundReference"`
		Status          string `json:"status"`
		Amount          adyenAmount `json:"amount"`
	}
	if err := a.do(ctx, http.MethodPost, "/v1/payments/"+params.ProcessorRef+"/refunds", params.IdempotencyKey, body, &resp); err != nil {
		return nil, err
	}
	return &RefundResult{
		RefundRef:    resp.RefundReference,
		ProcessorRef: params.ProcessorRef,
		AmountMinor:  resp.Amount.Value,
		Currency:     strings.ToLower(resp.Amount.Currency),
		Status:       resp.Status,
	}, nil
}

// SignatureHeader returns the notification signature header.
func (a *AdyenAdapter) SignatureHeader() string {
	return "X-Webhook-Hmac"
}

// VerifyWebhookSignature checks the base64 HMAC-SHA256 of the raw body.
func (a *AdyenAdapter) VerifyWebhookSignature(payload []byte, signature string) error {
	if !VerifyHMACSHA256Base64(payload, signature, []byte(a.config.WebhookSecret)) {
		return NewError(adyenName, KindInvalidWebhookSignature, "webhook signature mismatch")
	}
	return nil
}

func (a *AdyenAdapter) ParseWebhookEvent(payload []byte) (*WebhookEvent, error) {
	var notification struct {
		EventID          string      `json:"eventId"`
		EventCode        string      `json:"eventCode"`
		Success          bool        `json:"success"`
		PspReference     string      `json:"pspReference"`
		MandateReference string      `json:"mandateReference"`
		Amount           adyenAmount `json:"amount"`
		EventDate        time.Time   `json:"eventDate"`
	}
	if err := json.Unmarshal(payload, &notification); err != nil {
		return nil, WrapError(adyenName, KindUnknownProcessorError, fmt.Errorf("parse notification: %w", err))
	}

	eventType, err := mapAdyenEventCode(notification.EventCode, notification.Success)
	if err != nil {
		return nil, err
	}

	return &WebhookEvent{
		Processor:       adyenName,
		ExternalEventID: notification.EventID,
		Type:            eventType,
		ProcessorRef:    notification.PspReference,
		MandateRef:      notification.MandateReference,
		AmountMinor:     notification.Amount.Value,
		Currency:        notification.Amount.Currency,
		OccurredAt:      notification.EventDate,
		RawPayload:      payload,
	}, nil
}

func (a *AdyenAdapter) CalculateFees(amountMinor int64, donorCoversFee bool) FeeCalculation {
	return a.fees.Calculate(amountMinor, donorCoversFee)
}

// --- HTTP plumbing ---

func (a *AdyenAdapter) do(ctx context.Context, method, path, idempotencyKey string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return WrapError(adyenName, KindUnknownProcessorError, err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.config.BaseURL+path, reader)
	if err != nil {
		return WrapError(adyenName, KindUnknownProcessorError, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", a.config.APIKey)
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return ClassifyTransport(adyenName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return a.classifyStatus(resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return WrapError(adyenName, KindUnknownProcessorError, fmt.Errorf("decode response: %w", err))
		}
	}
	return nil
}

func (a *AdyenAdapter) classifyStatus(resp *http.Response) error {
	if resp.StatusCode >= 500 {
		return NewError(adyenName, KindNetworkError, fmt.Sprintf("processor returned %d", resp.StatusCode))
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return NewError(adyenName, KindAuthenticationFailed, "processor rejected API credentials")
	}
	if resp.StatusCode == http.StatusGone {
		return WrapError(adyenName, KindUnknownProcessorError, errMandateAlreadyCancelled)
	}

	var body adyenErrorBody
	_ = json.NewDecoder(resp.Body).Decode(&body)

	switch body.Code {
	case "card_declined", "refused":
		return NewError(adyenName, KindCardDeclined, "card declined")
	case "insufficient_funds", "not_enough_balance":
		return NewError(adyenName, KindInsufficientFunds, "insufficient funds")
	case "expired_card":
		return NewError(adyenName, KindExpiredCard, "card expired")
	case "invalid_card", "invalid_card_number":
		return NewError(adyenName, KindInvalidCard, "invalid card details")
	case "refund_exceeds_original":
		return NewError(adyenName, KindRefundExceedsOriginal, "refund exceeds original charge")
	case "idempotency_conflict":
		return NewError(adyenName, KindIdempotencyKeyConflict, "idempotency key reused with different parameters")
	case "invalid_amount":
		return NewError(adyenName, KindInvalidAmount, "invalid amount")
	}
	return NewError(adyenName, KindUnknownProcessorError, fmt.Sprintf("processor returned %d (%s)", resp.StatusCode, body.Code))
}

func mapAdyenResultCode(code string) IntentStatus {
	switch code {
	case "Authorised":
		return IntentStatusSucceeded
	case "RedirectShopper", "ChallengeShopper", "IdentifyShopper":
		return IntentStatusRequiresAction
	case "Refused", "Error", "Cancelled":
		return IntentStatusFailed
	default:
		return IntentStatusPending
	}
}

func mapAdyenMandateStatus(status string) MandateStatus {
	switch status {
	case "paused":
		return MandateStatusPaused
	case "cancelled":
		return MandateStatusCancelled
	case "failed":
		return MandateStatusFailed
	default:
		return MandateStatusActive
	}
}

func mapAdyenEventCode(code string, success bool) (EventType, error) {
	switch code {
	case "AUTHORISATION":
		if success {
			return EventPaymentSucceeded, nil
		}
		return EventPaymentFailed, nil
	case "PENDING":
		return EventPaymentPending, nil
	case "REFUND":
		return EventPaymentRefunded, nil
	case "CHARGEBACK", "NOTIFICATION_OF_CHARGEBACK":
		return EventPaymentDisputed, nil
	case "RECURRING_CONTRACT":
		if success {
			return EventMandateCreated, nil
		}
		return EventMandateFailed, nil
	case "RECURRING_CONTRACT_UPDATED":
		return EventMandateUpdated, nil
	case "RECURRING_CONTRACT_CANCELLED", "CANCELLATION":
		return EventMandateCancelled, nil
	case "RECURRING_CONTRACT_FAILED":
		return EventMandateFailed, nil
	case "PAYOUT_THIRDPARTY", "PAYOUT":
		return EventPayoutPaid, nil
	}
	return "", NewError(adyenName, KindUnknownProcessorError, fmt.Sprintf("unhandled event code %q", code))
}
