package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/givestack/payments/internal/module/payment/provider"
)

// ServiceConfig tunes the orchestration layer.
type ServiceConfig struct {
	// OperationTimeout caps one operation end to end, retries included.
	OperationTimeout time.Duration
	// IdempotencyTTL bounds how long a stored result keeps answering for
	// its key.
	IdempotencyTTL time.Duration
	Retry          RetryPolicy
	// BreakerFailures is the consecutive-failure count that opens a
	// processor's circuit.
	BreakerFailures uint32
	// BreakerCooldown is how long an open circuit stays open.
	BreakerCooldown time.Duration
}

// DefaultServiceConfig returns the documented defaults.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		OperationTimeout: 30 * time.Second,
		IdempotencyTTL:   24 * time.Hour,
		Retry:            DefaultRetryPolicy(),
		BreakerFailures:  5,
		BreakerCooldown:  60 * time.Second,
	}
}

// Service is the entry point for charge, mandate, and refund operations.
// It resolves the processor adapter, enforces input validation, and runs
// every side-effecting call under the idempotency claim, the processor's
// circuit breaker, and the retry policy.
type Service struct {
	registry    *Registry
	idempotency IdempotencyStore
	config      ServiceConfig
	metrics     *Metrics
	logger      *zap.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[[]byte]
}

// NewService creates a payment service.
func NewService(registry *Registry, idempotency IdempotencyStore, config ServiceConfig, metrics *Metrics, logger *zap.Logger) *Service {
	if config.OperationTimeout <= 0 {
		config.OperationTimeout = 30 * time.Second
	}
	if config.IdempotencyTTL <= 0 {
		config.IdempotencyTTL = 24 * time.Hour
	}
	if config.Retry.MaxAttempts == 0 {
		config.Retry = DefaultRetryPolicy()
	}
	if metrics == nil {
		metrics = NopMetrics()
	}
	return &Service{
		registry:    registry,
		idempotency: idempotency,
		config:      config,
		metrics:     metrics,
		logger:      logger,
		breakers:    make(map[string]*gobreaker.CircuitBreaker[[]byte]),
	}
}

// CreatePaymentIntentRequest is the input for a one-time donation charge.
type CreatePaymentIntentRequest struct {
	Processor      string
	AmountMinor    int64
	Currency       string
	DonorEmail     string
	DonorCoversFee bool
	Metadata       map[string]string
	IdempotencyKey string
}

// CreateMandateRequest is the input for a recurring donation setup.
type CreateMandateRequest struct {
	Processor      string
	AmountMinor    int64
	Currency       string
	Frequency      provider.Frequency
	DonorEmail     string
	StartDate      time.Time
	Metadata       map[string]string
	IdempotencyKey string
}

// RefundRequest is the input for a full or partial refund.
// OriginalAmountMinor is the charged amount from the caller's Gift record;
// it lets the refund ceiling be enforced before any network call.
type RefundRequest struct {
	Processor           string
	ProcessorRef        string
	AmountMinor         int64
	OriginalAmountMinor int64
	// Currency of the original charge; refunds are denominated in it.
	Currency       string
	Reason         string
	IdempotencyKey string
}

// CreatePaymentIntent creates a one-time charge. Reusing an idempotency
// key returns the stored result without contacting the processor again.
func (s *Service) CreatePaymentIntent(ctx context.Context, req CreatePaymentIntentRequest) (*provider.PaymentIntentResult, error) {
	if req.AmountMinor <= 0 {
		return nil, ErrInvalidAmount
	}
	if req.IdempotencyKey == "" {
		return nil, ErrMissingIdempotency
	}
	adapter, err := s.registry.Get(req.Processor)
	if err != nil {
		return nil, err
	}

	fingerprint := Fingerprint("intent", req.Processor,
		strconv.FormatInt(req.AmountMinor, 10), req.Currency,
		req.DonorEmail, strconv.FormatBool(req.DonorCoversFee),
		canonicalMetadata(req.Metadata))

	return runOp(ctx, s, req.Processor, "create_payment_intent", req.IdempotencyKey, fingerprint,
		func(ctx context.Context) (*provider.PaymentIntentResult, error) {
			return adapter.CreatePaymentIntent(ctx, provider.PaymentIntentParams{
				AmountMinor:    req.AmountMinor,
				Currency:       req.Currency,
				DonorEmail:     req.DonorEmail,
				DonorCoversFee: req.DonorCoversFee,
				Metadata:       req.Metadata,
				IdempotencyKey: req.IdempotencyKey,
			})
		})
}

// CreateRecurringMandate establishes a recurring donation mandate.
func (s *Service) CreateRecurringMandate(ctx context.Context, req CreateMandateRequest) (*provider.MandateResult, error) {
	if req.AmountMinor <= 0 {
		return nil, ErrInvalidAmount
	}
	if req.IdempotencyKey == "" {
		return nil, ErrMissingIdempotency
	}
	if !req.Frequency.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidFrequency, req.Frequency)
	}
	if !req.StartDate.IsZero() && req.StartDate.Before(startOfToday()) {
		return nil, ErrStartDateInPast
	}
	adapter, err := s.registry.Get(req.Processor)
	if err != nil {
		return nil, err
	}

	fingerprint := Fingerprint("mandate", req.Processor,
		strconv.FormatInt(req.AmountMinor, 10), req.Currency,
		string(req.Frequency), req.DonorEmail, req.StartDate.UTC().Format(time.RFC3339),
		canonicalMetadata(req.Metadata))

	return runOp(ctx, s, req.Processor, "create_recurring_mandate", req.IdempotencyKey, fingerprint,
		func(ctx context.Context) (*provider.MandateResult, error) {
			return adapter.CreateRecurringMandate(ctx, provider.MandateParams{
				AmountMinor:    req.AmountMinor,
				Currency:       req.Currency,
				Frequency:      req.Frequency,
				DonorEmail:     req.DonorEmail,
				StartDate:      req.StartDate,
				Metadata:       req.Metadata,
				IdempotencyKey: req.IdempotencyKey,
			})
		})
}

// UpdateRecurringMandate mutates an existing mandate.
func (s *Service) UpdateRecurringMandate(ctx context.Context, processor, mandateRef string, params provider.MandateUpdateParams) (*provider.MandateResult, error) {
	adapter, err := s.registry.Get(processor)
	if err != nil {
		return nil, err
	}
	return s.runDirect(ctx, processor, "update_recurring_mandate",
		func(ctx context.Context) (*provider.MandateResult, error) {
			return adapter.UpdateRecurringMandate(ctx, mandateRef, params)
		})
}

// CancelRecurringMandate cancels a mandate. Cancelling an already
// cancelled mandate succeeds without effect.
func (s *Service) CancelRecurringMandate(ctx context.Context, processor, mandateRef string) (*provider.MandateResult, error) {
	adapter, err := s.registry.Get(processor)
	if err != nil {
		return nil, err
	}
	return s.runDirect(ctx, processor, "cancel_recurring_mandate",
		func(ctx context.Context) (*provider.MandateResult, error) {
			return adapter.CancelRecurringMandate(ctx, mandateRef)
		})
}

// RefundPayment refunds a charge. The refund ceiling is checked before
// any network call.
func (s *Service) RefundPayment(ctx context.Context, req RefundRequest) (*provider.RefundResult, error) {
	if req.AmountMinor < 0 {
		return nil, ErrInvalidAmount
	}
	if req.IdempotencyKey == "" {
		return nil, ErrMissingIdempotency
	}
	if req.OriginalAmountMinor > 0 && req.AmountMinor > req.OriginalAmountMinor {
		return nil, ErrRefundExceedsTotal
	}
	adapter, err := s.registry.Get(req.Processor)
	if err != nil {
		return nil, err
	}

	fingerprint := Fingerprint("refund", req.Processor, req.ProcessorRef,
		strconv.FormatInt(req.AmountMinor, 10), req.Currency, req.Reason)

	return runOp(ctx, s, req.Processor, "refund_payment", req.IdempotencyKey, fingerprint,
		func(ctx context.Context) (*provider.RefundResult, error) {
			return adapter.RefundPayment(ctx, provider.RefundParams{
				ProcessorRef:   req.ProcessorRef,
				AmountMinor:    req.AmountMinor,
				Currency:       req.Currency,
				Reason:         req.Reason,
				IdempotencyKey: req.IdempotencyKey,
			})
		})
}

// CalculateFees computes the processor's fee for an amount.
func (s *Service) CalculateFees(processor string, amountMinor int64, donorCoversFee bool) (provider.FeeCalculation, error) {
	adapter, err := s.registry.Get(processor)
	if err != nil {
		return provider.FeeCalculation{}, err
	}
	return adapter.CalculateFees(amountMinor, donorCoversFee), nil
}

// --- Execution plumbing ---

func (s *Service) breaker(processor string) *gobreaker.CircuitBreaker[[]byte] {
	s.mu.Lock()
	defer s.mu.Unlock()
	cb, ok := s.breakers[processor]
	if !ok {
		failures := s.config.BreakerFailures
		if failures == 0 {
			failures = 5
		}
		cb = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
			Name:    "processor:" + processor,
			Timeout: s.config.BreakerCooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
		})
		s.breakers[processor] = cb
	}
	return cb
}

// runOp executes fn at most once per idempotency key, under the
// processor's circuit breaker and the retry policy. Results are cached as
// JSON so key reuse returns byte-identical output.
func runOp[T any](ctx context.Context, s *Service, processor, operation, key, fingerprint string, fn func(ctx context.Context) (*T, error)) (*T, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.OperationTimeout)
	defer cancel()

	start := time.Now()
	payload, err := getOrCompute(ctx, s.idempotency, key, fingerprint, s.config.IdempotencyTTL,
		func(ctx context.Context) ([]byte, error) {
			return s.executeWithRetry(ctx, processor, operation, func(ctx context.Context) ([]byte, error) {
				result, err := fn(ctx)
				if err != nil {
					return nil, err
				}
				return json.Marshal(result)
			})
		})
	s.observe(processor, operation, start, err)
	if err != nil {
		return nil, err
	}

	var result T
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("decode stored result: %w", err)
	}
	return &result, nil
}

// runDirect executes a naturally idempotent mutation under breaker and
// retry, without the idempotency store.
func (s *Service) runDirect(ctx context.Context, processor, operation string, fn func(ctx context.Context) (*provider.MandateResult, error)) (*provider.MandateResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.OperationTimeout)
	defer cancel()

	start := time.Now()
	payload, err := s.executeWithRetry(ctx, processor, operation, func(ctx context.Context) ([]byte, error) {
		result, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)
	})
	s.observe(processor, operation, start, err)
	if err != nil {
		return nil, err
	}

	var result provider.MandateResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &result, nil
}

func (s *Service) executeWithRetry(ctx context.Context, processor, operation string, fn func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	// A decline is the processor working correctly; only transport-level
	// failures count toward opening the circuit.
	var declineErr error
	out, err := s.breaker(processor).Execute(func() ([]byte, error) {
		attempt := 0
		var inner []byte
		err := s.config.Retry.Do(ctx, func(ctx context.Context) error {
			attempt++
			if attempt > 1 {
				s.metrics.ProcessorRetries.WithLabelValues(processor, operation).Inc()
				s.logger.Warn("retrying processor call",
					zap.String("processor", processor),
					zap.String("operation", operation),
					zap.Int("attempt", attempt),
				)
			}
			var callErr error
			inner, callErr = fn(ctx)
			return callErr
		})
		if err != nil && isDecline(err) {
			declineErr = err
			return nil, nil
		}
		return inner, err
	})
	if declineErr != nil {
		return nil, declineErr
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, provider.NewError(processor, provider.KindNetworkError, "processor temporarily unavailable")
	}
	return out, err
}

// canonicalMetadata renders a metadata map deterministically so it can
// participate in the idempotency fingerprint.
func canonicalMetadata(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(m[k])
		b.WriteByte('\n')
	}
	return b.String()
}

// startOfToday is local midnight, so a start date later today is valid.
func startOfToday() time.Time {
	now := time.Now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}

func isDecline(err error) bool {
	switch provider.KindOf(err) {
	case provider.KindCardDeclined, provider.KindInsufficientFunds,
		provider.KindExpiredCard, provider.KindInvalidCard,
		provider.KindInvalidAmount, provider.KindRefundExceedsOriginal,
		provider.KindIdempotencyKeyConflict:
		return true
	}
	return false
}

func (s *Service) observe(processor, operation string, start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = string(provider.KindOf(err))
	}
	s.metrics.ProcessorCalls.WithLabelValues(processor, operation, outcome).Inc()
	s.metrics.ProcessorLatency.WithLabelValues(processor, operation).Observe(time.Since(start).Seconds())
	if err != nil {
		s.logger.Error("processor operation failed",
			zap.String("processor", processor),
			zap.String("operation", operation),
			zap.String("kind", string(provider.KindOf(err))),
		)
	}
}
