package payment

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/givestack/payments/internal/module/payment/provider"
)

// Handler handles HTTP requests for payment operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new payment handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers the payment routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	payments := r.Group("/payments")
	{
		payments.POST("/intents", h.CreatePaymentIntent)
		payments.POST("/mandates", h.CreateRecurringMandate)
		payments.PATCH("/mandates/:processor/:ref", h.UpdateRecurringMandate)
		payments.DELETE("/mandates/:processor/:ref", h.CancelRecurringMandate)
		payments.POST("/refunds", h.RefundPayment)
		payments.GET("/fees", h.CalculateFees)
		payments.GET("/processors", h.ListProcessors)
	}
}

// CreatePaymentIntent creates a one-time donation charge.
func (h *Handler) CreatePaymentIntent(c *gin.Context) {
	var req CreateIntentDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.service.CreatePaymentIntent(c.Request.Context(), CreatePaymentIntentRequest{
		Processor:      req.Processor,
		AmountMinor:    req.AmountMinor,
		Currency:       req.Currency,
		DonorEmail:     req.DonorEmail,
		DonorCoversFee: req.DonorCoversFee,
		Metadata:       req.Metadata,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		handlePaymentError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// CreateRecurringMandate creates a recurring donation mandate.
func (h *Handler) CreateRecurringMandate(c *gin.Context) {
	var req CreateMandateDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.service.CreateRecurringMandate(c.Request.Context(), CreateMandateRequest{
		Processor:      req.Processor,
		AmountMinor:    req.AmountMinor,
		Currency:       req.Currency,
		Frequency:      req.Frequency,
		DonorEmail:     req.DonorEmail,
		StartDate:      req.StartDate,
		Metadata:       req.Metadata,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		handlePaymentError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// UpdateRecurringMandate mutates an existing mandate.
func (h *Handler) UpdateRecurringMandate(c *gin.Context) {
	var req UpdateMandateDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.service.UpdateRecurringMandate(c.Request.Context(), c.Param("processor"), c.Param("ref"), provider.MandateUpdateParams{
		AmountMinor:          req.AmountMinor,
		Paused:               req.Paused,
		EffectiveImmediately: req.EffectiveImmediately,
	})
	if err != nil {
		handlePaymentError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// CancelRecurringMandate cancels a mandate.
func (h *Handler) CancelRecurringMandate(c *gin.Context) {
	resp, err := h.service.CancelRecurringMandate(c.Request.Context(), c.Param("processor"), c.Param("ref"))
	if err != nil {
		handlePaymentError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// RefundPayment refunds a donation fully or partially.
func (h *Handler) RefundPayment(c *gin.Context) {
	var req RefundDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.service.RefundPayment(c.Request.Context(), RefundRequest{
		Processor:           req.Processor,
		ProcessorRef:        req.ProcessorRef,
		AmountMinor:         req.AmountMinor,
		OriginalAmountMinor: req.OriginalAmountMinor,
		Currency:            req.Currency,
		Reason:              req.Reason,
		IdempotencyKey:      req.IdempotencyKey,
	})
	if err != nil {
		handlePaymentError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// CalculateFees previews the processor fee for an amount.
func (h *Handler) CalculateFees(c *gin.Context) {
	processor := c.Query("processor")
	amount, err := strconv.ParseInt(c.Query("amount_minor"), 10, 64)
	if err != nil || amount <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}
	coversFee := c.Query("donor_covers_fee") == "true"

	fees, err := h.service.CalculateFees(processor, amount, coversFee)
	if err != nil {
		handlePaymentError(c, err)
		return
	}
	c.JSON(http.StatusOK, fees)
}

// ListProcessors returns the registered processor identifiers.
func (h *Handler) ListProcessors(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"processors": h.service.registry.List()})
}

// handlePaymentError maps module and processor errors to HTTP statuses.
// Messages stay generic; processor error details never carry card data
// but are still kept out of client responses.
func handlePaymentError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrProcessorNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown processor"})
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidFrequency),
		errors.Is(err, ErrStartDateInPast),
		errors.Is(err, ErrMissingIdempotency),
		errors.Is(err, ErrRefundExceedsTotal):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ErrIdempotencyConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, ErrIdempotencyInFlight):
		c.JSON(http.StatusConflict, gin.H{"error": "operation in flight, retry shortly"})
	default:
		status, message := statusForProviderError(err)
		c.JSON(status, gin.H{"error": message})
	}
}

func statusForProviderError(err error) (int, string) {
	switch provider.KindOf(err) {
	case provider.KindCardDeclined:
		return http.StatusPaymentRequired, "card declined"
	case provider.KindInsufficientFunds:
		return http.StatusPaymentRequired, "insufficient funds"
	case provider.KindExpiredCard:
		return http.StatusPaymentRequired, "card expired"
	case provider.KindInvalidCard:
		return http.StatusUnprocessableEntity, "invalid card details"
	case provider.KindInvalidAmount:
		return http.StatusBadRequest, "invalid amount"
	case provider.KindRefundExceedsOriginal:
		return http.StatusBadRequest, "refund exceeds original charge"
	case provider.KindIdempotencyKeyConflict:
		return http.StatusConflict, "idempotency key conflict"
	case provider.KindAuthenticationFailed:
		return http.StatusBadGateway, "processor authentication failed"
	case provider.KindNetworkError, provider.KindTimeout:
		return http.StatusServiceUnavailable, "processor temporarily unavailable"
	default:
		return http.StatusBadGateway, "payment processing failed"
	}
}
