package payment

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// maxWebhookBody caps inbound webhook payloads at 1 MiB.
const maxWebhookBody = 1 << 20

// WebhookHandler exposes the webhook ingestion endpoint.
type WebhookHandler struct {
	dispatcher *Dispatcher
	logger     *zap.Logger
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(dispatcher *Dispatcher, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{dispatcher: dispatcher, logger: logger}
}

// RegisterRoutes registers the webhook routes.
func (h *WebhookHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/payment/:processor", h.HandleWebhook)
}

// HandleWebhook handles one inbound processor notification. The raw body
// is read before any parsing so signature verification sees the exact
// bytes the processor signed.
func (h *WebhookHandler) HandleWebhook(c *gin.Context) {
	processor := c.Param("processor")

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		h.logger.Error("failed to read webhook body",
			zap.String("processor", processor),
			zap.Error(err),
		)
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	err = h.dispatcher.Dispatch(c.Request.Context(), processor, c.Request.Header, payload)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	case errors.Is(err, ErrProcessorNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown processor"})
	case errors.Is(err, ErrInvalidSignature):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
	case errors.Is(err, ErrEventInFlight):
		// Another delivery of this event is mid-flight; ask the
		// processor to redeliver.
		c.JSON(http.StatusConflict, gin.H{"error": "event in flight"})
	default:
		// Handler or storage failure; a redelivery can succeed.
		h.logger.Error("webhook processing failed",
			zap.String("processor", processor),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
	}
}
