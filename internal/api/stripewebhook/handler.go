package stripewebhooks

import (
	"context"
	"errors"
	"io"
	"net/http"

	"membership-app/internal/infra/gateway"
	"membership-app/internal/reconcile"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v75"
	"go.uber.org/zap"
)

const maxBodyBytes = 65536

type EventVerifier interface {
	ConstructEvent(payload []byte, signature string) (stripe.Event, error)
}

type EventHandler interface {
	HandleEvent(ctx context.Context, event stripe.Event) (reconcile.Result, error)
}

type Handler struct {
	verifier EventVerifier
	events   EventHandler
	log      *zap.Logger
}

func NewHandler(verifier EventVerifier, events EventHandler, log *zap.Logger) *Handler {
	return &Handler{verifier: verifier, events: events, log: log.Named("api.webhook")}
}

// Receive acknowledges an event once it is applied or deliberately ignored.
// Anything else gets a non-2xx status so the sender redelivers it.
func (h *Handler) Receive(c *gin.Context) {
	payload, err := readStripeBody(c, maxBodyBytes)
	if err != nil {
		h.log.Warn("reading webhook body", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payload"})
		return
	}

	event, err := h.verifier.ConstructEvent(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, gateway.ErrInvalidSignature) {
			h.log.Warn("webhook signature verification failed", zap.Error(err))
			c.JSON(http.StatusBadRequest, gin.H{"error": "Signature verification failed"})
			return
		}
		h.log.Warn("webhook payload could not be parsed", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payload"})
		return
	}

	result, err := h.events.HandleEvent(c.Request.Context(), event)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": string(result)})
	case errors.Is(err, reconcile.ErrMalformedEvent):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payload"})
	default:
		// Details are logged by the reconciler.
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Event could not be processed"})
	}
}

func readStripeBody(c *gin.Context, maxBytes int64) ([]byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
	return io.ReadAll(c.Request.Body)
}
