package checkout

import (
	"context"
	"errors"
	"net/http"

	"membership-app/internal/checkout"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Checkouter interface {
	Checkout(ctx context.Context, req checkout.Request) (checkout.Outcome, error)
}

type Handler struct {
	service Checkouter
	log     *zap.Logger
}

func NewHandler(service Checkouter, log *zap.Logger) *Handler {
	return &Handler{service: service, log: log.Named("api.checkout")}
}

type checkoutBody struct {
	AttemptKey      string                `json:"attempt_key"`
	Customer        checkout.CustomerForm `json:"customer"`
	PaymentMethodID string                `json:"payment_method_id"`
	MembershipID    uint                  `json:"membership_id"`
	ClientSecret    string                `json:"client_secret"`
}

// Checkout answers 200 for a completed or challenged checkout, 402 when the
// card was declined, and 4xx/5xx for everything the customer cannot fix by
// changing card.
func (h *Handler) Checkout(c *gin.Context) {
	var body checkoutBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	out, err := h.service.Checkout(c.Request.Context(), checkout.Request{
		AttemptKey:      body.AttemptKey,
		Customer:        body.Customer,
		PaymentMethodID: body.PaymentMethodID,
		MembershipID:    body.MembershipID,
		ClientSecret:    body.ClientSecret,
		Client: checkout.ClientContext{
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		},
	})
	if err != nil {
		status, msg := errorResponse(err)
		c.JSON(status, gin.H{"error": msg})
		return
	}

	if out.Status == checkout.StatusError {
		c.JSON(http.StatusPaymentRequired, out)
		return
	}
	c.JSON(http.StatusOK, out)
}

func errorResponse(err error) (int, string) {
	switch {
	case errors.Is(err, checkout.ErrInvalidRequest):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, checkout.ErrNotPurchasable):
		return http.StatusNotFound, "Membership is not available"
	case errors.Is(err, checkout.ErrAlreadySubscribed):
		return http.StatusConflict, "You already have an active membership"
	case errors.Is(err, checkout.ErrAttemptMismatch):
		return http.StatusConflict, "Checkout session does not match this request"
	}
	return http.StatusBadGateway, "We could not complete your checkout. Please try again."
}
