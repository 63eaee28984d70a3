package gateway

import (
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v75"
	"github.com/stripe/stripe-go/v75/webhook"
)

var (
	// ErrInvalidSignature means the payload cannot be trusted.
	ErrInvalidSignature = errors.New("gateway: invalid event signature")
	// ErrUnparseableEvent means the signature matched but the body is not a
	// usable event.
	ErrUnparseableEvent = errors.New("gateway: unparseable event")
)

// ConstructEvent verifies the signature header against the webhook secret
// and decodes the event.
func (c *Client) ConstructEvent(payload []byte, signature string) (stripe.Event, error) {
	return constructEvent(payload, signature, c.webhookSecret)
}

func constructEvent(payload []byte, signature, secret string) (stripe.Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		switch {
		case errors.Is(err, webhook.ErrNotSigned),
			errors.Is(err, webhook.ErrInvalidHeader),
			errors.Is(err, webhook.ErrNoValidSignature),
			errors.Is(err, webhook.ErrTooOld):
			return stripe.Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrUnparseableEvent, err)
	}
	if event.ID == "" || event.Type == "" || event.Data == nil || len(event.Data.Raw) == 0 {
		return stripe.Event{}, fmt.Errorf("%w: missing id, type or data", ErrUnparseableEvent)
	}
	return event, nil
}
