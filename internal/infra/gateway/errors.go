package gateway

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/stripe/stripe-go/v75"
)

// Kind tells callers what to do about a failed gateway call.
type Kind int

const (
	// KindFatal is a configuration or programming error. Do not retry.
	KindFatal Kind = iota
	// KindNotFound means the remote object does not exist.
	KindNotFound
	// KindConflict means the remote object is busy or the idempotency key
	// was reused with different parameters.
	KindConflict
	// KindTransient covers network failures, rate limits and 5xx responses.
	KindTransient
	// KindCardDeclined is a payment failure the customer can fix.
	KindCardDeclined
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindTransient:
		return "transient"
	case KindCardDeclined:
		return "card_declined"
	}
	return "fatal"
}

type Error struct {
	Kind        Kind
	Op          string
	Code        string
	DeclineCode string
	HTTPStatus  int
	// Message is the processor's text. For card errors it is safe to show.
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway %s: %s (%s): %s", e.Op, e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("gateway %s: %s: %s", e.Op, e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// classify wraps err with its Kind, decided from the SDK's error type, code
// and HTTP status.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var ge *Error
	if errors.As(err, &ge) {
		return err
	}

	var se *stripe.Error
	if !errors.As(err, &se) {
		// no response from the processor at all
		return &Error{Kind: KindTransient, Op: op, Message: err.Error(), Err: err}
	}

	out := &Error{
		Op:          op,
		Code:        string(se.Code),
		DeclineCode: string(se.DeclineCode),
		HTTPStatus:  se.HTTPStatusCode,
		Message:     se.Msg,
		Err:         err,
	}
	switch {
	case se.Type == stripe.ErrorTypeCard:
		out.Kind = KindCardDeclined
	case se.Code == stripe.ErrorCodeResourceMissing || se.HTTPStatusCode == http.StatusNotFound:
		out.Kind = KindNotFound
	case se.Type == stripe.ErrorTypeIdempotency || se.HTTPStatusCode == http.StatusConflict:
		out.Kind = KindConflict
	case se.HTTPStatusCode == http.StatusTooManyRequests || se.HTTPStatusCode >= http.StatusInternalServerError || se.Type == stripe.ErrorTypeAPI:
		out.Kind = KindTransient
	default:
		out.Kind = KindFatal
	}
	return out
}

func KindOf(err error) (Kind, bool) {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind, true
	}
	return KindFatal, false
}

func IsNotFound(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindNotFound
}

func IsTransient(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindTransient
}

func IsCardDeclined(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindCardDeclined
}
