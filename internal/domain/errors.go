package domain

import "errors"

// Error taxonomy shared by repositories, services and handlers. Callers
// branch on these with errors.Is; the concrete error usually carries more
// context through wrapping.
var (
	// ErrNotFound signals an absent session, conversation or message.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition signals an event that contradicts the session
	// lifecycle or the message status ordering. Invalid transitions are
	// logged and ignored, never fatal.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrConflict signals a lost optimistic-lock race on a session row.
	ErrConflict = errors.New("concurrent modification")

	// ErrUnknownEvent signals an event tag the processor does not recognize.
	ErrUnknownEvent = errors.New("unknown event type")

	// ErrSessionNotConnected is returned by the outbound dispatcher before
	// any gateway call is made.
	ErrSessionNotConnected = errors.New("session is not connected")

	// ErrGatewayUnavailable covers network failures, timeouts and 5xx
	// responses from the gateway process.
	ErrGatewayUnavailable = errors.New("gateway unavailable")

	// ErrGatewayRejected covers 4xx responses that are neither a budget
	// signal nor transient.
	ErrGatewayRejected = errors.New("gateway rejected request")

	// ErrBudgetExhausted is the gateway's resource-limit signal, surfaced
	// distinctly so callers can react differently than to a generic failure.
	ErrBudgetExhausted = errors.New("message budget exhausted")
)
