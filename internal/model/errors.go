package model

import (
	"errors"
	"fmt"
)

// Decode failure kinds. Both are per-frame and never fatal to a connection.
var (
	ErrUnrecognized = errors.New("unrecognized event type")
	ErrMalformed    = errors.New("malformed frame")
)

// DecodeError describes a frame the codec could not turn into a TickerUpdate.
type DecodeError struct {
	Exchange string
	Kind     error // ErrUnrecognized or ErrMalformed
	Detail   string
}

func (e *DecodeError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %v", e.Exchange, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Exchange, e.Kind, e.Detail)
}

func (e *DecodeError) Unwrap() error { return e.Kind }

// SubscriptionError rejects a subscribe request synchronously.
type SubscriptionError struct {
	Symbol string
	Reason string
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("invalid symbol %q: %s", e.Symbol, e.Reason)
}

// TransportError wraps connect, send and receive failures. It is retried
// by the supervisor and never reaches consumers directly.
type TransportError struct {
	Op  string // "dial", "send", "read"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// FeedExhaustedError is reported when a connection gives up after its
// maximum number of reconnect attempts.
type FeedExhaustedError struct {
	Key      string
	Attempts int
	Last     error
}

func (e *FeedExhaustedError) Error() string {
	return fmt.Sprintf("feed %s exhausted after %d attempts: %v", e.Key, e.Attempts, e.Last)
}

func (e *FeedExhaustedError) Unwrap() error { return e.Last }
