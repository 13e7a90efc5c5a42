package status

import (
	"errors"
	"fmt"
)

var (
	ErrFailedPayment   = errors.New("payment: payment failed")
	ErrIncompleteID    = errors.New("payment: merchantId or merchantTransactionId is incomplete")
	ErrTooManyTries    = errors.New("payment: too many tries")
	ErrInvalidChecksum = errors.New("payment: checksum mismatch")
	ErrUnknownMode     = errors.New("payment: unknown operating mode")
)

// Kind names one branch of the error taxonomy. It doubles as the envelope
// code when an error reaches the façade boundary.
type Kind string

const (
	KindValidation    Kind = "ValidationError"
	KindTransport     Kind = "TransportError"
	KindIntegrity     Kind = "IntegrityError"
	KindTimeout       Kind = "TimeoutError"
	KindTerminalState Kind = "TerminalStateError"
)

// ValidationError is a malformed outbound request, detected before any call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Kind() Kind { return KindValidation }

// TransportError is a network or HTTP failure talking to the gateway.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Kind() Kind { return KindTransport }

// IntegrityError is a checksum mismatch on inbound data.
type IntegrityError struct {
	Err error
}

func (e *IntegrityError) Error() string { return "integrity: " + e.Err.Error() }

func (e *IntegrityError) Unwrap() error { return e.Err }

func (e *IntegrityError) Kind() Kind { return KindIntegrity }

// TimeoutError is an exhausted retry budget.
type TimeoutError struct {
	Attempts int
	Err      error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout after %d attempts: %v", e.Attempts, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

func (e *TimeoutError) Kind() Kind { return KindTimeout }

// TerminalStateError reports that the gateway refused an operation because the
// transaction already reached State. The façade passes State through.
type TerminalStateError struct {
	Code  string
	State SessionStatus
	Data  any
}

func (e *TerminalStateError) Error() string {
	return fmt.Sprintf("transaction already %s (%s)", e.State, e.Code)
}

func (e *TerminalStateError) Kind() Kind { return KindTerminalState }

// KindOf returns the taxonomy branch of err, or "" for untyped errors.
func KindOf(err error) Kind {
	var k interface{ Kind() Kind }
	if errors.As(err, &k) {
		return k.Kind()
	}
	return ""
}
