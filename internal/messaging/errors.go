// ABOUTME: Typed pipeline errors: every failed ProcessMessage call carries a Kind
// ABOUTME: Hosts switch on the Kind to decide what to log and what to answer

package messaging

import (
	"errors"
	"fmt"

	"github.com/2389/wxcallback/internal/crypt"
	"github.com/2389/wxcallback/internal/message"
)

// Kind classifies a pipeline failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindSignatureInvalid
	KindDecryptionFailed
	KindApplicationIDMismatch
	KindMalformedMessage
	KindHandlerFailed
	KindEncryptionFailed
)

func (k Kind) String() string {
	switch k {
	case KindSignatureInvalid:
		return "signature_invalid"
	case KindDecryptionFailed:
		return "decryption_failed"
	case KindApplicationIDMismatch:
		return "application_id_mismatch"
	case KindMalformedMessage:
		return "malformed_message"
	case KindHandlerFailed:
		return "handler_failed"
	case KindEncryptionFailed:
		return "encryption_failed"
	default:
		return "unknown"
	}
}

// Error is returned by ProcessMessage for every failure.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind carried by err, or KindUnknown.
func KindOf(err error) Kind {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}
	return KindUnknown
}

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// envelopeError maps an envelope failure onto the pipeline taxonomy.
func envelopeError(err error) *Error {
	switch {
	case errors.Is(err, crypt.ErrSignatureInvalid):
		return newError(KindSignatureInvalid, err)
	case errors.Is(err, crypt.ErrAppIDMismatch):
		return newError(KindApplicationIDMismatch, err)
	case errors.Is(err, crypt.ErrMalformedEnvelope), errors.Is(err, message.ErrMalformedMessage):
		return newError(KindMalformedMessage, err)
	default:
		return newError(KindDecryptionFailed, err)
	}
}
