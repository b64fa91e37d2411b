// Package dhterrors defines the error taxonomy shared by every subsystem of
// the node: identity objects, storage, and RPC all return errors through
// this package so callers can switch on Kind instead of parsing strings.
package dhterrors

import (
	"errors"
	"fmt"
)

// Kind enumerates the error taxonomy named in spec §7.
type Kind int

const (
	// KindUnknown is the zero value; never returned on purpose.
	KindUnknown Kind = iota
	KindBeforeValidPeriod
	KindExpired
	KindInvalidSignature
	KindImmutableSubstitutionFail
	KindSequenceNotMonotonic
	KindSequenceNotExpected
	KindProtocolError
	KindCryptoError
	KindDataStorageError
	KindBosonError
	KindTransportError
	KindRemoteError
)

func (k Kind) String() string {
	switch k {
	case KindBeforeValidPeriod:
		return "BeforeValidPeriod"
	case KindExpired:
		return "Expired"
	case KindInvalidSignature:
		return "InvalidSignature"
	case KindImmutableSubstitutionFail:
		return "ImmutableSubstitutionFail"
	case KindSequenceNotMonotonic:
		return "SequenceNotMonotonic"
	case KindSequenceNotExpected:
		return "SequenceNotExpected"
	case KindProtocolError:
		return "ProtocolError"
	case KindCryptoError:
		return "CryptoError"
	case KindDataStorageError:
		return "DataStorageError"
	case KindBosonError:
		return "BosonError"
	case KindTransportError:
		return "TransportError"
	case KindRemoteError:
		return "RemoteError"
	default:
		return "Unknown"
	}
}

// Error is a taxonomy-tagged error. Wrap preserves the underlying cause via
// Unwrap so callers can still use errors.Is/As against it.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a taxonomy error with no underlying cause.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap attaches a taxonomy Kind to an existing error. Returns nil if err is
// nil, matching the teacher's utils.Wrap convention.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Is reports whether err (or any error it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
