// Package relay implements the DApp relay: connection grants between a user's wallet and an
// external DApp, and the signing-request lifecycle that lets the DApp ask that wallet to sign
// without ever holding the key.
//
// The package is transport-agnostic. Every failure is returned as an *Error carrying a Kind,
// which the HTTP layer maps to a status code.
package relay

import (
	"errors"
	"fmt"
)

// Kind classifies a relay failure
type Kind string

const (
	KindValidation     Kind = "validation_error"
	KindAuthorization  Kind = "authorization_error"
	KindNotFound       Kind = "not_found"
	KindStateConflict  Kind = "state_conflict"
	KindExpired        Kind = "expired"
	KindUpstreamSigner Kind = "upstream_signer_error"
	KindInternal       Kind = "internal_error"
)

// Error is the error type returned by every relay operation
type Error struct {
	Kind    Kind
	Message string
	Err     error // Underlying cause, never shown to DApps
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, or KindInternal for errors not raised by this package
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindInternal
}

// IsKind reports whether err is a relay error of kind k
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

func validationError(format string, args ...interface{}) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func authorizationError(format string, args ...interface{}) error {
	return &Error{Kind: KindAuthorization, Message: fmt.Sprintf(format, args...)}
}

func notFoundError(what string) error {
	return &Error{Kind: KindNotFound, Message: what + " not found"}
}

func stateConflictError(action, current string) error {
	return &Error{Kind: KindStateConflict, Message: fmt.Sprintf("cannot %s: current status is %s", action, current)}
}

func expiredError(what string) error {
	return &Error{Kind: KindExpired, Message: what + " has expired"}
}

func upstreamSignerError(err error) error {
	return &Error{Kind: KindUpstreamSigner, Message: "wallet signer failed", Err: err}
}

func internalError(message string, err error) error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}
