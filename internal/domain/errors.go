package domain

import (
	"errors"
)

// Code is a machine-readable error code.
type Code string

const (
	CodeUnknown Code = "UNKNOWN"

	// Validation
	CodeInvalidArgument  Code = "INVALID_ARGUMENT"
	CodePriceOutOfBounds Code = "PRICE_OUT_OF_BOUNDS"
	CodeTokenMalformed   Code = "TOKEN_MALFORMED"
	CodeTokenExpired     Code = "TOKEN_EXPIRED"
	CodeTokenMismatch    Code = "TOKEN_MISMATCH"

	// Authorization
	CodeTokenWrongType Code = "TOKEN_WRONG_TYPE"
	CodeNotAParty      Code = "NOT_A_PARTY"
	CodeNotItemOwner   Code = "NOT_ITEM_OWNER"

	// State
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	CodeTokenConsumed     Code = "TOKEN_CONSUMED"
	CodeItemUnavailable   Code = "ITEM_UNAVAILABLE"

	CodeNotFound Code = "NOT_FOUND"
	CodeConflict Code = "CONFLICT"

	// Collaborators
	CodePaymentUnavailable Code = "PAYMENT_UNAVAILABLE"
	CodePaymentDeclined    Code = "PAYMENT_DECLINED"
	CodeStoreUnavailable   Code = "STORE_UNAVAILABLE"

	// Policy
	CodePriceAbuse Code = "PRICE_ABUSE"
)

// Kind groups codes into the classes callers branch on.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindAuthorization Kind = "authorization"
	KindState         Kind = "state"
	KindNotFound      Kind = "not-found"
	KindConflict      Kind = "conflict"
	KindCollaborator  Kind = "collaborator"
	KindPolicy        Kind = "policy"
	KindInternal      Kind = "internal"
)

func (c Code) Kind() Kind {
	switch c {
	case CodeInvalidArgument, CodePriceOutOfBounds, CodeTokenMalformed, CodeTokenExpired, CodeTokenMismatch:
		return KindValidation
	case CodeTokenWrongType, CodeNotAParty, CodeNotItemOwner:
		return KindAuthorization
	case CodeInvalidTransition, CodeTokenConsumed, CodeItemUnavailable:
		return KindState
	case CodeNotFound:
		return KindNotFound
	case CodeConflict:
		return KindConflict
	case CodePaymentUnavailable, CodePaymentDeclined, CodeStoreUnavailable:
		return KindCollaborator
	case CodePriceAbuse:
		return KindPolicy
	default:
		return KindInternal
	}
}

// Error is the domain error type with structured metadata.
type Error struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

func (e *Error) Kind() Kind {
	return e.Code.Kind()
}

// Retryable reports whether repeating the call with the same inputs may succeed.
func (e *Error) Retryable() bool {
	return e.Code == CodePaymentUnavailable || e.Code == CodeStoreUnavailable || e.Code == CodeConflict
}

// With returns a copy of e carrying extra key/value metadata.
func (e *Error) With(kv ...string) *Error {
	out := *e
	out.Metadata = make(map[string]string, len(e.Metadata)+len(kv)/2)
	for k, v := range e.Metadata {
		out.Metadata[k] = v
	}
	for i := 0; i+1 < len(kv); i += 2 {
		out.Metadata[kv[i]] = kv[i+1]
	}
	return &out
}

// Because returns a copy of e wrapping cause.
func (e *Error) Because(cause error) *Error {
	out := *e
	out.Cause = cause
	return &out
}

func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func WrapError(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// NewValidationError builds an INVALID_ARGUMENT error with metadata pairs.
func NewValidationError(message string, kv ...string) *Error {
	return NewError(CodeInvalidArgument, message).With(kv...)
}

// CodeOf extracts the code of the first domain error in err's chain.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeUnknown
}

func KindOf(err error) Kind {
	return CodeOf(err).Kind()
}

func IsRetryable(err error) bool {
	var de *Error
	return errors.As(err, &de) && de.Retryable()
}

var (
	ErrNotFound           = NewError(CodeNotFound, "record not found")
	ErrConflict           = NewError(CodeConflict, "record was modified concurrently")
	ErrItemUnavailable    = NewError(CodeItemUnavailable, "item is not available")
	ErrInvalidTransition  = NewError(CodeInvalidTransition, "invalid transition")
	ErrTokenConsumed      = NewError(CodeTokenConsumed, "token already used")
	ErrTokenExpired       = NewError(CodeTokenExpired, "token has expired")
	ErrTokenMalformed     = NewError(CodeTokenMalformed, "token is malformed")
	ErrTokenMismatch      = NewError(CodeTokenMismatch, "token does not belong to this transaction")
	ErrTokenWrongType     = NewError(CodeTokenWrongType, "wrong token type for this step")
	ErrNotAParty          = NewError(CodeNotAParty, "user is not a party to this transaction")
	ErrNotItemOwner       = NewError(CodeNotItemOwner, "user does not own this item")
	ErrPriceOutOfBounds   = NewError(CodePriceOutOfBounds, "price is outside the category bounds")
	ErrPriceAbuse         = NewError(CodePriceAbuse, "price is far above the fair suggestion")
	ErrPaymentDeclined    = NewError(CodePaymentDeclined, "payment was declined")
	ErrPaymentUnavailable = NewError(CodePaymentUnavailable, "payment provider unavailable, try again")
	ErrStoreUnavailable   = NewError(CodeStoreUnavailable, "storage unavailable, try again")
)
