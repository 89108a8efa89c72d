package domain

import (
	"errors"
	"fmt"
)

// ErrNoDocument is returned by a DocumentStore when a singular lookup matches nothing.
var ErrNoDocument = errors.New("no document matches the filter")

// DuplicateKeyCode is the code stores attach to uniqueness violations.
const DuplicateKeyCode = 11000

// DuplicateKeyError reports a unique key violation raised by a DocumentStore.
// KeyPattern keeps the declared field order; KeyValue holds the offending values.
type DuplicateKeyError struct {
	Collection string
	KeyPattern []string
	KeyValue   map[string]any
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("E%d duplicate key error collection: %s key: %v", DuplicateKeyCode, e.Collection, e.KeyValue)
}

func (e *DuplicateKeyError) Code() int { return DuplicateKeyCode }

type ErrorKind string

const (
	InvalidEnvelope ErrorKind = "INVALID_ENVELOPE"
	NotFound        ErrorKind = "NOT_FOUND"
	DuplicateKey    ErrorKind = "DUPLICATE_KEY"
	Forbidden       ErrorKind = "FORBIDDEN"
	Unauthorized    ErrorKind = "UNAUTHORIZED"
)

// Error is a client-facing condition. Anything that is not an *Error is a
// storage or internal fault.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func KindOf(err error) (ErrorKind, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind, true
	}
	return "", false
}

func IsKind(err error, kind ErrorKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

const (
	MsgInvalidBody    = "Invalid request body"
	MsgInvalidQuery   = "Invalid query"
	MsgInvalidPayload = "Invalid payload"
	MsgNotFound       = "Document not found"
	MsgForbidden      = "Forbidden resource"
	MsgUnauthorized   = "Unauthorized"
)

func InvalidBody(cause error) *Error {
	return &Error{Kind: InvalidEnvelope, Message: MsgInvalidBody, Err: cause}
}

func InvalidQuery(cause error) *Error {
	return &Error{Kind: InvalidEnvelope, Message: MsgInvalidQuery, Err: cause}
}

func InvalidPayload(cause error) *Error {
	return &Error{Kind: InvalidEnvelope, Message: MsgInvalidPayload, Err: cause}
}

func DocumentNotFound() *Error {
	return &Error{Kind: NotFound, Message: MsgNotFound}
}

func ForbiddenResource() *Error {
	return &Error{Kind: Forbidden, Message: MsgForbidden}
}

func Unauthenticated(cause error) *Error {
	return &Error{Kind: Unauthorized, Message: MsgUnauthorized, Err: cause}
}

func Duplicate(message string, cause error) *Error {
	return &Error{Kind: DuplicateKey, Message: message, Err: cause}
}
