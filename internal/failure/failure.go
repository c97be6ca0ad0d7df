// Package failure carries the caller-facing error taxonomy shared by the
// services and both transports.
package failure

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindUpstream
	KindAuth
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindUpstream:
		return "upstream"
	case KindAuth:
		return "auth"
	default:
		return "internal"
	}
}

// Failure is an error with a kind and a message that is safe to show callers.
// Err keeps the underlying cause for logs and errors.Is.
type Failure struct {
	Kind      Kind
	Message   string
	Retryable bool
	Fields    map[string]string
	Err       error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %v", f.Message, f.Err)
	}
	return f.Message
}

func (f *Failure) Unwrap() error { return f.Err }

func Validation(msg string) error {
	return &Failure{Kind: KindValidation, Message: msg}
}

// ValidationFields returns a validation failure that also names the offending
// fields.
func ValidationFields(msg string, fields map[string]string) error {
	return &Failure{Kind: KindValidation, Message: msg, Fields: fields}
}

func NotFound(entity string) error {
	return &Failure{Kind: KindNotFound, Message: entity + " not found"}
}

func Conflict(msg string) error {
	return &Failure{Kind: KindConflict, Message: msg}
}

// Upstream marks a payment provider failure. Network errors and timeouts are
// retryable; a provider rejection is not.
func Upstream(msg string, retryable bool, err error) error {
	return &Failure{Kind: KindUpstream, Message: msg, Retryable: retryable, Err: err}
}

func Auth(msg string) error {
	return &Failure{Kind: KindAuth, Message: msg}
}

func Internal(err error) error {
	if err == nil {
		return nil
	}
	return &Failure{Kind: KindInternal, Message: "internal error", Err: err}
}

func KindOf(err error) Kind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindInternal
}

func IsRetryable(err error) bool {
	var f *Failure
	return errors.As(err, &f) && f.Retryable
}

// PublicMessage is the text a transport may return to the client. Internal
// causes are never exposed.
func PublicMessage(err error) string {
	var f *Failure
	if errors.As(err, &f) && f.Kind != KindInternal {
		return f.Message
	}
	return "internal error"
}

func FieldsOf(err error) map[string]string {
	var f *Failure
	if errors.As(err, &f) {
		return f.Fields
	}
	return nil
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUpstream:
		return http.StatusBadGateway
	case KindAuth:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
