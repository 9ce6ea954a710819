// Package apperror holds the error taxonomy shared by the ledger, the
// subscription layer and the HTTP adapters, plus the validator wiring that
// produces ValidationError values.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// ValidationError reports malformed caller input. It is produced before any
// storage access.
type ValidationError struct {
	Fields map[string]string
	Err    error
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		if e.Err != nil {
			return "validation failed: " + e.Err.Error()
		}
		return "validation failed"
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+" "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return e.Err }

// NotFoundError is returned when a one-shot read finds no document.
type NotFoundError struct {
	Kind string
	ID   string
	Err  error
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %q not found", e.Kind, e.ID) }

func (e *NotFoundError) Unwrap() error { return e.Err }

// TransactionAbortedError means a ledger append was not committed: the store
// gave up retrying, the transaction was aborted, or the field disappeared.
type TransactionAbortedError struct {
	FieldID string
	Reason  string
	Err     error
}

func (e *TransactionAbortedError) Error() string {
	return fmt.Sprintf("transaction aborted for field %q: %s", e.FieldID, e.Reason)
}

func (e *TransactionAbortedError) Unwrap() error { return e.Err }

// TransportError wraps connectivity failures of a subscription or fetch.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return e.Op + ": transport failure"
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsNotFound reports whether err carries a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsAborted reports whether err carries a TransactionAbortedError.
func IsAborted(err error) bool {
	var ta *TransactionAbortedError
	return errors.As(err, &ta)
}

// IsTransport reports whether err carries a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// HTTPStatus maps the taxonomy onto response codes.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsValidation(err):
		return http.StatusBadRequest
	case IsNotFound(err):
		return http.StatusNotFound
	case IsAborted(err):
		return http.StatusConflict
	case IsTransport(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
