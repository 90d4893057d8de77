package event

import (
	"errors"
	"fmt"
)

// ErrorKind classifies ingestion failures.
type ErrorKind string

const (
	MalformedPayload ErrorKind = "malformed_payload"
	StoreWriteFailed ErrorKind = "store_write_failed"
	StoreReadFailed  ErrorKind = "store_read_failed"
	PublishTimeout   ErrorKind = "publish_timeout"
	Overloaded       ErrorKind = "overloaded"
	DispatchTimeout  ErrorKind = "dispatch_timeout"
)

// Sentinels for errors.Is matching against an *IngestionError of the same kind.
var (
	ErrMalformedPayload = &IngestionError{Kind: MalformedPayload}
	ErrStoreWriteFailed = &IngestionError{Kind: StoreWriteFailed}
	ErrStoreReadFailed  = &IngestionError{Kind: StoreReadFailed}
	ErrPublishTimeout   = &IngestionError{Kind: PublishTimeout}
	ErrOverloaded       = &IngestionError{Kind: Overloaded}
	ErrDispatchTimeout  = &IngestionError{Kind: DispatchTimeout}
)

// IngestionError is returned by every stage of the pipeline.
type IngestionError struct {
	Kind     ErrorKind
	EntityID string
	Cause    error
}

// NewError builds an IngestionError of kind k.
func NewError(k ErrorKind, entityID string, cause error) *IngestionError {
	return &IngestionError{Kind: k, EntityID: entityID, Cause: cause}
}

func (e *IngestionError) Error() string {
	msg := string(e.Kind)
	if e.EntityID != "" {
		msg += fmt.Sprintf(" (entity %s)", e.EntityID)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *IngestionError) Unwrap() error { return e.Cause }

// Is matches any IngestionError with the same Kind.
func (e *IngestionError) Is(target error) bool {
	var t *IngestionError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the ErrorKind carried by err, or "" if err is not an IngestionError.
func KindOf(err error) ErrorKind {
	var ie *IngestionError
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return ""
}
