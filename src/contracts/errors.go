package contracts

import (
	"errors"
	"fmt"
)

// Kind classifies every failure the facade can report.
type Kind string

const (
	KindValidation       Kind = "ValidationError"
	KindConnection       Kind = "ConnectionError"
	KindAuth             Kind = "AuthError"
	KindProducerCreation Kind = "ProducerCreationError"
	KindConsumerCreation Kind = "ConsumerCreationError"
	KindPublish          Kind = "PublishError"
	KindConsume          Kind = "ConsumeError"
	KindTopicAdmin       Kind = "TopicAdminError"
)

// Reason refines a TopicAdminError.
type Reason string

const (
	ReasonNone                   Reason = ""
	ReasonNotFound               Reason = "NotFound"
	ReasonAlreadyExists          Reason = "AlreadyExists"
	ReasonHasActiveSubscriptions Reason = "HasActiveSubscriptions"
	ReasonUnreachable            Reason = "Unreachable"
	ReasonRejected               Reason = "Rejected"
)

// Error is the only error type that crosses the operation facade.
type Error struct {
	Kind   Kind
	Reason Reason
	// Topic the failing operation addressed, if any.
	Topic   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Reason != ReasonNone {
		msg += "{" + string(e.Reason) + "}"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Topic != "" {
		msg += fmt.Sprintf(" (topic %s)", e.Topic)
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind and, when set on the target, by reason.
// This lets callers write errors.Is(err, &Error{Kind: KindTopicAdmin, Reason: ReasonNotFound}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == ReasonNone || t.Reason == e.Reason
}

// NewError builds an *Error of the given kind.
func NewError(kind Kind, topic, message string, err error) *Error {
	return &Error{Kind: kind, Topic: topic, Message: message, Err: err}
}

// Validationf builds a ValidationError with a formatted message.
func Validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// AdminError builds a TopicAdminError with the given reason.
func AdminError(reason Reason, topic, message string, err error) *Error {
	return &Error{Kind: KindTopicAdmin, Reason: reason, Topic: topic, Message: message, Err: err}
}

// KindOf returns the kind of err, or fallback when err is not an *Error.
func KindOf(err error, fallback Kind) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return fallback
}

// ReasonOf returns the admin reason carried by err, if any.
func ReasonOf(err error) Reason {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ReasonNone
}
