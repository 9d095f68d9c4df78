package audit

import (
	"time"

	"github.com/google/uuid"
)

// NewEvent creates a new audit event for a store operation.
func NewEvent(operation, project, config string) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Operation: operation,
		Project:   project,
		Config:    config,
	}
}

// WithActor adds the authenticated caller to the event.
func (e *Event) WithActor(actor string) *Event {
	e.Actor = actor
	return e
}

// WithRequestID adds the request correlation id to the event.
func (e *Event) WithRequestID(id string) *Event {
	e.RequestID = id
	return e
}

// WithVersion adds the version id produced by the operation.
func (e *Event) WithVersion(versionID string) *Event {
	e.VersionID = versionID
	return e
}

// WithMessage adds the commit message to the event.
func (e *Event) WithMessage(message string) *Event {
	e.Message = message
	return e
}

// WithResult finalizes the event with outcome and duration.
func (e *Event) WithResult(success bool, errorMsg string, durationMS int64) *Event {
	e.Success = success
	e.ErrorMessage = errorMsg
	e.DurationMS = durationMS
	return e
}
