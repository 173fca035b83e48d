package domain

import "context"

// Notification event names.
const (
	EventSignalCreated   = "signal_created"
	EventSignalUpdated   = "signal_updated"
	EventSignalClosed    = "signal_closed"
	EventSignalEnriched  = "signal_enriched"
	EventPreSignal       = "presignal"
	EventDispatchFailure = "error"
)

// Notification is a structured message for human operators.
type Notification struct {
	Event   string
	Title   string
	Message string
	Fields  map[string]string
	// ReplyTo is the correlation id of an earlier notification this one
	// follows up on.
	ReplyTo string
}

// NotificationSink delivers a notification and returns a correlation id
// that later follow-ups can reference.
type NotificationSink interface {
	Deliver(ctx context.Context, n Notification) (string, error)
}
