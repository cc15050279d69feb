package logging

import "log/slog"

// Common field names for consistent logging across components.
const (
	FieldService = "service"
	FieldError   = "error"
	FieldEventID = "event_id"
	FieldJID     = "jid"
	FieldURL     = "url"
	FieldAttempt = "attempt"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	return slog.String(FieldError, err.Error())
}

// EventID returns a slog attribute for a store-assigned envelope id.
func EventID(id string) slog.Attr {
	return slog.String(FieldEventID, id)
}

// JID returns a slog attribute for a messaging address.
func JID(jid string) slog.Attr {
	return slog.String(FieldJID, jid)
}

// URL returns a slog attribute for a subscriber endpoint.
func URL(url string) slog.Attr {
	return slog.String(FieldURL, url)
}

// Attempt returns a slog attribute for a delivery attempt number.
func Attempt(n int) slog.Attr {
	return slog.Int(FieldAttempt, n)
}
