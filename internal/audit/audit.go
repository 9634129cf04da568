// Package audit provides a unified helper for writing operation audit
// records. There is no datastore behind it: every record is a structured
// log line, written through the same bracketed-subsystem logger the rest
// of the relay uses, so audit trails fold into whatever log collector the
// operator already points at this process's stderr.
package audit

import (
	"log"
)

const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

var validStatuses = map[string]bool{
	StatusPending: true,
	StatusSuccess: true,
	StatusFailed:  true,
}

// Entry holds all fields for a single audit record. Using a named struct
// avoids the swap-bug risk of several consecutive string parameters.
type Entry struct {
	// Principal is the authenticated subject performing the action
	// ("anonymous" when auth is disabled, or the JWT's sub claim).
	Principal string
	// Action is a dot-namespaced verb, e.g. "relay.connect", "relay.disconnect".
	Action string
	// TargetID is the Target Directory id the session addressed, if any.
	TargetID string
	// SessionID is the relay's own generated session identifier.
	SessionID string
	// Status must be one of StatusPending, StatusSuccess, or StatusFailed.
	Status string
	// Detail holds optional free-form context (error message, duration, etc.).
	Detail string
}

// Sink writes audit entries through a subsystem-prefixed logger. The zero
// value is not usable; construct one with New.
type Sink struct {
	logger *log.Logger
}

// New returns a Sink that writes through logger.
func New(logger *log.Logger) *Sink {
	return &Sink{logger: logger}
}

// Write records one audit entry. An entry with an invalid Status is logged
// as a warning and dropped — an audit failure must never break the calling
// operation, so Write never returns an error.
func (s *Sink) Write(entry Entry) {
	if !validStatuses[entry.Status] {
		s.logger.Printf("audit: invalid status %q for action %q — dropping", entry.Status, entry.Action)
		return
	}

	s.logger.Printf("audit principal=%q action=%q target=%q session=%q status=%q detail=%q",
		entry.Principal, entry.Action, entry.TargetID, entry.SessionID, entry.Status, entry.Detail)
}
