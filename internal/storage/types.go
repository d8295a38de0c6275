package storage

import (
	"errors"
	"time"
)

// ErrDisabled is returned by store operations after Close or when the
// backing driver is unavailable.
var ErrDisabled = errors.New("storage disabled")

// Config selects and configures the persistence backend.
type Config struct {
	// Driver: "file" or "sqlite". Empty/"none" disables persistence.
	Driver string
	// Path is the file path (file driver: prefix, sqlite: database file).
	Path string
	// BusyTimeout applies to the sqlite driver only.
	BusyTimeout time.Duration
}

// AuditEntry is one append-only operational record: an accepted webhook,
// a dispatched batch, a dropped message.
type AuditEntry struct {
	At       time.Time `json:"at"`
	TraceID  string    `json:"trace_id,omitempty"`
	Category string    `json:"category,omitempty"` // media | game | common | dispatch
	Action   string    `json:"action"`             // accepted | rejected | dispatched | dropped
	OK       bool      `json:"ok"`
	Error    string    `json:"err,omitempty"`
	Detail   string    `json:"detail,omitempty"`
}
