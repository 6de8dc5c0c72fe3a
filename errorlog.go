package drivemover

import (
	"strings"
	"sync"
)

// MoveError records one item that could not be moved.
type MoveError struct {
	// File is the breadcrumb path of folder names from the move root,
	// optionally ending with the item's own name.
	File []string `json:"file"`

	// Error is the message of the failure.
	Error string `json:"error"`
}

// Path joins File with "/" for display.
func (e MoveError) Path() string {
	return strings.Join(e.File, "/")
}

// ErrorLog is an append-only list of MoveErrors. Entries are never deduplicated.
type ErrorLog struct {
	mu      sync.Mutex
	entries []MoveError
}

// Log appends an entry.
func (l *ErrorLog) Log(file []string, message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, MoveError{File: append([]string(nil), file...), Error: message})
}

// IsEmpty reports whether no entries have been logged.
func (l *ErrorLog) IsEmpty() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries) == 0
}

// Get returns a copy of the entries in insertion order.
func (l *ErrorLog) Get() []MoveError {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]MoveError, len(l.entries))
	copy(out, l.entries)
	return out
}

// Set replaces all entries.
func (l *ErrorLog) Set(entries []MoveError) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append([]MoveError(nil), entries...)
}
