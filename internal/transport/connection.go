// Package transport implements the Connection capability that
// internal/pending drives: a byte-level handle to one shard server,
// exposing a pollable file descriptor, an idempotent close, and
// continuation-based protocol stepping.
package transport

// Connection is a byte-level handle to one server. PendingItem owns
// exactly one Connection while pending.
type Connection interface {
	// Fd returns a pollable OS file descriptor. Must be re-read from the
	// Connection on every poll cycle rather than cached, since a
	// continuing exchange may swap in a fresh Connection.
	Fd() int

	// Close idempotently shuts the connection down. Must not panic or
	// error for an already-closed connection.
	Close(reason string)
}

// ContinueFunc advances one protocol step against the installed
// Connection. isContOut is set true by the callee when more data is
// expected. When isContOut is true, next (if non-nil) installs a fresh
// Continuation — possibly on a different Connection — for the next leg;
// a nil next means keep stepping the current Continuation. When
// isContOut is false, result is the final result list and next is
// ignored. A non-nil error signals a recoverable protocol failure; the
// scheduler closes the Connection and sleeps the item.
type ContinueFunc func(isContOut *bool) (result []any, next *Continuation, err error)

// Continuation is the triple handed back from OnRetry, or from a
// chunked ContinueFunc, per spec.md §6.1.
type Continuation struct {
	Conn        Connection
	Continue    ContinueFunc
	Postprocess func([]any) []any
}
