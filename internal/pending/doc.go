// Package pending implements the pending-request coordination core shared
// by every shard-directed operation the client issues: a retry/timeout
// state machine per shard (Item) driven concurrently by a readiness-
// multiplexing scheduler (Set).
//
// # Architecture
//
//   - Item: sleeping → pending → done state machine owning a retry budget,
//     per-attempt timeout, and — while pending — a transport.Connection.
//   - Set: a keyed collection of Items advanced as a group by Work, which
//     runs the unexported send/wait/recv/iter/finish sweep steps,
//     multiplexing readiness across the
//     union of Connection file descriptors with golang.org/x/sys/unix.Poll.
//
// Callbacks run synchronously on the goroutine driving Work and must not
// perform unbounded blocking I/O.
package pending
