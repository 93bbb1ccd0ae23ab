package pending

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dreamware/meshstore/internal/transport"
)

// state is the tri-state tagged variant backing Item's sleeping / pending
// / done classification (spec.md §3, Design Notes §9 — modeled as a
// variant rather than a pair of booleans so the invariants become
// exhaustiveness checks).
type state int

const (
	stateSleeping state = iota
	statePending
	stateDone
)

// OnRetryFunc builds the next attempt's continuation. Returning nil
// leaves the item sleeping for this tick without consuming a retry
// attempt (spec.md §9, Open Questions).
type OnRetryFunc func(id string, item *Item, set *Set) *transport.Continuation

// OnOKFunc delivers the final successful result exactly once.
type OnOKFunc func(id string, result []any, item *Item, set *Set)

// OnErrorFunc delivers the terminal failure exactly once.
type OnErrorFunc func(id string, reason string, item *Item, set *Set)

// Item is the retry/timeout state machine for one request against one
// shard (spec.md §3 PendingItem).
type Item struct {
	// ID is the opaque stable identifier — typically a shard key — unique
	// within the owning Set.
	ID string

	// Timeout is the per-attempt deadline, checked while pending.
	Timeout time.Duration

	// RetryDelay is the backoff between attempts, checked while sleeping.
	RetryDelay time.Duration

	// Retry is the maximum number of attempts, inclusive.
	Retry int

	// Try counts attempts started so far. Monotonic, never exceeds Retry
	// while the item is not done.
	Try int

	OnRetry OnRetryFunc
	OnOK    OnOKFunc
	OnError OnErrorFunc

	state          state
	conn           transport.Connection
	cont           transport.ContinueFunc
	postprocess    func([]any) []any
	lastTransition time.Time
	currentAttempt uuid.UUID
}

// NewItem constructs a sleeping Item ready for the scheduler's first Send
// sweep. now is the creation time, used as the initial lastTransition so
// RetryDelay is honored for the very first attempt too.
func NewItem(id string, timeout, retryDelay time.Duration, retry int, onRetry OnRetryFunc, onOK OnOKFunc, onError OnErrorFunc, now time.Time) *Item {
	return &Item{
		ID:             id,
		Timeout:        timeout,
		RetryDelay:     retryDelay,
		Retry:          retry,
		OnRetry:        onRetry,
		OnOK:           onOK,
		OnError:        onError,
		state:          stateSleeping,
		lastTransition: now,
	}
}

// IsSleeping reports whether the item is not done and holds no
// connection — waiting out RetryDelay before its next attempt.
func (it *Item) IsSleeping() bool { return it.state == stateSleeping }

// IsPending reports whether the item holds a connection for an in-flight
// attempt.
func (it *Item) IsPending() bool { return it.state == statePending }

// IsDone reports whether the item has reached a terminal state. Once
// true, no further transitions occur.
func (it *Item) IsDone() bool { return it.state == stateDone }

// IsTimeout reports whether now−lastTransition exceeds t. When t is
// zero, the default is Timeout while pending and RetryDelay while
// sleeping, per spec.md §4.1.
func (it *Item) IsTimeout(now time.Time, t time.Duration) bool {
	if t == 0 {
		if it.IsPending() {
			t = it.Timeout
		} else {
			t = it.RetryDelay
		}
	}
	return now.Sub(it.lastTransition) > t
}

// Fd returns the pollable descriptor of the currently installed
// Connection, or -1 if the item has none. Callers must re-read this on
// every poll cycle rather than cache it — Step's "more-to-read" path may
// swap in a fresh Connection.
func (it *Item) Fd() int {
	if it.conn == nil {
		return -1
	}
	return it.conn.Fd()
}

// setPendingMode is called only by the scheduler. It drops any current
// connection/continuation/postprocess. If cont is given it installs
// cont.Conn/cont.Continue/cont.Postprocess, transitions to pending,
// increments Try, and stamps lastTransition. If cont is nil it
// transitions to sleeping, used after a failed attempt — no connection
// survives a sleeping transition (spec.md invariant: done/sleeping ⇒ no
// connection).
func (it *Item) setPendingMode(cont *transport.Continuation, now time.Time) {
	it.conn = nil
	it.cont = nil
	it.postprocess = nil

	if cont == nil {
		it.state = stateSleeping
		it.lastTransition = now
		return
	}

	it.conn = cont.Conn
	it.cont = cont.Continue
	it.postprocess = cont.Postprocess
	it.state = statePending
	it.Try++
	it.currentAttempt = uuid.New()
	it.lastTransition = now
}

// stepOutcome classifies the result of Step for the scheduler.
type stepOutcome int

const (
	stepFailed     stepOutcome = iota // recoverable protocol failure
	stepContinuing                    // still pending, possibly new connection
	stepDone                          // final result produced
)

// Step is invoked when the underlying socket is readable. It runs the
// installed continuation once (spec.md §4.1 continue()).
func (it *Item) Step(now time.Time) (stepOutcome, []any) {
	if !it.IsPending() {
		panic(fmt.Sprintf("pending: Step called on non-pending item %q", it.ID))
	}

	var isCont bool
	result, next, err := it.cont(&isCont)
	if err != nil {
		return stepFailed, nil
	}

	if isCont {
		if next != nil {
			it.conn = next.Conn
			it.cont = next.Continue
			it.postprocess = next.Postprocess
		}
		it.lastTransition = now
		return stepContinuing, nil
	}

	if it.postprocess != nil {
		result = it.postprocess(result)
	}
	it.conn = nil
	it.cont = nil
	it.postprocess = nil
	it.state = stateDone
	return stepDone, result
}

// close closes the underlying connection (if pending) with reason, then
// drops the item to sleeping. Idempotent for already-sleeping items.
func (it *Item) close(reason string, now time.Time) {
	if it.IsPending() {
		it.conn.Close(reason)
	}
	it.conn = nil
	it.cont = nil
	it.postprocess = nil
	if !it.IsDone() {
		it.state = stateSleeping
		it.lastTransition = now
	}
}

// markDone forces a terminal transition without invoking the
// continuation, used by Send (retry exhaustion) and Finish (deadline
// drain). The caller is responsible for delivering OnError.
func (it *Item) markDone(now time.Time, reason string) {
	if it.IsPending() {
		it.conn.Close(reason)
	}
	it.conn = nil
	it.cont = nil
	it.postprocess = nil
	it.state = stateDone
	it.lastTransition = now
}
