package pending

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/dreamware/meshstore/internal/telemetry"
)

// OnIdleFunc is invoked whenever a readiness wait times out with zero
// events, at most once per Iter.
type OnIdleFunc func(set *Set)

// Set is a keyed collection of Items driven forward as a group,
// multiplexing readiness across the union of their Connection file
// descriptors (spec.md §3 PendingSet).
type Set struct {
	// Name is a diagnostic label.
	Name string

	// MaxTime is the overall deadline enforced by Work.
	MaxTime time.Duration

	// IterTime upper-bounds one readiness wait.
	IterTime time.Duration

	// OnIdle is invoked iff the readiness wait returned zero events.
	OnIdle OnIdleFunc

	items   map[string]*Item
	log     *zap.Logger
	metrics *schedulerMetrics
	now     func() time.Time
}

// NewSet constructs an empty Set. log may be nil (a no-op logger is
// substituted).
func NewSet(name string, maxTime, iterTime time.Duration, onIdle OnIdleFunc, log *zap.Logger) *Set {
	return &Set{
		Name:     name,
		MaxTime:  maxTime,
		IterTime: iterTime,
		OnIdle:   onIdle,
		items:    make(map[string]*Item),
		log:      telemetry.OrNop(log).Named("pending"),
		metrics:  newSchedulerMetrics(),
		now:      time.Now,
	}
}

// Len reports how many items remain in the set.
func (s *Set) Len() int { return len(s.items) }

// Add installs items into the set. It fails, leaving the set unchanged,
// if any ID is already present.
func (s *Set) Add(items ...*Item) error {
	for _, it := range items {
		if _, exists := s.items[it.ID]; exists {
			return fmt.Errorf("pending: item %q already present in set %q", it.ID, s.Name)
		}
	}
	for _, it := range items {
		s.items[it.ID] = it
	}
	return nil
}

// Remove drops items by ID. It fails, leaving the set unchanged, if any
// ID is absent.
func (s *Set) Remove(ids ...string) error {
	for _, id := range ids {
		if _, exists := s.items[id]; !exists {
			return fmt.Errorf("pending: item %q not present in set %q", id, s.Name)
		}
	}
	for _, id := range ids {
		delete(s.items, id)
	}
	return nil
}

// sortedIDs returns item IDs in a stable (sorted) order so Send/Recv
// sweeps are deterministic and each item is visited exactly once per
// sweep, per spec.md §4.3.
func (s *Set) sortedIDs() []string {
	ids := lo.Keys(s.items)
	sort.Strings(ids)
	return ids
}

// send runs the start-or-retry sweep over every sleeping item, spec.md
// §4.2.1.
func (s *Set) send(ctx context.Context) {
	now := s.now()

	for _, id := range s.sortedIDs() {
		it := s.items[id]
		if !it.IsSleeping() {
			continue
		}

		if it.Try >= it.Retry {
			delete(s.items, id)
			reason := ExhaustedMessage(it.Retry)
			it.markDone(now, reason)
			s.metrics.incExhausted(ctx)
			s.log.Warn("retries exhausted", zap.String("id", id), zap.Int("try", it.Try), zap.Int("retry", it.Retry))
			it.OnError(id, reason, it, s)
			continue
		}

		if !it.IsTimeout(now, 0) {
			continue // rate-limited: still waiting out RetryDelay
		}

		cont := it.OnRetry(id, it, s)
		if cont == nil {
			continue // non-startable this tick; does not consume an attempt
		}

		it.setPendingMode(cont, now)
		s.metrics.incAttempts(ctx)
		s.log.Debug("attempt started", zap.String("id", id), zap.Int("try", it.Try))
	}
}

// wait builds the read-readiness bitmap over every currently pending
// item's descriptor and polls with timeout IterTime, spec.md §4.2.2.
// Descriptors are snapshotted after send completes, so an item that send
// promoted to pending this cycle is included in this cycle's poll
// (spec.md §4.3).
func (s *Set) wait() (waitOutcome, map[int]string, waitResult) {
	fdToID := make(map[int]string)
	fds := make([]int, 0, len(s.items))
	for id, it := range s.items {
		if !it.IsPending() {
			continue
		}
		fd := it.Fd()
		fdToID[fd] = id
		fds = append(fds, fd)
	}

	outcome, res, err := pollFds(fds, s.IterTime)
	if err != nil {
		s.log.Error("readiness wait failed", zap.Error(err), zap.String("set", s.Name))
		return waitFailed, fdToID, waitResult{}
	}
	if outcome == waitIdle {
		if s.OnIdle != nil {
			s.OnIdle(s)
		}
		return waitIdle, fdToID, res
	}
	return waitReady, fdToID, res
}

// recv drains every currently pending item whose descriptor the stashed
// waitResult marks ready, timed-out, or exceptional, spec.md §4.2.3.
func (s *Set) recv(ctx context.Context, fdToID map[int]string, wr waitResult) {
	now := s.now()

	for _, id := range s.sortedIDs() {
		it := s.items[id]
		if !it.IsPending() {
			continue
		}

		fd := it.Fd()
		switch {
		case wr.exceptional[fd]:
			s.log.Warn("connection reset", zap.String("id", id), zap.Int("fd", fd))
			it.close(string(ReasonReset), now)
			s.metrics.incSoftFails(ctx)

		case wr.readable[fd]:
			outcome, result := it.Step(now)
			switch outcome {
			case stepDone:
				delete(s.items, id)
				s.metrics.incSuccesses(ctx)
				s.log.Debug("attempt succeeded", zap.String("id", id), zap.Int("try", it.Try))
				it.OnOK(id, result, it, s)
			case stepContinuing:
				// still pending, possibly on a new descriptor
			case stepFailed:
				s.log.Warn("receive error", zap.String("id", id))
				it.close(string(ReasonRecvError), now)
				s.metrics.incSoftFails(ctx)
			}

		case it.IsTimeout(now, 0):
			s.log.Debug("attempt timed out", zap.String("id", id))
			it.close(string(ReasonTimeout), now)
			s.metrics.incSoftFails(ctx)
		}
	}
}

// iter runs one scheduling cycle: send, then wait, then (unless the set
// is idle or the readiness primitive failed) recv, spec.md §4.2.4. It
// returns whether Work should continue.
func (s *Set) iter(ctx context.Context) bool {
	s.send(ctx)

	outcome, fdToID, wr := s.wait()
	switch outcome {
	case waitFailed:
		return false
	case waitIdle:
		return true
	default:
		s.recv(ctx, fdToID, wr)
		return true
	}
}

// finish drains every remaining non-done item as a timeout, ensuring no
// Item is left pending at the end of Work, spec.md §4.2.5.
func (s *Set) finish(ctx context.Context) {
	now := s.now()

	for _, id := range s.sortedIDs() {
		it := s.items[id]
		if it.IsDone() {
			continue
		}
		delete(s.items, id)
		it.markDone(now, string(ReasonTimeout))
		s.metrics.incTimeouts(ctx)
		s.log.Info("drained at deadline", zap.String("id", id))
		it.OnError(id, string(ReasonTimeout), it, s)
	}
}

// Work drives the set to completion or deadline: while the set is
// non-empty and the overall MaxTime budget remains, it repeats Iter;
// Finish then drains anything left. Work never returns an error for
// individual item failures — each item's own OnOK/OnError surfaces
// those. Panics raised by user callbacks propagate out of Work.
func (s *Set) Work(ctx context.Context) {
	start := s.now()

	// MaxTime == 0 means zero iterations: everything drains via Finish
	// as a timeout (spec.md §8 boundary behavior).
	if s.MaxTime > 0 {
		for s.Len() > 0 && s.now().Sub(start) <= s.MaxTime {
			if !s.iter(ctx) {
				break
			}
		}
	}
	s.finish(ctx)
}
