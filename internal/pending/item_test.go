package pending

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/meshstore/internal/transport"
)

func TestNewItemStartsSleeping(t *testing.T) {
	now := time.Now()
	it := NewItem("shard-0", time.Second, 10*time.Millisecond, 3, nil, nil, nil, now)

	assert.True(t, it.IsSleeping())
	assert.False(t, it.IsPending())
	assert.False(t, it.IsDone())
	assert.Equal(t, 0, it.Try)
	assert.Equal(t, -1, it.Fd())
}

func TestSetPendingModeInstallsConnectionAndIncrementsTry(t *testing.T) {
	conn := newFakeConn(t)
	defer conn.Close("test cleanup")

	now := time.Now()
	it := NewItem("shard-0", time.Second, time.Millisecond, 3, nil, nil, nil, now)

	cont := &transport.Continuation{
		Conn: conn,
		Continue: func(isContOut *bool) ([]any, *transport.Continuation, error) {
			return []any{"ok"}, nil, nil
		},
	}

	it.setPendingMode(cont, now.Add(time.Millisecond))

	require.True(t, it.IsPending())
	assert.Equal(t, 1, it.Try)
	assert.Equal(t, conn.Fd(), it.Fd())
}

func TestSetPendingModeNilTransitionsToSleeping(t *testing.T) {
	conn := newFakeConn(t)
	defer conn.Close("test cleanup")

	now := time.Now()
	it := NewItem("shard-0", time.Second, time.Millisecond, 3, nil, nil, nil, now)
	it.setPendingMode(&transport.Continuation{Conn: conn, Continue: func(*bool) ([]any, *transport.Continuation, error) {
		return nil, nil, nil
	}}, now)
	require.True(t, it.IsPending())

	it.setPendingMode(nil, now.Add(time.Second))

	assert.True(t, it.IsSleeping())
	assert.Equal(t, -1, it.Fd(), "sleeping items must hold no connection")
}

func TestStepFinalResultMarksDone(t *testing.T) {
	conn := newFakeConn(t)
	defer conn.Close("test cleanup")

	now := time.Now()
	it := NewItem("shard-0", time.Second, time.Millisecond, 3, nil, nil, nil, now)
	it.setPendingMode(&transport.Continuation{
		Conn: conn,
		Continue: func(isContOut *bool) ([]any, *transport.Continuation, error) {
			return []any{"hello"}, nil, nil
		},
	}, now)

	outcome, result := it.Step(now)

	assert.Equal(t, stepDone, outcome)
	assert.Equal(t, []any{"hello"}, result)
	assert.True(t, it.IsDone())
	assert.Equal(t, -1, it.Fd())
}

func TestStepAppliesPostprocessOnce(t *testing.T) {
	conn := newFakeConn(t)
	defer conn.Close("test cleanup")

	now := time.Now()
	it := NewItem("shard-0", time.Second, time.Millisecond, 3, nil, nil, nil, now)
	it.setPendingMode(&transport.Continuation{
		Conn: conn,
		Continue: func(isContOut *bool) ([]any, *transport.Continuation, error) {
			return []any{1, 2}, nil, nil
		},
		Postprocess: func(in []any) []any {
			return append(in, "processed")
		},
	}, now)

	_, result := it.Step(now)

	assert.Equal(t, []any{1, 2, "processed"}, result)
}

func TestStepContinuingCanSwapConnection(t *testing.T) {
	connA := newFakeConn(t)
	defer connA.Close("test cleanup")
	connB := newFakeConn(t)
	defer connB.Close("test cleanup")

	now := time.Now()
	it := NewItem("shard-0", time.Second, time.Millisecond, 3, nil, nil, nil, now)
	it.setPendingMode(&transport.Continuation{
		Conn: connA,
		Continue: func(isContOut *bool) ([]any, *transport.Continuation, error) {
			*isContOut = true
			return nil, &transport.Continuation{
				Conn: connB,
				Continue: func(isContOut *bool) ([]any, *transport.Continuation, error) {
					return []any{1, 2, 3}, nil, nil
				},
			}, nil
		},
	}, now)

	outcome, _ := it.Step(now)
	require.Equal(t, stepContinuing, outcome)
	assert.True(t, it.IsPending())
	assert.Equal(t, connB.Fd(), it.Fd())

	outcome, result := it.Step(now)
	assert.Equal(t, stepDone, outcome)
	assert.Equal(t, []any{1, 2, 3}, result)
}

func TestStepFailureIsSoftAndDoesNotMarkDone(t *testing.T) {
	conn := newFakeConn(t)
	defer conn.Close("test cleanup")

	now := time.Now()
	it := NewItem("shard-0", time.Second, time.Millisecond, 3, nil, nil, nil, now)
	it.setPendingMode(&transport.Continuation{
		Conn: conn,
		Continue: func(isContOut *bool) ([]any, *transport.Continuation, error) {
			return nil, nil, assertErr
		},
	}, now)

	outcome, _ := it.Step(now)

	assert.Equal(t, stepFailed, outcome)
	assert.False(t, it.IsDone())
	assert.True(t, it.IsPending(), "Step itself does not transition state; the scheduler closes on failure")
}

func TestCloseIsIdempotentOnSleepingItem(t *testing.T) {
	now := time.Now()
	it := NewItem("shard-0", time.Second, time.Millisecond, 3, nil, nil, nil, now)

	it.close("no-op", now)
	it.close("no-op again", now)

	assert.True(t, it.IsSleeping())
}

func TestIsTimeoutDefaultsByState(t *testing.T) {
	now := time.Now()
	it := NewItem("shard-0", 50*time.Millisecond, 10*time.Millisecond, 3, nil, nil, nil, now)

	assert.False(t, it.IsTimeout(now.Add(5*time.Millisecond), 0))
	assert.True(t, it.IsTimeout(now.Add(20*time.Millisecond), 0), "sleeping default is RetryDelay")

	conn := newFakeConn(t)
	defer conn.Close("test cleanup")
	it.setPendingMode(&transport.Continuation{Conn: conn, Continue: func(*bool) ([]any, *transport.Continuation, error) {
		return nil, nil, nil
	}}, now)

	assert.False(t, it.IsTimeout(now.Add(20*time.Millisecond), 0))
	assert.True(t, it.IsTimeout(now.Add(60*time.Millisecond), 0), "pending default is Timeout")
}

func TestStepOnNonPendingItemPanics(t *testing.T) {
	now := time.Now()
	it := NewItem("shard-0", time.Second, time.Millisecond, 3, nil, nil, nil, now)

	assert.Panics(t, func() {
		it.Step(now)
	})
}

var assertErr = &wireError{"recoverable protocol failure"}

type wireError struct{ msg string }

func (e *wireError) Error() string { return e.msg }
