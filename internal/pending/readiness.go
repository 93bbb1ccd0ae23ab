package pending

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

// waitOutcome classifies the result of one readiness poll, per spec.md
// §4.2.2.
type waitOutcome int

const (
	waitFailed waitOutcome = iota
	waitIdle
	waitReady
)

// waitResult is the stashed readiness snapshot Recv consumes, keyed by
// file descriptor rather than Item ID because the same Set.wait call
// services every currently-pending item's descriptor in one pass.
type waitResult struct {
	readable    map[int]bool
	exceptional map[int]bool
}

// pollFds runs one level-triggered readiness wait over fds with the
// given timeout, using poll(2) via golang.org/x/sys/unix. Any level-
// triggered facility (poll, epoll in LT mode, kqueue) fulfills the same
// contract per Design Notes §9; poll is adequate at the scale this
// client operates at — one descriptor per in-flight shard exchange.
func pollFds(fds []int, timeout time.Duration) (waitOutcome, waitResult, error) {
	if len(fds) == 0 {
		// Nothing pending: still honor the timeout so the scheduler
		// doesn't spin while every item sleeps out its retry delay.
		time.Sleep(timeout)
		return waitIdle, waitResult{}, nil
	}

	pfds := make([]unix.PollFd, len(fds))
	for i, fd := range fds {
		pfds[i] = unix.PollFd{Fd: int32(fd), Events: unix.POLLIN}
	}

	ms := int(timeout / time.Millisecond)
	if ms < 0 {
		ms = 0
	}

	n, err := unix.Poll(pfds, ms)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return waitIdle, waitResult{}, nil
		}
		return waitFailed, waitResult{}, err
	}
	if n == 0 {
		return waitIdle, waitResult{}, nil
	}

	res := waitResult{readable: make(map[int]bool, n), exceptional: make(map[int]bool)}
	for _, pfd := range pfds {
		if pfd.Revents&(unix.POLLIN|unix.POLLPRI) != 0 {
			res.readable[int(pfd.Fd)] = true
		}
		if pfd.Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
			res.exceptional[int(pfd.Fd)] = true
		}
	}
	return waitReady, res, nil
}
