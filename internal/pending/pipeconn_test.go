package pending

import (
	"os"
	"testing"
)

// fakeConn is a minimal transport.Connection backed by a real OS pipe so
// tests can drive actual readiness polling without a network socket.
type fakeConn struct {
	r, w   *os.File
	closed bool
}

func newFakeConn(t *testing.T) *fakeConn {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	return &fakeConn{r: r, w: w}
}

func (c *fakeConn) Fd() int { return int(c.r.Fd()) }

func (c *fakeConn) Close(reason string) {
	if c.closed {
		return
	}
	c.closed = true
	_ = c.r.Close()
	_ = c.w.Close()
}

// makeReadable writes a byte so the read side reports POLLIN.
func (c *fakeConn) makeReadable(t *testing.T) {
	t.Helper()
	if _, err := c.w.Write([]byte{1}); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// drain consumes the byte(s) written by makeReadable so subsequent polls
// don't see stale readiness from a previous attempt's leftover byte.
func (c *fakeConn) drain(t *testing.T) {
	t.Helper()
	buf := make([]byte, 8)
	_, _ = c.r.Read(buf)
}

// hangUp closes the write end only, which causes the read end to report
// both POLLIN (EOF) and POLLHUP — used to simulate a reset connection.
func (c *fakeConn) hangUp(t *testing.T) {
	t.Helper()
	if err := c.w.Close(); err != nil {
		t.Fatalf("close write end: %v", err)
	}
}
