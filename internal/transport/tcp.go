package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// TCPConnection is the production Connection capability: one TCP socket
// to a shard node. Its descriptor is read lazily via SyscallConn so the
// pending scheduler can poll it directly.
type TCPConnection struct {
	conn   *net.TCPConn
	fd     int
	once   sync.Once
	closed bool
	mu     sync.Mutex
	log    *zap.Logger
}

// DialTCP opens a new TCPConnection to addr. backoff.Retry governs the
// dial attempt itself (DNS hiccups, connection refused during node
// startup) — distinct from, and unrelated to, the pending Item's own
// retry/timeout state machine, which governs the request exchanged over
// the resulting connection.
func DialTCP(ctx context.Context, addr string, log *zap.Logger) (*TCPConnection, error) {
	op := func() (*net.TCPConn, error) {
		d := net.Dialer{Timeout: 2 * time.Second}
		c, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		return c.(*net.TCPConn), nil
	}

	tcpConn, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(5),
	)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}

	c := &TCPConnection{conn: tcpConn, log: log}
	if err := c.resolveFd(); err != nil {
		_ = tcpConn.Close()
		return nil, err
	}
	return c, nil
}

// NewTCPConnection wraps an already-established TCP connection, e.g. one
// accepted by a shard node's listener.
func NewTCPConnection(conn *net.TCPConn, log *zap.Logger) (*TCPConnection, error) {
	c := &TCPConnection{conn: conn, log: log}
	if err := c.resolveFd(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *TCPConnection) resolveFd() error {
	raw, err := c.conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("transport: syscall conn: %w", err)
	}
	var ctrlErr error
	err = raw.Control(func(fd uintptr) {
		c.fd = int(fd)
	})
	if err != nil {
		return fmt.Errorf("transport: control: %w", err)
	}
	return ctrlErr
}

// Fd implements Connection.
func (c *TCPConnection) Fd() int { return c.fd }

// Conn returns the underlying net.Conn for reading/writing frames.
func (c *TCPConnection) Conn() net.Conn { return c.conn }

// Close implements Connection; idempotent.
func (c *TCPConnection) Close(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.log != nil {
		c.log.Debug("closing tcp connection", zap.String("reason", reason))
	}
	_ = c.conn.Close()
}
