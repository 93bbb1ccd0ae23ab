package transport

import (
	"os"
	"sync"

	"go.uber.org/zap"
)

// PipeConnection is an in-memory Connection backed by an os.Pipe, used to
// simulate a shard node's socket in tests without binding a real TCP
// port. Its descriptor is a genuine OS pipe fd, so it polls exactly like
// a live socket.
type PipeConnection struct {
	r      *os.File
	w      *os.File
	mu     sync.Mutex
	closed bool
	log    *zap.Logger
}

// PipePeer is the other end of a PipeConnection, held by test code
// playing the role of the shard node: it writes bytes the
// PipeConnection's owner will see as readable.
type PipePeer struct {
	r *os.File
	w *os.File
}

// NewPipePair returns a PipeConnection and its PipePeer. Writes on the
// peer make the PipeConnection's fd readable; writes on the connection
// are read back by the peer.
func NewPipePair(log *zap.Logger) (*PipeConnection, *PipePeer, error) {
	toConn, fromPeer, err := os.Pipe()
	if err != nil {
		return nil, nil, err
	}
	toPeer, fromConn, err := os.Pipe()
	if err != nil {
		toConn.Close()
		fromPeer.Close()
		return nil, nil, err
	}

	conn := &PipeConnection{r: toConn, w: fromConn, log: log}
	peer := &PipePeer{r: toPeer, w: fromPeer}
	return conn, peer, nil
}

// Fd implements Connection.
func (p *PipeConnection) Fd() int { return int(p.r.Fd()) }

// Read implements io.Reader, reading bytes the peer wrote.
func (p *PipeConnection) Read(b []byte) (int, error) { return p.r.Read(b) }

// Write implements io.Writer, sending bytes the peer will read.
func (p *PipeConnection) Write(b []byte) (int, error) { return p.w.Write(b) }

// Close implements Connection; idempotent, closes both halves owned by
// this end.
func (p *PipeConnection) Close(reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	if p.log != nil {
		p.log.Debug("closing pipe connection", zap.String("reason", reason))
	}
	_ = p.r.Close()
	_ = p.w.Close()
}

// Write sends bytes the PipeConnection will see as readable.
func (p *PipePeer) Write(b []byte) (int, error) { return p.w.Write(b) }

// Read reads bytes the PipeConnection's owner wrote.
func (p *PipePeer) Read(b []byte) (int, error) { return p.r.Read(b) }

// Close closes the peer's own halves.
func (p *PipePeer) Close() error {
	werr := p.w.Close()
	rerr := p.r.Close()
	if werr != nil {
		return werr
	}
	return rerr
}
