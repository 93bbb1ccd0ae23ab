// Package wire implements the minimal length-prefixed JSON framing the
// pending-request core multiplexes over. It is consumed only as opaque
// request-builder/response-decoder callables by pkg/storeclient — the
// actual command shaping and wire protocol fidelity to any particular
// store are explicitly out of scope for the coordination core (spec.md
// §1).
package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// Op identifies the operation a Request carries.
type Op string

const (
	OpSelect Op = "select"
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
	OpCall   Op = "call"
)

// Request is the command envelope sent to a shard node.
type Request struct {
	Op    Op              `json:"op"`
	Shard int             `json:"shard"`
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value,omitempty"`
	More  bool            `json:"more,omitempty"`
}

// Response is the reply envelope read back from a shard node.
type Response struct {
	OK    bool            `json:"ok"`
	Error string          `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	More  bool            `json:"more,omitempty"`
}

const maxFrameBytes = 16 << 20 // 16MiB, generous for a KV command/reply

// WriteFrame writes a length-prefixed frame: a 4-byte big-endian length
// followed by body.
func WriteFrame(w io.Writer, body []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(body)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("wire: write frame header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("wire: write frame body: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame written by WriteFrame.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("wire: read frame header: %w", err)
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxFrameBytes {
		return nil, fmt.Errorf("wire: frame of %d bytes exceeds limit %d", n, maxFrameBytes)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("wire: read frame body: %w", err)
	}
	return body, nil
}

// EncodeRequest frames req as a request builder callable would.
func EncodeRequest(w io.Writer, req Request) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("wire: marshal request: %w", err)
	}
	return WriteFrame(w, body)
}

// DecodeResponse reads and unframes one Response, as a response decoder
// callable would.
func DecodeResponse(r io.Reader) (Response, error) {
	var resp Response
	body, err := ReadFrame(r)
	if err != nil {
		return resp, err
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return resp, fmt.Errorf("wire: unmarshal response: %w", err)
	}
	return resp, nil
}
