// Package storeclient is the thin command-shaping layer that gives the
// pending-request core a caller: it turns Select/Insert/Update/Delete/Call
// into wire requests routed to shard nodes and multiplexed through a
// pending.Set. Wire fidelity to any particular store and connection
// pooling are explicitly out of scope here, same as for the core itself.
package storeclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/meshstore/internal/coordinator"
	"github.com/dreamware/meshstore/internal/pending"
	"github.com/dreamware/meshstore/internal/telemetry"
	"github.com/dreamware/meshstore/internal/transport"
	"github.com/dreamware/meshstore/internal/wire"
)

// NodeResolver maps a node ID, as returned by the shard registry, to the
// dial address the node listens on. cmd/coordinator and cmd/node each
// supply their own (usually backed by the registered NodeInfo set).
type NodeResolver interface {
	ResolveNode(nodeID string) (addr string, ok bool)
}

// Config bounds every request issued by a Client.
type Config struct {
	// Timeout is the overall per-item deadline (spec.md's PendingItem.timeout).
	Timeout time.Duration
	// RetryDelay gates how soon a declined/failed attempt may retry.
	RetryDelay time.Duration
	// Retries is the maximum number of attempts per item.
	Retries int
	// IterTime upper-bounds one readiness wait inside Work.
	IterTime time.Duration
}

// DefaultConfig mirrors the node registration/retry cadence the teacher's
// cmd/node used for joining a cluster, repurposed here for request retries.
func DefaultConfig() Config {
	return Config{
		Timeout:    5 * time.Second,
		RetryDelay: 100 * time.Millisecond,
		Retries:    3,
		IterTime:   50 * time.Millisecond,
	}
}

// Client routes KV commands to shard nodes over the pending-request core.
type Client struct {
	registry *coordinator.ShardRegistry
	nodes    NodeResolver
	cfg      Config
	log      *zap.Logger
}

// New builds a Client. log may be nil.
func New(registry *coordinator.ShardRegistry, nodes NodeResolver, cfg Config, log *zap.Logger) *Client {
	return &Client{
		registry: registry,
		nodes:    nodes,
		cfg:      cfg,
		log:      telemetry.OrNop(log).Named("storeclient"),
	}
}

// Result is the outcome of a single-key command.
type Result struct {
	Shard int
	Data  json.RawMessage
}

// Select reads key from its owning shard.
func (c *Client) Select(ctx context.Context, key string) (Result, error) {
	return c.do(ctx, wire.Request{Op: wire.OpSelect, Key: key})
}

// Insert writes value for key, failing if it already exists (shard-node
// defined semantics; the core is agnostic to them).
func (c *Client) Insert(ctx context.Context, key string, value json.RawMessage) (Result, error) {
	return c.do(ctx, wire.Request{Op: wire.OpInsert, Key: key, Value: value})
}

// Update overwrites the value stored for key.
func (c *Client) Update(ctx context.Context, key string, value json.RawMessage) (Result, error) {
	return c.do(ctx, wire.Request{Op: wire.OpUpdate, Key: key, Value: value})
}

// Delete removes key from its owning shard.
func (c *Client) Delete(ctx context.Context, key string) (Result, error) {
	return c.do(ctx, wire.Request{Op: wire.OpDelete, Key: key})
}

// Call issues an arbitrary shard-defined operation against key, carrying
// args as the request's value payload.
func (c *Client) Call(ctx context.Context, key string, args json.RawMessage) (Result, error) {
	return c.do(ctx, wire.Request{Op: wire.OpCall, Key: key, Value: args})
}

// do routes req to the shard owning req.Key, runs it through a
// single-item pending.Set, and returns the merged terminal result.
func (c *Client) do(ctx context.Context, req wire.Request) (Result, error) {
	shardID := c.registry.GetShardForKey(req.Key)
	req.Shard = shardID

	nodeID, err := c.registry.GetNodeForKey(req.Key)
	if err != nil {
		return Result{}, fmt.Errorf("storeclient: %w", err)
	}
	addr, ok := c.nodes.ResolveNode(nodeID)
	if !ok {
		return Result{}, fmt.Errorf("storeclient: no address known for node %q", nodeID)
	}

	var (
		result Result
		opErr  error
	)

	itemID := fmt.Sprintf("%s:%d:%s", req.Op, shardID, req.Key)
	item := pending.NewItem(itemID, c.cfg.Timeout, c.cfg.RetryDelay, c.cfg.Retries,
		c.buildContinuation(ctx, addr, req, shardID),
		func(id string, raw []any, it *pending.Item, set *pending.Set) {
			if len(raw) != 1 {
				opErr = fmt.Errorf("storeclient: malformed result for %s", id)
				return
			}
			data, ok := raw[0].(json.RawMessage)
			if !ok {
				opErr = fmt.Errorf("storeclient: unexpected result type for %s", id)
				return
			}
			result = Result{Shard: shardID, Data: data}
		},
		func(id string, reason string, it *pending.Item, set *pending.Set) {
			opErr = fmt.Errorf("storeclient: %s: %s", id, reason)
		},
		time.Now(),
	)

	set := pending.NewSet("storeclient:"+itemID, c.cfg.Timeout, c.cfg.IterTime, nil, c.log)
	if err := set.Add(item); err != nil {
		return Result{}, fmt.Errorf("storeclient: %w", err)
	}

	set.Work(ctx)

	if opErr != nil {
		return Result{}, opErr
	}
	return result, nil
}

// buildContinuation returns an OnRetryFunc that dials addr fresh on each
// attempt, writes the framed request, and reads back the framed
// response on the resulting readiness event.
func (c *Client) buildContinuation(ctx context.Context, addr string, req wire.Request, shardID int) pending.OnRetryFunc {
	return func(id string, it *pending.Item, set *pending.Set) *transport.Continuation {
		conn, err := transport.DialTCP(ctx, addr, c.log)
		if err != nil {
			c.log.Warn("dial failed, declining attempt", zap.String("item", id), zap.Error(err))
			return nil
		}
		if err := wire.EncodeRequest(conn.Conn(), req); err != nil {
			conn.Close("write failed")
			c.log.Warn("write failed, declining attempt", zap.String("item", id), zap.Error(err))
			return nil
		}

		return &transport.Continuation{
			Conn: conn,
			Continue: func(isContOut *bool) ([]any, *transport.Continuation, error) {
				resp, err := wire.DecodeResponse(conn.Conn())
				if err != nil {
					return nil, nil, err
				}
				if !resp.OK {
					return nil, nil, fmt.Errorf("storeclient: shard %d: %s", shardID, resp.Error)
				}
				if resp.More {
					*isContOut = true
					return nil, &transport.Continuation{
						Conn: conn,
						Continue: func(isContOut *bool) ([]any, *transport.Continuation, error) {
							next, err := wire.DecodeResponse(conn.Conn())
							if err != nil {
								return nil, nil, err
							}
							if !next.OK {
								return nil, nil, fmt.Errorf("storeclient: shard %d: %s", shardID, next.Error)
							}
							return []any{next.Data}, nil, nil
						},
						Postprocess: func(in []any) []any {
							conn.Close("request complete")
							return in
						},
					}, nil
				}
				return []any{resp.Data}, nil, nil
			},
			Postprocess: func(in []any) []any {
				conn.Close("request complete")
				return in
			},
		}
	}
}
