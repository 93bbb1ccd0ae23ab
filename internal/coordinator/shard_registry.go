// Package coordinator implements the orchestration layer for meshstore's distributed storage system.
// See doc.go for complete package documentation.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/dreamware/meshstore/internal/telemetry"
)

// ShardAssignment is a point-in-time record of which node owns a shard.
// The registry hands out copies; callers can't mutate its internal state
// through a returned pointer.
type ShardAssignment struct {
	NodeID    string // the node that owns this shard
	IsPrimary bool   // primary vs. replica; only a direct AssignShard call creates replicas, RebalanceShards assigns primaries
	ShardID   int
}

// ShardRegistry is the authoritative map from shard ID to owning node. Key
// placement goes key → FNV-1a hash → shard ID → registry lookup → node.
//
// All mutation goes through Lock; all reads through RLock, and every
// returned value is copied so callers can't race the registry's own state.
type ShardRegistry struct {
	assignments map[int]*ShardAssignment
	mu          sync.RWMutex
	numShards   int

	log          *zap.Logger
	rebalanceCtr metric.Int64Counter
}

// NewShardRegistry creates a registry for a fixed number of shards. The
// shard count should comfortably exceed the expected node count — it's
// fixed for the cluster's lifetime, so undersizing it limits how finely
// RebalanceShards can ever spread load.
func NewShardRegistry(numShards int) *ShardRegistry {
	ctr, _ := telemetry.Meter("meshstore/coordinator").Int64Counter("coordinator.shard_rebalances")
	return &ShardRegistry{
		assignments:  make(map[int]*ShardAssignment),
		numShards:    numShards,
		log:          telemetry.Nop().Named("shard_registry"),
		rebalanceCtr: ctr,
	}
}

// SetLogger replaces the registry's logger. Called once at startup by
// whichever binary constructs the registry; safe to skip in tests, which
// get a no-op logger from NewShardRegistry.
func (r *ShardRegistry) SetLogger(log *zap.Logger) {
	r.log = telemetry.OrNop(log).Named("shard_registry")
}

// AssignShard assigns shardID to nodeID, overwriting any prior assignment.
func (r *ShardRegistry) AssignShard(shardID int, nodeID string, isPrimary bool) error {
	if shardID < 0 || shardID >= r.numShards {
		return fmt.Errorf("invalid shard ID %d, must be in range [0, %d)", shardID, r.numShards)
	}
	if nodeID == "" {
		return errors.New("node ID cannot be empty")
	}

	r.mu.Lock()
	r.assignments[shardID] = &ShardAssignment{
		ShardID:   shardID,
		NodeID:    nodeID,
		IsPrimary: isPrimary,
	}
	r.mu.Unlock()

	r.log.Debug("shard assigned",
		zap.Int("shard_id", shardID), zap.String("node_id", nodeID), zap.Bool("primary", isPrimary))
	return nil
}

// RemoveShard unassigns a shard. It is not an error to remove a shard that
// was never assigned; callers typically follow this with a rebalance or
// reassignment to restore availability.
func (r *ShardRegistry) RemoveShard(shardID int) error {
	if shardID < 0 || shardID >= r.numShards {
		return fmt.Errorf("invalid shard ID %d, must be in range [0, %d)", shardID, r.numShards)
	}

	r.mu.Lock()
	delete(r.assignments, shardID)
	r.mu.Unlock()

	r.log.Debug("shard unassigned", zap.Int("shard_id", shardID))
	return nil
}

// GetAssignment returns a copy of shardID's current assignment, or nil if
// the shard is unassigned.
func (r *ShardRegistry) GetAssignment(shardID int) *ShardAssignment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	assignment := r.assignments[shardID]
	if assignment == nil {
		return nil
	}
	copied := *assignment
	return &copied
}

// GetAllAssignments returns copies of every currently assigned shard, in
// no particular order. Unassigned shards are omitted.
func (r *ShardRegistry) GetAllAssignments() []*ShardAssignment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lo.MapToSlice(r.assignments, func(_ int, assignment *ShardAssignment) *ShardAssignment {
		copied := *assignment
		return &copied
	})
}

// GetShardForKey maps key to a shard ID via FNV-1a, the same hash
// pkg/storeclient uses client-side to pick which connection to route a
// request over — the two must stay in lockstep or a client's routing
// decision and the coordinator's idea of ownership will disagree.
func (r *ShardRegistry) GetShardForKey(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32()) % r.numShards
}

// GetNodeForKey resolves key straight to an owning node ID, combining
// GetShardForKey with an assignment lookup.
func (r *ShardRegistry) GetNodeForKey(key string) (string, error) {
	shardID := r.GetShardForKey(key)

	r.mu.RLock()
	assignment := r.assignments[shardID]
	r.mu.RUnlock()

	if assignment == nil {
		return "", fmt.Errorf("shard %d is not assigned to any node", shardID)
	}
	return assignment.NodeID, nil
}

// GetNodeShards returns every shard ID currently assigned to nodeID, in no
// particular order. An unknown or shard-less node yields an empty slice.
func (r *ShardRegistry) GetNodeShards(nodeID string) []int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	owned := lo.PickBy(r.assignments, func(_ int, assignment *ShardAssignment) bool {
		return assignment.NodeID == nodeID
	})
	return lo.Keys(owned)
}

// NumShards returns the fixed shard count this registry was created with.
func (r *ShardRegistry) NumShards() int {
	return r.numShards
}

// RebalanceShards redistributes every shard round-robin across nodes
// (shard i → nodes[i % len(nodes)]), overwriting all existing assignments
// as primary. It's deliberately simple: no load weighting, no replica
// placement, no gradual migration — just enough to restore full shard
// coverage after a node joins, leaves, or is declared unhealthy.
func (r *ShardRegistry) RebalanceShards(nodes []string) error {
	if len(nodes) == 0 {
		return errors.New("cannot rebalance with no nodes")
	}

	r.mu.Lock()
	for shardID := 0; shardID < r.numShards; shardID++ {
		nodeID := nodes[shardID%len(nodes)]
		r.assignments[shardID] = &ShardAssignment{
			ShardID:   shardID,
			NodeID:    nodeID,
			IsPrimary: true,
		}
	}
	r.mu.Unlock()

	if r.rebalanceCtr != nil {
		r.rebalanceCtr.Add(context.Background(), 1)
	}
	r.log.Info("shards rebalanced", zap.Int("num_shards", r.numShards), zap.Int("num_nodes", len(nodes)))
	return nil
}
