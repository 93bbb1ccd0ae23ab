// Package coordinator implements the orchestration layer for meshstore's distributed
// storage system, managing cluster topology, shard distribution, request routing,
// and maintaining system-wide consistency through centralized coordination.
//
// # Overview
//
// The coordinator serves as the control plane for the meshstore cluster, making
// global decisions about data placement, node membership, and query routing.
// It maintains authoritative state about which nodes host which shards and
// ensures this information is propagated throughout the cluster.
//
// # Architecture
//
// The coordinator implements several key subsystems:
//
//	┌─────────────────────────────────────┐
//	│         COORDINATOR                  │
//	├─────────────────────────────────────┤
//	│                                     │
//	│  ┌──────────────────────────────┐  │
//	│  │   Shard Registry              │  │
//	│  │   - Node → Shard mappings     │  │
//	│  │   - Shard → Node mappings     │  │
//	│  │   - Replication tracking      │  │
//	│  └──────────────────────────────┘  │
//	│                                     │
//	│  ┌──────────────────────────────┐  │
//	│  │   Node Manager                │  │
//	│  │   - Registration handling     │  │
//	│  │   - Health monitoring         │  │
//	│  │   - Failure detection         │  │
//	│  └──────────────────────────────┘  │
//	│                                     │
//	│  ┌──────────────────────────────┐  │
//	│  │   Request Router              │  │
//	│  │   - Key → Shard mapping       │  │
//	│  │   - Load balancing            │  │
//	│  │   - Retry logic               │  │
//	│  └──────────────────────────────┘  │
//	│                                     │
//	│  ┌──────────────────────────────┐  │
//	│  │   State Broadcaster           │  │
//	│  │   - Cluster state propagation │  │
//	│  │   - Event notifications       │  │
//	│  │   - Configuration updates     │  │
//	│  └──────────────────────────────┘  │
//	│                                     │
//	└─────────────────────────────────────┘
//
// # Core Components
//
// ShardRegistry: Central registry of shard assignments
//   - Maps each shard ID to the node that owns it, flagged primary or
//     replica
//   - Routes keys by FNV-1a hash modulo the shard count (GetShardForKey,
//     GetNodeForKey)
//   - RebalanceShards reassigns every shard round-robin across a node list
//   - Thread-safe; hands out copies of its assignments
//
// HealthMonitor: Polls each node's /health endpoint
//   - Marks a node unhealthy after 3 consecutive failed checks
//   - Invokes the SetOnUnhealthy callback, which cmd/coordinator uses to
//     drop the node and rebalance shards
//
// TokenIssuer / RequireAdminHTTP: JWT bearer tokens signed with a shared
// secret (HS256), guarding the coordinator's admin endpoints
// (/register, /shards/assign)
//
// Request routing and broadcasting live in cmd/coordinator: handleData
// forwards each request once to the shard's owner, with no retry, load
// balancing, or replica failover, and handleBroadcast fans a payload out
// to every node concurrently.
//
// # Shard Distribution Strategy
//
// Keys map to shards by FNV-1a hash modulo the fixed shard count:
//
//	shard = fnv32a(key) % numShards
//
//	With 4 shards:
//	Key "user:123" → shard 0
//	Key "post:456" → shard 2
//
// Shard assignment:
// 1. A newly registered node gets unowned shards, round-robin over nodes
// 2. An unhealthy node triggers RebalanceShards over the remaining nodes
// 3. A rebalance can move most shards; there is no minimal movement
//
// # Request Routing Protocol
//
// cmd/coordinator's handleData routes each request in two steps:
//
// 1. Key Resolution:
//   - Hash the key to determine target shard
//   - Look up the shard's owning node; answer 503 if the shard has no
//     owner or the owner is not registered
//
// 2. Request Forwarding:
//   - Forward to <node>/shard/<id>/store/<key> with a 5s timeout
//   - Relay the node's status code (and body, for GET and PUT)
//   - Answer 502 if the node cannot be reached; there is no retry and no
//     failover to replicas
//
// # Concurrency and Synchronization
//
// The coordinator handles high concurrency through:
//
// Lock Granularity:
//   - Fine-grained locks per shard for updates
//   - Read-write locks for registry access
//   - Lock-free reads for immutable state
//
// Goroutine Patterns:
//   - Worker pools for parallel health checks
//   - Buffered channels for broadcast queue
//   - Context cancellation for request timeouts
//
// Consistency Guarantees:
//   - Linearizable reads from registry
//   - Eventually consistent broadcast propagation
//   - At-least-once delivery for state updates
//
// # Failure Scenarios and Recovery
//
// The coordinator handles various failure modes:
//
// Node Failures:
//   - Detection: Health check timeouts (3 strikes)
//   - Impact: Shards on failed node unavailable
//   - Recovery: Reassign shards to healthy nodes
//   - Future: Promote replicas to primaries
//
// Network Partitions:
//   - Detection: Partial health check failures
//   - Impact: Split-brain scenarios possible
//   - Recovery: Quorum-based decision making (future)
//   - Mitigation: Prefer availability over consistency
//
// Coordinator Failures:
//   - Detection: Client connection failures
//   - Impact: No new nodes can register
//   - Recovery: Manual restart required (current)
//   - Future: Standby coordinators with failover
//
// # Performance Characteristics
//
// Operation complexities:
//   - Node registration: O(s) where s = shards to assign
//   - Shard lookup: O(1) average, O(n) worst case
//   - Health check round: O(n) with n nodes (parallel)
//   - Broadcast: O(n*m) where m = message size
//   - Key routing: O(1) hash plus map lookup
//
// Scalability limits:
//   - Nodes: ~1000 (limited by broadcast overhead)
//   - Shards: ~10000 (limited by memory usage)
//   - Requests/sec: ~50000 (limited by routing CPU)
//   - Typical latency: <5ms for routing decision
//
// # Configuration
//
// Values cmd/coordinator uses (fixed in code, not configurable):
//
//	HealthCheckInterval: 10s    // Frequency of health probes
//	HealthCheckTimeout:  2s     // Timeout for each probe
//	MaxFailedChecks:     3      // Failures before node removal
//	BroadcastTimeout:    4s     // Timeout for state broadcasts
//	ShardCount:          4      // Total shards in cluster
//	ReplicationFactor:   3      // Copies per shard (future)
//
// # Usage Example
//
//	// A registry with 4 shards
//	registry := NewShardRegistry(4)
//
//	// Assign shard 0 to a node as primary
//	if err := registry.AssignShard(0, "node-1", true); err != nil {
//	    log.Printf("assign failed: %v", err)
//	}
//
//	// Route data requests
//	http.HandleFunc("/data/", func(w http.ResponseWriter, r *http.Request) {
//	    key := strings.TrimPrefix(r.URL.Path, "/data/")
//	    nodeID, err := registry.GetNodeForKey(key)
//	    if err != nil {
//	        http.Error(w, err.Error(), http.StatusServiceUnavailable)
//	        return
//	    }
//
//	    // Forward to the node's shard
//	    proxyRequest(nodeID, registry.GetShardForKey(key), r, w)
//	})
//
// # Monitoring and Observability
//
// The package records one OpenTelemetry counter,
// coordinator.shard_rebalances, incremented by each RebalanceShards call.
// Node health is reported through HealthMonitor.GetNodeHealth and the
// coordinator's /nodes endpoint rather than as metrics.
//
// # Limitations and Future Work
//
// Current limitations:
//   - Single coordinator (SPOF)
//   - Shards are rebalanced only when a node is declared unhealthy
//   - Missing replication support
//   - No transaction coordination
//   - Limited to single datacenter
//
// Roadmap:
//   - Implement Raft for coordinator HA
//   - Add automatic shard rebalancing
//   - Support configurable replication
//   - Implement 2PC for transactions
//   - Add cross-region support
//
// # See Also
//
// Related packages:
//   - internal/cluster: Core cluster types and communication
//   - internal/shard: Individual shard implementation
//   - cmd/coordinator: Coordinator server implementation
package coordinator
