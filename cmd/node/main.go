// Package main implements the meshstore node service, which manages data
// storage shards and handles distributed storage operations as part of the
// cluster.
//
// The node is a worker in the meshstore distributed system, responsible for:
//   - Managing assigned storage shards
//   - Executing data operations (GET, PUT, DELETE)
//   - Registering with the coordinator
//   - Responding to health checks
//   - Creating shards on-demand when requests arrive
//
// Architecture:
//
//	┌─────────────────────────────────────────┐
//	│                Node                      │
//	├─────────────────────────────────────────┤
//	│  HTTP API:                              │
//	│    /health       - Health check         │
//	│    /control      - Control messages     │
//	│    /shard/*      - Shard operations     │
//	│    /info         - Node information     │
//	├─────────────────────────────────────────┤
//	│  Components:                            │
//	│    Node          - Runtime state        │
//	│    shards map    - Active shards        │
//	│    Registration  - Coordinator link     │
//	└─────────────────────────────────────────┘
//
// Configuration:
//   - NODE_ID: Unique node identifier (required)
//   - NODE_LISTEN: Listen address (default: ":8081")
//   - NODE_ADDR: Public address for coordinator (default: "http://127.0.0.1:8081")
//   - COORDINATOR_ADDR: Coordinator URL (required)
//   - NODE_REGISTRATION_SECRET: shared secret used to mint the registration
//     bearer token; must match the coordinator's COORDINATOR_ADMIN_SECRET
//   - NODE_REDIS_ADDR: optional Redis address backing this node's shards
//   - NODE_SNAPSHOT_BUCKET: optional S3-compatible bucket for periodic shard snapshots
//
// Example usage:
//
//	# Start node
//	NODE_ID=node-1 \
//	NODE_LISTEN=:8081 \
//	NODE_ADDR=http://localhost:8081 \
//	COORDINATOR_ADDR=http://localhost:8080 \
//	./node
//
//	# Store data (through coordinator)
//	curl -X PUT localhost:8080/data/user:123 \
//	  -d '{"name":"Alice","age":30}'
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dreamware/meshstore/internal/cluster"
	"github.com/dreamware/meshstore/internal/coordinator"
	"github.com/dreamware/meshstore/internal/shard"
	"github.com/dreamware/meshstore/internal/storage"
	"github.com/dreamware/meshstore/internal/telemetry"
)

// logFatal is a variable to allow mocking log.Fatal in tests.
// This indirection enables test code to intercept fatal errors
// without actually terminating the test process.
var logFatal = func(format string, v ...interface{}) {
	nodeLog.Sugar().Fatalf(format, v...)
}

// nodeLog is the package-wide structured logger. main() replaces it with
// a real sink; it defaults to a no-op so handlers stay callable directly
// from tests without a prior main() call.
var nodeLog = telemetry.Nop()

// Node is a storage worker: it owns zero or more shards, created
// on-demand when the coordinator first routes a request to them, and
// serves GET/PUT/DELETE against whichever storage backend configureStorage
// wired up for it.
type Node struct {
	shards map[int]*shard.Shard
	ID     string

	mu sync.RWMutex

	// shardFactory builds a shard for on-demand creation. nil means the
	// teacher's default: an in-memory-backed primary shard.
	shardFactory func(id int) *shard.Shard

	// snapshotter, when set, periodically persists every shard added to
	// this node to S3-compatible storage and restores it on creation.
	snapshotter      *storage.Snapshotter
	snapshotInterval time.Duration
	snapshotCancel   []context.CancelFunc
	snapshotWG       sync.WaitGroup
}

// newShardOnDemand creates the shard this node should use for id,
// honoring a configured storage backend if one was set.
func (n *Node) newShardOnDemand(id int) *shard.Shard {
	if n.shardFactory != nil {
		return n.shardFactory(id)
	}
	return shard.NewShard(id, true)
}

// NewNode creates a node with no shards; they're added via AddShard or
// created lazily by newShardOnDemand as requests arrive.
func NewNode(id string) *Node {
	return &Node{
		ID:     id,
		shards: make(map[int]*shard.Shard),
	}
}

// AddShard registers s under the node, overwriting any existing shard
// with the same ID, and restores/starts its snapshot loop if a
// snapshotter is configured.
func (n *Node) AddShard(s *shard.Shard) {
	n.mu.Lock()
	n.shards[s.ID] = s
	snapshotter, interval := n.snapshotter, n.snapshotInterval
	n.mu.Unlock()

	if snapshotter == nil {
		return
	}

	if err := snapshotter.Restore(context.Background(), s.ID, s.Store); err != nil {
		nodeLog.Warn("snapshot restore failed", zap.Int("shard_id", s.ID), zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	n.mu.Lock()
	n.snapshotCancel = append(n.snapshotCancel, cancel)
	n.mu.Unlock()

	n.snapshotWG.Add(1)
	go func() {
		defer n.snapshotWG.Done()
		snapshotter.RunPeriodicSnapshots(ctx, s.ID, s.Store, interval, func(err error) {
			nodeLog.Warn("snapshot save failed", zap.Int("shard_id", s.ID), zap.Error(err))
		})
	}()
}

// StopSnapshots cancels every running per-shard snapshot loop and waits
// for each to take its final save before returning. Call during graceful
// shutdown so shard state isn't lost between the last periodic snapshot
// and process exit.
func (n *Node) StopSnapshots() {
	n.mu.Lock()
	cancels := n.snapshotCancel
	n.snapshotCancel = nil
	n.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	n.snapshotWG.Wait()
}

// GetShard returns the shard with the given ID, or nil if this node
// doesn't have it.
func (n *Node) GetShard(id int) *shard.Shard {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.shards[id]
}

// main initializes and runs the node service, registering with the coordinator
// and serving shard operations until shutdown.
//
// The main function:
//  1. Reads configuration from environment variables
//  2. Creates node instance with shard management
//  3. Sets up HTTP endpoints for operations
//  4. Registers with coordinator (with retries)
//  5. Serves requests until shutdown signal
//  6. Performs graceful shutdown
//
// Required environment:
//   - NODE_ID: Unique identifier for this node
//   - COORDINATOR_ADDR: URL of coordinator service
//
// Optional environment:
//   - NODE_LISTEN: Local listen address (default: ":8081")
//   - NODE_ADDR: Public address for coordinator (default: "http://127.0.0.1:8081")
//
// Exit codes:
//   - 0: Normal shutdown via signal
//   - 1: Missing required configuration
//   - 1: Failed to register with coordinator
//   - 1: Failed to start HTTP server
func main() {
	nodeLog = telemetry.NewLogger("node")
	defer nodeLog.Sync()

	// Read required configuration
	nodeID := mustGetenv("NODE_ID")
	listen := getenv("NODE_LISTEN", ":8081")
	public := getenv("NODE_ADDR", "http://127.0.0.1:8081")
	coord := mustGetenv("COORDINATOR_ADDR")

	// Create node with shard management
	node := NewNode(nodeID)
	configureStorage(node, nodeID)

	// Shards will be created on-demand when coordinator routes requests
	// This avoids the need for explicit shard assignment protocol
	nodeLog.Info("node initialized, shards created on demand", zap.String("node_id", nodeID))

	// Configure HTTP routes
	mux := http.NewServeMux()

	// Health check endpoint for monitoring
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// Control endpoint for coordinator commands
	mux.HandleFunc("/control", handleControl)

	// Shard storage endpoints for data operations
	// Path: /shard/{shardID}/store/{key}
	mux.HandleFunc("/shard/", func(w http.ResponseWriter, r *http.Request) {
		handleShardRequest(node, w, r)
	})

	// Node info endpoint for debugging and monitoring
	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		handleNodeInfo(node, w, r)
	})

	// Configure HTTP server with security timeouts
	s := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second, // Prevent slowloris attacks
	}

	// Start server in goroutine for non-blocking operation
	go func() {
		nodeLog.Info("node listening", zap.String("node_id", nodeID), zap.String("listen", listen), zap.String("public", public))
		if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logFatal("listen: %v", err)
		}
	}()

	// Register with coordinator (with retries)
	ctx := context.Background()
	register(ctx, coord, nodeID, public)

	// Set up signal handling for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	// Wait for shutdown signal
	<-stop

	// Stop periodic snapshots first so the final save below has a quiet
	// store to read from.
	node.StopSnapshots()

	// Initiate graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		nodeLog.Warn("server shutdown error", zap.Error(err))
	}
	nodeLog.Info("node stopped")
}

// configureStorage wires an alternate storage backend and/or snapshotting
// onto node based on environment configuration, leaving it untouched (the
// teacher's plain in-memory, non-durable shards) when neither is set.
//
// Optional environment:
//   - NODE_REDIS_ADDR: Redis address backing every shard on this node
//   - NODE_MAX_SHARD_BYTES: caps each in-memory shard's size when NODE_REDIS_ADDR is unset
//   - NODE_SNAPSHOT_BUCKET: S3-compatible bucket for periodic snapshots
//   - NODE_SNAPSHOT_REGION: region for the snapshot bucket (default "us-east-1")
//   - NODE_SNAPSHOT_ENDPOINT: S3-compatible endpoint override (self-hosted object stores)
//   - NODE_SNAPSHOT_INTERVAL_SECONDS: seconds between snapshots (default 30)
func configureStorage(node *Node, nodeID string) {
	switch {
	case os.Getenv("NODE_REDIS_ADDR") != "":
		redisAddr := os.Getenv("NODE_REDIS_ADDR")
		client := redis.NewClient(&redis.Options{Addr: redisAddr})
		node.shardFactory = func(id int) *shard.Shard {
			prefix := fmt.Sprintf("node-%s-shard-%d:", nodeID, id)
			store := storage.NewRedisStore(client, prefix, 3*time.Second)
			return shard.NewShardWithStore(id, true, store)
		}
		nodeLog.Info("shard storage backed by redis", zap.String("addr", redisAddr))

	case os.Getenv("NODE_MAX_SHARD_BYTES") != "":
		maxBytes, err := strconv.Atoi(os.Getenv("NODE_MAX_SHARD_BYTES"))
		if err != nil || maxBytes <= 0 {
			nodeLog.Warn("ignoring invalid NODE_MAX_SHARD_BYTES", zap.String("value", os.Getenv("NODE_MAX_SHARD_BYTES")))
			break
		}
		node.shardFactory = func(id int) *shard.Shard {
			return shard.NewShardWithStore(id, true, storage.NewBoundedMemoryStore(maxBytes))
		}
		nodeLog.Info("shard storage capped", zap.Int("max_bytes", maxBytes))
	}

	bucket := os.Getenv("NODE_SNAPSHOT_BUCKET")
	if bucket == "" {
		return
	}

	snapshotter, err := storage.NewSnapshotter(context.Background(), storage.SnapshotterConfig{
		Bucket:   bucket,
		Region:   getenv("NODE_SNAPSHOT_REGION", "us-east-1"),
		Endpoint: os.Getenv("NODE_SNAPSHOT_ENDPOINT"),
	})
	if err != nil {
		nodeLog.Warn("snapshotting disabled, failed to build s3 client", zap.Error(err))
		return
	}

	interval := 30 * time.Second
	if raw := os.Getenv("NODE_SNAPSHOT_INTERVAL_SECONDS"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			interval = time.Duration(secs) * time.Second
		}
	}

	node.mu.Lock()
	node.snapshotter = snapshotter
	node.snapshotInterval = interval
	node.mu.Unlock()
	nodeLog.Info("shard snapshotting enabled", zap.String("bucket", bucket), zap.Duration("interval", interval))
}

// register attempts to register the node with the coordinator, retrying on
// failure to handle coordinator startup delays or temporary network issues.
//
// Registration process:
//  1. Sends node ID and public address to coordinator
//  2. Makes up to 10 attempts with exponential backoff
//  3. Logs success or terminates on persistent failure
//  4. Enables coordinator to route requests to this node
//
// Retry strategy:
//   - 10 attempts maximum, exponential backoff between them
//   - Fatal error if all attempts fail
//
// Parameters:
//   - ctx: Context for cancellation
//   - coord: Coordinator base URL
//   - id: Node's unique identifier
//   - addr: Node's public address for incoming requests
//
// Side effects:
//   - Logs registration attempts and results
//   - Terminates process on persistent failure
//
// Error handling:
//   - Network errors trigger retry
//   - 4xx/5xx responses trigger retry
//   - Persistent failure is fatal (node can't operate without registration)
func register(ctx context.Context, coord, id, addr string) {
	body := cluster.RegisterRequest{Node: cluster.NodeInfo{ID: id, Addr: addr}}

	// The coordinator's /register endpoint requires an admin bearer
	// token. Nodes mint their own against the same pre-shared secret the
	// coordinator validates against, rather than going through the
	// admin token-issuance surface meant for human operators.
	secret := []byte(getenv("NODE_REGISTRATION_SECRET", "dev-only-insecure-secret"))
	token, err := coordinator.NewTokenIssuer(secret, 5*time.Minute).Issue(id)
	if err != nil {
		logFatal("failed to mint registration token: %v", err)
		return
	}
	headers := map[string]string{"Authorization": "Bearer " + token}

	attempt := 0
	op := func() (struct{}, error) {
		attempt++
		if err := cluster.PostJSON(ctx, coord+"/register", body, nil, headers); err != nil {
			nodeLog.Warn("register retry", zap.Int("attempt", attempt), zap.Error(err))
			return struct{}{}, fmt.Errorf("register with %s: %w", coord, err)
		}
		return struct{}{}, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond

	_, err = backoff.Retry(ctx, op,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(10),
	)
	if err != nil {
		// Node cannot operate without coordinator registration.
		logFatal("failed to register with coordinator: %v", err)
		return
	}
	nodeLog.Info("registered with coordinator", zap.String("coordinator", coord))
}

// handleControl accepts POST /control payloads from the coordinator. It
// only logs and acknowledges today; there's no control command that
// needs acting on yet.
func handleControl(w http.ResponseWriter, r *http.Request) {
	// Read entire body for logging
	var raw bytes.Buffer
	if _, err := raw.ReadFrom(r.Body); err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}

	// Log control message for debugging
	// Future: Parse and act on control commands
	nodeLog.Debug("control payload", zap.ByteString("payload", raw.Bytes()))

	// Acknowledge receipt
	w.WriteHeader(http.StatusNoContent)
}

// handleShardRequest routes /shard/{shardID}/store[/{key}] and
// /shard/{shardID}/stats. A shard that doesn't exist yet is created on
// first request rather than requiring an explicit assignment call first.
func handleShardRequest(node *Node, w http.ResponseWriter, r *http.Request) {
	// Parse path: /shard/{shardID}/store/{key}
	pathWithoutPrefix := strings.TrimPrefix(r.URL.Path, "/shard/")

	// Find the first slash to separate shardID from the rest
	firstSlash := strings.Index(pathWithoutPrefix, "/")
	if firstSlash == -1 {
		http.Error(w, "invalid path format", http.StatusBadRequest)
		return
	}

	// Parse shard ID from path
	shardIDStr := pathWithoutPrefix[:firstSlash]
	remainingPath := pathWithoutPrefix[firstSlash+1:]

	shardID, err := strconv.Atoi(shardIDStr)
	if err != nil {
		http.Error(w, "invalid shard ID", http.StatusBadRequest)
		return
	}

	// Get or create the shard on demand
	// This workaround handles the lack of explicit shard assignment protocol
	s := node.GetShard(shardID)
	if s == nil {
		// Create shard on demand when coordinator routes to it
		// This ensures nodes can handle requests immediately without
		// waiting for explicit shard assignment from coordinator
		nodeLog.Debug("creating shard on demand", zap.Int("shard_id", shardID))
		newShard := node.newShardOnDemand(shardID)
		node.AddShard(newShard)
		s = newShard
	}

	// Route to appropriate handler based on path
	if strings.HasPrefix(remainingPath, "store") {
		storePath := strings.TrimPrefix(remainingPath, "store")
		if storePath == "" || storePath == "/" {
			// List keys: GET /shard/{shardID}/store
			if r.Method == http.MethodGet {
				handleListKeys(s, w, r)
				return
			}
		} else if strings.HasPrefix(storePath, "/") {
			// Key operations: /shard/{shardID}/store/{key}
			key := strings.TrimPrefix(storePath, "/")
			switch r.Method {
			case http.MethodGet:
				handleGet(s, key, w, r)
			case http.MethodPut:
				handlePut(s, key, w, r)
			case http.MethodDelete:
				handleDelete(s, key, w, r)
			default:
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			}
			return
		}
	} else if remainingPath == "stats" {
		// Stats: GET /shard/{shardID}/stats
		if r.Method == http.MethodGet {
			handleShardStats(s, w, r)
			return
		}
	}

	http.Error(w, "not found", http.StatusNotFound)
}

// handleGet returns a key's raw bytes, or 404 if it isn't present.
func handleGet(s *shard.Shard, key string, w http.ResponseWriter, _ *http.Request) {
	value, err := s.Get(key)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			http.Error(w, "key not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := w.Write(value); err != nil {
		nodeLog.Warn("error writing response", zap.Error(err))
	}
}

// handlePut stores the request body as key's value, overwriting any
// existing value. A bounded store rejects this with 500 and
// storage.ErrValueTooLarge's message once the shard is full.
func handlePut(s *shard.Shard, key string, w http.ResponseWriter, r *http.Request) {
	// Read body
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r.Body); err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	// Store the value
	if err := s.Put(key, buf.Bytes()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleDelete removes a key. Deleting a key that doesn't exist still
// succeeds; there are no tombstones to clean up later.
func handleDelete(s *shard.Shard, key string, w http.ResponseWriter, _ *http.Request) {
	if err := s.Delete(key); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleListKeys returns every key in the shard. No pagination — fine for
// the shard sizes this runs at, but would need one before very large
// shards made this response expensive.
func handleListKeys(s *shard.Shard, w http.ResponseWriter, _ *http.Request) {
	keys := s.ListKeys()

	response := struct {
		Keys  []string `json:"keys"`
		Count int      `json:"count"`
	}{
		Keys:  keys,
		Count: len(keys),
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

// handleShardStats reports cumulative op counts and storage size for the
// shard, for capacity planning and spotting hot shards.
func handleShardStats(s *shard.Shard, w http.ResponseWriter, r *http.Request) {
	stats := s.GetStats()

	response := struct {
		ShardID int                  `json:"shard_id"`
		Ops     shard.OperationStats `json:"operations"`
		Storage struct {
			Keys  int `json:"keys"`
			Bytes int `json:"bytes"`
		} `json:"storage"`
	}{
		ShardID: s.ID,
		Ops:     stats.Ops,
		Storage: struct {
			Keys  int `json:"keys"`
			Bytes int `json:"bytes"`
		}{
			Keys:  stats.Storage.Keys,
			Bytes: stats.Storage.Bytes,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

// handleNodeInfo reports the node's ID and per-shard info (role, state,
// key/byte counts) — what a coordinator or operator dashboard polls to
// see this node's current shard distribution.
func handleNodeInfo(node *Node, w http.ResponseWriter, r *http.Request) {
	node.mu.RLock()
	defer node.mu.RUnlock()

	shardInfos := make([]shard.ShardInfo, 0, len(node.shards))
	for _, s := range node.shards {
		shardInfos = append(shardInfos, s.Info())
	}

	response := struct {
		NodeID string            `json:"node_id"`
		Shards []shard.ShardInfo `json:"shards"`
		Count  int               `json:"shard_count"`
	}{
		NodeID: node.ID,
		Shards: shardInfos,
		Count:  len(shardInfos),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// mustGetenv terminates the process if k isn't set — for config the node
// can't run without, like its ID or the coordinator's address.
func mustGetenv(k string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	logFatal("missing env %s", k)
	return ""
}
