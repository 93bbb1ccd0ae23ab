package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/dreamware/meshstore/internal/cluster"
	"github.com/dreamware/meshstore/internal/coordinator"
	"github.com/dreamware/meshstore/internal/telemetry"
)

func main() {
	log := telemetry.NewLogger("coordinator")
	defer log.Sync()

	shutdownMetrics, err := telemetry.SetupMeterProvider(context.Background(), os.Getenv("MESHSTORE_OTLP_ENDPOINT"))
	if err != nil {
		log.Fatal("failed to set up metrics", zap.Error(err))
	}
	defer shutdownMetrics(context.Background())

	addr := getenv("COORDINATOR_ADDR", ":8080")
	adminAddr := getenv("COORDINATOR_ADMIN_ADDR", ":8090")
	adminSecret := []byte(getenv("COORDINATOR_ADMIN_SECRET", "dev-only-insecure-secret"))

	srv := newServer()
	srv.log = log
	srv.registry.SetLogger(log)
	issuer := coordinator.NewTokenIssuer(adminSecret, time.Hour)

	healthInterval := 10 * time.Second
	srv.health = coordinator.NewHealthMonitor(healthInterval, log)
	srv.health.SetOnUnhealthy(srv.handleNodeUnhealthy)

	mux := http.NewServeMux()
	mux.HandleFunc("/register", coordinator.RequireAdminHTTP(adminSecret, srv.handleRegister))
	mux.HandleFunc("/nodes", srv.handleListNodes)
	mux.HandleFunc("/broadcast", srv.handleBroadcast)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	// Data routing endpoints
	mux.HandleFunc("/data/", srv.handleData)
	// Shard management endpoints
	mux.HandleFunc("/shards", srv.handleShards)
	mux.HandleFunc("/shards/assign", coordinator.RequireAdminHTTP(adminSecret, srv.handleShardAssign))

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	go runAdminServer(ctx, adminAddr, newAdminEngine(srv, issuer, adminSecret, log), log)
	go srv.health.Start(ctx, srv.nodeSnapshot)

	go func() {
		log.Info("coordinator listening", zap.String("addr", addr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("listen failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	cancel()
	srv.health.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	log.Info("coordinator stopped")
}

type server struct {
	mu       sync.RWMutex
	nodes    []cluster.NodeInfo
	registry *coordinator.ShardRegistry
	health   *coordinator.HealthMonitor
	log      *zap.Logger
}

func newServer() *server {
	// Start with 4 shards by default (can be made configurable later)
	return &server{
		registry: coordinator.NewShardRegistry(4),
		health:   coordinator.NewHealthMonitor(10*time.Second, nil),
		log:      telemetry.Nop(),
	}
}

// nodeSnapshot returns a stable copy of the registered nodes for the
// health monitor's polling loop, which must not read s.nodes directly
// while holding no lock of its own.
func (s *server) nodeSnapshot() []cluster.NodeInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]cluster.NodeInfo(nil), s.nodes...)
}

// handleNodeUnhealthy is the health monitor's callback for a node that
// has crossed the consecutive-failure threshold: it drops the node from
// the registered set and rebalances shards across whatever remains, so
// a crashed node's shards don't sit stuck pointing at a dead address.
func (s *server) handleNodeUnhealthy(nodeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := slices.IndexFunc(s.nodes, func(n cluster.NodeInfo) bool { return n.ID == nodeID })
	if idx < 0 {
		return
	}
	s.nodes = append(s.nodes[:idx], s.nodes[idx+1:]...)

	if len(s.nodes) == 0 {
		s.log.Warn("last node went unhealthy, shards unassigned", zap.String("node_id", nodeID))
		return
	}

	remaining := make([]string, len(s.nodes))
	for i, n := range s.nodes {
		remaining[i] = n.ID
	}
	if err := s.registry.RebalanceShards(remaining); err != nil {
		s.log.Warn("rebalance after unhealthy node failed", zap.String("node_id", nodeID), zap.Error(err))
		return
	}
	s.log.Info("rebalanced shards after unhealthy node", zap.String("node_id", nodeID), zap.Int("remaining_nodes", len(s.nodes)))
}

func (s *server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req cluster.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.Node.ID == "" || req.Node.Addr == "" {
		http.Error(w, "missing id/addr", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := slices.IndexFunc(s.nodes, func(n cluster.NodeInfo) bool { return n.ID == req.Node.ID })
	if idx >= 0 {
		s.nodes[idx] = req.Node
	} else {
		s.nodes = append(s.nodes, req.Node)
		// Auto-assign shards to new nodes (simple round-robin for now)
		s.autoAssignShards()
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	nodes := append([]cluster.NodeInfo(nil), s.nodes...)
	s.mu.RUnlock()

	for i := range nodes {
		if health := s.health.GetNodeHealth(nodes[i].ID); health != nil {
			nodes[i].HealthStatus = health.Status
			nodes[i].LastHealthCheck = health.LastCheck
		}
	}

	_ = json.NewEncoder(w).Encode(struct {
		Nodes []cluster.NodeInfo `json:"nodes"`
	}{Nodes: nodes})
}

// handleBroadcast fans a payload out to every registered node
// concurrently. The teacher's original implementation sent these one
// node at a time, so total latency scaled with cluster size; each node
// is now dialed in its own goroutine and results are collected as they
// arrive.
func (s *server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req cluster.BroadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.Path == "" || req.Path[0] != '/' {
		http.Error(w, "path must start with '/'", http.StatusBadRequest)
		return
	}

	s.mu.RLock()
	targets := append([]cluster.NodeInfo(nil), s.nodes...)
	s.mu.RUnlock()

	type result struct {
		NodeID string `json:"node_id"`
		Err    string `json:"err,omitempty"`
	}
	out := make([]result, len(targets))

	ctx, cancel := context.WithTimeout(r.Context(), 4*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(len(targets))
	for i, n := range targets {
		go func(i int, n cluster.NodeInfo) {
			defer wg.Done()
			url := n.Addr + req.Path
			res := result{NodeID: n.ID}
			if err := cluster.PostJSON(ctx, url, req.Payload, nil); err != nil {
				res.Err = err.Error()
			}
			out[i] = res
		}(i, n)
	}
	wg.Wait()

	_ = json.NewEncoder(w).Encode(struct {
		SentTo  int      `json:"sent_to"`
		Results []result `json:"results"`
	}{SentTo: len(targets), Results: out})
}

// handleData routes data operations to the appropriate shard/node
func (s *server) handleData(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodPut, http.MethodDelete:
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Extract key from path: /data/{key}
	var key string
	if len(r.URL.Path) > len("/data/") {
		key = r.URL.Path[len("/data/"):]
	}
	if key == "" {
		http.Error(w, "key required", http.StatusBadRequest)
		return
	}

	// Find which node owns this key
	nodeID, err := s.registry.GetNodeForKey(key)
	if err != nil {
		http.Error(w, fmt.Sprintf("no node assigned for key: %v", err), http.StatusServiceUnavailable)
		return
	}

	// Find the node's address
	s.mu.RLock()
	var nodeAddr string
	for _, node := range s.nodes {
		if node.ID == nodeID {
			nodeAddr = node.Addr
			break
		}
	}
	s.mu.RUnlock()

	if nodeAddr == "" {
		http.Error(w, fmt.Sprintf("node %s not found", nodeID), http.StatusServiceUnavailable)
		return
	}

	// Determine which shard owns this key
	shardID := s.registry.GetShardForKey(key)

	// Forward the request to the node's shard
	targetURL := fmt.Sprintf("%s/shard/%d/store/%s", nodeAddr, shardID, key)

	switch r.Method {
	case http.MethodGet:
		s.forwardGet(targetURL, w, r)
	case http.MethodPut:
		s.forwardPut(targetURL, w, r)
	case http.MethodDelete:
		s.forwardDelete(targetURL, w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// forwardGet forwards a GET request to a node
func (s *server) forwardGet(targetURL string, w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		http.Error(w, "failed to create request", http.StatusInternalServerError)
		return
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to forward request: %v", err), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	// Copy response back to client
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

// forwardPut forwards a PUT request to a node
func (s *server) forwardPut(targetURL string, w http.ResponseWriter, r *http.Request) {
	// Read body
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, targetURL, bytes.NewReader(body))
	if err != nil {
		http.Error(w, "failed to create request", http.StatusInternalServerError)
		return
	}
	if ct := r.Header.Get("Content-Type"); ct != "" {
		req.Header.Set("Content-Type", ct)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to forward request: %v", err), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	// Copy response back to client
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

// forwardDelete forwards a DELETE request to a node
func (s *server) forwardDelete(targetURL string, w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, targetURL, nil)
	if err != nil {
		http.Error(w, "failed to create request", http.StatusInternalServerError)
		return
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to forward request: %v", err), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	// Copy response back to client
	w.WriteHeader(resp.StatusCode)
}

// handleShards returns current shard assignments
func (s *server) handleShards(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	assignments := s.registry.GetAllAssignments()

	response := struct {
		Shards    []*coordinator.ShardAssignment `json:"shards"`
		NumShards int                            `json:"num_shards"`
	}{
		Shards:    assignments,
		NumShards: s.registry.NumShards(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleShardAssign manually assigns a shard to a node (admin operation)
func (s *server) handleShardAssign(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ShardID   int    `json:"shard_id"`
		NodeID    string `json:"node_id"`
		IsPrimary bool   `json:"is_primary"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	s.mu.RLock()
	known := slices.IndexFunc(s.nodes, func(n cluster.NodeInfo) bool { return n.ID == req.NodeID }) >= 0
	s.mu.RUnlock()
	if !known {
		http.Error(w, fmt.Sprintf("node %q is not registered", req.NodeID), http.StatusBadRequest)
		return
	}

	if err := s.registry.AssignShard(req.ShardID, req.NodeID, req.IsPrimary); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// autoAssignShards automatically assigns unassigned shards to nodes
// This is a simple round-robin assignment for now
func (s *server) autoAssignShards() {
	if len(s.nodes) == 0 {
		return
	}

	// Get all current assignments
	assignments := s.registry.GetAllAssignments()
	assignedShards := make(map[int]bool)
	for _, a := range assignments {
		assignedShards[a.ShardID] = true
	}

	// Assign any unassigned shards
	nodeIndex := 0
	for shardID := 0; shardID < s.registry.NumShards(); shardID++ {
		if !assignedShards[shardID] {
			nodeID := s.nodes[nodeIndex].ID
			s.registry.AssignShard(shardID, nodeID, true)
			s.log.Debug("auto-assigned shard", zap.Int("shard_id", shardID), zap.String("node_id", nodeID))
			nodeIndex = (nodeIndex + 1) % len(s.nodes)
		}
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
