// Package coordinator provides the cluster coordination server functionality.
// This file implements health monitoring for registered nodes in the cluster.
package coordinator

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/meshstore/internal/cluster"
	"github.com/dreamware/meshstore/internal/telemetry"
)

// NodeHealth tracks the health status of a single node in the cluster.
// It maintains the current status, last successful check time, and failure count.
// Thread-safe: Protected by HealthMonitor's mutex when accessed.
type NodeHealth struct {
	LastCheck        time.Time // Timestamp of the last health check attempt
	LastHealthy      time.Time // Timestamp of the last successful health check
	NodeID           string    // Unique identifier of the node
	Status           string    // Current status: "healthy", "unhealthy", "unknown"
	ConsecutiveFails int       // Number of consecutive failed health checks
}

// HealthMonitor performs periodic health checks on all registered nodes in the cluster.
// It tracks node health status and triggers shard redistribution when nodes fail.
// Thread-safe: All methods are safe for concurrent access.
type HealthMonitor struct {
	nodes       map[string]*NodeHealth  // Current health status per node
	httpClient  *http.Client            // HTTP client for health checks
	checkFunc   func(addr string) error // Function to perform health check
	onUnhealthy func(nodeID string)     // Callback when node becomes unhealthy
	ctx         context.Context         // Context for cancellation
	cancel      context.CancelFunc      // Cancel function for shutdown
	interval    time.Duration           // How often to check node health
	timeout     time.Duration           // HTTP timeout for health checks
	mu          sync.RWMutex            // Protects nodes map
	wg          sync.WaitGroup          // Wait group for graceful shutdown
	maxFailures int                     // Failures before marking unhealthy
	log         *zap.Logger
}

// NewHealthMonitor creates a new health monitor with the specified check interval.
// The monitor will check each node's /health endpoint every interval.
// Nodes are marked unhealthy after 3 consecutive failures. log may be nil.
//
// Example:
//
//	monitor := NewHealthMonitor(5 * time.Second, logger)
//	go monitor.Start(ctx, nodeProvider)
func NewHealthMonitor(interval time.Duration, log *zap.Logger) *HealthMonitor {
	ctx, cancel := context.WithCancel(context.Background())

	return &HealthMonitor{
		interval:    interval,
		timeout:     2 * time.Second,
		maxFailures: 3,
		nodes:       make(map[string]*NodeHealth),
		httpClient: &http.Client{
			Timeout: 2 * time.Second,
		},
		ctx:    ctx,
		cancel: cancel,
		log:    telemetry.OrNop(log).Named("health_monitor"),
	}
}

// SetOnUnhealthy sets the callback function to be invoked when a node becomes unhealthy.
// This is typically used to trigger shard redistribution.
func (h *HealthMonitor) SetOnUnhealthy(callback func(nodeID string)) {
	h.onUnhealthy = callback
}

// Start begins the health monitoring process in the current goroutine.
// It periodically checks all nodes provided by the nodeProvider function.
// This method blocks until the context is canceled.
func (h *HealthMonitor) Start(ctx context.Context, nodeProvider func() []cluster.NodeInfo) {
	h.wg.Add(1)
	defer h.wg.Done()

	if ctx == nil {
		ctx = h.ctx
	}

	if h.checkFunc == nil {
		h.checkFunc = h.defaultHealthCheck
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.log.Info("health monitor started", zap.Duration("interval", h.interval))

	h.checkAllNodes(nodeProvider())

	for {
		select {
		case <-ticker.C:
			h.checkAllNodes(nodeProvider())
		case <-ctx.Done():
			h.log.Info("health monitor stopping", zap.String("cause", "context canceled"))
			return
		case <-h.ctx.Done():
			h.log.Info("health monitor stopping", zap.String("cause", "internal cancel"))
			return
		}
	}
}

// Stop gracefully shuts down the health monitor.
func (h *HealthMonitor) Stop() {
	h.cancel()
	h.wg.Wait()
	h.log.Info("health monitor stopped")
}

// checkAllNodes performs health checks on all provided nodes, then prunes
// tracking entries for nodes no longer in the cluster.
func (h *HealthMonitor) checkAllNodes(nodes []cluster.NodeInfo) {
	currentNodes := make(map[string]bool)

	for _, node := range nodes {
		currentNodes[node.ID] = true
		h.checkNode(node)
	}

	h.mu.Lock()
	for nodeID := range h.nodes {
		if !currentNodes[nodeID] {
			delete(h.nodes, nodeID)
			h.log.Debug("removed node from health monitoring", zap.String("node_id", nodeID))
		}
	}
	h.mu.Unlock()
}

// checkNode performs a health check on a single node and updates its
// tracked status, triggering onUnhealthy on a threshold-crossing state
// change.
func (h *HealthMonitor) checkNode(node cluster.NodeInfo) {
	h.mu.Lock()
	health, exists := h.nodes[node.ID]
	if !exists {
		health = &NodeHealth{
			NodeID:      node.ID,
			Status:      "unknown",
			LastCheck:   time.Now(),
			LastHealthy: time.Now(),
		}
		h.nodes[node.ID] = health
	}
	h.mu.Unlock()

	err := h.checkFunc(node.Addr)

	h.mu.Lock()
	defer h.mu.Unlock()

	health.LastCheck = time.Now()

	if err != nil {
		health.ConsecutiveFails++
		h.log.Warn("health check failed",
			zap.String("node_id", node.ID),
			zap.Int("attempt", health.ConsecutiveFails),
			zap.Int("max_failures", h.maxFailures),
			zap.Error(err))

		if health.ConsecutiveFails >= h.maxFailures {
			previousStatus := health.Status
			health.Status = "unhealthy"

			if previousStatus != "unhealthy" && h.onUnhealthy != nil {
				h.log.Warn("node marked unhealthy",
					zap.String("node_id", node.ID),
					zap.Int("consecutive_fails", health.ConsecutiveFails))
				go h.onUnhealthy(node.ID)
			}
		}
	} else {
		if health.Status == "unhealthy" {
			h.log.Info("node recovered", zap.String("node_id", node.ID))
		}
		health.Status = "healthy"
		health.ConsecutiveFails = 0
		health.LastHealthy = time.Now()
	}
}

// defaultHealthCheck performs an HTTP GET request to the node's /health endpoint.
func (h *HealthMonitor) defaultHealthCheck(addr string) error {
	url := addr
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		url = fmt.Sprintf("http://%s", addr)
	}
	if !strings.HasSuffix(url, "/health") {
		url = strings.TrimRight(url, "/") + "/health"
	}

	resp, err := h.httpClient.Get(url)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// GetNodeHealth returns the current health status of a specific node.
// Returns nil if the node is not being monitored.
func (h *HealthMonitor) GetNodeHealth(nodeID string) *NodeHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health, exists := h.nodes[nodeID]
	if !exists {
		return nil
	}

	return &NodeHealth{
		NodeID:           health.NodeID,
		Status:           health.Status,
		LastCheck:        health.LastCheck,
		LastHealthy:      health.LastHealthy,
		ConsecutiveFails: health.ConsecutiveFails,
	}
}

// GetAllNodeHealth returns the health status of all monitored nodes.
func (h *HealthMonitor) GetAllNodeHealth() map[string]*NodeHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make(map[string]*NodeHealth)
	for id, health := range h.nodes {
		result[id] = &NodeHealth{
			NodeID:           health.NodeID,
			Status:           health.Status,
			LastCheck:        health.LastCheck,
			LastHealthy:      health.LastHealthy,
			ConsecutiveFails: health.ConsecutiveFails,
		}
	}

	return result
}

// IsHealthy returns whether a specific node is currently healthy.
func (h *HealthMonitor) IsHealthy(nodeID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health, exists := h.nodes[nodeID]
	if !exists {
		return false
	}

	return health.Status == "healthy"
}

// SetCheckFunction allows overriding the default health check function.
// Useful for testing or custom health check implementations.
func (h *HealthMonitor) SetCheckFunction(checkFunc func(addr string) error) {
	h.checkFunc = checkFunc
}
