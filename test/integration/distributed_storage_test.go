package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"testing"
	"time"
)

// testAdminSecret is the shared secret the test harness hands to both the
// coordinator and its nodes, standing in for COORDINATOR_ADMIN_SECRET /
// NODE_REGISTRATION_SECRET in production. Using a value distinct from the
// "dev-only-insecure-secret" default means a test node that's missing the
// env var (or carries a stale one) fails registration instead of silently
// passing because both sides happened to fall back to the same default.
const testAdminSecret = "integration-test-shared-secret"

// TestSystem represents our distributed system under test
type TestSystem struct {
	t          *testing.T
	coord      *exec.Cmd
	nodes      []*exec.Cmd
	coordAddr  string
	nodeAddrs  []string
	httpClient *http.Client
}

// NewTestSystem creates a new test system with coordinator and nodes
func NewTestSystem(t *testing.T) *TestSystem {
	return &TestSystem{
		t:         t,
		coordAddr: "http://127.0.0.1:18080", // Use high ports to avoid conflicts
		nodeAddrs: []string{
			"http://127.0.0.1:18081",
			"http://127.0.0.1:18082",
		},
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// Start launches the coordinator and nodes, each with the shared
// registration secret wired in so the admin-protected /register endpoint
// actually gets exercised rather than bypassed by matching defaults.
func (ts *TestSystem) Start() error {
	if _, err := os.Stat("./bin/coordinator"); os.IsNotExist(err) {
		ts.t.Log("Building coordinator binary...")
		if err := exec.Command("go", "build", "-o", "bin/coordinator", "./cmd/coordinator").Run(); err != nil {
			return fmt.Errorf("failed to build coordinator: %w", err)
		}
	}
	if _, err := os.Stat("./bin/node"); os.IsNotExist(err) {
		ts.t.Log("Building node binary...")
		if err := exec.Command("go", "build", "-o", "bin/node", "./cmd/node").Run(); err != nil {
			return fmt.Errorf("failed to build node: %w", err)
		}
	}

	ts.t.Log("Starting coordinator...")
	ts.coord = exec.Command("./bin/coordinator")
	ts.coord.Env = append(os.Environ(),
		"COORDINATOR_ADDR=:18080",
		"COORDINATOR_ADMIN_SECRET="+testAdminSecret,
	)
	ts.coord.Stdout = os.Stdout
	ts.coord.Stderr = os.Stderr
	if err := ts.coord.Start(); err != nil {
		return fmt.Errorf("failed to start coordinator: %w", err)
	}

	if err := ts.waitForService(ts.coordAddr + "/health"); err != nil {
		return fmt.Errorf("coordinator failed to start: %w", err)
	}

	for i, addr := range ts.nodeAddrs {
		if err := ts.startNode(i+1, addr, testAdminSecret); err != nil {
			return err
		}
	}

	// Give nodes time to register with coordinator
	time.Sleep(500 * time.Millisecond)

	return nil
}

// startNode launches a single node process with the given registration
// secret, tracking it for shutdown. A secret that doesn't match the
// coordinator's is a legitimate case to exercise (see
// TestNodeRegistrationRejectsWrongSecret), so this does not itself wait
// for or require registration to succeed.
func (ts *TestSystem) startNode(n int, addr, secret string) error {
	ts.t.Logf("Starting node %d...", n)
	node := exec.Command("./bin/node")
	node.Env = append(os.Environ(),
		fmt.Sprintf("NODE_ID=n%d", n),
		fmt.Sprintf("NODE_LISTEN=:1808%d", n),
		fmt.Sprintf("NODE_ADDR=%s", addr),
		fmt.Sprintf("COORDINATOR_ADDR=%s", ts.coordAddr),
		"NODE_REGISTRATION_SECRET="+secret,
	)
	node.Stdout = os.Stdout
	node.Stderr = os.Stderr
	if err := node.Start(); err != nil {
		return fmt.Errorf("failed to start node %d: %w", n, err)
	}
	ts.nodes = append(ts.nodes, node)

	return ts.waitForService(addr + "/health")
}

// Stop gracefully shuts down all components
func (ts *TestSystem) Stop() {
	for i, node := range ts.nodes {
		if node != nil && node.Process != nil {
			ts.t.Logf("Stopping node %d...", i+1)
			node.Process.Kill()
			node.Wait()
		}
	}

	if ts.coord != nil && ts.coord.Process != nil {
		ts.t.Log("Stopping coordinator...")
		ts.coord.Process.Kill()
		ts.coord.Wait()
	}
}

// waitForService waits for an HTTP service to become available
func (ts *TestSystem) waitForService(url string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for %s", url)
		default:
			resp, err := ts.httpClient.Get(url)
			if err == nil && resp.StatusCode == http.StatusOK {
				resp.Body.Close()
				return nil
			}
			if resp != nil {
				resp.Body.Close()
			}
			time.Sleep(100 * time.Millisecond)
		}
	}
}

// PUT stores a value at the given key
func (ts *TestSystem) PUT(key, value string) (int, error) {
	url := fmt.Sprintf("%s/data/%s", ts.coordAddr, key)
	resp, err := ts.httpClient.Do(newRequest("PUT", url, []byte(value)))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

// GET retrieves a value for the given key
func (ts *TestSystem) GET(key string) (int, string, error) {
	url := fmt.Sprintf("%s/data/%s", ts.coordAddr, key)
	resp, err := ts.httpClient.Get(url)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, "", err
	}

	return resp.StatusCode, string(body), nil
}

// DELETE removes a key
func (ts *TestSystem) DELETE(key string) (int, error) {
	url := fmt.Sprintf("%s/data/%s", ts.coordAddr, key)
	req, _ := http.NewRequest("DELETE", url, nil)
	resp, err := ts.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

// GetNodes returns the list of registered nodes
func (ts *TestSystem) GetNodes() ([]map[string]interface{}, error) {
	resp, err := ts.httpClient.Get(ts.coordAddr + "/nodes")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result struct {
		Nodes []map[string]interface{} `json:"nodes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return result.Nodes, nil
}

// GetShards returns the shard assignments
func (ts *TestSystem) GetShards() ([]map[string]interface{}, error) {
	resp, err := ts.httpClient.Get(ts.coordAddr + "/shards")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result struct {
		Shards []map[string]interface{} `json:"shards"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return result.Shards, nil
}

// Helper to create HTTP requests
func newRequest(method, url string, body []byte) *http.Request {
	req, _ := http.NewRequest(method, url, bytes.NewReader(body))
	return req
}

// TestDistributedStorage runs end-to-end tests for the distributed storage system
func TestDistributedStorage(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	if _, err := os.Stat("./bin/coordinator"); os.IsNotExist(err) {
		t.Skip("Skipping integration test: coordinator binary not found (run 'make build' first)")
	}
	if _, err := os.Stat("./bin/node"); os.IsNotExist(err) {
		t.Skip("Skipping integration test: node binary not found (run 'make build' first)")
	}

	ts := NewTestSystem(t)
	if err := ts.Start(); err != nil {
		t.Fatalf("Failed to start test system: %v", err)
	}
	defer ts.Stop()

	t.Run("StoreAndRetrieve", func(t *testing.T) {
		testStoreAndRetrieve(t, ts)
	})

	t.Run("UpdateExistingValue", func(t *testing.T) {
		testUpdateExistingValue(t, ts)
	})

	t.Run("DeleteValue", func(t *testing.T) {
		testDeleteValue(t, ts)
	})

	t.Run("NonExistentKey", func(t *testing.T) {
		testNonExistentKey(t, ts)
	})

	t.Run("ConcurrentOperations", func(t *testing.T) {
		testConcurrentOperations(t, ts)
	})

	t.Run("SystemVisibility", func(t *testing.T) {
		testSystemVisibility(t, ts)
	})
}

// testStoreAndRetrieve verifies basic store and retrieve operations
func testStoreAndRetrieve(t *testing.T, ts *TestSystem) {
	status, err := ts.PUT("greeting", "Hello World")
	if err != nil {
		t.Fatalf("Failed to PUT: %v", err)
	}
	if status != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", status)
	}

	status, value, err := ts.GET("greeting")
	if err != nil {
		t.Fatalf("Failed to GET: %v", err)
	}
	if status != http.StatusOK {
		t.Errorf("Expected status 200, got %d", status)
	}
	if value != "Hello World" {
		t.Errorf("Expected 'Hello World', got '%s'", value)
	}
}

// testUpdateExistingValue verifies updating an existing key
func testUpdateExistingValue(t *testing.T, ts *TestSystem) {
	ts.PUT("counter", "1")

	status, err := ts.PUT("counter", "2")
	if err != nil {
		t.Fatalf("Failed to update: %v", err)
	}
	if status != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", status)
	}

	_, value, _ := ts.GET("counter")
	if value != "2" {
		t.Errorf("Expected '2', got '%s'", value)
	}
}

// testDeleteValue verifies deletion of keys
func testDeleteValue(t *testing.T, ts *TestSystem) {
	ts.PUT("temp", "temporary data")

	status, err := ts.DELETE("temp")
	if err != nil {
		t.Fatalf("Failed to DELETE: %v", err)
	}
	if status != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", status)
	}

	status, _, _ = ts.GET("temp")
	if status != http.StatusNotFound {
		t.Errorf("Expected status 404 for deleted key, got %d", status)
	}
}

// testNonExistentKey verifies handling of missing keys
func testNonExistentKey(t *testing.T, ts *TestSystem) {
	status, _, err := ts.GET("does-not-exist")
	if err != nil {
		t.Fatalf("Failed to GET: %v", err)
	}
	if status != http.StatusNotFound {
		t.Errorf("Expected status 404 for non-existent key, got %d", status)
	}
}

// testConcurrentOperations verifies system handles concurrent requests
func testConcurrentOperations(t *testing.T, ts *TestSystem) {
	numClients := 10
	var wg sync.WaitGroup
	errors := make(chan error, numClients*2)

	wg.Add(numClients)
	for i := 0; i < numClients; i++ {
		go func(id int) {
			defer wg.Done()
			key := fmt.Sprintf("concurrent-key-%d", id)
			value := fmt.Sprintf("concurrent-value-%d", id)
			if _, err := ts.PUT(key, value); err != nil {
				errors <- fmt.Errorf("PUT failed for client %d: %w", id, err)
			}
		}(i)
	}
	wg.Wait()

	wg.Add(numClients)
	for i := 0; i < numClients; i++ {
		go func(id int) {
			defer wg.Done()
			key := fmt.Sprintf("concurrent-key-%d", id)
			expectedValue := fmt.Sprintf("concurrent-value-%d", id)
			_, value, err := ts.GET(key)
			if err != nil {
				errors <- fmt.Errorf("GET failed for client %d: %w", id, err)
				return
			}
			if value != expectedValue {
				errors <- fmt.Errorf("client %d: expected '%s', got '%s'", id, expectedValue, value)
			}
		}(i)
	}
	wg.Wait()

	select {
	case err := <-errors:
		t.Error(err)
	default:
	}
}

// testSystemVisibility verifies we can inspect system state
func testSystemVisibility(t *testing.T, ts *TestSystem) {
	nodes, err := ts.GetNodes()
	if err != nil {
		t.Fatalf("Failed to get nodes: %v", err)
	}
	if len(nodes) != 2 {
		t.Errorf("Expected 2 nodes, got %d", len(nodes))
	}

	shards, err := ts.GetShards()
	if err != nil {
		t.Fatalf("Failed to get shards: %v", err)
	}
	if len(shards) == 0 {
		t.Error("No shards assigned")
	}

	for _, shard := range shards {
		if shard["NodeID"] == nil || shard["NodeID"] == "" {
			t.Errorf("Shard %v has no node assignment", shard["ShardID"])
		}
	}
}

// TestNodeRegistrationRejectsWrongSecret starts a coordinator and a single
// node configured with a registration secret that doesn't match the
// coordinator's admin secret, and confirms the node never appears in the
// node list. This is the scenario the shared-secret bearer-token flow
// (cmd/coordinator/main.go's RequireAdminHTTP-wrapped /register, minted by
// cmd/node/main.go's register()) exists to guard against: a misconfigured
// or unauthorized node silently joining the cluster.
func TestNodeRegistrationRejectsWrongSecret(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	if _, err := os.Stat("./bin/coordinator"); os.IsNotExist(err) {
		t.Skip("Skipping integration test: coordinator binary not found (run 'make build' first)")
	}
	if _, err := os.Stat("./bin/node"); os.IsNotExist(err) {
		t.Skip("Skipping integration test: node binary not found (run 'make build' first)")
	}

	ts := &TestSystem{
		t:          t,
		coordAddr:  "http://127.0.0.1:18090",
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}

	ts.coord = exec.Command("./bin/coordinator")
	ts.coord.Env = append(os.Environ(),
		"COORDINATOR_ADDR=:18090",
		"COORDINATOR_ADMIN_SECRET="+testAdminSecret,
	)
	ts.coord.Stdout = os.Stdout
	ts.coord.Stderr = os.Stderr
	if err := ts.coord.Start(); err != nil {
		t.Fatalf("failed to start coordinator: %v", err)
	}
	defer ts.Stop()

	if err := ts.waitForService(ts.coordAddr + "/health"); err != nil {
		t.Fatalf("coordinator failed to start: %v", err)
	}

	// This node's secret deliberately doesn't match the coordinator's;
	// its /health endpoint still comes up (that's unauthenticated), but
	// registration against the coordinator must fail, so startNode is
	// not expected to return an error here even though the node never
	// joins the cluster.
	if err := ts.startNode(1, "http://127.0.0.1:18091", "wrong-secret"); err != nil {
		t.Fatalf("node process failed to start: %v", err)
	}

	time.Sleep(500 * time.Millisecond)

	nodes, err := ts.GetNodes()
	if err != nil {
		t.Fatalf("Failed to get nodes: %v", err)
	}
	if len(nodes) != 0 {
		t.Errorf("expected no nodes registered with a mismatched secret, got %d", len(nodes))
	}
}
