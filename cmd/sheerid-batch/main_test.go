package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/verikit/sheerid-batch/pkg/verify"
)

func setupTestRedis(t *testing.T) (*redis.Client, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Skipping test, could not start Redis container: %v", err)
	}

	host, err := redisC.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := redisC.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		redisC.Terminate(ctx)
	}

	return redisClient, cleanup
}

func TestParseIDs(t *testing.T) {
	input := strings.Join([]string{
		"https://services.sheerid.com/verify/abc123/?verificationId=64f8a9b2c3d4e5",
		"",
		"# first batch below",
		"https://my.sheerid.com/verify/64f8deadbeef01/step/collect",
		"https://services.sheerid.com/verify/abc123/?verificationId=64f8a9b2c3d4e5",
		"not a link at all",
		"64f8bare",
	}, "\n")

	ids, malformed, err := parseIDs(strings.NewReader(input))
	if err != nil {
		t.Fatalf("parseIDs() error = %v", err)
	}

	want := []string{"64f8a9b2c3d4e5", "64f8deadbeef01"}
	if len(ids) != len(want) {
		t.Fatalf("parseIDs() = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids[%d] = %q, want %q", i, ids[i], want[i])
		}
	}

	if len(malformed) != 2 {
		t.Errorf("malformed = %v, want the plain-text line and the bare ID", malformed)
	}
}

func TestParseIDs_Empty(t *testing.T) {
	ids, malformed, err := parseIDs(strings.NewReader("\n# only comments\n\n"))
	if err != nil {
		t.Fatalf("parseIDs() error = %v", err)
	}
	if len(ids) != 0 || len(malformed) != 0 {
		t.Errorf("parseIDs() = %v, %v, want empty", ids, malformed)
	}
}

func TestLoadIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "links.txt")
	content := "https://services.sheerid.com/verify/aaa111/?verificationId=bbb222\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	ids, malformed, err := loadIDs(path)
	if err != nil {
		t.Fatalf("loadIDs() error = %v", err)
	}
	if len(ids) != 1 || ids[0] != "bbb222" {
		t.Errorf("loadIDs() = %v, want [bbb222]", ids)
	}
	if len(malformed) != 0 {
		t.Errorf("malformed = %v, want none", malformed)
	}
}

func TestLoadIDs_MissingFile(t *testing.T) {
	_, _, err := loadIDs(filepath.Join(t.TempDir(), "absent.txt"))
	if err == nil {
		t.Error("loadIDs() on a missing file should return an error")
	}
}

func TestSummarize(t *testing.T) {
	results := map[string]verify.Event{
		"a": {VerificationID: "a", CurrentStep: verify.StepSuccess},
		"b": {VerificationID: "b", CurrentStep: verify.StepError},
		"c": {VerificationID: "c", CurrentStep: verify.StepSuccess},
	}

	succeeded, failed := summarize(results)
	if succeeded != 2 {
		t.Errorf("succeeded = %d, want 2", succeeded)
	}
	if failed != 1 {
		t.Errorf("failed = %d, want 1", failed)
	}
}

func TestHealthEndpoint(t *testing.T) {
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	healthHandler(w, req)

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	if string(body) != "OK" {
		t.Errorf("Expected body 'OK', got %s", string(body))
	}
}

func TestReadyEndpoint_NoRedis(t *testing.T) {
	req := httptest.NewRequest("GET", "/ready", nil)
	w := httptest.NewRecorder()

	readyHandler(nil)(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200 without Redis, got %d", resp.StatusCode)
	}
}

func TestReadyEndpoint_WithRedis(t *testing.T) {
	redisClient, cleanup := setupTestRedis(t)
	defer cleanup()

	handler := readyHandler(redisClient)

	t.Run("ready", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/ready", nil)
		w := httptest.NewRecorder()

		handler(w, req)

		resp := w.Result()
		body, _ := io.ReadAll(resp.Body)

		if resp.StatusCode != http.StatusOK {
			t.Errorf("Expected status 200, got %d", resp.StatusCode)
		}

		if string(body) != "OK" {
			t.Errorf("Expected body 'OK', got %s", string(body))
		}
	})

	t.Run("not_ready_redis_down", func(t *testing.T) {
		// Close Redis to simulate failure
		redisClient.Close()

		req := httptest.NewRequest("GET", "/ready", nil)
		w := httptest.NewRecorder()

		handler(w, req)

		resp := w.Result()

		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("Expected status 503, got %d", resp.StatusCode)
		}
	})
}

func TestMetricsEndpoint(t *testing.T) {
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	newOpsMux(nil).ServeHTTP(w, req)

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	bodyStr := string(body)

	// Just verify we get prometheus output format
	if !strings.Contains(bodyStr, "# HELP") || !strings.Contains(bodyStr, "# TYPE") {
		t.Error("Expected Prometheus format metrics output")
	}

	// The job gauge registers at package load even before any job runs.
	if !strings.Contains(bodyStr, "sheerid_jobs_active") {
		t.Error("Expected metrics output to contain sheerid_jobs_active")
	}
}
