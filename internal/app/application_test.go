package app

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"brewline/internal/config"
)

func testConfig(t *testing.T, port int) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "test.db")
	cfg.HTTP.Port = port
	cfg.HTTP.Host = "127.0.0.1"
	return cfg
}

func TestNewApplication_InvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Database.Path = ""

	if _, err := NewApplication(cfg); err == nil {
		t.Error("expected error for invalid configuration")
	}
}

func TestApplication_StartStop(t *testing.T) {
	cfg := testConfig(t, 18124)

	application, err := NewApplication(cfg)
	if err != nil {
		t.Fatalf("NewApplication failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	base := fmt.Sprintf("http://%s", application.GetAddr())

	resp, err := http.Get(base + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want 200", resp.StatusCode)
	}

	// Full wiring check: a user created through the API is visible again.
	body := []byte(`{"id": "alice", "display_name": "Alice"}`)
	resp, err = http.Post(base+"/api/users", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("create user failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("create user status = %d, want 201", resp.StatusCode)
	}

	resp, err = http.Get(base + "/api/users/alice")
	if err != nil {
		t.Fatalf("get user failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("get user status = %d, want 200", resp.StatusCode)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := application.Stop(shutdownCtx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}
