package gateway

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/itellico/joi-gateway/internal/agent"
	"github.com/itellico/joi-gateway/internal/bus"
	"github.com/itellico/joi-gateway/internal/config"
	"github.com/itellico/joi-gateway/internal/router"
	"github.com/itellico/joi-gateway/internal/store"
	"github.com/itellico/joi-gateway/internal/store/memstore"
	"github.com/itellico/joi-gateway/internal/tools"
)

func newTestServer(t *testing.T, cfg *config.Config) (*Server, context.Context, context.CancelFunc) {
	t.Helper()
	msgBus := bus.New()
	stores := &store.Stores{}
	rtr := router.New(nil, nil, nil, 0)
	toolReg := tools.NewRegistry()
	rt := agent.NewRuntime(memstore.NewAgentStore(), nil, rtr, nil, toolReg, msgBus)

	s := NewServer(cfg, msgBus, rt, stores, rtr, WithTools(toolReg))
	ctx, cancel := context.WithCancel(context.Background())
	return s, ctx, cancel
}

func testConfig() *config.Config {
	return &config.Config{
		Gateway: config.GatewayConfig{Host: "127.0.0.1"},
		Auth:    config.AuthConfig{Token: "secret-token"},
	}
}

func TestServer_HealthIsUnauthenticated(t *testing.T) {
	s, ctx, cancel := newTestServer(t, testConfig())
	defer cancel()
	addr, start := StartTestServer(s, ctx)
	go start()
	time.Sleep(50 * time.Millisecond)

	resp, err := http.Get("http://" + addr + "/health")
	if err != nil {
		t.Fatalf("GET /health error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if len(body) == 0 {
		t.Fatal("empty health body")
	}
}

func TestServer_APIRoutesRequireAuth(t *testing.T) {
	s, ctx, cancel := newTestServer(t, testConfig())
	defer cancel()
	addr, start := StartTestServer(s, ctx)
	go start()
	time.Sleep(50 * time.Millisecond)

	resp, err := http.Get("http://" + addr + "/api/memory")
	if err != nil {
		t.Fatalf("GET /api/memory error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 without bearer token", resp.StatusCode)
	}
}

func TestServer_APIRoutesAcceptBearerToken(t *testing.T) {
	s, ctx, cancel := newTestServer(t, testConfig())
	defer cancel()
	addr, start := StartTestServer(s, ctx)
	go start()
	time.Sleep(50 * time.Millisecond)

	req, _ := http.NewRequest(http.MethodGet, "http://"+addr+"/api/memory", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /api/memory error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		t.Fatal("status = 401 with a correct bearer token, want something else")
	}
}

func TestServer_AllowOpenBypassesAuth(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.AllowOpen = true
	s, ctx, cancel := newTestServer(t, cfg)
	defer cancel()
	addr, start := StartTestServer(s, ctx)
	go start()
	time.Sleep(50 * time.Millisecond)

	resp, err := http.Get("http://" + addr + "/api/memory")
	if err != nil {
		t.Fatalf("GET /api/memory error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		t.Fatal("status = 401 with AllowOpen set, want auth bypassed")
	}
}
