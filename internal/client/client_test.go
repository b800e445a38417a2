package client

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/krishna3006b/localhosted-tunnel-server/internal/config"
	"github.com/krishna3006b/localhosted-tunnel-server/internal/registry"
	"github.com/krishna3006b/localhosted-tunnel-server/internal/server"
)

func TestTunnelURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"https://example.com", "wss://example.com/tunnel", false},
		{"http://127.0.0.1:8080", "ws://127.0.0.1:8080/tunnel", false},
		{"ws://example.com/ignored?x=1", "ws://example.com/tunnel", false},
		{"ftp://example.com", "", true},
	}
	for _, tc := range tests {
		got, err := tunnelURL(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("tunnelURL(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("tunnelURL(%q) = %q, %v; want %q", tc.in, got, err, tc.want)
		}
	}
}

func TestClientEndToEnd(t *testing.T) {
	t.Parallel()

	// Local upstream the client forwards to.
	local := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.RequestURI() != "/api/echo?x=1" {
			http.Error(w, "wrong path", http.StatusInternalServerError)
			return
		}
		w.Header().Set("X-Upstream", "local")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("from local"))
	}))
	defer local.Close()

	_, portStr, err := net.SplitHostPort(local.Listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	localPort, _ := strconv.Atoi(portStr)

	// The relay under test.
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := registry.New(logger)
	srvCfg := config.ServerConfig{
		Domain:         "example.com",
		Env:            "test",
		RequestTimeout: 5 * time.Second,
		MaxFrameBytes:  50 << 20,
		PingInterval:   50 * time.Millisecond,
	}
	relay := httptest.NewServer(server.New(srvCfg, reg, logger).Handler())
	defer relay.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cl := New(config.ClientConfig{
		ServerURL: relay.URL,
		Subdomain: "cli",
		LocalPort: localPort,
	}, logger)
	go func() { _ = cl.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for reg.Get("cli") == nil {
		if time.Now().After(deadline) {
			t.Fatal("client did not register in time")
		}
		time.Sleep(10 * time.Millisecond)
	}

	req, err := http.NewRequest(http.MethodGet, relay.URL+"/api/echo?x=1", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Host = "cli.example.com"
	resp, err := relay.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "from local" {
		t.Fatalf("expected upstream body, got %q", body)
	}
	if got := resp.Header.Get("X-Upstream"); got != "local" {
		t.Fatalf("expected upstream header preserved, got %q", got)
	}
	if got := resp.Header.Get("X-Tunnel-Subdomain"); got != "cli" {
		t.Fatalf("expected X-Tunnel-Subdomain cli, got %q", got)
	}
}

func TestClientRepliesBadGatewayWhenLocalDown(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := registry.New(logger)
	srvCfg := config.ServerConfig{
		Domain:         "example.com",
		Env:            "test",
		RequestTimeout: 5 * time.Second,
		MaxFrameBytes:  50 << 20,
		PingInterval:   time.Second,
	}
	relay := httptest.NewServer(server.New(srvCfg, reg, logger).Handler())
	defer relay.Close()

	// Grab an unused port so the local dial fails fast.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	_, portStr, _ := net.SplitHostPort(l.Addr().String())
	deadPort, _ := strconv.Atoi(portStr)
	_ = l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cl := New(config.ClientConfig{
		ServerURL: relay.URL,
		Subdomain: "down",
		LocalPort: deadPort,
	}, logger)
	go func() { _ = cl.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for reg.Get("down") == nil {
		if time.Now().After(deadline) {
			t.Fatal("client did not register in time")
		}
		time.Sleep(10 * time.Millisecond)
	}

	req, _ := http.NewRequest(http.MethodGet, relay.URL+"/", nil)
	req.Host = "down.example.com"
	resp, err := relay.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502 from client, got %d", resp.StatusCode)
	}
}
