package health

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func TestHealthEndpoint(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	port := freePort(t)
	_, _, err := Start(ctx, port)
	require.NoError(t, err)

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/health", port))
	require.NoError(t, err)
	defer resp.Body.Close()

	var health struct {
		Status  string `json:"status"`
		Version string `json:"version"`
		PID     int    `json:"pid"`
		Port    int    `json:"port"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	require.Equal(t, "ok", health.Status)
	require.Equal(t, Version, health.Version)
	require.Equal(t, port, health.Port)
	require.NotZero(t, health.PID)
}

func TestRPCShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	port := freePort(t)
	_, shutdownCh, err := Start(ctx, port)
	require.NoError(t, err)

	body := `{"jsonrpc":"2.0","method":"shutdown","id":7}`
	resp, err := http.Post(fmt.Sprintf("http://127.0.0.1:%d/rpc", port), "application/json", strings.NewReader(body))
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Contains(t, string(raw), "shutting_down")
	require.Contains(t, string(raw), `"jsonrpc":"2.0"`)

	select {
	case <-shutdownCh:
	case <-time.After(time.Second):
		t.Fatal("shutdown channel not closed after RPC")
	}
}

func TestRPCUnknownMethod(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	port := freePort(t)
	_, shutdownCh, err := Start(ctx, port)
	require.NoError(t, err)

	body := `{"jsonrpc":"2.0","method":"reboot","id":1}`
	resp, err := http.Post(fmt.Sprintf("http://127.0.0.1:%d/rpc", port), "application/json", strings.NewReader(body))
	require.NoError(t, err)
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Contains(t, string(raw), "method_not_found")

	select {
	case <-shutdownCh:
		t.Fatal("unknown method must not trigger shutdown")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPortInUse(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	port := freePort(t)
	_, _, err := Start(ctx, port)
	require.NoError(t, err)

	_, _, err = Start(ctx, port)
	require.Error(t, err)
	require.Contains(t, err.Error(), "already running")
}
