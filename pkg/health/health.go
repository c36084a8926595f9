// Package health implements myagent's local health-check and shutdown-RPC
// HTTP server, the daemon's only listening network surface.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Version is myagent's reported version string.
const Version = "0.1.0"

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  int64  `json:"uptime"`
	PID     int    `json:"pid"`
	Port    int    `json:"port"`
}

type rpcRequest struct {
	Method string `json:"method"`
	ID     any    `json:"id,omitempty"`
}

type rpcResponse struct {
	JSONRPC string `json:"jsonrpc"`
	Result  any    `json:"result"`
	ID      any    `json:"id,omitempty"`
}

// Server is the daemon's /health + /rpc HTTP surface.
type Server struct {
	port      int
	startTime time.Time

	mu       sync.Mutex
	shutdown chan struct{}
	closed   bool

	httpServer *http.Server
}

// Start binds the health server to 127.0.0.1:port and serves in the
// background until ctx is cancelled. The returned channel is closed exactly
// once, when shutdown is requested via RPC; cancelling ctx stops the HTTP
// server without closing it.
func Start(ctx context.Context, port int) (*Server, <-chan struct{}, error) {
	s := &Server{
		port:      port,
		startTime: time.Now(),
		shutdown:  make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/rpc", s.handleRPC)

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if strings.Contains(err.Error(), "address already in use") {
			return nil, nil, fmt.Errorf("myagent is already running (port %d in use)", port)
		}
		return nil, nil, fmt.Errorf("failed to bind port %d: %w", port, err)
	}

	s.httpServer = &http.Server{Handler: mux}
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("health server stopped", "error", err)
		}
	}()

	slog.Info("health server listening", "addr", addr)

	go func() {
		<-ctx.Done()
		s.httpServer.Shutdown(context.Background())
	}()

	return s, s.shutdown, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:  "ok",
		Version: Version,
		Uptime:  int64(time.Since(s.startTime).Seconds()),
		PID:     os.Getpid(),
		Port:    s.port,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	var result any
	switch req.Method {
	case "shutdown":
		s.triggerShutdown()
		result = map[string]string{"status": "shutting_down"}
	default:
		result = map[string]string{"error": "method_not_found"}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", Result: result, ID: req.ID})
}

func (s *Server) triggerShutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.shutdown)
	}
}
