//go:build linux

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/irctrakz/taplink/pkg/core"
	"github.com/irctrakz/taplink/pkg/logging"
	"github.com/irctrakz/taplink/pkg/relay"
)

type healthStatus struct {
	Uptime string             `json:"uptime"`
	Links  []core.LinkMetrics `json:"links"`
}

// newHealthHandler serves a liveness probe on /health and cumulative link
// metrics as JSON on /metrics.
func newHealthHandler(started time.Time, metrics func() []core.LinkMetrics) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(healthStatus{
			Uptime: time.Since(started).Round(time.Second).String(),
			Links:  metrics(),
		})
	})
	return mux
}

type healthServer struct {
	srv *http.Server
}

// startHealth listens on addr and serves the health handler in the
// background. Link metrics are read atomically, so the handler never
// touches the bridge loop.
func startHealth(addr string, b *relay.Bridge) (*healthServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("health listen: %w", err)
	}
	handler := newHealthHandler(time.Now(), func() []core.LinkMetrics {
		return []core.LinkMetrics{b.Down().Metrics(), b.Up().Metrics()}
	})
	hs := &healthServer{srv: &http.Server{Handler: handler, ReadHeaderTimeout: 5 * time.Second}}
	go func() {
		if err := hs.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logging.Warnf("health server: %v", err)
		}
	}()
	logging.Infof("Health endpoint on http://%s/health", ln.Addr())
	return hs, nil
}

func (h *healthServer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return h.srv.Shutdown(ctx)
}
