package http

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"vestnik/internal/presence"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// OpsServer serves operational endpoints (health, metrics) on a
// separate, typically non-public address.
type OpsServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

func NewOpsServer(registry *presence.Registry, addr string) *OpsServer {
	mux := http.NewServeMux()

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]any{
			"status": "ok",
			"online": registry.Len(),
		}); err != nil {
			log.Printf("failed to encode health response: %v", err)
		}
	})

	if addr == "" {
		addr = "localhost:8081"
	}

	return &OpsServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

func (s *OpsServer) Start() error {
	log.Printf("Ops server started on %s", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *OpsServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
