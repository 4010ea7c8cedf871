package host

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	vm "github.com/VictoriaMetrics/metrics"

	"github.com/zeusync/replinet/internal/core/observability/log"
	"github.com/zeusync/replinet/internal/core/observability/metrics"
)

// StatusFunc reports a JSON-encodable snapshot of the process. It is called
// from HTTP goroutines and must only read concurrency-safe state.
type StatusFunc func() any

// HTTPServer serves /metrics in the Prometheus text format and /status as
// JSON.
type HTTPServer struct {
	server  *http.Server
	metrics *metrics.Endpoint
	status  StatusFunc
	logger  log.Log
}

func NewHTTPServer(addr string, m *metrics.Endpoint, status StatusFunc, logger log.Log) (*HTTPServer, error) {
	if m == nil {
		return nil, ErrNoMetrics
	}
	if logger == nil {
		logger = log.Provide()
	}
	s := &HTTPServer{
		metrics: m,
		status:  status,
		logger:  logger.With(log.String("component", "http")),
	}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

// Serve listens until ctx ends, then shuts the server down.
func (s *HTTPServer) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("HTTP listening", log.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Serve(ln)
	}()

	select {
	case err = <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

func (s *HTTPServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/metrics":
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		s.metrics.WritePrometheus(w)
		vm.WriteProcessMetrics(w)
	case "/status":
		s.handleStatus(w)
	default:
		http.NotFound(w, r)
	}
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter) {
	var body any = map[string]any{"role": s.metrics.Role()}
	if s.status != nil {
		body = s.status()
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("Failed to write status", log.Error(err))
	}
}
