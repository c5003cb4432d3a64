// Package httpapi serves the collector's health, readiness, and metrics
// endpoints. Grounded on the reference collector's internal/http server
// (interfaces for testability, promhttp wiring, Start/Shutdown), adapted
// from Postgres/Kafka-consumer checks to RIB-view and listener checks.
package httpapi

import (
	"context"
	"encoding/json"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ViewChecker reports whether the RIB view has been initialized (restored
// from snapshot, or explicitly started empty) and is safe to serve.
type ViewChecker interface {
	Ready() bool
}

// ListenerChecker reports whether the BMP listener has successfully bound
// its socket and is accepting router connections.
type ListenerChecker interface {
	Bound() bool
}

type Server struct {
	srv      *http.Server
	view     ViewChecker
	listener ListenerChecker
	logger   *zap.Logger
}

func NewServer(addr string, view ViewChecker, listener ListenerChecker, logger *zap.Logger) *Server {
	s := &Server{view: view, listener: listener, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	mux.Handle("/metrics", promhttp.Handler())

	s.srv = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	return s
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("HTTP server listening", zap.String("addr", s.srv.Addr))
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	allOK := true

	if s.view != nil && s.view.Ready() {
		checks["rib_view"] = "ok"
	} else {
		checks["rib_view"] = "not_ready"
		allOK = false
	}

	if s.listener != nil && s.listener.Bound() {
		checks["bmp_listener"] = "ok"
	} else {
		checks["bmp_listener"] = "not_bound"
		allOK = false
	}

	w.Header().Set("Content-Type", "application/json")
	status := "ready"
	httpStatus := http.StatusOK
	if !allOK {
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	}

	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]any{
		"status": status,
		"checks": checks,
	})
}
