package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/yumosx/gatewaypool/internal/gatewayconfig"
	"github.com/yumosx/gatewaypool/internal/gatewaymetrics"
	"github.com/yumosx/gatewaypool/internal/gwlog"
	"github.com/yumosx/gatewaypool/internal/pool"
)

// httpServer is the standalone daemon's actual entry point (SPEC_FULL.md
// §6's added HTTP front door): it exposes forward_request and the status/
// diagnose/metrics read surfaces over plain HTTP, since this repository
// runs as a daemon rather than an embedded library.
type httpServer struct {
	cfg     *gatewayconfig.Config
	logger  *gwlog.Logger
	p       *pool.Pool
	metrics *gatewaymetrics.Exporter

	srv *http.Server
}

func newHTTPServer(cfg *gatewayconfig.Config, logger *gwlog.Logger, p *pool.Pool, metrics *gatewaymetrics.Exporter) *httpServer {
	s := &httpServer{cfg: cfg, logger: logger, p: p, metrics: metrics}

	mux := http.NewServeMux()
	mux.HandleFunc("/gatewaypool/status", s.handleStatus)
	mux.HandleFunc("/gatewaypool/diagnose/", s.handleDiagnose)
	if metrics != nil {
		mux.Handle(cfg.Metrics.Path, metrics.Handler())
	}
	mux.HandleFunc("/", s.handleForward)

	s.srv = &http.Server{
		Addr:              cfg.Metrics.Endpoint,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *httpServer) ListenAndServe() error {
	s.logger.Info("http front door listening", "addr", s.cfg.Metrics.Endpoint)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *httpServer) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

func (s *httpServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := struct {
		Workers interface{} `json:"workers"`
		State   string      `json:"gateway_state"`
	}{
		Workers: s.p.StatusAll(),
		State:   string(s.p.GatewayState()),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *httpServer) handleDiagnose(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimPrefix(r.URL.Path, "/gatewaypool/diagnose/")
	id, err := strconv.Atoi(idStr)
	if err != nil {
		http.Error(w, "invalid worker id", http.StatusBadRequest)
		return
	}

	switch format := r.URL.Query().Get("format"); format {
	case "", "text":
		report, err := s.p.Diagnose(id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(report))
	case "json", "msgpack":
		encoded, err := s.p.DiagnoseEncoded(id, format)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		if format == "msgpack" {
			w.Header().Set("Content-Type", "application/msgpack")
		} else {
			w.Header().Set("Content-Type", "application/json")
		}
		_, _ = w.Write(encoded)
	default:
		http.Error(w, fmt.Sprintf("unknown diagnose format %q", format), http.StatusBadRequest)
	}
}

// handleForward is forward_request's HTTP entry point: every request not
// matching one of the read-only operator routes is proxied to a selected
// worker via the dispatcher.
func (s *httpServer) handleForward(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}

	result, err := s.p.ForwardRequest(r.Context(), r.Method, r.URL.Path, body, headers)
	if err != nil {
		if errors.Is(err, pool.ErrNoWorkerAvailable) {
			http.Error(w, err.Error(), http.StatusTooManyRequests)
			return
		}
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(result.Status)
	_, _ = w.Write(result.Body)
}
