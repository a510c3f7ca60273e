package main

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/criyle/go-forkserver/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// metricsAddr returns the --metrics-addr flag, falling back to metrics.listen
func metricsAddr(flag string, cfg *config.Config) string {
	if flag != "" {
		return flag
	}
	return cfg.Metrics.Listen
}

// serveMetrics listens on addr and serves reg on /metrics until the server
// is closed
func serveMetrics(addr string, reg prometheus.Gatherer, logger *zap.Logger) (*http.Server, net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("metrics listen: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.Stringer("addr", ln.Addr()))
	return srv, ln.Addr(), nil
}

// startMetrics serves the kernel metrics when an address is configured. The
// returned func stops the server.
func (e *env) startMetrics(flag string) (func(), error) {
	addr := metricsAddr(flag, e.config)
	if addr == "" {
		return func() {}, nil
	}
	srv, _, err := serveMetrics(addr, e.kernel.Metrics().Registry, e.logger)
	if err != nil {
		return nil, err
	}
	return func() { srv.Close() }, nil
}
