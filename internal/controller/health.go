package controller

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

const (
	healthReadHeaderTimeout = 5 * time.Second
	healthShutdownTimeout   = 5 * time.Second
)

// CacheSyncWaiter is the slice of cache.Cache the health server needs.
type CacheSyncWaiter interface {
	WaitForCacheSync(ctx context.Context) bool
}

// HealthServer serves GET /health, reporting 200 once the informer caches
// have synced and 503 before. cloudflared probes the same port layout, so the
// operator exposes the identical contract for its own liveness wiring.
type HealthServer struct {
	Addr  string
	Cache CacheSyncWaiter

	ready atomic.Bool
}

// NewHealthServer creates a HealthServer listening on addr.
func NewHealthServer(addr string, cache CacheSyncWaiter) *HealthServer {
	return &HealthServer{Addr: addr, Cache: cache}
}

// NeedLeaderElection keeps the endpoint serving on every replica, elected or
// not.
func (s *HealthServer) NeedLeaderElection() bool {
	return false
}

// Start runs the server until the context is cancelled. Implements
// manager.Runnable.
func (s *HealthServer) Start(ctx context.Context) error {
	logger := log.FromContext(ctx).WithName("health")

	go func() {
		if s.Cache != nil && s.Cache.WaitForCacheSync(ctx) {
			s.ready.Store(true)
			logger.Info("caches synced, reporting healthy")
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("GET /health", s)

	server := &http.Server{
		Addr:              s.Addr,
		Handler:           mux,
		ReadHeaderTimeout: healthReadHeaderTimeout,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), healthShutdownTimeout)
		defer cancel()

		//nolint:contextcheck // detached on purpose, parent is already cancelled
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error(err, "health server shutdown")
		}
	}()

	logger.Info("health endpoint listening", "addr", s.Addr)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "health server")
	}

	return nil
}

// ServeHTTP answers the health probe.
func (s *HealthServer) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	if !s.ready.Load() {
		http.Error(w, "caches not synced", http.StatusServiceUnavailable)

		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
