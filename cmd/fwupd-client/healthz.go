package main

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"k8s.io/klog/v2"

	"github.com/ydb-platform/fwupd-client/internal/fwupd"
)

const shutdownTimeout = 5 * time.Second

type versioner interface {
	DaemonVersion(ctx context.Context) (string, error)
}

var _ versioner = &fwupd.Client{}

// healthz answers 200 while the daemon responds on the bus.
func healthz(p versioner) http.HandlerFunc {
	return func(resp http.ResponseWriter, req *http.Request) {
		version, err := p.DaemonVersion(req.Context())
		if err != nil {
			klog.Errorf("health check failed: %v", err)
			http.Error(resp, err.Error(), http.StatusServiceUnavailable)
			return
		}
		klog.V(2).Infof("health check passed, daemon %s", version)
		resp.WriteHeader(http.StatusOK)
	}
}

func healthzRouter(p versioner) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", healthz(p))
	return r
}

// startHealthz serves /healthz on addr until ctx is done.
func startHealthz(ctx context.Context, wg *sync.WaitGroup, addr string, p versioner) {
	server := &http.Server{
		Addr:              addr,
		Handler:           healthzRouter(p),
		ReadHeaderTimeout: 10 * time.Second,
	}

	klog.Infof("Starting /healthz server on %s", addr)
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			klog.Errorf("/healthz server failed: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			klog.Errorf("failed to stop /healthz server: %v", err)
		}
	}()
}
