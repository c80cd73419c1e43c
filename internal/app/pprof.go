package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	pprofhttp "net/http/pprof"
	"sync"
	"time"

	"extmetrics/internal/config"
)

const (
	pprofShutdownTimeout = 3 * time.Second
	pprofReadHeaderTO    = 2 * time.Second
)

// newPprofMux mounts runtime profiling handlers.
// Params: none.
// Returns: mux with /debug/pprof routes.
func newPprofMux() *http.ServeMux {
	mux := http.NewServeMux()
	routes := map[string]http.HandlerFunc{
		"/debug/pprof/":        pprofhttp.Index,
		"/debug/pprof/cmdline": pprofhttp.Cmdline,
		"/debug/pprof/profile": pprofhttp.Profile,
		"/debug/pprof/symbol":  pprofhttp.Symbol,
		"/debug/pprof/trace":   pprofhttp.Trace,
	}
	for pattern, handler := range routes {
		mux.HandleFunc(pattern, handler)
	}
	return mux
}

// startPprofServer starts optional pprof HTTP endpoint bound to the runtime lifecycle.
// Params: ctx runtime context (stops server on reload or shutdown); cfg enabled/listen options; logger diagnostics.
// Returns: idempotent stop function and bind error.
func startPprofServer(ctx context.Context, cfg config.PprofConfig, logger *slog.Logger) (func(), error) {
	if !cfg.Enabled {
		return func() {}, nil
	}

	listener, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("listen %q: %w", cfg.Listen, err)
	}

	server := &http.Server{
		Handler:           newPprofMux(),
		ReadHeaderTimeout: pprofReadHeaderTO,
	}
	addr := listener.Addr().String()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), pprofShutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("pprof shutdown error", slog.String("error", err.Error()))
			}
		})
	}

	go func() {
		<-ctx.Done()
		stop()
	}()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("pprof server failed", slog.String("addr", addr), slog.String("error", err.Error()))
		}
	}()

	logger.Info("pprof server started", slog.String("addr", addr))
	return stop, nil
}
