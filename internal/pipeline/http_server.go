package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// httpServer runs an HTTP server tied to a lifecycle context.
// Params: server name, listen address, handler, and logger for diagnostics.
// Returns: runnable HTTP server instance.
type httpServer struct {
	name   string
	listen string
	ln     net.Listener
	server *http.Server
	logger *slog.Logger
}

// newHTTPServer creates an HTTP server and binds to the listen address.
// Params: name used in logs; listen address in host:port; handler HTTP handler; logger root logger.
// Returns: server instance or bind error.
func newHTTPServer(name string, listen string, handler http.Handler, logger *slog.Logger) (*httpServer, error) {
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, fmt.Errorf("listen %q: %w", listen, err)
	}

	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return &httpServer{
		name:   name,
		listen: listen,
		ln:     ln,
		server: server,
		logger: logger,
	}, nil
}

// addr returns the bound listener address.
func (s *httpServer) addr() string {
	return s.ln.Addr().String()
}

// close releases the listener of a server that never ran.
func (s *httpServer) close() error {
	return s.ln.Close()
}

// run starts serving and shuts down on context cancellation.
// Params: ctx lifecycle context.
// Returns: nil on graceful stop; error on early serve failures.
func (s *httpServer) run(ctx context.Context) error {
	s.logger.Info("http server started", slog.String("server", s.name), slog.String("listen", s.addr()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Serve(s.ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
		err := <-errCh
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		s.logger.Error(
			"http server stopped unexpectedly",
			slog.String("server", s.name),
			slog.String("listen", s.listen),
			slog.String("error", err.Error()),
		)
		return err
	}
}
