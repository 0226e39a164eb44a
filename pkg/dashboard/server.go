package dashboard

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// HTTPServer defines the interface for an HTTP server that the Dashboard will use
type HTTPServer interface {
	// RegisterHandler registers a handler for a specific route
	RegisterHandler(path string, handler http.Handler)

	// RegisterFileServer registers a handler to serve static files
	RegisterFileServer(path string, fs http.FileSystem)

	// Start serves on port until ctx is cancelled
	Start(ctx context.Context, port int) error
}

// StandardHTTPServer implements HTTPServer on a private http.ServeMux
type StandardHTTPServer struct {
	mux             *http.ServeMux
	shutdownTimeout time.Duration
}

// NewStandardHTTPServer creates a new instance of StandardHTTPServer
func NewStandardHTTPServer() *StandardHTTPServer {
	return &StandardHTTPServer{
		mux:             http.NewServeMux(),
		shutdownTimeout: 5 * time.Second,
	}
}

func (s *StandardHTTPServer) RegisterHandler(path string, handler http.Handler) {
	s.mux.Handle(path, handler)
}

func (s *StandardHTTPServer) RegisterFileServer(path string, fs http.FileSystem) {
	s.mux.Handle(path, http.FileServer(fs))
}

// Handler exposes the routes, e.g. for httptest
func (s *StandardHTTPServer) Handler() http.Handler {
	return s.mux
}

func (s *StandardHTTPServer) Start(ctx context.Context, port int) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
