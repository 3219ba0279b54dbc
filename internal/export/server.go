package export

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/memfault/memfaultd-go/internal/logging"
)

// Server serves the export endpoint over HTTP.
type Server struct {
	httpServer *http.Server
	log        *logging.Logger
}

// NewServer binds a Handler built over stagingRoot to address, not yet
// listening. metricsHandler, when non-nil, is mounted at /metrics on the
// same address — the agent's operational metrics are served alongside the
// export endpoint rather than behind a second listener.
func NewServer(address string, stagingRoot string, maxBundleSizeBytes int64, metricsHandler http.Handler, log *logging.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle(URL, New(stagingRoot, maxBundleSizeBytes, log))
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	return &Server{
		log: log,
		httpServer: &http.Server{
			Addr:         address,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// StartBackground starts the server in a background goroutine.
func (s *Server) StartBackground() {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if s.log != nil {
				s.log.Error("export server exited", map[string]interface{}{"error": err.Error()})
			}
		}
	}()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
