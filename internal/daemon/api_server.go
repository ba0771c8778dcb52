package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"mediaflow/internal/logging"
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	server *http.Server

	mu       sync.Mutex
	listener net.Listener
}

func newAPIServer(bind string, handler http.Handler, logger *slog.Logger) *apiServer {
	bind = strings.TrimSpace(bind)
	if bind == "" || handler == nil {
		return nil
	}
	return &apiServer{
		bind:   bind,
		logger: logging.NewComponentLogger(logger, "api-server"),
		server: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error",
				logging.Error(err),
				logging.String(logging.FieldEventType, "api_server_failed"),
				logging.String(logging.FieldImpact, "trigger API unavailable until restart"),
			)
		}
	}()

	go func() {
		<-ctx.Done()
		s.stop()
	}()

	s.logger.Info("api server listening",
		logging.String("address", listener.Addr().String()),
		logging.String(logging.FieldEventType, "api_server_started"),
	)
	return nil
}

// addr returns the bound address, which differs from bind when the port is 0.
func (s *apiServer) addr() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}
