package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/workflo/cmsauth/internal/logutil"
)

type (
	// Server is a bound listener plus the http.Server answering on it
	Server struct {
		http            *http.Server
		listener        net.Listener
		log             zerolog.Logger
		ShutdownTimeout time.Duration
	}
)

const DefaultShutdownTimeout = 30 * time.Second

// Listen binds addr right away, so a port already in use is reported
// before any other startup work. Requests are logged with the logger
// carried by ctx.
func Listen(ctx context.Context, addr string, handler http.Handler) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("httpserver: unable to bind %v, cause %w", addr, err)
	}
	log := logutil.GetOrDefault(ctx).With().Str("server.addr", ln.Addr().String()).Logger()
	return &Server{
		http: &http.Server{
			Handler:           LogRequests(handler),
			ReadTimeout:       time.Minute,
			WriteTimeout:      time.Minute,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       5 * time.Minute,
			BaseContext: func(net.Listener) context.Context {
				// requests must outlive ctx while Shutdown drains them
				return logutil.WithLogger(context.Background(), log)
			},
		},
		listener:        ln,
		log:             log,
		ShutdownTimeout: DefaultShutdownTimeout,
	}, nil
}

func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Run answers requests until ctx is done and then drains in-flight
// requests for at most ShutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	served := make(chan error, 1)
	go func() {
		s.log.Info().Msg("Starting HTTP server")
		served <- s.http.Serve(s.listener)
	}()

	select {
	case err := <-served:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Info().Msg("Initiating shutdown process")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.ShutdownTimeout)
	defer cancel()
	err := s.http.Shutdown(shutdownCtx)
	<-served
	if err != nil {
		s.log.Warn().Err(err).Msg("Shutdown did not complete cleanly")
		return fmt.Errorf("httpserver: shutdown, cause %w", err)
	}
	s.log.Info().Msg("Shutdown completed")
	return nil
}

// Serve is Listen followed by Run
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv, err := Listen(ctx, addr, handler)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}
