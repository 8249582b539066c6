package http

import (
	"context"
	"net/http"
	"time"

	"github.com/dropDatabas3/portero/internal/observability/logger"
)

// ServerConfig son los timeouts del servidor. Todos obligatorios: un server
// sin timeouts se queda colgado con clientes lentos.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Server envuelve http.Server con apagado ordenado.
type Server struct {
	srv *http.Server
}

func NewServer(cfg ServerConfig, handler http.Handler) *Server {
	return &Server{
		srv: &http.Server{
			Addr:         cfg.Addr,
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
	}
}

// Start bloquea sirviendo hasta que el contexto se cancele; después drena
// conexiones en curso con un margen de 10 segundos.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.L().Info("http server listening", logger.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.L().Info("http server shutting down")
	return s.srv.Shutdown(shutdownCtx)
}
