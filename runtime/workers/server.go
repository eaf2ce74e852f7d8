package workers

import (
	"context"
	"log/slog"
	"time"
)

const shutdownTimeout = 5 * time.Second

// HTTPServer is the part of the transport the worker drives.
type HTTPServer interface {
	Listen(addr string) error
	Shutdown(ctx context.Context) error
}

// ServerWorker serves HTTP until its context is canceled.
type ServerWorker struct {
	log    *slog.Logger
	server HTTPServer
	addr   string
}

func NewServerWorker(log *slog.Logger, server HTTPServer, addr string) *ServerWorker {
	return &ServerWorker{log: log, server: server, addr: addr}
}

// Run returns nil after a graceful shutdown and the listener error otherwise,
// so that the supervisor retries a port that was not yet free.
func (w *ServerWorker) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.server.Listen(w.addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		w.log.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := w.server.Shutdown(shutdownCtx); err != nil {
			w.log.Error("HTTP server shutdown failed", "error", err)
		}
		<-errCh
		return nil
	}
}
