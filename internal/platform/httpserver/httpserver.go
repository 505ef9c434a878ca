package httpserver

import (
	"log/slog"
	"net/http"
	"time"
)

// New builds the HTTP server. WriteTimeout leaves room for one identity-check
// provider round trip inside a request. Server-level errors such as TLS
// handshake failures go to logger.
func New(addr string, handler http.Handler, logger *slog.Logger) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
}
