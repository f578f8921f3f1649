package bootstrap

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/lumiscan/lumiscan-api/config"
	httpx "github.com/lumiscan/lumiscan-api/internal/http"
)

// HTTPServerConfig contains configuration for the HTTP server.
type HTTPServerConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	Logger   *slog.Logger
}

// StartHTTPServer creates and starts the HTTP server.
// Returns the server instance for graceful shutdown.
func StartHTTPServer(cfg *HTTPServerConfig) *http.Server {
	if cfg == nil {
		return nil
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	appCfg := cfg.Config
	if appCfg == nil {
		appCfg = &config.AppConfig{}
	}

	handler := httpx.NewRouter(httpx.RouterServices{
		Jobs:         cfg.Services.Jobs,
		Generation:   cfg.Services.Generation,
		Verification: cfg.Services.Verification,
		Reports:      cfg.Services.Reports,
		Payments:     cfg.Services.Payments,
		AdminKey:     appCfg.HTTP.AdminKey,
		Logger:       logger,
	})

	return startServer(logger, handler, appCfg.HTTP)
}

func startServer(logger *slog.Logger, handler http.Handler, cfg config.HTTPConfig) *http.Server {
	// Guard against empty addr to avoid listening on Go default
	addr := cfg.Addr
	if addr == "" {
		addr = ":8080"
	}

	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("starting HTTP server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
		}
	}()

	return server
}
