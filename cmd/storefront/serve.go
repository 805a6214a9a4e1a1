package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"finitefield.org/hanko-storefront/internal/handlers"
	"finitefield.org/hanko-storefront/internal/platform/observability"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(opts *rootOptions, deps runtimeDeps) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Expose the cart and session over a local JSON API",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, deps, func(ctx context.Context, a *app, _ []string) error {
			if addr == "" {
				addr = net.JoinHostPort("127.0.0.1", a.cfg.Server.Port)
			}
			return serve(ctx, a, addr)
		}),
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to 127.0.0.1:$STOREFRONT_SERVER_PORT)")
	return cmd
}

func newHandler(a *app) http.Handler {
	httpLogger := a.logger.Named("http")
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(httpLogger),
		observability.RecoveryMiddleware(httpLogger),
		observability.RequestLoggerMiddleware(),
	}
	return handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithCartRoutes(handlers.NewCartHandlers(a.container.Cart).Routes),
		handlers.WithSessionRoutes(handlers.NewSessionHandlers(a.container.Auth).Routes),
	)
}

// serve runs the local API until ctx is cancelled, then drains in-flight requests.
func serve(ctx context.Context, a *app, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           newHandler(a),
		ReadHeaderTimeout: a.cfg.Server.ReadHeaderTimeout,
	}

	serverLogger := observability.FromContext(ctx).Named("http").With(zap.String("addr", addr))
	errCh := make(chan error, 1)
	go func() {
		serverLogger.Info("storefront api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	serverLogger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		serverLogger.Error("graceful shutdown failed", zap.Error(err))
		return err
	}
	return <-errCh
}
