package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/n9te9/go-graphql-auth-gateway/gateway"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

// NewRouter mounts the GraphQL endpoint, the health check and, when metrics
// is non-nil, the Prometheus handler.
func NewRouter(gw http.Handler, option gateway.GatewayOption, metrics *gateway.Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	var handler http.Handler = gw
	if option.Opentelemetry.TracingSetting.Enable {
		handler = otelhttp.NewHandler(gw, "graphql")
	}
	r.Method(http.MethodPost, option.Endpoint, handler)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if metrics != nil && option.Metrics.Enable {
		r.Method(http.MethodGet, option.Metrics.Path, metrics.Handler())
	}
	return r
}

// Run serves the gateway described by option until SIGTERM or an interrupt.
// SIGHUP reloads the subgraph schemas.
func Run(ctx context.Context, option gateway.GatewayOption, logger *zap.Logger, version string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, os.Interrupt)
	defer stop()

	if option.Opentelemetry.TracingSetting.Enable {
		shutdown, err := gateway.InitTracer(ctx, option.ServiceName, version)
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				logger.Warn("tracer shutdown failed", zap.Error(err))
			}
		}()
	}

	metrics := gateway.NewMetrics()
	gw, err := gateway.NewGateway(ctx, option, gateway.WithLogger(logger), gateway.WithMetrics(metrics))
	if err != nil {
		return fmt.Errorf("failed to start gateway: %w", err)
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				if err := gw.Reload(ctx); err != nil {
					logger.Error("schema reload failed", zap.Error(err))
				}
			}
		}
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", option.Port),
		Handler:           NewRouter(gw, option, metrics),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", zap.String("addr", srv.Addr), zap.String("endpoint", option.Endpoint))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(sctx)
}

// Init writes a sample config to path. An existing file is left untouched.
func Init(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}

	b, err := gateway.DefaultOption().Marshal()
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
