package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/edvin/mfafarm/internal/app"
	"github.com/edvin/mfafarm/internal/config"
	"github.com/edvin/mfafarm/internal/logging"
	"github.com/edvin/mfafarm/internal/metrics"
	"github.com/edvin/mfafarm/internal/notify"
)

const topologyRefresh = 10 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "mfa-agent"
	}

	if err := cfg.Validate("agent"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.Build(ctx, cfg, logger, app.Options{
		ListenAddr: cfg.NotifyListenAddr,
		Migrate:    true,
		Refresh:    topologyRefresh,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start control plane")
	}
	defer a.Close()

	if err := metrics.RegisterConfigPoolMetrics(prometheus.DefaultRegisterer, a.Pool); err != nil {
		logger.Warn().Err(err).Msg("failed to register pool metrics")
	}

	orch := a.Orchestrator
	if err := orch.Configs().Ensure(ctx); err != nil {
		logger.Warn().Err(err).Msg("configuration not loaded, serving from cache")
		if err := orch.Configs().LoadCached(); err != nil {
			logger.Warn().Err(err).Msg("no cached configuration")
		}
	}

	unsubscribe := a.Reactor.Attach(a.Bus)
	defer unsubscribe()
	go a.Reactor.Run(ctx)

	go func() {
		logger.Info().Str("addr", cfg.NotifyListenAddr).Str("node", a.LocalName).Msg("starting notification bus")
		if err := a.Bus.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, notify.ErrBusClosed) {
			logger.Error().Err(err).Msg("notification bus failed")
		}
	}()

	var metricsSrv *http.Server
	if cfg.MetricsListenAddr != "" {
		metricsSrv = metrics.NewServer(cfg.MetricsListenAddr, func(ctx context.Context) (any, error) {
			return orch.FarmStatus(ctx)
		})
		go func() {
			logger.Info().Str("addr", cfg.MetricsListenAddr).Msg("starting metrics server")
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down agent")
	cancel()
	if metricsSrv != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		metricsSrv.Shutdown(shutdownCtx)
	}
}
