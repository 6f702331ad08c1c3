package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wardwatch/wardwatch/server/internal/api"
	"github.com/wardwatch/wardwatch/server/internal/auth"
	"github.com/wardwatch/wardwatch/server/internal/config"
	"github.com/wardwatch/wardwatch/server/internal/dispatch"
	"github.com/wardwatch/wardwatch/server/internal/index"
	"github.com/wardwatch/wardwatch/server/internal/metrics"
	"github.com/wardwatch/wardwatch/server/internal/normalizer"
	"github.com/wardwatch/wardwatch/server/internal/receiver"
	"github.com/wardwatch/wardwatch/server/internal/store"
	"github.com/wardwatch/wardwatch/server/internal/sweeper"
	"github.com/wardwatch/wardwatch/server/internal/ws"
)

// deadLetterCapacity bounds the operator-facing dead-letter ring.
const deadLetterCapacity = 256

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("wardwatch-server starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	mon := cfg.Server.Monitoring
	slog.Info("config loaded",
		"http_port", cfg.Server.HTTPPort,
		"auth_mode", cfg.Server.Auth.Mode,
		"warning_after", mon.WarningAfter,
		"critical_after", mon.CriticalAfter,
		"sweep_interval", mon.SweepInterval,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	m := metrics.New(reg)

	// Engine core: store → index → dispatcher, all fed by the normalizer.
	st := store.New(mon.Thresholds())
	ix := index.New(mon.ClaimLease)

	hub := ws.New(st, m)
	go hub.Run(ctx)

	webhooks := dispatch.NewWebhooks(cfg.Server.Alerts.Webhooks, m)
	disp := dispatch.New(m, hub, webhooks)

	dead := normalizer.NewDeadLetterLog(deadLetterCapacity)
	norm := normalizer.New(st, ix, disp, dead, mon.OrphanTimeout, m)
	go norm.Run(ctx)

	// Passive aging: time alone moves admissions between tiers.
	sw := sweeper.New(st, ix, disp, mon.SweepInterval, m)
	go sw.Run(ctx)

	// Escalation worker drains critical admissions in claimed batches.
	esc := dispatch.NewEscalator(st, ix,
		cfg.Server.Alerts.EscalationInterval,
		cfg.Server.Alerts.EscalationCooldown,
		m, webhooks)
	go esc.Run(ctx)

	// Threshold hot reload: re-derivation happens on the next sweep.
	go func() {
		err := config.Watch(ctx, *configPath, func(next *config.Config) {
			st.SetThresholds(next.Server.Monitoring.Thresholds())
			slog.Info("monitoring thresholds updated",
				"warning_after", next.Server.Monitoring.WarningAfter,
				"critical_after", next.Server.Monitoring.CriticalAfter,
			)
		})
		if err != nil {
			slog.Error("config watch stopped", "err", err)
		}
	}()

	guard := auth.APIKeyMiddleware(
		cfg.Server.Auth.Mode,
		cfg.Server.Auth.EffectiveHeader(),
		cfg.Server.Auth.Key(),
	)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/events", guard(receiver.New(norm)))
	mux.Handle("/api/", guard(api.New(st, disp, dead)))
	mux.Handle("/ws/stream", hub)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: mux,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("wardwatch-server shutting down")
	httpSrv.Shutdown(context.Background()) //nolint:errcheck
}
