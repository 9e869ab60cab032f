// Package main is the entry point for the configuration service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vitaliisemenov/mhconf/internal/authz"
	"github.com/vitaliisemenov/mhconf/internal/config"
	"github.com/vitaliisemenov/mhconf/internal/coordinator"
	"github.com/vitaliisemenov/mhconf/internal/merge"
	"github.com/vitaliisemenov/mhconf/internal/service"
	"github.com/vitaliisemenov/mhconf/internal/transport"
	"github.com/vitaliisemenov/mhconf/pkg/logger"
)

const (
	serviceName    = "mhconf"
	serviceVersion = "1.0.0"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional, falls back to defaults + env)")
	showVersion := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s version %s\n", serviceName, serviceVersion)
		os.Exit(0)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		Filename:   cfg.Log.Filename,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})
	log.Info("starting", "service", serviceName, "version", serviceVersion, "roots", len(cfg.Roots))

	registry := prometheus.NewRegistry()
	svc := service.New(log,
		service.WithAuthenticator(authz.AllowAllAuthenticator{}),
		service.WithCacheConfig(cacheConfigFrom(cfg.Cache)),
		service.WithGCSchedule(gcWindowsFrom(cfg.GC), gcPeriodsFrom(cfg.GC)),
		service.WithMetricsRegistry(registry),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := svc.Start(ctx); err != nil {
		log.Error("start service", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle("/", transport.NewServer(svc, log))
	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("http server starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http server forced shutdown", "error", err)
	}
	if err := svc.Stop(shutdownCtx); err != nil {
		log.Error("service shutdown", "error", err)
	}
	log.Info("exited")
}

func cacheConfigFrom(cc config.CacheConfig) merge.CacheConfig {
	def := merge.DefaultCacheConfig()
	if cc.Gen0Window > 0 {
		def.Gen0Window = cc.Gen0Window
	}
	if cc.Gen1Window > 0 {
		def.Gen1Window = cc.Gen1Window
	}
	if cc.Gen2Window > 0 {
		def.Gen2Window = cc.Gen2Window
	}
	return def
}

func gcPeriodsFrom(gc config.GCConfig) map[coordinator.GCPass]time.Duration {
	return map[coordinator.GCPass]time.Duration{
		coordinator.PassMCGen0:       gc.MCGen0Interval,
		coordinator.PassMCGen1:       gc.MCGen1Interval,
		coordinator.PassMCGen2:       gc.MCGen2Interval,
		coordinator.PassDeadPointers: gc.DeadPointersInterval,
		coordinator.PassNamespaces:   gc.NamespacesInterval,
		coordinator.PassVersions:     gc.VersionsInterval,
	}
}

func gcWindowsFrom(gc config.GCConfig) map[coordinator.GCPass]time.Duration {
	return map[coordinator.GCPass]time.Duration{
		coordinator.PassNamespaces: gc.NamespaceMaxIdle,
		coordinator.PassVersions:   gc.VersionRetentionWindow,
	}
}
