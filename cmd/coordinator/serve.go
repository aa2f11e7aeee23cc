package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"offline_coordinator/internal/config"
	"offline_coordinator/internal/coordinator"
	"offline_coordinator/internal/health"
	"offline_coordinator/internal/limits"
	"offline_coordinator/internal/message"
	"offline_coordinator/internal/network"
	"offline_coordinator/internal/obs"
	"offline_coordinator/internal/provider"
	"offline_coordinator/internal/runtime"
	"offline_coordinator/internal/server"
	"offline_coordinator/internal/watch"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Install the configured version and intercept requests",
	Long: `Install the configured version into its cache bucket, activate it, and
serve every request through the configured policy.

Control endpoints live under the control prefix (default /__coordinator):
  /ws       page control socket
  /message  one-shot control message (POST)
  /push     push notification delivery (POST)
  /metrics  Prometheus metrics
  /status   registration status

Edits to the config file are picked up as update checks.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	source := provider.NewFileProvider(configPath)
	cfg, err := source.Load(ctx)
	if err != nil {
		return err
	}
	serverLimits, err := limits.FromConfig(cfg.Limits)
	if err != nil {
		return err
	}
	shutdown, err := runtime.ShutdownFromConfig(cfg.Shutdown)
	if err != nil {
		return err
	}

	var logCloser io.Closer
	if cfg.Logging.AccessLogFile != "" {
		logCloser = obs.OpenLogFile(obs.LogFileConfig{
			Path:       cfg.Logging.AccessLogFile,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
			Compress:   cfg.Logging.Compress,
		})
		defer logCloser.Close()
	}

	storage, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer storage.Close()

	metrics := obs.NewMetrics()
	obs.SetDefaultMetrics(metrics)
	fetcher := network.NewFetcher(network.OptionsFromConfig(cfg.Network), metrics)
	healthServer := health.NewServer()
	hub := message.NewHub(metrics)
	if originURL, err := cfg.OriginURL(); err == nil {
		hub.AllowOrigins(originURL.Host)
	}

	reg := coordinator.NewRegistration(coordinator.Deps{
		Storage:  storage,
		Upstream: fetcher,
		Metrics:  metrics,
	}, coordinator.Options{
		Pages:     hub,
		Provider:  source,
		Observers: []coordinator.Observer{healthServer},
	})
	hub.SetDispatcher(reg)
	hub.OnEmpty(reg.PagesGone)

	worker, err := reg.Register(ctx, cfg)
	if err != nil {
		return fmt.Errorf("register %s: %w", cfg.Version, err)
	}
	log.Printf("worker %s is %s bucket=%s", worker.Version(), worker.State(), worker.BucketName())

	if cfg.HealthAddr != "" {
		addr, err := healthServer.Start(cfg.HealthAddr)
		if err != nil {
			return err
		}
		log.Printf("health service on %s", addr)
	}

	stopProbe := make(chan struct{})
	origin, _ := cfg.OriginURL()
	go health.OriginProbeLoop(health.ProbeConfig{}, origin.String(), stopProbe,
		func() { healthServer.SetOriginReachable(true) },
		func() { healthServer.SetOriginReachable(false) })

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	watcher, err := watch.New(configPath, watch.DefaultDebounce, func() {
		if _, err := reg.Update(watchCtx); err != nil {
			log.Printf("update check failed: %v", err)
		}
	})
	if err != nil {
		log.Printf("config watch disabled: %v", err)
	} else {
		go watcher.Run(watchCtx)
	}

	handler := coordinator.NewHandler(reg, hub, metrics, cfg.ControlPath())
	listenAddr := cfg.ListenAddr
	if listenAddr == "" {
		listenAddr = config.DefaultListenAddr
	}
	srv, err := server.StartServer(handler, listenAddr, server.Options{
		Limits:   serverLimits,
		Shutdown: shutdown,
		Inflight: runtime.NewInflightTracker(),
		Stoppers: []server.Stopper{
			server.StopFunc(func(context.Context) error {
				stopWatch()
				close(stopProbe)
				hub.Close()
				return nil
			}),
			server.StopFunc(func(context.Context) error {
				healthServer.Shutdown(shutdown.GracefulTimeout)
				return nil
			}),
		},
		CloseIdle: []func(){fetcher.CloseIdleConnections},
	})
	if err != nil {
		return err
	}
	log.Printf("listening on http://%s control=%s", srv.Addr, cfg.ControlPath())

	<-ctx.Done()
	log.Printf("shutting down")
	start := time.Now()
	err = srv.Shutdown()
	reg.Close()
	log.Printf("shutdown finished in %s", time.Since(start).Round(time.Millisecond))
	return err
}
