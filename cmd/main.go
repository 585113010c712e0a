// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/absmach/wsserial"
	"github.com/absmach/wsserial/examples/simple"
	"github.com/absmach/wsserial/pkg/endpoint"
	"github.com/absmach/wsserial/pkg/handler"
	"github.com/absmach/wsserial/pkg/health"
	"github.com/absmach/wsserial/pkg/metrics"
	"github.com/absmach/wsserial/pkg/proxy"
	"github.com/absmach/wsserial/pkg/ratelimit"
	"github.com/absmach/wsserial/pkg/serial"
	"github.com/absmach/wsserial/pkg/session"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

const (
	svcName           = "wsserial"
	defaultConfigFile = "config.yaml"
)

func main() {
	// .env file is optional
	_ = godotenv.Load()

	cfg, err := wsserial.NewConfig(env.Options{Prefix: wsserial.EnvPrefix})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

	path, err := configPath(os.Args[1:], cfg.EndpointsFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	file, err := endpoint.Load(path)
	if err != nil {
		logger.Error("failed to load endpoints", slog.String("file", path), slog.String("error", err.Error()))
		os.Exit(1)
	}
	host, port := bindAddress(cfg, file)

	if ports, err := serial.ListPorts(); err == nil {
		logger.Debug("serial ports detected", slog.Any("ports", ports))
	}

	m := metrics.New(svcName, prometheus.DefaultRegisterer)
	coord := session.NewCoordinator(logger)

	limiter := ratelimit.NewLimiter(cfg.RateLimit, cfg.RateBurst, 0)
	defer limiter.Close()

	p, err := proxy.New(proxy.Config{
		Host:            host,
		Port:            port,
		Registry:        file.Registry,
		Opener:          serial.NewOpener(cfg.SerialPollInterval),
		Coordinator:     coord,
		Handler:         handler.Chain{simple.New(logger), metrics.NewHandler(m)},
		Metrics:         m,
		Limiter:         limiter,
		BufferSize:      cfg.ReadBufferSize,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          logger,
	})
	if err != nil {
		logger.Error("failed to create proxy", slog.String("error", err.Error()))
		os.Exit(1)
	}

	checker := health.NewChecker(5 * time.Second)
	for _, dev := range file.Registry.Devices() {
		checker.Register("device:"+dev, health.DeviceCheck(dev))
	}
	checker.Register("shutdown", health.ShutdownCheck(coord.ShuttingDown))

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return p.Listen(ctx)
	})

	if cfg.MetricsPort != "" {
		g.Go(func() error {
			return serveObservability(ctx, cfg.MetricsPort, checker, logger)
		})
	}

	// Signal handler
	g.Go(func() error {
		return StopSignalHandler(ctx, cancel, logger)
	})

	if err := g.Wait(); err != nil {
		logger.Error(fmt.Sprintf("%s service terminated with error: %s", svcName, err))
		os.Exit(1)
	}
	logger.Info(fmt.Sprintf("%s service stopped", svcName))
}

// configPath picks the endpoint file: -c/--config, then the first
// positional argument, then envPath, then config.yaml.
func configPath(args []string, envPath string) (string, error) {
	fs := pflag.NewFlagSet(svcName, pflag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [-c config.yaml | config.yaml]\n", svcName)
		fs.PrintDefaults()
	}
	flagPath := fs.StringP("config", "c", "", "path to the endpoint configuration file")
	if err := fs.Parse(args); err != nil {
		return "", err
	}

	switch {
	case *flagPath != "":
		return *flagPath, nil
	case fs.NArg() > 0:
		return fs.Arg(0), nil
	case envPath != "":
		return envPath, nil
	default:
		return defaultConfigFile, nil
	}
}

// bindAddress applies the HOST and PORT overrides to the file's listener settings.
func bindAddress(cfg wsserial.Config, file *endpoint.File) (string, string) {
	host, port := file.BindAddress, strconv.Itoa(file.BindPort)
	if cfg.Host != "" {
		host = cfg.Host
	}
	if cfg.Port != "" {
		port = cfg.Port
	}
	return host, port
}

// serveObservability serves Prometheus metrics and health probes until ctx is done.
func serveObservability(ctx context.Context, port string, checker *health.Checker, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", checker.HTTPHandler())
	mux.HandleFunc("/ready", checker.ReadinessHandler())
	mux.HandleFunc("/live", health.LivenessHandler())

	srv := &http.Server{
		Addr:         net.JoinHostPort("", port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("observability server started", slog.String("address", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("observability server: %w", err)
	}
}

// setupLogger creates a structured logger with the specified level and format.
func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var h slog.Handler
	if format == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

func StopSignalHandler(ctx context.Context, cancel context.CancelFunc, logger *slog.Logger) error {
	c := make(chan os.Signal, 2)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(c)
	select {
	case sig := <-c:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
		return nil
	case <-ctx.Done():
		return nil
	}
}
