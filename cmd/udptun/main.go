// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package main runs the udptun tunnel endpoints with metrics and
// health checks.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/absmach/udptun"
	"github.com/absmach/udptun/pkg/health"
	"github.com/absmach/udptun/pkg/metrics"
	"github.com/absmach/udptun/pkg/sockopt"
	"github.com/absmach/udptun/pkg/tcp2udp"
	"github.com/absmach/udptun/pkg/udp2tcp"
)

const (
	svcPrefix     = "UDPTUN_"
	tcp2udpPrefix = "UDPTUN_TCP2UDP_"
	udp2tcpPrefix = "UDPTUN_UDP2TCP_"
)

type serviceConfig struct {
	LogLevel      string `env:"LOG_LEVEL"      envDefault:"info"`
	LogFormat     string `env:"LOG_FORMAT"     envDefault:"json"`
	MetricsPort   int    `env:"METRICS_PORT"   envDefault:"9090"`
	HealthPort    int    `env:"HEALTH_PORT"    envDefault:"8080"`
	MaxGoroutines int    `env:"MAX_GOROUTINES" envDefault:"50000"`
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	// .env is optional; environment variables win either way.
	_ = godotenv.Load()

	svcCfg := serviceConfig{}
	if err := env.ParseWithOptions(&svcCfg, env.Options{Prefix: svcPrefix}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse service config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(svcCfg.LogLevel, svcCfg.LogFormat)
	slog.SetDefault(logger)

	t2uCfg, err := udptun.NewTCP2UDPConfig(env.Options{Prefix: tcp2udpPrefix})
	if err != nil {
		logger.Error("failed to parse tcp2udp config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	u2tCfg, err := udptun.NewUDP2TCPConfig(env.Options{Prefix: udp2tcpPrefix})
	if err != nil {
		logger.Error("failed to parse udp2tcp config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if len(t2uCfg.ListenAddresses) == 0 && u2tCfg.ListenAddress == "" {
		logger.Error("no tunnel endpoints configured",
			slog.String("hint", tcp2udpPrefix+"TCP_LISTEN or "+udp2tcpPrefix+"UDP_LISTEN must be set"))
		os.Exit(1)
	}

	m := metrics.New("udptun")

	var t2uServer *tcp2udp.Server
	if len(t2uCfg.ListenAddresses) > 0 {
		t2uServer = tcp2udp.New(tcp2udp.Config{
			ListenAddresses: t2uCfg.ListenAddresses,
			TargetAddress:   t2uCfg.TargetAddress,
			UDPBindIP:       t2uCfg.UDPBindIP,
			MaxSessions:     t2uCfg.MaxSessions,
			ShutdownTimeout: t2uCfg.ShutdownTimeout,
			TCPOptions: sockopt.TCPOptions{
				DisableNoDelay: t2uCfg.DisableNoDelay,
				KeepAlive:      t2uCfg.TCPKeepAlive,
				SendBuffer:     t2uCfg.TCPSendBuffer,
				RecvBuffer:     t2uCfg.TCPRecvBuffer,
			},
			UDPReadBuffer:  t2uCfg.UDPReadBuffer,
			UDPWriteBuffer: t2uCfg.UDPWriteBuffer,
			Logger:         logger,
			Metrics:        m,
		})
		g.Go(func() error {
			return t2uServer.Listen(ctx)
		})
	}

	if u2tCfg.ListenAddress != "" {
		u2tServer := udp2tcp.New(udp2tcp.Config{
			ListenAddress: u2tCfg.ListenAddress,
			TargetAddress: u2tCfg.TargetAddress,
			TCPOptions: sockopt.TCPOptions{
				DisableNoDelay: u2tCfg.DisableNoDelay,
				KeepAlive:      u2tCfg.TCPKeepAlive,
				SendBuffer:     u2tCfg.TCPSendBuffer,
				RecvBuffer:     u2tCfg.TCPRecvBuffer,
			},
			UDPReadBuffer:  u2tCfg.UDPReadBuffer,
			UDPWriteBuffer: u2tCfg.UDPWriteBuffer,
			Logger:         logger,
			Metrics:        m,
		})
		g.Go(func() error {
			return u2tServer.Listen(ctx)
		})
	}

	healthChecker := health.NewChecker(10 * time.Second)
	healthChecker.Register("goroutines", func(ctx context.Context) error {
		if count := runtime.NumGoroutine(); count > svcCfg.MaxGoroutines {
			return fmt.Errorf("too many goroutines: %d > %d", count, svcCfg.MaxGoroutines)
		}
		return nil
	})
	if t2uServer != nil && t2uCfg.MaxSessions > 0 {
		server := t2uServer
		limit := t2uCfg.MaxSessions
		healthChecker.Register("sessions", func(ctx context.Context) error {
			if count := server.SessionCount(); count >= limit {
				return fmt.Errorf("session limit reached: %d of %d", count, limit)
			}
			return nil
		})
	}

	g.Go(func() error {
		return serveHTTP(ctx, svcCfg.MetricsPort, promhttp.Handler(), "metrics", logger)
	})
	g.Go(func() error {
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", healthChecker.HTTPHandler())
		mux.HandleFunc("/readyz", healthChecker.ReadinessHandler())
		mux.HandleFunc("/livez", health.LivenessHandler())
		return serveHTTP(ctx, svcCfg.HealthPort, mux, "health", logger)
	})

	g.Go(func() error {
		return stopSignalHandler(ctx, cancel, logger)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("udptun terminated with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("udptun stopped")
}

func setupLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if strings.ToLower(format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func serveHTTP(ctx context.Context, port int, handler http.Handler, name string, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(name+" server started", slog.String("address", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s server failed: %w", name, err)
		}
		return nil
	}
}

func stopSignalHandler(ctx context.Context, cancel context.CancelFunc, logger *slog.Logger) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", slog.String("signal", sig.String()))
		cancel()
		return nil
	case <-ctx.Done():
		return nil
	}
}
