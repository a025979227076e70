// Package main wires together the view-tracking agent binary.
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

	"go.uber.org/zap"

	"github.com/notionviews/agent/internal/app"
	"github.com/notionviews/agent/internal/config"
	"github.com/notionviews/agent/internal/logging"
	"github.com/notionviews/agent/internal/metrics"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("init services failed", zap.Error(err))
	}
	defer a.Close()

	if a.Observer != nil {
		go func() {
			if err := a.Observer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("observer stopped", zap.Error(err))
				stop()
			}
		}()
	}

	go func() {
		if err := a.Monitor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("monitor stopped", zap.Error(err))
		}
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port),
		Handler:           a.Server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("control api started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
