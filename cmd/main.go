package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/partline/partline/pkg/config"
	"github.com/partline/partline/pkg/logx"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.Load()
	logx.SetDefaultLogger(logx.NewLogger(logx.LoadFromEnv()))

	logx.WithFields(logx.Fields{
		"app": cfg.App.Name,
		"env": cfg.App.Env,
	}).Info("starting worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	container, err := NewContainer(ctx, cfg)
	if err != nil {
		logx.WithError(err).Error("startup failed")
		return 1
	}
	defer container.Cleanup()

	ops := newOpsServer(container)
	go func() {
		if err := ops.Listen(cfg.App.OpsAddr); err != nil {
			logx.WithError(err).Error("ops server stopped")
		}
	}()
	defer func() {
		if err := ops.ShutdownWithTimeout(5 * time.Second); err != nil {
			logx.WithError(err).Warn("ops server shutdown error")
		}
	}()

	if err := container.Supervisor.Run(ctx); err != nil {
		logx.WithError(err).Error("worker stopped with error")
		return 1
	}

	logx.Info("worker drained cleanly")
	return 0
}
