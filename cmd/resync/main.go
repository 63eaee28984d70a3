// Command resync rebuilds the local customer, subscription and payment
// tables from the gateway.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"membership-app/config"
	"membership-app/internal/app"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, "membership-resync")
	if err != nil {
		log.Fatalf("startup: %v", err)
	}
	defer func() { _ = a.Log.Sync() }()

	rep, err := a.Resync.Run(ctx)
	fmt.Println(rep.String())
	if err != nil {
		a.Log.Error("resync failed", zap.String("stage", rep.FailedStage), zap.Error(err))
		_ = a.Log.Sync()
		os.Exit(1)
	}
}
