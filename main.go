package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"membership-app/config"
	adminapi "membership-app/internal/api/admin"
	checkoutapi "membership-app/internal/api/checkout"
	membershipsapi "membership-app/internal/api/memberships"
	stripewebhooks "membership-app/internal/api/stripewebhook"
	"membership-app/internal/app"
	routes "membership-app/internal/app/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, "membership-api")
	if err != nil {
		log.Fatalf("startup: %v", err)
	}
	defer func() { _ = a.Log.Sync() }()

	r := gin.New()
	r.Use(gin.Recovery())

	// Add CORS middleware before registering routes
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{cfg.CORSOrigin},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	routes.RegisterRoutes(r, routes.Handlers{
		Webhook:     stripewebhooks.NewHandler(a.Gateway, a.Reconciler, a.Log),
		Checkout:    checkoutapi.NewHandler(a.Checkout, a.Log),
		Memberships: membershipsapi.NewHandler(a.Memberships, a.Log),
		Admin:       adminapi.NewHandler(a.DB, a.Resync, a.Log),
		Metrics:     promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}),
		JWTSecret:   []byte(cfg.JWTSecret),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		a.Log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.Fatal("http server stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()
	a.Log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.Log.Error("graceful shutdown failed", zap.Error(err))
	}
}
