package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"FruitMarket/internal/config"
	"FruitMarket/internal/devapi"
	"FruitMarket/pkg/kit"
)

func main() {
	service := "devapi"

	cfg, err := config.Load(service, "8090")
	if err != nil {
		kit.NewLogger(service, "info").Fatal("config", zap.Error(err))
	}

	log := kit.NewLogger(service, cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	if len(cfg.DevAPI.JWTSecret) < 32 {
		log.Fatal("JWT_SECRET is required and must be at least 32 chars")
	}

	st := devapi.NewStore()
	if err := devapi.Seed(st, cfg.DevAPI.StaffEmail, cfg.DevAPI.StaffPassword); err != nil {
		log.Fatal("seed failed", zap.Error(err))
	}

	s := &devapi.Server{
		Store:    st,
		JWT:      devapi.NewTokenMaker(cfg.DevAPI.JWTSecret),
		Log:      log,
		TokenTTL: cfg.DevAPI.TokenTTL,
	}

	reg := prometheus.NewRegistry()
	h := devapi.NewHandler(s, devapi.HTTPDeps{
		Log:            log,
		Service:        service,
		Registry:       reg,
		MetricsEnabled: cfg.Metrics.Enabled,
		MetricsToken:   cfg.Metrics.Token,
	})

	log.Info("seeded staff account", zap.String("email", cfg.DevAPI.StaffEmail))

	if err := kit.RunHTTPServer(context.Background(), ":"+cfg.Port, h, log); err != nil {
		log.Fatal("http server stopped", zap.Error(err))
	}
}
