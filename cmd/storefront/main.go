package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"FruitMarket/internal/api"
	"FruitMarket/internal/cart"
	"FruitMarket/internal/checkout"
	"FruitMarket/internal/config"
	"FruitMarket/internal/hardware"
	"FruitMarket/internal/session"
	"FruitMarket/internal/storage"
	"FruitMarket/internal/storefront"
	"FruitMarket/pkg/kit"
)

func main() {
	service := "storefront"

	cfg, err := config.Load(service, "8080")
	if err != nil {
		kit.NewLogger(service, "info").Fatal("config", zap.Error(err))
	}

	log := kit.NewLogger(service, cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := kit.InitTracing(service, cfg.Tracing.Stdout, log)
	if err != nil {
		log.Fatal("init tracing failed", zap.Error(err))
	}

	store, err := storage.Open(ctx, storage.Options{
		Driver: cfg.Storage.Driver,
		DSN:    cfg.Storage.DSN,
		Prefix: cfg.Storage.Prefix,
	})
	if err != nil {
		log.Fatal("open storage failed", zap.Error(err), zap.String("driver", cfg.Storage.Driver))
	}
	defer func() { _ = store.Close() }()

	reg := prometheus.NewRegistry()

	client := api.New(cfg.API.BaseURL,
		api.WithTimeout(cfg.API.Timeout),
		api.WithRateLimit(cfg.API.RatePerSec, cfg.API.Burst),
		api.WithLatestPath(cfg.Hardware.LatestPath),
		api.WithLogger(log),
	)

	sess := session.NewManager(client, store, log)
	client.Tokens = sess
	if err := sess.Restore(ctx); err != nil && !errors.Is(err, session.ErrNoSession) {
		log.Warn("restore session failed", zap.Error(err))
	}

	ct := cart.NewStore(ctx, store, cfg.Cart.Key,
		cart.WithPinPolls(cfg.Cart.PinPolls),
		cart.WithLogger(log),
		cart.WithRegistry(reg),
	)

	poller := hardware.NewPoller(client, client, ct, hardware.Config{
		Interval:       cfg.Hardware.PollInterval,
		CatalogRefresh: cfg.Hardware.CatalogRefresh,
		Log:            log,
		Registry:       reg,
	})

	s := &storefront.Server{
		Log:             log,
		Cart:            ct,
		Remote:          client,
		Poller:          poller,
		Session:         sess,
		Storage:         store,
		CheckoutMetrics: checkout.NewMetrics(reg),
		BaseCtx:         ctx,
	}

	h, err := storefront.NewHandler(s, storefront.HTTPDeps{
		Log:            log,
		Service:        service,
		Registry:       reg,
		MetricsEnabled: cfg.Metrics.Enabled,
		MetricsToken:   cfg.Metrics.Token,
		APIBaseURL:     cfg.API.BaseURL,
	})
	if err != nil {
		log.Fatal("init storefront handler failed", zap.Error(err))
	}

	err = kit.RunHTTPServer(ctx, ":"+cfg.Port, h, log,
		s.Shutdown,
		func(ctx context.Context) {
			if err := shutdownTracing(ctx); err != nil {
				log.Warn("tracing shutdown", zap.Error(err))
			}
		},
	)
	if err != nil {
		log.Fatal("http server stopped", zap.Error(err))
	}
}
