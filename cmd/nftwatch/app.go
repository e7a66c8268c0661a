package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/nftwatch/nftwatch/internal/bithomp"
	"github.com/nftwatch/nftwatch/internal/config"
	"github.com/nftwatch/nftwatch/internal/events"
	"github.com/nftwatch/nftwatch/internal/httpx"
	"github.com/nftwatch/nftwatch/internal/metadata"
	"github.com/nftwatch/nftwatch/internal/metrics"
	"github.com/nftwatch/nftwatch/internal/notify"
	"github.com/nftwatch/nftwatch/internal/render"
	"github.com/nftwatch/nftwatch/internal/rpc"
	"github.com/nftwatch/nftwatch/internal/state"
	"github.com/nftwatch/nftwatch/internal/tracker"
	"github.com/nftwatch/nftwatch/internal/watcher"
	"github.com/nftwatch/nftwatch/internal/xrpl"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type app struct {
	watcher  *watcher.Watcher
	notifier *notify.Multi
	store    state.Store
	registry *prometheus.Registry
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(registry)

	apiClient := httpx.NewClient(cfg.RequestTimeout(), cfg.HttpMaxRetries)
	// sends are not idempotent, a retried timeout could post twice
	sendClient := httpx.NewClient(cfg.RequestTimeout(), 0)

	renderer, err := render.New(render.Options{
		CollectionName:   cfg.CollectionName,
		SaleTemplatePath: cfg.SaleTemplatePath,
		MintTemplatePath: cfg.MintTemplatePath,
	})
	if err != nil {
		return nil, err
	}

	sinks := []notify.Notifier{
		notify.NewTelegram(cfg.TelegramApiUrl, cfg.TelegramBotToken, cfg.TelegramChatId, cfg.TelegramRatePerMinute, sendClient),
	}
	if cfg.NatsUrl != "" {
		js, err := notify.NewJetStream(ctx, cfg.NatsUrl, cfg.NatsSubjectPrefix, cfg.IssuerAddress)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, js)
	}
	notifier := notify.NewMulti(m, sinks...)

	store, err := state.Open(cfg)
	if err != nil {
		notifier.Close()
		return nil, err
	}

	sources := []watcher.Source{
		watcher.NewSalesSource(bithomp.NewClient(cfg.BithompApiUrl, cfg.BithompApiToken, cfg.IssuerAddress, apiClient), m),
		watcher.NewMintsSource(xrpl.NewClient(cfg.XrplRpcUrl, apiClient), cfg.IssuerAddress, cfg.MintPageLimit, m),
	}

	w := watcher.New(ctx, watcher.Options{
		Interval:        cfg.PollInterval(),
		BackoffMax:      cfg.BackoffMax(),
		ErrorThreshold:  cfg.ErrorThreshold,
		Capacity:        cfg.MaxSeen,
		AnchorMissLimit: cfg.AnchorMissLimit,
		Filter: tracker.AgeFilter{
			MaxAge:        cfg.MaxEventAge(),
			AllowBackfill: cfg.AllowBackfill,
		},
	}, watcher.Deps{
		Resolver: metadata.NewResolver(apiClient, cfg.IpfsGateway),
		Renderer: renderer,
		Notifier: notifier,
		Store:    store,
		Metrics:  m,
	}, sources...)

	return &app{watcher: w, notifier: notifier, store: store, registry: registry}, nil
}

func (a *app) Close() {
	if err := a.notifier.Close(); err != nil {
		zap.L().Warn("Error closing notifiers", zap.Error(err))
	}
	if err := a.store.Close(); err != nil {
		zap.L().Warn("Error closing state store", zap.Error(err))
	}
}

func runWatch(cmd *cobra.Command, _ []string) error {
	zap.L().Info("Starting nftwatch...", zap.String("Version", Version))
	cfg := config.Get()
	if err := cfg.Validate(); err != nil {
		zap.L().Fatal("Invalid configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to start", zap.Error(err))
	}

	closeRpcServer := func() {}
	if cfg.RPCPort > 0 {
		closeRpcServer = rpc.StartRPCServer(cfg.RPCPort, a.watcher, a.registry, ctx)
	}

	// first signal stops gracefully, a second one forces exit
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		<-sigCh
		zap.L().Info("Received shutdown signal, initiating graceful shutdown...")
		cancel()

		<-sigCh
		zap.L().Error("Received second signal, forcing shutdown")
		os.Exit(1)
	}()

	err = a.watcher.Run(ctx)

	closeRpcServer()
	a.Close()
	zap.L().Info("Shutdown complete")
	_ = zap.L().Sync()
	return err
}

func printState(ctx context.Context, cfg config.Config, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := state.Open(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	result := map[string]any{}
	for _, kind := range []events.Kind{events.KindSale, events.KindMint} {
		snap, found, err := store.Load(ctx, string(kind))
		if err != nil {
			return err
		}
		if !found {
			result[string(kind)] = nil
			continue
		}
		result[string(kind)] = snap
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("failed to print state: %w", err)
	}
	return nil
}
