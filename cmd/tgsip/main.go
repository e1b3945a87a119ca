package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tgsip/tgsip/internal/api"
	"github.com/tgsip/tgsip/internal/config"
	"github.com/tgsip/tgsip/internal/eventqueue"
	"github.com/tgsip/tgsip/internal/gateway"
	"github.com/tgsip/tgsip/internal/media"
	"github.com/tgsip/tgsip/internal/metrics"
	sipserver "github.com/tgsip/tgsip/internal/sip"
	"github.com/tgsip/tgsip/internal/telegram"
	"github.com/tgsip/tgsip/internal/voip"
)

const settingsPath = "settings.ini"

// telegramReadyTimeout bounds the wait for the stored TDLib session to
// authorize. A fresh database folder cannot authorize on its own; the
// session has to be created beforehand.
const telegramReadyTimeout = 5 * time.Second

func main() {
	cfg, err := config.Load(settingsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging.
	logOut := os.Stdout
	if cfg.Logging.File != "" {
		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: opening log file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		logOut = f
	}
	logger := slog.New(cfg.SlogHandler(logOut))
	slog.SetDefault(logger)

	slog.Info("starting tgsip",
		"sip_port", cfg.SIP.Port,
		"http_listen", cfg.HTTP.ListenAddress,
		"database_folder", cfg.Telegram.DatabaseFolder,
	)

	// Application context for background goroutines.
	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	// RTP port pool shared by all call legs.
	pool, err := media.NewPool(cfg.SIP.RTPPortMin, cfg.SIP.RTPPortMax, logger)
	if err != nil {
		slog.Error("failed to create rtp port pool", "error", err)
		os.Exit(1)
	}

	// Address advertised in SDP and Contact headers.
	publicAddr := cfg.SIP.PublicAddress
	if publicAddr == "" && cfg.SIP.STUNServer != "" {
		publicAddr, err = media.PublicAddress(cfg.SIP.STUNServer, logger)
		if err != nil {
			slog.Warn("stun lookup failed, falling back to local address", "error", err)
			publicAddr = ""
		}
	}
	if publicAddr == "" {
		publicAddr = cfg.MediaIP()
	}

	// Event queues feeding the dispatcher.
	tgEvents := eventqueue.New[telegram.Object]()
	sipEvents := eventqueue.New[sipserver.Event]()

	// Telegram engine and client.
	engine, err := telegram.NewEngine()
	if err != nil {
		slog.Error("failed to create telegram engine", "error", err)
		os.Exit(1)
	}
	tgCfg := telegram.Config{
		APIID:              cfg.Telegram.APIID,
		APIHash:            cfg.Telegram.APIHash,
		DatabaseFolder:     cfg.Telegram.DatabaseFolder,
		SystemLanguageCode: cfg.Telegram.SystemLanguageCode,
		DeviceModel:        cfg.Telegram.DeviceModel,
		Verbosity:          cfg.Logging.TDLibVerbosity,
	}
	if cfg.Telegram.UseProxy {
		tgCfg.Proxy = &telegram.Proxy{
			Address:  cfg.Telegram.ProxyAddress,
			Port:     int32(cfg.Telegram.ProxyPort),
			Username: cfg.Telegram.ProxyUsername,
			Password: cfg.Telegram.ProxyPassword,
		}
	}
	tgClient := telegram.NewClient(engine, tgCfg, tgEvents, logger)
	tgClient.Start()
	if err := tgClient.WaitReady(telegramReadyTimeout); err != nil {
		slog.Error("telegram session did not become ready", "error", err)
		os.Exit(1)
	}
	slog.Info("telegram session ready")

	// Contact store persists resolutions across restarts. The gateway
	// works without it, the cache just starts cold.
	store, err := gateway.OpenContactStore(cfg.Telegram.DatabaseFolder, logger)
	if err != nil {
		slog.Warn("contact store unavailable, cache will not persist", "error", err)
		store = nil
	}

	// SIP adapter.
	sipCfg := sipserver.Config{
		Port:          cfg.SIP.Port,
		IDURI:         cfg.SIP.IDURI,
		CallbackURI:   cfg.SIP.CallbackURI,
		PublicAddress: publicAddr,
		Username:      cfg.SIP.Username,
		AuthUsername:  cfg.SIP.AuthUsername,
		Password:      cfg.SIP.Password,
		RawPCM:        cfg.SIP.RawPCM,
		ThreadCount:   cfg.SIP.ThreadCount,
	}
	sipAdapter, err := sipserver.New(sipCfg, pool, sipEvents, logger)
	if err != nil {
		slog.Error("failed to create sip adapter", "error", err)
		os.Exit(1)
	}
	if err := sipAdapter.Start(appCtx); err != nil {
		slog.Error("failed to start sip adapter", "error", err)
		os.Exit(1)
	}

	// Per-call voice transport. The native binding is an external
	// collaborator injected through the factory; builds without one
	// reject calls at media setup while signaling stays functional.
	voipCfg := voip.DefaultConfig()
	voipCfg.EnableAEC = cfg.Telegram.EnableAEC
	voipCfg.EnableNS = cfg.Telegram.EnableNS
	voipCfg.EnableAGC = cfg.Telegram.EnableAGC
	if cfg.Telegram.UseVoipProxy {
		voipCfg.Proxy = &voip.Proxy{
			Host:     cfg.Telegram.VoipProxyAddress,
			Port:     uint16(cfg.Telegram.VoipProxyPort),
			Username: cfg.Telegram.VoipProxyUsername,
			Password: cfg.Telegram.VoipProxyPassword,
		}
	}

	gwCfg := gateway.Config{
		CallbackURI:  cfg.SIP.CallbackURI,
		UDPP2P:       cfg.Telegram.UDPP2P,
		UDPReflector: cfg.Telegram.UDPReflector,
		ExtraWait:    cfg.Other.ExtraWaitTime,
		PeerFlood:    cfg.Other.PeerFloodTime,
		Voip:         voipCfg,
	}
	dispatcher := gateway.New(gwCfg, tgClient, sipAdapter, voip.UnavailableFactory,
		tgEvents, sipEvents, store, logger)
	go dispatcher.Run(appCtx)

	// Ops HTTP server, disabled when no listen address is configured.
	var (
		opsHandler *api.Server
		opsSrv     *http.Server
	)
	errCh := make(chan error, 1)
	if cfg.HTTP.ListenAddress != "" {
		registry := prometheus.NewRegistry()
		registry.MustRegister(metrics.NewCollector(
			&bridgeStatsAdapter{d: dispatcher},
			tgClient,
			sipAdapter,
			pool,
			time.Now(),
		))
		metricsHandler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

		opsHandler = api.NewServer(tgClient, dispatcher, sipAdapter, metricsHandler)
		opsSrv = &http.Server{
			Addr:         cfg.HTTP.ListenAddress,
			Handler:      opsHandler,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			slog.Info("ops server listening", "addr", opsSrv.Addr)
			if err := opsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()
	}

	// Wait for interrupt or ops server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("ops server error", "error", err)
	}

	// Teardown order: stop feeding the bridges, hang up what is left on
	// the SIP side, then join the Telegram worker.
	slog.Info("shutting down")
	dispatcher.Stop()
	appCancel()
	sipAdapter.Close()
	if err := tgClient.Close(); err != nil {
		slog.Error("telegram client close error", "error", err)
	}

	if opsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := opsSrv.Shutdown(ctx); err != nil {
			slog.Error("ops server shutdown error", "error", err)
		}
		opsHandler.Close()
	}
	if store != nil {
		if err := store.Close(); err != nil {
			slog.Error("contact store close error", "error", err)
		}
	}

	slog.Info("tgsip stopped")
}

// bridgeStatsAdapter converts the dispatcher snapshot into the metrics
// package's provider shape.
type bridgeStatsAdapter struct {
	d *gateway.Dispatcher
}

func (a *bridgeStatsAdapter) BridgeStats() metrics.BridgeStats {
	snap := a.d.Snapshot()
	return metrics.BridgeStats{
		ActiveCalls:        snap.ActiveCalls,
		FromTelegramTotal:  snap.FromTelegramTotal,
		FromSIPTotal:       snap.FromSIPTotal,
		BridgedTotal:       snap.BridgedTotal,
		DTMFTotal:          snap.DTMFTotal,
		FloodRejectedTotal: snap.FloodRejectedTotal,
		GateBlockedFor:     snap.GateBlockedFor,
		CachedUsernames:    snap.CachedUsernames,
		CachedPhones:       snap.CachedPhones,
		TelegramQueueDepth: snap.TelegramQueueDepth,
		SIPQueueDepth:      snap.SIPQueueDepth,
		InternalQueueDepth: snap.InternalQueueDepth,
	}
}
