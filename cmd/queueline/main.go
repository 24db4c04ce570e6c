// queueline is the real-time per-session queue coordinator for physical
// waitlists: HTTP/WebSocket API, durable Postgres log, and a shared push
// dispatcher.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/waitline/queueline/pkg/api"
	"github.com/waitline/queueline/pkg/cleanup"
	"github.com/waitline/queueline/pkg/config"
	"github.com/waitline/queueline/pkg/coordinator"
	"github.com/waitline/queueline/pkg/hostauth"
	"github.com/waitline/queueline/pkg/push"
	"github.com/waitline/queueline/pkg/router"
	"github.com/waitline/queueline/pkg/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file loaded, continuing with existing environment", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	dbCfg, err := store.LoadConfigFromEnv()
	if err != nil {
		slog.Error("failed to load database configuration", "error", err)
		os.Exit(1)
	}

	storeClient, err := store.NewClient(ctx, dbCfg)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := storeClient.Close(); err != nil {
			slog.Error("error closing database client", "error", err)
		}
	}()
	slog.Info("connected to postgres and applied migrations")

	durableLog := store.NewDurableLog(storeClient)
	snapshots := store.NewSnapshotStore(storeClient)

	auth, err := hostauth.NewIssuer(cfg.HostAuthSecret)
	if err != nil {
		slog.Error("failed to construct host credential issuer", "error", err)
		os.Exit(1)
	}

	var sender push.Sender = push.NoopSender{}
	if cfg.PushEnabled() {
		slog.Info("push notifications enabled")
		// A real Web Push sender would be constructed here from
		// cfg.VAPIDPublicKey/VAPIDPrivateKey/VAPIDSubject; none of the
		// retrieved example repos vendor a Web Push client, so NoopSender remains the
		// wired default until one is selected.
	}
	dispatcher := push.NewDispatcher(durableLog, sender, cfg.AppBaseURL, cfg.PushRateLimitPerSecond)

	dispatchCtx, cancelDispatch := context.WithCancel(ctx)
	defer cancelDispatch()
	go dispatcher.Run(dispatchCtx)

	hub := coordinator.NewHub(durableLog, snapshots, dispatcher, auth)
	defer hub.Shutdown()

	retention := cleanup.NewService(durableLog, cfg.RetentionAge, cfg.RetentionInterval)
	retention.Start(ctx)
	defer retention.Stop()

	r := router.New(durableLog, hub)

	server := api.NewServer(cfg, storeClient, r, auth, dispatcher)

	go func() {
		slog.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := server.Start(cfg.HTTPAddr); err != nil && err != http.ErrServerClosed {
			slog.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("error during http server shutdown", "error", err)
	}
}
