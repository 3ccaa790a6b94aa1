// Command gateway boots the multi-tenant WhatsApp Web Session Lifecycle
// Engine: it wires persistence, the whatsmeow device store, the Session
// Supervisor and the HTTP shell, then serves until an interrupt signal
// triggers a graceful shutdown.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.mau.fi/whatsmeow/store/sqlstore"

	"github.com/fahrizalm14/wasap-gateway/internal/config"
	"github.com/fahrizalm14/wasap-gateway/internal/credentials"
	"github.com/fahrizalm14/wasap-gateway/internal/database"
	"github.com/fahrizalm14/wasap-gateway/internal/eventbus"
	"github.com/fahrizalm14/wasap-gateway/internal/httpapi"
	"github.com/fahrizalm14/wasap-gateway/internal/lock"
	"github.com/fahrizalm14/wasap-gateway/internal/registry"
	"github.com/fahrizalm14/wasap-gateway/internal/supervisor"
	"github.com/fahrizalm14/wasap-gateway/internal/upstream"
	"github.com/fahrizalm14/wasap-gateway/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	log.Info("starting wasap-gateway")

	conn, err := database.NewConnection(cfg)
	if err != nil {
		log.Error("failed to connect to database", err)
		os.Exit(1)
	}
	defer conn.Close()

	if err := database.RunMigrations(conn.DB); err != nil {
		log.Error("failed to run migrations", err)
		os.Exit(1)
	}

	ctx := context.Background()

	container, err := sqlstore.New(ctx, "postgres", cfg.Database.URL, nil)
	if err != nil {
		log.Error("failed to open whatsmeow device store", err)
		os.Exit(1)
	}
	if err := container.Upgrade(ctx); err != nil {
		log.Error("failed to upgrade whatsmeow device store", err)
		os.Exit(1)
	}

	reg := registry.New(conn.DB)
	credStore := credentials.New(conn.DB)
	lockMgr := lock.New(conn.DB)
	bus := eventbus.New()
	upstreamAdapter := upstream.New(container)
	log.Info("whatsmeow protocol version", logger.F("version", upstreamAdapter.Version()))

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "wasap-gateway"
	}
	ownerID := lock.InstanceID(hostname, os.Getpid())
	log.Info("this instance owns locks as", logger.F("ownerId", ownerID))

	sup := supervisor.New(conn.DB, reg, credStore, lockMgr, bus, upstreamAdapter, cfg.Engine, log, ownerID)

	readiness := &httpapi.Readiness{}
	router := httpapi.New(httpapi.RouterConfig{
		APIPrefix: cfg.Server.APIPrefix,
		SecretKey: cfg.Engine.SecretKey,
	}, sup, reg, bus, conn.SqlDB, readiness, log)

	srv := &http.Server{
		Addr:    cfg.GetServerAddress(),
		Handler: router.Engine(),
	}

	go func() {
		log.Info("warming sessions with stored credentials")
		result, err := sup.WarmSessions(ctx)
		if err != nil {
			log.Error("warm-up failed", err)
		} else {
			log.Info("warm-up complete",
				logger.F("total", result.Total),
				logger.F("attempted", result.Attempted),
				logger.F("connected", result.Connected),
				logger.F("failed", result.Failed),
			)
		}
		readiness.MarkReady()
	}()

	go func() {
		log.Info("listening", logger.F("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server stopped unexpectedly", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	sup.Stop()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", err)
	}

	log.Info("shutdown complete")
}
