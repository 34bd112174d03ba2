// Command syncd runs the offline contact-sync daemon: it owns the durable
// store, drains the offline mutation queue against the remote contact API
// whenever connectivity allows, and exposes a small control API (status,
// manual sync, session, cached reads) for UI clients.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-contact-sync/internal/cache"
	"github.com/tbourn/go-contact-sync/internal/config"
	"github.com/tbourn/go-contact-sync/internal/connectivity"
	"github.com/tbourn/go-contact-sync/internal/domain"
	httpapi "github.com/tbourn/go-contact-sync/internal/http"
	"github.com/tbourn/go-contact-sync/internal/observability"
	"github.com/tbourn/go-contact-sync/internal/queue"
	"github.com/tbourn/go-contact-sync/internal/remote"
	"github.com/tbourn/go-contact-sync/internal/repo"
	"github.com/tbourn/go-contact-sync/internal/services"
	"github.com/tbourn/go-contact-sync/internal/sysutil"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	_ = godotenv.Load()
	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		if err := shutdownOTel(context.Background()); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open store failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate store failed")
	}

	store := repo.NewStore(db)
	store.MaxBytes = cfg.StoreMaxBytes

	q := queue.NewQueue(store)
	// Keep the pending-count gauges current on every queue mutation.
	q.OnChange = func(_ string, counts domain.PendingCounts) {
		services.PublishPendingCounts(counts)
	}

	c := cache.New(store)
	c.TTL = cfg.Cache.TTL
	c.QRTTL = cfg.Cache.QRTTL
	c.SweepAge = cfg.Cache.SweepAge

	client := remote.NewHTTPClient(cfg.Remote.BaseURL, cfg.Remote.Token, cfg.Remote.Timeout)

	monitor := connectivity.NewMonitor(client, cfg.Sync.PingInterval)

	syncSvc := services.NewSyncService(store, q, c, client, monitor.Online)
	syncSvc.RetryCeiling = cfg.Sync.RetryCeiling
	syncSvc.FlagTTL = cfg.Sync.FlagTTL
	syncSvc.ItemTimeout = cfg.Sync.ItemTimeout

	reads := services.NewReadService(c, client, monitor.Online, cfg.Cache.RefreshRPS)
	sessions := services.NewSessionService(store, c)

	drainActive := func(trigger string) {
		userID, err := sessions.Current(ctx)
		if err != nil {
			return
		}
		counts, err := q.PendingCounts(ctx, userID)
		if err != nil || counts.Total() == 0 {
			return
		}
		if _, err := syncSvc.Drain(ctx, userID); err != nil &&
			!errors.Is(err, services.ErrDrainInProgress) && !errors.Is(err, services.ErrOffline) {
			log.Error().Err(err).Str("trigger", trigger).Msg("drain failed")
		}
	}

	// Drain on every offline-to-online edge, and once at startup if a
	// backlog survived the restart.
	monitor.OnOnline(func() { go drainActive("online-edge") })
	go monitor.Run(ctx)
	go func() {
		// Give the first connectivity probe a moment before the
		// startup drain attempt.
		time.Sleep(2 * time.Second)
		drainActive("startup")
	}()
	go syncSvc.RunPeriodic(ctx, cfg.Sync.DrainInterval, sessions.Current)

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{
		Queue:    q,
		Sync:     syncSvc,
		Reads:    reads,
		Sessions: sessions,
		Online:   monitor.Online,
	}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("syncd listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
}
