package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"

	"dialcast/internal/ami"
	"dialcast/internal/auth"
	"dialcast/internal/callstate"
	"dialcast/internal/campaign"
	"dialcast/internal/config"
	"dialcast/internal/dialer"
	"dialcast/internal/directory"
	"dialcast/internal/httpapi"
	"dialcast/internal/notify"
	"dialcast/pkg/logger"
	"dialcast/pkg/utils"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	campaigns := campaign.NewPostgresRepo(db)
	members := directory.NewPostgresRepo(db)

	store := callstate.NewStore()
	pending := dialer.NewPending()
	dtmf := dialer.NewDTMFBuffer()
	notifier := notify.NewRedisPublisher(rdb, log)

	super := ami.NewSupervisor(ami.Config{
		Addr:     cfg.AMIAddr(),
		Username: cfg.AMI.Username,
		Secret:   cfg.AMI.Secret,
	}, log)
	defer super.Shutdown()

	correlator := dialer.NewCorrelator(store, pending, dtmf, campaigns, members, notifier, log)
	super.AddHandler(correlator.HandleEvent)

	cli := &ami.CLI{}
	engine := dialer.NewEngine(cfg.Dialer, super, cli, store, pending, campaigns, members, notifier, rdb, log)
	scheduler := dialer.NewScheduler(engine, super, cli, store, campaigns, log)

	if !super.EnsureConnected() {
		// Not fatal: the supervisor reconnects lazily, and campaigns re-check
		// connectivity before dialing.
		log.Warn("pbx control channel not reachable at startup", "addr", cfg.AMIAddr())
	}

	go scheduler.Run(rootCtx)
	go engine.Watchdog(rootCtx, time.Minute)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, cfg, httpapi.Handlers{
		Auth:      authManager,
		Engine:    engine,
		Store:     store,
		Campaigns: campaigns,
		Super:     super,
	}, auth.RequireAccessToken(authManager))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}
