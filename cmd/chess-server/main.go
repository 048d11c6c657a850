package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/park285/cheese-live/internal/archive"
	"github.com/park285/cheese-live/internal/broadcast"
	appcfg "github.com/park285/cheese-live/internal/config"
	"github.com/park285/cheese-live/internal/httpapi"
	"github.com/park285/cheese-live/internal/identity"
	"github.com/park285/cheese-live/internal/obslog"
	"github.com/park285/cheese-live/internal/record"
	"github.com/park285/cheese-live/internal/redisconn"
	"github.com/park285/cheese-live/internal/session"
	"github.com/park285/cheese-live/internal/sweeper"
	"github.com/park285/cheese-live/internal/waitq"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()
	lg := obslog.L()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := redisconn.Open(ctx, cfg.RedisURL)
	if err != nil {
		lg.Fatal("redis_init_error", zap.Error(err))
	}
	defer rdb.Close()

	store := record.NewStore(rdb, record.WithTimeControl(cfg.TimeControl))
	if cfg.DatabaseURL != "" {
		repo, err := archive.NewRepository(ctx, cfg.DatabaseURL)
		if err != nil {
			lg.Fatal("archive_init_error", zap.Error(err))
		}
		defer repo.Close()
		store.AttachArchive(repo)
	}

	queue := waitq.New(rdb, cfg.QueueKey)
	svc := session.NewService(queue, store, broadcast.NewBus(rdb), session.WithAutoMatch(cfg.AutoMatch))

	sw, err := sweeper.New(svc, cfg.TimeoutSweepInterval)
	if err != nil {
		lg.Fatal("sweeper_init_error", zap.Error(err))
	}
	sw.Start()

	auth, err := buildAuthenticator(cfg)
	if err != nil {
		lg.Fatal("identity_init_error", zap.Error(err))
	}

	gin.SetMode(cfg.GinMode)
	router := httpapi.NewRouter(ctx, httpapi.Deps{
		Service:        svc,
		Store:          store,
		Queue:          queue,
		Redis:          rdb,
		Auth:           auth,
		WSPath:         cfg.WSPath,
		AllowedOrigins: cfg.AllowedOrigins,
		ReadLimit:      cfg.ReadLimit,
	})
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		lg.Info("server_start",
			zap.String("addr", cfg.ListenAddr),
			zap.String("ws_path", cfg.WSPath),
			zap.Duration("time_control", cfg.TimeControl),
			zap.Bool("auto_match", cfg.AutoMatch),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Error("server_error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	lg.Info("server_shutdown")

	// ctx is already done here, which also ends running sessions and lets
	// their cleanup abandon games
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		lg.Warn("server_shutdown_error", zap.Error(err))
	}
	if err := router.Drain(sctx); err != nil {
		lg.Warn("session_drain_error", zap.Error(err))
	}
	if err := sw.Stop(); err != nil {
		lg.Warn("sweeper_stop_error", zap.Error(err))
	}
}

func buildAuthenticator(cfg *appcfg.AppConfig) (identity.Authenticator, error) {
	var auth identity.Authenticator = identity.Anonymous{}
	if cfg.JWTSecret != "" {
		j, err := identity.NewJWTAuthenticator(cfg.JWTSecret, 24*time.Hour)
		if err != nil {
			return nil, err
		}
		auth = j
	}
	if cfg.IdentityURL != "" {
		auth = identity.Checked{
			Next:      auth,
			Directory: identity.NewDirectory(cfg.IdentityURL, identity.WithServiceToken(os.Getenv("IDENTITY_TOKEN"))),
		}
	}
	return auth, nil
}
