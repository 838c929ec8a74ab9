package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/GPTHub/internal/assistant"
	"github.com/router-for-me/GPTHub/internal/attachments"
	"github.com/router-for-me/GPTHub/internal/chat"
	"github.com/router-for-me/GPTHub/internal/config"
	"github.com/router-for-me/GPTHub/internal/db"
	"github.com/router-for-me/GPTHub/internal/gpts"
	"github.com/router-for-me/GPTHub/internal/http/api/admin"
	"github.com/router-for-me/GPTHub/internal/http/api/front"
	"github.com/router-for-me/GPTHub/internal/http/middleware"
	"github.com/router-for-me/GPTHub/internal/ratelimit"
	"github.com/router-for-me/GPTHub/internal/threads"
	"github.com/router-for-me/GPTHub/internal/watcher"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// shutdownTimeout bounds graceful shutdown of in-flight requests.
const shutdownTimeout = 15 * time.Second

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	return db.Migrate(conn.WithContext(ctx))
}

// Services holds the wired domain services behind the HTTP API.
type Services struct {
	Registry *gpts.Registry
	Threads  *threads.Manager
	Files    *attachments.Manager
	Chat     *chat.Engine
	Limiter  *ratelimit.Manager
}

// NewServices wires the domain services on top of the upstream client.
func NewServices(conn *gorm.DB, client assistant.Client, runCfg config.RunConfig, limiter *ratelimit.Manager) Services {
	registry := gpts.NewRegistry(conn, client)
	threadMgr := threads.NewManager(conn, client, threads.WithSeedInstructions(runCfg.SeedInstructions))
	files := attachments.NewManager(conn, client)
	waiter := assistant.NewWaiter(client, runCfg.PollInterval, runCfg.MaxWait)
	return Services{
		Registry: registry,
		Threads:  threadMgr,
		Files:    files,
		Chat:     chat.NewEngine(conn, client, threadMgr, files, waiter, limiter),
		Limiter:  limiter,
	}
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(conn *gorm.DB, jwtCfg config.JWTConfig, svc Services) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.RequestLogger())
	engine.Use(middleware.CORS())

	front.RegisterFrontRoutes(engine, front.Deps{
		DB:       conn,
		JWT:      jwtCfg,
		Registry: svc.Registry,
		Threads:  svc.Threads,
		Chat:     svc.Chat,
		Files:    svc.Files,
		Limiter:  svc.Limiter,
	})
	admin.RegisterAdminRoutes(engine, conn, jwtCfg, svc.Registry)
	return engine
}

// RunServer boots the hub API and blocks until ctx is cancelled or the listener fails.
func RunServer(ctx context.Context, cfg config.AppConfig, defaultPort int) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)

	serverCfg, errServer := config.LoadServerConfig(configPath, defaultPort)
	if errServer != nil {
		return errServer
	}
	configureLogging(serverCfg.Debug)

	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	jwtCfg, errJWT := config.LoadJWTConfig(configPath)
	if errJWT != nil {
		return errJWT
	}
	if jwtCfg.Secret == "" {
		return config.ErrMissingJWTSecret
	}
	openaiCfg, errOpenAI := config.LoadOpenAIConfig(configPath)
	if errOpenAI != nil {
		return errOpenAI
	}
	runCfg, errRun := config.LoadRunConfig(configPath)
	if errRun != nil {
		return errRun
	}
	rateCfg, errRate := config.LoadRateLimitConfig(configPath)
	if errRate != nil {
		return errRate
	}
	bootstrap, errBootstrap := config.LoadBootstrapAdmin(configPath)
	if errBootstrap != nil {
		return errBootstrap
	}

	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}
	defer func() {
		if sqlDB, errDB := conn.DB(); errDB == nil {
			if errClose := sqlDB.Close(); errClose != nil {
				log.Errorf("sql db close error: %v", errClose)
			}
		}
	}()
	if errAdmin := EnsureBootstrapAdmin(ctx, conn, bootstrap); errAdmin != nil {
		return errAdmin
	}

	rateWatcher := watcher.NewRateLimitWatcher(configPath, rateCfg, 0)
	rateWatcher.Start(ctx)
	defer rateWatcher.Stop()
	limiter := ratelimit.NewManager(rateWatcher.Current, nil, nil)
	defer func() {
		if errClose := limiter.Close(); errClose != nil {
			log.WithError(errClose).Warn("rate limiter close failed")
		}
	}()

	svc := NewServices(conn, assistant.NewOpenAIClient(openaiCfg), runCfg, limiter)
	if _, errPrune := svc.Registry.PruneOrphans(ctx); errPrune != nil {
		log.WithError(errPrune).Warn("orphan prune failed")
	}

	srv := &http.Server{
		Addr:              net.JoinHostPort(serverCfg.Host, strconv.Itoa(serverCfg.Port)),
		Handler:           NewRouter(conn, jwtCfg, svc),
		ReadHeaderTimeout: 10 * time.Second,
		// Sends block until the assistant run settles.
		WriteTimeout: runCfg.MaxWait + 30*time.Second,
	}
	return serve(ctx, srv)
}

// serve runs srv until ctx is done, then shuts it down gracefully.
func serve(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		log.Infof("gpthub listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case errListen := <-errCh:
		if errors.Is(errListen, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen: %w", errListen)
	case <-ctx.Done():
		log.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if errShutdown := srv.Shutdown(shutdownCtx); errShutdown != nil {
			return fmt.Errorf("shutdown: %w", errShutdown)
		}
		return nil
	}
}

func configureLogging(debug bool) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if debug {
		log.SetLevel(log.DebugLevel)
		gin.SetMode(gin.DebugMode)
		return
	}
	log.SetLevel(log.InfoLevel)
	gin.SetMode(gin.ReleaseMode)
}
