package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/openviewer/gridman/internal/config"
	"github.com/openviewer/gridman/internal/fetcher"
	"github.com/openviewer/gridman/internal/grid"
	"github.com/openviewer/gridman/internal/httpserver"
	"github.com/openviewer/gridman/internal/httpserver/deps"
	"github.com/openviewer/gridman/internal/logger"
	"github.com/openviewer/gridman/internal/redis"
	"github.com/openviewer/gridman/internal/registry"
	"github.com/openviewer/gridman/internal/scheduler"
	"github.com/openviewer/gridman/internal/selector"
	"github.com/openviewer/gridman/internal/settings"
	"github.com/openviewer/gridman/internal/store/rediscache"
	"github.com/openviewer/gridman/internal/version"
)

type App struct {
	cfg         *config.Config
	logger      logger.Logger
	server      *httpserver.Server
	redisClient *goredis.Client
	registry    *registry.Registry
	selector    *selector.Selector
	revalidator *scheduler.Revalidator
}

// logNotifier routes resolution notices to the log. A viewer embedding
// this subsystem would surface them on the login screen instead.
type logNotifier struct {
	logger logger.Logger
}

func (n logNotifier) Notify(gridKey, reason string) {
	n.logger.Warn("grid notice",
		logger.String("grid", gridKey),
		logger.String("reason", reason))
}

func New() *App {
	cfg := config.Load()

	loggerClient := logger.New(cfg.LogLevel, cfg.PrettyLog)
	loggerClient.Info("configuration loaded", logger.String("config", cfg.Describe()))

	// Redis is an optional cache layer; the subsystem is fully
	// functional from files alone.
	var redisClient *goredis.Client
	var cache *rediscache.Store
	if cfg.RedisAddr != "" {
		client, err := redis.New(redis.ConnectOptions{
			Addr:           cfg.RedisAddr,
			User:           cfg.RedisUser,
			Password:       cfg.RedisPassword,
			RedisDB:        cfg.RedisDB,
			DialTimeout:    cfg.RedisDT,
			ReadTimeout:    cfg.RedisRT,
			WriteTimeout:   cfg.RedisWT,
			PoolSize:       cfg.RedisPoolSize,
			ConnectTimeout: cfg.RedisConnectTimeout,
			RetryInterval:  cfg.RedisRetryInterval,
			MaxWait:        cfg.RedisMaxWait,
			PingTimeout:    cfg.RedisPingTimeout,
			WarnThreshold:  cfg.RedisWarnThreshold,
		}, loggerClient)
		if err != nil {
			loggerClient.Warn("continuing without record cache", logger.Error(err))
		} else {
			redisClient = client
			cache = rediscache.NewStore(client)
		}
	} else {
		loggerClient.Info("redis not configured, record cache disabled")
	}

	var settingsStore settings.Store
	if cfg.SettingsFile != "" {
		fs, err := settings.NewFileStore(cfg.SettingsFile)
		if err != nil {
			loggerClient.Errorf("failed to open settings file: %v", err)
			os.Exit(1)
		}
		settingsStore = fs
	} else {
		settingsStore = settings.NewMemory()
	}

	reg := registry.New(loggerClient)

	f := fetcher.New(
		&http.Client{},
		logNotifier{logger: loggerClient},
		loggerClient,
		cfg.FetchTimeout,
	)

	sel := selector.New(reg, f, settingsStore, selector.Overrides{
		GridChoice:       cfg.GridChoice,
		LoginURI:         cfg.LoginURI,
		LoginPage:        cfg.LoginPage,
		HelperURI:        cfg.HelperURI,
		UpdateServiceURL: cfg.UpdateServiceURL,
	}, cfg.UserGridFile, loggerClient)

	if cache != nil {
		sel.CacheWrite = func(rec *grid.Record) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := cache.SaveRecord(ctx, rec); err != nil {
				loggerClient.Warn("failed to cache resolved grid", logger.Error(err))
			}
		}
		sel.CacheDelete = func(key string) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := cache.DeleteRecord(ctx, key); err != nil {
				loggerClient.Warn("failed to evict removed grid from cache", logger.Error(err))
			}
		}
	}

	if err := sel.Bootstrap(context.Background(), cfg.FallbackGridFile); err != nil {
		loggerClient.Errorf("failed to bootstrap grid registry: %v", err)
		os.Exit(1)
	}

	if cache != nil {
		syncer := scheduler.NewCacheSyncer(cache, reg, loggerClient)
		if err := syncer.Sync(context.Background()); err != nil {
			loggerClient.Warn("failed to sync grid records from redis",
				logger.Error(err))
		}
	}

	reloadTrigger := make(chan struct{}, 1)
	revalidator := scheduler.NewRevalidator(
		reg,
		sel,
		loggerClient,
		cfg.RevalidateInterval,
		reloadTrigger,
	)
	if cache != nil {
		revalidator.CacheMirror = func(ctx context.Context, records []*grid.Record) {
			ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			if err := cache.SaveRecordsMany(ctx, records); err != nil {
				loggerClient.Warn("failed to mirror grid records to cache", logger.Error(err))
			}
		}
	}

	d := deps.Deps{
		Logger:        loggerClient,
		StartTime:     time.Now(),
		Version:       version.Version,
		Commit:        version.Commit,
		BuildDate:     version.BuildDate,
		GoVersion:     version.GoVersion,
		TimeNow:       time.Now,
		AllowedHosts:  cfg.AllowedHosts,
		AllowedCIDRS:  cfg.AllowedCIDRS,
		TrustProxy:    cfg.TrustProxy,
		RedisClient:   redisClient,
		Registry:      reg,
		Selector:      sel,
		ReloadTrigger: reloadTrigger,
	}

	server := httpserver.New(cfg, loggerClient, d)

	return &App{
		cfg:         cfg,
		logger:      loggerClient,
		server:      server,
		redisClient: redisClient,
		registry:    reg,
		selector:    sel,
		revalidator: revalidator,
	}
}

func (a *App) Run() error {
	a.logger.Infof("Starting gridman v%s on %s", version.Version, a.cfg.ListenPort)
	a.logger.Infof("gridman %s (commit=%s, built=%s, go=%s)",
		version.Version, version.Commit, version.BuildDate, version.GoVersion)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.revalidator.Start(ctx)
	a.logger.Info("grid revalidator started",
		logger.Duration("interval", a.cfg.RevalidateInterval))

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.Start(); err != nil {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutting down gracefully...")
	case err := <-errCh:
		return err
	}

	a.revalidator.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := a.server.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warnf("failed to close redis: %v", err)
		} else {
			a.logger.Info("redis closed cleanly")
		}
	}

	a.logger.Info("gridman stopped cleanly")
	return nil
}
