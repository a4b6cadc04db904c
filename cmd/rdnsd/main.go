package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rdnslabs/rdns/internal/address"
	"github.com/rdnslabs/rdns/internal/api"
	"github.com/rdnslabs/rdns/internal/zone"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("rdnsd exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	// ── Configuration ────────────────────────────────────────────────────────
	viper.SetConfigName("rdnsd")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.port", 9333)
	viper.SetDefault("server.cors_origins", []string{"*"})
	viper.SetDefault("server.rate_limit_rps", 50)
	viper.SetDefault("zone.root_domain", "lb.rancher.cloud")
	viper.SetDefault("zone.ttl", "240h")
	viper.SetDefault("zone.name_length", zone.DefaultNameLength)
	viper.SetDefault("reaper.interval", "30s")
	viper.SetDefault("database.url", "")

	if err := viper.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgNotFound) {
			return fmt.Errorf("read config: %w", err)
		}
		logger.Warn("no config file found, using defaults and env vars")
	}

	rootDomain := viper.GetString("zone.root_domain")
	if rootDomain == "" {
		return errors.New("zone.root_domain must be set")
	}

	ttl, err := time.ParseDuration(viper.GetString("zone.ttl"))
	if err != nil {
		return fmt.Errorf("parse zone.ttl: %w", err)
	}
	sweepInterval, err := time.ParseDuration(viper.GetString("reaper.interval"))
	if err != nil {
		return fmt.Errorf("parse reaper.interval: %w", err)
	}

	// ── Persistence ──────────────────────────────────────────────────────────
	// Without database.url the store runs memory-only; zones do not survive a
	// restart, but every API behavior is identical.
	var persist zone.Persister = zone.NopPersister{}
	if dbURL := viper.GetString("database.url"); dbURL != "" {
		db, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer db.Close()

		if err := db.Ping(context.Background()); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		logger.Info("connected to postgres")
		persist = zone.NewPostgresPersister(db)
	} else {
		logger.Warn("no database.url configured, zones are held in memory only")
	}

	// ── Zone store ───────────────────────────────────────────────────────────
	store := zone.NewStore(zone.Config{
		RootDomain: rootDomain,
		TTL:        ttl,
		NameLength: viper.GetInt("zone.name_length"),
	}, persist, logger)

	if err := store.Load(context.Background()); err != nil {
		return fmt.Errorf("load zones: %w", err)
	}
	logger.Info("zone store ready",
		zap.String("root_domain", rootDomain),
		zap.Duration("ttl", ttl),
		zap.Int("zones", store.Len()),
	)

	// ── HTTP Router ───────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	corsOrigins := viper.GetStringSlice("server.cors_origins")
	router.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: !containsWildcard(corsOrigins),
		MaxAge:           12 * time.Hour,
	}))

	router.Use(api.SecurityHeaders())
	router.Use(api.BodyLimit(1 << 20))
	if rps := viper.GetInt("server.rate_limit_rps"); rps > 0 {
		router.Use(api.RateLimit(rps, rps*2))
	}
	router.Use(api.RequestLogger(logger))
	router.Use(api.PrometheusMiddleware())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "zones": store.Len()})
	})
	router.GET("/metrics", api.MetricsHandler())

	handler := api.NewDomainHandler(store, address.NewResolver(rootDomain), logger)
	handler.Register(router)

	// ── Background: evict expired zones ──────────────────────────────────────
	reaperCtx, stopReaper := context.WithCancel(context.Background())
	defer stopReaper()
	go zone.NewReaper(store, sweepInterval, logger).Run(reaperCtx)

	// ── Serve ─────────────────────────────────────────────────────────────────
	httpPort := viper.GetInt("server.port")
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", httpPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("rdnsd HTTP listening", zap.Int("port", httpPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP listen error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ──────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down rdnsd...")
	stopReaper()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}

	logger.Info("rdnsd stopped")
	return nil
}

// containsWildcard returns true if origins includes "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}
