package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	apirest "github.com/kasuganosora/combatcore/api/rest"
	"github.com/kasuganosora/combatcore/api/sse"
	"github.com/kasuganosora/combatcore/audit"
	"github.com/kasuganosora/combatcore/cache"
	"github.com/kasuganosora/combatcore/config"
	dbadapter "github.com/kasuganosora/combatcore/db"
	"github.com/kasuganosora/combatcore/game/catalog"
	"github.com/kasuganosora/combatcore/game/charlock"
	"github.com/kasuganosora/combatcore/game/combat"
	"github.com/kasuganosora/combatcore/game/effect"
	"github.com/kasuganosora/combatcore/game/stats"
	mw "github.com/kasuganosora/combatcore/middleware"
	"github.com/kasuganosora/combatcore/model"
	"github.com/kasuganosora/combatcore/scheduler"
	"github.com/kasuganosora/combatcore/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

func main() {
	cfgPath := "config/config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- Logger ----
	var logger *zap.Logger
	var logErr error
	if cfg.Server.Debug {
		logger, logErr = zap.NewDevelopment()
	} else {
		logger, logErr = zap.NewProduction()
	}
	if logErr != nil {
		log.Fatalf("logger: %v", logErr)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if cfg.Server.AdminKey == "" {
		logger.Warn("server.admin_key is not set; admin endpoints are disabled")
	}
	if cfg.Security.JWTSecret == "" {
		return errors.New("security.jwt_secret must be set")
	}

	// ---- Database ----
	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	if err := model.AutoMigrate(db); err != nil {
		return fmt.Errorf("db migrate: %w", err)
	}
	st := store.New(db)
	logger.Info("DB initialized", zap.String("mode", cfg.Database.Mode))

	// ---- Cache / PubSub ----
	c, err := cache.NewCache(cfg.Cache)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	pubsub, err := cache.NewPubSub(cfg.Cache)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}
	logger.Info("Cache initialized", zap.Bool("redis", cfg.Cache.RedisAddr != ""))

	// ---- Effect catalog ----
	cat, err := loadCatalog(ctx, cfg.Effects, db, st)
	if err != nil {
		return err
	}
	if cat.Len() == 0 {
		logger.Warn("effect catalog is empty")
	}
	logger.Info("effect catalog loaded", zap.Any("stats", cat.Stats()))

	// ---- Audit ----
	auditSvc := audit.New(db, logger)
	defer auditSvc.Stop(context.Background())

	// ---- Game services ----
	locks := &charlock.Set{}
	events := effect.NewPubSubNotifier(pubsub, cfg.Effects.EventChannel)
	history := effect.NewHistoryNotifier(c, cfg.Effects.EventChannel, cfg.Effects.HistoryLen)
	engine := effect.NewEngine(cat, st, logger,
		effect.WithLocks(locks),
		effect.WithCharacterCheck(st),
		effect.WithNotifier(effect.Notifiers{events, history}),
	)
	combatSvc := combat.NewService(st, locks, engine, logger)
	resolver := stats.NewResolver(st, engine)
	sweeper := effect.NewSweeper(engine, c, effect.SweeperConfig{
		Rate:     cfg.Effects.SweepRate,
		Burst:    cfg.Effects.SweepBurst,
		LeaseTTL: cfg.Effects.SweepLeaseTTL,
	}, logger)

	// ---- Periodic Scheduler Tasks ----
	sched := scheduler.New(logger)
	defer sched.Stop()
	if cfg.Effects.SweepInterval > 0 {
		sched.AddTicker("effect_sweep", cfg.Effects.SweepInterval, sweeper.Tick)
	}
	if cfg.Effects.PurgeInterval > 0 {
		sched.AddTicker("effect_purge", cfg.Effects.PurgeInterval, func(ctx context.Context) {
			n, err := st.PurgeInactiveEffects(ctx)
			if err != nil {
				logger.Warn("effect purge failed", zap.Error(err))
				return
			}
			if n > 0 {
				logger.Info("purged inactive effects", zap.Int64("rows", n))
			}
		})
	}

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger), mw.Recovery(logger))

	// Health check
	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	routes := apirest.Routes{
		Characters: apirest.NewCharacterHandler(combatSvc, auditSvc),
		Effects:    apirest.NewEffectHandler(engine, resolver, history, auditSvc),
		Admin: apirest.NewAdminHandler(apirest.AdminDeps{
			Catalog:  cat,
			Sweeper:  sweeper,
			Sched:    sched,
			Purger:   st,
			Cache:    c,
			Security: cfg.Security,
			Audit:    auditSvc,
		}, logger),
	}
	routes.Register(r.Group("/api"),
		[]gin.HandlerFunc{
			mw.Auth(cfg.Security, c),
			mw.RateLimit(rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst),
		},
		[]gin.HandlerFunc{
			mw.IPWhitelist(cfg.Server.AdminIPs),
			mw.AdminAuth(cfg.Server.AdminKey),
		},
	)

	// ---- SSE ----
	sseH := sse.NewHandler(pubsub, events, c, cfg.Security, logger)
	r.GET("/sse", sseH.ServeSSE)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv.RegisterOnShutdown(sseH.Close)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// loadCatalog reads the catalog file when one is configured and mirrors it
// into the effect_definitions table; otherwise the table is the source.
func loadCatalog(ctx context.Context, cfg config.EffectsConfig, db *gorm.DB, st *store.Gorm) (*catalog.Catalog, error) {
	if cfg.CatalogPath == "" {
		cat, err := catalog.LoadDB(db)
		if err != nil {
			return nil, err
		}
		return cat, nil
	}
	cat, err := catalog.LoadFile(cfg.CatalogPath)
	if err != nil {
		return nil, err
	}
	if err := st.SaveDefinitions(ctx, cat.All()); err != nil {
		return nil, fmt.Errorf("catalog: seed definitions: %w", err)
	}
	return cat, nil
}
