package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Aidin1998/gatekeeper/internal/config"
	"github.com/Aidin1998/gatekeeper/internal/ratelimit"
	"github.com/Aidin1998/gatekeeper/pkg/logger"
)

func main() {
	printPolicy := flag.Bool("print-policy", false, "print the effective admission policy as YAML and exit")
	flag.Parse()

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	zapLogger, err := logger.NewLogger(logLevel, os.Getenv("LOG_CONSOLE") == "true")
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	cfgMgr, err := config.Load(os.Getenv("GATEKEEPER_CONFIG"), zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to load configuration", zap.Error(err))
	}
	cfg := cfgMgr.Config()

	if *printPolicy {
		out, err := cfg.Policy.RenderYAML()
		if err != nil {
			zapLogger.Fatal("Failed to render policy", zap.Error(err))
		}
		fmt.Print(string(out))
		return
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	store := ratelimit.NewRedisStore(redisClient)

	pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	if err := store.Ping(pingCtx); err != nil {
		// The controller is fail-open: it starts degraded and recovers when
		// the store comes back.
		zapLogger.Warn("Coordination store unreachable at startup", zap.Error(err))
	}
	cancel()

	accounts := ratelimit.NewStaticAccountDirectory(loadAccounts(cfg, zapLogger))

	svc, err := ratelimit.NewService(store, accounts, cfg.Policy, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to create admission service", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	svc.Start(ctx)

	cfgMgr.Watch(func(updated *config.Config) {
		if err := svc.SetPolicy(updated.Policy); err != nil {
			zapLogger.Error("Rejected policy update from config file", zap.Error(err))
		}
	})

	router := buildRouter(cfg, svc, store, zapLogger)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	go func() {
		zapLogger.Info("Gatekeeper listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zapLogger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Graceful shutdown failed", zap.Error(err))
	}
	if err := redisClient.Close(); err != nil {
		zapLogger.Error("Closing redis client failed", zap.Error(err))
	}
}

func buildRouter(cfg *config.Config, svc *ratelimit.Service, store ratelimit.Store, zapLogger *zap.Logger) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)
	router := gin.New()
	router.Use(ginzap.Ginzap(zapLogger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(zapLogger, true))

	router.GET("/healthz", func(c *gin.Context) {
		storeStatus := "up"
		if err := svc.Healthy(c.Request.Context()); err != nil {
			storeStatus = "down"
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "store": storeStatus})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	admin := router.Group("/admin/ratelimit")
	admin.Use(adminCORS())
	ratelimit.NewAdminAPI(svc, zapLogger).RegisterRoutes(admin)

	// Example protected routes. A real deployment mounts the middleware in
	// its own service behind its auth layer.
	api := router.Group("/api/v1")
	api.Use(identityFromHeader())
	api.Use(ratelimit.Middleware(svc))
	api.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	api.POST("/auth/login", func(c *gin.Context) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "demo endpoint, authentication lives upstream"})
	})

	return router
}

func adminCORS() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PUT"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	})
}

// identityFromHeader stands in for the upstream auth middleware: trusted
// gateways forward the authenticated caller id in X-User-ID.
func identityFromHeader() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := c.GetHeader("X-User-ID"); id != "" {
			c.Set(ratelimit.ContextUserIDKey, id)
		}
		c.Next()
	}
}

func loadAccounts(cfg *config.Config, zapLogger *zap.Logger) map[string]time.Time {
	accounts := make(map[string]time.Time, len(cfg.Accounts))
	for identity, createdAt := range cfg.Accounts {
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			zapLogger.Warn("Skipping account with invalid created_at",
				zap.String("identity", identity), zap.String("created_at", createdAt))
			continue
		}
		accounts[identity] = t
	}
	return accounts
}
