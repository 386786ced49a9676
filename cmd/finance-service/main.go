package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/civicfinance_backend/conduit"
	"github.com/mmdatafocus/civicfinance_backend/config"
	"github.com/mmdatafocus/civicfinance_backend/financeapi"
	"github.com/mmdatafocus/civicfinance_backend/financesync"
	"github.com/mmdatafocus/civicfinance_backend/metrics"
	"github.com/mmdatafocus/civicfinance_backend/middlewares"
	"github.com/mmdatafocus/civicfinance_backend/models"
	"github.com/mmdatafocus/civicfinance_backend/reconciliation"
	"github.com/mmdatafocus/civicfinance_backend/utils"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

func main() {
	port := os.Getenv("FINANCE_SERVICE_PORT")
	if port == "" {
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	settings, err := config.LoadFinanceSettings()
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "config"}).Fatal(err)
	}
	api, err := financeapi.NewClient(settings, logger)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "config"}).Fatal(err)
	}

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Health checks are answered while the store is still connecting; everything else
	// gets 503 until the full router is swapped in.
	var handler atomic.Value
	handler.Store(http.Handler(bootstrapRouter()))

	srv := &http.Server{
		Addr: ":" + port,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handler.Load().(http.Handler).ServeHTTP(w, r)
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	config.ConnectDatabaseWithRetry()
	redisCtx, cancelRedis := context.WithTimeout(sigCtx, 2*time.Minute)
	config.ConnectRedisWithRetry(redisCtx)
	cancelRedis()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()

	if !utils.BoolFromEnv("SKIP_MIGRATIONS", false) {
		if err := models.MigrateTable(db); err != nil {
			logger.WithFields(logrus.Fields{"field": "migrations"}).Fatal(err)
		}
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	syncDeps := financesync.Deps{
		DB:       db,
		API:      api,
		Logger:   logger,
		Matcher:  conduit.NewMatcher(settings.ConduitOrgs),
		Settings: settings,
	}
	recDeps := reconciliation.Deps{
		DB:       db,
		API:      api,
		Logger:   logger,
		Settings: settings,
	}
	handler.Store(http.Handler(router(logger, syncDeps, recDeps)))
	logger.WithFields(logrus.Fields{"field": "server", "port": port}).Info("finance service ready")

	select {
	case <-sigCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	case err := <-serverErrCh:
		if err != nil && err != http.ErrServerClosed {
			logger.WithFields(logrus.Fields{"field": "server"}).Error(err)
		}
	}
}

func bootstrapRouter() *gin.Engine {
	r := gin.New()
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.NoRoute(func(c *gin.Context) { c.AbortWithStatus(http.StatusServiceUnavailable) })
	return r
}

func router(logger *logrus.Logger, syncDeps financesync.Deps, recDeps reconciliation.Deps) *gin.Engine {
	r := gin.New()
	r.Use(middlewares.SessionMiddleware())
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	corsConfig := cors.DefaultConfig()
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		corsConfig.AllowOrigins = utils.SplitAndTrim(allowedOrigins)
		if corsConfig.AllowOrigins == nil {
			corsConfig.AllowOrigins = []string{}
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization", middlewares.CorrelationHeader)
	corsConfig.AddExposeHeaders("Content-Length", "Content-Disposition", middlewares.CorrelationHeader)
	corsConfig.AllowCredentials = true

	r.Use(cors.New(corsConfig))
	r.Use(middlewares.AuthMiddleware())
	r.Use(middlewares.RequestLogger(logger))
	r.Use(gin.Recovery())

	api := r.Group("/api/finance")
	operator := api.Group("", middlewares.RequireOperator())
	financesync.RegisterRoutes(api, operator, syncDeps)
	reconciliation.RegisterRoutes(api, operator, recDeps)

	// Pub/Sub push endpoints for the async workers.
	r.POST("/pubsub/finance-sync", financesync.PubSubPushHandler(syncDeps))
	r.POST("/pubsub/finance-reconcile", reconciliation.PubSubPushHandler(recDeps))

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})
	return r
}
