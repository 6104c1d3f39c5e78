package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/99designs/gqlgen/graphql/handler"
	"github.com/99designs/gqlgen/graphql/handler/extension"
	"github.com/99designs/gqlgen/graphql/handler/transport"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/closing_backend/config"
	"github.com/mmdatafocus/closing_backend/graph"
	"github.com/mmdatafocus/closing_backend/middlewares"
	"github.com/mmdatafocus/closing_backend/models"
	"github.com/mmdatafocus/closing_backend/utils"
	"github.com/mmdatafocus/closing_backend/workflow"
	"github.com/ravilushqa/otelgqlgen"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	defaultPort = "8080"
	apqPrefix   = "apq:"
	apqTTL      = 24 * time.Hour
)

// Cache stores automatic persisted queries in Redis. Without Redis every lookup misses and the
// client resends the full query.
type Cache struct {
	client func() *redis.Client
	ttl    time.Duration
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{client: config.GetRedisDB, ttl: ttl}
}

func (c *Cache) Add(ctx context.Context, key string, value interface{}) {
	if client := c.client(); client != nil {
		client.Set(ctx, apqPrefix+key, value, c.ttl)
	}
}

func (c *Cache) Get(ctx context.Context, key string) (interface{}, bool) {
	client := c.client()
	if client == nil {
		return struct{}{}, false
	}
	s, err := client.Get(ctx, apqPrefix+key).Result()
	if err != nil {
		return struct{}{}, false
	}
	return s, true
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

// readinessGate answers /healthz unconditionally and 503s everything else until ready reports true.
// Redis is optional: without it sessions are unavailable and locks fall back to in-process.
func readinessGate(ready func() bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if !ready() || config.GetDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	}
}

func corsConfig() cors.Config {
	corsConfig := cors.DefaultConfig()
	// In production, require explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if config.IsProduction() {
		if allowedOrigins == "" {
			// cors rejects an empty allowlist; deny every origin instead
			corsConfig.AllowOriginFunc = func(string) bool { return false }
		} else {
			corsConfig.AllowOrigins = utils.SplitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization", middlewares.CorrelationHeader)
	corsConfig.AddExposeHeaders("Content-Length", "Retry-After", middlewares.CorrelationHeader)
	corsConfig.AllowCredentials = !corsConfig.AllowAllOrigins
	return corsConfig
}

// newRouter builds the complete HTTP surface around rec. rec must not be touched by requests
// before ready returns true.
func newRouter(rec *workflow.Reconciler, ready func() bool, logger *logrus.Logger) *gin.Engine {
	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware())
	r.Use(readinessGate(ready))
	r.Use(cors.New(corsConfig()))

	// Env: RATE_LIMIT_ENABLED=true, RATE_LIMIT_WINDOW_SECONDS, RATE_LIMIT_MAX_REQUESTS
	if limiter := middlewares.RateLimiterFromEnv(); limiter != nil {
		r.Use(limiter.RateLimitMiddleware)
	}

	r.Use(middlewares.SessionMiddleware())
	r.Use(middlewares.AuthMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	r.POST("/query", middlewares.RequireUser(), middlewares.LoaderMiddleware(), graphqlHandler(rec))

	// extract files stay on REST
	closings := r.Group("/closings", middlewares.RequireUser())
	closings.POST("/:date/extract", uploadExtractHandler(rec))
	closings.GET("/:date/extract", archivedExtractHandler())

	r.NoRoute(customNotFoundHandler)
	return r
}

// graphqlHandler serves reads and resolutions. Mutations run through the same Reconciler as uploads.
func graphqlHandler(rec *workflow.Reconciler) gin.HandlerFunc {
	h := handler.New(graph.NewExecutableSchema(&graph.Resolver{Reconciler: rec}))
	h.AddTransport(transport.POST{})
	h.SetErrorPresenter(graph.ErrorPresenter)
	h.Use(otelgqlgen.Middleware())
	h.Use(extension.AutomaticPersistedQuery{Cache: NewCache(apqTTL)})
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}
	if config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	logger := config.GetLogger()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// The reconciler is built once the database is connected; until then the readiness gate answers 503.
	var rec workflow.Reconciler
	var ready atomic.Bool
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           newRouter(&rec, ready.Load, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	if config.RedisConfigured() {
		config.ConnectRedisWithRetry()
	} else {
		logger.WithFields(logrus.Fields{"field": "redis"}).Warn("REDIS_ADDRESS not set; sessions disabled and ingest locks are process-local")
	}

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can run DDL that blocks tables; allow running it as a separate job instead.
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}
	rec = *workflow.NewReconciler()
	ready.Store(true)

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("closing console listening on port ", port)
	log.Println("Server started successfully")

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			logger.WithFields(logrus.Fields{
				"path":           c.FullPath(),
				"status":         c.Writer.Status(),
				"correlation_id": utils.CorrelationIdFromContextOrNew(c.Request.Context()),
			}).Error(c.Errors.String())
		}
	}
}
